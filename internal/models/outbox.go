package models

import (
	"time"

	"gorm.io/datatypes"
)

// OutboxEvent is written in the same transaction as the business mutation it
// describes and published asynchronously. Seq comes from the counters table
// and is strictly increasing with no gaps.
type OutboxEvent struct {
	ID  uint64 `gorm:"primaryKey;autoIncrement" json:"-"`
	Seq uint64 `gorm:"not null;uniqueIndex" json:"seq"`

	Type        string `gorm:"type:varchar(40);not null" json:"type"`
	Aggregate   string `gorm:"type:varchar(20);not null" json:"aggregate"`
	AggregateID uint64 `gorm:"not null" json:"aggregateId"`

	AuctionID *uint64 `gorm:"index" json:"auctionId,omitempty"`
	RoundID   *uint64 `gorm:"index" json:"roundId,omitempty"`

	Payload datatypes.JSON `gorm:"type:jsonb" json:"payload"`

	Status      string     `gorm:"type:varchar(20);not null;default:'NEW';index:idx_outbox_status_seq,priority:1" json:"-"`
	CreatedAt   time.Time  `gorm:"type:timestamptz;autoCreateTime" json:"createdAt"`
	PublishedAt *time.Time `gorm:"type:timestamptz" json:"-"`
}

func (OutboxEvent) TableName() string {
	return "outbox_events"
}

// Receipt stores the exact response returned for one idempotency key so a
// replayed bid request can be answered byte-identically without re-applying
// effects.
type Receipt struct {
	ID             uint64         `gorm:"primaryKey;autoIncrement"`
	IdempotencyKey string         `gorm:"type:varchar(160);not null;uniqueIndex"`
	UserID         string         `gorm:"type:varchar(64);not null"`
	RoundID        uint64         `gorm:"not null"`
	Response       datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt      time.Time      `gorm:"type:timestamptz;autoCreateTime"`
}

func (Receipt) TableName() string {
	return "idempotency_receipts"
}

// Counter is a named atomic sequence register.
type Counter struct {
	Name  string `gorm:"primaryKey;type:varchar(40)"`
	Value uint64 `gorm:"not null;default:0"`
}

func (Counter) TableName() string {
	return "counters"
}

// OutboxSeqCounter is the counter row that hands out outbox sequence numbers.
const OutboxSeqCounter = "outbox_seq"
