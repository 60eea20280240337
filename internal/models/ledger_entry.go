package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// LedgerEntry is the append-only financial journal. The sparse unique index on
// IdempotencyKey doubles as replay detection: the first write of a logical
// operation wins and any retry surfaces as a duplicate-key error.
type LedgerEntry struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID   string `gorm:"type:varchar(64);not null;index:idx_ledger_user" json:"userId"`
	Currency string `gorm:"type:varchar(10);not null" json:"currency"`

	Type      string          `gorm:"type:varchar(20);not null" json:"type"`
	Amount    decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"amount"`
	Direction string          `gorm:"type:varchar(10);not null" json:"direction"`

	AuctionID *uint64 `gorm:"index:idx_ledger_auction" json:"auctionId,omitempty"`
	RoundID   *uint64 `json:"roundId,omitempty"`
	BidID     *uint64 `json:"bidId,omitempty"`
	AwardID   *string `gorm:"type:varchar(64)" json:"awardId,omitempty"`

	IdempotencyKey *string        `gorm:"type:varchar(160);uniqueIndex" json:"idempotencyKey,omitempty"`
	Meta           datatypes.JSON `gorm:"type:jsonb" json:"meta,omitempty"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index:idx_ledger_user" json:"createdAt"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entries"
}
