package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Item is a lot of an auction. It is AWARDED if and only if AwardID is set;
// the transition is guarded on the row still being AVAILABLE so no item can be
// awarded twice.
type Item struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	AuctionID uint64 `gorm:"not null;index:idx_item_auction_status" json:"auctionId"`
	Name      string `gorm:"type:varchar(160);not null" json:"name"`

	Metadata datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`

	Status          string  `gorm:"type:varchar(20);not null;default:'AVAILABLE';index:idx_item_auction_status" json:"status"`
	AwardedToUserID *string `gorm:"type:varchar(64)" json:"awardedToUserId,omitempty"`
	AwardID         *string `gorm:"type:varchar(64);index" json:"awardId,omitempty"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updatedAt"`
}

func (Item) TableName() string {
	return "items"
}

// Award records one rank of one round's settlement. Its primary key is derived
// from (round, rank), which is what makes settlement retries naturally
// idempotent: re-running the same round re-derives the same ids.
type Award struct {
	ID        string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	AuctionID uint64 `gorm:"not null;index" json:"auctionId"`
	RoundID   uint64 `gorm:"not null;uniqueIndex:uniq_award_round_rank,priority:1" json:"roundId"`
	RoundSeq  int    `gorm:"not null" json:"roundSeq"`
	Rank      int    `gorm:"not null;uniqueIndex:uniq_award_round_rank,priority:2" json:"rank"`

	UserID string `gorm:"type:varchar(64);not null;index:idx_award_user" json:"userId"`
	ItemID uint64 `gorm:"not null;uniqueIndex" json:"itemId"`

	Serial      string          `gorm:"type:varchar(64);not null" json:"serial"`
	SpendAmount decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"spendAmount"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index:idx_award_user" json:"createdAt"`
}

func (Award) TableName() string {
	return "awards"
}
