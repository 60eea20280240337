package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bid holds one user's cumulative reserved total for one round. The
// (round_id, user_id) unique index is what makes "one bid row per user per
// round" hold under concurrent inserts.
type Bid struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	RoundID   uint64 `gorm:"not null;uniqueIndex:uniq_bid_round_user,priority:1;index:idx_bid_ranking,priority:1" json:"roundId"`
	AuctionID uint64 `gorm:"not null;index" json:"auctionId"`
	UserID    string `gorm:"type:varchar(64);not null;uniqueIndex:uniq_bid_round_user,priority:2;index:idx_bid_user" json:"userId"`

	AmountTotal decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"amountTotal"`

	FirstBidAt time.Time `gorm:"type:timestamptz;not null" json:"firstBidAt"`
	LastBidAt  time.Time `gorm:"type:timestamptz;not null" json:"lastBidAt"`

	Version int `gorm:"not null;default:0" json:"-"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updatedAt"`
}

func (Bid) TableName() string {
	return "bids"
}
