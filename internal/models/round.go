package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Round struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	AuctionID uint64 `gorm:"not null;uniqueIndex:uniq_round_seq,priority:1;index:idx_round_auction_status" json:"auctionId"`
	// Seq is the 1-based position of the round within its auction and never
	// changes once the row exists.
	Seq    int    `gorm:"not null;uniqueIndex:uniq_round_seq,priority:2" json:"seq"`
	Status string `gorm:"type:varchar(20);not null;default:'SCHEDULED';index:idx_round_status_end;index:idx_round_auction_status" json:"status"`

	StartAt   time.Time  `gorm:"type:timestamptz;not null" json:"startAt"`
	EndAt     time.Time  `gorm:"type:timestamptz;not null;index:idx_round_status_end" json:"endAt"`
	HardEndAt *time.Time `gorm:"type:timestamptz" json:"hardEndAt,omitempty"`

	ExtensionsCount int `gorm:"not null;default:0" json:"extensionsCount"`
	AwardCount      int `gorm:"not null;default:1" json:"awardCount"`

	MinBid        decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0" json:"minBid"`
	MinIncrement  decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0" json:"minIncrement"`
	ThresholdSec  int             `gorm:"not null;default:0" json:"thresholdSec"`
	ExtendSec     int             `gorm:"not null;default:0" json:"extendSec"`
	MaxExtensions int             `gorm:"not null;default:0" json:"maxExtensions"`

	BidsCount     int             `gorm:"not null;default:0" json:"bidsCount"`
	UniqueBidders int             `gorm:"not null;default:0" json:"uniqueBidders"`
	TopBidAmount  decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0" json:"topBidAmount"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updatedAt"`
}

func (Round) TableName() string {
	return "rounds"
}
