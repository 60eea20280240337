package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RoundConfig is the per-auction template every round is stamped from.
type RoundConfig struct {
	DefaultAwardCount int             `gorm:"not null;default:1" json:"defaultAwardCount"`
	RoundDurationSec  int             `gorm:"not null" json:"roundDurationSec"`
	MinBid            decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0" json:"minBid"`
	MinIncrement      decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0" json:"minIncrement"`
	ThresholdSec      int             `gorm:"not null;default:0" json:"thresholdSec"`
	ExtendSec         int             `gorm:"not null;default:0" json:"extendSec"`
	MaxExtensions     int             `gorm:"not null;default:0" json:"maxExtensions"`
	// HardDeadlineSec caps the whole round, extensions included. Zero means no cap.
	HardDeadlineSec int `gorm:"not null;default:0" json:"hardDeadlineSec"`
}

type Auction struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Title  string `gorm:"type:varchar(160);not null" json:"title"`
	Status string `gorm:"type:varchar(30);not null;default:'DRAFT';index" json:"status"`

	Config RoundConfig `gorm:"embedded;embeddedPrefix:cfg_" json:"config"`

	ActiveRoundID *uint64 `gorm:"index" json:"activeRoundId,omitempty"`

	// RefundCursorID is the last participation id the refund worker has
	// processed; it makes the refund sweep resumable across restarts.
	RefundCursorID uint64 `gorm:"not null;default:0" json:"-"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updatedAt"`
}

func (Auction) TableName() string {
	return "auctions"
}

// InRefund reports whether the refund worker should be draining this auction.
func (a *Auction) InRefund() bool {
	return a.Status == AuctionCompletingRefunds || a.Status == AuctionCancelingRefunds
}
