package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet is one user's spendable balance in one currency. Available must
// never go negative; every debit is a guarded conditional update. Reserved
// funds are tracked per auction on Participation and aggregated on read.
type Wallet struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID   string `gorm:"type:varchar(64);not null;uniqueIndex:uniq_wallet_user_ccy,priority:1" json:"userId"`
	Currency string `gorm:"type:varchar(10);not null;uniqueIndex:uniq_wallet_user_ccy,priority:2" json:"currency"`

	Available decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0" json:"available"`

	Version int `gorm:"not null;default:0" json:"-"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updatedAt"`
}

func (Wallet) TableName() string {
	return "wallets"
}

// Participation tracks how much of a user's reserved balance belongs to one
// auction. A reservation survives round boundaries until it is spent by an
// award or refunded, so it cannot live on the round-scoped bid row.
type Participation struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    string `gorm:"type:varchar(64);not null;uniqueIndex:uniq_part,priority:1" json:"userId"`
	AuctionID uint64 `gorm:"not null;uniqueIndex:uniq_part,priority:2;index:idx_part_auction" json:"auctionId"`
	Currency  string `gorm:"type:varchar(10);not null;uniqueIndex:uniq_part,priority:3" json:"currency"`

	Reserved decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0" json:"reserved"`

	Version int `gorm:"not null;default:0" json:"-"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updatedAt"`
}

func (Participation) TableName() string {
	return "participations"
}
