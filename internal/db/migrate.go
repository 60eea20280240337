package db

import (
	"auctionhouse/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Auction{},
		&models.Round{},
		&models.Bid{},
		&models.Wallet{},
		&models.Participation{},
		&models.LedgerEntry{},
		&models.Item{},
		&models.Award{},
		&models.OutboxEvent{},
		&models.Receipt{},
		&models.Counter{},
	)
}
