package gormrepository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"auctionhouse/internal/models"
	"auctionhouse/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return repository.ErrDuplicateKey
	}
	return err
}

// createInSavepoint wraps an insert in a nested transaction (a savepoint when
// already inside one) so a unique violation does not abort the caller's
// transaction; Postgres otherwise rejects every statement after the failed
// insert.
func createInSavepoint(tx *gorm.DB, value any) error {
	return translate(tx.Transaction(func(inner *gorm.DB) error {
		return inner.Create(value).Error
	}))
}

// --- wallets ----------------------------------------------------------------

func (s *Store) EnsureWallet(ctx context.Context, userID, currency string) error {
	wallet := &models.Wallet{
		UserID:    userID,
		Currency:  currency,
		Available: decimal.Zero,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "currency"}},
		DoNothing: true,
	}).Create(wallet).Error
}

func (s *Store) GetWallet(ctx context.Context, userID, currency string) (*models.Wallet, error) {
	return s.getWallet(s.db.WithContext(ctx), userID, currency)
}

func (s *Store) GetWalletTx(ctx context.Context, tx *gorm.DB, userID, currency string) (*models.Wallet, error) {
	return s.getWallet(tx, userID, currency)
}

func (s *Store) getWallet(db *gorm.DB, userID, currency string) (*models.Wallet, error) {
	var wallet models.Wallet
	err := db.Where("user_id = ? AND currency = ?", userID, currency).First(&wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (s *Store) CreditAvailableTx(ctx context.Context, tx *gorm.DB, userID, currency string, amount decimal.Decimal) error {
	wallet := &models.Wallet{
		UserID:    userID,
		Currency:  currency,
		Available: amount,
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "currency"}},
		DoUpdates: clause.Assignments(map[string]any{
			"available":  gorm.Expr("wallets.available + excluded.available"),
			"version":    gorm.Expr("wallets.version + 1"),
			"updated_at": gorm.Expr("now()"),
		}),
	}).Create(wallet).Error
}

func (s *Store) DebitAvailableGuardedTx(ctx context.Context, tx *gorm.DB, userID, currency string, amount decimal.Decimal) (bool, error) {
	res := tx.Model(&models.Wallet{}).
		Where("user_id = ? AND currency = ? AND available >= ?", userID, currency, amount).
		Updates(map[string]any{
			"available": gorm.Expr("available - ?", amount),
			"version":   gorm.Expr("version + 1"),
		})
	return res.RowsAffected == 1, res.Error
}

// --- participations ---------------------------------------------------------

func (s *Store) CreditParticipationTx(ctx context.Context, tx *gorm.DB, userID string, auctionID uint64, currency string, amount decimal.Decimal) error {
	part := &models.Participation{
		UserID:    userID,
		AuctionID: auctionID,
		Currency:  currency,
		Reserved:  amount,
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "auction_id"}, {Name: "currency"}},
		DoUpdates: clause.Assignments(map[string]any{
			"reserved":   gorm.Expr("participations.reserved + excluded.reserved"),
			"version":    gorm.Expr("participations.version + 1"),
			"updated_at": gorm.Expr("now()"),
		}),
	}).Create(part).Error
}

func (s *Store) DebitParticipationGuardedTx(ctx context.Context, tx *gorm.DB, userID string, auctionID uint64, currency string, amount decimal.Decimal) (bool, error) {
	res := tx.Model(&models.Participation{}).
		Where("user_id = ? AND auction_id = ? AND currency = ? AND reserved >= ?", userID, auctionID, currency, amount).
		Updates(map[string]any{
			"reserved": gorm.Expr("reserved - ?", amount),
			"version":  gorm.Expr("version + 1"),
		})
	return res.RowsAffected == 1, res.Error
}

func (s *Store) GetParticipationTx(ctx context.Context, tx *gorm.DB, userID string, auctionID uint64, currency string) (*models.Participation, error) {
	var part models.Participation
	err := tx.Where("user_id = ? AND auction_id = ? AND currency = ?", userID, auctionID, currency).First(&part).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &part, nil
}

func (s *Store) ListRefundableParticipations(ctx context.Context, auctionID uint64, currency string, afterID uint64, limit int) ([]models.Participation, error) {
	var items []models.Participation
	err := s.db.WithContext(ctx).
		Where("auction_id = ? AND currency = ? AND reserved > 0 AND id > ?", auctionID, currency, afterID).
		Order("id asc").
		Limit(limit).
		Find(&items).Error
	return items, err
}

func (s *Store) SumReservedByUser(ctx context.Context, userID, currency string) (decimal.Decimal, error) {
	var out decimal.NullDecimal
	err := s.db.WithContext(ctx).
		Model(&models.Participation{}).
		Select("COALESCE(SUM(reserved), 0)").
		Where("user_id = ? AND currency = ?", userID, currency).
		Scan(&out).Error
	if err != nil || !out.Valid {
		return decimal.Zero, err
	}
	return out.Decimal, nil
}

// --- ledger -----------------------------------------------------------------

func (s *Store) InsertLedgerEntryTx(ctx context.Context, tx *gorm.DB, entry *models.LedgerEntry) error {
	return createInSavepoint(tx, entry)
}

func (s *Store) ListLedgerEntriesByUser(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	var items []models.LedgerEntry
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Limit(limit).
		Find(&items).Error
	return items, err
}

// --- auctions ---------------------------------------------------------------

func (s *Store) InsertAuction(ctx context.Context, auction *models.Auction) error {
	return s.db.WithContext(ctx).Create(auction).Error
}

func (s *Store) GetAuction(ctx context.Context, id uint64) (*models.Auction, error) {
	return s.getAuction(s.db.WithContext(ctx), id)
}

func (s *Store) GetAuctionTx(ctx context.Context, tx *gorm.DB, id uint64) (*models.Auction, error) {
	return s.getAuction(tx, id)
}

func (s *Store) getAuction(db *gorm.DB, id uint64) (*models.Auction, error) {
	var auction models.Auction
	err := db.First(&auction, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &auction, nil
}

func (s *Store) ListAuctions(ctx context.Context, statuses []string, limit int) ([]models.Auction, error) {
	query := s.db.WithContext(ctx).Model(&models.Auction{})
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	var items []models.Auction
	err := query.Order("updated_at desc").Limit(limit).Find(&items).Error
	return items, err
}

func (s *Store) SetAuctionStatusGuarded(ctx context.Context, id uint64, from []string, to string) (bool, error) {
	return s.SetAuctionStatusGuardedTx(ctx, s.db.WithContext(ctx), id, from, to)
}

func (s *Store) SetAuctionStatusGuardedTx(ctx context.Context, tx *gorm.DB, id uint64, from []string, to string) (bool, error) {
	res := tx.Model(&models.Auction{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)
	return res.RowsAffected == 1, res.Error
}

func (s *Store) SetAuctionStatusTx(ctx context.Context, tx *gorm.DB, id uint64, to string) error {
	return tx.Model(&models.Auction{}).Where("id = ?", id).Update("status", to).Error
}

func (s *Store) SetActiveRoundTx(ctx context.Context, tx *gorm.DB, auctionID uint64, roundID *uint64) error {
	return tx.Model(&models.Auction{}).Where("id = ?", auctionID).Update("active_round_id", roundID).Error
}

func (s *Store) FindAuctionInRefund(ctx context.Context) (*models.Auction, error) {
	var auction models.Auction
	err := s.db.WithContext(ctx).
		Where("status IN ?", []string{models.AuctionCompletingRefunds, models.AuctionCancelingRefunds}).
		Order("updated_at asc").
		First(&auction).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &auction, nil
}

func (s *Store) SaveRefundCursor(ctx context.Context, auctionID, lastParticipationID uint64) error {
	return s.db.WithContext(ctx).Model(&models.Auction{}).
		Where("id = ?", auctionID).
		Update("refund_cursor_id", lastParticipationID).Error
}

// --- rounds -----------------------------------------------------------------

func (s *Store) InsertRoundTx(ctx context.Context, tx *gorm.DB, round *models.Round) error {
	return createInSavepoint(tx, round)
}

func (s *Store) GetRound(ctx context.Context, id uint64) (*models.Round, error) {
	return s.getRound(s.db.WithContext(ctx), id)
}

func (s *Store) GetRoundTx(ctx context.Context, tx *gorm.DB, id uint64) (*models.Round, error) {
	return s.getRound(tx, id)
}

func (s *Store) getRound(db *gorm.DB, id uint64) (*models.Round, error) {
	var round models.Round
	err := db.First(&round, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &round, nil
}

func (s *Store) FindDueRound(ctx context.Context, status string, now time.Time) (*models.Round, error) {
	boundary := "end_at"
	if status == models.RoundScheduled {
		boundary = "start_at"
	}
	var round models.Round
	err := s.db.WithContext(ctx).
		Where("status = ? AND "+boundary+" <= ?", status, now).
		Order(boundary + " asc").
		First(&round).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &round, nil
}

func (s *Store) FindRoundByStatus(ctx context.Context, status string) (*models.Round, error) {
	var round models.Round
	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("end_at asc").
		First(&round).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &round, nil
}

func (s *Store) SetRoundStatusGuardedTx(ctx context.Context, tx *gorm.DB, id uint64, from, to string) (bool, error) {
	res := tx.Model(&models.Round{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	return res.RowsAffected == 1, res.Error
}

func (s *Store) SetRoundStatusGuarded(ctx context.Context, id uint64, from, to string) (bool, error) {
	return s.SetRoundStatusGuardedTx(ctx, s.db.WithContext(ctx), id, from, to)
}

func (s *Store) ClaimDueRoundTx(ctx context.Context, tx *gorm.DB, id uint64, from, to string, dueBy time.Time) (bool, error) {
	boundary := "start_at"
	if from == models.RoundLive {
		boundary = "end_at"
	}
	res := tx.Model(&models.Round{}).
		Where("id = ? AND status = ? AND "+boundary+" <= ?", id, from, dueBy).
		Update("status", to)
	return res.RowsAffected == 1, res.Error
}

func (s *Store) ExtendRoundGuardedTx(ctx context.Context, tx *gorm.DB, id uint64, newEnd time.Time, maxExtensions int, now time.Time) (bool, error) {
	res := tx.Model(&models.Round{}).
		Where("id = ? AND status = ? AND extensions_count < ? AND end_at > ? AND end_at < ?",
			id, models.RoundLive, maxExtensions, now, newEnd).
		Updates(map[string]any{
			"end_at":           newEnd,
			"extensions_count": gorm.Expr("extensions_count + 1"),
		})
	return res.RowsAffected == 1, res.Error
}

func (s *Store) BumpRoundStatsTx(ctx context.Context, tx *gorm.DB, id uint64, newBidder bool, total decimal.Decimal) error {
	bidders := 0
	if newBidder {
		bidders = 1
	}
	return tx.Model(&models.Round{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"bids_count":     gorm.Expr("bids_count + 1"),
			"unique_bidders": gorm.Expr("unique_bidders + ?", bidders),
			"top_bid_amount": gorm.Expr("GREATEST(top_bid_amount, ?)", total),
		}).Error
}

// --- bids -------------------------------------------------------------------

func (s *Store) GetBidTx(ctx context.Context, tx *gorm.DB, roundID uint64, userID string) (*models.Bid, error) {
	var bid models.Bid
	err := tx.Where("round_id = ? AND user_id = ?", roundID, userID).First(&bid).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &bid, nil
}

func (s *Store) InsertBidTx(ctx context.Context, tx *gorm.DB, bid *models.Bid) error {
	return createInSavepoint(tx, bid)
}

func (s *Store) CompareAndSwapBidTotalTx(ctx context.Context, tx *gorm.DB, bidID uint64, prevTotal, newTotal decimal.Decimal, at time.Time) (bool, error) {
	res := tx.Model(&models.Bid{}).
		Where("id = ? AND amount_total = ?", bidID, prevTotal).
		Updates(map[string]any{
			"amount_total": newTotal,
			"last_bid_at":  at,
			"version":      gorm.Expr("version + 1"),
		})
	return res.RowsAffected == 1, res.Error
}

const bidRankingOrder = "amount_total desc, last_bid_at asc, user_id asc"

func (s *Store) ListTopBidsTx(ctx context.Context, tx *gorm.DB, roundID uint64, limit int) ([]models.Bid, error) {
	var items []models.Bid
	err := tx.Where("round_id = ?", roundID).
		Order(bidRankingOrder).
		Limit(limit).
		Find(&items).Error
	return items, err
}

func (s *Store) ListTopBids(ctx context.Context, roundID uint64, limit int) ([]models.Bid, error) {
	return s.ListTopBidsTx(ctx, s.db.WithContext(ctx), roundID, limit)
}

func (s *Store) ListBidsByUser(ctx context.Context, userID string, limit int) ([]models.Bid, error) {
	var items []models.Bid
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at desc").
		Limit(limit).
		Find(&items).Error
	return items, err
}

// --- items ------------------------------------------------------------------

func (s *Store) InsertItems(ctx context.Context, items []models.Item) error {
	if len(items) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(&items).Error
}

func (s *Store) ListAvailableItemsTx(ctx context.Context, tx *gorm.DB, auctionID uint64, limit int) ([]models.Item, error) {
	var items []models.Item
	err := tx.Where("auction_id = ? AND status = ?", auctionID, models.ItemAvailable).
		Order("id asc").
		Limit(limit).
		Find(&items).Error
	return items, err
}

func (s *Store) CountAvailableItemsTx(ctx context.Context, tx *gorm.DB, auctionID uint64) (int64, error) {
	var n int64
	err := tx.Model(&models.Item{}).
		Where("auction_id = ? AND status = ?", auctionID, models.ItemAvailable).
		Count(&n).Error
	return n, err
}

func (s *Store) AwardItemTx(ctx context.Context, tx *gorm.DB, itemID uint64, userID, awardID string) (bool, error) {
	res := tx.Model(&models.Item{}).
		Where("id = ? AND status = ?", itemID, models.ItemAvailable).
		Updates(map[string]any{
			"status":             models.ItemAwarded,
			"awarded_to_user_id": userID,
			"award_id":           awardID,
		})
	return res.RowsAffected == 1, res.Error
}

// --- awards -----------------------------------------------------------------

func (s *Store) GetAwardTx(ctx context.Context, tx *gorm.DB, id string) (*models.Award, error) {
	var award models.Award
	err := tx.Where("id = ?", id).First(&award).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &award, nil
}

func (s *Store) InsertAwardTx(ctx context.Context, tx *gorm.DB, award *models.Award) error {
	return createInSavepoint(tx, award)
}

func (s *Store) ListAwardsByUser(ctx context.Context, userID string, limit int) ([]models.Award, error) {
	var items []models.Award
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Limit(limit).
		Find(&items).Error
	return items, err
}

// --- outbox -----------------------------------------------------------------

func (s *Store) nextSeqTx(tx *gorm.DB, name string) (uint64, error) {
	var value uint64
	err := tx.Raw(
		`INSERT INTO counters (name, value) VALUES (?, 1)
		 ON CONFLICT (name) DO UPDATE SET value = counters.value + 1
		 RETURNING value`, name,
	).Scan(&value).Error
	return value, err
}

func (s *Store) AppendOutboxTx(ctx context.Context, tx *gorm.DB, event *models.OutboxEvent) error {
	seq, err := s.nextSeqTx(tx, models.OutboxSeqCounter)
	if err != nil {
		return err
	}
	event.Seq = seq
	event.Status = models.OutboxNew
	return tx.Create(event).Error
}

func (s *Store) ListNewOutbox(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	var items []models.OutboxEvent
	err := s.db.WithContext(ctx).
		Where("status = ?", models.OutboxNew).
		Order("seq asc").
		Limit(limit).
		Find(&items).Error
	return items, err
}

func (s *Store) MarkOutboxPublished(ctx context.Context, id uint64, at time.Time) error {
	return s.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": models.OutboxPublished, "published_at": at}).Error
}

func (s *Store) ListEvents(ctx context.Context, params repository.ListEventsParams) ([]models.OutboxEvent, error) {
	query := s.db.WithContext(ctx).Model(&models.OutboxEvent{}).Where("seq > ?", params.AfterSeq)
	if params.AuctionID != nil {
		query = query.Where("auction_id = ?", *params.AuctionID)
	}
	if params.RoundID != nil {
		query = query.Where("round_id = ?", *params.RoundID)
	}
	limit := params.Limit
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	var items []models.OutboxEvent
	err := query.Order("seq asc").Limit(limit).Find(&items).Error
	return items, err
}

// --- receipts ---------------------------------------------------------------

func (s *Store) InsertReceiptTx(ctx context.Context, tx *gorm.DB, receipt *models.Receipt) error {
	return createInSavepoint(tx, receipt)
}

func (s *Store) GetReceipt(ctx context.Context, idempotencyKey string) (*models.Receipt, error) {
	return s.getReceipt(s.db.WithContext(ctx), idempotencyKey)
}

func (s *Store) GetReceiptTx(ctx context.Context, tx *gorm.DB, idempotencyKey string) (*models.Receipt, error) {
	return s.getReceipt(tx, idempotencyKey)
}

func (s *Store) getReceipt(db *gorm.DB, idempotencyKey string) (*models.Receipt, error) {
	var receipt models.Receipt
	err := db.Where("idempotency_key = ?", idempotencyKey).First(&receipt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}
