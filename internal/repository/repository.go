package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"auctionhouse/internal/models"
)

// ErrDuplicateKey is returned by inserts that collide with a unique index.
// Callers treat it as "already applied" for idempotency-keyed writes.
var ErrDuplicateKey = errors.New("duplicate key")

type ListEventsParams struct {
	AfterSeq  uint64
	AuctionID *uint64
	RoundID   *uint64
	Limit     int
}

// Repository is the storage surface of the auction engine. Methods with a Tx
// suffix must run inside a transaction started by InTx; everything else
// manages its own connection.
type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Wallets.
	EnsureWallet(ctx context.Context, userID, currency string) error
	GetWallet(ctx context.Context, userID, currency string) (*models.Wallet, error)
	GetWalletTx(ctx context.Context, tx *gorm.DB, userID, currency string) (*models.Wallet, error)
	CreditAvailableTx(ctx context.Context, tx *gorm.DB, userID, currency string, amount decimal.Decimal) error
	// DebitAvailableGuardedTx returns false when available < amount.
	DebitAvailableGuardedTx(ctx context.Context, tx *gorm.DB, userID, currency string, amount decimal.Decimal) (bool, error)

	// Participations.
	CreditParticipationTx(ctx context.Context, tx *gorm.DB, userID string, auctionID uint64, currency string, amount decimal.Decimal) error
	DebitParticipationGuardedTx(ctx context.Context, tx *gorm.DB, userID string, auctionID uint64, currency string, amount decimal.Decimal) (bool, error)
	GetParticipationTx(ctx context.Context, tx *gorm.DB, userID string, auctionID uint64, currency string) (*models.Participation, error)
	ListRefundableParticipations(ctx context.Context, auctionID uint64, currency string, afterID uint64, limit int) ([]models.Participation, error)
	SumReservedByUser(ctx context.Context, userID, currency string) (decimal.Decimal, error)

	// Ledger.
	InsertLedgerEntryTx(ctx context.Context, tx *gorm.DB, entry *models.LedgerEntry) error
	ListLedgerEntriesByUser(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error)

	// Auctions.
	InsertAuction(ctx context.Context, auction *models.Auction) error
	GetAuction(ctx context.Context, id uint64) (*models.Auction, error)
	GetAuctionTx(ctx context.Context, tx *gorm.DB, id uint64) (*models.Auction, error)
	ListAuctions(ctx context.Context, statuses []string, limit int) ([]models.Auction, error)
	// SetAuctionStatusGuarded flips status only when the auction is still in
	// one of the from statuses; false means another instance won the race.
	SetAuctionStatusGuarded(ctx context.Context, id uint64, from []string, to string) (bool, error)
	SetAuctionStatusGuardedTx(ctx context.Context, tx *gorm.DB, id uint64, from []string, to string) (bool, error)
	SetAuctionStatusTx(ctx context.Context, tx *gorm.DB, id uint64, to string) error
	SetActiveRoundTx(ctx context.Context, tx *gorm.DB, auctionID uint64, roundID *uint64) error
	FindAuctionInRefund(ctx context.Context) (*models.Auction, error)
	SaveRefundCursor(ctx context.Context, auctionID, lastParticipationID uint64) error

	// Rounds.
	InsertRoundTx(ctx context.Context, tx *gorm.DB, round *models.Round) error
	GetRound(ctx context.Context, id uint64) (*models.Round, error)
	GetRoundTx(ctx context.Context, tx *gorm.DB, id uint64) (*models.Round, error)
	// FindDueRound returns one round in the given status whose boundary time
	// (start_at for SCHEDULED, end_at for LIVE) has passed.
	FindDueRound(ctx context.Context, status string, now time.Time) (*models.Round, error)
	FindRoundByStatus(ctx context.Context, status string) (*models.Round, error)
	// SetRoundStatusGuardedTx is the claim primitive: the conditional update
	// succeeds for exactly one caller.
	SetRoundStatusGuardedTx(ctx context.Context, tx *gorm.DB, id uint64, from, to string) (bool, error)
	// ClaimDueRoundTx flips status like SetRoundStatusGuardedTx but also
	// re-checks the time boundary in the same update: start_at for SCHEDULED
	// claims, end_at for LIVE claims. An extension racing the lock therefore
	// wins cleanly.
	ClaimDueRoundTx(ctx context.Context, tx *gorm.DB, id uint64, from, to string, dueBy time.Time) (bool, error)
	SetRoundStatusGuarded(ctx context.Context, id uint64, from, to string) (bool, error)
	// ExtendRoundGuardedTx pushes end_at out only while the round is still
	// LIVE, still below maxExtensions, and still ends after now.
	ExtendRoundGuardedTx(ctx context.Context, tx *gorm.DB, id uint64, newEnd time.Time, maxExtensions int, now time.Time) (bool, error)
	BumpRoundStatsTx(ctx context.Context, tx *gorm.DB, id uint64, newBidder bool, total decimal.Decimal) error

	// Bids.
	GetBidTx(ctx context.Context, tx *gorm.DB, roundID uint64, userID string) (*models.Bid, error)
	InsertBidTx(ctx context.Context, tx *gorm.DB, bid *models.Bid) error
	// CompareAndSwapBidTotalTx updates the bid total only if it still equals
	// prevTotal; false means a concurrent writer got there first.
	CompareAndSwapBidTotalTx(ctx context.Context, tx *gorm.DB, bidID uint64, prevTotal, newTotal decimal.Decimal, at time.Time) (bool, error)
	ListTopBidsTx(ctx context.Context, tx *gorm.DB, roundID uint64, limit int) ([]models.Bid, error)
	ListTopBids(ctx context.Context, roundID uint64, limit int) ([]models.Bid, error)
	ListBidsByUser(ctx context.Context, userID string, limit int) ([]models.Bid, error)

	// Items.
	InsertItems(ctx context.Context, items []models.Item) error
	ListAvailableItemsTx(ctx context.Context, tx *gorm.DB, auctionID uint64, limit int) ([]models.Item, error)
	CountAvailableItemsTx(ctx context.Context, tx *gorm.DB, auctionID uint64) (int64, error)
	// AwardItemTx marks the item AWARDED guarded on it still being AVAILABLE.
	AwardItemTx(ctx context.Context, tx *gorm.DB, itemID uint64, userID, awardID string) (bool, error)

	// Awards.
	GetAwardTx(ctx context.Context, tx *gorm.DB, id string) (*models.Award, error)
	InsertAwardTx(ctx context.Context, tx *gorm.DB, award *models.Award) error
	ListAwardsByUser(ctx context.Context, userID string, limit int) ([]models.Award, error)

	// Outbox.
	AppendOutboxTx(ctx context.Context, tx *gorm.DB, event *models.OutboxEvent) error
	ListNewOutbox(ctx context.Context, limit int) ([]models.OutboxEvent, error)
	MarkOutboxPublished(ctx context.Context, id uint64, at time.Time) error
	ListEvents(ctx context.Context, params ListEventsParams) ([]models.OutboxEvent, error)

	// Idempotency receipts.
	InsertReceiptTx(ctx context.Context, tx *gorm.DB, receipt *models.Receipt) error
	GetReceipt(ctx context.Context, idempotencyKey string) (*models.Receipt, error)
	GetReceiptTx(ctx context.Context, tx *gorm.DB, idempotencyKey string) (*models.Receipt, error)
}
