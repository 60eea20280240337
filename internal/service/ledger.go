package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"auctionhouse/internal/models"
	"auctionhouse/internal/repository"
)

// Ledger implements the fund primitives every other component builds on:
// deposit, reserve, spend, refund. Each mutating operation is anchored on a
// unique ledger idempotency key; a duplicate-key insert means the operation
// already applied and is reported as ErrAlreadyApplied, never as a failure.
type Ledger struct {
	Repo     repository.Repository
	Logger   *zap.Logger
	Currency string
}

// ErrAlreadyApplied signals that the idempotency key of an operation has been
// seen before, so its effects are already committed.
var ErrAlreadyApplied = errors.New("ledger operation already applied")

// SpendKey identifies one winner's settlement spend. Retrying settlement for
// the same round re-derives the same key.
func SpendKey(roundID uint64, userID string) string {
	return fmt.Sprintf("SETTLE:SPEND:%d:%s", roundID, userID)
}

// RefundKey identifies one user's full refund for one auction.
func RefundKey(auctionID uint64, userID string) string {
	return fmt.Sprintf("AUCTION:REFUND:%d:%s", auctionID, userID)
}

// ReserveKey namespaces the caller-supplied bid idempotency key.
func ReserveKey(clientKey string) string {
	return "BID:RESERVE:" + clientKey
}

func (l *Ledger) EnsureWallet(ctx context.Context, userID string) error {
	return l.Repo.EnsureWallet(ctx, userID, l.Currency)
}

// Deposit credits a user's available balance in its own transaction. Deposits
// are not client-retryable operations, so the key is freshly generated.
func (l *Ledger) Deposit(ctx context.Context, userID string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return Validation("deposit amount must be positive")
	}
	if err := l.Repo.EnsureWallet(ctx, userID, l.Currency); err != nil {
		return err
	}
	key := "DEPOSIT:" + userID + ":" + uuid.NewString()
	return l.Repo.InTx(ctx, func(tx *gorm.DB) error {
		entry := &models.LedgerEntry{
			UserID:         userID,
			Currency:       l.Currency,
			Type:           models.LedgerDeposit,
			Amount:         amount,
			Direction:      models.DirectionCredit,
			IdempotencyKey: &key,
		}
		if err := l.Repo.InsertLedgerEntryTx(ctx, tx, entry); err != nil {
			return err
		}
		return l.Repo.CreditAvailableTx(ctx, tx, userID, l.Currency, amount)
	})
}

// Reserve moves delta from available into the auction's participation, inside
// the caller's transaction. The guard on available is what keeps wallets
// non-negative; a failed guard is INSUFFICIENT_FUNDS, not an invariant breach.
func (l *Ledger) Reserve(ctx context.Context, tx *gorm.DB, userID string, auctionID, roundID uint64, delta decimal.Decimal, key string) error {
	entry := &models.LedgerEntry{
		UserID:         userID,
		Currency:       l.Currency,
		Type:           models.LedgerReserve,
		Amount:         delta,
		Direction:      models.DirectionDebit,
		AuctionID:      &auctionID,
		RoundID:        &roundID,
		IdempotencyKey: &key,
	}
	if err := l.Repo.InsertLedgerEntryTx(ctx, tx, entry); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return ErrAlreadyApplied
		}
		return err
	}
	ok, err := l.Repo.DebitAvailableGuardedTx(ctx, tx, userID, l.Currency, delta)
	if err != nil {
		return err
	}
	if !ok {
		wallet, werr := l.Repo.GetWalletTx(ctx, tx, userID, l.Currency)
		if werr != nil {
			return werr
		}
		available := decimal.Zero
		if wallet != nil {
			available = wallet.Available
		}
		return InsufficientFunds(available.String(), delta.String())
	}
	return l.Repo.CreditParticipationTx(ctx, tx, userID, auctionID, l.Currency, delta)
}

// Spend permanently consumes reserved funds at settlement time.
func (l *Ledger) Spend(ctx context.Context, tx *gorm.DB, userID string, auctionID, roundID uint64, awardID string, amount decimal.Decimal) error {
	key := SpendKey(roundID, userID)
	entry := &models.LedgerEntry{
		UserID:         userID,
		Currency:       l.Currency,
		Type:           models.LedgerSpend,
		Amount:         amount,
		Direction:      models.DirectionDebit,
		AuctionID:      &auctionID,
		RoundID:        &roundID,
		AwardID:        &awardID,
		IdempotencyKey: &key,
	}
	if err := l.Repo.InsertLedgerEntryTx(ctx, tx, entry); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return ErrAlreadyApplied
		}
		return err
	}
	ok, err := l.Repo.DebitParticipationGuardedTx(ctx, tx, userID, auctionID, l.Currency, amount)
	if err != nil {
		return err
	}
	if !ok {
		// The bid total was reserved when it was accepted, so the funds must
		// be there. Reaching this line is a bug.
		return InvariantBroken(fmt.Sprintf("spend of %s for user %s exceeds reserved participation", amount, userID))
	}
	return nil
}

// Refund releases an auction's reserved funds back to available.
func (l *Ledger) Refund(ctx context.Context, tx *gorm.DB, userID string, auctionID uint64, amount decimal.Decimal) error {
	key := RefundKey(auctionID, userID)
	entry := &models.LedgerEntry{
		UserID:         userID,
		Currency:       l.Currency,
		Type:           models.LedgerRefund,
		Amount:         amount,
		Direction:      models.DirectionCredit,
		AuctionID:      &auctionID,
		IdempotencyKey: &key,
	}
	if err := l.Repo.InsertLedgerEntryTx(ctx, tx, entry); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return ErrAlreadyApplied
		}
		return err
	}
	ok, err := l.Repo.DebitParticipationGuardedTx(ctx, tx, userID, auctionID, l.Currency, amount)
	if err != nil {
		return err
	}
	if !ok {
		return InvariantBroken(fmt.Sprintf("refund of %s for user %s exceeds reserved participation", amount, userID))
	}
	return l.Repo.CreditAvailableTx(ctx, tx, userID, l.Currency, amount)
}
