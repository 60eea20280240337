package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"auctionhouse/internal/models"
	"auctionhouse/internal/repository"
)

// BidService accepts cumulative bids for live rounds. The whole acceptance
// path runs in one transaction: ledger reservation, bid row update, round
// stats, anti-snipe extension, outbox events, and the idempotency receipt all
// commit or roll back together.
type BidService struct {
	Repo   repository.Repository
	Ledger *Ledger
	Logger *zap.Logger

	// Now is injectable for tests; defaults to time.Now().UTC.
	Now func() time.Time

	// MaxTxRetries bounds retries of transient storage conflicts. Business
	// conflicts are never retried here.
	MaxTxRetries int
}

type BidResponse struct {
	Accepted    bool            `json:"accepted"`
	RoundID     uint64          `json:"roundId"`
	UserID      string          `json:"userId"`
	AmountTotal decimal.Decimal `json:"amountTotal"`
	Delta       decimal.Decimal `json:"delta"`
	EndAt       time.Time       `json:"endAt"`
	Extended    bool            `json:"extended"`
	Available   decimal.Decimal `json:"available"`
	Reserved    decimal.Decimal `json:"reserved"`
}

// errReplayed aborts the transaction when the idempotency key has been seen
// before; the caller then answers from the stored receipt.
var errReplayed = errors.New("idempotency key replayed")

// PlaceOrIncreaseBid applies a strictly increasing total bid for (round, user)
// and returns the exact response bytes to send, so a replayed request can be
// answered byte-identically.
func (s *BidService) PlaceOrIncreaseBid(ctx context.Context, roundID uint64, userID, idempotencyKey string, amountTotal decimal.Decimal) (json.RawMessage, error) {
	if s == nil || s.Repo == nil || s.Ledger == nil {
		return nil, errors.New("bid service not wired")
	}
	if strings.TrimSpace(idempotencyKey) == "" {
		return nil, Validation("idempotency key is required")
	}
	if amountTotal.Sign() <= 0 {
		return nil, Validation("amountTotal must be positive")
	}

	// Fast replay path: a receipt means the effects are already committed.
	if receipt, err := s.Repo.GetReceipt(ctx, idempotencyKey); err != nil {
		return nil, err
	} else if receipt != nil {
		return json.RawMessage(receipt.Response), nil
	}

	retries := s.MaxTxRetries
	if retries <= 0 {
		retries = 3
	}
	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		body, err := s.attempt(ctx, roundID, userID, idempotencyKey, amountTotal)
		if err == nil {
			return body, nil
		}
		if errors.Is(err, errReplayed) {
			// The ledger key collided inside the transaction. The receipt was
			// written by whoever got there first; it may not be visible for a
			// brief moment if that transaction is still committing.
			receipt, rerr := s.Repo.GetReceipt(ctx, idempotencyKey)
			if rerr != nil {
				return nil, rerr
			}
			if receipt != nil {
				return json.RawMessage(receipt.Response), nil
			}
			return nil, IdempotencyRetry()
		}
		if !isTransientTxError(err) {
			return nil, err
		}
		lastErr = err
		if s.Logger != nil {
			s.Logger.Warn("bid transaction hit transient conflict",
				zap.Uint64("round_id", roundID),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
	}
	if s.Logger != nil {
		s.Logger.Warn("bid transaction retry budget exhausted", zap.Uint64("round_id", roundID), zap.Error(lastErr))
	}
	return nil, TxRetryExhausted()
}

func (s *BidService) attempt(ctx context.Context, roundID uint64, userID, idempotencyKey string, amountTotal decimal.Decimal) (json.RawMessage, error) {
	var body json.RawMessage

	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		round, err := s.Repo.GetRoundTx(ctx, tx, roundID)
		if err != nil {
			return err
		}
		if round == nil {
			return NotFound("round not found")
		}

		now := s.now()
		// The status check alone races the scheduler's LIVE->LOCKED flip, so
		// the wall clock is compared as well.
		if round.Status != models.RoundLive || !now.Before(round.EndAt) {
			return RoundNotLive("round is not accepting bids", map[string]any{
				"status": round.Status,
				"endAt":  round.EndAt,
			})
		}
		auction, err := s.Repo.GetAuctionTx(ctx, tx, round.AuctionID)
		if err != nil {
			return err
		}
		// A cancelled auction must not accumulate new reservations the refund
		// sweep could miss.
		if auction == nil || auction.Status != models.AuctionActive {
			status := ""
			if auction != nil {
				status = auction.Status
			}
			return RoundNotLive("auction is not accepting bids", map[string]any{
				"auctionStatus": status,
			})
		}

		bid, err := s.Repo.GetBidTx(ctx, tx, roundID, userID)
		if err != nil {
			return err
		}
		prev := decimal.Zero
		if bid != nil {
			prev = bid.AmountTotal
		}

		if verr := validateBidAmount(round.MinBid, round.MinIncrement, prev, amountTotal); verr != nil {
			return verr
		}
		delta := amountTotal.Sub(prev)

		// Idempotency anchor: the reservation's ledger key is derived from the
		// caller's key and is inserted before any balance moves.
		err = s.Ledger.Reserve(ctx, tx, userID, round.AuctionID, roundID, delta, ReserveKey(idempotencyKey))
		if errors.Is(err, ErrAlreadyApplied) {
			return errReplayed
		}
		if err != nil {
			return err
		}

		newBidder := bid == nil
		if bid == nil {
			fresh := &models.Bid{
				RoundID:     roundID,
				AuctionID:   round.AuctionID,
				UserID:      userID,
				AmountTotal: amountTotal,
				FirstBidAt:  now,
				LastBidAt:   now,
			}
			if err := s.Repo.InsertBidTx(ctx, tx, fresh); err != nil {
				if !errors.Is(err, repository.ErrDuplicateKey) {
					return err
				}
				if err := s.reconcileBid(ctx, tx, roundID, userID, amountTotal); err != nil {
					return err
				}
				newBidder = false
			}
		} else {
			ok, err := s.Repo.CompareAndSwapBidTotalTx(ctx, tx, bid.ID, prev, amountTotal, now)
			if err != nil {
				return err
			}
			if !ok {
				if err := s.reconcileBid(ctx, tx, roundID, userID, amountTotal); err != nil {
					return err
				}
			}
		}

		if err := s.Repo.BumpRoundStatsTx(ctx, tx, roundID, newBidder, amountTotal); err != nil {
			return err
		}

		endAt := round.EndAt
		extended := false
		if newEnd, want := extendedEnd(round.ThresholdSec, round.ExtendSec, round.EndAt, round.HardEndAt, now); want {
			// Best effort: the guard re-checks liveness and the extension
			// budget at commit time; losing the race just means another bid
			// already pushed the end out.
			ok, err := s.Repo.ExtendRoundGuardedTx(ctx, tx, round.ID, newEnd, round.MaxExtensions, now)
			if err != nil {
				return err
			}
			if ok {
				endAt = newEnd
				extended = true
			}
		}

		if err := s.appendBidEvents(ctx, tx, round, userID, amountTotal, delta, endAt, extended); err != nil {
			return err
		}

		wallet, err := s.Repo.GetWalletTx(ctx, tx, userID, s.Ledger.Currency)
		if err != nil {
			return err
		}
		part, err := s.Repo.GetParticipationTx(ctx, tx, userID, round.AuctionID, s.Ledger.Currency)
		if err != nil {
			return err
		}
		resp := BidResponse{
			Accepted:    true,
			RoundID:     roundID,
			UserID:      userID,
			AmountTotal: amountTotal,
			Delta:       delta,
			EndAt:       endAt,
			Extended:    extended,
		}
		if wallet != nil {
			resp.Available = wallet.Available
		}
		if part != nil {
			resp.Reserved = part.Reserved
		}
		raw, err := json.Marshal(resp)
		if err != nil {
			return err
		}

		receipt := &models.Receipt{
			IdempotencyKey: idempotencyKey,
			UserID:         userID,
			RoundID:        roundID,
			Response:       raw,
		}
		if err := s.Repo.InsertReceiptTx(ctx, tx, receipt); err != nil {
			if errors.Is(err, repository.ErrDuplicateKey) {
				return errReplayed
			}
			return err
		}
		body = raw
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// reconcileBid handles a lost CAS race: if a concurrent writer already pushed
// the total to at least our target the attempt is satisfied; otherwise the two
// deltas genuinely conflict and the caller must resubmit. Deltas are never
// merged silently.
func (s *BidService) reconcileBid(ctx context.Context, tx *gorm.DB, roundID uint64, userID string, target decimal.Decimal) error {
	latest, err := s.Repo.GetBidTx(ctx, tx, roundID, userID)
	if err != nil {
		return err
	}
	if latest != nil && latest.AmountTotal.GreaterThanOrEqual(target) {
		return nil
	}
	return BidConflict()
}

func (s *BidService) appendBidEvents(ctx context.Context, tx *gorm.DB, round *models.Round, userID string, total, delta decimal.Decimal, endAt time.Time, extended bool) error {
	accepted, err := json.Marshal(map[string]any{
		"auctionId":   round.AuctionID,
		"roundId":     round.ID,
		"userId":      userID,
		"amountTotal": total,
		"delta":       delta,
	})
	if err != nil {
		return err
	}
	if err := s.Repo.AppendOutboxTx(ctx, tx, &models.OutboxEvent{
		Type:        "BID_ACCEPTED",
		Aggregate:   models.AggregateRound,
		AggregateID: round.ID,
		AuctionID:   &round.AuctionID,
		RoundID:     &round.ID,
		Payload:     accepted,
	}); err != nil {
		return err
	}
	if !extended {
		return nil
	}
	extendedPayload, err := json.Marshal(map[string]any{
		"roundId":    round.ID,
		"endAt":      endAt,
		"extensions": round.ExtensionsCount + 1,
	})
	if err != nil {
		return err
	}
	return s.Repo.AppendOutboxTx(ctx, tx, &models.OutboxEvent{
		Type:        "ROUND_EXTENDED",
		Aggregate:   models.AggregateRound,
		AggregateID: round.ID,
		AuctionID:   &round.AuctionID,
		RoundID:     &round.ID,
		Payload:     extendedPayload,
	})
}

func (s *BidService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// validateBidAmount enforces the bid floor rules in a fixed order: minimum
// bid, strictly increasing total, minimum increment. Every rejection names the
// smallest total that would succeed.
func validateBidAmount(minBid, minIncrement, prev, amount decimal.Decimal) *Error {
	if amount.LessThan(minBid) {
		return BidTooLow(ReasonMinBid, minBid.String())
	}
	if amount.LessThanOrEqual(prev) && prev.Sign() > 0 {
		return BidTooLow(ReasonNonIncreasing, prev.Add(minIncrement).String())
	}
	if amount.Sub(prev).LessThan(minIncrement) {
		return BidTooLow(ReasonMinIncrement, prev.Add(minIncrement).String())
	}
	return nil
}

// extendedEnd computes the anti-snipe extension for a bid arriving at now.
// The new end is clamped to the hard deadline; an extension that cannot move
// the end forward is skipped.
func extendedEnd(thresholdSec, extendSec int, endAt time.Time, hardEndAt *time.Time, now time.Time) (time.Time, bool) {
	if thresholdSec <= 0 || extendSec <= 0 {
		return time.Time{}, false
	}
	if endAt.Sub(now) > time.Duration(thresholdSec)*time.Second {
		return time.Time{}, false
	}
	newEnd := endAt.Add(time.Duration(extendSec) * time.Second)
	if hardEndAt != nil && newEnd.After(*hardEndAt) {
		newEnd = *hardEndAt
	}
	if !newEnd.After(endAt) {
		return time.Time{}, false
	}
	return newEnd, true
}

func isTransientTxError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "deadlock detected") ||
		strings.Contains(msg, "could not serialize") ||
		strings.Contains(msg, "sqlstate 40001") ||
		strings.Contains(msg, "sqlstate 40p01")
}
