package worker

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"auctionhouse/internal/models"
	"auctionhouse/internal/repository"
	"auctionhouse/internal/service"
)

// RefundWorker drains reserved funds back to available for auctions in a
// refund phase, one bounded batch per tick. The persisted cursor (last
// processed participation id) makes it resumable across restarts, and the
// per-user refund key makes re-visiting a participation a no-op.
type RefundWorker struct {
	Repo      repository.Repository
	Ledger    *service.Ledger
	Logger    *zap.Logger
	BatchSize int
}

func (w *RefundWorker) Tick(ctx context.Context) {
	if w == nil || w.Repo == nil {
		return
	}
	auction, err := w.Repo.FindAuctionInRefund(ctx)
	if err != nil {
		w.Logger.Warn("refund scan failed", zap.Error(err))
		return
	}
	if auction == nil {
		return
	}
	if auction.ActiveRoundID != nil {
		// A round is still between LOCKED and FINISHED. Settlement clears the
		// pointer when it is done; draining now would refund funds a pending
		// spend still needs.
		return
	}
	if err := w.drainBatch(ctx, auction); err != nil {
		w.Logger.Error("refund batch failed", zap.Uint64("auction_id", auction.ID), zap.Error(err))
	}
}

func (w *RefundWorker) drainBatch(ctx context.Context, auction *models.Auction) error {
	batch := w.BatchSize
	if batch <= 0 {
		batch = 50
	}
	parts, err := w.Repo.ListRefundableParticipations(ctx, auction.ID, w.Ledger.Currency, auction.RefundCursorID, batch)
	if err != nil {
		return err
	}
	if len(parts) == 0 {
		return w.finalize(ctx, auction)
	}
	cursor := auction.RefundCursorID
	for _, part := range parts {
		if err := w.refundOne(ctx, auction.ID, part.ID, part.UserID); err != nil {
			// Stop before advancing the cursor past the failed row so the
			// next tick retries it.
			if serr := w.Repo.SaveRefundCursor(ctx, auction.ID, cursor); serr != nil {
				w.Logger.Error("refund cursor save failed", zap.Uint64("auction_id", auction.ID), zap.Error(serr))
			}
			return err
		}
		cursor = part.ID
	}
	return w.Repo.SaveRefundCursor(ctx, auction.ID, cursor)
}

func (w *RefundWorker) refundOne(ctx context.Context, auctionID, participationID uint64, userID string) error {
	return w.Repo.InTx(ctx, func(tx *gorm.DB) error {
		part, err := w.Repo.GetParticipationTx(ctx, tx, userID, auctionID, w.Ledger.Currency)
		if err != nil {
			return err
		}
		if part == nil || part.Reserved.Sign() <= 0 {
			return nil
		}
		if err := w.Ledger.Refund(ctx, tx, userID, auctionID, part.Reserved); err != nil {
			if errors.Is(err, service.ErrAlreadyApplied) {
				return nil
			}
			return err
		}
		payload, err := json.Marshal(map[string]any{
			"auctionId": auctionID,
			"userId":    userID,
			"amount":    part.Reserved,
		})
		if err != nil {
			return err
		}
		return w.Repo.AppendOutboxTx(ctx, tx, &models.OutboxEvent{
			Type:        "REFUND_DONE",
			Aggregate:   models.AggregateAuction,
			AggregateID: auctionID,
			AuctionID:   &auctionID,
			Payload:     payload,
		})
	})
}

// finalize runs when a page comes back empty: every participation has been
// visited, so the auction reaches its terminal status.
func (w *RefundWorker) finalize(ctx context.Context, auction *models.Auction) error {
	terminal := models.AuctionCompleted
	from := models.AuctionCompletingRefunds
	if auction.Status == models.AuctionCancelingRefunds {
		terminal = models.AuctionCancelled
		from = models.AuctionCancelingRefunds
	}
	return w.Repo.InTx(ctx, func(tx *gorm.DB) error {
		ok, err := w.Repo.SetAuctionStatusGuardedTx(ctx, tx, auction.ID, []string{from}, terminal)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		payload, err := json.Marshal(map[string]any{
			"auctionId": auction.ID,
			"status":    terminal,
		})
		if err != nil {
			return err
		}
		if err := w.Repo.AppendOutboxTx(ctx, tx, &models.OutboxEvent{
			Type:        "AUCTION_REFUNDS_COMPLETED",
			Aggregate:   models.AggregateAuction,
			AggregateID: auction.ID,
			AuctionID:   &auction.ID,
			Payload:     payload,
		}); err != nil {
			return err
		}
		w.Logger.Info("auction finalized",
			zap.Uint64("auction_id", auction.ID),
			zap.String("status", terminal))
		return nil
	})
}
