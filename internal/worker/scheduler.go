package worker

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"auctionhouse/internal/models"
	"auctionhouse/internal/repository"
)

// RoundScheduler advances rounds on time boundaries: SCHEDULED rounds whose
// start has passed go LIVE, LIVE rounds whose end has passed go LOCKED. The
// guarded status flip is the only concurrency control, so any number of
// scheduler instances may tick at once.
type RoundScheduler struct {
	Repo   repository.Repository
	Logger *zap.Logger
	Now    func() time.Time
}

func (w *RoundScheduler) Tick(ctx context.Context) {
	if w == nil || w.Repo == nil {
		return
	}
	if err := w.startOne(ctx); err != nil {
		w.Logger.Warn("scheduler start pass failed", zap.Error(err))
	}
	if err := w.lockOne(ctx); err != nil {
		w.Logger.Warn("scheduler lock pass failed", zap.Error(err))
	}
}

func (w *RoundScheduler) startOne(ctx context.Context) error {
	now := w.now()
	round, err := w.Repo.FindDueRound(ctx, models.RoundScheduled, now)
	if err != nil || round == nil {
		return err
	}
	return w.Repo.InTx(ctx, func(tx *gorm.DB) error {
		ok, err := w.Repo.ClaimDueRoundTx(ctx, tx, round.ID, models.RoundScheduled, models.RoundLive, now)
		if err != nil {
			return err
		}
		if !ok {
			// Another instance claimed it first.
			return nil
		}
		payload, err := json.Marshal(map[string]any{
			"auctionId": round.AuctionID,
			"roundId":   round.ID,
			"seq":       round.Seq,
			"endAt":     round.EndAt,
		})
		if err != nil {
			return err
		}
		if err := w.Repo.AppendOutboxTx(ctx, tx, &models.OutboxEvent{
			Type:        "ROUND_STARTED",
			Aggregate:   models.AggregateRound,
			AggregateID: round.ID,
			AuctionID:   &round.AuctionID,
			RoundID:     &round.ID,
			Payload:     payload,
		}); err != nil {
			return err
		}
		w.Logger.Info("round live",
			zap.Uint64("auction_id", round.AuctionID),
			zap.Uint64("round_id", round.ID),
			zap.Int("seq", round.Seq))
		return nil
	})
}

func (w *RoundScheduler) lockOne(ctx context.Context) error {
	now := w.now()
	round, err := w.Repo.FindDueRound(ctx, models.RoundLive, now)
	if err != nil || round == nil {
		return err
	}
	return w.Repo.InTx(ctx, func(tx *gorm.DB) error {
		ok, err := w.Repo.ClaimDueRoundTx(ctx, tx, round.ID, models.RoundLive, models.RoundLocked, now)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		payload, err := json.Marshal(map[string]any{
			"auctionId": round.AuctionID,
			"roundId":   round.ID,
			"seq":       round.Seq,
		})
		if err != nil {
			return err
		}
		if err := w.Repo.AppendOutboxTx(ctx, tx, &models.OutboxEvent{
			Type:        "ROUND_LOCKED",
			Aggregate:   models.AggregateRound,
			AggregateID: round.ID,
			AuctionID:   &round.AuctionID,
			RoundID:     &round.ID,
			Payload:     payload,
		}); err != nil {
			return err
		}
		w.Logger.Info("round locked",
			zap.Uint64("auction_id", round.AuctionID),
			zap.Uint64("round_id", round.ID),
			zap.Int("seq", round.Seq))
		return nil
	})
}

func (w *RoundScheduler) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now().UTC()
}
