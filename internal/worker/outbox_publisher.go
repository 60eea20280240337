package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"auctionhouse/internal/models"
	"auctionhouse/internal/repository"
)

// EventSink receives published outbox events, usually the live event hub.
type EventSink interface {
	Publish(event models.OutboxEvent)
}

// OutboxPublisher moves committed outbox rows to live subscribers. Delivery is
// at-least-once: a crash between fan-out and marking PUBLISHED redelivers, and
// subscribers dedupe on the sequence number.
type OutboxPublisher struct {
	Repo      repository.Repository
	Sink      EventSink
	Logger    *zap.Logger
	BatchSize int
	Now       func() time.Time
}

func (w *OutboxPublisher) Tick(ctx context.Context) {
	if w == nil || w.Repo == nil {
		return
	}
	batch := w.BatchSize
	if batch <= 0 {
		batch = 100
	}
	events, err := w.Repo.ListNewOutbox(ctx, batch)
	if err != nil {
		w.Logger.Warn("outbox scan failed", zap.Error(err))
		return
	}
	for _, event := range events {
		if w.Sink != nil {
			w.Sink.Publish(event)
		}
		if err := w.Repo.MarkOutboxPublished(ctx, event.ID, w.now()); err != nil {
			// Next tick re-reads from this event onward and redelivers.
			w.Logger.Warn("outbox mark failed", zap.Uint64("seq", event.Seq), zap.Error(err))
			return
		}
	}
}

func (w *OutboxPublisher) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now().UTC()
}
