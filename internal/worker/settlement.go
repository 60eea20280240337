package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"auctionhouse/internal/models"
	"auctionhouse/internal/repository"
	"auctionhouse/internal/service"
)

// SettlementWorker claims a LOCKED round, awards its winners, and opens the
// next round or pushes the auction into its refund phase.
//
// The LOCKED -> SETTLING flip is the mutual exclusion: only the instance that
// wins it proceeds. Everything inside the settlement transaction is keyed
// deterministically (award id from round+rank, spend key from round+user), so
// a crash-and-retry replays the same awards instead of duplicating them.
type SettlementWorker struct {
	Repo   repository.Repository
	Ledger *service.Ledger
	Logger *zap.Logger
	Now    func() time.Time
}

// AwardID derives the award identity for a rank of a round. Retries of the
// same round re-derive the same ids, which is what makes settlement
// re-entrant.
func AwardID(roundID uint64, rank int) string {
	return fmt.Sprintf("AWD:%d:%d", roundID, rank)
}

func (w *SettlementWorker) Tick(ctx context.Context) {
	if w == nil || w.Repo == nil {
		return
	}
	round, err := w.Repo.FindRoundByStatus(ctx, models.RoundLocked)
	if err != nil {
		w.Logger.Warn("settlement scan failed", zap.Error(err))
		return
	}
	if round == nil {
		return
	}
	claimed, err := w.Repo.SetRoundStatusGuarded(ctx, round.ID, models.RoundLocked, models.RoundSettling)
	if err != nil {
		w.Logger.Warn("settlement claim failed", zap.Uint64("round_id", round.ID), zap.Error(err))
		return
	}
	if !claimed {
		return
	}
	if err := w.settle(ctx, round.ID); err != nil {
		// Revert so a later tick retries from scratch. The deterministic
		// award and spend keys make the retry safe.
		if _, rerr := w.Repo.SetRoundStatusGuarded(ctx, round.ID, models.RoundSettling, models.RoundLocked); rerr != nil {
			w.Logger.Error("settlement revert failed", zap.Uint64("round_id", round.ID), zap.Error(rerr))
		}
		w.Logger.Error("settlement failed", zap.Uint64("round_id", round.ID), zap.Error(err))
	}
}

func (w *SettlementWorker) settle(ctx context.Context, roundID uint64) error {
	now := w.now()
	return w.Repo.InTx(ctx, func(tx *gorm.DB) error {
		round, err := w.Repo.GetRoundTx(ctx, tx, roundID)
		if err != nil {
			return err
		}
		if round == nil || round.Status != models.RoundSettling {
			return nil
		}
		auction, err := w.Repo.GetAuctionTx(ctx, tx, round.AuctionID)
		if err != nil {
			return err
		}
		if auction == nil {
			return fmt.Errorf("round %d references missing auction %d", round.ID, round.AuctionID)
		}

		topBids, err := w.Repo.ListTopBidsTx(ctx, tx, round.ID, round.AwardCount)
		if err != nil {
			return err
		}
		items, err := w.Repo.ListAvailableItemsTx(ctx, tx, auction.ID, len(topBids))
		if err != nil {
			return err
		}
		winners := len(topBids)
		if len(items) < winners {
			winners = len(items)
		}

		awarded := 0
		for i := 0; i < winners; i++ {
			rank := i + 1
			bid := topBids[i]
			item := items[i]
			issued, err := w.awardOne(ctx, tx, auction, round, rank, &bid, &item)
			if err != nil {
				return err
			}
			if issued {
				awarded++
			}
		}

		ok, err := w.Repo.SetRoundStatusGuardedTx(ctx, tx, round.ID, models.RoundSettling, models.RoundFinished)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("round %d left SETTLING during settlement", round.ID)
		}
		settled, err := json.Marshal(map[string]any{
			"auctionId": auction.ID,
			"roundId":   round.ID,
			"seq":       round.Seq,
			"awarded":   awarded,
		})
		if err != nil {
			return err
		}
		if err := w.Repo.AppendOutboxTx(ctx, tx, &models.OutboxEvent{
			Type:        "ROUND_SETTLED",
			Aggregate:   models.AggregateRound,
			AggregateID: round.ID,
			AuctionID:   &auction.ID,
			RoundID:     &round.ID,
			Payload:     settled,
		}); err != nil {
			return err
		}

		if auction.InRefund() {
			// Cancelled mid-round. The refund worker owns the auction from
			// here; settle what was locked and stop opening rounds.
			return w.Repo.SetActiveRoundTx(ctx, tx, auction.ID, nil)
		}

		remaining, err := w.Repo.CountAvailableItemsTx(ctx, tx, auction.ID)
		if err != nil {
			return err
		}
		if remaining == 0 {
			return w.depleteAuction(ctx, tx, auction, round)
		}
		return w.openNextRound(ctx, tx, auction, round, now)
	})
}

func (w *SettlementWorker) awardOne(ctx context.Context, tx *gorm.DB, auction *models.Auction, round *models.Round, rank int, bid *models.Bid, item *models.Item) (bool, error) {
	awardID := AwardID(round.ID, rank)
	existing, err := w.Repo.GetAwardTx(ctx, tx, awardID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}
	if auction.InRefund() {
		// The refund sweep may have already returned this winner's funds if
		// the cancel landed ahead of settlement. An award without a spend
		// would be free, so the rank is skipped instead.
		part, err := w.Repo.GetParticipationTx(ctx, tx, bid.UserID, auction.ID, w.Ledger.Currency)
		if err != nil {
			return false, err
		}
		if part == nil || part.Reserved.LessThan(bid.AmountTotal) {
			w.Logger.Warn("winner already refunded, skipping rank",
				zap.Uint64("round_id", round.ID),
				zap.Int("rank", rank),
				zap.String("user_id", bid.UserID))
			return false, nil
		}
	}
	ok, err := w.Repo.AwardItemTx(ctx, tx, item.ID, bid.UserID, awardID)
	if err != nil {
		return false, err
	}
	if !ok {
		// Someone else took this item between listing and marking. Skip the
		// pair; the next retry will pick a fresh item set.
		w.Logger.Warn("item no longer available",
			zap.Uint64("round_id", round.ID),
			zap.Uint64("item_id", item.ID),
			zap.Int("rank", rank))
		return false, nil
	}
	award := &models.Award{
		ID:          awardID,
		AuctionID:   auction.ID,
		RoundID:     round.ID,
		RoundSeq:    round.Seq,
		Rank:        rank,
		UserID:      bid.UserID,
		ItemID:      item.ID,
		Serial:      fmt.Sprintf("A%d-R%d-%d", auction.ID, round.Seq, rank),
		SpendAmount: bid.AmountTotal,
	}
	if err := w.Repo.InsertAwardTx(ctx, tx, award); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return false, nil
		}
		return false, err
	}
	if err := w.Ledger.Spend(ctx, tx, bid.UserID, auction.ID, round.ID, awardID, bid.AmountTotal); err != nil {
		if !errors.Is(err, service.ErrAlreadyApplied) {
			return false, err
		}
	}
	payload, err := json.Marshal(map[string]any{
		"auctionId": auction.ID,
		"roundId":   round.ID,
		"awardId":   awardID,
		"rank":      rank,
		"userId":    bid.UserID,
		"itemId":    item.ID,
		"amount":    bid.AmountTotal,
	})
	if err != nil {
		return false, err
	}
	if err := w.Repo.AppendOutboxTx(ctx, tx, &models.OutboxEvent{
		Type:        "AWARD_ISSUED",
		Aggregate:   models.AggregateRound,
		AggregateID: round.ID,
		AuctionID:   &auction.ID,
		RoundID:     &round.ID,
		Payload:     payload,
	}); err != nil {
		return false, err
	}
	return true, nil
}

func (w *SettlementWorker) depleteAuction(ctx context.Context, tx *gorm.DB, auction *models.Auction, round *models.Round) error {
	if err := w.Repo.SetAuctionStatusTx(ctx, tx, auction.ID, models.AuctionCompletingRefunds); err != nil {
		return err
	}
	if err := w.Repo.SetActiveRoundTx(ctx, tx, auction.ID, nil); err != nil {
		return err
	}
	payload, err := json.Marshal(map[string]any{
		"auctionId": auction.ID,
		"lastRound": round.Seq,
	})
	if err != nil {
		return err
	}
	return w.Repo.AppendOutboxTx(ctx, tx, &models.OutboxEvent{
		Type:        "ITEMS_DEPLETED",
		Aggregate:   models.AggregateAuction,
		AggregateID: auction.ID,
		AuctionID:   &auction.ID,
		Payload:     payload,
	})
}

func (w *SettlementWorker) openNextRound(ctx context.Context, tx *gorm.DB, auction *models.Auction, round *models.Round, now time.Time) error {
	next := service.NewRound(auction, round.Seq+1, now)
	if err := w.Repo.InsertRoundTx(ctx, tx, next); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			// A prior attempt already opened this seq.
			return nil
		}
		return err
	}
	if err := w.Repo.SetActiveRoundTx(ctx, tx, auction.ID, &next.ID); err != nil {
		return err
	}
	payload, err := json.Marshal(map[string]any{
		"auctionId": auction.ID,
		"roundId":   next.ID,
		"seq":       next.Seq,
		"startAt":   next.StartAt,
		"endAt":     next.EndAt,
	})
	if err != nil {
		return err
	}
	return w.Repo.AppendOutboxTx(ctx, tx, &models.OutboxEvent{
		Type:        "NEXT_ROUND_CREATED",
		Aggregate:   models.AggregateAuction,
		AggregateID: auction.ID,
		AuctionID:   &auction.ID,
		RoundID:     &next.ID,
		Payload:     payload,
	})
}

func (w *SettlementWorker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now().UTC()
}
