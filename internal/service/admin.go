package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"auctionhouse/internal/models"
	"auctionhouse/internal/repository"
)

// AdminService covers the operator boundary: creating and starting auctions,
// seeding items, cancelling, and crediting wallets.
type AdminService struct {
	Repo   repository.Repository
	Ledger *Ledger
	Logger *zap.Logger

	Now func() time.Time
}

type CreateAuctionInput struct {
	Title  string
	Config models.RoundConfig
}

func (s *AdminService) CreateAuction(ctx context.Context, input CreateAuctionInput) (*models.Auction, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, Validation("title is required")
	}
	if input.Config.RoundDurationSec <= 0 {
		return nil, Validation("roundDurationSec must be positive")
	}
	if input.Config.DefaultAwardCount <= 0 {
		return nil, Validation("defaultAwardCount must be positive")
	}
	if input.Config.MinBid.Sign() < 0 || input.Config.MinIncrement.Sign() < 0 {
		return nil, Validation("minBid and minIncrement must be non-negative")
	}
	auction := &models.Auction{
		Title:  title,
		Status: models.AuctionDraft,
		Config: input.Config,
	}
	if err := s.Repo.InsertAuction(ctx, auction); err != nil {
		return nil, err
	}
	return auction, nil
}

func (s *AdminService) SeedItems(ctx context.Context, auctionID uint64, count int, namePrefix string) (int, error) {
	if count <= 0 {
		return 0, Validation("count must be positive")
	}
	auction, err := s.Repo.GetAuction(ctx, auctionID)
	if err != nil {
		return 0, err
	}
	if auction == nil {
		return 0, NotFound("auction not found")
	}
	if auction.Status != models.AuctionDraft {
		return 0, BadState("items can only be seeded before the auction starts", map[string]any{"status": auction.Status})
	}
	if namePrefix == "" {
		namePrefix = "Item"
	}
	items := make([]models.Item, 0, count)
	for i := 0; i < count; i++ {
		items = append(items, models.Item{
			AuctionID: auctionID,
			Name:      fmt.Sprintf("%s #%d", namePrefix, i+1),
			Status:    models.ItemAvailable,
		})
	}
	if err := s.Repo.InsertItems(ctx, items); err != nil {
		return 0, err
	}
	return len(items), nil
}

// StartAuction creates round 1 and activates the auction in one transaction.
func (s *AdminService) StartAuction(ctx context.Context, auctionID uint64) (*models.Round, error) {
	auction, err := s.Repo.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if auction == nil {
		return nil, NotFound("auction not found")
	}
	if auction.Status != models.AuctionDraft {
		return nil, BadState("auction is not in DRAFT", map[string]any{"status": auction.Status})
	}

	now := s.now()
	round := NewRound(auction, 1, now)

	err = s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		if err := s.Repo.InsertRoundTx(ctx, tx, round); err != nil {
			if errors.Is(err, repository.ErrDuplicateKey) {
				return BadState("auction already started", nil)
			}
			return err
		}
		if err := s.Repo.SetAuctionStatusTx(ctx, tx, auctionID, models.AuctionActive); err != nil {
			return err
		}
		if err := s.Repo.SetActiveRoundTx(ctx, tx, auctionID, &round.ID); err != nil {
			return err
		}
		payload, err := json.Marshal(map[string]any{
			"auctionId": auctionID,
			"roundId":   round.ID,
			"startAt":   round.StartAt,
			"endAt":     round.EndAt,
		})
		if err != nil {
			return err
		}
		return s.Repo.AppendOutboxTx(ctx, tx, &models.OutboxEvent{
			Type:        "AUCTION_STARTED",
			Aggregate:   models.AggregateAuction,
			AggregateID: auctionID,
			AuctionID:   &auctionID,
			RoundID:     &round.ID,
			Payload:     payload,
		})
	})
	if err != nil {
		return nil, err
	}
	return round, nil
}

// CancelAuction moves the auction into the cancellation refund phase. The
// refund worker drains reservations and lands it in CANCELLED. Cancelling an
// auction already being cancelled is a no-op.
func (s *AdminService) CancelAuction(ctx context.Context, auctionID uint64) (string, error) {
	auction, err := s.Repo.GetAuction(ctx, auctionID)
	if err != nil {
		return "", err
	}
	if auction == nil {
		return "", NotFound("auction not found")
	}
	switch auction.Status {
	case models.AuctionCancelled, models.AuctionCancelingRefunds:
		return auction.Status, nil
	case models.AuctionCompleted, models.AuctionCompletingRefunds:
		return "", BadState("auction already completing", map[string]any{"status": auction.Status})
	}

	err = s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		if auction.ActiveRoundID != nil {
			voided, err := s.voidRound(ctx, tx, auctionID, *auction.ActiveRoundID)
			if err != nil {
				return err
			}
			// A LOCKED or SETTLING round keeps the active pointer; the
			// settlement worker settles it and clears the pointer itself, and
			// the refund worker waits for that before draining.
			if voided {
				if err := s.Repo.SetActiveRoundTx(ctx, tx, auctionID, nil); err != nil {
					return err
				}
			}
		}
		if err := s.Repo.SetAuctionStatusTx(ctx, tx, auctionID, models.AuctionCancelingRefunds); err != nil {
			return err
		}
		payload, err := json.Marshal(map[string]any{"auctionId": auctionID})
		if err != nil {
			return err
		}
		return s.Repo.AppendOutboxTx(ctx, tx, &models.OutboxEvent{
			Type:        "AUCTION_CANCELLED",
			Aggregate:   models.AggregateAuction,
			AggregateID: auctionID,
			AuctionID:   &auctionID,
			Payload:     payload,
		})
	})
	if err != nil {
		return "", err
	}
	if err := s.Repo.SaveRefundCursor(ctx, auctionID, 0); err != nil {
		return "", err
	}
	return models.AuctionCancelingRefunds, nil
}

// voidRound closes a round that has not reached LOCKED yet. Nothing settles:
// no bids get rejected retroactively, no awards are issued, and the refund
// sweep returns every reservation. Rounds already past LOCKED are left for the
// settlement worker.
func (s *AdminService) voidRound(ctx context.Context, tx *gorm.DB, auctionID, roundID uint64) (bool, error) {
	for _, from := range []string{models.RoundLive, models.RoundScheduled} {
		ok, err := s.Repo.SetRoundStatusGuardedTx(ctx, tx, roundID, from, models.RoundFinished)
		if err != nil {
			return false, err
		}
		if !ok {
			continue
		}
		payload, err := json.Marshal(map[string]any{
			"auctionId": auctionID,
			"roundId":   roundID,
		})
		if err != nil {
			return false, err
		}
		return true, s.Repo.AppendOutboxTx(ctx, tx, &models.OutboxEvent{
			Type:        "ROUND_VOIDED",
			Aggregate:   models.AggregateRound,
			AggregateID: roundID,
			AuctionID:   &auctionID,
			RoundID:     &roundID,
			Payload:     payload,
		})
	}
	return false, nil
}

func (s *AdminService) Deposit(ctx context.Context, userID string, amount decimal.Decimal) error {
	if strings.TrimSpace(userID) == "" {
		return Validation("userId is required")
	}
	return s.Ledger.Deposit(ctx, userID, amount)
}

func (s *AdminService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// NewRound stamps a fresh round from the auction's config: sequential index,
// fresh timing, zero extensions. Shared by StartAuction and the settlement
// worker's next-round creation.
func NewRound(auction *models.Auction, seq int, now time.Time) *models.Round {
	cfg := auction.Config
	round := &models.Round{
		AuctionID:     auction.ID,
		Seq:           seq,
		Status:        models.RoundScheduled,
		StartAt:       now,
		EndAt:         now.Add(time.Duration(cfg.RoundDurationSec) * time.Second),
		AwardCount:    cfg.DefaultAwardCount,
		MinBid:        cfg.MinBid,
		MinIncrement:  cfg.MinIncrement,
		ThresholdSec:  cfg.ThresholdSec,
		ExtendSec:     cfg.ExtendSec,
		MaxExtensions: cfg.MaxExtensions,
	}
	if cfg.HardDeadlineSec > 0 {
		hard := now.Add(time.Duration(cfg.HardDeadlineSec) * time.Second)
		round.HardEndAt = &hard
	}
	return round
}
