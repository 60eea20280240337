package service

import (
	"context"

	"github.com/shopspring/decimal"

	"auctionhouse/internal/models"
	"auctionhouse/internal/repository"
)

// QueryService serves the read models: auction listings, round leaderboards,
// and a user's own wallet, bids, and awards. The leaderboard ordering is the
// settlement ordering, so what the UI previews is what settlement awards.
type QueryService struct {
	Repo     repository.Repository
	Currency string
}

type RoundSummary struct {
	ID              uint64          `json:"id"`
	Seq             int             `json:"seq"`
	Status          string          `json:"status"`
	StartAt         string          `json:"startAt"`
	EndAt           string          `json:"endAt"`
	ExtensionsCount int             `json:"extensionsCount"`
	AwardCount      int             `json:"awardCount"`
	BidsCount       int             `json:"bidsCount"`
	TopBidAmount    decimal.Decimal `json:"topBidAmount"`
}

type AuctionSummary struct {
	ID          uint64        `json:"id"`
	Title       string        `json:"title"`
	Status      string        `json:"status"`
	ActiveRound *RoundSummary `json:"activeRound,omitempty"`
}

type RankedBid struct {
	Rank        int             `json:"rank"`
	UserID      string          `json:"userId"`
	AmountTotal decimal.Decimal `json:"amountTotal"`
	LastBidAt   string          `json:"lastBidAt"`
}

type AuctionDetail struct {
	Auction *models.Auction `json:"auction"`
	Round   *RoundSummary   `json:"round,omitempty"`
	Top     []RankedBid     `json:"top"`
}

type WalletView struct {
	UserID    string          `json:"userId"`
	Currency  string          `json:"currency"`
	Available decimal.Decimal `json:"available"`
	Reserved  decimal.Decimal `json:"reserved"`
}

func roundSummary(r *models.Round) *RoundSummary {
	if r == nil {
		return nil
	}
	return &RoundSummary{
		ID:              r.ID,
		Seq:             r.Seq,
		Status:          r.Status,
		StartAt:         r.StartAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		EndAt:           r.EndAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		ExtensionsCount: r.ExtensionsCount,
		AwardCount:      r.AwardCount,
		BidsCount:       r.BidsCount,
		TopBidAmount:    r.TopBidAmount,
	}
}

func rankBids(bids []models.Bid) []RankedBid {
	out := make([]RankedBid, 0, len(bids))
	for i, b := range bids {
		out = append(out, RankedBid{
			Rank:        i + 1,
			UserID:      b.UserID,
			AmountTotal: b.AmountTotal,
			LastBidAt:   b.LastBidAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}
	return out
}

func (s *QueryService) ListAuctions(ctx context.Context) ([]AuctionSummary, error) {
	auctions, err := s.Repo.ListAuctions(ctx, []string{
		models.AuctionActive,
		models.AuctionCompletingRefunds,
		models.AuctionCancelingRefunds,
	}, 50)
	if err != nil {
		return nil, err
	}
	out := make([]AuctionSummary, 0, len(auctions))
	for _, a := range auctions {
		summary := AuctionSummary{ID: a.ID, Title: a.Title, Status: a.Status}
		if a.ActiveRoundID != nil {
			round, err := s.Repo.GetRound(ctx, *a.ActiveRoundID)
			if err != nil {
				return nil, err
			}
			summary.ActiveRound = roundSummary(round)
		}
		out = append(out, summary)
	}
	return out, nil
}

func (s *QueryService) GetAuction(ctx context.Context, auctionID uint64) (*AuctionDetail, error) {
	auction, err := s.Repo.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if auction == nil {
		return nil, NotFound("auction not found")
	}
	detail := &AuctionDetail{Auction: auction, Top: []RankedBid{}}
	if auction.ActiveRoundID == nil {
		return detail, nil
	}
	round, err := s.Repo.GetRound(ctx, *auction.ActiveRoundID)
	if err != nil {
		return nil, err
	}
	detail.Round = roundSummary(round)
	if round != nil {
		bids, err := s.Repo.ListTopBids(ctx, round.ID, round.AwardCount)
		if err != nil {
			return nil, err
		}
		detail.Top = rankBids(bids)
	}
	return detail, nil
}

func (s *QueryService) GetRoundTop(ctx context.Context, roundID uint64, limit int) ([]RankedBid, error) {
	round, err := s.Repo.GetRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	if round == nil {
		return nil, NotFound("round not found")
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 500 {
		limit = 500
	}
	bids, err := s.Repo.ListTopBids(ctx, roundID, limit)
	if err != nil {
		return nil, err
	}
	return rankBids(bids), nil
}

// GetWallet reports available from the wallet row and reserved aggregated
// over participations, since a user's reservations are tracked per auction.
func (s *QueryService) GetWallet(ctx context.Context, userID string) (*WalletView, error) {
	view := &WalletView{UserID: userID, Currency: s.Currency, Available: decimal.Zero, Reserved: decimal.Zero}
	wallet, err := s.Repo.GetWallet(ctx, userID, s.Currency)
	if err != nil {
		return nil, err
	}
	if wallet != nil {
		view.Available = wallet.Available
	}
	reserved, err := s.Repo.SumReservedByUser(ctx, userID, s.Currency)
	if err != nil {
		return nil, err
	}
	view.Reserved = reserved
	return view, nil
}

func (s *QueryService) GetMyBids(ctx context.Context, userID string) ([]models.Bid, error) {
	return s.Repo.ListBidsByUser(ctx, userID, 100)
}

func (s *QueryService) GetMyAwards(ctx context.Context, userID string) ([]models.Award, error) {
	return s.Repo.ListAwardsByUser(ctx, userID, 100)
}

func (s *QueryService) ListEvents(ctx context.Context, params repository.ListEventsParams) ([]models.OutboxEvent, error) {
	return s.Repo.ListEvents(ctx, params)
}
