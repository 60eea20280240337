package service

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"auctionhouse/internal/models"
	"auctionhouse/internal/repository/memory"
)

func newAdmin(store *memory.Store, now time.Time) *AdminService {
	ledger := &Ledger{Repo: store, Logger: zap.NewNop(), Currency: "CRD"}
	return &AdminService{
		Repo:   store,
		Ledger: ledger,
		Logger: zap.NewNop(),
		Now:    func() time.Time { return now },
	}
}

func validConfig() models.RoundConfig {
	return models.RoundConfig{
		DefaultAwardCount: 2,
		RoundDurationSec:  60,
		MinBid:            dec(50),
		MinIncrement:      dec(10),
		ThresholdSec:      5,
		ExtendSec:         5,
		MaxExtensions:     2,
		HardDeadlineSec:   120,
	}
}

func TestCreateAuction_Validation(t *testing.T) {
	store := memory.New()
	admin := newAdmin(store, time.Now())
	ctx := context.Background()

	cases := []struct {
		name  string
		input CreateAuctionInput
	}{
		{"empty title", CreateAuctionInput{Title: "  ", Config: validConfig()}},
		{"zero duration", CreateAuctionInput{Title: "x", Config: models.RoundConfig{DefaultAwardCount: 1}}},
		{"zero award count", CreateAuctionInput{Title: "x", Config: models.RoundConfig{RoundDurationSec: 60}}},
	}
	for _, tc := range cases {
		_, err := admin.CreateAuction(ctx, tc.input)
		if serr := AsError(err); serr == nil || serr.Code != CodeValidation {
			t.Fatalf("%s: err=%v want VALIDATION_ERROR", tc.name, err)
		}
	}

	auction, err := admin.CreateAuction(ctx, CreateAuctionInput{Title: "drop", Config: validConfig()})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if auction.ID == 0 || auction.Status != models.AuctionDraft {
		t.Fatalf("auction=%+v want DRAFT with id", auction)
	}
}

func TestNewRound(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	auction := &models.Auction{ID: 7, Config: validConfig()}

	round := NewRound(auction, 3, now)
	if round.AuctionID != 7 || round.Seq != 3 {
		t.Fatalf("round=%+v", round)
	}
	if round.Status != models.RoundScheduled {
		t.Fatalf("status=%s want SCHEDULED", round.Status)
	}
	if !round.EndAt.Equal(now.Add(60 * time.Second)) {
		t.Fatalf("endAt=%v", round.EndAt)
	}
	if round.HardEndAt == nil || !round.HardEndAt.Equal(now.Add(120*time.Second)) {
		t.Fatalf("hardEndAt=%v", round.HardEndAt)
	}
	if round.ExtensionsCount != 0 || round.AwardCount != 2 {
		t.Fatalf("round=%+v", round)
	}

	// No hard deadline configured: none stamped.
	auction.Config.HardDeadlineSec = 0
	if r := NewRound(auction, 4, now); r.HardEndAt != nil {
		t.Fatalf("hardEndAt=%v want nil", r.HardEndAt)
	}
}

func TestStartAuction(t *testing.T) {
	store := memory.New()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	admin := newAdmin(store, now)
	ctx := context.Background()

	auction, err := admin.CreateAuction(ctx, CreateAuctionInput{Title: "drop", Config: validConfig()})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	round, err := admin.StartAuction(ctx, auction.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if round.Seq != 1 || round.Status != models.RoundScheduled {
		t.Fatalf("round=%+v", round)
	}

	got, _ := store.GetAuction(ctx, auction.ID)
	if got.Status != models.AuctionActive {
		t.Fatalf("status=%s want ACTIVE", got.Status)
	}
	if got.ActiveRoundID == nil || *got.ActiveRoundID != round.ID {
		t.Fatalf("activeRoundId=%v want %d", got.ActiveRoundID, round.ID)
	}

	events, _ := store.ListNewOutbox(ctx, 10)
	if len(events) != 1 || events[0].Type != "AUCTION_STARTED" {
		t.Fatalf("events=%+v", events)
	}

	// Starting twice is rejected.
	if _, err := admin.StartAuction(ctx, auction.ID); err == nil {
		t.Fatal("second start succeeded")
	}
}

func TestCancelAuction(t *testing.T) {
	store := memory.New()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	admin := newAdmin(store, now)
	ctx := context.Background()

	auction, err := admin.CreateAuction(ctx, CreateAuctionInput{Title: "drop", Config: validConfig()})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	round, err := admin.StartAuction(ctx, auction.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	status, err := admin.CancelAuction(ctx, auction.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if status != models.AuctionCancelingRefunds {
		t.Fatalf("status=%s", status)
	}

	// The pending round is voided and unlinked so the refund sweep can run.
	voided, _ := store.GetRound(ctx, round.ID)
	if voided.Status != models.RoundFinished {
		t.Fatalf("round status=%s want FINISHED", voided.Status)
	}
	got, _ := store.GetAuction(ctx, auction.ID)
	if got.ActiveRoundID != nil {
		t.Fatalf("activeRoundId=%v want nil", got.ActiveRoundID)
	}

	// Idempotent: a second cancel reports the current phase without error.
	status, err = admin.CancelAuction(ctx, auction.ID)
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if status != models.AuctionCancelingRefunds {
		t.Fatalf("status=%s", status)
	}

	// Completed auctions cannot be cancelled.
	if _, err := store.SetAuctionStatusGuarded(ctx, auction.ID, []string{models.AuctionCancelingRefunds}, models.AuctionCompleted); err != nil {
		t.Fatalf("force complete: %v", err)
	}
	if _, err := admin.CancelAuction(ctx, auction.ID); err == nil {
		t.Fatal("cancel of completed auction succeeded")
	}
}

func TestSeedItems(t *testing.T) {
	store := memory.New()
	admin := newAdmin(store, time.Now())
	ctx := context.Background()

	auction, err := admin.CreateAuction(ctx, CreateAuctionInput{Title: "drop", Config: validConfig()})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	n, err := admin.SeedItems(ctx, auction.ID, 3, "Keycap")
	if err != nil || n != 3 {
		t.Fatalf("seed: n=%d err=%v", n, err)
	}
	items, err := store.ListAvailableItemsTx(ctx, nil, auction.ID, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 3 || items[0].Name != "Keycap #1" {
		t.Fatalf("items=%+v", items)
	}

	// Seeding after start is rejected.
	if _, err := admin.StartAuction(ctx, auction.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := admin.SeedItems(ctx, auction.ID, 1, ""); AsError(err) == nil || AsError(err).Code != CodeBadState {
		t.Fatalf("err=%v want BAD_STATE", err)
	}
}
