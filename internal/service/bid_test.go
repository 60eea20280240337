package service

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"auctionhouse/internal/models"
	"auctionhouse/internal/repository/memory"
)

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func TestValidateBidAmount(t *testing.T) {
	minBid := dec(50)
	minInc := dec(10)

	cases := []struct {
		name   string
		prev   decimal.Decimal
		amount decimal.Decimal
		reason string
	}{
		{"first bid below minimum", dec(0), dec(40), ReasonMinBid},
		{"first bid at minimum", dec(0), dec(50), ""},
		{"increase below increment", dec(50), dec(55), ReasonMinIncrement},
		{"increase at increment", dec(50), dec(60), ""},
		{"non increasing", dec(60), dec(60), ReasonNonIncreasing},
		{"decreasing", dec(60), dec(55), ReasonNonIncreasing},
	}
	for _, tc := range cases {
		err := validateBidAmount(minBid, minInc, tc.prev, tc.amount)
		if tc.reason == "" {
			if err != nil {
				t.Fatalf("%s: unexpected error %v", tc.name, err)
			}
			continue
		}
		if err == nil {
			t.Fatalf("%s: want rejection %s, got none", tc.name, tc.reason)
		}
		if err.Details["reason"] != tc.reason {
			t.Fatalf("%s: reason=%v want=%s", tc.name, err.Details["reason"], tc.reason)
		}
	}
}

func TestValidateBidAmount_ReportsMinimumTotal(t *testing.T) {
	err := validateBidAmount(dec(50), dec(10), dec(50), dec(55))
	if err == nil {
		t.Fatal("want rejection")
	}
	if err.Details["minimumTotal"] != "60" {
		t.Fatalf("minimumTotal=%v want=60", err.Details["minimumTotal"])
	}
}

func TestExtendedEnd(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Outside the threshold: no extension.
	if _, ok := extendedEnd(5, 5, now.Add(10*time.Second), nil, now); ok {
		t.Fatal("extension outside threshold")
	}

	// Inside the threshold: end moves by extendSec.
	endAt := now.Add(3 * time.Second)
	newEnd, ok := extendedEnd(5, 5, endAt, nil, now)
	if !ok {
		t.Fatal("want extension")
	}
	if !newEnd.Equal(endAt.Add(5 * time.Second)) {
		t.Fatalf("newEnd=%v want=%v", newEnd, endAt.Add(5*time.Second))
	}

	// Hard deadline clamps a partial overshoot.
	hard := endAt.Add(2 * time.Second)
	newEnd, ok = extendedEnd(5, 5, endAt, &hard, now)
	if !ok {
		t.Fatal("want clamped extension")
	}
	if !newEnd.Equal(hard) {
		t.Fatalf("newEnd=%v want clamp to %v", newEnd, hard)
	}

	// Hard deadline already reached: nothing to extend.
	if _, ok := extendedEnd(5, 5, endAt, &endAt, now); ok {
		t.Fatal("extension past a hard deadline equal to endAt")
	}

	// Disabled thresholds never extend.
	if _, ok := extendedEnd(0, 5, endAt, nil, now); ok {
		t.Fatal("extension with thresholdSec=0")
	}
}

func TestIsTransientTxError(t *testing.T) {
	if !isTransientTxError(errString("ERROR: deadlock detected (SQLSTATE 40P01)")) {
		t.Fatal("deadlock should be transient")
	}
	if !isTransientTxError(errString("could not serialize access due to concurrent update")) {
		t.Fatal("serialization failure should be transient")
	}
	if isTransientTxError(errString("duplicate key value violates unique constraint")) {
		t.Fatal("duplicate key is not transient")
	}
	if isTransientTxError(nil) {
		t.Fatal("nil is not transient")
	}
}

type errString string

func (e errString) Error() string { return string(e) }

type bidFixture struct {
	store *memory.Store
	bids  *BidService
	round *models.Round
	now   time.Time
}

func newBidFixture(t *testing.T) *bidFixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	ledger := &Ledger{Repo: store, Logger: zap.NewNop(), Currency: "CRD"}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &bidFixture{store: store, now: now}

	auction := &models.Auction{Title: "spring drop", Status: models.AuctionActive}
	if err := store.InsertAuction(ctx, auction); err != nil {
		t.Fatalf("insert auction: %v", err)
	}
	round := &models.Round{
		AuctionID:     auction.ID,
		Seq:           1,
		Status:        models.RoundLive,
		StartAt:       now,
		EndAt:         now.Add(60 * time.Second),
		AwardCount:    2,
		MinBid:        dec(50),
		MinIncrement:  dec(10),
		ThresholdSec:  5,
		ExtendSec:     5,
		MaxExtensions: 2,
	}
	if err := store.InsertRoundTx(ctx, nil, round); err != nil {
		t.Fatalf("insert round: %v", err)
	}
	f.round = round
	f.bids = &BidService{
		Repo:   store,
		Ledger: ledger,
		Logger: zap.NewNop(),
		Now:    func() time.Time { return f.now },
	}
	return f
}

func (f *bidFixture) deposit(t *testing.T, userID string, amount int64) {
	t.Helper()
	if err := f.bids.Ledger.Deposit(context.Background(), userID, dec(amount)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
}

func (f *bidFixture) wallet(t *testing.T, userID string) *models.Wallet {
	t.Helper()
	w, err := f.store.GetWallet(context.Background(), userID, "CRD")
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if w == nil {
		t.Fatalf("no wallet for %s", userID)
	}
	return w
}

func TestPlaceBid_FirstAndIncrease(t *testing.T) {
	f := newBidFixture(t)
	ctx := context.Background()
	f.deposit(t, "alice", 1000)

	if _, err := f.bids.PlaceOrIncreaseBid(ctx, f.round.ID, "alice", "k1", dec(50)); err != nil {
		t.Fatalf("first bid: %v", err)
	}
	if got := f.wallet(t, "alice").Available; !got.Equal(dec(950)) {
		t.Fatalf("available=%s want=950", got)
	}

	_, err := f.bids.PlaceOrIncreaseBid(ctx, f.round.ID, "alice", "k2", dec(55))
	serr := AsError(err)
	if serr == nil || serr.Code != CodeBidTooLow {
		t.Fatalf("err=%v want BID_TOO_LOW", err)
	}
	if serr.Details["reason"] != ReasonMinIncrement || serr.Details["minimumTotal"] != "60" {
		t.Fatalf("details=%v want MIN_INCREMENT/60", serr.Details)
	}

	if _, err := f.bids.PlaceOrIncreaseBid(ctx, f.round.ID, "alice", "k3", dec(60)); err != nil {
		t.Fatalf("increase to 60: %v", err)
	}
	if got := f.wallet(t, "alice").Available; !got.Equal(dec(940)) {
		t.Fatalf("available=%s want=940", got)
	}
	bid, err := f.store.GetBidTx(ctx, nil, f.round.ID, "alice")
	if err != nil || bid == nil {
		t.Fatalf("bid row: %v %v", bid, err)
	}
	if !bid.AmountTotal.Equal(dec(60)) {
		t.Fatalf("total=%s want=60", bid.AmountTotal)
	}
}

func TestPlaceBid_IdempotentReplay(t *testing.T) {
	f := newBidFixture(t)
	ctx := context.Background()
	f.deposit(t, "alice", 100)

	first, err := f.bids.PlaceOrIncreaseBid(ctx, f.round.ID, "alice", "same-key", dec(50))
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	for i := 0; i < 3; i++ {
		again, err := f.bids.PlaceOrIncreaseBid(ctx, f.round.ID, "alice", "same-key", dec(50))
		if err != nil {
			t.Fatalf("replay %d: %v", i, err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("replay %d response differs:\n%s\n%s", i, first, again)
		}
	}
	// Applied exactly once.
	if got := f.wallet(t, "alice").Available; !got.Equal(dec(50)) {
		t.Fatalf("available=%s want=50", got)
	}
	reserved, err := f.store.SumReservedByUser(ctx, "alice", "CRD")
	if err != nil {
		t.Fatalf("sum reserved: %v", err)
	}
	if !reserved.Equal(dec(50)) {
		t.Fatalf("reserved=%s want=50", reserved)
	}
}

func TestPlaceBid_InsufficientFunds(t *testing.T) {
	f := newBidFixture(t)
	ctx := context.Background()
	f.deposit(t, "bob", 30)

	_, err := f.bids.PlaceOrIncreaseBid(ctx, f.round.ID, "bob", "k1", dec(50))
	serr := AsError(err)
	if serr == nil || serr.Code != CodeInsufficientFunds {
		t.Fatalf("err=%v want INSUFFICIENT_FUNDS", err)
	}
	if serr.Details["available"] != "30" || serr.Details["requiredDelta"] != "50" {
		t.Fatalf("details=%v", serr.Details)
	}
	// Rolled back: nothing reserved, nothing debited.
	if got := f.wallet(t, "bob").Available; !got.Equal(dec(30)) {
		t.Fatalf("available=%s want=30", got)
	}
	reserved, _ := f.store.SumReservedByUser(ctx, "bob", "CRD")
	if !reserved.IsZero() {
		t.Fatalf("reserved=%s want=0", reserved)
	}
}

func TestPlaceBid_RoundNotLive(t *testing.T) {
	f := newBidFixture(t)
	ctx := context.Background()
	f.deposit(t, "alice", 100)

	if _, err := f.store.SetRoundStatusGuarded(ctx, f.round.ID, models.RoundLive, models.RoundLocked); err != nil {
		t.Fatalf("lock round: %v", err)
	}
	_, err := f.bids.PlaceOrIncreaseBid(ctx, f.round.ID, "alice", "k1", dec(50))
	if serr := AsError(err); serr == nil || serr.Code != CodeRoundNotLive {
		t.Fatalf("err=%v want ROUND_NOT_LIVE", err)
	}
}

func TestPlaceBid_AuctionNotAcceptingBids(t *testing.T) {
	f := newBidFixture(t)
	ctx := context.Background()
	f.deposit(t, "alice", 100)

	// Round still LIVE but the auction has left ACTIVE: new reservations
	// would be stranded past the refund sweep.
	if err := f.store.SetAuctionStatusTx(ctx, nil, f.round.AuctionID, models.AuctionCancelingRefunds); err != nil {
		t.Fatalf("set status: %v", err)
	}
	_, err := f.bids.PlaceOrIncreaseBid(ctx, f.round.ID, "alice", "k1", dec(50))
	if serr := AsError(err); serr == nil || serr.Code != CodeRoundNotLive {
		t.Fatalf("err=%v want ROUND_NOT_LIVE", err)
	}
	if got := f.wallet(t, "alice").Available; !got.Equal(dec(100)) {
		t.Fatalf("available=%s want=100", got)
	}
}

func TestPlaceBid_ClockBeatsStatus(t *testing.T) {
	f := newBidFixture(t)
	ctx := context.Background()
	f.deposit(t, "alice", 100)

	// Round still LIVE but past its end: the wall clock closes the race with
	// the scheduler.
	f.now = f.round.EndAt.Add(time.Second)
	_, err := f.bids.PlaceOrIncreaseBid(ctx, f.round.ID, "alice", "k1", dec(50))
	if serr := AsError(err); serr == nil || serr.Code != CodeRoundNotLive {
		t.Fatalf("err=%v want ROUND_NOT_LIVE", err)
	}
}

func TestPlaceBid_AntiSnipeExtension(t *testing.T) {
	f := newBidFixture(t)
	ctx := context.Background()
	f.deposit(t, "alice", 1000)

	endAt := f.round.EndAt

	// 3 seconds remaining, threshold 5: the bid extends by 5 seconds.
	f.now = endAt.Add(-3 * time.Second)
	if _, err := f.bids.PlaceOrIncreaseBid(ctx, f.round.ID, "alice", "k1", dec(50)); err != nil {
		t.Fatalf("bid 1: %v", err)
	}
	round, _ := f.store.GetRound(ctx, f.round.ID)
	if !round.EndAt.Equal(endAt.Add(5 * time.Second)) {
		t.Fatalf("endAt=%v want=%v", round.EndAt, endAt.Add(5*time.Second))
	}
	if round.ExtensionsCount != 1 {
		t.Fatalf("extensions=%d want=1", round.ExtensionsCount)
	}

	// Second qualifying bid extends again.
	f.now = round.EndAt.Add(-2 * time.Second)
	if _, err := f.bids.PlaceOrIncreaseBid(ctx, f.round.ID, "alice", "k2", dec(60)); err != nil {
		t.Fatalf("bid 2: %v", err)
	}
	round, _ = f.store.GetRound(ctx, f.round.ID)
	if round.ExtensionsCount != 2 {
		t.Fatalf("extensions=%d want=2", round.ExtensionsCount)
	}
	frozenEnd := round.EndAt

	// Budget exhausted: a third qualifying bid is accepted but does not extend.
	f.now = frozenEnd.Add(-2 * time.Second)
	if _, err := f.bids.PlaceOrIncreaseBid(ctx, f.round.ID, "alice", "k3", dec(70)); err != nil {
		t.Fatalf("bid 3: %v", err)
	}
	round, _ = f.store.GetRound(ctx, f.round.ID)
	if !round.EndAt.Equal(frozenEnd) {
		t.Fatalf("endAt=%v want unchanged %v", round.EndAt, frozenEnd)
	}
	if round.ExtensionsCount != 2 {
		t.Fatalf("extensions=%d want=2", round.ExtensionsCount)
	}
}

// casRaceStore loses every bid compare-and-swap, optionally letting a
// concurrent writer move the total first, to drive the reconciliation path.
type casRaceStore struct {
	*memory.Store
	concurrentTotal decimal.Decimal
}

func (s *casRaceStore) CompareAndSwapBidTotalTx(ctx context.Context, tx *gorm.DB, bidID uint64, prevTotal, newTotal decimal.Decimal, at time.Time) (bool, error) {
	if s.concurrentTotal.Sign() > 0 {
		if _, err := s.Store.CompareAndSwapBidTotalTx(ctx, tx, bidID, prevTotal, s.concurrentTotal, at); err != nil {
			return false, err
		}
	}
	return false, nil
}

func TestPlaceBid_LostRaceAlreadySatisfied(t *testing.T) {
	f := newBidFixture(t)
	ctx := context.Background()
	f.deposit(t, "alice", 1000)
	if _, err := f.bids.PlaceOrIncreaseBid(ctx, f.round.ID, "alice", "k1", dec(50)); err != nil {
		t.Fatalf("first bid: %v", err)
	}

	// A concurrent writer lands 70 before our CAS for 60 runs. The target is
	// already exceeded, so the attempt succeeds without overwriting.
	f.bids.Repo = &casRaceStore{Store: f.store, concurrentTotal: dec(70)}
	if _, err := f.bids.PlaceOrIncreaseBid(ctx, f.round.ID, "alice", "k2", dec(60)); err != nil {
		t.Fatalf("increase: %v", err)
	}
	bid, _ := f.store.GetBidTx(ctx, nil, f.round.ID, "alice")
	if !bid.AmountTotal.Equal(dec(70)) {
		t.Fatalf("total=%s want the concurrent writer's 70", bid.AmountTotal)
	}
}

func TestPlaceBid_LostRaceConflicts(t *testing.T) {
	f := newBidFixture(t)
	ctx := context.Background()
	f.deposit(t, "alice", 1000)
	if _, err := f.bids.PlaceOrIncreaseBid(ctx, f.round.ID, "alice", "k1", dec(50)); err != nil {
		t.Fatalf("first bid: %v", err)
	}

	// The CAS fails but the stored total never reaches our target: the deltas
	// genuinely conflict and must not be merged.
	f.bids.Repo = &casRaceStore{Store: f.store}
	_, err := f.bids.PlaceOrIncreaseBid(ctx, f.round.ID, "alice", "k2", dec(60))
	if serr := AsError(err); serr == nil || serr.Code != CodeBidConflict {
		t.Fatalf("err=%v want BID_CONFLICT", err)
	}
	// Rolled back whole: total and wallet untouched by the failed attempt.
	bid, _ := f.store.GetBidTx(ctx, nil, f.round.ID, "alice")
	if !bid.AmountTotal.Equal(dec(50)) {
		t.Fatalf("total=%s want=50", bid.AmountTotal)
	}
	if got := f.wallet(t, "alice").Available; !got.Equal(dec(950)) {
		t.Fatalf("available=%s want=950", got)
	}
}

func TestPlaceBid_RequiresIdempotencyKey(t *testing.T) {
	f := newBidFixture(t)
	_, err := f.bids.PlaceOrIncreaseBid(context.Background(), f.round.ID, "alice", "  ", dec(50))
	if serr := AsError(err); serr == nil || serr.Code != CodeValidation {
		t.Fatalf("err=%v want VALIDATION_ERROR", err)
	}
}

func TestPlaceBid_EmitsOutboxEvents(t *testing.T) {
	f := newBidFixture(t)
	ctx := context.Background()
	f.deposit(t, "alice", 100)

	if _, err := f.bids.PlaceOrIncreaseBid(ctx, f.round.ID, "alice", "k1", dec(50)); err != nil {
		t.Fatalf("bid: %v", err)
	}
	events, err := f.store.ListNewOutbox(ctx, 10)
	if err != nil {
		t.Fatalf("list outbox: %v", err)
	}
	if len(events) != 1 || events[0].Type != "BID_ACCEPTED" {
		t.Fatalf("events=%+v want one BID_ACCEPTED", events)
	}
	if events[0].Seq == 0 {
		t.Fatal("event seq not allocated")
	}
}
