// Package memory implements Repository on plain maps. It backs the service
// and worker tests; the semantics (guards, unique keys, ordering) mirror the
// gorm store so tests exercise the same contract the database enforces.
package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"auctionhouse/internal/models"
	"auctionhouse/internal/repository"
)

type Store struct {
	auctions  map[uint64]models.Auction
	rounds    map[uint64]models.Round
	roundSeqs map[string]bool
	bids      map[uint64]models.Bid
	wallets   map[string]models.Wallet
	parts     map[string]models.Participation
	ledger    []models.LedgerEntry
	ledgerKey map[string]bool
	items     map[uint64]models.Item
	awards    map[string]models.Award
	itemAward map[uint64]bool
	outbox    []models.OutboxEvent
	receipts  map[string]models.Receipt

	nextID map[string]uint64
	seq    uint64

	Now func() time.Time
}

func New() *Store {
	return &Store{
		auctions:  map[uint64]models.Auction{},
		rounds:    map[uint64]models.Round{},
		roundSeqs: map[string]bool{},
		bids:      map[uint64]models.Bid{},
		wallets:   map[string]models.Wallet{},
		parts:     map[string]models.Participation{},
		ledgerKey: map[string]bool{},
		items:     map[uint64]models.Item{},
		awards:    map[string]models.Award{},
		itemAward: map[uint64]bool{},
		receipts:  map[string]models.Receipt{},
		nextID:    map[string]uint64{},
	}
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Store) id(kind string) uint64 {
	s.nextID[kind]++
	return s.nextID[kind]
}

func walletKey(userID, currency string) string {
	return userID + "|" + currency
}

func partKey(userID string, auctionID uint64, currency string) string {
	return fmt.Sprintf("%s|%d|%s", userID, auctionID, currency)
}

// InTx snapshots the whole store and restores it when fn fails, giving tests
// the same all-or-nothing behavior a database transaction has.
func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	snap := s.clone()
	if err := fn(nil); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *Store) clone() *Store {
	c := New()
	for k, v := range s.auctions {
		c.auctions[k] = v
	}
	for k, v := range s.rounds {
		c.rounds[k] = v
	}
	for k, v := range s.roundSeqs {
		c.roundSeqs[k] = v
	}
	for k, v := range s.bids {
		c.bids[k] = v
	}
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.parts {
		c.parts[k] = v
	}
	c.ledger = append([]models.LedgerEntry(nil), s.ledger...)
	for k, v := range s.ledgerKey {
		c.ledgerKey[k] = v
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.awards {
		c.awards[k] = v
	}
	for k, v := range s.itemAward {
		c.itemAward[k] = v
	}
	c.outbox = append([]models.OutboxEvent(nil), s.outbox...)
	for k, v := range s.receipts {
		c.receipts[k] = v
	}
	for k, v := range s.nextID {
		c.nextID[k] = v
	}
	c.seq = s.seq
	return c
}

func (s *Store) restore(c *Store) {
	s.auctions = c.auctions
	s.rounds = c.rounds
	s.roundSeqs = c.roundSeqs
	s.bids = c.bids
	s.wallets = c.wallets
	s.parts = c.parts
	s.ledger = c.ledger
	s.ledgerKey = c.ledgerKey
	s.items = c.items
	s.awards = c.awards
	s.itemAward = c.itemAward
	s.outbox = c.outbox
	s.receipts = c.receipts
	s.nextID = c.nextID
	s.seq = c.seq
}

// --- wallets ----------------------------------------------------------------

func (s *Store) EnsureWallet(ctx context.Context, userID, currency string) error {
	key := walletKey(userID, currency)
	if _, ok := s.wallets[key]; ok {
		return nil
	}
	s.wallets[key] = models.Wallet{
		ID:        s.id("wallet"),
		UserID:    userID,
		Currency:  currency,
		Available: decimal.Zero,
	}
	return nil
}

func (s *Store) GetWallet(ctx context.Context, userID, currency string) (*models.Wallet, error) {
	if w, ok := s.wallets[walletKey(userID, currency)]; ok {
		return &w, nil
	}
	return nil, nil
}

func (s *Store) GetWalletTx(ctx context.Context, tx *gorm.DB, userID, currency string) (*models.Wallet, error) {
	return s.GetWallet(ctx, userID, currency)
}

func (s *Store) CreditAvailableTx(ctx context.Context, tx *gorm.DB, userID, currency string, amount decimal.Decimal) error {
	key := walletKey(userID, currency)
	w, ok := s.wallets[key]
	if !ok {
		w = models.Wallet{ID: s.id("wallet"), UserID: userID, Currency: currency, Available: decimal.Zero}
	}
	w.Available = w.Available.Add(amount)
	w.Version++
	s.wallets[key] = w
	return nil
}

func (s *Store) DebitAvailableGuardedTx(ctx context.Context, tx *gorm.DB, userID, currency string, amount decimal.Decimal) (bool, error) {
	key := walletKey(userID, currency)
	w, ok := s.wallets[key]
	if !ok || w.Available.LessThan(amount) {
		return false, nil
	}
	w.Available = w.Available.Sub(amount)
	w.Version++
	s.wallets[key] = w
	return true, nil
}

// --- participations ---------------------------------------------------------

func (s *Store) CreditParticipationTx(ctx context.Context, tx *gorm.DB, userID string, auctionID uint64, currency string, amount decimal.Decimal) error {
	key := partKey(userID, auctionID, currency)
	p, ok := s.parts[key]
	if !ok {
		p = models.Participation{ID: s.id("part"), UserID: userID, AuctionID: auctionID, Currency: currency, Reserved: decimal.Zero}
	}
	p.Reserved = p.Reserved.Add(amount)
	p.Version++
	s.parts[key] = p
	return nil
}

func (s *Store) DebitParticipationGuardedTx(ctx context.Context, tx *gorm.DB, userID string, auctionID uint64, currency string, amount decimal.Decimal) (bool, error) {
	key := partKey(userID, auctionID, currency)
	p, ok := s.parts[key]
	if !ok || p.Reserved.LessThan(amount) {
		return false, nil
	}
	p.Reserved = p.Reserved.Sub(amount)
	p.Version++
	s.parts[key] = p
	return true, nil
}

func (s *Store) GetParticipationTx(ctx context.Context, tx *gorm.DB, userID string, auctionID uint64, currency string) (*models.Participation, error) {
	if p, ok := s.parts[partKey(userID, auctionID, currency)]; ok {
		return &p, nil
	}
	return nil, nil
}

func (s *Store) ListRefundableParticipations(ctx context.Context, auctionID uint64, currency string, afterID uint64, limit int) ([]models.Participation, error) {
	var out []models.Participation
	for _, p := range s.parts {
		if p.AuctionID == auctionID && p.Currency == currency && p.Reserved.Sign() > 0 && p.ID > afterID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) SumReservedByUser(ctx context.Context, userID, currency string) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, p := range s.parts {
		if p.UserID == userID && p.Currency == currency {
			sum = sum.Add(p.Reserved)
		}
	}
	return sum, nil
}

// --- ledger -----------------------------------------------------------------

func (s *Store) InsertLedgerEntryTx(ctx context.Context, tx *gorm.DB, entry *models.LedgerEntry) error {
	if entry.IdempotencyKey != nil {
		if s.ledgerKey[*entry.IdempotencyKey] {
			return repository.ErrDuplicateKey
		}
		s.ledgerKey[*entry.IdempotencyKey] = true
	}
	entry.ID = s.id("ledger")
	entry.CreatedAt = s.now()
	s.ledger = append(s.ledger, *entry)
	return nil
}

func (s *Store) ListLedgerEntriesByUser(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	var out []models.LedgerEntry
	for i := len(s.ledger) - 1; i >= 0; i-- {
		if s.ledger[i].UserID == userID {
			out = append(out, s.ledger[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// --- auctions ---------------------------------------------------------------

func (s *Store) InsertAuction(ctx context.Context, auction *models.Auction) error {
	auction.ID = s.id("auction")
	auction.CreatedAt = s.now()
	s.auctions[auction.ID] = *auction
	return nil
}

func (s *Store) GetAuction(ctx context.Context, id uint64) (*models.Auction, error) {
	if a, ok := s.auctions[id]; ok {
		return &a, nil
	}
	return nil, nil
}

func (s *Store) GetAuctionTx(ctx context.Context, tx *gorm.DB, id uint64) (*models.Auction, error) {
	return s.GetAuction(ctx, id)
}

func (s *Store) ListAuctions(ctx context.Context, statuses []string, limit int) ([]models.Auction, error) {
	var out []models.Auction
	for _, a := range s.auctions {
		for _, st := range statuses {
			if a.Status == st {
				out = append(out, a)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) SetAuctionStatusGuarded(ctx context.Context, id uint64, from []string, to string) (bool, error) {
	return s.SetAuctionStatusGuardedTx(ctx, nil, id, from, to)
}

func (s *Store) SetAuctionStatusGuardedTx(ctx context.Context, tx *gorm.DB, id uint64, from []string, to string) (bool, error) {
	a, ok := s.auctions[id]
	if !ok {
		return false, nil
	}
	for _, st := range from {
		if a.Status == st {
			a.Status = to
			s.auctions[id] = a
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) SetAuctionStatusTx(ctx context.Context, tx *gorm.DB, id uint64, to string) error {
	if a, ok := s.auctions[id]; ok {
		a.Status = to
		s.auctions[id] = a
	}
	return nil
}

func (s *Store) SetActiveRoundTx(ctx context.Context, tx *gorm.DB, auctionID uint64, roundID *uint64) error {
	if a, ok := s.auctions[auctionID]; ok {
		a.ActiveRoundID = roundID
		s.auctions[auctionID] = a
	}
	return nil
}

func (s *Store) FindAuctionInRefund(ctx context.Context) (*models.Auction, error) {
	var ids []uint64
	for id, a := range s.auctions {
		if a.Status == models.AuctionCompletingRefunds || a.Status == models.AuctionCancelingRefunds {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	a := s.auctions[ids[0]]
	return &a, nil
}

func (s *Store) SaveRefundCursor(ctx context.Context, auctionID, lastParticipationID uint64) error {
	if a, ok := s.auctions[auctionID]; ok {
		a.RefundCursorID = lastParticipationID
		s.auctions[auctionID] = a
	}
	return nil
}

// --- rounds -----------------------------------------------------------------

func (s *Store) InsertRoundTx(ctx context.Context, tx *gorm.DB, round *models.Round) error {
	seqKey := fmt.Sprintf("%d|%d", round.AuctionID, round.Seq)
	if s.roundSeqs[seqKey] {
		return repository.ErrDuplicateKey
	}
	s.roundSeqs[seqKey] = true
	round.ID = s.id("round")
	round.CreatedAt = s.now()
	s.rounds[round.ID] = *round
	return nil
}

func (s *Store) GetRound(ctx context.Context, id uint64) (*models.Round, error) {
	if r, ok := s.rounds[id]; ok {
		return &r, nil
	}
	return nil, nil
}

func (s *Store) GetRoundTx(ctx context.Context, tx *gorm.DB, id uint64) (*models.Round, error) {
	return s.GetRound(ctx, id)
}

func (s *Store) FindDueRound(ctx context.Context, status string, now time.Time) (*models.Round, error) {
	var ids []uint64
	for id, r := range s.rounds {
		if r.Status != status {
			continue
		}
		boundary := r.StartAt
		if status == models.RoundLive {
			boundary = r.EndAt
		}
		if !boundary.After(now) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	r := s.rounds[ids[0]]
	return &r, nil
}

func (s *Store) FindRoundByStatus(ctx context.Context, status string) (*models.Round, error) {
	var ids []uint64
	for id, r := range s.rounds {
		if r.Status == status {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	r := s.rounds[ids[0]]
	return &r, nil
}

func (s *Store) SetRoundStatusGuardedTx(ctx context.Context, tx *gorm.DB, id uint64, from, to string) (bool, error) {
	r, ok := s.rounds[id]
	if !ok || r.Status != from {
		return false, nil
	}
	r.Status = to
	s.rounds[id] = r
	return true, nil
}

func (s *Store) SetRoundStatusGuarded(ctx context.Context, id uint64, from, to string) (bool, error) {
	return s.SetRoundStatusGuardedTx(ctx, nil, id, from, to)
}

func (s *Store) ClaimDueRoundTx(ctx context.Context, tx *gorm.DB, id uint64, from, to string, dueBy time.Time) (bool, error) {
	r, ok := s.rounds[id]
	if !ok || r.Status != from {
		return false, nil
	}
	boundary := r.StartAt
	if from == models.RoundLive {
		boundary = r.EndAt
	}
	if boundary.After(dueBy) {
		return false, nil
	}
	r.Status = to
	s.rounds[id] = r
	return true, nil
}

func (s *Store) ExtendRoundGuardedTx(ctx context.Context, tx *gorm.DB, id uint64, newEnd time.Time, maxExtensions int, now time.Time) (bool, error) {
	r, ok := s.rounds[id]
	if !ok || r.Status != models.RoundLive || r.ExtensionsCount >= maxExtensions {
		return false, nil
	}
	if !r.EndAt.After(now) || !newEnd.After(r.EndAt) {
		return false, nil
	}
	r.EndAt = newEnd
	r.ExtensionsCount++
	s.rounds[id] = r
	return true, nil
}

func (s *Store) BumpRoundStatsTx(ctx context.Context, tx *gorm.DB, id uint64, newBidder bool, total decimal.Decimal) error {
	r, ok := s.rounds[id]
	if !ok {
		return nil
	}
	r.BidsCount++
	if newBidder {
		r.UniqueBidders++
	}
	if total.GreaterThan(r.TopBidAmount) {
		r.TopBidAmount = total
	}
	s.rounds[id] = r
	return nil
}

// --- bids -------------------------------------------------------------------

func (s *Store) GetBidTx(ctx context.Context, tx *gorm.DB, roundID uint64, userID string) (*models.Bid, error) {
	for _, b := range s.bids {
		if b.RoundID == roundID && b.UserID == userID {
			return &b, nil
		}
	}
	return nil, nil
}

func (s *Store) InsertBidTx(ctx context.Context, tx *gorm.DB, bid *models.Bid) error {
	for _, b := range s.bids {
		if b.RoundID == bid.RoundID && b.UserID == bid.UserID {
			return repository.ErrDuplicateKey
		}
	}
	bid.ID = s.id("bid")
	bid.CreatedAt = s.now()
	s.bids[bid.ID] = *bid
	return nil
}

func (s *Store) CompareAndSwapBidTotalTx(ctx context.Context, tx *gorm.DB, bidID uint64, prevTotal, newTotal decimal.Decimal, at time.Time) (bool, error) {
	b, ok := s.bids[bidID]
	if !ok || !b.AmountTotal.Equal(prevTotal) {
		return false, nil
	}
	b.AmountTotal = newTotal
	b.LastBidAt = at
	b.Version++
	s.bids[bidID] = b
	return true, nil
}

func rankLess(a, b models.Bid) bool {
	if !a.AmountTotal.Equal(b.AmountTotal) {
		return a.AmountTotal.GreaterThan(b.AmountTotal)
	}
	if !a.LastBidAt.Equal(b.LastBidAt) {
		return a.LastBidAt.Before(b.LastBidAt)
	}
	return a.UserID < b.UserID
}

func (s *Store) ListTopBidsTx(ctx context.Context, tx *gorm.DB, roundID uint64, limit int) ([]models.Bid, error) {
	return s.ListTopBids(ctx, roundID, limit)
}

func (s *Store) ListTopBids(ctx context.Context, roundID uint64, limit int) ([]models.Bid, error) {
	var out []models.Bid
	for _, b := range s.bids {
		if b.RoundID == roundID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return rankLess(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListBidsByUser(ctx context.Context, userID string, limit int) ([]models.Bid, error) {
	var out []models.Bid
	for _, b := range s.bids {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- items ------------------------------------------------------------------

func (s *Store) InsertItems(ctx context.Context, items []models.Item) error {
	for i := range items {
		items[i].ID = s.id("item")
		items[i].CreatedAt = s.now()
		s.items[items[i].ID] = items[i]
	}
	return nil
}

func (s *Store) ListAvailableItemsTx(ctx context.Context, tx *gorm.DB, auctionID uint64, limit int) ([]models.Item, error) {
	var out []models.Item
	for _, it := range s.items {
		if it.AuctionID == auctionID && it.Status == models.ItemAvailable {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CountAvailableItemsTx(ctx context.Context, tx *gorm.DB, auctionID uint64) (int64, error) {
	var n int64
	for _, it := range s.items {
		if it.AuctionID == auctionID && it.Status == models.ItemAvailable {
			n++
		}
	}
	return n, nil
}

func (s *Store) AwardItemTx(ctx context.Context, tx *gorm.DB, itemID uint64, userID, awardID string) (bool, error) {
	it, ok := s.items[itemID]
	if !ok || it.Status != models.ItemAvailable {
		return false, nil
	}
	it.Status = models.ItemAwarded
	it.AwardedToUserID = &userID
	it.AwardID = &awardID
	s.items[itemID] = it
	return true, nil
}

// --- awards -----------------------------------------------------------------

func (s *Store) GetAwardTx(ctx context.Context, tx *gorm.DB, id string) (*models.Award, error) {
	if a, ok := s.awards[id]; ok {
		return &a, nil
	}
	return nil, nil
}

func (s *Store) InsertAwardTx(ctx context.Context, tx *gorm.DB, award *models.Award) error {
	if _, ok := s.awards[award.ID]; ok {
		return repository.ErrDuplicateKey
	}
	if s.itemAward[award.ItemID] {
		return repository.ErrDuplicateKey
	}
	s.itemAward[award.ItemID] = true
	award.CreatedAt = s.now()
	s.awards[award.ID] = *award
	return nil
}

func (s *Store) ListAwardsByUser(ctx context.Context, userID string, limit int) ([]models.Award, error) {
	var out []models.Award
	for _, a := range s.awards {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- outbox -----------------------------------------------------------------

func (s *Store) AppendOutboxTx(ctx context.Context, tx *gorm.DB, event *models.OutboxEvent) error {
	s.seq++
	event.ID = s.id("outbox")
	event.Seq = s.seq
	event.Status = models.OutboxNew
	event.CreatedAt = s.now()
	s.outbox = append(s.outbox, *event)
	return nil
}

func (s *Store) ListNewOutbox(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	var out []models.OutboxEvent
	for _, e := range s.outbox {
		if e.Status == models.OutboxNew {
			out = append(out, e)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) MarkOutboxPublished(ctx context.Context, id uint64, at time.Time) error {
	for i := range s.outbox {
		if s.outbox[i].ID == id {
			s.outbox[i].Status = models.OutboxPublished
			s.outbox[i].PublishedAt = &at
		}
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, params repository.ListEventsParams) ([]models.OutboxEvent, error) {
	var out []models.OutboxEvent
	for _, e := range s.outbox {
		if e.Seq <= params.AfterSeq {
			continue
		}
		if params.AuctionID != nil && (e.AuctionID == nil || *e.AuctionID != *params.AuctionID) {
			continue
		}
		if params.RoundID != nil && (e.RoundID == nil || *e.RoundID != *params.RoundID) {
			continue
		}
		out = append(out, e)
		if params.Limit > 0 && len(out) == params.Limit {
			break
		}
	}
	return out, nil
}

// --- receipts ---------------------------------------------------------------

func (s *Store) InsertReceiptTx(ctx context.Context, tx *gorm.DB, receipt *models.Receipt) error {
	if _, ok := s.receipts[receipt.IdempotencyKey]; ok {
		return repository.ErrDuplicateKey
	}
	receipt.ID = s.id("receipt")
	receipt.CreatedAt = s.now()
	s.receipts[receipt.IdempotencyKey] = *receipt
	return nil
}

func (s *Store) GetReceipt(ctx context.Context, idempotencyKey string) (*models.Receipt, error) {
	if r, ok := s.receipts[idempotencyKey]; ok {
		return &r, nil
	}
	return nil, nil
}

func (s *Store) GetReceiptTx(ctx context.Context, tx *gorm.DB, idempotencyKey string) (*models.Receipt, error) {
	return s.GetReceipt(ctx, idempotencyKey)
}

var _ repository.Repository = (*Store)(nil)
