package hub

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"auctionhouse/internal/models"
)

// Filter restricts which published events a subscriber receives. Zero-valued
// fields match everything; AfterSeq is the resume floor, events at or below it
// are suppressed.
type Filter struct {
	AuctionID *uint64
	RoundID   *uint64
	AfterSeq  uint64
}

type subscriber struct {
	ch     chan models.OutboxEvent
	filter Filter
}

// Hub fans published outbox events out to live subscribers. It never blocks
// on a slow subscriber: full channels drop the event and the subscriber is
// expected to replay from its last-seen sequence after reconnecting.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID uint64
	closed bool

	logger  *zap.Logger
	dropped uint64
}

func New(logger *zap.Logger) *Hub {
	return &Hub{
		subs:   map[uint64]*subscriber{},
		logger: logger,
	}
}

// Subscribe registers a channel receiving events matching the filter. The
// returned cancel func must be called exactly once; it closes the channel.
func (h *Hub) Subscribe(filter Filter, buf int) (<-chan models.OutboxEvent, func()) {
	if buf <= 0 {
		buf = 32
	}
	ch := make(chan models.OutboxEvent, buf)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.nextID++
	id := h.nextID
	h.subs[id] = &subscriber{ch: ch, filter: filter}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub.ch)
			}
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

func (h *Hub) Publish(event models.OutboxEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for _, sub := range h.subs {
		if !matches(sub.filter, event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Drop when subscriber is slow; hub must not block.
			atomic.AddUint64(&h.dropped, 1)
		}
	}
}

// Close shuts the hub down and closes every subscriber channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
	if h.logger != nil && atomic.LoadUint64(&h.dropped) > 0 {
		h.logger.Info("event hub closed", zap.Uint64("dropped_fanout", atomic.LoadUint64(&h.dropped)))
	}
}

func (h *Hub) Dropped() uint64 {
	return atomic.LoadUint64(&h.dropped)
}

func matches(f Filter, event models.OutboxEvent) bool {
	if event.Seq <= f.AfterSeq {
		return false
	}
	if f.AuctionID != nil && (event.AuctionID == nil || *event.AuctionID != *f.AuctionID) {
		return false
	}
	if f.RoundID != nil && (event.RoundID == nil || *event.RoundID != *f.RoundID) {
		return false
	}
	return true
}
