package hub

import (
	"testing"

	"go.uber.org/zap"

	"auctionhouse/internal/models"
)

func event(seq uint64, auctionID, roundID uint64) models.OutboxEvent {
	e := models.OutboxEvent{Seq: seq, Type: "BID_ACCEPTED"}
	if auctionID > 0 {
		e.AuctionID = &auctionID
	}
	if roundID > 0 {
		e.RoundID = &roundID
	}
	return e
}

func drain(ch <-chan models.OutboxEvent) []models.OutboxEvent {
	var out []models.OutboxEvent
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestHub_FanOutAndFilter(t *testing.T) {
	h := New(zap.NewNop())
	defer h.Close()

	all, cancelAll := h.Subscribe(Filter{}, 8)
	defer cancelAll()

	a1 := uint64(1)
	onlyA1, cancelA1 := h.Subscribe(Filter{AuctionID: &a1}, 8)
	defer cancelA1()

	r7 := uint64(7)
	onlyR7, cancelR7 := h.Subscribe(Filter{RoundID: &r7}, 8)
	defer cancelR7()

	h.Publish(event(1, 1, 7))
	h.Publish(event(2, 2, 8))
	h.Publish(event(3, 1, 9))

	if got := drain(all); len(got) != 3 {
		t.Fatalf("all got %d events", len(got))
	}
	gotA1 := drain(onlyA1)
	if len(gotA1) != 2 || gotA1[0].Seq != 1 || gotA1[1].Seq != 3 {
		t.Fatalf("auction filter got %+v", gotA1)
	}
	gotR7 := drain(onlyR7)
	if len(gotR7) != 1 || gotR7[0].Seq != 1 {
		t.Fatalf("round filter got %+v", gotR7)
	}
}

func TestHub_AfterSeqFloor(t *testing.T) {
	h := New(zap.NewNop())
	defer h.Close()

	ch, cancel := h.Subscribe(Filter{AfterSeq: 5}, 8)
	defer cancel()

	h.Publish(event(4, 0, 0))
	h.Publish(event(5, 0, 0))
	h.Publish(event(6, 0, 0))

	got := drain(ch)
	if len(got) != 1 || got[0].Seq != 6 {
		t.Fatalf("got %+v want only seq 6", got)
	}
}

func TestHub_SlowSubscriberDrops(t *testing.T) {
	h := New(zap.NewNop())
	defer h.Close()

	ch, cancel := h.Subscribe(Filter{}, 1)
	defer cancel()

	h.Publish(event(1, 0, 0))
	h.Publish(event(2, 0, 0)) // buffer full, dropped

	got := drain(ch)
	if len(got) != 1 || got[0].Seq != 1 {
		t.Fatalf("got %+v", got)
	}
	if h.Dropped() != 1 {
		t.Fatalf("dropped=%d want 1", h.Dropped())
	}
}

func TestHub_CancelIsIdempotentAndStopsDelivery(t *testing.T) {
	h := New(zap.NewNop())
	defer h.Close()

	ch, cancel := h.Subscribe(Filter{}, 8)
	cancel()
	cancel() // second call must not panic

	if _, ok := <-ch; ok {
		t.Fatal("channel not closed after cancel")
	}
	h.Publish(event(1, 0, 0)) // must not panic on the removed subscriber
}

func TestHub_Close(t *testing.T) {
	h := New(zap.NewNop())

	ch, cancel := h.Subscribe(Filter{}, 8)
	h.Close()

	if _, ok := <-ch; ok {
		t.Fatal("channel not closed on hub close")
	}
	h.Publish(event(1, 0, 0)) // no-op after close
	cancel()                  // safe after close

	// Subscribing to a closed hub yields a closed channel.
	ch2, cancel2 := h.Subscribe(Filter{}, 8)
	defer cancel2()
	if _, ok := <-ch2; ok {
		t.Fatal("subscribe after close returned an open channel")
	}
}
