package handler

import (
	"io"
	"strconv"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"auctionhouse/internal/hub"
)

type EventStreamHandler struct {
	Hub       *hub.Hub
	Keepalive time.Duration
}

func (h *EventStreamHandler) Register(r *gin.Engine) {
	r.GET("/api/events/stream", h.stream)
}

// stream is the live subscription: server-sent events filtered by optional
// auction_id / round_id and an after_seq floor. Clients reconnect with their
// last-seen sequence and use /api/events to fill any gap.
func (h *EventStreamHandler) stream(c *gin.Context) {
	filter := hub.Filter{
		AuctionID: uint64QueryPtr(c, "auctionId"),
		RoundID:   uint64QueryPtr(c, "roundId"),
		AfterSeq:  uint64Query(c, "afterSeq"),
	}
	events, cancel := h.Hub.Subscribe(filter, 64)
	defer cancel()

	keepalive := h.Keepalive
	if keepalive <= 0 {
		keepalive = 15 * time.Second
	}
	ticker := time.NewTicker(keepalive)
	defer ticker.Stop()

	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-clientGone:
			return false
		case event, ok := <-events:
			if !ok {
				return false
			}
			c.Render(-1, sse.Event{
				Id:    strconv.FormatUint(event.Seq, 10),
				Event: "message",
				Data:  event,
			})
			return true
		case <-ticker.C:
			c.SSEvent("keepalive", gin.H{"ts": time.Now().UTC()})
			return true
		}
	})
}
