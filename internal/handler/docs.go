package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func RegisterDocs(r *gin.Engine) {
	r.GET("/docs", func(c *gin.Context) {
		c.Header("Content-Type", "text/markdown; charset=utf-8")
		c.String(http.StatusOK, `# Auction House Engine

Transactional multi-round auction bidding and settlement.

## Auth

User routes resolve the caller from the X-User-ID header (or a userId query
parameter). Admin routes are expected to sit behind a gateway.

## Routes

- GET  /healthz
- GET  /readyz
- POST /api/admin/auctions
- POST /api/admin/auctions/:id/items
- POST /api/admin/auctions/:id/start
- POST /api/admin/auctions/:id/cancel
- POST /api/admin/deposits
- POST /api/rounds/:id/bids          (X-Idempotency-Key required)
- GET  /api/auctions
- GET  /api/auctions/:id
- GET  /api/rounds/:id/top
- GET  /api/me/wallet
- GET  /api/me/bids
- GET  /api/me/awards
- GET  /api/events?afterSeq&auctionId&roundId&limit
- GET  /api/events/stream?afterSeq&auctionId&roundId   (SSE)

## Events

BID_ACCEPTED, ROUND_EXTENDED, ROUND_STARTED, ROUND_LOCKED, AWARD_ISSUED,
ROUND_SETTLED, NEXT_ROUND_CREATED, ITEMS_DEPLETED, AUCTION_STARTED,
AUCTION_CANCELLED, ROUND_VOIDED, REFUND_DONE, AUCTION_REFUNDS_COMPLETED.

Every event carries a strictly increasing seq allocated in the same
transaction as its cause; stream consumers dedupe on seq and replay gaps via
GET /api/events.
`)
	})
}
