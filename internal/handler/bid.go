package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"auctionhouse/internal/service"
)

type BidHandler struct {
	Bids *service.BidService
}

func (h *BidHandler) Register(r *gin.Engine, mw ...gin.HandlerFunc) {
	g := r.Group("/api/rounds", mw...)
	g.POST("/:id/bids", h.placeBid)
}

type placeBidRequest struct {
	AmountTotal decimal.Decimal `json:"amountTotal"`
}

// placeBid accepts a desired cumulative total for the caller in a round. The
// response body is the stored idempotency receipt, so a retried key returns
// byte-identical bytes.
func (h *BidHandler) placeBid(c *gin.Context) {
	roundID := uint64Param(c, "id")
	if roundID == 0 {
		Error(c, http.StatusBadRequest, "invalid round id", nil)
		return
	}
	key := strings.TrimSpace(c.GetHeader("X-Idempotency-Key"))
	if key == "" {
		Error(c, http.StatusBadRequest, "X-Idempotency-Key header is required", nil)
		return
	}
	var req placeBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body: "+err.Error(), nil)
		return
	}
	raw, err := h.Bids.PlaceOrIncreaseBid(c.Request.Context(), roundID, UserID(c), key, req.AmountTotal)
	if err != nil {
		Fail(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", raw)
}
