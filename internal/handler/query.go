package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"auctionhouse/internal/repository"
	"auctionhouse/internal/service"
)

type QueryHandler struct {
	Query *service.QueryService
}

func (h *QueryHandler) Register(r *gin.Engine, requireUser gin.HandlerFunc) {
	r.GET("/api/auctions", h.listAuctions)
	r.GET("/api/auctions/:id", h.getAuction)
	r.GET("/api/rounds/:id/top", h.roundTop)
	r.GET("/api/events", h.listEvents)

	me := r.Group("/api/me", requireUser)
	me.GET("/wallet", h.myWallet)
	me.GET("/bids", h.myBids)
	me.GET("/awards", h.myAwards)
}

func (h *QueryHandler) listAuctions(c *gin.Context) {
	items, err := h.Query.ListAuctions(c.Request.Context())
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, items, nil)
}

func (h *QueryHandler) getAuction(c *gin.Context) {
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid auction id", nil)
		return
	}
	detail, err := h.Query.GetAuction(c.Request.Context(), id)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, detail, nil)
}

func (h *QueryHandler) roundTop(c *gin.Context) {
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid round id", nil)
		return
	}
	top, err := h.Query.GetRoundTop(c.Request.Context(), id, intQuery(c, "limit", 10))
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, top, nil)
}

// listEvents is the replay endpoint: events strictly after a sequence number,
// in sequence order, optionally narrowed to one auction or round.
func (h *QueryHandler) listEvents(c *gin.Context) {
	params := repository.ListEventsParams{
		AfterSeq:  uint64Query(c, "afterSeq"),
		AuctionID: uint64QueryPtr(c, "auctionId"),
		RoundID:   uint64QueryPtr(c, "roundId"),
		Limit:     intQuery(c, "limit", 100),
	}
	events, err := h.Query.ListEvents(c.Request.Context(), params)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, events, nil)
}

func (h *QueryHandler) myWallet(c *gin.Context) {
	wallet, err := h.Query.GetWallet(c.Request.Context(), UserID(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, wallet, nil)
}

func (h *QueryHandler) myBids(c *gin.Context) {
	bids, err := h.Query.GetMyBids(c.Request.Context(), UserID(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, bids, nil)
}

func (h *QueryHandler) myAwards(c *gin.Context) {
	awards, err := h.Query.GetMyAwards(c.Request.Context(), UserID(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, awards, nil)
}

func uint64Param(c *gin.Context, key string) uint64 {
	return parseUint64(c.Param(key))
}

func uint64Query(c *gin.Context, key string) uint64 {
	return parseUint64(c.Query(key))
}

func uint64QueryPtr(c *gin.Context, key string) *uint64 {
	if v := parseUint64(c.Query(key)); v > 0 {
		return &v
	}
	return nil
}

func intQuery(c *gin.Context, key string, def int) int {
	if val := c.Query(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return def
}

func parseUint64(v string) uint64 {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	out, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0
	}
	return out
}
