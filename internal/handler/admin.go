package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"auctionhouse/internal/models"
	"auctionhouse/internal/service"
)

type AdminHandler struct {
	Admin *service.AdminService
}

func (h *AdminHandler) Register(r *gin.Engine) {
	g := r.Group("/api/admin")
	g.POST("/auctions", h.createAuction)
	g.POST("/auctions/:id/items", h.seedItems)
	g.POST("/auctions/:id/start", h.startAuction)
	g.POST("/auctions/:id/cancel", h.cancelAuction)
	g.POST("/deposits", h.deposit)
}

type createAuctionRequest struct {
	Title  string             `json:"title"`
	Config models.RoundConfig `json:"config"`
}

func (h *AdminHandler) createAuction(c *gin.Context) {
	var req createAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body: "+err.Error(), nil)
		return
	}
	auction, err := h.Admin.CreateAuction(c.Request.Context(), service.CreateAuctionInput{
		Title:  req.Title,
		Config: req.Config,
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, auction, nil)
}

type seedItemsRequest struct {
	Count      int    `json:"count"`
	NamePrefix string `json:"namePrefix"`
}

func (h *AdminHandler) seedItems(c *gin.Context) {
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid auction id", nil)
		return
	}
	var req seedItemsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body: "+err.Error(), nil)
		return
	}
	created, err := h.Admin.SeedItems(c.Request.Context(), id, req.Count, req.NamePrefix)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, gin.H{"created": created}, nil)
}

func (h *AdminHandler) startAuction(c *gin.Context) {
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid auction id", nil)
		return
	}
	round, err := h.Admin.StartAuction(c.Request.Context(), id)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, round, nil)
}

func (h *AdminHandler) cancelAuction(c *gin.Context) {
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid auction id", nil)
		return
	}
	status, err := h.Admin.CancelAuction(c.Request.Context(), id)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, gin.H{"status": status}, nil)
}

type depositRequest struct {
	UserID string          `json:"userId"`
	Amount decimal.Decimal `json:"amount"`
}

func (h *AdminHandler) deposit(c *gin.Context) {
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body: "+err.Error(), nil)
		return
	}
	if err := h.Admin.Deposit(c.Request.Context(), req.UserID, req.Amount); err != nil {
		Fail(c, err)
		return
	}
	Ok(c, gin.H{"userId": req.UserID, "amount": req.Amount}, nil)
}
