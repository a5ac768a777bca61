package payout

import (
	"net/http"

	"smallbiznis-missions/pkg/db/pagination"
	"smallbiznis-missions/pkg/errutil"
	"smallbiznis-missions/pkg/middleware"

	"github.com/gin-gonic/gin"
)

const HeaderIdempotencyKey = "Idempotency-Key"

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(r *gin.RouterGroup) {
	r.GET("/members/:id/balance", h.Balance)

	r.POST("/payout-accounts", h.RegisterAccount)
	r.GET("/payout-accounts", h.ListAccounts)
	r.POST("/payout-accounts/:id/primary", h.SetPrimary)

	r.POST("/payouts", h.RequestPayout)
	r.GET("/payouts", h.ListRequests)
	r.GET("/payouts/:id", h.GetRequest)
	r.POST("/payouts/:id/settle", h.Settle)
}

func (h *Handler) Balance(c *gin.Context) {
	memberID := c.Param("id")
	if !middleware.RequireSelf(c, memberID) {
		return
	}

	b, err := h.service.AvailableBalance(c.Request.Context(), memberID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *Handler) RegisterAccount(c *gin.Context) {
	var req RegisterAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}
	req.MemberID = middleware.GetIdentity(c).MemberID

	account, err := h.service.RegisterAccount(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, account)
}

func (h *Handler) ListAccounts(c *gin.Context) {
	accounts, err := h.service.ListAccounts(c.Request.Context(), middleware.GetIdentity(c).MemberID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": accounts})
}

func (h *Handler) SetPrimary(c *gin.Context) {
	account, err := h.service.SetPrimary(c.Request.Context(), middleware.GetIdentity(c).MemberID, c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (h *Handler) RequestPayout(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}
	req.MemberID = middleware.GetIdentity(c).MemberID
	req.IdempotencyKey = c.GetHeader(HeaderIdempotencyKey)
	if req.IdempotencyKey == "" {
		c.Error(errutil.BadRequest("Idempotency-Key header is required", nil))
		return
	}

	pr, replayed, err := h.service.RequestPayout(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}
	if replayed {
		c.JSON(http.StatusOK, pr)
		return
	}
	c.JSON(http.StatusCreated, pr)
}

type listResponse struct {
	Data     []*PayoutRequest     `json:"data"`
	PageInfo *pagination.PageInfo `json:"page_info"`
}

func (h *Handler) ListRequests(c *gin.Context) {
	var filter ListFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.Error(errutil.BadRequest("invalid filter", err))
		return
	}
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		c.Error(errutil.BadRequest("invalid pagination", err))
		return
	}

	if identity := middleware.GetIdentity(c); !identity.IsStaff() {
		filter.MemberID = identity.MemberID
	}

	rows, info, err := h.service.ListRequests(c.Request.Context(), filter, page)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, listResponse{Data: rows, PageInfo: info})
}

func (h *Handler) GetRequest(c *gin.Context) {
	pr, err := h.service.GetRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	if !middleware.RequireSelf(c, pr.MemberID) {
		return
	}
	c.JSON(http.StatusOK, pr)
}

func (h *Handler) Settle(c *gin.Context) {
	var req SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}
	req.RequestID = c.Param("id")
	req.ActorID = middleware.GetIdentity(c).MemberID

	pr, err := h.service.Settle(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, pr)
}
