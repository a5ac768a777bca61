package ledger

import (
	"net/http"

	"smallbiznis-missions/pkg/db/pagination"
	"smallbiznis-missions/pkg/errutil"
	"smallbiznis-missions/pkg/middleware"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(r *gin.RouterGroup) {
	r.GET("/members/:id/ledger", h.ListEntries)
	r.GET("/members/:id/ledger/verify", h.VerifyChain)
	r.POST("/members/:id/ledger/reconcile", h.Reconcile)
}

type listEntriesResponse struct {
	Data     []*LedgerEntry       `json:"data"`
	PageInfo *pagination.PageInfo `json:"page_info"`
}

func (h *Handler) ListEntries(c *gin.Context) {
	memberID := c.Param("id")
	if !middleware.RequireSelf(c, memberID) {
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		c.Error(errutil.BadRequest("invalid pagination", err))
		return
	}

	entries, info, err := h.service.ListEntries(c.Request.Context(), memberID, page)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, listEntriesResponse{Data: entries, PageInfo: info})
}

func (h *Handler) VerifyChain(c *gin.Context) {
	report, err := h.service.VerifyChain(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) Reconcile(c *gin.Context) {
	report, err := h.service.Reconcile(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, report)
}
