package participation

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
	r.POST("/mission-days/:id/claims", h.Claim)
	r.GET("/participations", h.List)
	r.GET("/participations/:id", h.Get)
	r.POST("/participations/:id/cancel", h.Cancel)
}

func (h *Handler) Claim(c *gin.Context) {
	identity := middleware.GetIdentity(c)
	key := c.GetHeader(HeaderIdempotencyKey)
	if key == "" {
		c.Error(errutil.BadRequest("Idempotency-Key header is required", nil))
		return
	}

	res, err := h.service.Claim(c.Request.Context(), ClaimRequest{
		MissionDayID:   c.Param("id"),
		MemberID:       identity.MemberID,
		IdempotencyKey: key,
	})
	if err != nil {
		c.Error(err)
		return
	}

	switch {
	case res.Outcome == OutcomeExhausted:
		c.JSON(http.StatusConflict, res)
	case res.Replayed:
		c.JSON(http.StatusOK, res)
	default:
		c.JSON(http.StatusCreated, res)
	}
}

func (h *Handler) Get(c *gin.Context) {
	p, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	if !middleware.RequireSelf(c, p.MemberID) {
		return
	}
	c.JSON(http.StatusOK, p)
}

type listResponse struct {
	Data     []*Participation     `json:"data"`
	PageInfo *pagination.PageInfo `json:"page_info"`
}

func (h *Handler) List(c *gin.Context) {
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

	// members only ever see their own rows
	if identity := middleware.GetIdentity(c); !identity.IsStaff() {
		filter.MemberID = identity.MemberID
	}

	rows, info, err := h.service.List(c.Request.Context(), filter, page)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, listResponse{Data: rows, PageInfo: info})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Cancel(c *gin.Context) {
	var body cancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.Error(errutil.BadRequest("invalid request body", err))
			return
		}
	}

	identity := middleware.GetIdentity(c)
	p, err := h.service.Cancel(c.Request.Context(), c.Param("id"), CancelRequest{
		ActorID: identity.MemberID,
		Staff:   identity.IsStaff(),
		Reason:  body.Reason,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, p)
}
