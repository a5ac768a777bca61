package quota

import (
	"net/http"

	"smallbiznis-missions/pkg/errutil"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(r *gin.RouterGroup) {
	r.POST("/mission-days", h.OpenDay)
	r.GET("/mission-days/:id", h.GetDay)
	r.POST("/mission-days/:id/close", h.CloseDay)
	r.POST("/mission-days/:id/reset", h.ResetDay)
}

func (h *Handler) OpenDay(c *gin.Context) {
	var req OpenDayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	day, err := h.service.OpenDay(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, day)
}

func (h *Handler) GetDay(c *gin.Context) {
	day, err := h.service.GetDay(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, day)
}

func (h *Handler) CloseDay(c *gin.Context) {
	day, err := h.service.CloseDay(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, day)
}

func (h *Handler) ResetDay(c *gin.Context) {
	var req ResetDayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	day, err := h.service.ResetDay(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, day)
}
