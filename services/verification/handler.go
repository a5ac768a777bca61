package verification

import (
	"net/http"

	"smallbiznis-missions/pkg/errutil"
	"smallbiznis-missions/pkg/middleware"
	"smallbiznis-missions/services/participation"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service        *Service
	participations *participation.Service
}

func NewHandler(service *Service, participations *participation.Service) *Handler {
	return &Handler{service: service, participations: participations}
}

func (h *Handler) Register(r *gin.RouterGroup) {
	r.POST("/participations/:id/evidence", h.SubmitEvidence)
	r.GET("/participations/:id/evidence", h.ListEvidence)
	r.POST("/participations/:id/decision", h.Decide)
	r.GET("/participations/:id/decision", h.GetResult)
}

type submitEvidenceRequest struct {
	Items     []EvidenceItem `json:"items" binding:"dive"`
	ProofText string         `json:"proof_text"`
}

func (h *Handler) SubmitEvidence(c *gin.Context) {
	var body submitEvidenceRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	p, err := h.service.SubmitEvidence(c.Request.Context(), SubmitRequest{
		ParticipationID: c.Param("id"),
		MemberID:        middleware.GetIdentity(c).MemberID,
		Items:           body.Items,
		ProofText:       body.ProofText,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) ListEvidence(c *gin.Context) {
	p, err := h.participations.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	if !middleware.RequireSelf(c, p.MemberID) {
		return
	}

	items, err := h.service.ListEvidence(c.Request.Context(), p.ID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

type decideRequest struct {
	Decision Decision `json:"decision" binding:"required"`
	Reason   string   `json:"reason"`
}

func (h *Handler) Decide(c *gin.Context) {
	var body decideRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	decider := middleware.GetIdentity(c).MemberID
	req := DecideRequest{
		ParticipationID: c.Param("id"),
		Decision:        body.Decision,
		DeciderID:       &decider,
	}
	if body.Reason != "" {
		req.Reason = &body.Reason
	}

	p, err := h.service.Decide(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) GetResult(c *gin.Context) {
	result, err := h.service.GetResult(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}
