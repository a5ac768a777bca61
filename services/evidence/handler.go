package evidence

import (
	"net/http"

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
	r.POST("/evidence/uploads", h.Upload)
}

func (h *Handler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+1<<20)

	fh, err := c.FormFile("file")
	if err != nil {
		c.Error(errutil.BadRequest("multipart field file is required", err))
		return
	}

	f, err := fh.Open()
	if err != nil {
		c.Error(errutil.BadRequest("unreadable upload", err))
		return
	}
	defer f.Close()

	upload, err := h.service.Put(c.Request.Context(),
		middleware.GetIdentity(c).MemberID,
		fh.Filename,
		fh.Header.Get("Content-Type"),
		f,
		fh.Size,
	)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, upload)
}
