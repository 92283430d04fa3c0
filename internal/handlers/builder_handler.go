package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-rental-billing/internal/billing"
	"github.com/imrishuroy/go-rental-billing/internal/builder"
	"github.com/imrishuroy/go-rental-billing/internal/logger"
)

type previewRequest struct {
	Actions []builder.Action `json:"actions" binding:"required,min=1,dive"`
}

type builderHandler struct {
	bills *billing.Service
	log   *logger.Logger
}

func (h *builderHandler) register(r gin.IRouter) {
	r.POST("/builder/preview", h.preview)
}

// preview replays line builder actions against the live catalog and returns
// the resulting lines, total and encoded items.
func (h *builderHandler) preview(c *gin.Context) {
	var req previewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body", "msg": err.Error()})
		return
	}
	snap, err := h.bills.Preview(c.Request.Context(), req.Actions)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}
