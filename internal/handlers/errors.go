package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-rental-billing/internal/billing"
	"github.com/imrishuroy/go-rental-billing/internal/builder"
	"github.com/imrishuroy/go-rental-billing/internal/inventory"
	"github.com/imrishuroy/go-rental-billing/internal/logger"
	"github.com/imrishuroy/go-rental-billing/internal/orders"
	"github.com/imrishuroy/go-rental-billing/internal/reconcile"
	"github.com/imrishuroy/go-rental-billing/internal/session"
	"github.com/imrishuroy/go-rental-billing/internal/users"
)

// writeError maps domain errors onto HTTP responses. Anything unrecognised
// is logged and reported as a 500.
func writeError(c *gin.Context, logg *logger.Logger, err error) {
	var ve *builder.ValidationError
	if errors.As(err, &ve) {
		body := gin.H{"error": "validation_failed", "fields": map[string]string{ve.Field: ve.Message}}
		var ae *builder.ActionError
		if errors.As(err, &ae) {
			body["step"] = ae.Step
			body["op"] = ae.Op
		}
		c.JSON(http.StatusBadRequest, body)
		return
	}

	switch {
	case errors.Is(err, orders.ErrNotFound),
		errors.Is(err, inventory.ErrNotFound),
		errors.Is(err, users.ErrNotFound),
		errors.Is(err, builder.ErrLineNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "detail": err.Error()})
	case errors.Is(err, orders.ErrExists),
		errors.Is(err, inventory.ErrExists),
		errors.Is(err, users.ErrExists):
		c.JSON(http.StatusConflict, gin.H{"error": "already_exists", "detail": err.Error()})
	case errors.Is(err, billing.ErrBusy),
		errors.Is(err, session.ErrSaveInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "request_in_progress", "detail": err.Error()})
	case errors.Is(err, session.ErrNotReturnable),
		errors.Is(err, session.ErrUnsavedChanges),
		errors.Is(err, session.ErrNotEditable),
		errors.Is(err, billing.ErrNotBooking),
		errors.Is(err, orders.ErrStatusMismatch):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_state", "detail": err.Error()})
	case errors.Is(err, users.ErrInvalidRole):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "detail": err.Error()})
	default:
		if logg != nil {
			logg.Error(c.Request.Context(), "request failed", err)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

// writeSaveError reports a failed save or return. When inventory already
// moved for the attempt, the response lists every delta by item so the caller
// knows what settled before the bill update failed.
func writeSaveError(c *gin.Context, logg *logger.Logger, err error, res session.SaveResult) {
	if len(res.Applied) == 0 && len(res.Queued) == 0 && len(res.Failed) == 0 {
		writeError(c, logg, err)
		return
	}
	if logg != nil {
		logg.Error(c.Request.Context(), "bill update failed after inventory settled", err)
	}
	c.JSON(http.StatusBadGateway, gin.H{
		"error":     "bill_update_failed",
		"applied":   res.Applied,
		"queued":    orEmpty(res.Queued),
		"failed":    failedItems(res.Failed),
		"untracked": orEmpty(res.Untracked),
	})
}

type failedItem struct {
	Description string `json:"item_description"`
	Delta       int    `json:"delta"`
	Error       string `json:"error"`
}

func failedItems(results []reconcile.Result) []failedItem {
	out := make([]failedItem, 0, len(results))
	for _, r := range results {
		item := failedItem{Description: r.Description, Delta: r.Delta}
		if r.Err != nil {
			item.Error = r.Err.Error()
		}
		out = append(out, item)
	}
	return out
}
