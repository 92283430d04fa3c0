package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-rental-billing/internal/billing"
	"github.com/imrishuroy/go-rental-billing/internal/idempotency"
	"github.com/imrishuroy/go-rental-billing/internal/logger"
	"github.com/imrishuroy/go-rental-billing/internal/orders"
	"github.com/imrishuroy/go-rental-billing/internal/session"
	"github.com/imrishuroy/go-rental-billing/internal/validation"
	"github.com/imrishuroy/go-rental-billing/internal/viewstate"
)

// saveResponse is a SaveResult plus the adjustments that were neither
// applied nor queued.
type saveResponse struct {
	session.SaveResult
	InventoryError string `json:"inventory_error,omitempty"`
}

func newSaveResponse(res session.SaveResult) saveResponse {
	out := saveResponse{SaveResult: res}
	if err := res.InventoryErr(); err != nil {
		out.InventoryError = err.Error()
	}
	return out
}

type billsHandler struct {
	bills *billing.Service
	views viewstate.Store
	v     *validatorv10.Validate
	log   *logger.Logger
}

func (h *billsHandler) register(r gin.IRouter) {
	r.POST("/bills", h.create)
	r.GET("/bills", h.list)
	r.GET("/bills/search", h.search)
	r.GET("/bills/:id", h.get)
	r.PUT("/bills/:id", h.edit)
	r.DELETE("/bills/:id", h.delete)
	r.POST("/bills/:id/return", h.markReturned)
	r.POST("/bills/:id/bill", h.convertBooking)
	r.DELETE("/viewstate/:view", h.resetView)
}

func (h *billsHandler) create(c *gin.Context) {
	ctx := c.Request.Context()

	// Bind + validate request
	var req validation.BillRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		// BindAndValidate already wrote a 400
		return
	}

	idempKey := c.GetHeader("Idempotency-Key")
	if idempKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_idempotency_key"})
		return
	}

	res, err := h.bills.Create(ctx, idempKey, billing.NewBill{
		CustomerName:      req.CustomerName,
		CustomerMobile:    req.CustomerMobile,
		BookingDate:       req.BookingDate,
		ReturnDate:        req.ReturnDate,
		AdvanceAmount:     req.AdvanceAmount,
		AdvanceAmountPaid: req.AdvanceAmountPaid,
		Discount:          req.Discount,
		PaymentMode:       req.PaymentMode,
		Status:            req.Status,
		Comments:          req.Comments,
		ItemsOrdered:      req.ItemsOrdered,
	})
	var dup *billing.DuplicateError
	if errors.As(err, &dup) {
		replayIdempotent(c, dup.Record)
		return
	}
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	c.Header("Location", fmt.Sprintf("/bills/%s", res.Order.OrderID))
	c.JSON(http.StatusCreated, newSaveResponse(res))
}

// replayIdempotent answers a repeated Idempotency-Key from the stored record.
func replayIdempotent(c *gin.Context, rec *idempotency.IdempotencyRecord) {
	switch rec.Status {
	case idempotency.StatusDone:
		if rec.ResponseBody != "" && json.Valid([]byte(rec.ResponseBody)) {
			c.Header("Idempotent-Replayed", "true")
			c.Data(rec.ResponseStatus, "application/json", []byte(rec.ResponseBody))
			return
		}
		c.JSON(http.StatusOK, gin.H{"bill_id": rec.ResourceID})
	case idempotency.StatusInProgress:
		c.JSON(http.StatusAccepted, gin.H{"message": "request already in progress", "bill_id": rec.ResourceID})
	case idempotency.StatusFailed:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "previous_attempt_failed", "bill_id": rec.ResourceID})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unknown_idempotency_status"})
	}
}

func (h *billsHandler) get(c *gin.Context) {
	o, err := h.bills.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *billsHandler) list(c *gin.Context) {
	status := c.Query("status")
	switch status {
	case "", orders.StatusBooked, orders.StatusBilled, orders.StatusSale, orders.StatusReturned:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status"})
		return
	}
	list, err := h.bills.List(c.Request.Context(), status)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bills": orEmpty(list)})
}

func (h *billsHandler) edit(c *gin.Context) {
	var req validation.EditBillRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		return
	}
	res, err := h.bills.Save(c.Request.Context(), c.Param("id"), billing.Edit{
		Fields: session.Fields{
			CustomerName:      req.CustomerName,
			CustomerMobile:    req.CustomerMobile,
			BookingDate:       req.BookingDate,
			ReturnDate:        req.ReturnDate,
			AdvanceAmount:     req.AdvanceAmount,
			AdvanceAmountPaid: req.AdvanceAmountPaid,
			Discount:          req.Discount,
			PaymentMode:       req.PaymentMode,
			Comments:          req.Comments,
		},
		ItemsOrdered: req.ItemsOrdered,
	})
	if err != nil {
		writeSaveError(c, h.log, err, res)
		return
	}
	c.JSON(http.StatusOK, newSaveResponse(res))
}

func (h *billsHandler) delete(c *gin.Context) {
	if err := h.bills.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *billsHandler) markReturned(c *gin.Context) {
	res, err := h.bills.Return(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeSaveError(c, h.log, err, res)
		return
	}
	c.JSON(http.StatusOK, newSaveResponse(res))
}

func (h *billsHandler) convertBooking(c *gin.Context) {
	res, err := h.bills.ConvertBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, newSaveResponse(res))
}

// search loads the view's stored filters, applies any filters given in the
// query, writes them back when they changed and lists the matching bills.
func (h *billsHandler) search(c *gin.Context) {
	ctx := c.Request.Context()
	var req validation.SearchRequest
	if err := validation.BindQueryAndValidate(c, &req, h.v); err != nil {
		return
	}
	view := req.View
	if view == "" {
		view = viewstate.DefaultView
	}

	stored, err := h.views.Load(ctx, view)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	if req.Reset {
		if err := h.views.Reset(ctx, view); err != nil {
			writeError(c, h.log, err)
			return
		}
		stored = viewstate.State{}
	}

	state := stored.Merge(viewstate.State{
		Query:       req.Query,
		Description: req.Description,
		From:        req.From,
		To:          req.To,
		Status:      req.Status,
	})
	if state != stored {
		if err := h.views.Save(ctx, view, state); err != nil {
			writeError(c, h.log, err)
			return
		}
	}

	list, err := h.bills.List(ctx, state.Status)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"view":    view,
		"filters": state,
		"bills":   orEmpty(viewstate.Filter(list, state)),
	})
}

func (h *billsHandler) resetView(c *gin.Context) {
	if err := h.views.Reset(c.Request.Context(), c.Param("view")); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func orEmpty[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}
