package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-rental-billing/internal/inventory"
	"github.com/imrishuroy/go-rental-billing/internal/logger"
	"github.com/imrishuroy/go-rental-billing/internal/validation"
)

// InventoryStore is the catalog management surface used over HTTP.
type InventoryStore interface {
	Add(ctx context.Context, it inventory.Item) error
	AddBulk(ctx context.Context, items []inventory.Item) error
	Get(ctx context.Context, description string) (*inventory.Item, error)
	List(ctx context.Context) ([]inventory.Item, error)
	Update(ctx context.Context, it inventory.Item) error
	Delete(ctx context.Context, description string) error
	AdjustInventory(ctx context.Context, description string, delta int) error
}

type inventoryHandler struct {
	store InventoryStore
	v     *validatorv10.Validate
	log   *logger.Logger
}

func (h *inventoryHandler) register(r gin.IRouter) {
	r.GET("/inventory", h.list)
	r.POST("/inventory", h.add)
	r.PATCH("/inventory/quantity", h.adjust)
	r.GET("/inventory/:description", h.get)
	r.PUT("/inventory/:description", h.update)
	r.DELETE("/inventory/:description", h.delete)
}

func (h *inventoryHandler) list(c *gin.Context) {
	items, err := h.store.List(c.Request.Context())
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": orEmpty(items)})
}

// add accepts either one item or {"items": [...]} for an all-or-nothing bulk
// insert.
func (h *inventoryHandler) add(c *gin.Context) {
	var probe struct {
		Items json.RawMessage `json:"items"`
	}
	if err := c.ShouldBindBodyWith(&probe, binding.JSON); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body", "msg": err.Error()})
		return
	}

	if len(probe.Items) > 0 {
		var req validation.BulkInventoryRequest
		if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body", "msg": err.Error()})
			return
		}
		if err := validation.Validate(c, &req, h.v); err != nil {
			return
		}
		items := make([]inventory.Item, 0, len(req.Items))
		for _, it := range req.Items {
			items = append(items, toItem(it))
		}
		if err := h.store.AddBulk(c.Request.Context(), items); err != nil {
			writeError(c, h.log, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"items": items})
		return
	}

	var req validation.InventoryRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body", "msg": err.Error()})
		return
	}
	if err := validation.Validate(c, &req, h.v); err != nil {
		return
	}
	it := toItem(req)
	if err := h.store.Add(c.Request.Context(), it); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, it)
}

func (h *inventoryHandler) get(c *gin.Context) {
	it, err := h.store.Get(c.Request.Context(), c.Param("description"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, it)
}

func (h *inventoryHandler) update(c *gin.Context) {
	var req validation.InventoryRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		return
	}
	if req.Description != c.Param("description") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "description_mismatch"})
		return
	}
	it := toItem(req)
	if err := h.store.Update(c.Request.Context(), it); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, it)
}

func (h *inventoryHandler) delete(c *gin.Context) {
	if err := h.store.Delete(c.Request.Context(), c.Param("description")); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// adjust applies a signed stock change, the same operation bill saves use.
func (h *inventoryHandler) adjust(c *gin.Context) {
	var req validation.QuantityRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		return
	}
	ctx := c.Request.Context()
	if err := h.store.AdjustInventory(ctx, req.Description, req.Delta); err != nil {
		writeError(c, h.log, err)
		return
	}
	it, err := h.store.Get(ctx, req.Description)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, it)
}

func toItem(r validation.InventoryRequest) inventory.Item {
	return inventory.Item{
		Description: r.Description,
		ItemType:    r.ItemType,
		Size:        r.Size,
		Rate:        r.Rate,
		Quantity:    r.Quantity,
	}
}
