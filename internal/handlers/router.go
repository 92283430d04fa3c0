// Package handlers exposes the billing backend over HTTP with gin.
package handlers

import (
	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-rental-billing/internal/billing"
	"github.com/imrishuroy/go-rental-billing/internal/logger"
	"github.com/imrishuroy/go-rental-billing/internal/validation"
	"github.com/imrishuroy/go-rental-billing/internal/viewstate"
)

// HandlerConfig groups dependencies for the API routes.
type HandlerConfig struct {
	Bills     *billing.Service
	Inventory InventoryStore
	Users     UserStore
	Views     viewstate.Store
	Log       *logger.Logger
	// Validator defaults to validation.New().
	Validator *validatorv10.Validate
}

// RegisterRoutes installs the middleware chain and every API route on r.
func RegisterRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := cfg.Validator
	if v == nil {
		v = validation.New()
	}
	if cfg.Views == nil {
		cfg.Views = viewstate.NewMemoryStore()
	}

	r.Use(RequestID(cfg.Log), Recoverer(cfg.Log), AccessLog(cfg.Log))

	(&billsHandler{bills: cfg.Bills, views: cfg.Views, v: v, log: cfg.Log}).register(r)
	(&builderHandler{bills: cfg.Bills, log: cfg.Log}).register(r)
	(&inventoryHandler{store: cfg.Inventory, v: v, log: cfg.Log}).register(r)
	(&usersHandler{store: cfg.Users, v: v, log: cfg.Log}).register(r)
}
