package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-rental-billing/internal/logger"
	"github.com/imrishuroy/go-rental-billing/internal/users"
	"github.com/imrishuroy/go-rental-billing/internal/validation"
)

type UserStore interface {
	Create(ctx context.Context, username, password, role string) (users.User, error)
}

type usersHandler struct {
	store UserStore
	v     *validatorv10.Validate
	log   *logger.Logger
}

func (h *usersHandler) register(r gin.IRouter) {
	r.POST("/users", h.create)
}

func (h *usersHandler) create(c *gin.Context) {
	var req validation.UserRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		return
	}
	u, err := h.store.Create(c.Request.Context(), req.Username, req.Password, req.Role)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}
