package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/KeshavSoni17/halo-backend/internal/models"
	"github.com/KeshavSoni17/halo-backend/pkg/errors"
	"github.com/KeshavSoni17/halo-backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// UserStore is the part of the record store the user endpoints use
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	CreateTemplate(ctx context.Context, tmpl *models.Template) error
	GetTemplate(ctx context.Context, id string) (*models.Template, error)
}

type UserHandler struct {
	store UserStore
}

func NewUserHandler(store UserStore) *UserHandler {
	return &UserHandler{store: store}
}

type CreateUserRequest struct {
	Name              string `json:"name" binding:"required"`
	Email             string `json:"email" binding:"required"`
	Specialty         string `json:"specialty"`
	DefaultTemplateID string `json:"default_template_id"`
	DefaultLanguage   string `json:"default_language"`
}

type CreateTemplateRequest struct {
	Name         string `json:"name" binding:"required"`
	Instructions string `json:"instructions" binding:"required"`
}

func (h *UserHandler) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.NewValidationError("invalid request body: " + err.Error()))
		return
	}

	if req.DefaultTemplateID != "" {
		if _, err := h.store.GetTemplate(c.Request.Context(), req.DefaultTemplateID); err != nil {
			_ = c.Error(err)
			return
		}
	}

	language := strings.TrimSpace(req.DefaultLanguage)
	if language == "" {
		language = "en"
	}

	user := &models.User{
		Name:              req.Name,
		Email:             strings.ToLower(strings.TrimSpace(req.Email)),
		Specialty:         req.Specialty,
		DefaultTemplateID: req.DefaultTemplateID,
		DefaultLanguage:   language,
	}
	if err := h.store.CreateUser(c.Request.Context(), user); err != nil {
		_ = c.Error(err)
		return
	}

	logger.FromGin(c).WithUserID(user.ID).Info("user created")
	c.JSON(http.StatusCreated, user)
}

func (h *UserHandler) GetUser(c *gin.Context) {
	user, err := h.store.GetUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// CreateTemplate stores note instructions owned by the acting user
func (h *UserHandler) CreateTemplate(c *gin.Context) {
	userID, ok := actingUser(c)
	if !ok {
		return
	}

	var req CreateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.NewValidationError("invalid request body: " + err.Error()))
		return
	}

	tmpl := &models.Template{
		UserID:       userID,
		Name:         req.Name,
		Instructions: req.Instructions,
	}
	if err := h.store.CreateTemplate(c.Request.Context(), tmpl); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, tmpl)
}
