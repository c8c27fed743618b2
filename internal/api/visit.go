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

// VisitStore is the part of the record store the visit endpoints use
type VisitStore interface {
	CreateVisit(ctx context.Context, userID string) (*models.Visit, error)
	GetVisit(ctx context.Context, id string) (*models.Visit, error)
	UpdateVisit(ctx context.Context, id string, upd models.VisitUpdate) (*models.Visit, error)
	DeleteVisit(ctx context.Context, id, userID string) error
}

type VisitHandler struct {
	store VisitStore
}

func NewVisitHandler(store VisitStore) *VisitHandler {
	return &VisitHandler{store: store}
}

// UpdateVisitRequest lists the fields a clinician may edit directly
type UpdateVisitRequest struct {
	Name              *string `json:"name"`
	AdditionalContext *string `json:"additional_context"`
}

// actingUser returns the X-User-ID of the request
func actingUser(c *gin.Context) (string, bool) {
	userID := strings.TrimSpace(c.GetHeader(logger.UserIDHeader))
	if userID == "" {
		_ = c.Error(errors.NewValidationError(logger.UserIDHeader + " header is required"))
		return "", false
	}
	return userID, true
}

func (h *VisitHandler) ownedVisit(c *gin.Context, userID string) (*models.Visit, bool) {
	id := c.Param("id")
	visit, err := h.store.GetVisit(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return nil, false
	}
	if visit.UserID != userID {
		_ = c.Error(errors.NewNotFoundError("visit", id))
		return nil, false
	}
	return visit, true
}

func (h *VisitHandler) CreateVisit(c *gin.Context) {
	userID, ok := actingUser(c)
	if !ok {
		return
	}

	visit, err := h.store.CreateVisit(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	logger.FromGin(c).WithVisitID(visit.ID).Info("visit created")
	c.JSON(http.StatusCreated, visit)
}

func (h *VisitHandler) GetVisit(c *gin.Context) {
	userID, ok := actingUser(c)
	if !ok {
		return
	}
	visit, ok := h.ownedVisit(c, userID)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, visit)
}

// UpdateVisit edits the name or additional context. The name belongs to
// note generation while it runs.
func (h *VisitHandler) UpdateVisit(c *gin.Context) {
	userID, ok := actingUser(c)
	if !ok {
		return
	}

	var req UpdateVisitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.NewValidationError("invalid request body: " + err.Error()))
		return
	}
	if req.Name == nil && req.AdditionalContext == nil {
		_ = c.Error(errors.NewValidationError("nothing to update"))
		return
	}

	visit, ok := h.ownedVisit(c, userID)
	if !ok {
		return
	}
	if visit.Status == models.StatusGeneratingNote {
		_ = c.Error(errors.NewInvalidStateError("visit is generating its note"))
		return
	}

	visit, err := h.store.UpdateVisit(c.Request.Context(), visit.ID, models.VisitUpdate{
		Name:              req.Name,
		AdditionalContext: req.AdditionalContext,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, visit)
}

// DeleteVisit removes a visit that is not being recorded or generated
func (h *VisitHandler) DeleteVisit(c *gin.Context) {
	userID, ok := actingUser(c)
	if !ok {
		return
	}
	visit, ok := h.ownedVisit(c, userID)
	if !ok {
		return
	}

	switch visit.Status {
	case models.StatusRecording, models.StatusGeneratingNote:
		_ = c.Error(errors.NewInvalidStateError("cannot delete a visit in status " + string(visit.Status)))
		return
	}

	if err := h.store.DeleteVisit(c.Request.Context(), visit.ID, userID); err != nil {
		_ = c.Error(err)
		return
	}

	logger.FromGin(c).WithVisitID(visit.ID).Info("visit deleted")
	c.Status(http.StatusNoContent)
}
