package handlers

import (
	"context"
	"encoding/json"

	"github.com/gin-gonic/gin"

	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/models"
)

// ConflictService is the resolver surface used by the API.
type ConflictService interface {
	ListUnresolved(ctx context.Context) ([]*models.Conflict, error)
	ListAll(ctx context.Context) ([]*models.Conflict, error)
	Get(ctx context.Context, id string) (*models.Conflict, error)
	Resolve(ctx context.Context, id string, strategy models.Resolution, data json.RawMessage) (*models.Conflict, error)
}

// ConflictHandler lists and resolves sync conflicts.
type ConflictHandler struct {
	conflicts ConflictService
}

// NewConflictHandler creates a new ConflictHandler.
func NewConflictHandler(conflicts ConflictService) *ConflictHandler {
	return &ConflictHandler{conflicts: conflicts}
}

// Register mounts the conflict routes on r.
func (h *ConflictHandler) Register(r *gin.RouterGroup) {
	r.GET("/conflicts", h.List)
	r.GET("/conflicts/:id", h.Get)
	r.POST("/conflicts/:id/resolve", h.Resolve)
}

// List handles GET /conflicts. ?all=1 includes resolved conflicts.
func (h *ConflictHandler) List(c *gin.Context) {
	var (
		list []*models.Conflict
		err  error
	)
	switch c.Query("all") {
	case "1", "true":
		list, err = h.conflicts.ListAll(c.Request.Context())
	default:
		list, err = h.conflicts.ListUnresolved(c.Request.Context())
	}
	if err != nil {
		fail(c, err)
		return
	}
	if list == nil {
		list = []*models.Conflict{}
	}
	ok(c, list)
}

// Get handles GET /conflicts/:id.
func (h *ConflictHandler) Get(c *gin.Context) {
	conflict, err := h.conflicts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, conflict)
}

// ResolveRequest is the body of POST /conflicts/:id/resolve.
type ResolveRequest struct {
	Strategy string          `json:"strategy" binding:"required,oneof=local server merge manual"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// Resolve handles POST /conflicts/:id/resolve.
func (h *ConflictHandler) Resolve(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, FormatBindingError(err))
		return
	}

	resolved, err := h.conflicts.Resolve(c.Request.Context(), c.Param("id"), models.Resolution(req.Strategy), req.Data)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, resolved)
}
