package handlers

import (
	"io"

	"github.com/gin-gonic/gin"

	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/models"
	syncpkg "github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/sync"
)

// EntityHandler is the local read/write surface for mirrored records.
// Writes are queued for the server.
type EntityHandler struct {
	store syncpkg.EntityStore
}

// NewEntityHandler creates a new EntityHandler.
func NewEntityHandler(store syncpkg.EntityStore) *EntityHandler {
	return &EntityHandler{store: store}
}

// Register mounts the entity routes on r.
func (h *EntityHandler) Register(r *gin.RouterGroup) {
	r.GET("/entities/:type", h.List)
	r.GET("/entities/:type/:id", h.Get)
	r.PUT("/entities/:type", h.Save)
	r.DELETE("/entities/:type/:id", h.Delete)
}

// List handles GET /entities/:type.
func (h *EntityHandler) List(c *gin.Context) {
	records, err := h.store.List(c.Request.Context(), c.Param("type"))
	if err != nil {
		fail(c, err)
		return
	}
	if records == nil {
		records = []models.Record{}
	}
	ok(c, records)
}

// Get handles GET /entities/:type/:id.
func (h *EntityHandler) Get(c *gin.Context) {
	record, err := h.store.Get(c.Request.Context(), c.Param("type"), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, record)
}

// Save handles PUT /entities/:type. The body is the full record and must
// carry an id.
func (h *EntityHandler) Save(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		badRequest(c, "failed to read request body")
		return
	}
	if len(body) == 0 {
		badRequest(c, "Request body is empty")
		return
	}
	record, err := models.DecodeRecord(body)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	saved, err := h.store.Save(c.Request.Context(), c.Param("type"), record)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, saved)
}

// Delete handles DELETE /entities/:type/:id.
func (h *EntityHandler) Delete(c *gin.Context) {
	if err := h.store.Delete(c.Request.Context(), c.Param("type"), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"deleted": c.Param("id")})
}
