package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/sync/network"
)

// NetworkHandler reports connectivity and, for a manual provider, lets the
// host application set it.
type NetworkHandler struct {
	provider network.Provider
}

// NewNetworkHandler creates a new NetworkHandler.
func NewNetworkHandler(provider network.Provider) *NetworkHandler {
	return &NetworkHandler{provider: provider}
}

// Register mounts the network routes on r.
func (h *NetworkHandler) Register(r *gin.RouterGroup) {
	r.GET("/network", h.Get)
	r.POST("/network", h.Set)
}

// Get handles GET /network.
func (h *NetworkHandler) Get(c *gin.Context) {
	ok(c, gin.H{"online": h.provider.IsOnline()})
}

type setNetworkRequest struct {
	Online *bool `json:"online" binding:"required"`
}

// Set handles POST /network. Changing state never starts a sync by itself.
func (h *NetworkHandler) Set(c *gin.Context) {
	manual, isManual := h.provider.(*network.Manual)
	if !isManual {
		c.JSON(http.StatusConflict, ErrorResponse{Message: "network status is probed and cannot be set"})
		return
	}

	var req setNetworkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, FormatBindingError(err))
		return
	}

	changed := manual.SetOnline(*req.Online)
	ok(c, gin.H{"online": manual.IsOnline(), "changed": changed})
}
