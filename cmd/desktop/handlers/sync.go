package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/errors"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/logging"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/models"
	syncpkg "github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/sync"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/sync/queue"
)

// SyncHandler exposes sync status, manual sync and the operation queue.
type SyncHandler struct {
	engine syncpkg.SyncEngineInterface
	queue  *queue.Queue
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(engine syncpkg.SyncEngineInterface, q *queue.Queue) *SyncHandler {
	return &SyncHandler{engine: engine, queue: q}
}

// Register mounts the sync routes on r.
func (h *SyncHandler) Register(r *gin.RouterGroup) {
	r.GET("/sync/status", h.Status)
	r.POST("/sync/now", h.SyncNow)
	r.GET("/sync/queue", h.ListQueue)
	r.POST("/sync/queue/retry", h.RetryQueue)
}

type statusResponse struct {
	syncpkg.Status
	Queue interface{} `json:"queue"`
}

// Status handles GET /sync/status.
func (h *SyncHandler) Status(c *gin.Context) {
	stats, err := h.queue.Stats(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, statusResponse{Status: h.engine.Status(), Queue: stats})
}

// SyncNow handles POST /sync/now. A skipped sync is reported with 200 and
// skipped=true; a failed one with the status of its error.
func (h *SyncHandler) SyncNow(c *gin.Context) {
	result, err := h.engine.Sync(c.Request.Context())
	if err != nil {
		logging.Warn("Manual sync failed", map[string]interface{}{"error": err.Error()})
		c.JSON(StatusFor(apperrors.CodeOf(err)), SuccessResponse{Data: result})
		return
	}
	ok(c, result)
}

type queueResponse struct {
	Items []*models.QueueItem `json:"items"`
	Stats interface{}         `json:"stats"`
}

// ListQueue handles GET /sync/queue.
func (h *SyncHandler) ListQueue(c *gin.Context) {
	ctx := c.Request.Context()
	items, err := h.queue.List(ctx)
	if err != nil {
		fail(c, err)
		return
	}
	stats, err := h.queue.Stats(ctx)
	if err != nil {
		fail(c, err)
		return
	}
	if items == nil {
		items = []*models.QueueItem{}
	}
	ok(c, queueResponse{Items: items, Stats: stats})
}

// RetryQueue handles POST /sync/queue/retry.
func (h *SyncHandler) RetryQueue(c *gin.Context) {
	n, err := h.queue.RetryAll(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Data: gin.H{"reset": n}})
}
