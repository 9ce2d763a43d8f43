package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/db"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/models"
	syncpkg "github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/sync"
)

func TestSyncHandler_StatusIncludesQueue(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.do(http.MethodPut, "/api/entities/products", `{"id":"p1"}`).Code)

	w := env.do(http.MethodGet, "/api/sync/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		State  syncpkg.SyncStatus `json:"state"`
		Online bool               `json:"online"`
		Queue  db.QueueStats      `json:"queue"`
	}
	data(t, w, &body)
	assert.Equal(t, syncpkg.SyncStatusIdle, body.State)
	assert.False(t, body.Online)
	assert.Equal(t, 1, body.Queue.Pending)
}

func TestSyncHandler_SyncNowOfflineIsSkipped(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/sync/now", "")
	require.Equal(t, http.StatusOK, w.Code)

	var result syncpkg.SyncResult
	data(t, w, &result)
	assert.True(t, result.Skipped)
	assert.Equal(t, syncpkg.MessageOffline, result.Message)
}

func TestSyncHandler_SyncNowPushesQueue(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.do(http.MethodPut, "/api/entities/products", `{"id":"p1"}`).Code)
	require.Equal(t, http.StatusOK, env.do(http.MethodPut, "/api/entities/products", `{"id":"p2"}`).Code)
	env.net.SetOnline(true)

	w := env.do(http.MethodPost, "/api/sync/now", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result syncpkg.SyncResult
	data(t, w, &result)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Pushed)

	w = env.do(http.MethodGet, "/api/sync/queue", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":{"items":[],"stats":{"pending":0,"syncing":0,"error":0,"total":0}}}`, w.Body.String())

	rec, err := env.repo.GetRecord(env.ctx, "products", "p1")
	require.NoError(t, err)
	assert.Equal(t, models.MirrorStatusSynced, rec.SyncStatus)
}

func TestSyncHandler_RetryQueue(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.do(http.MethodPut, "/api/entities/products", `{"id":"p1"}`).Code)

	items, err := env.queue.List(env.ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NoError(t, env.queue.MarkError(env.ctx, string(items[0].ID), "rejected"))

	w := env.do(http.MethodPost, "/api/sync/queue/retry", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":{"reset":1}}`, w.Body.String())

	stats, err := env.queue.Stats(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 0, stats.Error)
}
