package queue

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/db"
	apperrors "github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/errors"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/models"
)

type typeSet map[string]bool

func (s typeSet) Supports(t string) bool { return s[t] }

func newTestQueue(t *testing.T) (*Queue, *db.Repository) {
	t.Helper()
	database, err := db.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Migrate())

	repo := db.NewRepository(database.DB)
	return New(repo, typeSet{"products": true, "categories": true}), repo
}

func payload(id string) json.RawMessage {
	return json.RawMessage(`{"id":"` + id + `","updatedAt":"2024-01-01T00:00:00Z"}`)
}

func ids(items []*models.QueueItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID.String()
	}
	return out
}

func TestEnqueue_PersistsAndTriggers(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	var fired atomic.Int32
	q.SetTrigger(func() { fired.Add(1) })

	item, err := q.Enqueue(ctx, models.OperationCreate, "products", "p1", payload("p1"))
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusPending, item.Status)
	assert.Equal(t, int32(1), fired.Load())

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, item.ID, pending[0].ID)
	assert.JSONEq(t, string(payload("p1")), string(pending[0].Payload))
}

func TestEnqueue_DeleteDropsPayload(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	item, err := q.Enqueue(ctx, models.OperationDelete, "products", "p1", payload("p1"))
	require.NoError(t, err)
	assert.Nil(t, item.Payload)

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Nil(t, pending[0].Payload)
}

func TestEnqueue_Validation(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	tests := []struct {
		name       string
		op         models.Operation
		entityType string
		entityID   string
		payload    json.RawMessage
	}{
		{"unknown operation", "upsert", "products", "p1", payload("p1")},
		{"blank type", models.OperationCreate, " ", "p1", payload("p1")},
		{"blank id", models.OperationCreate, "products", "", payload("p1")},
		{"unsupported type", models.OperationCreate, "invoices", "p1", payload("p1")},
		{"missing payload", models.OperationUpdate, "products", "p1", nil},
		{"invalid payload", models.OperationUpdate, "products", "p1", json.RawMessage(`{`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := q.Enqueue(ctx, tt.op, tt.entityType, tt.entityID, tt.payload)
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
		})
	}

	items, err := q.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestPending_EnqueueOrderWithoutCoalescing(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	base := time.UnixMilli(1_700_000_000_000)
	tick := 0
	q.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Millisecond)
	}

	first, err := q.Enqueue(ctx, models.OperationCreate, "products", "p1", payload("p1"))
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, models.OperationUpdate, "products", "p1", payload("p1"))
	require.NoError(t, err)
	third, err := q.Enqueue(ctx, models.OperationDelete, "products", "p1", nil)
	require.NoError(t, err)

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID.String(), second.ID.String(), third.ID.String()}, ids(pending))
}

func TestLifecycleTransitions(t *testing.T) {
	ctx := context.Background()
	q, repo := newTestQueue(t)

	a, err := q.Enqueue(ctx, models.OperationCreate, "products", "p1", payload("p1"))
	require.NoError(t, err)
	b, err := q.Enqueue(ctx, models.OperationCreate, "products", "p2", payload("p2"))
	require.NoError(t, err)

	require.NoError(t, q.MarkSyncing(ctx, []string{a.ID.String(), b.ID.String()}))
	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending, "syncing items are not pending")

	require.NoError(t, q.MarkError(ctx, b.ID.String(), "duplicate"))
	require.NoError(t, q.Remove(ctx, []string{a.ID.String()}))

	pending, err = q.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, b.ID, pending[0].ID)
	assert.Equal(t, 1, pending[0].RetryCount)
	assert.Equal(t, "duplicate", pending[0].LastError)

	require.NoError(t, q.MarkAllError(ctx, []string{b.ID.String()}, "network error: refused"))
	got, err := repo.GetQueueItem(ctx, b.ID.String())
	require.NoError(t, err)
	assert.Equal(t, 2, got.RetryCount)
	assert.Equal(t, "network error: refused", got.LastError)
}

func TestDiscardPending_DropsEveryUnsentItem(t *testing.T) {
	ctx := context.Background()
	q, repo := newTestQueue(t)

	inFlight, err := q.Enqueue(ctx, models.OperationUpdate, "products", "p1", payload("p1"))
	require.NoError(t, err)
	require.NoError(t, q.MarkSyncing(ctx, []string{inFlight.ID.String()}))

	_, err = q.Enqueue(ctx, models.OperationUpdate, "products", "p1", payload("p1"))
	require.NoError(t, err)
	failed, err := q.Enqueue(ctx, models.OperationUpdate, "products", "p1", payload("p1"))
	require.NoError(t, err)
	require.NoError(t, q.MarkError(ctx, failed.ID.String(), "boom"))
	other, err := q.Enqueue(ctx, models.OperationUpdate, "products", "p2", payload("p2"))
	require.NoError(t, err)

	var removed int64
	err = repo.WithTx(ctx, func(tx *db.Repository) error {
		var err error
		removed, err = q.DiscardPending(ctx, tx, "products", "p1")
		return err
	})
	require.NoError(t, err)
	assert.EqualValues(t, 3, removed)

	// A late rejection of the in-flight item must not bring it back.
	require.NoError(t, q.MarkError(ctx, inFlight.ID.String(), "rejected"))

	items, err := q.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{other.ID.String()}, ids(items))

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{other.ID.String()}, ids(pending))
}

func TestEnqueueTx_RolledBackWithCaller(t *testing.T) {
	ctx := context.Background()
	q, repo := newTestQueue(t)

	var fired atomic.Int32
	q.SetTrigger(func() { fired.Add(1) })

	_ = repo.WithTx(ctx, func(tx *db.Repository) error {
		_, err := q.EnqueueTx(ctx, tx, models.OperationUpdate, "products", "p1", payload("p1"))
		require.NoError(t, err)
		return assert.AnError
	})

	items, err := q.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Zero(t, fired.Load(), "EnqueueTx must not trigger")
}

func TestStatsAndRetryAll(t *testing.T) {
	ctx := context.Background()
	q, repo := newTestQueue(t)

	a, _ := q.Enqueue(ctx, models.OperationCreate, "products", "p1", payload("p1"))
	b, _ := q.Enqueue(ctx, models.OperationCreate, "products", "p2", payload("p2"))
	_, _ = q.Enqueue(ctx, models.OperationCreate, "products", "p3", payload("p3"))
	require.NoError(t, q.MarkError(ctx, a.ID.String(), "x"))
	require.NoError(t, q.MarkError(ctx, b.ID.String(), "y"))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 2, stats.Error)
	assert.Equal(t, 3, stats.Total)

	var fired atomic.Int32
	q.SetTrigger(func() { fired.Add(1) })

	n, err := q.RetryAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int32(1), fired.Load())

	got, err := repo.GetQueueItem(ctx, a.ID.String())
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusPending, got.Status)
	assert.Zero(t, got.RetryCount)
	assert.Empty(t, got.LastError)

	n, err = q.RetryAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, int32(1), fired.Load())
}

func TestRecover(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	a, _ := q.Enqueue(ctx, models.OperationCreate, "products", "p1", payload("p1"))
	require.NoError(t, q.MarkSyncing(ctx, []string{a.ID.String()}))

	n, err := q.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
