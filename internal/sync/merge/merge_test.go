package merge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/db"
	apperrors "github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/errors"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/models"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/uuid"
)

type fixture struct {
	ctx    context.Context
	repo   *db.Repository
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	database, err := db.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Migrate())

	reg := NewRegistry()
	reg.Register("products", nil)
	reg.Register("categories", Passthrough{})
	reg.Register("customers", FieldMapping{Fields: []string{"name"}})

	e := NewEngine(reg)
	e.now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }

	return &fixture{ctx: context.Background(), repo: db.NewRepository(database.DB), engine: e}
}

func (f *fixture) merge(t *testing.T, entityType string, raw string) *Result {
	t.Helper()
	rec, err := models.DecodeRecord([]byte(raw))
	require.NoError(t, err)

	var res *Result
	err = f.repo.WithTx(f.ctx, func(tx *db.Repository) error {
		var err error
		res, err = f.engine.Merge(f.ctx, tx, entityType, rec)
		return err
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) putLocal(t *testing.T, entityType, raw string, status models.MirrorStatus) {
	t.Helper()
	rec, err := models.DecodeRecord([]byte(raw))
	require.NoError(t, err)
	at, err := rec.UpdatedAt()
	require.NoError(t, err)
	require.NoError(t, f.repo.PutRecord(f.ctx, &models.MirrorRecord{
		EntityType: entityType, ID: rec.ID(), Data: []byte(raw), UpdatedAt: at, SyncStatus: status,
	}))
}

func (f *fixture) enqueue(t *testing.T, entityType, id string, status models.QueueStatus) {
	t.Helper()
	item := &models.QueueItem{
		ID:         models.UUID(uuid.New()),
		Operation:  models.OperationUpdate,
		EntityType: entityType,
		EntityID:   id,
		Payload:    []byte(`{}`),
		EnqueuedAt: time.Now(),
		Status:     status,
	}
	require.NoError(t, f.repo.InsertQueueItem(f.ctx, item))
}

func TestMerge_InsertsMissingRecord(t *testing.T) {
	f := newFixture(t)

	res := f.merge(t, "products", `{"id":"p1","name":"Globo","price":12.50,"updatedAt":"2024-01-01T00:00:00Z"}`)
	assert.Equal(t, OutcomeInserted, res.Outcome)

	got, err := f.repo.GetRecord(f.ctx, "products", "p1")
	require.NoError(t, err)
	assert.Equal(t, models.MirrorStatusSynced, got.SyncStatus)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), got.UpdatedAt)
	assert.JSONEq(t, `{"id":"p1","name":"Globo","price":12.50,"updatedAt":"2024-01-01T00:00:00Z"}`, string(got.Data))
}

func TestMerge_NewerRemoteOverwritesWhenNoPendingEdits(t *testing.T) {
	f := newFixture(t)
	f.putLocal(t, "products", `{"id":"p1","name":"old","updatedAt":"2024-01-01T00:00:00Z"}`, models.MirrorStatusSynced)

	res := f.merge(t, "products", `{"id":"p1","name":"new","updatedAt":"2024-01-02T00:00:00Z"}`)
	assert.Equal(t, OutcomeUpdated, res.Outcome)

	got, err := f.repo.GetRecord(f.ctx, "products", "p1")
	require.NoError(t, err)
	assert.Contains(t, string(got.Data), `"new"`)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), got.UpdatedAt)
}

func TestMerge_OlderOrEqualRemoteIsNoop(t *testing.T) {
	f := newFixture(t)
	local := `{"id":"p1","name":"mine","updatedAt":"2024-01-02T00:00:00Z"}`
	f.putLocal(t, "products", local, models.MirrorStatusSynced)

	for _, raw := range []string{
		`{"id":"p1","name":"stale","updatedAt":"2024-01-01T00:00:00Z"}`,
		`{"id":"p1","name":"same","updatedAt":"2024-01-02T00:00:00Z"}`,
	} {
		res := f.merge(t, "products", raw)
		assert.Equal(t, OutcomeSkipped, res.Outcome)
	}

	got, err := f.repo.GetRecord(f.ctx, "products", "p1")
	require.NoError(t, err)
	assert.JSONEq(t, local, string(got.Data))
}

// Fast path: a pending local edit with a stale server copy is not a conflict.
func TestMerge_PendingEditWithOlderRemoteIsNotConflict(t *testing.T) {
	f := newFixture(t)
	f.putLocal(t, "categories", `{"id":"c1","name":"local","updatedAt":"2024-01-02T00:00:00Z"}`, models.MirrorStatusPending)
	f.enqueue(t, "categories", "c1", models.QueueStatusPending)

	res := f.merge(t, "categories", `{"id":"c1","name":"server","updatedAt":"2024-01-01T00:00:00Z"}`)
	assert.Equal(t, OutcomeSkipped, res.Outcome)

	conflicts, err := f.repo.ListConflicts(f.ctx, true)
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestMerge_PendingEditWithNewerRemoteRaisesConflict(t *testing.T) {
	f := newFixture(t)
	local := `{"id":"c1","name":"local","updatedAt":"2024-01-01T00:00"}`
	f.putLocal(t, "categories", local, models.MirrorStatusPending)
	f.enqueue(t, "categories", "c1", models.QueueStatusPending)

	remote := `{"id":"c1","name":"server","updatedAt":"2024-01-02T00:00"}`
	res := f.merge(t, "categories", remote)
	assert.Equal(t, OutcomeConflict, res.Outcome)
	require.NotNil(t, res.Conflict)

	// Merging the same record again overwrites rather than duplicates.
	res2 := f.merge(t, "categories", `{"id":"c1","name":"server v2","updatedAt":"2024-01-03T00:00"}`)
	assert.Equal(t, OutcomeConflict, res2.Outcome)
	assert.Equal(t, res.Conflict.ID, res2.Conflict.ID)

	conflicts, err := f.repo.ListConflicts(f.ctx, true)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	c := conflicts[0]
	assert.Equal(t, "categories", c.EntityType)
	assert.Equal(t, "c1", c.EntityID)
	assert.JSONEq(t, local, string(c.LocalSnapshot))
	assert.Contains(t, string(c.RemoteSnapshot), "server v2")
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), c.LocalUpdatedAt)
	assert.Equal(t, time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), c.RemoteUpdatedAt)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), c.DetectedAt)

	got, err := f.repo.GetRecord(f.ctx, "categories", "c1")
	require.NoError(t, err)
	assert.JSONEq(t, local, string(got.Data), "local mirror must be untouched")
	assert.Equal(t, models.MirrorStatusPending, got.SyncStatus)
}

func TestMerge_SyncingEditAlsoConflicts(t *testing.T) {
	f := newFixture(t)
	f.putLocal(t, "products", `{"id":"p1","updatedAt":"2024-01-01T00:00:00Z"}`, models.MirrorStatusPending)
	f.enqueue(t, "products", "p1", models.QueueStatusSyncing)

	res := f.merge(t, "products", `{"id":"p1","updatedAt":"2024-01-02T00:00:00Z"}`)
	assert.Equal(t, OutcomeConflict, res.Outcome)
}

func TestMerge_ErrorStatusItemDoesNotConflict(t *testing.T) {
	f := newFixture(t)
	f.putLocal(t, "products", `{"id":"p1","updatedAt":"2024-01-01T00:00:00Z"}`, models.MirrorStatusPending)
	f.enqueue(t, "products", "p1", models.QueueStatusError)

	res := f.merge(t, "products", `{"id":"p1","updatedAt":"2024-01-02T00:00:00Z"}`)
	assert.Equal(t, OutcomeUpdated, res.Outcome)
}

func TestMerge_SyncedStatusItemIgnored(t *testing.T) {
	f := newFixture(t)
	f.putLocal(t, "products", `{"id":"p1","updatedAt":"2024-01-01T00:00:00Z"}`, models.MirrorStatusSynced)
	f.enqueue(t, "products", "p1", models.QueueStatusSynced)

	res := f.merge(t, "products", `{"id":"p1","updatedAt":"2024-01-02T00:00:00Z"}`)
	assert.Equal(t, OutcomeUpdated, res.Outcome)
}

func TestMerge_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.putLocal(t, "products", `{"id":"p2","updatedAt":"2024-01-01T00:00:00Z"}`, models.MirrorStatusSynced)

	feed := []string{
		`{"id":"p1","name":"a","updatedAt":"2024-01-05T00:00:00Z"}`,
		`{"id":"p2","name":"b","updatedAt":"2024-01-05T00:00:00Z"}`,
	}

	snapshot := func() []*models.MirrorRecord {
		recs, err := f.repo.ListRecords(f.ctx, "products")
		require.NoError(t, err)
		return recs
	}

	for _, raw := range feed {
		f.merge(t, "products", raw)
	}
	first := snapshot()

	for _, raw := range feed {
		res := f.merge(t, "products", raw)
		assert.Equal(t, OutcomeSkipped, res.Outcome)
	}
	assert.Equal(t, first, snapshot())
}

func TestMerge_FieldMappingKeepsUnlistedLocalFields(t *testing.T) {
	f := newFixture(t)
	f.putLocal(t, "customers", `{"id":"u1","name":"old","notes":"local only","updatedAt":"2024-01-01T00:00:00Z"}`, models.MirrorStatusSynced)

	res := f.merge(t, "customers", `{"id":"u1","name":"new","email":"x@y.z","updatedAt":"2024-01-02T00:00:00Z"}`)
	assert.Equal(t, OutcomeUpdated, res.Outcome)

	got, err := f.repo.GetRecord(f.ctx, "customers", "u1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"u1","name":"new","notes":"local only","updatedAt":"2024-01-02T00:00:00Z"}`, string(got.Data))
}

func TestMerge_RejectsBadInput(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		entityType string
		raw        string
	}{
		{"invoices", `{"id":"i1","updatedAt":"2024-01-01T00:00:00Z"}`},
		{"products", `{"updatedAt":"2024-01-01T00:00:00Z"}`},
		{"products", `{"id":"p1","updatedAt":"yesterday"}`},
		{"products", `{"id":"p1"}`},
	}

	for _, tc := range cases {
		rec, err := models.DecodeRecord([]byte(tc.raw))
		require.NoError(t, err)
		_, err = f.engine.Merge(f.ctx, f.repo, tc.entityType, rec)
		require.Error(t, err, tc.raw)
		assert.True(t, apperrors.Is(err, apperrors.ErrValidation), tc.raw)
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	assert.False(t, reg.Supports("products"))

	reg.Register("products", nil)
	reg.Register("categories", FieldMapping{Fields: []string{"name"}})

	m, ok := reg.Lookup("products")
	require.True(t, ok)
	assert.IsType(t, Passthrough{}, m)
	assert.Equal(t, []string{"categories", "products"}, reg.Types())
}
