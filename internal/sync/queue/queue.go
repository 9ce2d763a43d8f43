// Package queue provides the durable operation queue for offline mutations.
//
// Every local create, update or delete is appended as one item and kept
// until the server acknowledges it. Items are never coalesced; they are
// pushed in enqueue order.
package queue

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/db"
	apperrors "github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/errors"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/logging"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/models"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/uuid"
)

// TypeChecker reports whether an entity type is known to the engine.
type TypeChecker interface {
	Supports(entityType string) bool
}

// Queue manages pending sync operations backed by the sync_queue table.
type Queue struct {
	repo  *db.Repository
	types TypeChecker
	now   func() time.Time

	mu      sync.RWMutex
	trigger func()
}

// New creates a Queue. types may be nil, in which case any non-blank
// entity type is accepted.
func New(repo *db.Repository, types TypeChecker) *Queue {
	return &Queue{
		repo:  repo,
		types: types,
		now:   time.Now,
	}
}

// SetTrigger registers the function invoked after a durable enqueue.
// The trigger must not block; the orchestrator starts its sync in the background.
func (q *Queue) SetTrigger(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.trigger = fn
}

// Notify invokes the trigger. Callers that enqueue inside their own
// transaction call it after commit.
func (q *Queue) Notify() {
	q.mu.RLock()
	fn := q.trigger
	q.mu.RUnlock()

	if fn != nil {
		fn()
	}
}

// Enqueue durably appends an operation and then fires the trigger.
func (q *Queue) Enqueue(ctx context.Context, op models.Operation, entityType, entityID string, payload json.RawMessage) (*models.QueueItem, error) {
	item, err := q.EnqueueTx(ctx, q.repo, op, entityType, entityID, payload)
	if err != nil {
		return nil, err
	}
	q.Notify()
	return item, nil
}

// EnqueueTx appends an operation through tx without firing the trigger.
func (q *Queue) EnqueueTx(ctx context.Context, tx *db.Repository, op models.Operation, entityType, entityID string, payload json.RawMessage) (*models.QueueItem, error) {
	if err := q.validate(op, entityType, entityID, payload); err != nil {
		return nil, err
	}

	item := &models.QueueItem{
		ID:         models.UUID(uuid.New()),
		Operation:  op,
		EntityType: entityType,
		EntityID:   entityID,
		EnqueuedAt: q.now(),
		Status:     models.QueueStatusPending,
	}
	if op != models.OperationDelete {
		item.Payload = payload
	}

	if err := tx.InsertQueueItem(ctx, item); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to enqueue operation", err)
	}

	logging.Debug("Enqueued operation", map[string]interface{}{
		"queue_id":    item.ID.String(),
		"operation":   string(op),
		"entity_type": entityType,
		"entity_id":   entityID,
	})
	return item, nil
}

func (q *Queue) validate(op models.Operation, entityType, entityID string, payload json.RawMessage) error {
	if !op.Valid() {
		return apperrors.Validation("unsupported operation %q", op)
	}
	if strings.TrimSpace(entityType) == "" {
		return apperrors.Validation("entity type is required")
	}
	if strings.TrimSpace(entityID) == "" {
		return apperrors.Validation("entity id is required")
	}
	if q.types != nil && !q.types.Supports(entityType) {
		return apperrors.Validation("unsupported entity type %q", entityType)
	}
	if op != models.OperationDelete {
		if len(payload) == 0 || !json.Valid(payload) {
			return apperrors.Validation("%s operation requires a JSON payload", op)
		}
	}
	return nil
}

// Pending returns items awaiting push (pending or error) in enqueue order.
func (q *Queue) Pending(ctx context.Context) ([]*models.QueueItem, error) {
	items, err := q.repo.ListQueueItems(ctx, models.QueueStatusPending, models.QueueStatusError)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list pending operations", err)
	}
	return items, nil
}

// List returns every queued item in enqueue order.
func (q *Queue) List(ctx context.Context) ([]*models.QueueItem, error) {
	items, err := q.repo.ListQueueItems(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list queue", err)
	}
	return items, nil
}

// MarkSyncing flags items as in flight.
func (q *Queue) MarkSyncing(ctx context.Context, ids []string) error {
	if err := q.repo.UpdateQueueStatus(ctx, ids, models.QueueStatusSyncing); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to mark items syncing", err)
	}
	return nil
}

// MarkError records a failed push attempt for one item.
func (q *Queue) MarkError(ctx context.Context, id, message string) error {
	if err := q.repo.MarkQueueError(ctx, id, message); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to mark item error", err)
	}
	return nil
}

// MarkAllError records the same failure for every item in one transaction.
func (q *Queue) MarkAllError(ctx context.Context, ids []string, message string) error {
	err := q.repo.WithTx(ctx, func(tx *db.Repository) error {
		for _, id := range ids {
			if err := tx.MarkQueueError(ctx, id, message); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to mark batch error", err)
	}
	return nil
}

// Remove deletes acknowledged items.
func (q *Queue) Remove(ctx context.Context, ids []string) error {
	if err := q.repo.DeleteQueueItems(ctx, ids); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to remove items", err)
	}
	return nil
}

// DiscardPending deletes every unacknowledged item for an entity through
// tx, including items in flight. A push result that arrives for a deleted
// item updates nothing, so the discarded edit is never retried.
func (q *Queue) DiscardPending(ctx context.Context, tx *db.Repository, entityType, entityID string) (int64, error) {
	n, err := tx.DeleteEntityQueueItems(ctx, entityType, entityID,
		models.QueueStatusPending, models.QueueStatusSyncing, models.QueueStatusError)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to discard pending operations", err)
	}
	if n > 0 {
		logging.Debug("Discarded pending operations", map[string]interface{}{
			"entity_type": entityType,
			"entity_id":   entityID,
			"count":       n,
		})
	}
	return n, nil
}

// Stats returns queue statistics.
func (q *Queue) Stats(ctx context.Context) (*db.QueueStats, error) {
	stats, err := q.repo.QueueStats(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to read queue stats", err)
	}
	return stats, nil
}

// RetryAll resets all error items to pending with cleared retry counters
// and fires the trigger if anything was reset.
func (q *Queue) RetryAll(ctx context.Context) (int, error) {
	n, err := q.repo.ResetErrorItems(ctx)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to reset error items", err)
	}
	if n > 0 {
		logging.Info("Reset failed items for retry", map[string]interface{}{"count": n})
		q.Notify()
	}
	return int(n), nil
}

// Recover returns items stranded in syncing status by an interrupted
// process to pending. It is called once at startup.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	n, err := q.repo.RecoverSyncingItems(ctx)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to recover in-flight items", err)
	}
	if n > 0 {
		logging.Warn("Recovered interrupted queue items", map[string]interface{}{"count": n})
	}
	return int(n), nil
}
