package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/models"
)

// =====================================================
// Sync Queue Operations
// =====================================================

const queueColumns = `seq, id, operation, entity_type, entity_id, payload,
	enqueued_at, status, retry_count, last_error`

// QueueStats summarises queue items by status.
type QueueStats struct {
	Pending int `json:"pending"`
	Syncing int `json:"syncing"`
	Error   int `json:"error"`
	Total   int `json:"total"`
}

// InsertQueueItem appends an item to the queue and fills its Seq.
func (r *Repository) InsertQueueItem(ctx context.Context, item *models.QueueItem) error {
	if item.Status == "" {
		item.Status = models.QueueStatusPending
	}

	query := `INSERT INTO sync_queue (id, operation, entity_type, entity_id, payload,
				enqueued_at, status, retry_count, last_error)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := r.q.ExecContext(ctx, query,
		item.ID, item.Operation, item.EntityType, item.EntityID, nullBytes(item.Payload),
		toMillis(item.EnqueuedAt), item.Status, item.RetryCount, nullString(item.LastError),
	)
	if err != nil {
		return fmt.Errorf("failed to insert queue item: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read queue sequence: %w", err)
	}
	item.Seq = seq
	return nil
}

// GetQueueItem retrieves a queue item by ID.
func (r *Repository) GetQueueItem(ctx context.Context, id string) (*models.QueueItem, error) {
	row := r.q.QueryRowContext(ctx, "SELECT "+queueColumns+" FROM sync_queue WHERE id = ?", id)
	return scanQueueItem(row)
}

// ListQueueItems returns items in the given statuses ordered by enqueue
// time, ties broken by insertion order. With no statuses, all items are returned.
func (r *Repository) ListQueueItems(ctx context.Context, statuses ...models.QueueStatus) ([]*models.QueueItem, error) {
	query := "SELECT " + queueColumns + " FROM sync_queue"
	args := make([]interface{}, 0, len(statuses))
	if len(statuses) > 0 {
		query += " WHERE status IN (" + placeholders(len(statuses)) + ")"
		for _, s := range statuses {
			args = append(args, s)
		}
	}
	query += " ORDER BY enqueued_at ASC, seq ASC"

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// UpdateQueueStatus sets the status of the given items.
func (r *Repository) UpdateQueueStatus(ctx context.Context, ids []string, status models.QueueStatus) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, status)
	for _, id := range ids {
		args = append(args, id)
	}

	query := "UPDATE sync_queue SET status = ? WHERE id IN (" + placeholders(len(ids)) + ")"
	if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update queue status: %w", err)
	}
	return nil
}

// MarkQueueError moves an item to error status, records the message and
// increments its retry count.
func (r *Repository) MarkQueueError(ctx context.Context, id, message string) error {
	query := `UPDATE sync_queue
			  SET status = ?, last_error = ?, retry_count = retry_count + 1
			  WHERE id = ?`
	if _, err := r.q.ExecContext(ctx, query, models.QueueStatusError, message, id); err != nil {
		return fmt.Errorf("failed to mark queue item %s as error: %w", id, err)
	}
	return nil
}

// DeleteQueueItems removes items by ID.
func (r *Repository) DeleteQueueItems(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	query := "DELETE FROM sync_queue WHERE id IN (" + placeholders(len(ids)) + ")"
	if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete queue items: %w", err)
	}
	return nil
}

// DeleteEntityQueueItems removes an entity's items in the given statuses
// and returns how many were removed.
func (r *Repository) DeleteEntityQueueItems(ctx context.Context, entityType, entityID string, statuses ...models.QueueStatus) (int64, error) {
	query := "DELETE FROM sync_queue WHERE entity_type = ? AND entity_id = ?"
	args := []interface{}{entityType, entityID}
	if len(statuses) > 0 {
		query += " AND status IN (" + placeholders(len(statuses)) + ")"
		for _, s := range statuses {
			args = append(args, s)
		}
	}

	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete queue items for %s/%s: %w", entityType, entityID, err)
	}
	return res.RowsAffected()
}

// CountEntityQueueItems counts an entity's items in the given statuses.
// With no statuses, every item for the entity is counted.
func (r *Repository) CountEntityQueueItems(ctx context.Context, entityType, entityID string, statuses ...models.QueueStatus) (int, error) {
	var sb strings.Builder
	sb.WriteString("SELECT COUNT(*) FROM sync_queue WHERE entity_type = ? AND entity_id = ?")
	args := []interface{}{entityType, entityID}
	if len(statuses) > 0 {
		sb.WriteString(" AND status IN (" + placeholders(len(statuses)) + ")")
		for _, s := range statuses {
			args = append(args, s)
		}
	}

	var n int
	if err := r.q.QueryRowContext(ctx, sb.String(), args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// QueueStats counts queue items per status.
func (r *Repository) QueueStats(ctx context.Context) (*QueueStats, error) {
	rows, err := r.q.QueryContext(ctx, "SELECT status, COUNT(*) FROM sync_queue GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &QueueStats{}
	for rows.Next() {
		var status models.QueueStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		switch status {
		case models.QueueStatusPending:
			stats.Pending = n
		case models.QueueStatusSyncing:
			stats.Syncing = n
		case models.QueueStatusError:
			stats.Error = n
		}
		stats.Total += n
	}
	return stats, rows.Err()
}

// ResetErrorItems moves every error item back to pending and clears its
// retry counter. Returns the number of items reset.
func (r *Repository) ResetErrorItems(ctx context.Context) (int64, error) {
	res, err := r.q.ExecContext(ctx,
		"UPDATE sync_queue SET status = ?, retry_count = 0, last_error = NULL WHERE status = ?",
		models.QueueStatusPending, models.QueueStatusError)
	if err != nil {
		return 0, fmt.Errorf("failed to reset error items: %w", err)
	}
	return res.RowsAffected()
}

// RecoverSyncingItems moves items left in syncing status by an interrupted
// run back to pending.
func (r *Repository) RecoverSyncingItems(ctx context.Context) (int64, error) {
	res, err := r.q.ExecContext(ctx,
		"UPDATE sync_queue SET status = ? WHERE status = ?",
		models.QueueStatusPending, models.QueueStatusSyncing)
	if err != nil {
		return 0, fmt.Errorf("failed to recover syncing items: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQueueItem(row rowScanner) (*models.QueueItem, error) {
	item := &models.QueueItem{}
	var payload, lastError sql.NullString
	var enqueuedAt int64
	err := row.Scan(
		&item.Seq, &item.ID, &item.Operation, &item.EntityType, &item.EntityID, &payload,
		&enqueuedAt, &item.Status, &item.RetryCount, &lastError,
	)
	if err != nil {
		return nil, err
	}
	if payload.Valid {
		item.Payload = []byte(payload.String)
	}
	item.EnqueuedAt = fromMillis(enqueuedAt)
	item.LastError = lastError.String
	return item, nil
}
