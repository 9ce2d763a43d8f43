package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/models"
)

// =====================================================
// Mirror Record Operations
// =====================================================

// GetRecord retrieves a mirrored record. Returns sql.ErrNoRows when the
// record does not exist locally.
func (r *Repository) GetRecord(ctx context.Context, entityType, id string) (*models.MirrorRecord, error) {
	query := `SELECT entity_type, id, data, updated_at, sync_status
			  FROM mirror_records WHERE entity_type = ? AND id = ?`

	rec := &models.MirrorRecord{}
	var data string
	var updatedAt int64
	err := r.q.QueryRowContext(ctx, query, entityType, id).Scan(
		&rec.EntityType, &rec.ID, &data, &updatedAt, &rec.SyncStatus,
	)
	if err != nil {
		return nil, err
	}
	rec.Data = []byte(data)
	rec.UpdatedAt = fromMillis(updatedAt)
	return rec, nil
}

// PutRecord inserts or replaces a mirrored record.
func (r *Repository) PutRecord(ctx context.Context, rec *models.MirrorRecord) error {
	if rec.EntityType == "" || rec.ID == "" {
		return fmt.Errorf("mirror record requires entity type and id")
	}
	if rec.SyncStatus == "" {
		rec.SyncStatus = models.MirrorStatusSynced
	}

	query := `INSERT INTO mirror_records (entity_type, id, data, updated_at, sync_status)
			  VALUES (?, ?, ?, ?, ?)
			  ON CONFLICT(entity_type, id) DO UPDATE SET
				data = excluded.data,
				updated_at = excluded.updated_at,
				sync_status = excluded.sync_status`

	_, err := r.q.ExecContext(ctx, query,
		rec.EntityType, rec.ID, string(rec.Data), toMillis(rec.UpdatedAt), rec.SyncStatus,
	)
	if err != nil {
		return fmt.Errorf("failed to put record %s/%s: %w", rec.EntityType, rec.ID, err)
	}
	return nil
}

// PutRecords writes several records in one transaction.
func (r *Repository) PutRecords(ctx context.Context, recs []*models.MirrorRecord) error {
	return r.WithTx(ctx, func(tx *Repository) error {
		for _, rec := range recs {
			if err := tx.PutRecord(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteRecord removes a mirrored record. Deleting a missing record is not an error.
func (r *Repository) DeleteRecord(ctx context.Context, entityType, id string) error {
	_, err := r.q.ExecContext(ctx,
		"DELETE FROM mirror_records WHERE entity_type = ? AND id = ?", entityType, id)
	if err != nil {
		return fmt.Errorf("failed to delete record %s/%s: %w", entityType, id, err)
	}
	return nil
}

// ListRecords returns all mirrored records of an entity type ordered by id.
func (r *Repository) ListRecords(ctx context.Context, entityType string) ([]*models.MirrorRecord, error) {
	query := `SELECT entity_type, id, data, updated_at, sync_status
			  FROM mirror_records WHERE entity_type = ? ORDER BY id`

	rows, err := r.q.QueryContext(ctx, query, entityType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*models.MirrorRecord
	for rows.Next() {
		rec := &models.MirrorRecord{}
		var data string
		var updatedAt int64
		if err := rows.Scan(&rec.EntityType, &rec.ID, &data, &updatedAt, &rec.SyncStatus); err != nil {
			return nil, err
		}
		rec.Data = []byte(data)
		rec.UpdatedAt = fromMillis(updatedAt)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// SetSyncStatus updates the sync status of a mirrored record.
// Missing records are ignored.
func (r *Repository) SetSyncStatus(ctx context.Context, entityType, id string, status models.MirrorStatus) error {
	_, err := r.q.ExecContext(ctx,
		"UPDATE mirror_records SET sync_status = ? WHERE entity_type = ? AND id = ?",
		status, entityType, id)
	return err
}

// RecordExists reports whether a record is present in the mirror.
func (r *Repository) RecordExists(ctx context.Context, entityType, id string) (bool, error) {
	var n int
	err := r.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM mirror_records WHERE entity_type = ? AND id = ?", entityType, id).Scan(&n)
	if err != nil && err != sql.ErrNoRows {
		return false, err
	}
	return n > 0, nil
}
