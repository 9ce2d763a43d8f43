package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/models"
)

// =====================================================
// Conflict Operations
// =====================================================

const conflictColumns = `id, entity_type, entity_id, local_snapshot, remote_snapshot,
	local_updated_at, remote_updated_at, detected_at, resolution, resolved_at, resolved_data`

// GetConflict retrieves a conflict by ID.
func (r *Repository) GetConflict(ctx context.Context, id string) (*models.Conflict, error) {
	row := r.q.QueryRowContext(ctx, "SELECT "+conflictColumns+" FROM conflicts WHERE id = ?", id)
	return scanConflict(row)
}

// FindUnresolvedConflict returns the open conflict for an entity, or
// sql.ErrNoRows if there is none.
func (r *Repository) FindUnresolvedConflict(ctx context.Context, entityType, entityID string) (*models.Conflict, error) {
	row := r.q.QueryRowContext(ctx,
		"SELECT "+conflictColumns+" FROM conflicts WHERE entity_type = ? AND entity_id = ? AND resolution IS NULL",
		entityType, entityID)
	return scanConflict(row)
}

// InsertConflict creates a new conflict row.
func (r *Repository) InsertConflict(ctx context.Context, c *models.Conflict) error {
	query := `INSERT INTO conflicts (id, entity_type, entity_id, local_snapshot, remote_snapshot,
				local_updated_at, remote_updated_at, detected_at, resolution, resolved_at, resolved_data)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, NULL)`

	_, err := r.q.ExecContext(ctx, query,
		c.ID, c.EntityType, c.EntityID, string(c.LocalSnapshot), string(c.RemoteSnapshot),
		toMillis(c.LocalUpdatedAt), toMillis(c.RemoteUpdatedAt), toMillis(c.DetectedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert conflict: %w", err)
	}
	return nil
}

// UpdateConflictSnapshots refreshes the snapshots of an open conflict.
func (r *Repository) UpdateConflictSnapshots(ctx context.Context, c *models.Conflict) error {
	query := `UPDATE conflicts SET
				local_snapshot = ?, remote_snapshot = ?,
				local_updated_at = ?, remote_updated_at = ?, detected_at = ?
			  WHERE id = ? AND resolution IS NULL`

	res, err := r.q.ExecContext(ctx, query,
		string(c.LocalSnapshot), string(c.RemoteSnapshot),
		toMillis(c.LocalUpdatedAt), toMillis(c.RemoteUpdatedAt), toMillis(c.DetectedAt),
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update conflict: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListConflicts returns conflicts newest first. When unresolvedOnly is set,
// resolved rows are excluded.
func (r *Repository) ListConflicts(ctx context.Context, unresolvedOnly bool) ([]*models.Conflict, error) {
	query := "SELECT " + conflictColumns + " FROM conflicts"
	if unresolvedOnly {
		query += " WHERE resolution IS NULL"
	}
	query += " ORDER BY detected_at DESC, id"

	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conflicts []*models.Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}

// MarkConflictResolved records the applied strategy and result. Only an
// open conflict can be resolved; otherwise sql.ErrNoRows is returned.
func (r *Repository) MarkConflictResolved(ctx context.Context, id string, resolution models.Resolution, data []byte, at time.Time) error {
	query := `UPDATE conflicts SET resolution = ?, resolved_at = ?, resolved_data = ?
			  WHERE id = ? AND resolution IS NULL`

	res, err := r.q.ExecContext(ctx, query, resolution, toMillis(at), nullBytes(data), id)
	if err != nil {
		return fmt.Errorf("failed to resolve conflict %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func scanConflict(row rowScanner) (*models.Conflict, error) {
	c := &models.Conflict{}
	var local, remote string
	var localAt, remoteAt, detectedAt int64
	var resolution, resolvedData sql.NullString
	var resolvedAt sql.NullInt64

	err := row.Scan(
		&c.ID, &c.EntityType, &c.EntityID, &local, &remote,
		&localAt, &remoteAt, &detectedAt, &resolution, &resolvedAt, &resolvedData,
	)
	if err != nil {
		return nil, err
	}

	c.LocalSnapshot = []byte(local)
	c.RemoteSnapshot = []byte(remote)
	c.LocalUpdatedAt = fromMillis(localAt)
	c.RemoteUpdatedAt = fromMillis(remoteAt)
	c.DetectedAt = fromMillis(detectedAt)
	c.Resolution = models.Resolution(resolution.String)
	if resolvedAt.Valid {
		t := fromMillis(resolvedAt.Int64)
		c.ResolvedAt = &t
	}
	if resolvedData.Valid {
		c.ResolvedData = []byte(resolvedData.String)
	}
	return c, nil
}
