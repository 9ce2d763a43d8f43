package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/models"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/uuid"
)

// Keys in the sync_state table.
const (
	StateKeyDeviceID   = "device_id"
	StateKeyLastSyncAt = "last_sync_at"
)

// =====================================================
// Sync State Operations
// =====================================================

// GetState returns the value stored under key, or "" if unset.
func (r *Repository) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := r.q.QueryRowContext(ctx, "SELECT value FROM sync_state WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// SetState stores value under key.
func (r *Repository) SetState(ctx context.Context, key, value string) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO sync_state (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set state %q: %w", key, err)
	}
	return nil
}

// DeleteState removes key.
func (r *Repository) DeleteState(ctx context.Context, key string) error {
	_, err := r.q.ExecContext(ctx, "DELETE FROM sync_state WHERE key = ?", key)
	return err
}

// EnsureDeviceID returns the persisted device identifier, generating and
// storing one on first use.
func (r *Repository) EnsureDeviceID(ctx context.Context) (string, error) {
	var id string
	err := r.WithTx(ctx, func(tx *Repository) error {
		existing, err := tx.GetState(ctx, StateKeyDeviceID)
		if err != nil {
			return err
		}
		if existing != "" {
			id = existing
			return nil
		}
		id = uuid.NewDeviceID()
		return tx.SetState(ctx, StateKeyDeviceID, id)
	})
	return id, err
}

// Watermark returns the server timestamp of the last completed pull.
// The zero time means no pull has completed yet.
func (r *Repository) Watermark(ctx context.Context) (time.Time, error) {
	raw, err := r.GetState(ctx, StateKeyLastSyncAt)
	if err != nil || raw == "" {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt watermark %q: %w", raw, err)
	}
	return fromMillis(ms), nil
}

// SetWatermark stores the server timestamp of a completed pull.
func (r *Repository) SetWatermark(ctx context.Context, t time.Time) error {
	return r.SetState(ctx, StateKeyLastSyncAt, strconv.FormatInt(toMillis(t), 10))
}

// =====================================================
// SyncCredential Operations
// =====================================================

// GetSyncCredential returns the enabled credential, or sql.ErrNoRows.
func (r *Repository) GetSyncCredential(ctx context.Context) (*models.SyncCredential, error) {
	query := `SELECT id, endpoint, token, is_enabled, created_at, updated_at
			  FROM sync_credentials WHERE is_enabled = 1
			  ORDER BY updated_at DESC LIMIT 1`

	cred := &models.SyncCredential{}
	err := r.q.QueryRowContext(ctx, query).Scan(
		&cred.ID, &cred.Endpoint, &cred.Token, &cred.IsEnabled, &cred.CreatedAt, &cred.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return cred, nil
}

// SaveSyncCredential replaces the stored credential with cred.
func (r *Repository) SaveSyncCredential(ctx context.Context, cred *models.SyncCredential) error {
	return r.WithTx(ctx, func(tx *Repository) error {
		if _, err := tx.q.ExecContext(ctx, "UPDATE sync_credentials SET is_enabled = 0"); err != nil {
			return fmt.Errorf("failed to disable previous credentials: %w", err)
		}

		now := time.Now().Unix()
		if cred.ID == "" {
			cred.ID = models.UUID(uuid.New())
			cred.CreatedAt = now
		}
		cred.UpdatedAt = now
		cred.IsEnabled = true

		query := `INSERT INTO sync_credentials (id, endpoint, token, is_enabled, created_at, updated_at)
				  VALUES (?, ?, ?, 1, ?, ?)
				  ON CONFLICT(id) DO UPDATE SET
					endpoint = excluded.endpoint, token = excluded.token,
					is_enabled = 1, updated_at = excluded.updated_at`
		if _, err := tx.q.ExecContext(ctx, query, cred.ID, cred.Endpoint, cred.Token, cred.CreatedAt, cred.UpdatedAt); err != nil {
			return fmt.Errorf("failed to save credential: %w", err)
		}
		return nil
	})
}

// DeleteSyncCredentials removes all stored credentials.
func (r *Repository) DeleteSyncCredentials(ctx context.Context) error {
	_, err := r.q.ExecContext(ctx, "DELETE FROM sync_credentials")
	return err
}
