// Package db provides repository interfaces for the sync data models.
package db

import (
	"context"
	"time"

	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/models"
)

// MirrorRepository defines operations on the local entity mirror.
type MirrorRepository interface {
	GetRecord(ctx context.Context, entityType, id string) (*models.MirrorRecord, error)
	PutRecord(ctx context.Context, rec *models.MirrorRecord) error
	DeleteRecord(ctx context.Context, entityType, id string) error
	ListRecords(ctx context.Context, entityType string) ([]*models.MirrorRecord, error)
	SetSyncStatus(ctx context.Context, entityType, id string, status models.MirrorStatus) error
}

// QueueRepository defines operations for the durable operation queue.
type QueueRepository interface {
	InsertQueueItem(ctx context.Context, item *models.QueueItem) error
	ListQueueItems(ctx context.Context, statuses ...models.QueueStatus) ([]*models.QueueItem, error)
	UpdateQueueStatus(ctx context.Context, ids []string, status models.QueueStatus) error
	MarkQueueError(ctx context.Context, id, message string) error
	DeleteQueueItems(ctx context.Context, ids []string) error
	DeleteEntityQueueItems(ctx context.Context, entityType, entityID string, statuses ...models.QueueStatus) (int64, error)
	CountEntityQueueItems(ctx context.Context, entityType, entityID string, statuses ...models.QueueStatus) (int, error)
}

// ConflictRepository defines operations for conflict persistence.
type ConflictRepository interface {
	GetConflict(ctx context.Context, id string) (*models.Conflict, error)
	FindUnresolvedConflict(ctx context.Context, entityType, entityID string) (*models.Conflict, error)
	InsertConflict(ctx context.Context, c *models.Conflict) error
	UpdateConflictSnapshots(ctx context.Context, c *models.Conflict) error
	ListConflicts(ctx context.Context, unresolvedOnly bool) ([]*models.Conflict, error)
	MarkConflictResolved(ctx context.Context, id string, resolution models.Resolution, data []byte, at time.Time) error
}

// StateRepository defines operations on per-device sync state.
type StateRepository interface {
	EnsureDeviceID(ctx context.Context) (string, error)
	Watermark(ctx context.Context) (time.Time, error)
	SetWatermark(ctx context.Context, t time.Time) error
}

// SyncRepository combines the repositories needed for sync operations.
type SyncRepository interface {
	MirrorRepository
	QueueRepository
	ConflictRepository
	StateRepository
}

// Ensure *Repository implements the interfaces at compile time.
var (
	_ MirrorRepository   = (*Repository)(nil)
	_ QueueRepository    = (*Repository)(nil)
	_ ConflictRepository = (*Repository)(nil)
	_ StateRepository    = (*Repository)(nil)
	_ SyncRepository     = (*Repository)(nil)
)
