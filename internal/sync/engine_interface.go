package sync

import (
	"context"

	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/models"
)

// SyncEngineInterface defines the interface for sync engine operations.
// This interface allows for mocking in handlers and the scheduler.
type SyncEngineInterface interface {
	// Sync runs push then pull. It never blocks on a second caller:
	// concurrent requests return a skipped result.
	Sync(ctx context.Context) (*SyncResult, error)

	// TriggerAsync starts a background sync if online and idle.
	TriggerAsync()

	// Status returns the current in-memory status snapshot.
	Status() Status

	// Subscribe registers a listener for sync and network events.
	Subscribe(l Listener) (unsubscribe func())
}

// EntityStore is the local read/write surface applications use instead of
// touching the mirror directly.
type EntityStore interface {
	Get(ctx context.Context, entityType, id string) (models.Record, error)
	List(ctx context.Context, entityType string) ([]models.Record, error)
	Save(ctx context.Context, entityType string, record models.Record) (models.Record, error)
	Delete(ctx context.Context, entityType, id string) error
}

// Ensure *Engine implements the interfaces at compile time.
var (
	_ SyncEngineInterface = (*Engine)(nil)
	_ EntityStore         = (*Engine)(nil)
)
