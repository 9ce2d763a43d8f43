// Package merge applies server records to the local mirror and detects
// conflicts with unsent local edits.
//
// A record conflicts when its entity still has a pending or syncing queue
// item and the server copy is newer than the local one. Conflicting records
// never touch the mirror; they are parked in the conflicts table until a
// resolution is chosen.
package merge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/db"
	apperrors "github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/errors"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/logging"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/models"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/uuid"
)

// Outcome is what a merge did with one record.
type Outcome string

const (
	OutcomeInserted Outcome = "inserted"
	OutcomeUpdated  Outcome = "updated"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeConflict Outcome = "conflict"
)

// inFlight are the queue statuses that hold a local edit back from being
// overwritten. Error items are not included; a rejected edit loses to a
// newer server copy.
var inFlight = []models.QueueStatus{
	models.QueueStatusPending,
	models.QueueStatusSyncing,
}

// Result describes a single merge.
type Result struct {
	Outcome    Outcome
	EntityType string
	EntityID   string
	Conflict   *models.Conflict
}

// Engine merges server records into the mirror.
type Engine struct {
	registry *Registry
	now      func() time.Time
}

// NewEngine creates a merge Engine over the given registry.
func NewEngine(registry *Registry) *Engine {
	return &Engine{registry: registry, now: time.Now}
}

// Registry returns the engine's mapper registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Merge applies one server record through tx. Applying the same record
// twice leaves the mirror unchanged the second time.
func (e *Engine) Merge(ctx context.Context, tx *db.Repository, entityType string, remote models.Record) (*Result, error) {
	mapper, ok := e.registry.Lookup(entityType)
	if !ok {
		return nil, apperrors.Validation("unsupported entity type %q", entityType)
	}

	id := remote.ID()
	if id == "" {
		return nil, apperrors.Validation("%s record without id", entityType)
	}
	remoteAt, err := remote.UpdatedAt()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "invalid updatedAt on "+entityType+"/"+id, err)
	}

	result := &Result{EntityType: entityType, EntityID: id}

	local, err := tx.GetRecord(ctx, entityType, id)
	if errors.Is(err, sql.ErrNoRows) {
		if err := e.write(ctx, tx, mapper, entityType, id, nil, remote, remoteAt); err != nil {
			return nil, err
		}
		result.Outcome = OutcomeInserted
		return result, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to read local record", err)
	}

	// Storage keeps millisecond precision, so compare at that resolution.
	newer := remoteAt.UnixMilli() > local.UpdatedAt.UnixMilli()
	if !newer {
		result.Outcome = OutcomeSkipped
		return result, nil
	}

	unsent, err := tx.CountEntityQueueItems(ctx, entityType, id, inFlight...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to inspect queue", err)
	}

	if unsent > 0 {
		conflict, err := e.recordConflict(ctx, tx, local, remote, remoteAt)
		if err != nil {
			return nil, err
		}
		result.Outcome = OutcomeConflict
		result.Conflict = conflict
		return result, nil
	}

	localRec, err := local.Record()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "corrupt local record "+entityType+"/"+id, err)
	}
	if err := e.write(ctx, tx, mapper, entityType, id, localRec, remote, remoteAt); err != nil {
		return nil, err
	}
	result.Outcome = OutcomeUpdated
	return result, nil
}

// Apply writes remote over local through the entity type's mapper and
// marks the record synced at the remote updatedAt, without any conflict
// check. It returns the stored document. local may be nil.
func (e *Engine) Apply(ctx context.Context, tx *db.Repository, entityType string, local, remote models.Record) (json.RawMessage, error) {
	mapper, ok := e.registry.Lookup(entityType)
	if !ok {
		return nil, apperrors.Validation("unsupported entity type %q", entityType)
	}
	id := remote.ID()
	if id == "" {
		return nil, apperrors.Validation("%s record without id", entityType)
	}
	remoteAt, err := remote.UpdatedAt()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "invalid updatedAt on "+entityType+"/"+id, err)
	}
	return e.store(ctx, tx, mapper, entityType, id, local, remote, remoteAt)
}

func (e *Engine) write(ctx context.Context, tx *db.Repository, mapper Mapper, entityType, id string, local, remote models.Record, remoteAt time.Time) error {
	_, err := e.store(ctx, tx, mapper, entityType, id, local, remote, remoteAt)
	return err
}

func (e *Engine) store(ctx context.Context, tx *db.Repository, mapper Mapper, entityType, id string, local, remote models.Record, remoteAt time.Time) (json.RawMessage, error) {
	mapped, err := mapper.Map(local, remote)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "failed to map "+entityType+"/"+id, err)
	}
	data, err := mapped.JSON()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "failed to encode "+entityType+"/"+id, err)
	}

	err = tx.PutRecord(ctx, &models.MirrorRecord{
		EntityType: entityType,
		ID:         id,
		Data:       data,
		UpdatedAt:  remoteAt,
		SyncStatus: models.MirrorStatusSynced,
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to write local record", err)
	}
	return data, nil
}

// recordConflict upserts the single open conflict for the entity.
func (e *Engine) recordConflict(ctx context.Context, tx *db.Repository, local *models.MirrorRecord, remote models.Record, remoteAt time.Time) (*models.Conflict, error) {
	remoteData, err := remote.JSON()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "failed to encode remote snapshot", err)
	}

	conflict := &models.Conflict{
		EntityType:      local.EntityType,
		EntityID:        local.ID,
		LocalSnapshot:   json.RawMessage(local.Data),
		RemoteSnapshot:  remoteData,
		LocalUpdatedAt:  local.UpdatedAt,
		RemoteUpdatedAt: remoteAt,
		DetectedAt:      e.now(),
	}

	existing, err := tx.FindUnresolvedConflict(ctx, local.EntityType, local.ID)
	switch {
	case err == nil:
		conflict.ID = existing.ID
		if err := tx.UpdateConflictSnapshots(ctx, conflict); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to update conflict", err)
		}
	case errors.Is(err, sql.ErrNoRows):
		conflict.ID = models.UUID(uuid.New())
		if err := tx.InsertConflict(ctx, conflict); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to record conflict", err)
		}
	default:
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to look up conflict", err)
	}

	logging.Warn("Conflict detected", map[string]interface{}{
		"conflict_id":       conflict.ID.String(),
		"entity_type":       conflict.EntityType,
		"entity_id":         conflict.EntityID,
		"local_updated_at":  models.FormatTimestamp(conflict.LocalUpdatedAt),
		"remote_updated_at": models.FormatTimestamp(conflict.RemoteUpdatedAt),
	})
	return conflict, nil
}
