// Package conflict resolves conflicts recorded by the merge engine.
package conflict

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
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/sync/merge"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/sync/queue"
)

// Resolver applies a resolution strategy to a stored conflict.
type Resolver struct {
	repo   *db.Repository
	queue  *queue.Queue
	merger *merge.Engine
	now    func() time.Time
}

// NewResolver creates a Resolver. Resolutions that produce a new local
// edit are enqueued on q; server copies are applied through m so they get
// the same field mapping as a regular pull.
func NewResolver(repo *db.Repository, q *queue.Queue, m *merge.Engine) *Resolver {
	return &Resolver{repo: repo, queue: q, merger: m, now: time.Now}
}

// ListUnresolved returns open conflicts, newest first.
func (r *Resolver) ListUnresolved(ctx context.Context) ([]*models.Conflict, error) {
	return r.list(ctx, true)
}

// ListAll returns every conflict including resolved ones.
func (r *Resolver) ListAll(ctx context.Context) ([]*models.Conflict, error) {
	return r.list(ctx, false)
}

func (r *Resolver) list(ctx context.Context, unresolvedOnly bool) ([]*models.Conflict, error) {
	conflicts, err := r.repo.ListConflicts(ctx, unresolvedOnly)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list conflicts", err)
	}
	return conflicts, nil
}

// Get returns one conflict.
func (r *Resolver) Get(ctx context.Context, id string) (*models.Conflict, error) {
	c, err := r.repo.GetConflict(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "conflict %q not found", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to read conflict", err)
	}
	return c, nil
}

// Resolve applies strategy to the conflict and returns the updated row.
//
//   - local re-applies the local snapshot and enqueues it as an update.
//   - server applies the server snapshot and drops the entity's unsent edits.
//   - merge and manual apply data and enqueue it as an update.
//
// The mirror write, the queue change and the conflict update commit
// together.
func (r *Resolver) Resolve(ctx context.Context, id string, strategy models.Resolution, data json.RawMessage) (*models.Conflict, error) {
	if !strategy.Valid() {
		return nil, apperrors.Validation("unsupported resolution strategy %q", strategy)
	}
	needsData := strategy == models.ResolutionMerge || strategy == models.ResolutionManual
	if needsData && len(data) == 0 {
		return nil, apperrors.Validation("strategy %q requires data", strategy)
	}

	var (
		resolved *models.Conflict
		enqueued bool
	)
	err := r.repo.WithTx(ctx, func(tx *db.Repository) error {
		c, err := tx.GetConflict(ctx, id)
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.Validation("unknown conflict %q", id)
		}
		if err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "failed to read conflict", err)
		}
		if c.IsResolved() {
			return apperrors.Validation("conflict %q already resolved as %s", id, c.Resolution)
		}

		now := r.now().UTC().Truncate(time.Millisecond)
		var written json.RawMessage

		switch strategy {
		case models.ResolutionServer:
			written, err = r.applyServer(ctx, tx, c)
			if err != nil {
				return err
			}
			if _, err := r.queue.DiscardPending(ctx, tx, c.EntityType, c.EntityID); err != nil {
				return err
			}

		default:
			source := c.LocalSnapshot
			if needsData {
				source = data
			}
			written, err = stamp(source, c.EntityID, now)
			if err != nil {
				return err
			}
			if err := r.write(ctx, tx, c, written, now, models.MirrorStatusPending); err != nil {
				return err
			}
			if _, err := r.queue.EnqueueTx(ctx, tx, models.OperationUpdate, c.EntityType, c.EntityID, written); err != nil {
				return err
			}
			enqueued = true
		}

		if err := tx.MarkConflictResolved(ctx, id, strategy, written, now); err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "failed to mark conflict resolved", err)
		}

		c.Resolution = strategy
		c.ResolvedAt = &now
		c.ResolvedData = written
		resolved = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.Info("Conflict resolved", map[string]interface{}{
		"conflict_id": id,
		"entity_type": resolved.EntityType,
		"entity_id":   resolved.EntityID,
		"resolution":  string(strategy),
	})

	if enqueued {
		r.queue.Notify()
	}
	return resolved, nil
}

// applyServer maps the server snapshot onto the current local record, or
// onto the local snapshot if the record is gone.
func (r *Resolver) applyServer(ctx context.Context, tx *db.Repository, c *models.Conflict) (json.RawMessage, error) {
	remote, err := models.DecodeRecord(c.RemoteSnapshot)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "corrupt server snapshot", err)
	}

	localData := []byte(c.LocalSnapshot)
	current, err := tx.GetRecord(ctx, c.EntityType, c.EntityID)
	switch {
	case err == nil:
		localData = current.Data
	case !errors.Is(err, sql.ErrNoRows):
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to read local record", err)
	}

	var local models.Record
	if len(localData) > 0 {
		if local, err = models.DecodeRecord(localData); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "corrupt local record", err)
		}
	}
	return r.merger.Apply(ctx, tx, c.EntityType, local, remote)
}

func (r *Resolver) write(ctx context.Context, tx *db.Repository, c *models.Conflict, data json.RawMessage, at time.Time, status models.MirrorStatus) error {
	err := tx.PutRecord(ctx, &models.MirrorRecord{
		EntityType: c.EntityType,
		ID:         c.EntityID,
		Data:       data,
		UpdatedAt:  at,
		SyncStatus: status,
	})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to write resolved record", err)
	}
	return nil
}

// stamp decodes raw as the entity's record and sets its updatedAt to at.
// A missing id is filled in; a different one is rejected.
func stamp(raw json.RawMessage, entityID string, at time.Time) (json.RawMessage, error) {
	rec, err := models.DecodeRecord(raw)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "resolution data must be a JSON object", err)
	}
	switch rec.ID() {
	case "":
		rec[models.FieldID] = entityID
	case entityID:
	default:
		return nil, apperrors.Validation("resolution data has id %q, want %q", rec.ID(), entityID)
	}
	rec.SetUpdatedAt(at)
	return rec.JSON()
}
