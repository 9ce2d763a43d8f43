package sync

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/db"
	apperrors "github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/errors"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/models"
)

// Get returns the locally mirrored record.
func (e *Engine) Get(ctx context.Context, entityType, id string) (models.Record, error) {
	if err := e.checkType(entityType); err != nil {
		return nil, err
	}
	rec, err := e.repo.GetRecord(ctx, entityType, id)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "%s %q not found", entityType, id)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to read record", err)
	}
	return rec.Record()
}

// List returns all mirrored records of entityType.
func (e *Engine) List(ctx context.Context, entityType string) ([]models.Record, error) {
	if err := e.checkType(entityType); err != nil {
		return nil, err
	}
	recs, err := e.repo.ListRecords(ctx, entityType)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list records", err)
	}

	out := make([]models.Record, 0, len(recs))
	for _, r := range recs {
		rec, err := r.Record()
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "corrupt record "+entityType+"/"+r.ID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Save writes record to the mirror as pending and enqueues a create or
// update in the same transaction. updatedAt is stamped with the local clock.
func (e *Engine) Save(ctx context.Context, entityType string, record models.Record) (models.Record, error) {
	if err := e.checkType(entityType); err != nil {
		return nil, err
	}
	id := record.ID()
	if id == "" {
		return nil, apperrors.Validation("%s record requires an id", entityType)
	}

	rec := record.Clone()
	now := e.now().UTC().Truncate(time.Millisecond)
	rec.SetUpdatedAt(now)
	data, err := rec.JSON()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "failed to encode record", err)
	}

	err = e.repo.WithTx(ctx, func(tx *db.Repository) error {
		exists, err := tx.RecordExists(ctx, entityType, id)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "failed to read record", err)
		}
		op := models.OperationCreate
		if exists {
			op = models.OperationUpdate
		}

		err = tx.PutRecord(ctx, &models.MirrorRecord{
			EntityType: entityType,
			ID:         id,
			Data:       data,
			UpdatedAt:  now,
			SyncStatus: models.MirrorStatusPending,
		})
		if err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "failed to write record", err)
		}

		_, err = e.queue.EnqueueTx(ctx, tx, op, entityType, id, data)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.queue.Notify()
	return rec, nil
}

// Delete removes the record locally and enqueues a delete.
func (e *Engine) Delete(ctx context.Context, entityType, id string) error {
	if err := e.checkType(entityType); err != nil {
		return err
	}

	err := e.repo.WithTx(ctx, func(tx *db.Repository) error {
		exists, err := tx.RecordExists(ctx, entityType, id)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "failed to read record", err)
		}
		if !exists {
			return apperrors.Newf(apperrors.ErrNotFound, "%s %q not found", entityType, id)
		}
		if err := tx.DeleteRecord(ctx, entityType, id); err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "failed to delete record", err)
		}
		_, err = e.queue.EnqueueTx(ctx, tx, models.OperationDelete, entityType, id, nil)
		return err
	})
	if err != nil {
		return err
	}

	e.queue.Notify()
	return nil
}

func (e *Engine) checkType(entityType string) error {
	if !e.merger.Registry().Supports(entityType) {
		return apperrors.Validation("unsupported entity type %q", entityType)
	}
	return nil
}
