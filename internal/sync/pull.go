package sync

import (
	"context"
	"sort"
	"time"

	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/db"
	apperrors "github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/errors"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/logging"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/models"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/sync/merge"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/sync/transport"
)

type pullOutcome struct {
	received  int
	applied   int
	skipped   int
	conflicts []*models.Conflict
	syncedAt  time.Time
}

// pull fetches the changefeed since the watermark and merges it. All
// merges and the watermark advance commit in one transaction, so a failure
// leaves the mirror and the watermark as they were.
func (e *Engine) pull(ctx context.Context, deviceID, token string) (pullOutcome, error) {
	var out pullOutcome

	watermark, err := e.repo.Watermark(ctx)
	if err != nil {
		return out, apperrors.Wrap(apperrors.ErrDatabase, "failed to read watermark", err)
	}

	req := &transport.PullRequest{DeviceID: deviceID}
	if !watermark.IsZero() {
		since := models.FormatTimestamp(watermark)
		req.LastSyncAt = &since
	}

	resp, err := e.client.Pull(ctx, token, req)
	if err != nil {
		return out, err
	}

	syncedAt, err := models.ParseTimestamp(resp.SyncedAt)
	if err != nil {
		return out, apperrors.Wrap(apperrors.ErrServer, "invalid syncedAt in pull response", err)
	}

	registry := e.merger.Registry()
	types := make([]string, 0, len(resp.Changes))
	for t := range resp.Changes {
		types = append(types, t)
	}
	sort.Strings(types)

	err = e.repo.WithTx(ctx, func(tx *db.Repository) error {
		batch := pullOutcome{}
		for _, entityType := range types {
			records := resp.Changes[entityType]
			if !registry.Supports(entityType) {
				logging.Warn("Skipping unknown entity type in changefeed", map[string]interface{}{
					"entity_type": entityType,
					"records":     len(records),
				})
				continue
			}

			for _, raw := range records {
				rec, err := models.DecodeRecord(raw)
				if err != nil {
					return apperrors.Wrap(apperrors.ErrServer, "malformed "+entityType+" record", err)
				}
				res, err := e.merger.Merge(ctx, tx, entityType, rec)
				if err != nil {
					return err
				}

				batch.received++
				switch res.Outcome {
				case merge.OutcomeInserted, merge.OutcomeUpdated:
					batch.applied++
				case merge.OutcomeSkipped:
					batch.skipped++
				case merge.OutcomeConflict:
					batch.conflicts = append(batch.conflicts, res.Conflict)
				}
			}
		}

		if err := tx.SetWatermark(ctx, syncedAt); err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "failed to advance watermark", err)
		}
		batch.syncedAt = syncedAt
		out = batch
		return nil
	})
	if err != nil {
		return pullOutcome{}, err
	}

	logging.Debug("Pull applied", map[string]interface{}{
		"received":  out.received,
		"applied":   out.applied,
		"skipped":   out.skipped,
		"conflicts": len(out.conflicts),
		"synced_at": resp.SyncedAt,
	})
	return out, nil
}
