package sync

import (
	"context"
	"encoding/json"
	stderrors "errors"

	apperrors "github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/errors"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/logging"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/models"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/sync/transport"
)

// MessageNoResult is stored on items the server left out of its response.
const MessageNoResult = "no result from server"

type pushOutcome struct {
	sent    int
	removed int
	failed  int
}

// push drains the queue in one bulk request. Per-item rejections are
// recorded on the items and do not fail the push; a failure of the whole
// request marks every submitted item as error and is returned.
func (e *Engine) push(ctx context.Context, deviceID, token string) (pushOutcome, error) {
	var out pushOutcome

	items, err := e.queue.Pending(ctx)
	if err != nil {
		return out, err
	}
	if len(items) == 0 {
		return out, nil
	}

	ids := make([]string, len(items))
	ops := make([]transport.Operation, len(items))
	for i, item := range items {
		ids[i] = item.ID.String()
		ops[i] = toWire(item)
	}
	out.sent = len(items)

	if err := e.queue.MarkSyncing(ctx, ids); err != nil {
		return out, err
	}

	resp, err := e.client.Push(ctx, token, &transport.PushRequest{DeviceID: deviceID, Operations: ops})
	if err != nil {
		out.failed = len(items)
		if markErr := e.queue.MarkAllError(ctx, ids, batchErrorMessage(err)); markErr != nil {
			logging.Error("Failed to record push failure on queue", markErr)
		}
		return out, err
	}

	results := make(map[string]transport.PushResult, len(resp.Results))
	for _, r := range resp.Results {
		results[r.ID] = r
	}

	var succeeded []string
	touched := make(map[[2]string]bool)
	for _, item := range items {
		id := item.ID.String()
		r, ok := results[id]
		switch {
		case !ok:
			out.failed++
			if err := e.queue.MarkError(ctx, id, MessageNoResult); err != nil {
				return out, err
			}
		case r.Status == transport.StatusSuccess:
			succeeded = append(succeeded, id)
			touched[[2]string{item.EntityType, item.EntityID}] = true
		default:
			out.failed++
			msg := r.Error
			if msg == "" {
				msg = "rejected by server"
			}
			if err := e.queue.MarkError(ctx, id, msg); err != nil {
				return out, err
			}
		}
	}

	if err := e.queue.Remove(ctx, succeeded); err != nil {
		return out, err
	}
	out.removed = len(succeeded)

	for key := range touched {
		if err := e.markSyncedIfDrained(ctx, key[0], key[1]); err != nil {
			return out, err
		}
	}

	if out.failed > 0 {
		logging.Warn("Some operations were rejected", map[string]interface{}{
			"sent":   out.sent,
			"failed": out.failed,
		})
	}
	return out, nil
}

// markSyncedIfDrained flags the mirror record as synced once no queue item
// for the entity remains.
func (e *Engine) markSyncedIfDrained(ctx context.Context, entityType, entityID string) error {
	remaining, err := e.repo.CountEntityQueueItems(ctx, entityType, entityID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to count remaining operations", err)
	}
	if remaining > 0 {
		return nil
	}
	if err := e.repo.SetSyncStatus(ctx, entityType, entityID, models.MirrorStatusSynced); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to mark record synced", err)
	}
	return nil
}

func toWire(item *models.QueueItem) transport.Operation {
	data := item.Payload
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	return transport.Operation{
		ID:        item.ID.String(),
		Operation: string(item.Operation),
		TableName: item.EntityType,
		RecordID:  item.EntityID,
		Data:      data,
		Timestamp: models.FormatTimestamp(item.EnqueuedAt),
	}
}

// batchErrorMessage renders a whole-batch failure for storage on each item.
func batchErrorMessage(err error) string {
	prefix := "network error"
	switch apperrors.CodeOf(err) {
	case apperrors.ErrServer:
		prefix = "server error"
	case apperrors.ErrAuthentication:
		prefix = "authentication error"
	}

	msg := err.Error()
	var ae *apperrors.AppError
	if stderrors.As(err, &ae) {
		msg = ae.Message
		if ae.Err != nil {
			msg += ": " + ae.Err.Error()
		}
	}
	return prefix + ": " + msg
}
