// Package sync coordinates the offline-first synchronization cycle:
// queued local mutations are pushed to the server, then the server's
// changefeed is pulled and merged into the local mirror.
package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/auth"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/db"
	apperrors "github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/errors"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/logging"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/models"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/sync/merge"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/sync/network"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/sync/queue"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/sync/transport"
)

// SyncStatus represents the orchestrator state.
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusSyncing SyncStatus = "syncing"
)

// Messages used for skipped syncs.
const (
	MessageOffline          = "offline"
	MessageInProgress       = "sync already in progress"
	MessageNotAuthenticated = "not authenticated"
)

// SyncResult is the single structured outcome of one Sync call.
type SyncResult struct {
	Success    bool          `json:"success"`
	Skipped    bool          `json:"skipped,omitempty"`
	Message    string        `json:"message"`
	Pushed     int           `json:"pushed"`
	PushFailed int           `json:"push_failed"`
	Pulled     int           `json:"pulled"`
	Applied    int           `json:"applied"`
	Conflicts  int           `json:"conflicts"`
	StartTime  time.Time     `json:"start_time"`
	EndTime    time.Time     `json:"end_time"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// Status is a point-in-time view of the engine.
type Status struct {
	State      SyncStatus  `json:"state"`
	Online     bool        `json:"online"`
	DeviceID   string      `json:"device_id,omitempty"`
	// LastSyncAt is the server time of the last applied pull, the same
	// watermark the next pull starts from.
	LastSyncAt *time.Time  `json:"last_sync_at,omitempty"`
	LastResult *SyncResult `json:"last_result,omitempty"`
}

// EventType names the events published to listeners.
type EventType string

const (
	EventSyncStarted      EventType = "sync.started"
	EventSyncCompleted    EventType = "sync.completed"
	EventSyncFailed       EventType = "sync.failed"
	EventSyncSkipped      EventType = "sync.skipped"
	EventConflictDetected EventType = "sync.conflict_detected"
	EventNetworkChanged   EventType = "network.changed"
)

// Event is delivered to listeners. Result is set for sync events and
// Conflict for conflict events.
type Event struct {
	Type     EventType        `json:"type"`
	Time     time.Time        `json:"time"`
	Status   Status           `json:"status"`
	Result   *SyncResult      `json:"result,omitempty"`
	Conflict *models.Conflict `json:"conflict,omitempty"`
}

// Listener receives engine events. Listeners run on the syncing goroutine
// and must not block.
type Listener func(Event)

// Options wires the engine's collaborators.
type Options struct {
	Repo    *db.Repository
	Queue   *queue.Queue
	Merger  *merge.Engine
	Client  transport.Client
	Auth    auth.Provider
	Network network.Provider
	Clock   func() time.Time
}

// Engine is the single-flight sync orchestrator.
type Engine struct {
	repo    *db.Repository
	queue   *queue.Queue
	merger  *merge.Engine
	client  transport.Client
	auth    auth.Provider
	network network.Provider
	now     func() time.Time

	syncing atomic.Bool
	wg      gosync.WaitGroup

	mu         gosync.RWMutex
	deviceID   string
	lastSyncAt *time.Time
	lastResult *SyncResult
	nextSubID  int
	listeners  map[int]Listener

	unsubscribeNetwork func()
}

// NewEngine creates an Engine and registers it as the queue's trigger.
func NewEngine(opts Options) (*Engine, error) {
	switch {
	case opts.Repo == nil:
		return nil, apperrors.New(apperrors.ErrConfig, "sync engine requires a repository")
	case opts.Queue == nil:
		return nil, apperrors.New(apperrors.ErrConfig, "sync engine requires a queue")
	case opts.Merger == nil:
		return nil, apperrors.New(apperrors.ErrConfig, "sync engine requires a merge engine")
	case opts.Client == nil:
		return nil, apperrors.New(apperrors.ErrConfig, "sync engine requires a transport client")
	case opts.Auth == nil:
		return nil, apperrors.New(apperrors.ErrConfig, "sync engine requires an auth provider")
	case opts.Network == nil:
		return nil, apperrors.New(apperrors.ErrConfig, "sync engine requires a network provider")
	}

	e := &Engine{
		repo:      opts.Repo,
		queue:     opts.Queue,
		merger:    opts.Merger,
		client:    opts.Client,
		auth:      opts.Auth,
		network:   opts.Network,
		now:       opts.Clock,
		listeners: make(map[int]Listener),
	}
	if e.now == nil {
		e.now = time.Now
	}

	e.queue.SetTrigger(e.TriggerAsync)
	e.unsubscribeNetwork = e.network.Subscribe(e.onNetworkChange)
	return e, nil
}

// Registry returns the entity type registry used for merging.
func (e *Engine) Registry() *merge.Registry {
	return e.merger.Registry()
}

// Queue returns the engine's operation queue.
func (e *Engine) Queue() *queue.Queue {
	return e.queue
}

// DeviceID returns the persisted device identifier, creating it on first use.
func (e *Engine) DeviceID(ctx context.Context) (string, error) {
	e.mu.RLock()
	id := e.deviceID
	e.mu.RUnlock()
	if id != "" {
		return id, nil
	}

	id, err := e.repo.EnsureDeviceID(ctx)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrDatabase, "failed to load device id", err)
	}
	e.mu.Lock()
	e.deviceID = id
	e.mu.Unlock()
	return id, nil
}

// Restore loads the device id and the pull watermark so Status reports
// them before the first sync of this process.
func (e *Engine) Restore(ctx context.Context) error {
	if _, err := e.DeviceID(ctx); err != nil {
		return err
	}
	watermark, err := e.repo.Watermark(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to read watermark", err)
	}
	if !watermark.IsZero() {
		e.mu.Lock()
		e.lastSyncAt = &watermark
		e.mu.Unlock()
	}
	return nil
}

// Status returns the current status snapshot.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st := Status{
		State:      SyncStatusIdle,
		Online:     e.network.IsOnline(),
		DeviceID:   e.deviceID,
		LastSyncAt: e.lastSyncAt,
		LastResult: e.lastResult,
	}
	if e.syncing.Load() {
		st.State = SyncStatusSyncing
	}
	return st
}

// Subscribe registers l and returns a function removing it.
func (e *Engine) Subscribe(l Listener) func() {
	e.mu.Lock()
	id := e.nextSubID
	e.nextSubID++
	e.listeners[id] = l
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

func (e *Engine) publish(ev Event) {
	ev.Time = e.now()
	ev.Status = e.Status()

	e.mu.RLock()
	ls := make([]Listener, 0, len(e.listeners))
	for _, l := range e.listeners {
		ls = append(ls, l)
	}
	e.mu.RUnlock()

	for _, l := range ls {
		l(ev)
	}
}

func (e *Engine) onNetworkChange(online bool) {
	logging.Info("Network status changed", map[string]interface{}{"online": online})
	e.publish(Event{Type: EventNetworkChanged})
}

// TriggerAsync starts a sync on a background goroutine if online and no
// sync is running. It never blocks.
func (e *Engine) TriggerAsync() {
	if !e.network.IsOnline() || e.syncing.Load() {
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if _, err := e.Sync(context.Background()); err != nil {
			logging.Warn("Background sync failed", map[string]interface{}{"error": err.Error()})
		}
	}()
}

// Sync performs push then pull. The returned result is never nil. err is
// set only when a started sync failed.
func (e *Engine) Sync(ctx context.Context) (*SyncResult, error) {
	if !e.network.IsOnline() {
		return e.skip(MessageOffline), nil
	}
	if !e.syncing.CompareAndSwap(false, true) {
		return e.skip(MessageInProgress), nil
	}
	defer e.syncing.Store(false)

	token, err := e.auth.Token(ctx)
	if apperrors.Is(err, apperrors.ErrAuthentication) {
		logging.Debug("Sync skipped without credentials", map[string]interface{}{"error": err.Error()})
		return e.skip(MessageNotAuthenticated), nil
	}
	if err != nil {
		err = apperrors.Wrap(apperrors.CodeOf(err), "failed to load credentials", err)
		return e.fail(&SyncResult{StartTime: e.now()}, err), err
	}

	deviceID, err := e.DeviceID(ctx)
	if err != nil {
		return e.fail(&SyncResult{StartTime: e.now()}, err), err
	}

	result := &SyncResult{StartTime: e.now()}
	e.publish(Event{Type: EventSyncStarted})
	logging.Info("Sync started", map[string]interface{}{"device_id": deviceID})

	// Push must finish before pull so unsent edits are never judged stale.
	pushed, err := e.push(ctx, deviceID, token)
	result.Pushed = pushed.removed
	result.PushFailed = pushed.failed
	if err != nil {
		err = apperrors.Wrap(apperrors.CodeOf(err), "push failed", err)
		return e.fail(result, err), err
	}

	pulled, err := e.pull(ctx, deviceID, token)
	if err != nil {
		err = apperrors.Wrap(apperrors.CodeOf(err), "pull failed", err)
		return e.fail(result, err), err
	}
	result.Pulled = pulled.received
	result.Applied = pulled.applied
	result.Conflicts = len(pulled.conflicts)

	result.Success = true
	result.Message = fmt.Sprintf("pushed %d, pulled %d", result.Pushed, result.Pulled)
	if result.Conflicts > 0 {
		result.Message += fmt.Sprintf(", %d conflicts", result.Conflicts)
	}
	e.finish(result)

	e.mu.Lock()
	syncedAt := pulled.syncedAt
	e.lastSyncAt = &syncedAt
	e.mu.Unlock()

	for _, c := range pulled.conflicts {
		e.publish(Event{Type: EventConflictDetected, Conflict: c})
	}
	e.publish(Event{Type: EventSyncCompleted, Result: result})

	logging.Info("Sync completed", map[string]interface{}{
		"pushed":      result.Pushed,
		"push_failed": result.PushFailed,
		"pulled":      result.Pulled,
		"applied":     result.Applied,
		"conflicts":   result.Conflicts,
		"duration_ms": result.Duration.Milliseconds(),
	})
	return result, nil
}

func (e *Engine) skip(message string) *SyncResult {
	now := e.now()
	result := &SyncResult{
		Success:   false,
		Skipped:   true,
		Message:   message,
		StartTime: now,
		EndTime:   now,
	}
	e.publish(Event{Type: EventSyncSkipped, Result: result})
	return result
}

func (e *Engine) fail(result *SyncResult, err error) *SyncResult {
	result.Success = false
	result.Message = "sync failed"
	result.Error = err.Error()
	e.finish(result)

	logging.ErrorWithCode("Sync failed", string(apperrors.CodeOf(err)), err, map[string]interface{}{
		"pushed":      result.Pushed,
		"push_failed": result.PushFailed,
	})
	e.publish(Event{Type: EventSyncFailed, Result: result})
	return result
}

func (e *Engine) finish(result *SyncResult) {
	result.EndTime = e.now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	e.mu.Lock()
	e.lastResult = result
	e.mu.Unlock()
}

// Wait blocks until background syncs started by TriggerAsync finish.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Close detaches from the network provider and the queue, then waits for
// background syncs.
func (e *Engine) Close() {
	if e.unsubscribeNetwork != nil {
		e.unsubscribeNetwork()
	}
	e.queue.SetTrigger(nil)
	e.wg.Wait()

	e.mu.Lock()
	e.listeners = make(map[int]Listener)
	e.mu.Unlock()
}
