// Package scheduler decides when to sync: shortly after connectivity
// returns, and periodically while online.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/db"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/errors"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/logging"
	syncpkg "github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/sync"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/sync/network"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/sync/queue"
)

// syncTimeout bounds a single scheduled sync.
const syncTimeout = 5 * time.Minute

// Scheduler runs syncs on reconnect and on a timer.
type Scheduler struct {
	engine    syncpkg.SyncEngineInterface
	network   network.Provider
	queue     *queue.Queue
	interval  time.Duration
	debounce  time.Duration
	changed   chan struct{}
	stopCh    chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	isRunning bool
	stopped   bool

	lastSyncTime   time.Time
	lastResult     *syncpkg.SyncResult
	syncInProgress bool
	unsubscribe    func()
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	SyncInterval      time.Duration // periodic sync while online; zero disables it
	ReconnectDebounce time.Duration // quiet period after coming online before syncing
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		SyncInterval:      15 * time.Minute,
		ReconnectDebounce: 2 * time.Second,
	}
}

// NewScheduler creates a new Scheduler. q is only used for status
// reporting and may be nil.
func NewScheduler(engine syncpkg.SyncEngineInterface, provider network.Provider, q *queue.Queue, config *SchedulerConfig) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}

	return &Scheduler{
		engine:   engine,
		network:  provider,
		queue:    q,
		interval: config.SyncInterval,
		debounce: config.ReconnectDebounce,
		changed:  make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
}

// Start subscribes to network changes and starts the scheduling loop.
// A stopped scheduler cannot be restarted.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning || s.stopped {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.unsubscribe = s.network.Subscribe(func(bool) {
		select {
		case s.changed <- struct{}{}:
		default:
		}
	})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)

	logging.Info("Sync scheduler started", map[string]interface{}{
		"interval_seconds": s.interval.Seconds(),
		"debounce_ms":      s.debounce.Milliseconds(),
	})
}

// Stop stops the scheduler and waits for a running sync to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.stopped = true
	unsubscribe := s.unsubscribe
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	close(s.stopCh)
	s.wg.Wait()

	logging.Info("Sync scheduler stopped", nil)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		fire = nil
	}
	defer stopTimer()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-s.changed:
			// Restart the window on every transition so flapping links
			// produce one sync once they settle.
			stopTimer()
			if s.network.IsOnline() {
				timer = time.NewTimer(s.debounce)
				fire = timer.C
			}
		case <-fire:
			fire = nil
			if s.network.IsOnline() {
				s.runSync(ctx, "reconnect")
			}
		case <-tick:
			if s.network.IsOnline() {
				s.runSync(ctx, "periodic")
			}
		}
	}
}

// runSync executes one sync and records the outcome.
func (s *Scheduler) runSync(ctx context.Context, reason string) {
	s.mu.Lock()
	if s.syncInProgress {
		s.mu.Unlock()
		logging.Debug("Sync already in progress, skipping", map[string]interface{}{"reason": reason})
		return
	}
	s.syncInProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.syncInProgress = false
		s.mu.Unlock()
	}()

	syncCtx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()

	result, err := s.engine.Sync(syncCtx)
	s.record(result)

	if err != nil {
		logging.ErrorWithCode("Scheduled sync failed", string(errors.ErrSyncFailed), err,
			map[string]interface{}{"reason": reason})
		return
	}
	if result.Skipped {
		logging.Debug("Scheduled sync skipped", map[string]interface{}{
			"reason":  reason,
			"message": result.Message,
		})
		return
	}

	logging.Info("Scheduled sync completed", map[string]interface{}{
		"reason":    reason,
		"pushed":    result.Pushed,
		"pulled":    result.Pulled,
		"conflicts": result.Conflicts,
	})
}

func (s *Scheduler) record(result *syncpkg.SyncResult) {
	if result == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastResult = result
	if result.Success {
		s.lastSyncTime = result.EndTime
	}
}

// TriggerSync starts a sync in the background.
// Returns true if sync was started, false if sync is already in progress.
func (s *Scheduler) TriggerSync(ctx context.Context) bool {
	s.mu.RLock()
	isSyncing := s.syncInProgress
	s.mu.RUnlock()

	if isSyncing {
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runSync(ctx, "manual")
	}()
	return true
}

// SyncNow runs a sync on the caller's goroutine and returns its result.
func (s *Scheduler) SyncNow(ctx context.Context) (*syncpkg.SyncResult, error) {
	syncCtx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()

	result, err := s.engine.Sync(syncCtx)
	s.record(result)
	return result, err
}

// SchedulerStatus is a snapshot of the scheduler.
type SchedulerStatus struct {
	IsRunning      bool                `json:"is_running"`
	IsOnline       bool                `json:"is_online"`
	SyncInProgress bool                `json:"sync_in_progress"`
	LastSyncTime   *time.Time          `json:"last_sync_time,omitempty"`
	LastResult     *syncpkg.SyncResult `json:"last_result,omitempty"`
	QueueStats     *db.QueueStats      `json:"queue_stats,omitempty"`
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus(ctx context.Context) SchedulerStatus {
	s.mu.RLock()
	status := SchedulerStatus{
		IsRunning:      s.isRunning,
		IsOnline:       s.network.IsOnline(),
		SyncInProgress: s.syncInProgress,
		LastResult:     s.lastResult,
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	s.mu.RUnlock()

	if s.queue != nil {
		stats, err := s.queue.Stats(ctx)
		if err != nil {
			logging.Warn("Failed to read queue stats", map[string]interface{}{"error": err.Error()})
		} else {
			status.QueueStats = stats
		}
	}
	return status
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
