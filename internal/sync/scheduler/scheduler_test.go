package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncpkg "github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/sync"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/sync/network"
)

// fakeEngine counts Sync calls and returns a scripted outcome.
type fakeEngine struct {
	calls atomic.Int32

	mu     sync.Mutex
	result *syncpkg.SyncResult
	err    error
	block  chan struct{}
}

func (f *fakeEngine) Sync(context.Context) (*syncpkg.SyncResult, error) {
	f.calls.Add(1)
	f.mu.Lock()
	block := f.block
	res, err := f.result, f.err
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if res == nil {
		res = &syncpkg.SyncResult{Success: true, EndTime: time.Now()}
	}
	return res, err
}

func (f *fakeEngine) TriggerAsync()         {}
func (f *fakeEngine) Status() syncpkg.Status { return syncpkg.Status{} }
func (f *fakeEngine) Subscribe(syncpkg.Listener) func() {
	return func() {}
}

func newTestScheduler(t *testing.T, online bool, cfg *SchedulerConfig) (*fakeEngine, *network.Manual, *Scheduler) {
	t.Helper()
	engine := &fakeEngine{}
	net := network.NewManual(online)
	s := NewScheduler(engine, net, nil, cfg)
	t.Cleanup(s.Stop)
	return engine, net, s
}

func TestDefaultSchedulerConfig(t *testing.T) {
	config := DefaultSchedulerConfig()
	require.NotNil(t, config)
	assert.Equal(t, 15*time.Minute, config.SyncInterval)
	assert.Equal(t, 2*time.Second, config.ReconnectDebounce)
}

func TestNewScheduler_nilConfig(t *testing.T) {
	_, _, s := newTestScheduler(t, true, nil)
	assert.Equal(t, 15*time.Minute, s.interval)
	assert.False(t, s.IsRunning())
}

func TestScheduler_StartStop_idempotent(t *testing.T) {
	_, _, s := newTestScheduler(t, true, &SchedulerConfig{})

	s.Start(context.Background())
	s.Start(context.Background())
	assert.True(t, s.IsRunning())

	s.Stop()
	s.Stop()
	assert.False(t, s.IsRunning())

	s.Start(context.Background())
	assert.False(t, s.IsRunning(), "a stopped scheduler stays stopped")
}

func TestScheduler_Stop_withoutStart(t *testing.T) {
	_, _, s := newTestScheduler(t, true, nil)
	s.Stop()
	assert.False(t, s.IsRunning())
}

func TestScheduler_ReconnectSyncsOnceAfterFlapping(t *testing.T) {
	engine, net, s := newTestScheduler(t, false, &SchedulerConfig{ReconnectDebounce: 40 * time.Millisecond})
	s.Start(context.Background())

	for i := 0; i < 3; i++ {
		net.SetOnline(true)
		net.SetOnline(false)
	}
	net.SetOnline(true)

	assert.Eventually(t, func() bool { return engine.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), engine.calls.Load())
}

func TestScheduler_NoSyncWhenConnectionDropsWithinDebounce(t *testing.T) {
	engine, net, s := newTestScheduler(t, false, &SchedulerConfig{ReconnectDebounce: 30 * time.Millisecond})
	s.Start(context.Background())

	net.SetOnline(true)
	net.SetOnline(false)

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, engine.calls.Load())
}

func TestScheduler_PeriodicSyncWhileOnline(t *testing.T) {
	engine, _, s := newTestScheduler(t, true, &SchedulerConfig{SyncInterval: 15 * time.Millisecond})
	s.Start(context.Background())

	assert.Eventually(t, func() bool { return engine.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)

	status := s.GetStatus(context.Background())
	assert.True(t, status.IsRunning)
	assert.True(t, status.IsOnline)
	assert.NotNil(t, status.LastSyncTime)
	assert.Nil(t, status.QueueStats)
}

func TestScheduler_periodicSyncLoop_offline(t *testing.T) {
	engine, _, s := newTestScheduler(t, false, &SchedulerConfig{SyncInterval: 10 * time.Millisecond})
	s.Start(context.Background())

	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, engine.calls.Load())
}

func TestScheduler_StoppedSchedulerIgnoresReconnect(t *testing.T) {
	engine, net, s := newTestScheduler(t, false, &SchedulerConfig{ReconnectDebounce: 10 * time.Millisecond})
	s.Start(context.Background())
	s.Stop()

	net.SetOnline(true)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, engine.calls.Load())
}

func TestScheduler_TriggerSync(t *testing.T) {
	engine, _, s := newTestScheduler(t, true, nil)
	release := make(chan struct{})
	engine.block = release

	assert.True(t, s.TriggerSync(context.Background()))
	assert.Eventually(t, func() bool { return s.GetStatus(context.Background()).SyncInProgress }, time.Second, 5*time.Millisecond)
	assert.False(t, s.TriggerSync(context.Background()))

	close(release)
	assert.Eventually(t, func() bool { return !s.GetStatus(context.Background()).SyncInProgress }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), engine.calls.Load())
}

func TestScheduler_SyncNow(t *testing.T) {
	engine, _, s := newTestScheduler(t, true, nil)
	end := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	engine.result = &syncpkg.SyncResult{Success: true, Pushed: 2, EndTime: end}

	res, err := s.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Pushed)

	status := s.GetStatus(context.Background())
	require.NotNil(t, status.LastSyncTime)
	assert.Equal(t, end, *status.LastSyncTime)
	assert.Equal(t, res, status.LastResult)
}

func TestScheduler_SyncNow_error(t *testing.T) {
	engine, _, s := newTestScheduler(t, true, nil)
	engine.result = &syncpkg.SyncResult{Success: false, Message: "sync failed"}
	engine.err = errors.New("boom")

	res, err := s.SyncNow(context.Background())
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.Nil(t, s.GetStatus(context.Background()).LastSyncTime)
}

func TestScheduler_concurrentAccess(t *testing.T) {
	_, net, s := newTestScheduler(t, true, &SchedulerConfig{SyncInterval: 5 * time.Millisecond, ReconnectDebounce: time.Millisecond})
	s.Start(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			net.SetOnline(i%2 == 0)
			s.TriggerSync(context.Background())
			_ = s.GetStatus(context.Background())
		}(i)
	}
	wg.Wait()
}
