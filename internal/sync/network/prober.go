package network

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/logging"
)

// Prober is a Provider that polls a health URL. While online it probes
// every Interval; while offline it backs off exponentially up to Interval.
type Prober struct {
	notifier

	url      string
	interval time.Duration
	client   *http.Client

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewProber creates a Prober for url. It starts offline until the first probe.
func NewProber(url string, interval, timeout time.Duration) *Prober {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Prober{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: timeout},
	}
}

// Probe performs one health check and publishes the result.
func (p *Prober) Probe(ctx context.Context) bool {
	online := p.check(ctx)
	if p.set(online) {
		logging.Info("Connectivity changed", map[string]interface{}{"online": online, "url": p.url})
	}
	return online
}

func (p *Prober) check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}

// Start begins background probing.
func (p *Prober) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(ctx, p.done)
}

// Stop halts background probing and waits for the loop to exit.
func (p *Prober) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (p *Prober) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	offline := backoff.NewExponentialBackOff()
	offline.InitialInterval = time.Second
	offline.MaxInterval = p.interval
	offline.MaxElapsedTime = 0

	for {
		wait := p.interval
		if p.Probe(ctx) {
			offline.Reset()
		} else {
			wait = offline.NextBackOff()
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
