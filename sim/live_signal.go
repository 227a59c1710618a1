package sim

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// FetchFunc retrieves a fresh value from an external source. It is called
// from the signal's background poller, never from the simulation step loop.
type FetchFunc func(ctx context.Context) (float64, error)

// LiveSignal decouples the simulation step from external data acquisition.
// A background goroutine periodically fetches a fresh value and caches it
// behind a lock; Now returns the cached value without blocking. Fetch
// failures are logged and the previous value is retained: stale-but-available
// beats blocking or crashing the simulation.
type LiveSignal struct {
	name     string
	fetch    FetchFunc
	interval time.Duration

	mu         sync.RWMutex
	value      float64
	lastUpdate time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewLiveSignal creates a LiveSignal that polls fetch every updateInterval.
// initial is returned by Now until the first fetch completes.
func NewLiveSignal(name string, fetch FetchFunc, updateInterval time.Duration, initial float64) *LiveSignal {
	if updateInterval <= 0 {
		updateInterval = 5 * time.Second
	}
	return &LiveSignal{
		name:     name,
		fetch:    fetch,
		interval: updateInterval,
		value:    initial,
		done:     make(chan struct{}),
	}
}

// Start spawns the background poller. Called by the environment when the
// signal is attached to a running simulation; subsequent calls are no-ops.
func (s *LiveSignal) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)
		go s.poll(ctx)
	})
}

func (s *LiveSignal) poll(ctx context.Context) {
	defer close(s.done)

	s.fetchOnce(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fetchOnce(ctx)
		}
	}
}

func (s *LiveSignal) fetchOnce(ctx context.Context) {
	v, err := s.fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logrus.WithError(err).Warnf("live signal %q: fetch failed, keeping cached value", s.name)
		return
	}
	s.mu.Lock()
	s.value = v
	s.lastUpdate = time.Now()
	s.mu.Unlock()
}

// Now returns the most recently cached value. It never initiates I/O.
func (s *LiveSignal) Now(at time.Time, column string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value, nil
}

// LastUpdate reports the wall-clock time of the last successful fetch, or the
// zero time if none has completed yet.
func (s *LiveSignal) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}

// Finalize cancels the poller and waits for it to exit. Safe to call more
// than once; a no-op if the signal was never started.
func (s *LiveSignal) Finalize() {
	s.stopOnce.Do(func() {
		if s.cancel == nil {
			close(s.done)
			return
		}
		s.cancel()
		<-s.done
	})
}
