// ABOUTME: Background janitor that periodically sweeps expired sessions from the store.
// ABOUTME: Start is idempotent; Stop interrupts the inter-sweep wait promptly.

package session

import (
	"log/slog"
	"sync"
	"time"
)

// Janitor runs the periodic expiry sweep. The sweep interval and the session
// timeout are independent knobs; an interval longer than the timeout simply
// delays eviction.
type Janitor struct {
	store    *Store
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	done    chan struct{}
	stopped sync.WaitGroup
}

// NewJanitor creates a janitor sweeping the store every interval.
func NewJanitor(store *Store, interval time.Duration, logger *slog.Logger) *Janitor {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{store: store, interval: interval, logger: logger}
}

// Start begins the sweep loop. Calling Start on a running janitor is a no-op.
func (j *Janitor) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.done != nil {
		return
	}
	j.done = make(chan struct{})
	j.stopped.Add(1)
	go j.run(j.done)

	j.logger.Info("session cleanup started",
		"timeout", j.store.Timeout(),
		"interval", j.interval,
	)
}

// Stop cancels the sweep loop and waits for it to exit. Safe to call on a
// janitor that was never started, and safe to call more than once. An
// in-progress sweep finishes its removals before the loop exits.
func (j *Janitor) Stop() {
	j.mu.Lock()
	done := j.done
	j.done = nil
	j.mu.Unlock()

	if done == nil {
		return
	}
	close(done)
	j.stopped.Wait()
	j.logger.Info("session cleanup stopped")
}

func (j *Janitor) run(done chan struct{}) {
	defer j.stopped.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.sweepOnce()
		case <-done:
			return
		}
	}
}

// sweepOnce runs one sweep iteration. A panic inside the sweep is logged
// and absorbed so the loop continues on the next interval.
func (j *Janitor) sweepOnce() {
	defer func() {
		if r := recover(); r != nil {
			j.logger.Error("session sweep failed", "panic", r)
		}
	}()

	removed := j.store.Sweep()
	if len(removed) == 0 {
		j.logger.Debug("no expired sessions", "total_sessions", j.store.Len())
	}
}
