/*
refresher.go - Background catch-up for stale snapshots

PURPOSE:
  A write whose recalculation failed (timeout, dangling reference) leaves the
  snapshot behind the documents. The refresher periodically asks the state
  store for such keys and triggers the coordinator for each. It is opt-in;
  without it a stale snapshot waits for the next write or an explicit
  recalculate call.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Goes through the Coordinator, so it obeys per-key serialization and the
    recalculation timeout like any other caller
  - A failure for one key is logged and does not stop the pass

USAGE:
  r := NewRefresher(states, coord, time.Minute, logger)
  r.Start()
  defer r.Stop()
*/
package finance

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultRefreshBatch = 100

type Refresher struct {
	States        StateStore
	Coordinator   *Coordinator
	CheckInterval time.Duration
	BatchSize     int
	Logger        *slog.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewRefresher(states StateStore, coord *Coordinator, interval time.Duration, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{
		States:        states,
		Coordinator:   coord,
		CheckInterval: interval,
		BatchSize:     defaultRefreshBatch,
		Logger:        logger,
	}
}

// Start begins the refresh loop. A non-positive interval leaves it disabled.
func (r *Refresher) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.CheckInterval <= 0 {
		r.Logger.Info("refresher disabled")
		return
	}
	if r.ticker != nil {
		return
	}
	r.ticker = time.NewTicker(r.CheckInterval)
	r.stop = make(chan struct{})
	r.wg.Add(1)
	go r.run()

	r.Logger.Info("refresher started", "interval", r.CheckInterval)
}

// Stop halts the loop and waits for the current pass to finish.
func (r *Refresher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ticker == nil {
		return
	}
	r.ticker.Stop()
	close(r.stop)
	r.wg.Wait()
	r.ticker = nil
	r.Logger.Info("refresher stopped")
}

func (r *Refresher) run() {
	defer r.wg.Done()

	r.RefreshOnce(context.Background())
	for {
		select {
		case <-r.ticker.C:
			r.RefreshOnce(context.Background())
		case <-r.stop:
			return
		}
	}
}

// RefreshOnce runs a single pass and returns how many keys were brought up
// to date.
func (r *Refresher) RefreshOnce(ctx context.Context) int {
	keys, err := r.States.StaleKeys(ctx, r.BatchSize)
	if err != nil {
		r.Logger.Error("listing stale keys failed", "error", err)
		return 0
	}
	refreshed := 0
	for _, key := range keys {
		if _, err := r.Coordinator.Trigger(ctx, key); err != nil {
			r.Logger.Warn("refresh failed", "key", key.String(), "kind", string(KindOf(err)), "error", err)
			continue
		}
		refreshed++
	}
	if len(keys) > 0 {
		r.Logger.Info("refresh pass complete", "stale", len(keys), "refreshed", refreshed)
	}
	return refreshed
}
