/*
coordinator.go - Per-key serialization of recalculation

PURPOSE:
  Guarantees that for a given (project, code) at most one recalculation is
  in flight, and that a recalculation triggered after a document write sees
  that write (read-your-writes).

LOCK TABLE:
  One slot per key, created on demand and removed when nobody holds or
  waits for it. A slot is a 1-buffered channel so that waiting respects the
  context deadline. Different keys never share a slot; there is no global
  lock around recalculation.

  trigger(A) ──▶ [slot A] ──▶ recalc(A)
  trigger(A) ──▶ [slot A] (queued) ──▶ recalc(A) or coalesce
  trigger(B) ──▶ [slot B] ──▶ recalc(B)      (parallel with A)

COALESCING:
  A queued trigger compares the key's current revision with the revision
  the stored snapshot was computed from. If nothing was written in between,
  it returns the stored snapshot instead of recomputing.

TIMEOUT:
  The bound covers queueing and computing. Exceeding it is a
  RecalculationTimeoutError; nothing is written and the previous snapshot
  stays. The coordinator never retries on its own.
*/
package finance

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const DefaultRecalculationTimeout = 5 * time.Second

type Coordinator struct {
	Recalculator *Recalculator
	Timeout      time.Duration
	Logger       *slog.Logger

	mu    sync.Mutex
	slots map[Key]*keySlot
}

type keySlot struct {
	token chan struct{}
	refs  int
}

func NewCoordinator(r *Recalculator, timeout time.Duration, logger *slog.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultRecalculationTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		Recalculator: r,
		Timeout:      timeout,
		Logger:       logger,
		slots:        make(map[Key]*keySlot),
	}
}

// Trigger recalculates the snapshot for key and returns it. A trigger that
// finds no writes since the stored snapshot returns that snapshot.
func (c *Coordinator) Trigger(ctx context.Context, key Key) (*FinancialState, error) {
	return c.run(ctx, key, true)
}

// Recompute is Trigger without coalescing. Used by operators after a master
// data fix, when documents did not change but the outcome may.
func (c *Coordinator) Recompute(ctx context.Context, key Key) (*FinancialState, error) {
	return c.run(ctx, key, false)
}

func (c *Coordinator) run(ctx context.Context, key Key, allowCoalesce bool) (*FinancialState, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	start := time.Now()
	release, err := c.acquire(ctx, key)
	if err != nil {
		return nil, c.failure(key, err, start)
	}
	defer release()

	if allowCoalesce {
		if state, ok := c.coalesce(ctx, key); ok {
			c.Logger.Debug("recalculation coalesced", "key", key.String(), "revision", state.SourceRevision)
			return state, nil
		}
	}

	state, err := c.Recalculator.Recalculate(ctx, key)
	if err != nil {
		return nil, c.failure(key, err, start)
	}
	c.Logger.Info("recalculated",
		"key", key.String(),
		"revision", state.SourceRevision,
		"committed", state.CommittedValue.String(),
		"certified", state.CertifiedValue.String(),
		"paid", state.PaidValue.String(),
		"duration", time.Since(start),
	)
	return state, nil
}

// InFlight returns the number of keys that currently have a holder or waiter.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.slots)
}

func (c *Coordinator) acquire(ctx context.Context, key Key) (func(), error) {
	c.mu.Lock()
	slot, ok := c.slots[key]
	if !ok {
		slot = &keySlot{token: make(chan struct{}, 1)}
		c.slots[key] = slot
	}
	slot.refs++
	c.mu.Unlock()

	select {
	case slot.token <- struct{}{}:
		return func() {
			<-slot.token
			c.unref(key, slot)
		}, nil
	case <-ctx.Done():
		c.unref(key, slot)
		return nil, ctx.Err()
	}
}

func (c *Coordinator) unref(key Key, slot *keySlot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(c.slots, key)
	}
}

func (c *Coordinator) coalesce(ctx context.Context, key Key) (*FinancialState, bool) {
	r := c.Recalculator
	current, err := r.States.GetState(ctx, key)
	if err != nil || current == nil {
		return nil, false
	}
	rev, err := r.Documents.KeyRevision(ctx, key)
	if err != nil || rev != current.SourceRevision {
		return nil, false
	}
	return current, true
}

func (c *Coordinator) failure(key Key, err error, start time.Time) error {
	if errors.Is(err, context.DeadlineExceeded) {
		err = &RecalculationTimeoutError{Key: key, Timeout: c.Timeout.String()}
	}
	c.Logger.Error("recalculation failed",
		"key", key.String(),
		"kind", string(KindOf(err)),
		"error", err,
		"duration", time.Since(start),
	)
	return err
}
