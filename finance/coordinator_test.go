package finance_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitebooks/costledger/finance"
	"github.com/sitebooks/costledger/finance/store"
)

// gatedDocs blocks ListWorkOrders for one key until the gate opens or the
// caller's context ends.
type gatedDocs struct {
	*store.Memory
	key     finance.Key
	gate    chan struct{}
	entered chan struct{}
}

func (g *gatedDocs) ListWorkOrders(ctx context.Context, key finance.Key) ([]finance.WorkOrder, error) {
	if key == g.key && g.gate != nil {
		select {
		case g.entered <- struct{}{}:
		default:
		}
		select {
		case <-g.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.Memory.ListWorkOrders(ctx, key)
}

func newGatedCoordinator(mem *store.Memory, gated *gatedDocs, timeout time.Duration) *finance.Coordinator {
	r := &finance.Recalculator{
		Documents: gated,
		Budgets:   mem,
		States:    mem,
		Master:    mem,
		Clock:     tickingClock(),
	}
	return finance.NewCoordinator(r, timeout, quietLogger())
}

func insertIssued(t *testing.T, mem *store.Memory, key finance.Key, id finance.DocumentID, net int64) {
	t.Helper()
	err := mem.WithTx(context.Background(), func(tx finance.Tx) error {
		return tx.InsertWorkOrder(context.Background(), finance.WorkOrder{
			ID: id, Version: 1, ProjectID: key.ProjectID, CodeID: key.CodeID, VendorID: vendorA,
			Rate: decimal.NewFromInt(net), Quantity: decimal.NewFromInt(1),
			BaseAmount: decimal.NewFromInt(net), NetValue: decimal.NewFromInt(net),
			Status: finance.StatusIssued, Locked: true,
		})
	})
	require.NoError(t, err)
}

// =============================================================================
// READ-YOUR-WRITES / CONCURRENCY
// =============================================================================

func TestCoordinator_ConcurrentWrites_SnapshotConverges(t *testing.T) {
	// GIVEN: 20 writers issuing work orders on the same key at once
	// WHEN: Every writer triggers recalculation after its own write
	// THEN: The final snapshot reflects all 20 writes and nothing is stale

	svc, mem := newTestService(t)
	ctx := context.Background()

	const writers = 20
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 1; i <= writers; i++ {
		wg.Add(1)
		go func(n int64) {
			defer wg.Done()
			wo, err := svc.CreateWorkOrder(ctx, finance.WorkOrderInput{
				ProjectID: testProject, CodeID: testCode, VendorID: vendorA,
				Rate: decimal.NewFromInt(1000 * n), Quantity: decimal.NewFromInt(1),
			})
			if err != nil {
				errs <- err
				return
			}
			if _, _, err := svc.IssueWorkOrder(ctx, wo.ID, "qs"); err != nil {
				errs <- err
			}
		}(int64(i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	state, err := svc.SummaryForCode(ctx, testKey)
	require.NoError(t, err)
	requireMoney(t, "210000", state.CommittedValue, "committed_value")

	rev, err := mem.KeyRevision(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, rev, state.SourceRevision)

	stale, err := mem.StaleKeys(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, stale)
	assert.Equal(t, 0, svc.Coordinator.InFlight())
}

func TestCoordinator_CoalescesWhenNothingChanged(t *testing.T) {
	// GIVEN: A snapshot computed from the latest revision
	// WHEN: Another trigger arrives with no write in between
	// THEN: The stored snapshot is returned; Recompute still recomputes

	svc, _ := newTestService(t)
	ctx := context.Background()
	issuedWorkOrder(t, svc, vendorA, "600000")

	first, err := svc.SummaryForCode(ctx, testKey)
	require.NoError(t, err)

	again, err := svc.Coordinator.Trigger(ctx, testKey)
	require.NoError(t, err)
	assert.True(t, first.LastRecalculatedAt.Equal(again.LastRecalculatedAt))

	forced, err := svc.Recalculate(ctx, testKey)
	require.NoError(t, err)
	assert.True(t, forced.LastRecalculatedAt.After(first.LastRecalculatedAt))
	assert.True(t, forced.SameFigures(*first))
}

// =============================================================================
// TIMEOUT
// =============================================================================

func TestCoordinator_Timeout_KeepsPreviousSnapshot(t *testing.T) {
	// GIVEN: A stored snapshot and a store that stalls on the next read
	// WHEN: Recalculation exceeds its bound
	// THEN: RecalculationTimeout; the previous snapshot is unchanged

	mem := store.NewMemory()
	mem.RegisterProject(testProject, testCode)
	mem.RegisterVendor(vendorA)
	gated := &gatedDocs{Memory: mem, key: testKey, entered: make(chan struct{}, 1)}
	coord := newGatedCoordinator(mem, gated, 50*time.Millisecond)
	ctx := context.Background()

	insertIssued(t, mem, testKey, "wo-1", 100)
	before, err := coord.Trigger(ctx, testKey)
	require.NoError(t, err)

	insertIssued(t, mem, testKey, "wo-2", 200)
	gated.gate = make(chan struct{})

	_, err = coord.Trigger(ctx, testKey)

	var timeout *finance.RecalculationTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, testKey, timeout.Key)
	assert.True(t, finance.IsRetryable(err))

	after, err := mem.GetState(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, *before, *after)

	stale, err := mem.StaleKeys(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []finance.Key{testKey}, stale)
}

// =============================================================================
// PER-KEY ISOLATION
// =============================================================================

func TestCoordinator_DifferentKeysDoNotBlockEachOther(t *testing.T) {
	// GIVEN: Recalculation of key A stalled inside the store
	// WHEN: Key B is triggered
	// THEN: B completes while A is still running

	mem := store.NewMemory()
	keyA := finance.NewKey(testProject, "C-A")
	keyB := finance.NewKey(testProject, "C-B")
	mem.RegisterProject(testProject, keyA.CodeID, keyB.CodeID)
	mem.RegisterVendor(vendorA)
	insertIssued(t, mem, keyA, "wo-a", 100)
	insertIssued(t, mem, keyB, "wo-b", 200)

	gated := &gatedDocs{Memory: mem, key: keyA, gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	coord := newGatedCoordinator(mem, gated, 5*time.Second)
	ctx := context.Background()

	doneA := make(chan error, 1)
	go func() {
		_, err := coord.Trigger(ctx, keyA)
		doneA <- err
	}()
	<-gated.entered

	stateB, err := coord.Trigger(ctx, keyB)
	require.NoError(t, err)
	requireMoney(t, "200", stateB.CommittedValue, "committed_value B")

	select {
	case <-doneA:
		t.Fatal("key A finished before its gate opened")
	default:
	}
	assert.Equal(t, 1, coord.InFlight())

	close(gated.gate)
	require.NoError(t, <-doneA)

	stateA, err := mem.GetState(ctx, keyA)
	require.NoError(t, err)
	requireMoney(t, "100", stateA.CommittedValue, "committed_value A")
}

func TestCoordinator_SameKeyQueuesBehindHolder(t *testing.T) {
	// GIVEN: A recalculation of the key stalled inside the store
	// WHEN: A second trigger for the same key arrives with a short deadline
	// THEN: It times out waiting for the key

	mem := store.NewMemory()
	mem.RegisterProject(testProject, testCode)
	mem.RegisterVendor(vendorA)
	insertIssued(t, mem, testKey, "wo-1", 100)

	gated := &gatedDocs{Memory: mem, key: testKey, gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	coord := newGatedCoordinator(mem, gated, 5*time.Second)

	done := make(chan error, 1)
	go func() {
		_, err := coord.Trigger(context.Background(), testKey)
		done <- err
	}()
	<-gated.entered

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := coord.Trigger(ctx, testKey)
	assert.ErrorIs(t, err, finance.ErrRecalculationTimeout)

	close(gated.gate)
	require.NoError(t, <-done)
}
