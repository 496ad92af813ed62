package finance_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitebooks/costledger/finance"
)

func TestRefresher_RefreshOnce_CatchesUpStaleKey(t *testing.T) {
	// GIVEN: A budget written while its recalculation failed
	// WHEN: Master data is fixed and a refresh pass runs
	// THEN: The snapshot picks up the budget and nothing stays stale

	svc, mem := newTestService(t)
	ctx := context.Background()
	issuedWorkOrder(t, svc, vendorA, "600000")

	mem.RemoveVendor(vendorA)
	_, _, err := svc.SetBudget(ctx, testKey, money("1000000"), "pm")
	require.True(t, finance.IsSnapshotStale(err))

	r := finance.NewRefresher(mem, svc.Coordinator, 0, quietLogger())

	// Still dangling: nothing refreshed.
	assert.Equal(t, 0, r.RefreshOnce(ctx))

	mem.RegisterVendor(vendorA)
	assert.Equal(t, 1, r.RefreshOnce(ctx))

	state, err := svc.SummaryForCode(ctx, testKey)
	require.NoError(t, err)
	requireMoney(t, "1000000", state.ApprovedBudget, "approved_budget_amount")

	stale, err := mem.StaleKeys(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, stale)
	assert.Equal(t, 0, r.RefreshOnce(ctx))
}

func TestRefresher_StartStop(t *testing.T) {
	// GIVEN: A stale key and a running refresher
	// THEN: The background loop brings it up to date

	svc, mem := newTestService(t)
	ctx := context.Background()
	issuedWorkOrder(t, svc, vendorA, "600000")
	mem.RemoveVendor(vendorA)
	_, _, err := svc.SetBudget(ctx, testKey, money("1000000"), "pm")
	require.True(t, finance.IsSnapshotStale(err))
	mem.RegisterVendor(vendorA)

	r := finance.NewRefresher(mem, svc.Coordinator, 10*time.Millisecond, quietLogger())
	r.Start()
	defer r.Stop()

	require.Eventually(t, func() bool {
		stale, err := mem.StaleKeys(ctx, 0)
		return err == nil && len(stale) == 0
	}, 2*time.Second, 10*time.Millisecond)

	r.Stop()
	r.Stop() // idempotent
}

func TestRefresher_DisabledWithZeroInterval(t *testing.T) {
	svc, mem := newTestService(t)
	r := finance.NewRefresher(mem, svc.Coordinator, 0, quietLogger())
	r.Start()
	r.Stop()
}
