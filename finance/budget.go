package finance

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BUDGET EDIT GUARD
// =============================================================================

// BudgetGuard rejects budget edits that would undercut the certified value.
// It reads the last computed snapshot rather than forcing a recompute.
type BudgetGuard struct {
	Store       Store
	States      StateStore
	Master      MasterData
	Coordinator *Coordinator
	Clock       Clock
}

// Check validates a proposed budget amount without writing anything.
func (g *BudgetGuard) Check(ctx context.Context, key Key, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return invalidInput("approved budget must not be negative, got %s", amount)
	}
	state, err := g.States.GetState(ctx, key)
	if err != nil {
		return err
	}
	certified := decimal.Zero
	if state != nil {
		certified = state.CertifiedValue
	}
	if amount.LessThan(certified) {
		return &BudgetBelowCertifiedError{Key: key, Requested: amount, Certified: certified}
	}
	return nil
}

// SetBudget creates or edits the budget for key, then triggers recalculation
// because approved budget feeds balance_budget_remaining and over_commit.
// A recalculation failure is returned as *StaleSnapshotError alongside the
// written budget.
func (g *BudgetGuard) SetBudget(ctx context.Context, key Key, amount decimal.Decimal, actor string) (*Budget, *FinancialState, error) {
	if err := checkKey(ctx, g.Master, key, ""); err != nil {
		return nil, nil, err
	}
	if err := g.Check(ctx, key, amount); err != nil {
		return nil, nil, err
	}

	budget := Budget{
		ProjectID:      key.ProjectID,
		CodeID:         key.CodeID,
		ApprovedAmount: amount,
		UpdatedAt:      g.Clock.now(),
		UpdatedBy:      actor,
	}
	if err := g.Store.WithTx(ctx, func(tx Tx) error {
		return tx.PutBudget(ctx, budget)
	}); err != nil {
		return nil, nil, err
	}

	state, err := g.Coordinator.Trigger(ctx, key)
	if err != nil {
		return &budget, nil, &StaleSnapshotError{Key: key, Err: err}
	}
	return &budget, state, nil
}
