/*
recalculator.go - Derives FinancialState from source documents

PURPOSE:
  Given a (project, code) key, reads every contributing document and the
  budget, and computes a fresh FinancialState. The snapshot is always
  recomputed from scratch and written wholesale; it is never patched.

ALGORITHM:
  1. committed  = Σ net_wo_value of the latest Issued/Revised version of
                  each work order
  2. certified  = Σ over vendors of the latest certified certificate's
                  total_cumulative_certified
  3. paid       = Σ payments against the key's certificates
  4. retention  = max(0, Σ retention_cumulative of those latest
                  certificates − Σ releases)
  5. balances and flags from the above and the approved budget
  6. replace the snapshot, stamping last_recalculated_at

FAILURE MODES:
  - Missing budget: approved = 0, recalculation proceeds
  - Unknown project/code/vendor: DanglingReferenceError, nothing written,
    the previous snapshot stays (stale-but-consistent beats corrupt)
  - Context cancelled: nothing written

The recalculator never mutates source documents.

SEE ALSO:
  - coordinator.go: The only caller in production; serializes per key
*/
package finance

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// FINANCIAL STATE - The read model
// =============================================================================

// FinancialState is the single current snapshot for one (project, code).
type FinancialState struct {
	ProjectID ProjectID
	CodeID    CodeID

	ApprovedBudget decimal.Decimal
	CommittedValue decimal.Decimal
	CertifiedValue decimal.Decimal
	PaidValue      decimal.Decimal
	RetentionHeld  decimal.Decimal

	BalanceBudgetRemaining decimal.Decimal // approved - certified
	BalanceToPay           decimal.Decimal // certified - paid

	OverCommit        bool // committed > approved
	OverCertification bool // certified > committed
	OverPayment       bool // paid > certified

	LastRecalculatedAt time.Time

	// SourceRevision is the key revision the snapshot was computed from.
	SourceRevision int64
}

func (s FinancialState) Key() Key { return NewKey(s.ProjectID, s.CodeID) }

// SameFigures compares everything except LastRecalculatedAt and
// SourceRevision.
func (s FinancialState) SameFigures(o FinancialState) bool {
	return s.ProjectID == o.ProjectID && s.CodeID == o.CodeID &&
		s.ApprovedBudget.Equal(o.ApprovedBudget) &&
		s.CommittedValue.Equal(o.CommittedValue) &&
		s.CertifiedValue.Equal(o.CertifiedValue) &&
		s.PaidValue.Equal(o.PaidValue) &&
		s.RetentionHeld.Equal(o.RetentionHeld) &&
		s.BalanceBudgetRemaining.Equal(o.BalanceBudgetRemaining) &&
		s.BalanceToPay.Equal(o.BalanceToPay) &&
		s.OverCommit == o.OverCommit &&
		s.OverCertification == o.OverCertification &&
		s.OverPayment == o.OverPayment
}

// =============================================================================
// PURE COMPUTATION
// =============================================================================

// Inputs is everything the computation needs for one key.
type Inputs struct {
	Key          Key
	Budget       *Budget
	WorkOrders   []WorkOrder
	Certificates []PaymentCertificate
	Payments     []Payment
	Releases     []RetentionRelease
}

// Compute derives a FinancialState from inputs. It has no side effects and
// leaves LastRecalculatedAt and SourceRevision unset.
func Compute(in Inputs) FinancialState {
	approved := decimal.Zero
	if in.Budget != nil {
		approved = in.Budget.ApprovedAmount
	}

	committed := decimal.Zero
	for _, wo := range LatestCommittedVersions(in.WorkOrders) {
		committed = committed.Add(wo.NetValue)
	}

	certified := decimal.Zero
	retentionWithheld := decimal.Zero
	for _, pc := range LatestCertifiedByVendor(in.Certificates) {
		certified = certified.Add(pc.TotalCumulativeCertified)
		retentionWithheld = retentionWithheld.Add(pc.RetentionCumulative)
	}

	inScope := make(map[DocumentID]bool, len(in.Certificates))
	for _, pc := range in.Certificates {
		inScope[pc.ID] = true
	}
	paid := decimal.Zero
	for _, p := range in.Payments {
		if inScope[p.CertificateID] {
			paid = paid.Add(p.Amount)
		}
	}

	released := decimal.Zero
	for _, r := range in.Releases {
		released = released.Add(r.Amount)
	}
	retention := retentionWithheld.Sub(released)
	if retention.IsNegative() {
		retention = decimal.Zero
	}

	return FinancialState{
		ProjectID:              in.Key.ProjectID,
		CodeID:                 in.Key.CodeID,
		ApprovedBudget:         approved,
		CommittedValue:         committed,
		CertifiedValue:         certified,
		PaidValue:              paid,
		RetentionHeld:          retention,
		BalanceBudgetRemaining: approved.Sub(certified),
		BalanceToPay:           certified.Sub(paid),
		OverCommit:             committed.GreaterThan(approved),
		OverCertification:      certified.GreaterThan(committed),
		OverPayment:            paid.GreaterThan(certified),
	}
}

// =============================================================================
// RECALCULATOR - Reads, computes, writes
// =============================================================================

type Recalculator struct {
	Documents DocumentStore
	Budgets   BudgetStore
	States    StateStore
	Master    MasterData
	Clock     Clock

	// Snapshots, when set, serves the revision and every input from one
	// consistent view. Without it the reads go to Documents and Budgets.
	Snapshots SnapshotReader
}

// Recalculate recomputes and persists the snapshot for key.
func (r *Recalculator) Recalculate(ctx context.Context, key Key) (*FinancialState, error) {
	rev, in, err := r.read(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := r.checkReferences(ctx, in); err != nil {
		return nil, err
	}

	state := Compute(in)
	state.SourceRevision = rev
	state.LastRecalculatedAt = r.Clock.now()

	// A cancelled or expired context must not produce a write.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := r.States.SaveState(ctx, state); err != nil {
		return nil, err
	}
	return &state, nil
}

// read returns the key revision together with the inputs it covers.
func (r *Recalculator) read(ctx context.Context, key Key) (int64, Inputs, error) {
	var (
		rev int64
		in  Inputs
	)
	fn := func(docs DocumentStore, budgets BudgetStore) error {
		var err error
		if rev, err = docs.KeyRevision(ctx, key); err != nil {
			return err
		}
		in, err = loadInputs(ctx, key, docs, budgets)
		return err
	}
	if r.Snapshots == nil {
		err := fn(r.Documents, r.Budgets)
		return rev, in, err
	}
	err := r.Snapshots.ReadSnapshot(ctx, func(rd Reader) error { return fn(rd, rd) })
	return rev, in, err
}

func loadInputs(ctx context.Context, key Key, docs DocumentStore, budgets BudgetStore) (Inputs, error) {
	in := Inputs{Key: key}
	var err error

	if in.Budget, err = budgets.GetBudget(ctx, key); err != nil {
		return in, err
	}
	if in.WorkOrders, err = docs.ListWorkOrders(ctx, key); err != nil {
		return in, err
	}
	if in.Certificates, err = docs.ListCertificates(ctx, key); err != nil {
		return in, err
	}
	if in.Payments, err = docs.ListPayments(ctx, key); err != nil {
		return in, err
	}
	if in.Releases, err = docs.ListRetentionReleases(ctx, key); err != nil {
		return in, err
	}
	return in, ctx.Err()
}

// checkReferences resolves the key and every vendor the documents name.
func (r *Recalculator) checkReferences(ctx context.Context, in Inputs) error {
	if r.Master == nil {
		return nil
	}
	if err := checkKey(ctx, r.Master, in.Key, ""); err != nil {
		return err
	}

	seen := make(map[VendorID]bool)
	check := func(vendor VendorID, ref DocumentID) error {
		if seen[vendor] {
			return nil
		}
		seen[vendor] = true
		return checkVendor(ctx, r.Master, vendor, ref)
	}
	for _, wo := range in.WorkOrders {
		if err := check(wo.VendorID, wo.ID); err != nil {
			return err
		}
	}
	for _, pc := range in.Certificates {
		if err := check(pc.VendorID, pc.ID); err != nil {
			return err
		}
	}
	for _, rel := range in.Releases {
		if err := check(rel.VendorID, rel.ID); err != nil {
			return err
		}
	}
	return nil
}
