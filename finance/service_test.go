package finance_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitebooks/costledger/finance"
)

// =============================================================================
// END TO END - Budget waterfall
// =============================================================================

func TestService_BudgetWaterfall(t *testing.T) {
	// GIVEN: Budget 10,00,000, work order 6,00,000, certificate 7,00,000
	// WHEN: A payment of 7,00,000 is recorded
	// THEN: paid = certified, certificate fully paid, no over-payment

	svc, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.SetBudget(ctx, testKey, money("1000000"), "pm")
	require.NoError(t, err)

	issuedWorkOrder(t, svc, vendorA, "600000")
	state, err := svc.SummaryForCode(ctx, testKey)
	require.NoError(t, err)
	requireMoney(t, "600000", state.CommittedValue, "committed_value")
	requireMoney(t, "1000000", state.BalanceBudgetRemaining, "balance_budget_remaining")
	assert.False(t, state.OverCommit)

	pc := certifiedCertificate(t, svc, vendorA, "700000", day(3, 31))
	state, err = svc.SummaryForCode(ctx, testKey)
	require.NoError(t, err)
	requireMoney(t, "700000", state.CertifiedValue, "certified_value")
	requireMoney(t, "300000", state.BalanceBudgetRemaining, "balance_budget_remaining")
	assert.True(t, state.OverCertification)

	payment, cert, state, err := svc.RecordPayment(ctx, finance.PaymentInput{
		CertificateID: pc.ID,
		Amount:        money("700000"),
		Reference:     "NEFT-1",
		Actor:         "accounts",
	})
	require.NoError(t, err)
	assert.Equal(t, pc.ID, payment.CertificateID)
	assert.Equal(t, finance.StatusFullyPaid, cert.Status)
	requireMoney(t, "700000", cert.TotalPaidCumulative, "total_paid_cumulative")
	requireMoney(t, "700000", state.PaidValue, "paid_value")
	requireMoney(t, "0", state.BalanceToPay, "balance_to_pay")
	assert.False(t, state.OverPayment)
}

// =============================================================================
// WORK ORDERS
// =============================================================================

func TestService_CreateWorkOrder_DraftDoesNotCommit(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	wo, err := svc.CreateWorkOrder(ctx, finance.WorkOrderInput{
		ProjectID: testProject, CodeID: testCode, VendorID: vendorA,
		Rate: money("1500"), Quantity: money("100"), RetentionPercentage: money("5"),
	})
	require.NoError(t, err)

	assert.Equal(t, finance.StatusDraft, wo.Status)
	assert.Equal(t, 1, wo.Version)
	assert.False(t, wo.Locked)
	requireMoney(t, "150000", wo.BaseAmount, "base_amount")
	requireMoney(t, "7500", wo.RetentionAmount, "retention_amount")
	requireMoney(t, "142500", wo.NetValue, "net_wo_value")

	_, err = svc.SummaryForCode(ctx, testKey)
	assert.ErrorIs(t, err, finance.ErrNotFound)
}

func TestService_CreateWorkOrder_UnknownVendor(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateWorkOrder(context.Background(), finance.WorkOrderInput{
		ProjectID: testProject, CodeID: testCode, VendorID: "V-GHOST",
		Rate: money("1"), Quantity: money("1"),
	})

	assert.ErrorIs(t, err, finance.ErrDanglingReference)
}

func TestService_CreateWorkOrder_InvalidRetention(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateWorkOrder(context.Background(), finance.WorkOrderInput{
		ProjectID: testProject, CodeID: testCode, VendorID: vendorA,
		Rate: money("1"), Quantity: money("1"), RetentionPercentage: money("120"),
	})

	assert.Equal(t, finance.KindInvalidInput, finance.KindOf(err))
}

func TestService_EditWorkOrder_OnlyDrafts(t *testing.T) {
	// GIVEN: An issued work order
	// WHEN: Editing it in place
	// THEN: InvalidTransition; issued work orders change only by revision

	svc, _ := newTestService(t)
	wo := issuedWorkOrder(t, svc, vendorA, "600000")

	_, err := svc.EditWorkOrder(context.Background(), wo.ID, finance.WorkOrderInput{
		Rate: money("700000"), Quantity: money("1"),
	})

	assert.ErrorIs(t, err, finance.ErrInvalidTransition)
}

func TestService_EditWorkOrder_Draft(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	wo, err := svc.CreateWorkOrder(ctx, finance.WorkOrderInput{
		ProjectID: testProject, CodeID: testCode, VendorID: vendorA,
		Rate: money("100"), Quantity: money("10"),
	})
	require.NoError(t, err)

	edited, err := svc.EditWorkOrder(ctx, wo.ID, finance.WorkOrderInput{
		Description: "re-measured", Rate: money("100"), Quantity: money("12"),
	})
	require.NoError(t, err)
	requireMoney(t, "1200", edited.NetValue, "net_wo_value")
	assert.Equal(t, 1, edited.Version)
}

func TestService_ReviseWorkOrder_NewVersionCommitsOnIssue(t *testing.T) {
	// GIVEN: An issued work order of 4,00,000 (80,000 x 5)
	// WHEN: It is revised to 80,000 x 6 and the new version issued
	// THEN: Committed stays 4,00,000 until re-issue, then 4,80,000

	svc, _ := newTestService(t)
	ctx := context.Background()
	_, _, err := svc.SetBudget(ctx, testKey, money("450000"), "pm")
	require.NoError(t, err)

	in := finance.WorkOrderInput{
		ProjectID: testProject, CodeID: testCode, VendorID: vendorA,
		Rate: money("80000"), Quantity: money("5"),
	}
	wo, err := svc.CreateWorkOrder(ctx, in)
	require.NoError(t, err)
	_, _, err = svc.IssueWorkOrder(ctx, wo.ID, "qs")
	require.NoError(t, err)

	in.Quantity = money("6")
	next, _, err := svc.ReviseWorkOrder(ctx, wo.ID, in)
	require.NoError(t, err)
	assert.Equal(t, 2, next.Version)
	assert.Equal(t, 1, next.PreviousVersion)
	assert.Equal(t, finance.StatusDraft, next.Status)

	state, err := svc.SummaryForCode(ctx, testKey)
	require.NoError(t, err)
	requireMoney(t, "400000", state.CommittedValue, "committed_value before re-issue")

	_, state, err = svc.IssueWorkOrder(ctx, wo.ID, "qs")
	require.NoError(t, err)
	requireMoney(t, "480000", state.CommittedValue, "committed_value after re-issue")
	assert.True(t, state.OverCommit)

	versions, err := svc.WorkOrderVersions(ctx, wo.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, finance.StatusRevised, versions[0].Status)
	assert.Equal(t, finance.StatusIssued, versions[1].Status)
	requireMoney(t, "400000", versions[0].NetValue, "v1 net_wo_value")
}

func TestService_ReviseWorkOrder_CertifiedDependent_Rejected(t *testing.T) {
	// GIVEN: A certified certificate referencing the issued work order
	// WHEN: The work order is revised
	// THEN: ConflictingDependency, no new version

	svc, _ := newTestService(t)
	ctx := context.Background()
	wo := issuedWorkOrder(t, svc, vendorA, "600000")

	pc, err := svc.CreateCertificate(ctx, finance.CertificateInput{
		ProjectID: testProject, CodeID: testCode, VendorID: vendorA,
		WorkOrderID:       wo.ID,
		BillDate:          day(2, 28),
		CurrentBillAmount: money("100000"),
	})
	require.NoError(t, err)
	assert.Equal(t, wo.Version, pc.WorkOrderVersion)
	_, _, err = svc.CertifyCertificate(ctx, pc.ID, "pm")
	require.NoError(t, err)

	_, _, err = svc.ReviseWorkOrder(ctx, wo.ID, finance.WorkOrderInput{Rate: money("1"), Quantity: money("1")})

	var depErr *finance.DependencyError
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, []finance.DocumentID{pc.ID}, depErr.Dependents)

	versions, err := svc.WorkOrderVersions(ctx, wo.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 1)
	assert.Equal(t, finance.StatusIssued, versions[0].Status)
}

func TestService_Certify_PinnedToRevisedWorkOrder_Rejected(t *testing.T) {
	// GIVEN: A draft certificate pinned to v1, then v1 revised and v2 issued
	// WHEN: The draft is certified
	// THEN: InvalidTransition; revising the draft re-pins it to v2, and once
	//       certified it blocks revising v2

	svc, _ := newTestService(t)
	ctx := context.Background()
	wo := issuedWorkOrder(t, svc, vendorA, "400000")

	in := finance.CertificateInput{
		ProjectID: testProject, CodeID: testCode, VendorID: vendorA,
		WorkOrderID:       wo.ID,
		BillDate:          day(3, 31),
		CurrentBillAmount: money("100000"),
	}
	pc, err := svc.CreateCertificate(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, 1, pc.WorkOrderVersion)

	_, _, err = svc.ReviseWorkOrder(ctx, wo.ID, finance.WorkOrderInput{Rate: money("480000"), Quantity: money("1")})
	require.NoError(t, err)
	_, _, err = svc.IssueWorkOrder(ctx, wo.ID, "qs")
	require.NoError(t, err)

	_, _, err = svc.CertifyCertificate(ctx, pc.ID, "pm")
	var trErr *finance.TransitionError
	require.ErrorAs(t, err, &trErr)
	got, err := svc.GetCertificate(ctx, pc.ID)
	require.NoError(t, err)
	assert.Equal(t, finance.StatusDraft, got.Status)

	repinned, err := svc.ReviseCertificate(ctx, pc.ID, in)
	require.NoError(t, err)
	assert.Equal(t, 2, repinned.WorkOrderVersion)
	_, _, err = svc.CertifyCertificate(ctx, pc.ID, "pm")
	require.NoError(t, err)

	_, _, err = svc.ReviseWorkOrder(ctx, wo.ID, finance.WorkOrderInput{Rate: money("1"), Quantity: money("1")})
	assert.ErrorIs(t, err, finance.ErrConflictingDependency)
}

func TestService_Certify_DuringPendingRevision_Rejected(t *testing.T) {
	// GIVEN: A draft certificate pinned to v1, and v1 revised with v2 still draft
	// WHEN: The draft is certified
	// THEN: InvalidTransition, so v2 cannot be issued under a certified dependent

	svc, _ := newTestService(t)
	ctx := context.Background()
	wo := issuedWorkOrder(t, svc, vendorA, "400000")

	pc, err := svc.CreateCertificate(ctx, finance.CertificateInput{
		ProjectID: testProject, CodeID: testCode, VendorID: vendorA,
		WorkOrderID:       wo.ID,
		BillDate:          day(3, 31),
		CurrentBillAmount: money("100000"),
	})
	require.NoError(t, err)
	_, _, err = svc.ReviseWorkOrder(ctx, wo.ID, finance.WorkOrderInput{Rate: money("480000"), Quantity: money("1")})
	require.NoError(t, err)

	_, _, err = svc.CertifyCertificate(ctx, pc.ID, "pm")
	assert.ErrorIs(t, err, finance.ErrInvalidTransition)
}

func TestService_GetWorkOrder_NotFound(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.GetWorkOrder(context.Background(), "wo-missing")
	assert.ErrorIs(t, err, finance.ErrNotFound)
}

// =============================================================================
// CERTIFICATES - Cumulative chain
// =============================================================================

func TestService_Certificate_DefaultsPreviousCumulative(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	certifiedCertificate(t, svc, vendorA, "400000", day(4, 30))

	pc, err := svc.CreateCertificate(ctx, finance.CertificateInput{
		ProjectID: testProject, CodeID: testCode, VendorID: vendorA,
		BillDate:          day(5, 31),
		CurrentBillAmount: money("300000"),
	})
	require.NoError(t, err)

	requireMoney(t, "400000", pc.CumulativePreviousCertified, "cumulative_previous_certified")
	requireMoney(t, "700000", pc.TotalCumulativeCertified, "total_cumulative_certified")
}

func TestService_Certificate_StaleChainRejected(t *testing.T) {
	// GIVEN: Two drafts created before either was certified
	// WHEN: The first is certified, then the second
	// THEN: The second is stale; after revision it certifies cleanly

	svc, _ := newTestService(t)
	ctx := context.Background()

	newDraft := func(bill string, billDate time.Time) *finance.PaymentCertificate {
		pc, err := svc.CreateCertificate(ctx, finance.CertificateInput{
			ProjectID: testProject, CodeID: testCode, VendorID: vendorA,
			BillDate: billDate, CurrentBillAmount: money(bill),
		})
		require.NoError(t, err)
		return pc
	}
	first := newDraft("400000", day(4, 30))
	second := newDraft("300000", day(5, 31))
	requireMoney(t, "0", second.CumulativePreviousCertified, "second previous cumulative")

	_, _, err := svc.CertifyCertificate(ctx, first.ID, "pm")
	require.NoError(t, err)

	_, _, err = svc.CertifyCertificate(ctx, second.ID, "pm")
	var stale *finance.StaleCumulativeError
	require.ErrorAs(t, err, &stale)
	requireMoney(t, "400000", stale.Expected, "expected")

	revised, err := svc.ReviseCertificate(ctx, second.ID, finance.CertificateInput{
		BillDate: day(5, 31), CurrentBillAmount: money("300000"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, revised.Version)
	requireMoney(t, "400000", revised.CumulativePreviousCertified, "revised previous cumulative")

	_, state, err := svc.CertifyCertificate(ctx, second.ID, "pm")
	require.NoError(t, err)
	requireMoney(t, "700000", state.CertifiedValue, "certified_value")
}

func TestService_Certificate_ExplicitWrongCumulative_Rejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	certifiedCertificate(t, svc, vendorA, "400000", day(4, 30))

	wrong := money("350000")
	pc, err := svc.CreateCertificate(ctx, finance.CertificateInput{
		ProjectID: testProject, CodeID: testCode, VendorID: vendorA,
		BillDate:                    day(5, 31),
		CurrentBillAmount:           money("300000"),
		CumulativePreviousCertified: &wrong,
	})
	require.NoError(t, err)

	_, _, err = svc.CertifyCertificate(ctx, pc.ID, "pm")
	assert.Equal(t, finance.KindStaleCumulative, finance.KindOf(err))
}

func TestService_Certificate_BackdatedBillRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	latest := certifiedCertificate(t, svc, vendorA, "400000", day(4, 30))

	prev := latest.TotalCumulativeCertified
	pc, err := svc.CreateCertificate(ctx, finance.CertificateInput{
		ProjectID: testProject, CodeID: testCode, VendorID: vendorA,
		BillDate:                    day(3, 31),
		CurrentBillAmount:           money("100"),
		CumulativePreviousCertified: &prev,
	})
	require.NoError(t, err)

	_, _, err = svc.CertifyCertificate(ctx, pc.ID, "pm")
	assert.ErrorIs(t, err, finance.ErrInvalidTransition)
}

func TestService_Certificate_VendorsChainIndependently(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	certifiedCertificate(t, svc, vendorA, "400000", day(4, 30))
	certifiedCertificate(t, svc, vendorB, "250000", day(4, 30))

	state, err := svc.SummaryForCode(ctx, testKey)
	require.NoError(t, err)
	requireMoney(t, "650000", state.CertifiedValue, "certified_value")
}

func TestService_Certificate_WorkOrderOfOtherVendor_Dangling(t *testing.T) {
	svc, _ := newTestService(t)
	wo := issuedWorkOrder(t, svc, vendorB, "100000")

	_, err := svc.CreateCertificate(context.Background(), finance.CertificateInput{
		ProjectID: testProject, CodeID: testCode, VendorID: vendorA,
		WorkOrderID:       wo.ID,
		BillDate:          day(4, 30),
		CurrentBillAmount: money("100"),
	})

	assert.ErrorIs(t, err, finance.ErrDanglingReference)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestService_Payments_PartialThenFull(t *testing.T) {
	// GIVEN: A certified certificate with net payable 4,52,000
	//        (4,00,000 - 5% retention + 18% tax)
	// WHEN: Paid in two parts
	// THEN: partially_paid, then fully_paid; further payments rejected

	svc, _ := newTestService(t)
	ctx := context.Background()

	pc, err := svc.CreateCertificate(ctx, finance.CertificateInput{
		ProjectID: testProject, CodeID: testCode, VendorID: vendorA,
		BillDate:            day(4, 30),
		CurrentBillAmount:   money("400000"),
		RetentionPercentage: money("5"),
		TaxPercentage:       money("18"),
	})
	require.NoError(t, err)
	requireMoney(t, "20000", pc.RetentionCurrent, "retention_current")
	requireMoney(t, "72000", pc.TaxAmount, "tax_amount")
	requireMoney(t, "452000", pc.NetPayable, "net_payable")

	_, _, err = svc.CertifyCertificate(ctx, pc.ID, "pm")
	require.NoError(t, err)

	_, cert, _, err := svc.RecordPayment(ctx, finance.PaymentInput{CertificateID: pc.ID, Amount: money("200000")})
	require.NoError(t, err)
	assert.Equal(t, finance.StatusPartiallyPaid, cert.Status)

	_, cert, state, err := svc.RecordPayment(ctx, finance.PaymentInput{CertificateID: pc.ID, Amount: money("252000")})
	require.NoError(t, err)
	assert.Equal(t, finance.StatusFullyPaid, cert.Status)
	requireMoney(t, "452000", state.PaidValue, "paid_value")

	_, _, _, err = svc.RecordPayment(ctx, finance.PaymentInput{CertificateID: pc.ID, Amount: money("1")})
	assert.ErrorIs(t, err, finance.ErrInvalidTransition)

	payments, err := svc.PaymentsForCertificate(ctx, pc.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 2)
}

func TestService_Payments_DraftCertificateRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	pc, err := svc.CreateCertificate(ctx, finance.CertificateInput{
		ProjectID: testProject, CodeID: testCode, VendorID: vendorA,
		BillDate: day(4, 30), CurrentBillAmount: money("100"),
	})
	require.NoError(t, err)

	_, _, _, err = svc.RecordPayment(ctx, finance.PaymentInput{CertificateID: pc.ID, Amount: money("100")})
	assert.ErrorIs(t, err, finance.ErrInvalidTransition)
}

func TestService_Payments_NonPositiveRejected(t *testing.T) {
	svc, _ := newTestService(t)
	_, _, _, err := svc.RecordPayment(context.Background(), finance.PaymentInput{CertificateID: "pc-1", Amount: decimal.Zero})
	assert.Equal(t, finance.KindInvalidInput, finance.KindOf(err))
}

// =============================================================================
// RETENTION
// =============================================================================

func TestService_RetentionCycle(t *testing.T) {
	// GIVEN: Two chained certificates at 5% retention (20,000 + 15,000)
	// WHEN: 20,000 is released, then another 50,000
	// THEN: retention_held goes 35,000 -> 15,000 -> 0 (floored)

	svc, _ := newTestService(t)
	ctx := context.Background()

	var last *finance.PaymentCertificate
	for i, bill := range []string{"400000", "300000"} {
		pc, err := svc.CreateCertificate(ctx, finance.CertificateInput{
			ProjectID: testProject, CodeID: testCode, VendorID: vendorA,
			BillDate:            day(time.Month(4+i), 28),
			CurrentBillAmount:   money(bill),
			RetentionPercentage: money("5"),
		})
		require.NoError(t, err)
		last, _, err = svc.CertifyCertificate(ctx, pc.ID, "pm")
		require.NoError(t, err)
	}
	requireMoney(t, "35000", last.RetentionCumulative, "retention_cumulative")

	state, err := svc.SummaryForCode(ctx, testKey)
	require.NoError(t, err)
	requireMoney(t, "35000", state.RetentionHeld, "retention_held")

	release := finance.RetentionReleaseInput{
		ProjectID: testProject, CodeID: testCode, VendorID: vendorA,
		CertificateID: last.ID,
		Amount:        money("20000"),
		Reason:        "DLP milestone",
	}
	_, state, err = svc.ReleaseRetention(ctx, release)
	require.NoError(t, err)
	requireMoney(t, "15000", state.RetentionHeld, "retention_held after first release")

	release.Amount = money("50000")
	_, state, err = svc.ReleaseRetention(ctx, release)
	require.NoError(t, err)
	requireMoney(t, "0", state.RetentionHeld, "retention_held after over-release")
}

func TestService_RetentionRelease_CertificateOfOtherVendor(t *testing.T) {
	svc, _ := newTestService(t)
	pc := certifiedCertificate(t, svc, vendorB, "100000", day(4, 30))

	_, _, err := svc.ReleaseRetention(context.Background(), finance.RetentionReleaseInput{
		ProjectID: testProject, CodeID: testCode, VendorID: vendorA,
		CertificateID: pc.ID,
		Amount:        money("10"),
	})

	assert.ErrorIs(t, err, finance.ErrDanglingReference)
}

// =============================================================================
// IMMUTABILITY / STALE SNAPSHOTS
// =============================================================================

func TestService_Delete_AlwaysImmutable(t *testing.T) {
	svc, _ := newTestService(t)
	pc := certifiedCertificate(t, svc, vendorA, "100000", day(4, 30))

	for _, docType := range []finance.DocumentType{
		finance.DocWorkOrder, finance.DocPaymentCertificate, finance.DocPayment, finance.DocRetentionRelease,
	} {
		err := svc.Delete(context.Background(), docType, pc.ID)
		var imm *finance.ImmutableEntityError
		require.ErrorAs(t, err, &imm)
		assert.Equal(t, docType, imm.DocumentType)
	}

	got, err := svc.GetCertificate(context.Background(), pc.ID)
	require.NoError(t, err)
	assert.Equal(t, finance.StatusCertified, got.Status)
}

func TestService_WriteSucceedsWhenRecalculationFails(t *testing.T) {
	// GIVEN: A snapshot, then the vendor vanishes from master data
	// WHEN: A budget is set
	// THEN: The budget is stored, the error is a StaleSnapshotError, the old
	//       snapshot stays, and the key is reported stale

	svc, mem := newTestService(t)
	ctx := context.Background()
	issuedWorkOrder(t, svc, vendorA, "600000")
	before, err := svc.SummaryForCode(ctx, testKey)
	require.NoError(t, err)

	mem.RemoveVendor(vendorA)
	budget, state, err := svc.SetBudget(ctx, testKey, money("1000000"), "pm")

	require.Error(t, err)
	assert.True(t, finance.IsSnapshotStale(err))
	assert.ErrorIs(t, err, finance.ErrDanglingReference)
	require.NotNil(t, budget)
	assert.Nil(t, state)

	stored, err := svc.GetBudget(ctx, testKey)
	require.NoError(t, err)
	requireMoney(t, "1000000", stored.ApprovedAmount, "approved")

	after, err := svc.SummaryForCode(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, *before, *after)

	stale, err := mem.StaleKeys(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []finance.Key{testKey}, stale)
}
