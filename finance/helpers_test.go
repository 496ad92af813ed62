package finance_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sitebooks/costledger/finance"
	"github.com/sitebooks/costledger/finance/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const (
	testProject finance.ProjectID = "P-001"
	testCode    finance.CodeID    = "C-100"
	vendorA     finance.VendorID  = "V-ACME"
	vendorB     finance.VendorID  = "V-BUILDCO"
)

var testKey = finance.NewKey(testProject, testCode)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// tickingClock returns a clock that advances one second per call.
func tickingClock() finance.Clock {
	var mu sync.Mutex
	t := time.Date(2026, time.January, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func day(m time.Month, d int) time.Time {
	return time.Date(2026, m, d, 0, 0, 0, 0, time.UTC)
}

func newTestService(t *testing.T) (*finance.Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	mem.RegisterProject(testProject, testCode, "C-200")
	mem.RegisterVendor(vendorA, vendorB)

	svc := finance.NewService(finance.ServiceConfig{
		Store:              mem,
		States:             mem,
		Master:             mem,
		Clock:              tickingClock(),
		RecalculateTimeout: time.Second,
		Logger:             quietLogger(),
	})
	return svc, mem
}

func requireMoney(t *testing.T, want string, got decimal.Decimal, field string) {
	t.Helper()
	require.Truef(t, money(want).Equal(got), "%s: want %s, got %s", field, want, got)
}

// issuedWorkOrder creates and issues a work order with rate * qty = value.
func issuedWorkOrder(t *testing.T, svc *finance.Service, vendor finance.VendorID, value string) *finance.WorkOrder {
	t.Helper()
	ctx := context.Background()
	wo, err := svc.CreateWorkOrder(ctx, finance.WorkOrderInput{
		ProjectID: testProject, CodeID: testCode, VendorID: vendor,
		Description: "works",
		Rate:        money(value),
		Quantity:    decimal.NewFromInt(1),
		Actor:       "qs",
	})
	require.NoError(t, err)
	issued, _, err := svc.IssueWorkOrder(ctx, wo.ID, "qs")
	require.NoError(t, err)
	return issued
}

// certifiedCertificate creates and certifies a certificate for vendor.
func certifiedCertificate(t *testing.T, svc *finance.Service, vendor finance.VendorID, bill string, billDate time.Time) *finance.PaymentCertificate {
	t.Helper()
	ctx := context.Background()
	pc, err := svc.CreateCertificate(ctx, finance.CertificateInput{
		ProjectID: testProject, CodeID: testCode, VendorID: vendor,
		BillDate:          billDate,
		CurrentBillAmount: money(bill),
		Actor:             "qs",
	})
	require.NoError(t, err)
	certified, _, err := svc.CertifyCertificate(ctx, pc.ID, "pm")
	require.NoError(t, err)
	return certified
}
