/*
handlers_test.go - HTTP tests for the cost ledger API

Tests for:
- Work order and certificate lifecycles over HTTP
- Error kind to status mapping (422 budget guard, 405 deletes, 404)
- Stale snapshot reporting via recalculation_error
- Scenario listing (golden file) and loading
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitebooks/costledger/finance"
	"github.com/sitebooks/costledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	router http.Handler
	store  *sqlite.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.SaveProject(ctx, sqlite.ProjectRecord{
		ID: "P-001", Name: "Tower A",
		Codes: []sqlite.CostCodeRecord{{ID: "C-100", Name: "Structure"}},
	}))
	require.NoError(t, store.SaveVendor(ctx, sqlite.VendorRecord{ID: "V-ACME", Name: "Acme Builders"}))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := finance.NewService(finance.ServiceConfig{
		Store:              store,
		States:             store,
		Master:             store,
		RecalculateTimeout: 5 * time.Second,
		Logger:             logger,
	})
	return &testServer{router: NewRouter(NewHandler(svc, store, logger), nil), store: store}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type mutation[T any] struct {
	Document           T                  `json:"document"`
	FinancialState     *FinancialStateDTO `json:"financial_state"`
	RecalculationError *ErrorResponse     `json:"recalculation_error"`
}

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func (s *testServer) issuedWorkOrder(t *testing.T, rate string) WorkOrderDTO {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/work-orders", WorkOrderRequest{
		ProjectID: "P-001", CodeID: "C-100", VendorID: "V-ACME",
		Rate: money(rate), Quantity: money("1"),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	wo := decode[WorkOrderDTO](t, rec)

	rec = s.do(t, http.MethodPost, "/api/work-orders/"+wo.ID+"/issue", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[mutation[WorkOrderDTO]](t, rec).Document
}

func (s *testServer) certified(t *testing.T, woID, bill, billDate string) PaymentCertificateDTO {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/payment-certificates", CertificateRequest{
		ProjectID: "P-001", CodeID: "C-100", VendorID: "V-ACME",
		WorkOrderID: woID, BillDate: billDate, CurrentBillAmount: money(bill),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	pc := decode[PaymentCertificateDTO](t, rec)

	rec = s.do(t, http.MethodPost, "/api/payment-certificates/"+pc.ID+"/certify", ActorRequest{Actor: "pm"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[mutation[PaymentCertificateDTO]](t, rec).Document
}

// =============================================================================
// WORK ORDERS
// =============================================================================

func TestWorkOrder_CreateAndIssue(t *testing.T) {
	// GIVEN: A draft work order
	// WHEN: It is issued
	// THEN: It is locked and the snapshot carries its net value as committed

	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/work-orders", WorkOrderRequest{
		ProjectID: "P-001", CodeID: "C-100", VendorID: "V-ACME",
		Rate: money("1500"), Quantity: money("400"), RetentionPercentage: money("5"),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	draft := decode[WorkOrderDTO](t, rec)
	assert.Equal(t, "draft", draft.Status)
	assert.False(t, draft.LockedFlag)
	assert.True(t, draft.NetWOValue.Equal(money("570000")))

	rec = s.do(t, http.MethodPost, "/api/work-orders/"+draft.ID+"/issue", ActorRequest{Actor: "qs"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[mutation[WorkOrderDTO]](t, rec)
	assert.Equal(t, "issued", resp.Document.Status)
	assert.True(t, resp.Document.LockedFlag)
	require.NotNil(t, resp.FinancialState)
	assert.True(t, resp.FinancialState.CommittedValue.Equal(money("570000")))
	assert.True(t, resp.FinancialState.OverCommitFlag)
	assert.Nil(t, resp.RecalculationError)
}

func TestWorkOrder_EditIssued_Conflict(t *testing.T) {
	s := newTestServer(t)
	wo := s.issuedWorkOrder(t, "100000")

	rec := s.do(t, http.MethodPut, "/api/work-orders/"+wo.ID, WorkOrderRequest{
		ProjectID: "P-001", CodeID: "C-100", VendorID: "V-ACME",
		Rate: money("200000"), Quantity: money("1"),
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(finance.KindInvalidTransition), decode[ErrorResponse](t, rec).Code)
}

func TestWorkOrder_UnknownVendor_Unprocessable(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/work-orders", WorkOrderRequest{
		ProjectID: "P-001", CodeID: "C-100", VendorID: "V-GHOST",
		Rate: money("1"), Quantity: money("1"),
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(finance.KindDanglingReference), decode[ErrorResponse](t, rec).Code)
}

func TestWorkOrder_NotFound(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/work-orders/wo-missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWorkOrder_ReviseKeepsHistory(t *testing.T) {
	s := newTestServer(t)
	wo := s.issuedWorkOrder(t, "400000")

	rec := s.do(t, http.MethodPost, "/api/work-orders/"+wo.ID+"/revise", WorkOrderRequest{
		ProjectID: "P-001", CodeID: "C-100", VendorID: "V-ACME",
		Rate: money("480000"), Quantity: money("1"),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	next := decode[mutation[WorkOrderDTO]](t, rec).Document
	assert.Equal(t, 2, next.VersionNumber)
	assert.Equal(t, "draft", next.Status)

	rec = s.do(t, http.MethodGet, "/api/work-orders/"+wo.ID+"/versions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	versions := decode[map[string][]WorkOrderDTO](t, rec)["versions"]
	require.Len(t, versions, 2)
	assert.Equal(t, "revised", versions[0].Status)
}

// =============================================================================
// BUDGETS
// =============================================================================

func TestBudget_BelowCertified_Rejected(t *testing.T) {
	// GIVEN: Certified value of 7,00,000
	// WHEN: The budget is cut to 6,50,000
	// THEN: 422 with the certified value in the message, budget unchanged

	s := newTestServer(t)
	base := "/api/projects/P-001/codes/C-100"

	rec := s.do(t, http.MethodPut, base+"/budget", BudgetRequest{ApprovedBudgetAmount: money("1000000")})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	wo := s.issuedWorkOrder(t, "600000")
	s.certified(t, wo.ID, "700000", "2026-03-31")

	rec = s.do(t, http.MethodPut, base+"/budget", BudgetRequest{ApprovedBudgetAmount: money("650000")})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decode[ErrorResponse](t, rec)
	assert.Equal(t, "Cannot reduce budget below certified value (₹7,00,000)", body.Error)
	assert.Equal(t, string(finance.KindBudgetBelowCertified), body.Code)

	rec = s.do(t, http.MethodGet, base+"/budget", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[BudgetDTO](t, rec).ApprovedBudgetAmount.Equal(money("1000000")))

	rec = s.do(t, http.MethodGet, base+"/financial-summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	state := decode[FinancialStateDTO](t, rec)
	assert.True(t, state.CertifiedValue.Equal(money("700000")))
	assert.True(t, state.BalanceBudgetRemaining.Equal(money("300000")))
	assert.True(t, state.OverCertificationFlag)
}

func TestBudget_NegativeAmount_BadRequest(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPut, "/api/projects/P-001/codes/C-100/budget", BudgetRequest{ApprovedBudgetAmount: money("-1")})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBudget_MalformedBody_BadRequest(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPut, "/api/projects/P-001/codes/C-100/budget", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// CERTIFICATES AND PAYMENTS
// =============================================================================

func TestPayments_FollowCertificateStatus(t *testing.T) {
	s := newTestServer(t)
	wo := s.issuedWorkOrder(t, "500000")
	pc := s.certified(t, wo.ID, "200000", "2026-04-30")

	rec := s.do(t, http.MethodPost, "/api/payment-certificates/"+pc.ID+"/payments", PaymentRequest{
		PaymentAmount: money("50000"), PaidAt: "2026-05-10", Reference: "NEFT-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var partial struct {
		Certificate    PaymentCertificateDTO `json:"certificate"`
		FinancialState FinancialStateDTO     `json:"financial_state"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &partial))
	assert.Equal(t, "partially_paid", partial.Certificate.Status)
	assert.True(t, partial.FinancialState.PaidValue.Equal(money("50000")))
	assert.True(t, partial.FinancialState.BalanceToPay.Equal(money("150000")))

	rec = s.do(t, http.MethodGet, "/api/payment-certificates/"+pc.ID+"/payments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string][]PaymentDTO](t, rec)["payments"], 1)
}

func TestCertificate_StaleCumulative_Conflict(t *testing.T) {
	s := newTestServer(t)
	wo := s.issuedWorkOrder(t, "500000")
	s.certified(t, wo.ID, "100000", "2026-04-30")

	wrong := money("0")
	rec := s.do(t, http.MethodPost, "/api/payment-certificates", CertificateRequest{
		ProjectID: "P-001", CodeID: "C-100", VendorID: "V-ACME",
		WorkOrderID: wo.ID, BillDate: "2026-05-31",
		CurrentBillAmount: money("50000"), CumulativePreviousCertified: &wrong,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	draft := decode[PaymentCertificateDTO](t, rec)

	rec = s.do(t, http.MethodPost, "/api/payment-certificates/"+draft.ID+"/certify", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(finance.KindStaleCumulative), decode[ErrorResponse](t, rec).Code)
}

func TestCertificate_BadBillDate(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/payment-certificates", CertificateRequest{
		ProjectID: "P-001", CodeID: "C-100", VendorID: "V-ACME",
		BillDate: "31/03/2026", CurrentBillAmount: money("1"),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// IMMUTABILITY
// =============================================================================

func TestDelete_AlwaysMethodNotAllowed(t *testing.T) {
	s := newTestServer(t)
	wo := s.issuedWorkOrder(t, "100000")

	for _, path := range []string{
		"/api/work-orders/" + wo.ID,
		"/api/payment-certificates/pc-any",
		"/api/payments/pay-any",
		"/api/retention-releases/rel-any",
	} {
		rec := s.do(t, http.MethodDelete, path, nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, path)
		assert.Equal(t, string(finance.KindImmutableEntity), decode[ErrorResponse](t, rec).Code, path)
	}

	rec := s.do(t, http.MethodGet, "/api/work-orders/"+wo.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "issued", decode[WorkOrderDTO](t, rec).Status)
}

func TestStaleSnapshot_ReportedWithSuccessStatus(t *testing.T) {
	// GIVEN: An issued work order whose vendor is then removed
	// WHEN: The budget is set
	// THEN: 200 with the budget and a recalculation_error; the key reports stale

	s := newTestServer(t)
	s.issuedWorkOrder(t, "100000")
	require.NoError(t, s.store.RemoveVendor(context.Background(), "V-ACME"))

	rec := s.do(t, http.MethodPut, "/api/projects/P-001/codes/C-100/budget", BudgetRequest{ApprovedBudgetAmount: money("500000")})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[mutation[BudgetDTO]](t, rec)
	assert.True(t, resp.Document.ApprovedBudgetAmount.Equal(money("500000")))
	require.NotNil(t, resp.RecalculationError)
	assert.Equal(t, string(finance.KindDanglingReference), resp.RecalculationError.Code)

	stale, err := s.store.StaleKeys(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []finance.Key{finance.NewKey("P-001", "C-100")}, stale)
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestListScenarios_Golden(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := json.MarshalIndent(decode[[]ScenarioDTO](t, rec), "", "  ")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "scenarios", got)
}

func TestLoadScenario_BudgetWaterfall(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "budget-waterfall"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	summary := decode[ProjectSummaryDTO](t, rec)
	require.Len(t, summary.Codes, 1)
	state := summary.Codes[0]
	assert.True(t, state.CertifiedValue.Equal(money("700000")))
	assert.True(t, state.PaidValue.Equal(money("700000")))
	assert.True(t, state.OverCertificationFlag)

	rec = s.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "budget-waterfall"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLoadScenario_AllScenariosRun(t *testing.T) {
	for _, sc := range scenarios {
		t.Run(sc.ID, func(t *testing.T) {
			s := newTestServer(t)
			rec := s.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: sc.ID})
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, sc.ProjectID, decode[ProjectSummaryDTO](t, rec).ProjectID)
		})
	}
}

func TestLoadScenario_Unknown(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// FORMATTING
// =============================================================================

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"700000", "₹7,00,000"},
		{"1000000", "₹10,00,000"},
		{"999", "₹999"},
		{"1234567.5", "₹12,34,567.5"},
		{"123456789012345678.25", "₹1,23,45,67,89,01,23,45,678.25"},
		{"-2500.75", "-₹2,500.75"},
		{"0.05", "₹0.05"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, formatAmount(money(tt.in)))
		})
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]any](t, rec)["status"])
}
