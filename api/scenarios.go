/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that drive realistic document lifecycles
	through finance.Service, so the read model can be inspected right away.
	Each scenario lives in its own project, so scenarios never interfere.

AVAILABLE SCENARIOS:

	budget-waterfall: Budget, work order, over-certification, rejected budget
	                  cut and a full payment
	retention-cycle:  Retention withheld across a certificate chain, partial
	                  payment, then a retention release
	work-order-revision: Issued work order revised to a higher value

HOW SCENARIOS WORK:
 1. Register the project, its codes and vendors as master data
 2. Drive documents through the service exactly as API clients would
 3. Every step triggers recalculation like any other write

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "budget-waterfall"}

NOTE:

	Financial records are immutable, so a scenario cannot be reset. Loading
	one whose project already has snapshots is rejected.

SEE ALSO:
  - handlers.go: Handler and helpers
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sitebooks/costledger/finance"
	"github.com/sitebooks/costledger/store/sqlite"
)

// MasterDataWriter registers master data for demo scenarios.
type MasterDataWriter interface {
	SaveProject(ctx context.Context, p sqlite.ProjectRecord) error
	SaveVendor(ctx context.Context, v sqlite.VendorRecord) error
}

// ScenarioDTO describes a loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ProjectID   string `json:"project_id"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "budget-waterfall",
		Name:        "Budget Waterfall",
		Description: "Budget 10,00,000; work order 6,00,000; certificate 7,00,000 (over-certified); budget cut to 6,50,000 rejected; paid in full",
		ProjectID:   "DEMO-WATERFALL",
	},
	{
		ID:          "retention-cycle",
		Name:        "Retention Cycle",
		Description: "5% retention across two chained certificates, a partial payment and a retention release",
		ProjectID:   "DEMO-RETENTION",
	},
	{
		ID:          "work-order-revision",
		Name:        "Work Order Revision",
		Description: "Issued work order revised from 4,00,000 to 4,80,000 and re-issued over a 4,50,000 budget",
		ProjectID:   "DEMO-REVISION",
	},
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario runs a scenario end to end.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	if h.Master == nil {
		writeError(w, http.StatusNotImplemented, "Scenarios need a master data store", nil)
		return
	}
	var req LoadScenarioRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var scenario *ScenarioDTO
	for i := range scenarios {
		if scenarios[i].ID == req.ScenarioID {
			scenario = &scenarios[i]
		}
	}
	if scenario == nil {
		writeError(w, http.StatusNotFound, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	ctx := r.Context()
	existing, err := h.Service.Summary(ctx, finance.ProjectID(scenario.ProjectID))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if len(existing) > 0 {
		writeError(w, http.StatusConflict, "Scenario already loaded", fmt.Errorf("project %s has data", scenario.ProjectID))
		return
	}

	if err := h.loadScenario(ctx, scenario.ID); err != nil {
		h.Logger.Error("scenario failed", "scenario", scenario.ID, "error", err)
		writeDomainError(w, err)
		return
	}

	states, err := h.Service.Summary(ctx, finance.ProjectID(scenario.ProjectID))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resp := ProjectSummaryDTO{ProjectID: scenario.ProjectID, Codes: make([]FinancialStateDTO, 0, len(states))}
	for _, s := range states {
		resp.Codes = append(resp.Codes, toStateDTO(s))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) loadScenario(ctx context.Context, id string) error {
	switch id {
	case "budget-waterfall":
		return h.loadBudgetWaterfallScenario(ctx)
	case "retention-cycle":
		return h.loadRetentionCycleScenario(ctx)
	case "work-order-revision":
		return h.loadRevisionScenario(ctx)
	}
	return fmt.Errorf("unknown scenario %q", id)
}

func (h *Handler) registerMasterData(ctx context.Context, projectID, codeID string, vendors ...string) error {
	if err := h.Master.SaveProject(ctx, sqlite.ProjectRecord{
		ID:    projectID,
		Name:  projectID,
		Codes: []sqlite.CostCodeRecord{{ID: codeID, Name: codeID}},
	}); err != nil {
		return err
	}
	for _, v := range vendors {
		if err := h.Master.SaveVendor(ctx, sqlite.VendorRecord{ID: v, Name: v}); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadBudgetWaterfallScenario(ctx context.Context) error {
	const project, code, vendor = "DEMO-WATERFALL", "C-100", "V-ACME"
	if err := h.registerMasterData(ctx, project, code, vendor); err != nil {
		return err
	}
	svc := h.Service
	key := finance.NewKey(project, code)

	if _, _, err := svc.SetBudget(ctx, key, decimal.NewFromInt(1_000_000), "demo"); err != nil {
		return err
	}

	wo, err := svc.CreateWorkOrder(ctx, finance.WorkOrderInput{
		ProjectID: project, CodeID: code, VendorID: vendor,
		Description: "Structural works",
		Rate:        decimal.NewFromInt(600_000),
		Quantity:    decimal.NewFromInt(1),
		Actor:       "demo",
	})
	if err != nil {
		return err
	}
	if _, _, err := svc.IssueWorkOrder(ctx, wo.ID, "demo"); err != nil {
		return err
	}

	pc, err := svc.CreateCertificate(ctx, finance.CertificateInput{
		ProjectID: project, CodeID: code, VendorID: vendor,
		WorkOrderID:       wo.ID,
		BillDate:          time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		CurrentBillAmount: decimal.NewFromInt(700_000),
		Actor:             "demo",
	})
	if err != nil {
		return err
	}
	if _, _, err := svc.CertifyCertificate(ctx, pc.ID, "demo"); err != nil {
		return err
	}

	// The budget cut below certified value is expected to fail.
	if _, _, err := svc.SetBudget(ctx, key, decimal.NewFromInt(650_000), "demo"); finance.KindOf(err) != finance.KindBudgetBelowCertified {
		return fmt.Errorf("expected budget cut to be rejected, got %v", err)
	}

	_, _, _, err = svc.RecordPayment(ctx, finance.PaymentInput{
		CertificateID: pc.ID,
		Amount:        decimal.NewFromInt(700_000),
		Reference:     "NEFT-0001",
		Actor:         "demo",
	})
	return err
}

func (h *Handler) loadRetentionCycleScenario(ctx context.Context) error {
	const project, code, vendor = "DEMO-RETENTION", "C-200", "V-BUILDCO"
	if err := h.registerMasterData(ctx, project, code, vendor); err != nil {
		return err
	}
	svc := h.Service
	key := finance.NewKey(project, code)
	five := decimal.NewFromInt(5)

	if _, _, err := svc.SetBudget(ctx, key, decimal.NewFromInt(2_000_000), "demo"); err != nil {
		return err
	}
	wo, err := svc.CreateWorkOrder(ctx, finance.WorkOrderInput{
		ProjectID: project, CodeID: code, VendorID: vendor,
		Description:         "Finishing works",
		Rate:                decimal.NewFromInt(1_500),
		Quantity:            decimal.NewFromInt(1_000),
		RetentionPercentage: five,
		Actor:               "demo",
	})
	if err != nil {
		return err
	}
	if _, _, err := svc.IssueWorkOrder(ctx, wo.ID, "demo"); err != nil {
		return err
	}

	var last *finance.PaymentCertificate
	for i, bill := range []int64{400_000, 300_000} {
		pc, err := svc.CreateCertificate(ctx, finance.CertificateInput{
			ProjectID: project, CodeID: code, VendorID: vendor,
			WorkOrderID:         wo.ID,
			BillDate:            time.Date(2026, time.Month(4+i), 30, 0, 0, 0, 0, time.UTC),
			CurrentBillAmount:   decimal.NewFromInt(bill),
			RetentionPercentage: five,
			TaxPercentage:       decimal.NewFromInt(18),
			Actor:               "demo",
		})
		if err != nil {
			return err
		}
		if last, _, err = svc.CertifyCertificate(ctx, pc.ID, "demo"); err != nil {
			return err
		}
	}

	if _, _, _, err := svc.RecordPayment(ctx, finance.PaymentInput{
		CertificateID: last.ID,
		Amount:        decimal.NewFromInt(100_000),
		Reference:     "NEFT-0002",
		Actor:         "demo",
	}); err != nil {
		return err
	}

	_, _, err = svc.ReleaseRetention(ctx, finance.RetentionReleaseInput{
		ProjectID: project, CodeID: code, VendorID: vendor,
		CertificateID: last.ID,
		Amount:        decimal.NewFromInt(20_000),
		Reason:        "Defects liability milestone",
		Actor:         "demo",
	})
	return err
}

func (h *Handler) loadRevisionScenario(ctx context.Context) error {
	const project, code, vendor = "DEMO-REVISION", "C-300", "V-STEELWORKS"
	if err := h.registerMasterData(ctx, project, code, vendor); err != nil {
		return err
	}
	svc := h.Service

	if _, _, err := svc.SetBudget(ctx, finance.NewKey(project, code), decimal.NewFromInt(450_000), "demo"); err != nil {
		return err
	}
	in := finance.WorkOrderInput{
		ProjectID: project, CodeID: code, VendorID: vendor,
		Description: "Steel supply",
		Rate:        decimal.NewFromInt(80_000),
		Quantity:    decimal.NewFromInt(5),
		Actor:       "demo",
	}
	wo, err := svc.CreateWorkOrder(ctx, in)
	if err != nil {
		return err
	}
	if _, _, err := svc.IssueWorkOrder(ctx, wo.ID, "demo"); err != nil {
		return err
	}

	in.Quantity = decimal.NewFromInt(6)
	in.Description = "Steel supply, extra tonnage"
	next, _, err := svc.ReviseWorkOrder(ctx, wo.ID, in)
	if err != nil {
		return err
	}
	// Over-commit after re-issue: 4,80,000 against a 4,50,000 budget.
	_, _, err = svc.IssueWorkOrder(ctx, next.ID, "demo")
	return err
}
