/*
handlers.go - HTTP API handlers for the cost ledger

PURPOSE:
  Exposes the financial state engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to finance.Service.

ENDPOINTS:
  Read model:
    GET    /api/projects/{projectID}/financial-summary
    GET    /api/projects/{projectID}/codes/{codeID}/financial-summary

  Budgets:
    GET    /api/projects/{projectID}/codes/{codeID}/budget
    PUT    /api/projects/{projectID}/codes/{codeID}/budget
    POST   /api/projects/{projectID}/codes/{codeID}/recalculate

  Work orders:
    POST   /api/work-orders                 Create draft
    GET    /api/work-orders/{id}            Latest version
    GET    /api/work-orders/{id}/versions   Version history
    PUT    /api/work-orders/{id}            Edit draft
    POST   /api/work-orders/{id}/issue
    POST   /api/work-orders/{id}/revise

  Payment certificates:
    POST   /api/payment-certificates
    GET    /api/payment-certificates/{id}
    PUT    /api/payment-certificates/{id}   Revise draft
    POST   /api/payment-certificates/{id}/certify
    POST   /api/payment-certificates/{id}/payments
    GET    /api/payment-certificates/{id}/payments

  Retention:
    POST   /api/retention-releases

REQUEST FLOW:
  1. Parse HTTP request
  2. Call finance.Service (validation, WithTx write, recalculation)
  3. Serialize the document and the resulting snapshot
  4. Handle errors via statusFor

READ MODEL:
  Summary endpoints only read stored snapshots. They never recalculate.

STALE SNAPSHOTS:
  When a write succeeds but its recalculation fails, the response keeps the
  success status, carries the document, and sets recalculation_error.

SECURITY NOTE:
  No authentication or authorization here; deletes are rejected for every
  caller regardless.

SEE ALSO:
  - dto.go: Request/response data structures
  - errors.go: Error kind to HTTP status mapping
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sitebooks/costledger/finance"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *finance.Service
	Logger  *slog.Logger

	// Master registers demo master data when loading scenarios. Scenario
	// endpoints answer 501 when it is nil.
	Master MasterDataWriter
}

// NewHandler creates a new handler around the given service.
func NewHandler(svc *finance.Service, master MasterDataWriter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Service: svc, Master: master, Logger: logger}
}

// Health answers liveness checks.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"recalcs_inflight": h.Service.Coordinator.InFlight(),
	})
}

// =============================================================================
// READ MODEL
// =============================================================================

// ProjectSummary returns every snapshot of a project.
// GET /api/projects/{projectID}/financial-summary
func (h *Handler) ProjectSummary(w http.ResponseWriter, r *http.Request) {
	projectID := finance.ProjectID(chi.URLParam(r, "projectID"))

	states, err := h.Service.Summary(r.Context(), projectID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := ProjectSummaryDTO{ProjectID: string(projectID), Codes: make([]FinancialStateDTO, 0, len(states))}
	for _, s := range states {
		resp.Codes = append(resp.Codes, toStateDTO(s))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CodeSummary returns the snapshot of one (project, code).
// GET /api/projects/{projectID}/codes/{codeID}/financial-summary
func (h *Handler) CodeSummary(w http.ResponseWriter, r *http.Request) {
	state, err := h.Service.SummaryForCode(r.Context(), keyFromPath(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStateDTO(*state))
}

// =============================================================================
// BUDGETS
// =============================================================================

// GetBudget returns the approved budget.
// GET /api/projects/{projectID}/codes/{codeID}/budget
func (h *Handler) GetBudget(w http.ResponseWriter, r *http.Request) {
	b, err := h.Service.GetBudget(r.Context(), keyFromPath(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBudgetDTO(*b))
}

// PutBudget creates or edits the approved budget through the budget guard.
// PUT /api/projects/{projectID}/codes/{codeID}/budget
func (h *Handler) PutBudget(w http.ResponseWriter, r *http.Request) {
	var req BudgetRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	b, state, err := h.Service.SetBudget(r.Context(), keyFromPath(r), req.ApprovedBudgetAmount, req.Actor)
	if b == nil {
		writeDomainError(w, err)
		return
	}
	h.writeMutation(w, http.StatusOK, toBudgetDTO(*b), nil, state, err)
}

// Recalculate forces recomputation of one key.
// POST /api/projects/{projectID}/codes/{codeID}/recalculate
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	state, err := h.Service.Recalculate(r.Context(), keyFromPath(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStateDTO(*state))
}

// =============================================================================
// WORK ORDERS
// =============================================================================

// CreateWorkOrder records a draft work order.
// POST /api/work-orders
func (h *Handler) CreateWorkOrder(w http.ResponseWriter, r *http.Request) {
	var req WorkOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	wo, err := h.Service.CreateWorkOrder(r.Context(), req.toInput())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toWorkOrderDTO(*wo))
}

// GET /api/work-orders/{id}
func (h *Handler) GetWorkOrder(w http.ResponseWriter, r *http.Request) {
	wo, err := h.Service.GetWorkOrder(r.Context(), idFromPath(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkOrderDTO(*wo))
}

// GET /api/work-orders/{id}/versions
func (h *Handler) ListWorkOrderVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.Service.WorkOrderVersions(r.Context(), idFromPath(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]WorkOrderDTO, 0, len(versions))
	for _, v := range versions {
		dtos = append(dtos, toWorkOrderDTO(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": dtos})
}

// EditWorkOrder changes a draft in place.
// PUT /api/work-orders/{id}
func (h *Handler) EditWorkOrder(w http.ResponseWriter, r *http.Request) {
	var req WorkOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	wo, err := h.Service.EditWorkOrder(r.Context(), idFromPath(r), req.toInput())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkOrderDTO(*wo))
}

// POST /api/work-orders/{id}/issue
func (h *Handler) IssueWorkOrder(w http.ResponseWriter, r *http.Request) {
	var req ActorRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}

	wo, state, err := h.Service.IssueWorkOrder(r.Context(), idFromPath(r), req.Actor)
	if wo == nil {
		writeDomainError(w, err)
		return
	}
	h.writeMutation(w, http.StatusOK, toWorkOrderDTO(*wo), nil, state, err)
}

// ReviseWorkOrder marks the issued version revised and opens a new draft.
// POST /api/work-orders/{id}/revise
func (h *Handler) ReviseWorkOrder(w http.ResponseWriter, r *http.Request) {
	var req WorkOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	wo, state, err := h.Service.ReviseWorkOrder(r.Context(), idFromPath(r), req.toInput())
	if wo == nil {
		writeDomainError(w, err)
		return
	}
	h.writeMutation(w, http.StatusCreated, toWorkOrderDTO(*wo), nil, state, err)
}

// =============================================================================
// PAYMENT CERTIFICATES
// =============================================================================

// POST /api/payment-certificates
func (h *Handler) CreateCertificate(w http.ResponseWriter, r *http.Request) {
	var req CertificateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	in, err := req.toInput()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid bill_date", err)
		return
	}

	pc, err := h.Service.CreateCertificate(r.Context(), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCertificateDTO(*pc))
}

// GET /api/payment-certificates/{id}
func (h *Handler) GetCertificate(w http.ResponseWriter, r *http.Request) {
	pc, err := h.Service.GetCertificate(r.Context(), idFromPath(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCertificateDTO(*pc))
}

// ReviseCertificate replaces a draft with a new version.
// PUT /api/payment-certificates/{id}
func (h *Handler) ReviseCertificate(w http.ResponseWriter, r *http.Request) {
	var req CertificateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	in, err := req.toInput()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid bill_date", err)
		return
	}

	pc, err := h.Service.ReviseCertificate(r.Context(), idFromPath(r), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCertificateDTO(*pc))
}

// POST /api/payment-certificates/{id}/certify
func (h *Handler) CertifyCertificate(w http.ResponseWriter, r *http.Request) {
	var req ActorRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}

	pc, state, err := h.Service.CertifyCertificate(r.Context(), idFromPath(r), req.Actor)
	if pc == nil {
		writeDomainError(w, err)
		return
	}
	h.writeMutation(w, http.StatusOK, toCertificateDTO(*pc), nil, state, err)
}

// RecordPayment stores a payment; the certificate status follows the paid sum.
// POST /api/payment-certificates/{id}/payments
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	paidAt, err := parseDate(req.PaidAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid paid_at", err)
		return
	}

	p, pc, state, err := h.Service.RecordPayment(r.Context(), finance.PaymentInput{
		CertificateID: idFromPath(r),
		Amount:        req.PaymentAmount,
		PaidAt:        paidAt,
		Reference:     req.Reference,
		Actor:         req.Actor,
	})
	if p == nil {
		writeDomainError(w, err)
		return
	}
	h.writeMutation(w, http.StatusCreated, toPaymentDTO(*p), toCertificateDTO(*pc), state, err)
}

// GET /api/payment-certificates/{id}/payments
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.Service.PaymentsForCertificate(r.Context(), idFromPath(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]PaymentDTO, 0, len(payments))
	for _, p := range payments {
		dtos = append(dtos, toPaymentDTO(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": dtos})
}

// =============================================================================
// RETENTION RELEASES
// =============================================================================

// POST /api/retention-releases
func (h *Handler) CreateRetentionRelease(w http.ResponseWriter, r *http.Request) {
	var req RetentionReleaseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	releasedAt, err := parseDate(req.ReleasedAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid released_at", err)
		return
	}

	rel, state, err := h.Service.ReleaseRetention(r.Context(), finance.RetentionReleaseInput{
		ProjectID:     finance.ProjectID(req.ProjectID),
		CodeID:        finance.CodeID(req.CodeID),
		VendorID:      finance.VendorID(req.VendorID),
		CertificateID: finance.DocumentID(req.CertificateID),
		Amount:        req.ReleaseAmount,
		ReleasedAt:    releasedAt,
		Reason:        req.Reason,
		Actor:         req.Actor,
	})
	if rel == nil {
		writeDomainError(w, err)
		return
	}
	h.writeMutation(w, http.StatusCreated, toReleaseDTO(*rel), nil, state, err)
}

// =============================================================================
// DELETES
// =============================================================================

// DeleteDocument rejects deletes of the given document type.
// DELETE /api/{work-orders,payment-certificates,payments,retention-releases}/{id}
func (h *Handler) DeleteDocument(docType finance.DocumentType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h.Service.Delete(r.Context(), docType, idFromPath(r))
		writeDomainError(w, err)
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// writeMutation writes a successful write. A *StaleSnapshotError becomes the
// recalculation_error field; the status is unchanged.
func (h *Handler) writeMutation(w http.ResponseWriter, status int, doc, cert any, state *finance.FinancialState, err error) {
	resp := MutationResponse{Document: doc, FinancialState: toStateDTOPtr(state)}
	if cert != nil {
		resp.Certificate = cert
	}
	if err != nil {
		var stale *finance.StaleSnapshotError
		if !errors.As(err, &stale) {
			writeDomainError(w, err)
			return
		}
		body := errorBody(stale.Err)
		resp.RecalculationError = &body
		h.Logger.Warn("snapshot left stale", "key", stale.Key.String(), "kind", body.Code)
	}
	writeJSON(w, status, resp)
}

func keyFromPath(r *http.Request) finance.Key {
	return finance.NewKey(
		finance.ProjectID(chi.URLParam(r, "projectID")),
		finance.CodeID(chi.URLParam(r, "codeID")),
	)
}

func idFromPath(r *http.Request) finance.DocumentID {
	return finance.DocumentID(chi.URLParam(r, "id"))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	return decodeJSON(w, r, v)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
