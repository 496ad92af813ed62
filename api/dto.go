/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the finance domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNTS:
  Every amount is a JSON string holding a decimal ("600000.50"). Floats are
  never used for money.

VALIDATION:
  Validation is done by finance.Service, not in DTOs. DTOs are pure data
  carriers; handlers only parse.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sitebooks/costledger/finance"
)

const dateLayout = "2006-01-02"

// =============================================================================
// READ MODEL
// =============================================================================

// FinancialStateDTO is the read model for one (project, code).
type FinancialStateDTO struct {
	ProjectID              string          `json:"project_id"`
	CodeID                 string          `json:"code_id"`
	ApprovedBudgetAmount   decimal.Decimal `json:"approved_budget"`
	CommittedValue         decimal.Decimal `json:"committed_value"`
	CertifiedValue         decimal.Decimal `json:"certified_value"`
	PaidValue              decimal.Decimal `json:"paid_value"`
	RetentionHeld          decimal.Decimal `json:"retention_held"`
	BalanceBudgetRemaining decimal.Decimal `json:"balance_budget_remaining"`
	BalanceToPay           decimal.Decimal `json:"balance_to_pay"`
	OverCommitFlag         bool            `json:"over_commit_flag"`
	OverCertificationFlag  bool            `json:"over_certification_flag"`
	OverPaymentFlag        bool            `json:"over_payment_flag"`
	LastRecalculatedAt     time.Time       `json:"last_recalculated_at"`
	SourceRevision         int64           `json:"source_revision"`
}

// ProjectSummaryDTO lists every snapshot of a project.
type ProjectSummaryDTO struct {
	ProjectID string              `json:"project_id"`
	Codes     []FinancialStateDTO `json:"codes"`
}

// =============================================================================
// DOCUMENTS
// =============================================================================

type BudgetDTO struct {
	ProjectID            string          `json:"project_id"`
	CodeID               string          `json:"code_id"`
	ApprovedBudgetAmount decimal.Decimal `json:"approved_budget_amount"`
	UpdatedAt            time.Time       `json:"updated_at"`
	UpdatedBy            string          `json:"updated_by,omitempty"`
}

type WorkOrderDTO struct {
	ID                  string          `json:"wo_id"`
	VersionNumber       int             `json:"version_number"`
	PreviousVersion     int             `json:"previous_version,omitempty"`
	ProjectID           string          `json:"project_id"`
	CodeID              string          `json:"code_id"`
	VendorID            string          `json:"vendor_id"`
	Description         string          `json:"description,omitempty"`
	Rate                decimal.Decimal `json:"rate"`
	Quantity            decimal.Decimal `json:"quantity"`
	BaseAmount          decimal.Decimal `json:"base_amount"`
	RetentionPercentage decimal.Decimal `json:"retention_percentage"`
	RetentionAmount     decimal.Decimal `json:"retention_amount"`
	NetWOValue          decimal.Decimal `json:"net_wo_value"`
	Status              string          `json:"status"`
	LockedFlag          bool            `json:"locked_flag"`
	IssuedAt            *time.Time      `json:"issued_at,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	CreatedBy           string          `json:"created_by,omitempty"`
}

type PaymentCertificateDTO struct {
	ID                          string          `json:"pc_id"`
	VersionNumber               int             `json:"version_number"`
	PreviousVersion             int             `json:"previous_version,omitempty"`
	Superseded                  bool            `json:"superseded,omitempty"`
	ProjectID                   string          `json:"project_id"`
	CodeID                      string          `json:"code_id"`
	VendorID                    string          `json:"vendor_id"`
	WorkOrderID                 string          `json:"wo_id,omitempty"`
	WorkOrderVersion            int             `json:"wo_version,omitempty"`
	BillDate                    string          `json:"bill_date"`
	CurrentBillAmount           decimal.Decimal `json:"current_bill_amount"`
	CumulativePreviousCertified decimal.Decimal `json:"cumulative_previous_certified"`
	TotalCumulativeCertified    decimal.Decimal `json:"total_cumulative_certified"`
	RetentionPercentage         decimal.Decimal `json:"retention_percentage"`
	RetentionCurrent            decimal.Decimal `json:"retention_current"`
	RetentionCumulative         decimal.Decimal `json:"retention_cumulative"`
	TaxableAmount               decimal.Decimal `json:"taxable_amount"`
	TaxPercentage               decimal.Decimal `json:"tax_percentage"`
	TaxAmount                   decimal.Decimal `json:"tax_amount"`
	NetPayable                  decimal.Decimal `json:"net_payable"`
	TotalPaidCumulative         decimal.Decimal `json:"total_paid_cumulative"`
	Status                      string          `json:"status"`
	CertifiedAt                 *time.Time      `json:"certified_at,omitempty"`
	CreatedAt                   time.Time       `json:"created_at"`
	CreatedBy                   string          `json:"created_by,omitempty"`
}

type PaymentDTO struct {
	ID            string          `json:"payment_id"`
	CertificateID string          `json:"pc_id"`
	ProjectID     string          `json:"project_id"`
	CodeID        string          `json:"code_id"`
	VendorID      string          `json:"vendor_id"`
	PaymentAmount decimal.Decimal `json:"payment_amount"`
	PaidAt        time.Time       `json:"paid_at"`
	Reference     string          `json:"reference,omitempty"`
}

type RetentionReleaseDTO struct {
	ID            string          `json:"release_id"`
	ProjectID     string          `json:"project_id"`
	CodeID        string          `json:"code_id"`
	VendorID      string          `json:"vendor_id"`
	CertificateID string          `json:"pc_id,omitempty"`
	ReleaseAmount decimal.Decimal `json:"release_amount"`
	ReleasedAt    time.Time       `json:"released_at"`
	Reason        string          `json:"reason,omitempty"`
}

// MutationResponse wraps a written document with the snapshot it produced.
// RecalculationError is set when the write succeeded but the snapshot could
// not be refreshed.
type MutationResponse struct {
	Document           any                `json:"document"`
	Certificate        any                `json:"certificate,omitempty"`
	FinancialState     *FinancialStateDTO `json:"financial_state,omitempty"`
	RecalculationError *ErrorResponse     `json:"recalculation_error,omitempty"`
}

// =============================================================================
// REQUESTS
// =============================================================================

type WorkOrderRequest struct {
	ProjectID           string          `json:"project_id"`
	CodeID              string          `json:"code_id"`
	VendorID            string          `json:"vendor_id"`
	Description         string          `json:"description"`
	Rate                decimal.Decimal `json:"rate"`
	Quantity            decimal.Decimal `json:"quantity"`
	RetentionPercentage decimal.Decimal `json:"retention_percentage"`
	Actor               string          `json:"actor"`
}

func (r WorkOrderRequest) toInput() finance.WorkOrderInput {
	return finance.WorkOrderInput{
		ProjectID:           finance.ProjectID(r.ProjectID),
		CodeID:              finance.CodeID(r.CodeID),
		VendorID:            finance.VendorID(r.VendorID),
		Description:         r.Description,
		Rate:                r.Rate,
		Quantity:            r.Quantity,
		RetentionPercentage: r.RetentionPercentage,
		Actor:               r.Actor,
	}
}

type CertificateRequest struct {
	ProjectID                   string           `json:"project_id"`
	CodeID                      string           `json:"code_id"`
	VendorID                    string           `json:"vendor_id"`
	WorkOrderID                 string           `json:"wo_id"`
	BillDate                    string           `json:"bill_date"`
	CurrentBillAmount           decimal.Decimal  `json:"current_bill_amount"`
	CumulativePreviousCertified *decimal.Decimal `json:"cumulative_previous_certified"`
	RetentionPercentage         decimal.Decimal  `json:"retention_percentage"`
	TaxPercentage               decimal.Decimal  `json:"tax_percentage"`
	Actor                       string           `json:"actor"`
}

func (r CertificateRequest) toInput() (finance.CertificateInput, error) {
	billDate, err := parseDate(r.BillDate)
	if err != nil {
		return finance.CertificateInput{}, err
	}
	return finance.CertificateInput{
		ProjectID:                   finance.ProjectID(r.ProjectID),
		CodeID:                      finance.CodeID(r.CodeID),
		VendorID:                    finance.VendorID(r.VendorID),
		WorkOrderID:                 finance.DocumentID(r.WorkOrderID),
		BillDate:                    billDate,
		CurrentBillAmount:           r.CurrentBillAmount,
		CumulativePreviousCertified: r.CumulativePreviousCertified,
		RetentionPercentage:         r.RetentionPercentage,
		TaxPercentage:               r.TaxPercentage,
		Actor:                       r.Actor,
	}, nil
}

type PaymentRequest struct {
	PaymentAmount decimal.Decimal `json:"payment_amount"`
	PaidAt        string          `json:"paid_at"`
	Reference     string          `json:"reference"`
	Actor         string          `json:"actor"`
}

type RetentionReleaseRequest struct {
	ProjectID     string          `json:"project_id"`
	CodeID        string          `json:"code_id"`
	VendorID      string          `json:"vendor_id"`
	CertificateID string          `json:"pc_id"`
	ReleaseAmount decimal.Decimal `json:"release_amount"`
	ReleasedAt    string          `json:"released_at"`
	Reason        string          `json:"reason"`
	Actor         string          `json:"actor"`
}

type BudgetRequest struct {
	ApprovedBudgetAmount decimal.Decimal `json:"approved_budget_amount"`
	Actor                string          `json:"actor"`
}

type ActorRequest struct {
	Actor string `json:"actor"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toStateDTO(s finance.FinancialState) FinancialStateDTO {
	return FinancialStateDTO{
		ProjectID:              string(s.ProjectID),
		CodeID:                 string(s.CodeID),
		ApprovedBudgetAmount:   s.ApprovedBudget,
		CommittedValue:         s.CommittedValue,
		CertifiedValue:         s.CertifiedValue,
		PaidValue:              s.PaidValue,
		RetentionHeld:          s.RetentionHeld,
		BalanceBudgetRemaining: s.BalanceBudgetRemaining,
		BalanceToPay:           s.BalanceToPay,
		OverCommitFlag:         s.OverCommit,
		OverCertificationFlag:  s.OverCertification,
		OverPaymentFlag:        s.OverPayment,
		LastRecalculatedAt:     s.LastRecalculatedAt,
		SourceRevision:         s.SourceRevision,
	}
}

func toStateDTOPtr(s *finance.FinancialState) *FinancialStateDTO {
	if s == nil {
		return nil
	}
	dto := toStateDTO(*s)
	return &dto
}

func toBudgetDTO(b finance.Budget) BudgetDTO {
	return BudgetDTO{
		ProjectID:            string(b.ProjectID),
		CodeID:               string(b.CodeID),
		ApprovedBudgetAmount: b.ApprovedAmount,
		UpdatedAt:            b.UpdatedAt,
		UpdatedBy:            b.UpdatedBy,
	}
}

func toWorkOrderDTO(wo finance.WorkOrder) WorkOrderDTO {
	return WorkOrderDTO{
		ID:                  string(wo.ID),
		VersionNumber:       wo.Version,
		PreviousVersion:     wo.PreviousVersion,
		ProjectID:           string(wo.ProjectID),
		CodeID:              string(wo.CodeID),
		VendorID:            string(wo.VendorID),
		Description:         wo.Description,
		Rate:                wo.Rate,
		Quantity:            wo.Quantity,
		BaseAmount:          wo.BaseAmount,
		RetentionPercentage: wo.RetentionPercentage,
		RetentionAmount:     wo.RetentionAmount,
		NetWOValue:          wo.NetValue,
		Status:              string(wo.Status),
		LockedFlag:          wo.Locked,
		IssuedAt:            wo.IssuedAt,
		CreatedAt:           wo.CreatedAt,
		CreatedBy:           wo.CreatedBy,
	}
}

func toCertificateDTO(pc finance.PaymentCertificate) PaymentCertificateDTO {
	return PaymentCertificateDTO{
		ID:                          string(pc.ID),
		VersionNumber:               pc.Version,
		PreviousVersion:             pc.PreviousVersion,
		Superseded:                  pc.Superseded,
		ProjectID:                   string(pc.ProjectID),
		CodeID:                      string(pc.CodeID),
		VendorID:                    string(pc.VendorID),
		WorkOrderID:                 string(pc.WorkOrderID),
		WorkOrderVersion:            pc.WorkOrderVersion,
		BillDate:                    pc.BillDate.Format(dateLayout),
		CurrentBillAmount:           pc.CurrentBillAmount,
		CumulativePreviousCertified: pc.CumulativePreviousCertified,
		TotalCumulativeCertified:    pc.TotalCumulativeCertified,
		RetentionPercentage:         pc.RetentionPercentage,
		RetentionCurrent:            pc.RetentionCurrent,
		RetentionCumulative:         pc.RetentionCumulative,
		TaxableAmount:               pc.TaxableAmount,
		TaxPercentage:               pc.TaxPercentage,
		TaxAmount:                   pc.TaxAmount,
		NetPayable:                  pc.NetPayable,
		TotalPaidCumulative:         pc.TotalPaidCumulative,
		Status:                      string(pc.Status),
		CertifiedAt:                 pc.CertifiedAt,
		CreatedAt:                   pc.CreatedAt,
		CreatedBy:                   pc.CreatedBy,
	}
}

func toPaymentDTO(p finance.Payment) PaymentDTO {
	return PaymentDTO{
		ID:            string(p.ID),
		CertificateID: string(p.CertificateID),
		ProjectID:     string(p.ProjectID),
		CodeID:        string(p.CodeID),
		VendorID:      string(p.VendorID),
		PaymentAmount: p.Amount,
		PaidAt:        p.PaidAt,
		Reference:     p.Reference,
	}
}

func toReleaseDTO(r finance.RetentionRelease) RetentionReleaseDTO {
	return RetentionReleaseDTO{
		ID:            string(r.ID),
		ProjectID:     string(r.ProjectID),
		CodeID:        string(r.CodeID),
		VendorID:      string(r.VendorID),
		CertificateID: string(r.CertificateID),
		ReleaseAmount: r.Amount,
		ReleasedAt:    r.ReleasedAt,
		Reason:        r.Reason,
	}
}

// parseDate accepts "2006-01-02" or RFC3339. Empty input yields the zero time.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
