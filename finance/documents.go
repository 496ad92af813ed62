package finance

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DOCUMENT TYPES
// =============================================================================

type DocumentType string

const (
	DocWorkOrder          DocumentType = "work_order"
	DocPaymentCertificate DocumentType = "payment_certificate"
	DocPayment            DocumentType = "payment"
	DocRetentionRelease   DocumentType = "retention_release"
)

// Document is anything that moves through a StateMachine.
type Document interface {
	DocumentType() DocumentType
	DocumentID() DocumentID
	CurrentStatus() Status
	setStatus(to Status, at time.Time)
}

// =============================================================================
// BUDGET
// =============================================================================

// Budget is the approved amount for one (project, code). It is created once,
// edited only through the budget guard and never deleted.
type Budget struct {
	ProjectID      ProjectID
	CodeID         CodeID
	ApprovedAmount decimal.Decimal
	UpdatedAt      time.Time
	UpdatedBy      string
}

func (b Budget) Key() Key { return NewKey(b.ProjectID, b.CodeID) }

// =============================================================================
// WORK ORDER - Commitment document
// =============================================================================

// WorkOrder commits money to a vendor. Each revision is a new row with the
// same ID and a higher Version; history is never overwritten.
type WorkOrder struct {
	ID              DocumentID
	Version         int
	PreviousVersion int // 0 for the first version
	ProjectID       ProjectID
	CodeID          CodeID
	VendorID        VendorID
	Description     string

	Rate                decimal.Decimal
	Quantity            decimal.Decimal
	BaseAmount          decimal.Decimal // Rate * Quantity
	RetentionPercentage decimal.Decimal
	RetentionAmount     decimal.Decimal // BaseAmount * RetentionPercentage / 100
	NetValue            decimal.Decimal // BaseAmount - RetentionAmount

	Status   Status
	Locked   bool
	IssuedAt *time.Time

	CreatedAt time.Time
	CreatedBy string
}

func (wo *WorkOrder) DocumentType() DocumentType { return DocWorkOrder }
func (wo *WorkOrder) DocumentID() DocumentID     { return wo.ID }
func (wo *WorkOrder) CurrentStatus() Status      { return wo.Status }
func (wo *WorkOrder) Key() Key                   { return NewKey(wo.ProjectID, wo.CodeID) }

func (wo *WorkOrder) setStatus(to Status, at time.Time) {
	wo.Status = to
	if to == StatusIssued {
		wo.Locked = true
		wo.IssuedAt = &at
	}
}

// Committed reports whether this version counts towards committed value
// when it is the latest such version of its work order.
func (wo *WorkOrder) Committed() bool {
	return wo.Status == StatusIssued || wo.Status == StatusRevised
}

func (wo *WorkOrder) computeAmounts() {
	wo.BaseAmount = wo.Rate.Mul(wo.Quantity)
	wo.RetentionAmount = Percent(wo.BaseAmount, wo.RetentionPercentage)
	wo.NetValue = wo.BaseAmount.Sub(wo.RetentionAmount)
}

// =============================================================================
// PAYMENT CERTIFICATE - Certification document
// =============================================================================

// PaymentCertificate certifies billable value for a vendor. Certificates for
// the same (project, code, vendor) form a cumulative chain in bill-date order.
type PaymentCertificate struct {
	ID               DocumentID
	Version          int
	PreviousVersion  int
	Superseded       bool // a later draft version replaced this one
	ProjectID        ProjectID
	CodeID           CodeID
	VendorID         VendorID
	WorkOrderID      DocumentID // optional
	WorkOrderVersion int
	BillDate         time.Time

	CurrentBillAmount           decimal.Decimal
	CumulativePreviousCertified decimal.Decimal
	TotalCumulativeCertified    decimal.Decimal // previous + current

	RetentionPercentage decimal.Decimal
	RetentionCurrent    decimal.Decimal
	RetentionCumulative decimal.Decimal

	TaxableAmount decimal.Decimal
	TaxPercentage decimal.Decimal
	TaxAmount     decimal.Decimal
	NetPayable    decimal.Decimal // current - retention + tax

	TotalPaidCumulative decimal.Decimal

	Status      Status
	CertifiedAt *time.Time

	CreatedAt time.Time
	CreatedBy string
}

func (pc *PaymentCertificate) DocumentType() DocumentType { return DocPaymentCertificate }
func (pc *PaymentCertificate) DocumentID() DocumentID     { return pc.ID }
func (pc *PaymentCertificate) CurrentStatus() Status      { return pc.Status }
func (pc *PaymentCertificate) Key() Key                   { return NewKey(pc.ProjectID, pc.CodeID) }

func (pc *PaymentCertificate) setStatus(to Status, at time.Time) {
	pc.Status = to
	if to == StatusCertified {
		pc.CertifiedAt = &at
	}
}

// Certified reports whether the certificate counts towards certified value.
// Every status from Certified onwards does.
func (pc *PaymentCertificate) Certified() bool {
	return pc.Status.AtLeast(StatusCertified)
}

// computeAmounts derives every dependent field from the inputs.
// priorRetention is the retention_cumulative of the previous certificate in
// the vendor's chain.
func (pc *PaymentCertificate) computeAmounts(priorRetention decimal.Decimal) {
	pc.TotalCumulativeCertified = pc.CumulativePreviousCertified.Add(pc.CurrentBillAmount)
	pc.RetentionCurrent = Percent(pc.CurrentBillAmount, pc.RetentionPercentage)
	pc.RetentionCumulative = priorRetention.Add(pc.RetentionCurrent)
	pc.TaxableAmount = pc.CurrentBillAmount
	pc.TaxAmount = Percent(pc.TaxableAmount, pc.TaxPercentage)
	pc.NetPayable = pc.CurrentBillAmount.Sub(pc.RetentionCurrent).Add(pc.TaxAmount)
}

// chainsAfter reports whether pc comes after other in the vendor's chain.
func (pc *PaymentCertificate) chainsAfter(other *PaymentCertificate) bool {
	if !pc.BillDate.Equal(other.BillDate) {
		return pc.BillDate.After(other.BillDate)
	}
	if pc.CertifiedAt != nil && other.CertifiedAt != nil && !pc.CertifiedAt.Equal(*other.CertifiedAt) {
		return pc.CertifiedAt.After(*other.CertifiedAt)
	}
	return pc.ID > other.ID
}

// =============================================================================
// PAYMENT / RETENTION RELEASE - Immutable records
// =============================================================================

// Payment settles (part of) a certificate. Immutable.
type Payment struct {
	ID            DocumentID
	CertificateID DocumentID
	ProjectID     ProjectID
	CodeID        CodeID
	VendorID      VendorID
	Amount        decimal.Decimal
	PaidAt        time.Time
	Reference     string
	CreatedAt     time.Time
	CreatedBy     string
}

func (p Payment) Key() Key { return NewKey(p.ProjectID, p.CodeID) }

// RetentionRelease hands back withheld retention to a vendor. Immutable.
type RetentionRelease struct {
	ID            DocumentID
	ProjectID     ProjectID
	CodeID        CodeID
	VendorID      VendorID
	CertificateID DocumentID // optional
	Amount        decimal.Decimal
	ReleasedAt    time.Time
	Reason        string
	CreatedAt     time.Time
	CreatedBy     string
}

func (r RetentionRelease) Key() Key { return NewKey(r.ProjectID, r.CodeID) }

// =============================================================================
// SELECTION HELPERS - Used by the recalculator and the service
// =============================================================================

// LatestCommittedVersions returns, per work order ID, the highest version
// that is Issued or Revised. Drafts and superseded versions are excluded.
func LatestCommittedVersions(workOrders []WorkOrder) map[DocumentID]*WorkOrder {
	latest := make(map[DocumentID]*WorkOrder)
	for i := range workOrders {
		wo := &workOrders[i]
		if !wo.Committed() {
			continue
		}
		if cur, ok := latest[wo.ID]; !ok || wo.Version > cur.Version {
			latest[wo.ID] = wo
		}
	}
	return latest
}

// LatestCertifiedByVendor returns, per vendor, the last certified-or-later
// certificate in chain order. Cumulative certificates supersede earlier ones
// for the same vendor, so only these count.
func LatestCertifiedByVendor(certs []PaymentCertificate) map[VendorID]*PaymentCertificate {
	latest := make(map[VendorID]*PaymentCertificate)
	for i := range certs {
		pc := &certs[i]
		if !pc.Certified() {
			continue
		}
		if cur, ok := latest[pc.VendorID]; !ok || pc.chainsAfter(cur) {
			latest[pc.VendorID] = pc
		}
	}
	return latest
}

// =============================================================================
// UPDATE GUARDS - Enforced by every Store implementation
// =============================================================================

// CheckWorkOrderUpdate rejects field changes to a locked version. Only the
// status (and the lock it implies) may move.
func CheckWorkOrderUpdate(old, next WorkOrder) error {
	if !old.Locked {
		return nil
	}
	if old.ID != next.ID || old.Version != next.Version ||
		old.VendorID != next.VendorID || old.Key() != next.Key() ||
		old.Description != next.Description ||
		!old.Rate.Equal(next.Rate) ||
		!old.Quantity.Equal(next.Quantity) ||
		!old.RetentionPercentage.Equal(next.RetentionPercentage) ||
		!old.NetValue.Equal(next.NetValue) {
		return &ImmutableEntityError{DocumentType: DocWorkOrder, DocumentID: old.ID}
	}
	return nil
}

// CheckCertificateUpdate rejects changes to a certified version other than
// its status and paid total.
func CheckCertificateUpdate(old, next PaymentCertificate) error {
	if !old.Certified() {
		return nil
	}
	if old.ID != next.ID || old.Version != next.Version ||
		old.VendorID != next.VendorID || old.Key() != next.Key() ||
		!old.BillDate.Equal(next.BillDate) ||
		!old.CurrentBillAmount.Equal(next.CurrentBillAmount) ||
		!old.TotalCumulativeCertified.Equal(next.TotalCumulativeCertified) ||
		!old.RetentionCumulative.Equal(next.RetentionCumulative) ||
		!old.NetPayable.Equal(next.NetPayable) ||
		!next.Status.AtLeast(old.Status) {
		return &ImmutableEntityError{DocumentType: DocPaymentCertificate, DocumentID: old.ID}
	}
	return nil
}
