/*
service.go - Document lifecycle orchestration

PURPOSE:
  The entry point the document API layer calls. Every mutation follows the
  same three steps:

  ┌──────────────┐    ┌────────────────────────┐    ┌──────────────────┐
  │ validate via │ ─▶ │ persist inside WithTx  │ ─▶ │ Coordinator      │
  │ StateMachine │    │ (guard + write atomic) │    │ .Trigger(key)    │
  └──────────────┘    └────────────────────────┘    └──────────────────┘

  The guard check runs inside the same storage transaction as the write,
  so two certificates for one vendor cannot both pass the cumulative check.

FAILURE SEMANTICS:
  If the write succeeds but recalculation fails, the document is returned
  together with a *StaleSnapshotError. The write is never rolled back:
  "document recorded, snapshot stale" beats "document lost".

DELETES:
  Delete always fails with ImmutableEntityError, independent of caller
  permissions.

EXAMPLE:
  svc := finance.NewService(finance.ServiceConfig{Store: st, States: st, Master: st})
  wo, _ := svc.CreateWorkOrder(ctx, finance.WorkOrderInput{...})
  wo, state, err := svc.IssueWorkOrder(ctx, wo.ID, "pm-1")
*/
package finance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	Store       Store
	States      StateStore
	Master      MasterData
	Coordinator *Coordinator
	Budgets     *BudgetGuard
	Clock       Clock
	Logger      *slog.Logger

	// NewID generates document IDs. Defaults to prefixed UUIDv7.
	NewID func(prefix string) DocumentID
}

type ServiceConfig struct {
	Store              Store
	States             StateStore
	Master             MasterData
	Clock              Clock
	RecalculateTimeout time.Duration
	Logger             *slog.Logger
}

// NewService wires the recalculator, coordinator and budget guard.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recalc := &Recalculator{
		Documents: cfg.Store,
		Budgets:   cfg.Store,
		States:    cfg.States,
		Master:    cfg.Master,
		Clock:     cfg.Clock,
	}
	if sr, ok := cfg.Store.(SnapshotReader); ok {
		recalc.Snapshots = sr
	}
	coord := NewCoordinator(recalc, cfg.RecalculateTimeout, logger)
	return &Service{
		Store:       cfg.Store,
		States:      cfg.States,
		Master:      cfg.Master,
		Coordinator: coord,
		Budgets: &BudgetGuard{
			Store:       cfg.Store,
			States:      cfg.States,
			Master:      cfg.Master,
			Coordinator: coord,
			Clock:       cfg.Clock,
		},
		Clock:  cfg.Clock,
		Logger: logger,
		NewID:  newDocumentID,
	}
}

func newDocumentID(prefix string) DocumentID {
	return DocumentID(prefix + "-" + uuid.Must(uuid.NewV7()).String())
}

// recalc triggers the coordinator after a successful write.
func (s *Service) recalc(ctx context.Context, key Key) (*FinancialState, error) {
	state, err := s.Coordinator.Trigger(ctx, key)
	if err != nil {
		return nil, &StaleSnapshotError{Key: key, Err: err}
	}
	return state, nil
}

func (s *Service) checkParties(ctx context.Context, key Key, vendor VendorID) error {
	if key.ProjectID == "" || key.CodeID == "" || vendor == "" {
		return invalidInput("project_id, code_id and vendor_id are required")
	}
	if err := checkKey(ctx, s.Master, key, ""); err != nil {
		return err
	}
	return checkVendor(ctx, s.Master, vendor, "")
}

// =============================================================================
// WORK ORDERS
// =============================================================================

type WorkOrderInput struct {
	ProjectID           ProjectID
	CodeID              CodeID
	VendorID            VendorID
	Description         string
	Rate                decimal.Decimal
	Quantity            decimal.Decimal
	RetentionPercentage decimal.Decimal
	Actor               string
}

func (in WorkOrderInput) validate() error {
	if in.Rate.IsNegative() || in.Quantity.IsNegative() {
		return invalidInput("rate and quantity must not be negative")
	}
	if !validPercentage(in.RetentionPercentage) {
		return invalidInput("retention_percentage must be between 0 and 100, got %s", in.RetentionPercentage)
	}
	return nil
}

func (in WorkOrderInput) key() Key { return NewKey(in.ProjectID, in.CodeID) }

// CreateWorkOrder records a new work order in Draft. Drafts do not
// contribute to committed value, so no recalculation runs.
func (s *Service) CreateWorkOrder(ctx context.Context, in WorkOrderInput) (*WorkOrder, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if err := s.checkParties(ctx, in.key(), in.VendorID); err != nil {
		return nil, err
	}

	wo := WorkOrder{
		ID:                  s.NewID("wo"),
		Version:             1,
		ProjectID:           in.ProjectID,
		CodeID:              in.CodeID,
		VendorID:            in.VendorID,
		Description:         in.Description,
		Rate:                in.Rate,
		Quantity:            in.Quantity,
		RetentionPercentage: in.RetentionPercentage,
		Status:              WorkOrderMachine.Initial,
		CreatedAt:           s.Clock.now(),
		CreatedBy:           in.Actor,
	}
	wo.computeAmounts()

	if err := s.Store.WithTx(ctx, func(tx Tx) error {
		return tx.InsertWorkOrder(ctx, wo)
	}); err != nil {
		return nil, err
	}
	s.Logger.Info("work order created", "id", wo.ID, "key", wo.Key().String(), "net_value", wo.NetValue.String())
	return &wo, nil
}

// EditWorkOrder changes the fields of a Draft version in place. Issued work
// orders change only through ReviseWorkOrder.
func (s *Service) EditWorkOrder(ctx context.Context, id DocumentID, in WorkOrderInput) (*WorkOrder, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	var out WorkOrder
	err := s.Store.WithTx(ctx, func(tx Tx) error {
		wo, err := tx.GetWorkOrder(ctx, id)
		if err != nil {
			return err
		}
		if wo == nil {
			return notFound("work order", id)
		}
		if wo.Status != StatusDraft || wo.Locked {
			return &TransitionError{DocumentType: DocWorkOrder, DocumentID: id, From: wo.Status, To: wo.Status,
				Reason: "only draft work orders can be edited; revise issued ones"}
		}
		if err := sameParties(wo.Key(), wo.VendorID, in.key(), in.VendorID); err != nil {
			return err
		}
		applyWorkOrderInput(wo, in)
		out = *wo
		return tx.UpdateWorkOrder(ctx, *wo)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// IssueWorkOrder moves the latest version from Draft to Issued, locking it,
// and recalculates the key.
func (s *Service) IssueWorkOrder(ctx context.Context, id DocumentID, actor string) (*WorkOrder, *FinancialState, error) {
	var (
		out      WorkOrder
		relevant bool
	)
	err := s.Store.WithTx(ctx, func(tx Tx) error {
		wo, err := tx.GetWorkOrder(ctx, id)
		if err != nil {
			return err
		}
		if wo == nil {
			return notFound("work order", id)
		}
		_, relevant, err = ApplyTransition(wo, StatusIssued, TransitionContext{Trigger: TriggerUser, At: s.Clock.now()})
		if err != nil {
			return err
		}
		out = *wo
		return tx.UpdateWorkOrder(ctx, *wo)
	})
	if err != nil {
		return nil, nil, err
	}
	s.Logger.Info("work order issued", "id", id, "version", out.Version, "actor", actor)

	if !relevant {
		return &out, nil, nil
	}
	state, err := s.recalc(ctx, out.Key())
	return &out, state, err
}

// ReviseWorkOrder marks the issued version Revised and creates the next
// version as a Draft carrying the new terms. The revised version keeps
// contributing until the new one is issued.
func (s *Service) ReviseWorkOrder(ctx context.Context, id DocumentID, in WorkOrderInput) (*WorkOrder, *FinancialState, error) {
	if err := in.validate(); err != nil {
		return nil, nil, err
	}
	var (
		next     WorkOrder
		relevant bool
	)
	err := s.Store.WithTx(ctx, func(tx Tx) error {
		cur, err := tx.GetWorkOrder(ctx, id)
		if err != nil {
			return err
		}
		if cur == nil {
			return notFound("work order", id)
		}
		if err := sameParties(cur.Key(), cur.VendorID, in.key(), in.VendorID); err != nil {
			return err
		}
		dependents, err := certifiedDependents(ctx, tx, cur)
		if err != nil {
			return err
		}
		now := s.Clock.now()
		_, relevant, err = ApplyTransition(cur, StatusRevised, TransitionContext{
			Trigger:    TriggerUser,
			At:         now,
			Dependents: dependents,
		})
		if err != nil {
			return err
		}
		if err := tx.UpdateWorkOrder(ctx, *cur); err != nil {
			return err
		}

		next = WorkOrder{
			ID:              cur.ID,
			Version:         cur.Version + 1,
			PreviousVersion: cur.Version,
			ProjectID:       cur.ProjectID,
			CodeID:          cur.CodeID,
			VendorID:        cur.VendorID,
			Status:          WorkOrderMachine.Initial,
			CreatedAt:       now,
			CreatedBy:       in.Actor,
		}
		applyWorkOrderInput(&next, in)
		return tx.InsertWorkOrder(ctx, next)
	})
	if err != nil {
		return nil, nil, err
	}
	s.Logger.Info("work order revised", "id", id, "new_version", next.Version, "actor", in.Actor)

	if !relevant {
		return &next, nil, nil
	}
	state, err := s.recalc(ctx, next.Key())
	return &next, state, err
}

func (s *Service) GetWorkOrder(ctx context.Context, id DocumentID) (*WorkOrder, error) {
	wo, err := s.Store.GetWorkOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if wo == nil {
		return nil, notFound("work order", id)
	}
	return wo, nil
}

func (s *Service) WorkOrderVersions(ctx context.Context, id DocumentID) ([]WorkOrder, error) {
	versions, err := s.Store.WorkOrderVersions(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, notFound("work order", id)
	}
	return versions, nil
}

func applyWorkOrderInput(wo *WorkOrder, in WorkOrderInput) {
	wo.Description = in.Description
	wo.Rate = in.Rate
	wo.Quantity = in.Quantity
	wo.RetentionPercentage = in.RetentionPercentage
	wo.computeAmounts()
}

// certifiedDependents lists certified certificates pinned to any version of
// the work order.
func certifiedDependents(ctx context.Context, r DocumentStore, wo *WorkOrder) ([]DocumentID, error) {
	certs, err := r.ListCertificates(ctx, wo.Key())
	if err != nil {
		return nil, err
	}
	var ids []DocumentID
	for _, pc := range certs {
		if pc.Certified() && pc.WorkOrderID == wo.ID {
			ids = append(ids, pc.ID)
		}
	}
	return ids, nil
}

func sameParties(key Key, vendor VendorID, inKey Key, inVendor VendorID) error {
	if inKey.ProjectID == "" && inKey.CodeID == "" && inVendor == "" {
		return nil
	}
	if inKey != key || inVendor != vendor {
		return invalidInput("project, code and vendor cannot change between versions")
	}
	return nil
}

// =============================================================================
// PAYMENT CERTIFICATES
// =============================================================================

type CertificateInput struct {
	ProjectID   ProjectID
	CodeID      CodeID
	VendorID    VendorID
	WorkOrderID DocumentID // optional
	BillDate    time.Time

	CurrentBillAmount decimal.Decimal
	// CumulativePreviousCertified defaults to the vendor's latest certified
	// cumulative when nil.
	CumulativePreviousCertified *decimal.Decimal

	RetentionPercentage decimal.Decimal
	TaxPercentage       decimal.Decimal
	Actor               string
}

func (in CertificateInput) validate() error {
	if in.CurrentBillAmount.IsNegative() {
		return invalidInput("current_bill_amount must not be negative")
	}
	if in.CumulativePreviousCertified != nil && in.CumulativePreviousCertified.IsNegative() {
		return invalidInput("cumulative_previous_certified must not be negative")
	}
	if !validPercentage(in.RetentionPercentage) || !validPercentage(in.TaxPercentage) {
		return invalidInput("percentages must be between 0 and 100")
	}
	if in.BillDate.IsZero() {
		return invalidInput("bill_date is required")
	}
	return nil
}

func (in CertificateInput) key() Key { return NewKey(in.ProjectID, in.CodeID) }

// CreateCertificate records a Draft certificate chained onto the vendor's
// latest certified cumulative.
func (s *Service) CreateCertificate(ctx context.Context, in CertificateInput) (*PaymentCertificate, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if err := s.checkParties(ctx, in.key(), in.VendorID); err != nil {
		return nil, err
	}

	pc := PaymentCertificate{
		ID:        s.NewID("pc"),
		Version:   1,
		ProjectID: in.ProjectID,
		CodeID:    in.CodeID,
		VendorID:  in.VendorID,
		Status:    CertificateMachine.Initial,
		CreatedAt: s.Clock.now(),
		CreatedBy: in.Actor,
	}
	err := s.Store.WithTx(ctx, func(tx Tx) error {
		if err := s.fillCertificate(ctx, tx, &pc, in); err != nil {
			return err
		}
		return tx.InsertCertificate(ctx, pc)
	})
	if err != nil {
		return nil, err
	}
	s.Logger.Info("certificate created", "id", pc.ID, "key", pc.Key().String(), "vendor", pc.VendorID,
		"total_cumulative", pc.TotalCumulativeCertified.String())
	return &pc, nil
}

// ReviseCertificate replaces a Draft with a new version. The old version is
// kept and marked superseded.
func (s *Service) ReviseCertificate(ctx context.Context, id DocumentID, in CertificateInput) (*PaymentCertificate, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	var next PaymentCertificate
	err := s.Store.WithTx(ctx, func(tx Tx) error {
		cur, err := tx.GetCertificate(ctx, id)
		if err != nil {
			return err
		}
		if cur == nil {
			return notFound("payment certificate", id)
		}
		if cur.Status != StatusDraft {
			return &TransitionError{DocumentType: DocPaymentCertificate, DocumentID: id, From: cur.Status, To: cur.Status,
				Reason: "only draft certificates can be revised"}
		}
		if err := sameParties(cur.Key(), cur.VendorID, in.key(), in.VendorID); err != nil {
			return err
		}
		cur.Superseded = true
		if err := tx.UpdateCertificate(ctx, *cur); err != nil {
			return err
		}

		next = PaymentCertificate{
			ID:              cur.ID,
			Version:         cur.Version + 1,
			PreviousVersion: cur.Version,
			ProjectID:       cur.ProjectID,
			CodeID:          cur.CodeID,
			VendorID:        cur.VendorID,
			Status:          StatusDraft,
			CreatedAt:       s.Clock.now(),
			CreatedBy:       in.Actor,
		}
		if err := s.fillCertificate(ctx, tx, &next, in); err != nil {
			return err
		}
		return tx.InsertCertificate(ctx, next)
	})
	if err != nil {
		return nil, err
	}
	return &next, nil
}

// fillCertificate copies inputs, resolves the work order reference and the
// cumulative chain, and derives every amount.
func (s *Service) fillCertificate(ctx context.Context, tx Tx, pc *PaymentCertificate, in CertificateInput) error {
	pc.BillDate = in.BillDate
	pc.CurrentBillAmount = in.CurrentBillAmount
	pc.RetentionPercentage = in.RetentionPercentage
	pc.TaxPercentage = in.TaxPercentage

	pc.WorkOrderID, pc.WorkOrderVersion = "", 0
	if in.WorkOrderID != "" {
		wo, err := committedVersion(ctx, tx, in.WorkOrderID)
		if err != nil {
			return err
		}
		if wo == nil || wo.Key() != pc.Key() || wo.VendorID != pc.VendorID {
			return &DanglingReferenceError{Entity: "work_order", ID: string(in.WorkOrderID), DocumentID: pc.ID}
		}
		pc.WorkOrderID, pc.WorkOrderVersion = wo.ID, wo.Version
	}

	latest, err := latestCertified(ctx, tx, pc.Key(), pc.VendorID, pc.ID)
	if err != nil {
		return err
	}
	priorRetention := decimal.Zero
	pc.CumulativePreviousCertified = decimal.Zero
	if latest != nil {
		priorRetention = latest.RetentionCumulative
		pc.CumulativePreviousCertified = latest.TotalCumulativeCertified
	}
	if in.CumulativePreviousCertified != nil {
		pc.CumulativePreviousCertified = *in.CumulativePreviousCertified
	}
	pc.computeAmounts(priorRetention)
	return nil
}

// CertifyCertificate moves a Draft to Certified after checking, inside the
// write transaction, that it chains onto the latest certified cumulative.
func (s *Service) CertifyCertificate(ctx context.Context, id DocumentID, actor string) (*PaymentCertificate, *FinancialState, error) {
	var (
		out      PaymentCertificate
		relevant bool
	)
	err := s.Store.WithTx(ctx, func(tx Tx) error {
		pc, err := tx.GetCertificate(ctx, id)
		if err != nil {
			return err
		}
		if pc == nil {
			return notFound("payment certificate", id)
		}
		if err := checkWorkOrderPin(ctx, tx, pc); err != nil {
			return err
		}
		latest, err := latestCertified(ctx, tx, pc.Key(), pc.VendorID, pc.ID)
		if err != nil {
			return err
		}
		tctx := TransitionContext{Trigger: TriggerUser, At: s.Clock.now()}
		priorRetention := decimal.Zero
		if latest != nil {
			if pc.BillDate.Before(latest.BillDate) {
				return &TransitionError{DocumentType: DocPaymentCertificate, DocumentID: id, From: pc.Status, To: StatusCertified,
					Reason: "bill date precedes latest certified certificate " + string(latest.ID)}
			}
			tctx.LatestCertifiedCumulative = latest.TotalCumulativeCertified
			priorRetention = latest.RetentionCumulative
		}
		_, relevant, err = ApplyTransition(pc, StatusCertified, tctx)
		if err != nil {
			return err
		}
		pc.computeAmounts(priorRetention)
		out = *pc
		return tx.UpdateCertificate(ctx, *pc)
	})
	if err != nil {
		return nil, nil, err
	}
	s.Logger.Info("certificate certified", "id", id, "vendor", out.VendorID,
		"total_cumulative", out.TotalCumulativeCertified.String(), "actor", actor)

	if !relevant {
		return &out, nil, nil
	}
	state, err := s.recalc(ctx, out.Key())
	return &out, state, err
}

func (s *Service) GetCertificate(ctx context.Context, id DocumentID) (*PaymentCertificate, error) {
	pc, err := s.Store.GetCertificate(ctx, id)
	if err != nil {
		return nil, err
	}
	if pc == nil {
		return nil, notFound("payment certificate", id)
	}
	return pc, nil
}

// latestCertified returns the vendor's last certified certificate in chain
// order, ignoring exclude.
func latestCertified(ctx context.Context, r DocumentStore, key Key, vendor VendorID, exclude DocumentID) (*PaymentCertificate, error) {
	certs, err := r.ListCertificates(ctx, key)
	if err != nil {
		return nil, err
	}
	var mine []PaymentCertificate
	for _, pc := range certs {
		if pc.VendorID == vendor && pc.ID != exclude {
			mine = append(mine, pc)
		}
	}
	return LatestCertifiedByVendor(mine)[vendor], nil
}

// checkWorkOrderPin rejects certifying a draft whose work order version has
// since been revised. Revising the draft re-pins it to the current version.
func checkWorkOrderPin(ctx context.Context, r DocumentStore, pc *PaymentCertificate) error {
	if pc.WorkOrderID == "" {
		return nil
	}
	wo, err := committedVersion(ctx, r, pc.WorkOrderID)
	if err != nil {
		return err
	}
	if wo == nil {
		return &DanglingReferenceError{Entity: "work_order", ID: string(pc.WorkOrderID), DocumentID: pc.ID}
	}
	if wo.Version != pc.WorkOrderVersion || wo.Status != StatusIssued {
		return &TransitionError{DocumentType: DocPaymentCertificate, DocumentID: pc.ID, From: pc.Status, To: StatusCertified,
			Reason: fmt.Sprintf("pinned to work order %s v%d, current version is v%d (%s)",
				pc.WorkOrderID, pc.WorkOrderVersion, wo.Version, wo.Status)}
	}
	return nil
}

// committedVersion returns the latest Issued/Revised version of a work order.
func committedVersion(ctx context.Context, r DocumentStore, id DocumentID) (*WorkOrder, error) {
	versions, err := r.WorkOrderVersions(ctx, id)
	if err != nil {
		return nil, err
	}
	return LatestCommittedVersions(versions)[id], nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

type PaymentInput struct {
	CertificateID DocumentID
	Amount        decimal.Decimal
	PaidAt        time.Time
	Reference     string
	Actor         string
}

// RecordPayment stores a payment and moves the certificate along the
// payment-driven part of its state machine.
func (s *Service) RecordPayment(ctx context.Context, in PaymentInput) (*Payment, *PaymentCertificate, *FinancialState, error) {
	if !in.Amount.IsPositive() {
		return nil, nil, nil, invalidInput("payment_amount must be positive")
	}
	now := s.Clock.now()
	if in.PaidAt.IsZero() {
		in.PaidAt = now
	}

	var (
		payment Payment
		cert    PaymentCertificate
	)
	err := s.Store.WithTx(ctx, func(tx Tx) error {
		pc, err := tx.GetCertificate(ctx, in.CertificateID)
		if err != nil {
			return err
		}
		if pc == nil {
			return notFound("payment certificate", in.CertificateID)
		}
		if !pc.Certified() || CertificateMachine.IsTerminal(pc.Status) {
			return &TransitionError{DocumentType: DocPaymentCertificate, DocumentID: pc.ID, From: pc.Status, To: pc.Status,
				Reason: "payments can only be recorded against certified, unpaid certificates"}
		}

		prior, err := tx.ListPaymentsByCertificate(ctx, pc.ID)
		if err != nil {
			return err
		}
		paid := in.Amount
		for _, p := range prior {
			paid = paid.Add(p.Amount)
		}

		payment = Payment{
			ID:            s.NewID("pay"),
			CertificateID: pc.ID,
			ProjectID:     pc.ProjectID,
			CodeID:        pc.CodeID,
			VendorID:      pc.VendorID,
			Amount:        in.Amount,
			PaidAt:        in.PaidAt,
			Reference:     in.Reference,
			CreatedAt:     now,
			CreatedBy:     in.Actor,
		}
		if err := tx.InsertPayment(ctx, payment); err != nil {
			return err
		}

		pc.TotalPaidCumulative = paid
		if target := PaymentStatusFor(paid, pc.NetPayable); target != pc.Status {
			if _, _, err := ApplyTransition(pc, target, TransitionContext{Trigger: TriggerPayment, At: now, PaidTotal: paid}); err != nil {
				return err
			}
		}
		cert = *pc
		return tx.UpdateCertificate(ctx, *pc)
	})
	if err != nil {
		return nil, nil, nil, err
	}
	s.Logger.Info("payment recorded", "id", payment.ID, "certificate", cert.ID,
		"amount", payment.Amount.String(), "status", cert.Status)

	state, err := s.recalc(ctx, payment.Key())
	return &payment, &cert, state, err
}

func (s *Service) PaymentsForCertificate(ctx context.Context, id DocumentID) ([]Payment, error) {
	if _, err := s.GetCertificate(ctx, id); err != nil {
		return nil, err
	}
	return s.Store.ListPaymentsByCertificate(ctx, id)
}

// =============================================================================
// RETENTION RELEASES
// =============================================================================

type RetentionReleaseInput struct {
	ProjectID     ProjectID
	CodeID        CodeID
	VendorID      VendorID
	CertificateID DocumentID // optional
	Amount        decimal.Decimal
	ReleasedAt    time.Time
	Reason        string
	Actor         string
}

// ReleaseRetention records a release. Releases beyond the retention held are
// accepted; the snapshot floors retention_held at zero.
func (s *Service) ReleaseRetention(ctx context.Context, in RetentionReleaseInput) (*RetentionRelease, *FinancialState, error) {
	if !in.Amount.IsPositive() {
		return nil, nil, invalidInput("release_amount must be positive")
	}
	key := NewKey(in.ProjectID, in.CodeID)
	if err := s.checkParties(ctx, key, in.VendorID); err != nil {
		return nil, nil, err
	}
	now := s.Clock.now()
	if in.ReleasedAt.IsZero() {
		in.ReleasedAt = now
	}

	rel := RetentionRelease{
		ID:            s.NewID("rr"),
		ProjectID:     in.ProjectID,
		CodeID:        in.CodeID,
		VendorID:      in.VendorID,
		CertificateID: in.CertificateID,
		Amount:        in.Amount,
		ReleasedAt:    in.ReleasedAt,
		Reason:        in.Reason,
		CreatedAt:     now,
		CreatedBy:     in.Actor,
	}
	err := s.Store.WithTx(ctx, func(tx Tx) error {
		if in.CertificateID != "" {
			pc, err := tx.GetCertificate(ctx, in.CertificateID)
			if err != nil {
				return err
			}
			if pc == nil || pc.Key() != key || pc.VendorID != in.VendorID {
				return &DanglingReferenceError{Entity: "payment_certificate", ID: string(in.CertificateID), DocumentID: rel.ID}
			}
		}
		return tx.InsertRetentionRelease(ctx, rel)
	})
	if err != nil {
		return nil, nil, err
	}
	s.Logger.Info("retention released", "id", rel.ID, "key", key.String(), "vendor", rel.VendorID, "amount", rel.Amount.String())

	state, err := s.recalc(ctx, key)
	return &rel, state, err
}

// =============================================================================
// BUDGETS / READ MODEL
// =============================================================================

// SetBudget runs the budget edit guard.
func (s *Service) SetBudget(ctx context.Context, key Key, amount decimal.Decimal, actor string) (*Budget, *FinancialState, error) {
	b, state, err := s.Budgets.SetBudget(ctx, key, amount, actor)
	if err == nil {
		s.Logger.Info("budget set", "key", key.String(), "amount", amount.String(), "actor", actor)
	}
	return b, state, err
}

func (s *Service) GetBudget(ctx context.Context, key Key) (*Budget, error) {
	b, err := s.Store.GetBudget(ctx, key)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, notFound("budget", DocumentID(key.String()))
	}
	return b, nil
}

// Summary returns every snapshot of a project. It never recalculates.
func (s *Service) Summary(ctx context.Context, projectID ProjectID) ([]FinancialState, error) {
	return s.States.ListStates(ctx, projectID)
}

// SummaryForCode returns the snapshot for one key. It never recalculates.
func (s *Service) SummaryForCode(ctx context.Context, key Key) (*FinancialState, error) {
	state, err := s.States.GetState(ctx, key)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, notFound("financial state", DocumentID(key.String()))
	}
	return state, nil
}

// Recalculate forces a recomputation of key, bypassing coalescing.
func (s *Service) Recalculate(ctx context.Context, key Key) (*FinancialState, error) {
	return s.Coordinator.Recompute(ctx, key)
}

// =============================================================================
// DELETES - Architectural guard
// =============================================================================

// Delete rejects every delete of a financial entity.
func (s *Service) Delete(_ context.Context, docType DocumentType, id DocumentID) error {
	s.Logger.Warn("delete rejected", "type", docType, "id", id)
	return &ImmutableEntityError{DocumentType: docType, DocumentID: id}
}
