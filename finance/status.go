/*
status.go - Document status state machines

PURPOSE:
  Declares, per document type, the finite set of states, the initial state
  and the table of legal transitions. Transitions are data, not methods on
  an object hierarchy, so the legal set is testable on its own.

WORK ORDER:
  ┌───────┐  issue   ┌────────┐  revise   ┌─────────┐
  │ draft │ ───────▶ │ issued │ ────────▶ │ revised │  (terminal for that version)
  └───────┘          └────────┘           └─────────┘
  Revising also creates version n+1 in draft.

PAYMENT CERTIFICATE:
  ┌───────┐ certify ┌───────────┐ payment ┌────────────────┐ payment ┌────────────┐
  │ draft │ ──────▶ │ certified │ ──────▶ │ partially_paid │ ──────▶ │ fully_paid │
  └───────┘         └───────────┘         └────────────────┘         └────────────┘
                          └───────────────── payment ─────────────────────▲
  Payment transitions are driven by payment sums only. A user asking for
  them directly gets ErrInvalidTransition.

GUARDS (runtime data, not static state):
  - draft → issued:     work order must not already be locked
  - issued → revised:   no certified certificate may depend on this version
  - draft → certified:  cumulative_previous_certified must equal the latest
                        certified cumulative for (project, code, vendor)
  - payment transitions: paid total compared against net payable

SEE ALSO:
  - service.go: Calls ValidateTransition before persisting
  - errors.go: TransitionError, DependencyError, StaleCumulativeError
*/
package finance

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusDraft         Status = "draft"
	StatusIssued        Status = "issued"
	StatusRevised       Status = "revised"
	StatusCertified     Status = "certified"
	StatusPartiallyPaid Status = "partially_paid"
	StatusFullyPaid     Status = "fully_paid"
)

var statusRank = map[Status]int{
	StatusDraft:         0,
	StatusIssued:        1,
	StatusRevised:       2,
	StatusCertified:     1,
	StatusPartiallyPaid: 2,
	StatusFullyPaid:     3,
}

// AtLeast compares positions within the same document lifecycle.
func (s Status) AtLeast(other Status) bool {
	return statusRank[s] >= statusRank[other]
}

// Trigger says who is asking for a transition.
type Trigger string

const (
	TriggerUser    Trigger = "user"
	TriggerPayment Trigger = "payment"
)

// =============================================================================
// STATE MACHINE - Transition tables as data
// =============================================================================

// Guard checks runtime conditions for a transition.
type Guard func(doc Document, tctx TransitionContext) error

type Transition struct {
	From    Status
	To      Status
	Trigger Trigger
	// FinanciallyRelevant tells the caller whether recalculation is required.
	FinanciallyRelevant bool
	Guard               Guard
}

type StateMachine struct {
	DocumentType DocumentType
	Initial      Status
	Terminal     []Status
	Transitions  []Transition
}

// TransitionContext carries the persisted facts guards need.
type TransitionContext struct {
	Trigger Trigger
	At      time.Time

	// issued → revised
	Dependents []DocumentID

	// draft → certified
	LatestCertifiedCumulative decimal.Decimal

	// payment-driven transitions
	PaidTotal decimal.Decimal
}

var WorkOrderMachine = StateMachine{
	DocumentType: DocWorkOrder,
	Initial:      StatusDraft,
	Terminal:     []Status{StatusRevised},
	Transitions: []Transition{
		{From: StatusDraft, To: StatusIssued, Trigger: TriggerUser, FinanciallyRelevant: true, Guard: guardNotLocked},
		{From: StatusIssued, To: StatusRevised, Trigger: TriggerUser, FinanciallyRelevant: false, Guard: guardNoDependents},
	},
}

var CertificateMachine = StateMachine{
	DocumentType: DocPaymentCertificate,
	Initial:      StatusDraft,
	Terminal:     []Status{StatusFullyPaid},
	Transitions: []Transition{
		{From: StatusDraft, To: StatusCertified, Trigger: TriggerUser, FinanciallyRelevant: true, Guard: guardCumulativeChain},
		{From: StatusCertified, To: StatusPartiallyPaid, Trigger: TriggerPayment, FinanciallyRelevant: true, Guard: guardPartiallyPaid},
		{From: StatusCertified, To: StatusFullyPaid, Trigger: TriggerPayment, FinanciallyRelevant: true, Guard: guardFullyPaid},
		{From: StatusPartiallyPaid, To: StatusFullyPaid, Trigger: TriggerPayment, FinanciallyRelevant: true, Guard: guardFullyPaid},
	},
}

// MachineFor returns the state machine for a document type. Payments and
// retention releases are immutable records without a lifecycle.
func MachineFor(t DocumentType) (StateMachine, bool) {
	switch t {
	case DocWorkOrder:
		return WorkOrderMachine, true
	case DocPaymentCertificate:
		return CertificateMachine, true
	}
	return StateMachine{}, false
}

// Lookup finds the transition from → to, if legal.
func (m StateMachine) Lookup(from, to Status) (Transition, bool) {
	for _, t := range m.Transitions {
		if t.From == from && t.To == to {
			return t, true
		}
	}
	return Transition{}, false
}

func (m StateMachine) IsTerminal(s Status) bool {
	return slices.Contains(m.Terminal, s)
}

// States lists every state reachable in the machine, initial first.
func (m StateMachine) States() []Status {
	states := []Status{m.Initial}
	for _, t := range m.Transitions {
		for _, s := range []Status{t.From, t.To} {
			if !slices.Contains(states, s) {
				states = append(states, s)
			}
		}
	}
	return states
}

// =============================================================================
// VALIDATE / APPLY
// =============================================================================

// ValidateTransition checks a proposed transition against the document's
// persisted state and the guard for that edge.
func ValidateTransition(doc Document, from, to Status, tctx TransitionContext) error {
	_, err := validate(doc, from, to, tctx)
	return err
}

// ApplyTransition validates and then mutates doc. It returns the new status
// and whether the change affects financial aggregates.
func ApplyTransition(doc Document, to Status, tctx TransitionContext) (Status, bool, error) {
	t, err := validate(doc, doc.CurrentStatus(), to, tctx)
	if err != nil {
		return doc.CurrentStatus(), false, err
	}
	at := tctx.At
	if at.IsZero() {
		at = systemClock()
	}
	doc.setStatus(to, at)
	return to, t.FinanciallyRelevant, nil
}

func validate(doc Document, from, to Status, tctx TransitionContext) (Transition, error) {
	reject := func(reason string) error {
		return &TransitionError{
			DocumentType: doc.DocumentType(),
			DocumentID:   doc.DocumentID(),
			From:         from,
			To:           to,
			Reason:       reason,
		}
	}

	m, ok := MachineFor(doc.DocumentType())
	if !ok {
		return Transition{}, reject("document type has no status lifecycle")
	}
	if doc.CurrentStatus() != from {
		return Transition{}, reject("document is in status " + string(doc.CurrentStatus()))
	}
	if m.IsTerminal(from) {
		return Transition{}, reject("status is terminal")
	}
	t, ok := m.Lookup(from, to)
	if !ok {
		return Transition{}, reject("not a legal transition")
	}
	trigger := tctx.Trigger
	if trigger == "" {
		trigger = TriggerUser
	}
	if t.Trigger != trigger {
		return Transition{}, reject("transition is driven by " + string(t.Trigger) + " only")
	}
	if t.Guard != nil {
		if err := t.Guard(doc, tctx); err != nil {
			return Transition{}, err
		}
	}
	return t, nil
}

// PaymentStatusFor derives the status a certified certificate should be in
// for a given paid total.
func PaymentStatusFor(paid, netPayable decimal.Decimal) Status {
	switch {
	case !paid.IsPositive():
		return StatusCertified
	case paid.LessThan(netPayable):
		return StatusPartiallyPaid
	default:
		return StatusFullyPaid
	}
}

// =============================================================================
// GUARDS
// =============================================================================

func guardNotLocked(doc Document, _ TransitionContext) error {
	wo, ok := doc.(*WorkOrder)
	if ok && wo.Locked {
		return &TransitionError{DocumentType: DocWorkOrder, DocumentID: wo.ID, From: wo.Status, To: StatusIssued, Reason: "work order is locked"}
	}
	return nil
}

func guardNoDependents(doc Document, tctx TransitionContext) error {
	if len(tctx.Dependents) == 0 {
		return nil
	}
	wo, _ := doc.(*WorkOrder)
	depErr := &DependencyError{DocumentID: doc.DocumentID(), Dependents: tctx.Dependents}
	if wo != nil {
		depErr.Version = wo.Version
	}
	return depErr
}

func guardCumulativeChain(doc Document, tctx TransitionContext) error {
	pc, ok := doc.(*PaymentCertificate)
	if !ok {
		return nil
	}
	if !pc.CumulativePreviousCertified.Equal(tctx.LatestCertifiedCumulative) {
		return &StaleCumulativeError{
			DocumentID: pc.ID,
			VendorID:   pc.VendorID,
			Expected:   tctx.LatestCertifiedCumulative,
			Actual:     pc.CumulativePreviousCertified,
		}
	}
	return nil
}

func guardPartiallyPaid(doc Document, tctx TransitionContext) error {
	return guardPaymentStatus(doc, tctx, StatusPartiallyPaid)
}

func guardFullyPaid(doc Document, tctx TransitionContext) error {
	return guardPaymentStatus(doc, tctx, StatusFullyPaid)
}

func guardPaymentStatus(doc Document, tctx TransitionContext, want Status) error {
	pc, ok := doc.(*PaymentCertificate)
	if !ok {
		return nil
	}
	if got := PaymentStatusFor(tctx.PaidTotal, pc.NetPayable); got != want {
		return &TransitionError{
			DocumentType: DocPaymentCertificate,
			DocumentID:   pc.ID,
			From:         pc.Status,
			To:           want,
			Reason:       "paid total " + tctx.PaidTotal.String() + " against net payable " + pc.NetPayable.String() + " implies " + string(got),
		}
	}
	return nil
}
