/*
Package finance provides the derived financial state engine.

PURPOSE:
  A construction project tracks money per cost code. Budgets are approved,
  work orders commit money, payment certificates certify it, payments settle
  it and retention releases hand back what was withheld. This package turns
  those source documents into one consistent FinancialState per
  (project, code) pair.

KEY CONCEPTS IN THIS FILE (types.go):
  - Identifiers: ProjectID, CodeID, VendorID, DocumentID
  - Key: the (project, code) pair a snapshot belongs to
  - Money helpers on top of decimal.Decimal

DESIGN PRINCIPLES:
  1. Documents are the source of truth, FinancialState is a projection
  2. Precision: all money is decimal.Decimal, never float64
  3. Type Safety: distinct ID types prevent mixing project and code IDs
  4. Append-only: financial entities are never deleted

SEE ALSO:
  - documents.go: WorkOrder, PaymentCertificate, Payment, RetentionRelease
  - status.go: Document state machines
  - recalculator.go: FinancialState derivation
  - coordinator.go: Per-key serialization of recalculation
*/
package finance

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ProjectID string
type CodeID string
type VendorID string
type DocumentID string

// Key addresses one FinancialState snapshot.
type Key struct {
	ProjectID ProjectID
	CodeID    CodeID
}

func NewKey(projectID ProjectID, codeID CodeID) Key {
	return Key{ProjectID: projectID, CodeID: codeID}
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.ProjectID, k.CodeID)
}

// =============================================================================
// MONEY
// =============================================================================

var hundred = decimal.NewFromInt(100)

// Percent returns base * pct / 100.
func Percent(base, pct decimal.Decimal) decimal.Decimal {
	return base.Mul(pct).Div(hundred)
}

func validPercentage(pct decimal.Decimal) bool {
	return !pct.IsNegative() && !pct.GreaterThan(hundred)
}

// =============================================================================
// CLOCK
// =============================================================================

// Clock returns the current time. Tests inject a fixed clock.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }

func (c Clock) now() time.Time {
	if c == nil {
		return systemClock()
	}
	return c()
}
