package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/sitebooks/costledger/finance"
)

// =============================================================================
// ERROR MAPPING
// =============================================================================

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch finance.KindOf(err) {
	case finance.KindInvalidTransition, finance.KindConflictingDependency,
		finance.KindStaleCumulative, finance.KindConcurrentModification:
		return http.StatusConflict
	case finance.KindBudgetBelowCertified, finance.KindDanglingReference:
		return http.StatusUnprocessableEntity
	case finance.KindRecalculationTimeout:
		return http.StatusServiceUnavailable
	case finance.KindImmutableEntity:
		return http.StatusMethodNotAllowed
	case finance.KindNotFound:
		return http.StatusNotFound
	case finance.KindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

var amountPrinter = message.NewPrinter(language.MustParse("en-IN"))

// formatAmount renders an amount with grouped digits, e.g. ₹7,00,000. The
// fraction is taken from the decimal string so large amounts stay exact.
func formatAmount(d decimal.Decimal) string {
	d = d.Round(2)
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Neg()
	}
	whole := d.Truncate(0)
	digits := whole.String()
	if n := whole.BigInt(); n.IsInt64() {
		digits = amountPrinter.Sprint(number.Decimal(n.Int64()))
	}
	frac := ""
	if s := d.String(); strings.Contains(s, ".") {
		frac = s[strings.IndexByte(s, '.'):]
	}
	return sign + "₹" + digits + frac
}

// messageFor is the human-readable headline for an error.
func messageFor(err error) string {
	var below *finance.BudgetBelowCertifiedError
	if errors.As(err, &below) {
		return "Cannot reduce budget below certified value (" + formatAmount(below.Certified) + ")"
	}
	switch finance.KindOf(err) {
	case finance.KindInvalidTransition:
		return "Transition not allowed"
	case finance.KindConflictingDependency:
		return "Document has certified dependents"
	case finance.KindStaleCumulative:
		return "Certificate cumulative is stale"
	case finance.KindDanglingReference:
		return "Referenced master data does not exist"
	case finance.KindRecalculationTimeout:
		return "Recalculation timed out"
	case finance.KindImmutableEntity:
		return "Financial records cannot be deleted or changed"
	case finance.KindNotFound:
		return "Not found"
	case finance.KindInvalidInput:
		return "Invalid request"
	case finance.KindConcurrentModification:
		return "Concurrent modification, retry the request"
	default:
		return "Internal error"
	}
}

func errorBody(err error) ErrorResponse {
	return ErrorResponse{
		Error:   messageFor(err),
		Code:    string(finance.KindOf(err)),
		Details: err.Error(),
	}
}

// writeDomainError writes err with the status its kind maps to.
func writeDomainError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorBody(err))
}
