// Package revenue maps an article's revenue model, the order's payment method
// and the charged amount to a resend ruling.
//
// The rule table is fixed:
//
//	OO, charged = 0               deny
//	OO, charged != 0              allow
//	OA + Invoice, charged = 0     deny
//	OA + Invoice, charged != 0    allow
//	OA + any other method         allow
//	any other model               allow
//
// Evaluate is pure and total: every input triple yields exactly one ruling.
package revenue

import (
	"fmt"

	"github.com/govalues/decimal"
)

// Known revenue models and payment methods.
const (
	ModelOO       = "OO"
	ModelOA       = "OA"
	MethodInvoice = "Invoice"
)

// Evaluate applies the rule table top to bottom; the first matching row wins.
// Amounts compare exactly against zero.
func Evaluate(model, method string, charged decimal.Decimal) (bool, string) {
	switch model {
	case ModelOO:
		if charged.IsZero() {
			return false, "OO with totalChargedAmount = 0"
		}
		return true, fmt.Sprintf("OO with totalChargedAmount > 0 ($%s)", charged.String())
	case ModelOA:
		if method != MethodInvoice {
			return true, fmt.Sprintf("OA + %s (regardless of totalChargedAmount)", method)
		}
		if charged.IsZero() {
			return false, "OA + Invoice with totalChargedAmount = 0"
		}
		return true, fmt.Sprintf("OA + Invoice with totalChargedAmount > 0 ($%s)", charged.String())
	default:
		return true, fmt.Sprintf("Revenue Model %s", model)
	}
}
