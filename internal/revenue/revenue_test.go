package revenue

import (
	"testing"

	"github.com/govalues/decimal"
	"github.com/stretchr/testify/assert"
)

func TestEvaluate_RuleTable(t *testing.T) {
	tests := []struct {
		name    string
		model   string
		method  string
		charged string
		allow   bool
		reason  string
	}{
		{"OO zero", "OO", "CreditCard", "0", false, "OO with totalChargedAmount = 0"},
		{"OO zero with scale", "OO", "Invoice", "0.00", false, "OO with totalChargedAmount = 0"},
		{"OO charged", "OO", "CreditCard", "150.5", true, "OO with totalChargedAmount > 0 ($150.5)"},
		{"OA invoice zero", "OA", "Invoice", "0", false, "OA + Invoice with totalChargedAmount = 0"},
		{"OA invoice charged", "OA", "Invoice", "2500.00", true, "OA + Invoice with totalChargedAmount > 0 ($2500.00)"},
		{"OA card zero", "OA", "CreditCard", "0", true, "OA + CreditCard (regardless of totalChargedAmount)"},
		{"OA card charged", "OA", "CreditCard", "10", true, "OA + CreditCard (regardless of totalChargedAmount)"},
		{"OA no method", "OA", "", "0", true, "OA +  (regardless of totalChargedAmount)"},
		{"unknown model", "SUB", "Invoice", "0", true, "Revenue Model SUB"},
		{"lowercase model is unknown", "oo", "Invoice", "0", true, "Revenue Model oo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allow, reason := Evaluate(tt.model, tt.method, decimal.MustParse(tt.charged))
			assert.Equal(t, tt.allow, allow)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestEvaluate_OnlyKnownZeroCombinationsDeny(t *testing.T) {
	models := []string{"OO", "OA", "HYBRID", ""}
	methods := []string{"Invoice", "CreditCard", "Waiver", ""}
	amounts := []string{"0", "0.01", "99", "-5"}

	for _, m := range models {
		for _, pm := range methods {
			for _, a := range amounts {
				amount := decimal.MustParse(a)
				allow, reason := Evaluate(m, pm, amount)
				assert.NotEmpty(t, reason)

				wantDeny := amount.IsZero() && (m == ModelOO || (m == ModelOA && pm == MethodInvoice))
				assert.Equal(t, !wantDeny, allow, "model=%q method=%q amount=%s", m, pm, a)
			}
		}
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	amount := decimal.MustParse("12.30")
	a1, r1 := Evaluate("OA", "Invoice", amount)
	a2, r2 := Evaluate("OA", "Invoice", amount)
	assert.Equal(t, a1, a2)
	assert.Equal(t, r1, r2)
}
