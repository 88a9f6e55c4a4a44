package harness

import (
	"github.com/roach88/resendgate/internal/engine"
	"github.com/roach88/resendgate/internal/report"
	"github.com/roach88/resendgate/internal/resend"
)

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// Verdicts are in the order the scenario lists its orders.
	Verdicts []*engine.Verdict `json:"verdicts"`

	// Resends holds the resend outcomes when the scenario resends.
	Resends []resend.Result `json:"resends,omitempty"`

	// Summary aggregates Verdicts.
	Summary report.Summary `json:"summary"`

	// Errors lists every failed expectation and assertion.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Errors: []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Verdict returns the verdict for orderID, or nil.
func (r *Result) Verdict(orderID string) *engine.Verdict {
	for _, v := range r.Verdicts {
		if v.OrderID == orderID {
			return v
		}
	}
	return nil
}

// Records wraps the verdicts with their resend outcomes.
func (r *Result) Records() []report.Record {
	records := report.Records(r.Verdicts)
	if len(r.Resends) > 0 {
		resend.Apply(records, r.Resends)
	}
	return records
}
