// Package report turns batch verdicts into what operators read: the
// approved and blocked listings, the batch summary, and the JSON-lines
// results file.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/roach88/resendgate/internal/engine"
)

const rule = "================================================================================"

// ReasonCount is one row of the denial-reason frequency table.
type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// Summary aggregates a batch. It does not depend on verdict order.
type Summary struct {
	Total       int           `json:"total"`
	Approved    int           `json:"approved"`
	Denied      int           `json:"denied"`
	QueryFailed int           `json:"query_failed"`
	Faults      int           `json:"faults"`
	Reasons     []ReasonCount `json:"denial_reasons,omitempty"`
}

// Summarize counts outcomes and tallies denial reasons. Reasons are sorted by
// count, most frequent first, then alphabetically.
func Summarize(verdicts []*engine.Verdict) Summary {
	s := Summary{Total: len(verdicts)}
	counts := make(map[string]int)
	for _, v := range verdicts {
		switch v.Outcome {
		case engine.OutcomeApproved:
			s.Approved++
		case engine.OutcomeDenied:
			s.Denied++
			counts[v.Reason]++
		case engine.OutcomeQueryFailed:
			s.QueryFailed++
		default:
			s.Faults++
		}
	}

	for reason, n := range counts {
		s.Reasons = append(s.Reasons, ReasonCount{Reason: reason, Count: n})
	}
	sort.Slice(s.Reasons, func(i, j int) bool {
		if s.Reasons[i].Count != s.Reasons[j].Count {
			return s.Reasons[i].Count > s.Reasons[j].Count
		}
		return s.Reasons[i].Reason < s.Reasons[j].Reason
	})
	return s
}

// WriteSummary renders the summary as text.
func WriteSummary(w io.Writer, s Summary) error {
	var b strings.Builder
	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b, "VALIDATION SUMMARY")
	fmt.Fprintln(&b, rule)
	fmt.Fprintf(&b, "Total orders: %d\n", s.Total)
	fmt.Fprintf(&b, "Approved for resend: %d\n", s.Approved)
	fmt.Fprintf(&b, "Blocked by rules: %d\n", s.Denied)
	if s.QueryFailed > 0 {
		fmt.Fprintf(&b, "Query errors: %d\n", s.QueryFailed)
	}
	if s.Faults > 0 {
		fmt.Fprintf(&b, "Faults: %d\n", s.Faults)
	}
	fmt.Fprintln(&b, rule)

	if len(s.Reasons) > 0 {
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, "BLOCKING REASONS:")
		for _, rc := range s.Reasons {
			fmt.Fprintf(&b, "  - %dx: %s\n", rc.Count, rc.Reason)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// Approved returns the approved verdicts, keeping their order. Interactive
// selection indexes into this slice, starting at 1.
func Approved(verdicts []*engine.Verdict) []*engine.Verdict {
	var out []*engine.Verdict
	for _, v := range verdicts {
		if v.Outcome == engine.OutcomeApproved {
			out = append(out, v)
		}
	}
	return out
}

// WriteListing renders the approved, blocked and failed orders.
func WriteListing(w io.Writer, verdicts []*engine.Verdict) error {
	var approved, blocked, failed []*engine.Verdict
	for _, v := range verdicts {
		switch v.Outcome {
		case engine.OutcomeApproved:
			approved = append(approved, v)
		case engine.OutcomeDenied:
			blocked = append(blocked, v)
		default:
			failed = append(failed, v)
		}
	}

	var b strings.Builder
	if len(approved) > 0 {
		fmt.Fprintln(&b, rule)
		fmt.Fprintln(&b, "ORDERS APPROVED FOR RESEND")
		fmt.Fprintln(&b, rule)
		for i, v := range approved {
			fmt.Fprintf(&b, "\n%d. Order ID: %s\n", i+1, v.OrderID)
			fmt.Fprintf(&b, "   Status: %s\n", v.OrderStatus)
			fmt.Fprintf(&b, "   Reason: %s\n", v.Reason)
			if v.RevenueModel != "" {
				fmt.Fprintf(&b, "   Revenue Model: %s\n", v.RevenueModel)
			}
			if v.PaymentMethod != "" {
				fmt.Fprintf(&b, "   Payment: %s ($%s)\n", v.PaymentMethod, amount(v))
			}
			if v.V041Waived {
				fmt.Fprintf(&b, "   V041 ignored (credit memo on canceled order %s)\n", v.CreditMemoOrderID)
			}
		}
		fmt.Fprintf(&b, "\n%s\nTotal approved: %d\n%s\n", rule, len(approved), rule)
	} else {
		fmt.Fprintln(&b, "No orders approved for resend")
	}

	if len(blocked) > 0 {
		fmt.Fprintf(&b, "\n%s\nBLOCKED ORDERS\n%s\n", rule, rule)
		for _, v := range blocked {
			fmt.Fprintf(&b, "\n  - %s\n", v.OrderID)
			fmt.Fprintf(&b, "    Reason: %s\n", v.Reason)
			fmt.Fprintf(&b, "    Step: %s\n", v.Step)
			if v.RevenueModel != "" {
				fmt.Fprintf(&b, "    Revenue Model: %s\n", v.RevenueModel)
			}
		}
		fmt.Fprintf(&b, "\n%s\n", rule)
	}

	if len(failed) > 0 {
		fmt.Fprintf(&b, "\n%s\nNOT EVALUATED\n%s\n", rule, rule)
		for _, v := range failed {
			fmt.Fprintf(&b, "\n  - %s (%s)\n", v.OrderID, v.Outcome)
			fmt.Fprintf(&b, "    Reason: %s\n", v.Reason)
			fmt.Fprintf(&b, "    Step: %s\n", v.Step)
			if v.Error != "" {
				fmt.Fprintf(&b, "    Error: %s\n", v.Error)
			}
		}
		fmt.Fprintf(&b, "\n%s\n", rule)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func amount(v *engine.Verdict) string {
	if v.TotalCharged == "" {
		return "0"
	}
	return v.TotalCharged.String()
}
