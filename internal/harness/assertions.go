package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/resendgate/internal/gateway"
	"github.com/roach88/resendgate/internal/report"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
	Verdicts []string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Verdicts) > 0 {
		fmt.Fprintf(&buf, "\nVerdicts:\n")
		for i, line := range e.Verdicts {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, line)
		}
	}
	return buf.String()
}

// AssertionContext carries what assertions need beyond the result.
type AssertionContext struct {
	Harness  *Harness
	Scenario *Scenario
	Gateway  *gateway.FixtureGateway
	RunID    string
	Ctx      context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertCalls:
			err = assertCalls(result, actx.Gateway, assertion)
		case AssertSummary:
			err = assertSummary(result, assertion)
		case AssertSubmitted:
			err = assertSubmitted(result, actx.Gateway, assertion)
		case AssertIdempotent:
			err = assertIdempotent(result, actx)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}

func assertCalls(result *Result, gw *gateway.FixtureGateway, a Assertion) error {
	if got := gw.Calls(a.Method); got != a.Count {
		return &AssertionError{
			Type:     AssertCalls,
			Expected: fmt.Sprintf("%s called %d time(s)", a.Method, a.Count),
			Actual:   fmt.Sprintf("%s called %d time(s)", a.Method, got),
			Verdicts: describe(result),
		}
	}
	return nil
}

func assertSummary(result *Result, a Assertion) error {
	actual := map[string]int{
		"total":        result.Summary.Total,
		"approved":     result.Summary.Approved,
		"denied":       result.Summary.Denied,
		"query_failed": result.Summary.QueryFailed,
		"faults":       result.Summary.Faults,
	}
	var mismatches []string
	for k, want := range a.Expect {
		if actual[k] != want {
			mismatches = append(mismatches, fmt.Sprintf("%s=%d (want %d)", k, actual[k], want))
		}
	}
	if len(mismatches) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertSummary,
		Expected: fmt.Sprintf("%v", a.Expect),
		Actual:   strings.Join(mismatches, ", "),
		Verdicts: describe(result),
	}
}

func assertSubmitted(result *Result, gw *gateway.FixtureGateway, a Assertion) error {
	got := gw.Submitted()
	if len(got) == 0 && len(a.Orders) == 0 {
		return nil
	}
	if !reflect.DeepEqual(got, a.Orders) {
		return &AssertionError{
			Type:     AssertSubmitted,
			Expected: fmt.Sprintf("%v", a.Orders),
			Actual:   fmt.Sprintf("%v", got),
			Verdicts: describe(result),
		}
	}
	return nil
}

// assertIdempotent evaluates the snapshot a second time through a fresh
// gateway and requires every verdict fingerprint to match the first run.
func assertIdempotent(result *Result, actx *AssertionContext) error {
	h := actx.Harness
	again := &Result{}
	gw := gateway.NewFixtureGateway(&actx.Scenario.Snapshot)
	again.Verdicts = h.evaluate(actx.Ctx, actx.Scenario, gw)
	again.Summary = report.Summarize(again.Verdicts)

	runID, err := h.record(actx.Ctx, again.Summary, again.Records())
	if err != nil {
		return err
	}
	n, err := h.store.Unchanged(actx.Ctx, runID)
	if err != nil {
		return err
	}
	if n != len(result.Verdicts) {
		return &AssertionError{
			Type:     AssertIdempotent,
			Expected: fmt.Sprintf("%d unchanged verdict(s)", len(result.Verdicts)),
			Actual:   fmt.Sprintf("%d unchanged verdict(s)", n),
			Verdicts: describe(again),
		}
	}
	return nil
}

// describe renders one line per verdict for failure messages.
func describe(result *Result) []string {
	lines := make([]string, 0, len(result.Verdicts))
	for _, v := range result.Verdicts {
		if v == nil {
			lines = append(lines, "<missing>")
			continue
		}
		lines = append(lines, fmt.Sprintf("%s %s [%s] %s", v.OrderID, v.Outcome, v.Step, v.Reason))
	}
	return lines
}

// valuesEqual compares a decoded JSON value with a YAML expectation.
// Scalars compare by their printed form so 150.50 matches "150.50".
func valuesEqual(actual, expected any) bool {
	if actual == nil || expected == nil {
		return actual == nil && expected == nil
	}

	switch exp := expected.(type) {
	case []any:
		act, ok := actual.([]any)
		if !ok || len(act) != len(exp) {
			return false
		}
		for i := range exp {
			if !valuesEqual(act[i], exp[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok || len(act) != len(exp) {
			return false
		}
		for k, v := range exp {
			if !valuesEqual(act[k], v) {
				return false
			}
		}
		return true
	}

	if n, ok := actual.(json.Number); ok {
		return n.String() == fmt.Sprint(expected)
	}
	return fmt.Sprint(actual) == fmt.Sprint(expected)
}

// isZero reports whether an expectation is satisfied by an omitted field.
func isZero(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case bool:
		return !val
	case int:
		return val == 0
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	}
	return false
}
