package harness

import (
	"bytes"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/resendgate/internal/report"
)

// RunWithGolden executes a scenario, fails the test on any broken
// expectation, and compares the results file it would write against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(scenario, opts...)
	if err != nil {
		return nil, err
	}
	for _, msg := range result.Errors {
		t.Errorf("%s: %s", scenario.Name, msg)
	}

	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return result, err
	}
	return result, nil
}

// AssertGolden compares a result's records, rendered as JSON lines, against
// a golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := Render(result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}

// Render returns the results file a run would write: one JSON line per
// verdict, in scenario order, with resend outcomes.
func Render(result *Result) ([]byte, error) {
	var buf bytes.Buffer
	if err := report.WriteJSONL(&buf, result.Records()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
