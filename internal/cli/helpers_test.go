package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/resendgate/internal/report"
)

const (
	testInput    = "testdata/input"
	testSnapshot = "testdata/snapshot.yaml"
)

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

// cmdOutput captures what a command wrote.
type cmdOutput struct {
	out *bytes.Buffer
	err *bytes.Buffer
}

func capture(cmd *cobra.Command, stdin string) cmdOutput {
	o := cmdOutput{out: &bytes.Buffer{}, err: &bytes.Buffer{}}
	cmd.SetOut(o.out)
	cmd.SetErr(o.err)
	cmd.SetIn(strings.NewReader(stdin))
	return o
}

// clearCredentials keeps the developer's environment out of the tests.
func clearCredentials(t *testing.T) {
	t.Helper()
	for _, key := range []string{"WPP_AUTH_USER", "WPP_AUTH_PASS", "RESENDGATE_AUTH_USER", "RESENDGATE_AUTH_PASS"} {
		t.Setenv(key, "")
	}
}

// checkArgs evaluates the test input against the fixture snapshot.
func checkArgs(outputDir string, extra ...string) []string {
	args := []string{
		"--input-dir", testInput,
		"--output-dir", outputDir,
		"--output", "results.jsonl",
		"--fixtures", testSnapshot,
	}
	return append(args, extra...)
}

func newTestCheckCommand(format string) *cobra.Command {
	opts := &CheckOptions{
		RootOptions: &RootOptions{Format: format},
		Now:         func() time.Time { return testNow },
	}
	return checkCommand(opts)
}

func loadResults(t *testing.T, path string) []report.Record {
	t.Helper()
	records, err := report.LoadJSONL(path)
	require.NoError(t, err)
	return records
}

func recordFor(t *testing.T, records []report.Record, orderID string) report.Record {
	t.Helper()
	for _, r := range records {
		if r.Verdict.OrderID == orderID {
			return r
		}
	}
	t.Fatalf("no record for order %s", orderID)
	return report.Record{}
}

func decodeResponse(t *testing.T, data []byte, payload any) CLIResponse {
	t.Helper()
	var raw struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  *CLIError       `json:"error"`
		RunID  string          `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal(data, &raw), string(data))
	if payload != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, payload))
	}
	return CLIResponse{Status: raw.Status, Error: raw.Error, RunID: raw.RunID}
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "resendgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func httpConfig(baseURL string) string {
	return fmt.Sprintf(`endpoints:
  order_url: %[1]s/orders/{order_id}
  product_url: %[1]s/products/{article_id}
  orders_url: %[1]s/orders
  resend_url: %[1]s/resend
  auth_url: %[1]s/authenticate
auth:
  user: operator
  pass: secret
http:
  max_retries: 0
`, baseURL)
}
