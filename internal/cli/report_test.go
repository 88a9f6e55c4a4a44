package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/resendgate/internal/store"
)

func TestReport_LatestRun(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "runs.db")
	checkedResults(t, dir, "--db", db)

	cmd := NewReportCommand(&RootOptions{Format: "text"})
	o := capture(cmd, "")
	cmd.SetArgs([]string{"--db", db})
	require.NoError(t, cmd.Execute(), o.err.String())

	out := o.out.String()
	assert.Contains(t, out, "Run run-1 (2026-03-14 09:30:00)")
	assert.Contains(t, out, "Source: "+testInput)
	assert.Contains(t, out, "1. Order ID: 6001")
	assert.Contains(t, out, "Approved for resend: 2")
	assert.Contains(t, out, "BLOCKING REASONS:")
	assert.Contains(t, out, "  - 1x: Error detected: E200 - E200: metadata rejected")
	assert.NotContains(t, out, "RESENDS:")
}

func TestReport_ShowsResends(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "runs.db")
	results := checkedResults(t, dir, "--db", db)

	resendCmd := newTestResendCommand("text")
	capture(resendCmd, "")
	resendCmd.SetArgs([]string{"--from", results, "--yes", "--fixtures", testSnapshot, "--output-dir", dir, "--db", db})
	_ = resendCmd.Execute()

	cmd := NewReportCommand(&RootOptions{Format: "text"})
	o := capture(cmd, "")
	cmd.SetArgs([]string{"--db", db, "--run", "run-1"})
	require.NoError(t, cmd.Execute(), o.err.String())

	assert.Contains(t, o.out.String(), "RESENDS:")
	assert.Contains(t, o.out.String(), "  - 6001: success")
	assert.Contains(t, o.out.String(), "  - 6005: failed (order locked)")
}

func TestReport_JSON(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "runs.db")
	checkedResults(t, dir, "--db", db)

	cmd := NewReportCommand(&RootOptions{Format: "json"})
	o := capture(cmd, "")
	cmd.SetArgs([]string{"--db", db})
	require.NoError(t, cmd.Execute())

	var payload RunReport
	resp := decodeResponse(t, o.out.Bytes(), &payload)
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, "run-1", payload.Run.ID)
	assert.Equal(t, 3, payload.Run.Summary.Total)
	require.Len(t, payload.Records, 3)
	assert.Equal(t, "6001", payload.Records[0].Verdict.OrderID)
}

func TestReport_List(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "runs.db")
	checkedResults(t, dir, "--db", db)

	cmd := NewReportCommand(&RootOptions{Format: "json"})
	o := capture(cmd, "")
	cmd.SetArgs([]string{"--db", db, "--list"})
	require.NoError(t, cmd.Execute())

	var runs []store.Run
	decodeResponse(t, o.out.Bytes(), &runs)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
	assert.Equal(t, testNow, runs[0].StartedAt)
}

func TestReport_ListEmpty(t *testing.T) {
	cmd := NewReportCommand(&RootOptions{Format: "text"})
	o := capture(cmd, "")
	cmd.SetArgs([]string{"--db", filepath.Join(t.TempDir(), "runs.db"), "--list"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, o.out.String(), "No runs recorded.")
}

func TestReport_UnknownRun(t *testing.T) {
	cmd := NewReportCommand(&RootOptions{Format: "text"})
	o := capture(cmd, "")
	cmd.SetArgs([]string{"--db", filepath.Join(t.TempDir(), "runs.db"), "--run", "nope"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.ErrorIs(t, err, store.ErrRunNotFound)
	assert.Contains(t, o.err.String(), "run not found")
}
