package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/resendgate/internal/engine"
	"github.com/roach88/resendgate/internal/report"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "runs.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		if err := s.verifyPragma("user_version", "1"); err != nil {
			t.Error(err)
		}
		s.Close()
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	// A regular file cannot be a parent directory.
	parent := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(parent, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Open(filepath.Join(parent, "test.db")); err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		name     string
		expected string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"}, // NORMAL
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.verifyPragma(tt.name, tt.expected); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestSaveRun_ReadBack(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	records := recordsOf(approvedVerdict("1001", 2), deniedVerdict("1002", 1))
	run := Run{
		ID:          "run-1",
		StartedAt:   started,
		Source:      "./input",
		ResultsPath: "output/validation_results_20260301_093000.jsonl",
		Summary:     report.Summarize([]*engine.Verdict{records[0].Verdict, records[1].Verdict}),
	}
	if err := s.SaveRun(ctx, run, records); err != nil {
		t.Fatalf("SaveRun() failed: %v", err)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() failed: %v", err)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
	}
	if got.Summary.Total != 2 || got.Summary.Approved != 1 || got.Summary.Denied != 1 {
		t.Errorf("Summary = %+v", got.Summary)
	}
	if got.ResultsPath != run.ResultsPath || got.Source != "./input" {
		t.Errorf("run = %+v", got)
	}

	read, err := s.ReadRecords(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadRecords() failed: %v", err)
	}
	if len(read) != 2 {
		t.Fatalf("ReadRecords() returned %d records, want 2", len(read))
	}
	if read[0].Verdict.OrderID != "1001" || read[1].Verdict.OrderID != "1002" {
		t.Errorf("records out of position order: %s, %s", read[0].Verdict.OrderID, read[1].Verdict.OrderID)
	}
	if read[0].Verdict.Seq != 2 {
		t.Errorf("Seq = %d, want 2", read[0].Verdict.Seq)
	}
	if !read[0].Verdict.CanResend || read[0].Verdict.Reason != records[0].Verdict.Reason {
		t.Errorf("verdict not restored: %+v", read[0].Verdict)
	}
	if len(read[0].Verdict.Context) != 2 || read[0].Verdict.Context[0].Key != "file" {
		t.Errorf("context not restored: %+v", read[0].Verdict.Context)
	}
}

func TestSaveRun_DuplicateID(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	run := Run{ID: "run-1", StartedAt: time.Now(), Source: "x"}

	if err := s.SaveRun(ctx, run, recordsOf(deniedVerdict("1", 1))); err != nil {
		t.Fatalf("SaveRun() failed: %v", err)
	}
	if err := s.SaveRun(ctx, run, recordsOf(deniedVerdict("2", 1))); err == nil {
		t.Fatal("expected error for duplicate run id")
	}

	// The failed transaction must not leave verdict rows behind.
	read, err := s.ReadRecords(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(read) != 1 || read[0].Verdict.OrderID != "1" {
		t.Errorf("unexpected records after failed save: %+v", read)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.GetRun(context.Background(), "missing")
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun() error = %v, want ErrRunNotFound", err)
	}
	_, err = s.LatestRun(context.Background())
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("LatestRun() error = %v, want ErrRunNotFound", err)
	}
}

func TestLatestRun_AndList(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"b", "a", "c"} {
		run := Run{ID: id, StartedAt: base.Add(time.Duration(i) * time.Minute), Source: "in"}
		if err := s.SaveRun(ctx, run, nil); err != nil {
			t.Fatalf("SaveRun(%s) failed: %v", id, err)
		}
	}

	latest, err := s.LatestRun(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if latest.ID != "c" {
		t.Errorf("LatestRun() = %s, want c", latest.ID)
	}

	runs, err := s.ListRuns(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	if len(ids) != 3 || ids[0] != "b" || ids[1] != "a" || ids[2] != "c" {
		t.Errorf("ListRuns() = %v, want [b a c]", ids)
	}
}

func TestRecordResend(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	run := Run{ID: "run-1", StartedAt: time.Now(), Source: "in"}
	if err := s.SaveRun(ctx, run, recordsOf(approvedVerdict("1001", 1))); err != nil {
		t.Fatal(err)
	}

	if err := s.RecordResend(ctx, "run-1", "1001", report.ResendFailed, "HTTP 500"); err != nil {
		t.Fatalf("RecordResend() failed: %v", err)
	}
	read, err := s.ReadRecords(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if read[0].ResendStatus != report.ResendFailed || read[0].ResendError != "HTTP 500" {
		t.Errorf("resend outcome = %q/%q", read[0].ResendStatus, read[0].ResendError)
	}

	err = s.RecordResend(ctx, "run-1", "9999", report.ResendSuccess, "")
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("RecordResend() unknown order error = %v, want ErrRunNotFound", err)
	}
}

func TestUnchanged(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	first := recordsOf(approvedVerdict("1001", 1), deniedVerdict("1002", 2))
	if err := s.SaveRun(ctx, Run{ID: "r1", StartedAt: base, Source: "in"}, first); err != nil {
		t.Fatal(err)
	}

	// 1001 is identical apart from its context; 1002 reached a different verdict.
	again := approvedVerdict("1001", 5)
	again.Context = []engine.Field{{Key: "file", Value: "other.csv"}}
	changed := deniedVerdict("1002", 6)
	changed.Reason = "Other error detected: E100"
	second := recordsOf(again, changed)
	if err := s.SaveRun(ctx, Run{ID: "r2", StartedAt: base.Add(time.Hour), Source: "in"}, second); err != nil {
		t.Fatal(err)
	}

	n, err := s.Unchanged(ctx, "r2")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Unchanged(r2) = %d, want 1", n)
	}

	n, err = s.Unchanged(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("Unchanged(r1) = %d, want 0", n)
	}
}

func TestUnchanged_SameStartTime(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	records := recordsOf(approvedVerdict("1001", 1), deniedVerdict("1002", 2))
	if err := s.SaveRun(ctx, Run{ID: "r1", StartedAt: at, Source: "in"}, records); err != nil {
		t.Fatal(err)
	}
	again := recordsOf(approvedVerdict("1001", 7), deniedVerdict("1002", 8))
	if err := s.SaveRun(ctx, Run{ID: "r2", StartedAt: at, Source: "in"}, again); err != nil {
		t.Fatal(err)
	}

	// Ties on start time fall back to run id, so r1 precedes r2 and not the
	// other way round.
	n, err := s.Unchanged(ctx, "r2")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("Unchanged(r2) = %d, want 2", n)
	}

	n, err = s.Unchanged(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("Unchanged(r1) = %d, want 0", n)
	}
}
