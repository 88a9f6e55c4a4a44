package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/resendgate/internal/report"
)

// ErrRunNotFound is returned when a run id (or any run at all) is missing.
var ErrRunNotFound = errors.New("run not found")

// startedLayout sorts lexically in time order.
const startedLayout = "2006-01-02T15:04:05.000000000Z"

// Run is the header row of one evaluation run.
type Run struct {
	ID          string         `json:"id"`
	StartedAt   time.Time      `json:"started_at"`
	Source      string         `json:"source"`
	ResultsPath string         `json:"results_path"`
	Summary     report.Summary `json:"summary"`
}

// SaveRun writes a run and its records in one transaction. Records keep
// their slice order as their position.
func (s *Store) SaveRun(ctx context.Context, run Run, records []report.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, started_at, source, results_path, total, approved, denied, query_failed, faults)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.StartedAt.UTC().Format(startedLayout),
		run.Source,
		run.ResultsPath,
		run.Summary.Total,
		run.Summary.Approved,
		run.Summary.Denied,
		run.Summary.QueryFailed,
		run.Summary.Faults,
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO verdicts
		(run_id, position, seq, order_id, outcome, can_resend, step, reason,
		 fingerprint, record, resend_status, resend_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	defer stmt.Close()

	for i, rec := range records {
		v := rec.Verdict
		fp, err := Fingerprint(v)
		if err != nil {
			return fmt.Errorf("save run %s: %w", run.ID, err)
		}
		line, err := rec.MarshalJSON()
		if err != nil {
			return fmt.Errorf("save run %s: encode %s: %w", run.ID, v.OrderID, err)
		}
		_, err = stmt.ExecContext(ctx,
			run.ID, i, v.Seq, v.OrderID, string(v.Outcome), v.CanResend,
			string(v.Step), v.Reason, fp, string(line), rec.ResendStatus, rec.ResendError,
		)
		if err != nil {
			return fmt.Errorf("save run %s: verdict %s: %w", run.ID, v.OrderID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

// RecordResend stores the resend outcome of every record of a run that
// matches orderID.
func (s *Store) RecordResend(ctx context.Context, runID, orderID, status, detail string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE verdicts SET resend_status = ?, resend_error = ?
		WHERE run_id = ? AND order_id = ?
	`, status, detail, runID, orderID)
	if err != nil {
		return fmt.Errorf("record resend %s: %w", orderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record resend %s: %w", orderID, err)
	}
	if n == 0 {
		return fmt.Errorf("record resend %s in run %s: %w", orderID, runID, ErrRunNotFound)
	}
	return nil
}

// GetRun returns the run with the given id.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, source, results_path, total, approved, denied, query_failed, faults
		FROM runs WHERE id = ?
	`, id)
	return scanRun(row)
}

// LatestRun returns the most recently started run.
func (s *Store) LatestRun(ctx context.Context) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, source, results_path, total, approved, denied, query_failed, faults
		FROM runs ORDER BY started_at DESC, id DESC LIMIT 1
	`)
	return scanRun(row)
}

// ListRuns returns every run, oldest first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, source, results_path, total, approved, denied, query_failed, faults
		FROM runs ORDER BY started_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run     Run
		started string
	)
	err := row.Scan(
		&run.ID, &started, &run.Source, &run.ResultsPath,
		&run.Summary.Total, &run.Summary.Approved, &run.Summary.Denied,
		&run.Summary.QueryFailed, &run.Summary.Faults,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrRunNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	run.StartedAt, err = time.Parse(startedLayout, started)
	if err != nil {
		return Run{}, fmt.Errorf("run %s: bad started_at %q: %w", run.ID, started, err)
	}
	return run, nil
}

// ReadRecords returns the records of a run in position order. Resend
// outcomes recorded after the run was saved are applied.
func (s *Store) ReadRecords(ctx context.Context, runID string) ([]report.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, record, resend_status, resend_error
		FROM verdicts WHERE run_id = ?
		ORDER BY position ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query verdicts: %w", err)
	}
	defer rows.Close()

	records := []report.Record{}
	for rows.Next() {
		var (
			seq    int64
			line   string
			status string
			detail string
		)
		if err := rows.Scan(&seq, &line, &status, &detail); err != nil {
			return nil, fmt.Errorf("scan verdict: %w", err)
		}
		var rec report.Record
		if err := rec.UnmarshalJSON([]byte(line)); err != nil {
			return nil, fmt.Errorf("decode verdict: %w", err)
		}
		rec.Verdict.Seq = seq
		rec.ResendStatus = status
		rec.ResendError = detail
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verdicts: %w", err)
	}
	return records, nil
}

// Unchanged counts verdicts of runID whose order already reached an
// identical verdict in an earlier run. Runs are ordered by start time, then
// id, as in ListRuns.
func (s *Store) Unchanged(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM verdicts v
		JOIN runs r ON r.id = v.run_id
		WHERE v.run_id = ?
		  AND EXISTS (
			SELECT 1 FROM verdicts p
			JOIN runs pr ON pr.id = p.run_id
			WHERE p.order_id = v.order_id
			  AND p.fingerprint = v.fingerprint
			  AND p.run_id != v.run_id
			  AND (pr.started_at < r.started_at
			       OR (pr.started_at = r.started_at AND pr.id < r.id))
		  )
	`, runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unchanged verdicts: %w", err)
	}
	return n, nil
}
