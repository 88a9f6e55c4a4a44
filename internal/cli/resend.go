package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/resendgate/internal/engine"
	"github.com/roach88/resendgate/internal/report"
	"github.com/roach88/resendgate/internal/resend"
	"github.com/roach88/resendgate/internal/store"
)

// ResendOptions holds flags for the resend command.
type ResendOptions struct {
	*RootOptions
	From      string
	Orders    []string
	Yes       bool
	OutputDir string
	Timeout   time.Duration
	DB        string
	Run       string
	Fixtures  string

	// In answers the confirmation prompt. Defaults to the command's stdin.
	In io.Reader
	// Now stamps the log file. Defaults to time.Now.
	Now func() time.Time
}

// ResendReport is the JSON payload of the resend command.
type ResendReport struct {
	ResultsPath string          `json:"results_path"`
	Skipped     []string        `json:"skipped,omitempty"`
	Results     []resend.Result `json:"results"`
}

// NewResendCommand creates the resend command.
func NewResendCommand(rootOpts *RootOptions) *cobra.Command {
	return resendCommand(&ResendOptions{RootOptions: rootOpts})
}

func resendCommand(opts *ResendOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resend",
		Short: "Resend approved orders from a results file",
		Long: `Resend the approved orders recorded in a results file written by check.

Only orders the gate approved are sent. Orders already resent successfully
are skipped. The results file is rewritten with the new resend outcomes and,
with --db, the outcomes are recorded against the stored run.

Exit codes:
  0   - Every resend succeeded (or nothing to send)
  1   - One or more resends failed
  2   - Command error (unreadable results file, invalid configuration)
  130 - Interrupted

Examples:
  resendgate resend --from ./output/validation_results_20260101_120000.jsonl
  resendgate resend --from results.jsonl --order 6001 --order 6003 --yes
  resendgate resend --from results.jsonl --yes --db ./output/runs.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResend(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.From, "from", "", "results file written by check (required)")
	cmd.Flags().StringArrayVar(&opts.Orders, "order", nil, "resend only this order id (repeatable)")
	cmd.Flags().BoolVarP(&opts.Yes, "yes", "y", false, "do not ask for confirmation")
	cmd.Flags().StringVar(&opts.OutputDir, "output-dir", "./output", "directory for logs")
	cmd.Flags().DurationVarP(&opts.Timeout, "timeout", "t", 10*time.Second, "per-request timeout")
	cmd.Flags().StringVar(&opts.DB, "db", "", "SQLite run store to record outcomes in (optional)")
	cmd.Flags().StringVar(&opts.Run, "run", "", "stored run the results belong to (default latest)")
	cmd.Flags().StringVar(&opts.Fixtures, "fixtures", "", "send to a YAML snapshot instead of the live services")
	_ = cmd.MarkFlagRequired("from")

	return cmd
}

func runResend(opts *ResendOptions, cmd *cobra.Command) error {
	now := time.Now()
	if opts.Now != nil {
		now = opts.Now()
	}

	sess, err := openSession(opts.RootOptions, cmd, true, now)
	if err != nil {
		return err
	}
	defer sess.Close()
	cfg, log, out := sess.cfg, sess.log, sess.out

	records, err := report.LoadJSONL(opts.From)
	if err != nil {
		return out.Fail(ExitCommandError, CodeResults, "failed to read results file", err)
	}

	ids, skipped := resendable(records, opts.Orders)
	for _, s := range skipped {
		log.Warn("order not resendable", zap.String("order_id", s))
	}
	if len(ids) == 0 {
		return out.Render("", ResendReport{ResultsPath: opts.From, Skipped: skipped, Results: []resend.Result{}}, func(w io.Writer) error {
			_, err := fmt.Fprintln(w, "Nothing to resend.")
			return err
		})
	}

	if !opts.Yes {
		if out.JSON() {
			return out.Fail(ExitCommandError, CodeConfig, "--yes is required with --format json", nil)
		}
		in := opts.In
		if in == nil {
			in = cmd.InOrStdin()
		}
		fmt.Fprintf(out.Writer, "Orders to resend: %d\n", len(ids))
		ok, err := newPrompter(in, out.Writer).confirm(fmt.Sprintf("Confirm resend of %d order(s)? (Y/N): ", len(ids)))
		if err != nil || !ok {
			fmt.Fprintln(out.Writer, "Resend canceled.")
			return nil
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, err := sess.connect(ctx)
	if err != nil {
		return err
	}

	var progress io.Writer = io.Discard
	if !out.JSON() {
		progress = out.Writer
	}
	results := resend.NewSender(gw, log.Logger, progress).Send(ctx, ids)
	resend.Apply(records, results)

	if err := report.SaveJSONL(opts.From, records); err != nil {
		return out.Fail(ExitCommandError, CodeResults, "failed to update results file", err)
	}

	runID := ""
	if cfg.Paths.DB != "" {
		runID, err = recordResends(context.WithoutCancel(ctx), cfg.Paths.DB, opts.Run, results, log.Logger)
		if err != nil {
			return out.Fail(ExitCommandError, CodeStore, "failed to record resends", err)
		}
	}

	err = out.Render(runID, ResendReport{ResultsPath: opts.From, Skipped: skipped, Results: results}, func(w io.Writer) error {
		fmt.Fprintf(w, "\n%s\n", rule)
		if err := resend.WriteSummary(w, results); err != nil {
			return err
		}
		_, err := fmt.Fprintln(w, rule)
		return err
	})
	if err != nil {
		return err
	}

	if ctx.Err() != nil {
		return NewExitError(ExitInterrupted, "resend interrupted")
	}
	var failed int
	for _, r := range results {
		if !r.OK() {
			failed++
		}
	}
	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d resend(s) failed", failed))
	}
	return nil
}

// resendable picks the approved orders that have not been resent
// successfully yet. When only is non-empty, the pick is limited to those ids
// and any of them that cannot be resent is reported as skipped.
func resendable(records []report.Record, only []string) (ids, skipped []string) {
	eligible := make(map[string]bool)
	var ordered []string
	for _, r := range records {
		v := r.Verdict
		if v.Outcome != engine.OutcomeApproved || !v.CanResend || r.ResendStatus == report.ResendSuccess {
			continue
		}
		if !eligible[v.OrderID] {
			eligible[v.OrderID] = true
			ordered = append(ordered, v.OrderID)
		}
	}

	if len(only) == 0 {
		return ordered, nil
	}

	seen := make(map[string]bool)
	for _, id := range only {
		if seen[id] {
			continue
		}
		seen[id] = true
		if eligible[id] {
			ids = append(ids, id)
		} else {
			skipped = append(skipped, id)
		}
	}
	return ids, skipped
}

// recordResends stores resend outcomes against runID, or the latest run when
// runID is empty. Orders the run does not contain are logged and skipped.
func recordResends(ctx context.Context, path, runID string, results []resend.Result, log *zap.Logger) (string, error) {
	st, err := store.Open(path)
	if err != nil {
		return "", err
	}
	defer st.Close()

	if runID == "" {
		run, err := st.LatestRun(ctx)
		if err != nil {
			return "", err
		}
		runID = run.ID
	}

	for _, r := range results {
		err := st.RecordResend(ctx, runID, r.OrderID, r.Status, r.Error)
		if errors.Is(err, store.ErrRunNotFound) {
			log.Warn("order not in stored run", zap.String("run_id", runID), zap.String("order_id", r.OrderID))
			continue
		}
		if err != nil {
			return "", err
		}
	}
	return runID, nil
}
