package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/resendgate/internal/engine"
	"github.com/roach88/resendgate/internal/intake"
	"github.com/roach88/resendgate/internal/report"
	"github.com/roach88/resendgate/internal/resend"
	"github.com/roach88/resendgate/internal/store"
)

// CheckOptions holds flags for the check command.
type CheckOptions struct {
	*RootOptions
	InputDir      string
	OutputDir     string
	Output        string
	Workers       int
	Timeout       time.Duration
	DB            string
	Fixtures      string
	NoInteractive bool

	// In answers the resend prompt. Defaults to the command's stdin.
	In io.Reader
	// Now stamps the run. Defaults to time.Now.
	Now func() time.Time
	// RunIDs names stored runs. Defaults to UUIDv7.
	RunIDs engine.RunIDGenerator
}

// CheckResult is the JSON payload of the check command.
type CheckResult struct {
	Summary     report.Summary  `json:"summary"`
	ResultsPath string          `json:"results_path"`
	LogPath     string          `json:"log_path,omitempty"`
	Unchanged   int             `json:"unchanged,omitempty"`
	Records     []report.Record `json:"records"`
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return checkCommand(&CheckOptions{RootOptions: rootOpts})
}

func checkCommand(opts *CheckOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate order ids from CSV files",
		Long: `Evaluate every order id listed in the CSV files of the input directory.

Each order is checked for cancellation, V041 errors and its revenue model.
Approved orders are listed and, unless --no-interactive is set, can be
resent from a menu. Results are written as JSON lines to the output
directory and, with --db, recorded in a run store.

Exit codes:
  0   - Run completed
  1   - No input, or authentication refused
  2   - Command error (invalid configuration, unreadable files)
  130 - Interrupted

Examples:
  resendgate check
  resendgate check --input-dir ./batch --workers 20
  resendgate check --no-interactive --db ./output/runs.db
  resendgate check --fixtures ./snapshot.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.InputDir, "input-dir", "i", "./input", "directory of CSV files to evaluate")
	cmd.Flags().StringVar(&opts.OutputDir, "output-dir", "./output", "directory for logs and results")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "results file name, written in the output directory")
	cmd.Flags().IntVarP(&opts.Workers, "workers", "w", engine.DefaultWorkers, "concurrent evaluations")
	cmd.Flags().DurationVarP(&opts.Timeout, "timeout", "t", 10*time.Second, "per-request timeout")
	cmd.Flags().StringVar(&opts.DB, "db", "", "SQLite run store (optional)")
	cmd.Flags().StringVar(&opts.Fixtures, "fixtures", "", "evaluate against a YAML snapshot instead of the live services")
	cmd.Flags().BoolVar(&opts.NoInteractive, "no-interactive", false, "skip the resend menu")

	return cmd
}

func runCheck(opts *CheckOptions, cmd *cobra.Command) error {
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

	log.Info("starting validation",
		zap.String("input", cfg.Paths.InputDir),
		zap.String("output", cfg.Paths.OutputDir),
		zap.Int("workers", cfg.Batch.Workers),
		zap.Duration("timeout", cfg.HTTP.Timeout),
	)

	jobs, err := readJobs(cfg.Paths.InputDir, log.Logger)
	if err != nil {
		return out.Fail(ExitCommandError, CodeInput, "failed to read input", err)
	}
	if len(jobs) == 0 {
		return out.Fail(ExitFailure, CodeInput, fmt.Sprintf("no order ids found in %s", cfg.Paths.InputDir), nil)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, err := sess.connect(ctx)
	if err != nil {
		return err
	}

	var done int
	batch := engine.NewBatch(
		engine.NewEvaluator(gw, engine.WithLogger(log.Logger)),
		engine.WithWorkers(cfg.Batch.Workers),
		engine.WithBatchLogger(log.Logger),
		engine.WithResultHook(func(v *engine.Verdict) {
			done++
			out.VerboseLog("[%d/%d] %s: %s", done, len(jobs), v.OrderID, v.Outcome)
		}),
	)
	verdicts := engine.InJobOrder(jobs, batch.Run(ctx, jobs))
	interrupted := ctx.Err() != nil

	summary := report.Summarize(verdicts)
	records := report.Records(verdicts)
	log.Info("validation finished",
		zap.Int("total", summary.Total),
		zap.Int("approved", summary.Approved),
		zap.Int("denied", summary.Denied),
		zap.Int("query_failed", summary.QueryFailed),
		zap.Int("faults", summary.Faults),
	)

	if !out.JSON() {
		if err := report.WriteListing(out.Writer, verdicts); err != nil {
			return err
		}
		fmt.Fprintln(out.Writer)
		if err := report.WriteSummary(out.Writer, summary); err != nil {
			return err
		}

		approved := report.Approved(verdicts)
		if len(approved) > 0 && !opts.NoInteractive && !interrupted {
			in := opts.In
			if in == nil {
				in = cmd.InOrStdin()
			}
			chosen := selectResends(newPrompter(in, out.Writer), approved)
			if len(chosen) > 0 {
				ids := make([]string, len(chosen))
				for i, v := range chosen {
					ids[i] = v.OrderID
				}
				fmt.Fprintf(out.Writer, "\n%s\nRESEND\n%s\n", rule, rule)
				results := resend.NewSender(gw, log.Logger, out.Writer).Send(ctx, ids)
				resend.Apply(records, results)
				fmt.Fprintf(out.Writer, "\n%s\n", rule)
				if err := resend.WriteSummary(out.Writer, results); err != nil {
					return err
				}
				fmt.Fprintln(out.Writer, rule)
			}
		}
	}

	resultsPath := resultsPath(cfg.Paths.OutputDir, cfg.Paths.Output, now)
	if err := report.SaveJSONL(resultsPath, records); err != nil {
		return out.Fail(ExitCommandError, CodeResults, "failed to save results", err)
	}
	log.Info("results saved", zap.String("path", resultsPath))

	result := CheckResult{
		Summary:     summary,
		ResultsPath: resultsPath,
		LogPath:     log.FilePath,
		Records:     records,
	}

	runID := ""
	if cfg.Paths.DB != "" {
		runIDs := opts.RunIDs
		if runIDs == nil {
			runIDs = engine.UUIDv7Generator{}
		}
		runID = runIDs.Generate()
		unchanged, err := saveRun(context.WithoutCancel(ctx), cfg.Paths.DB, store.Run{
			ID:          runID,
			StartedAt:   now,
			Source:      cfg.Paths.InputDir,
			ResultsPath: resultsPath,
			Summary:     summary,
		}, records)
		if err != nil {
			return out.Fail(ExitCommandError, CodeStore, "failed to record run", err)
		}
		result.Unchanged = unchanged
		log.Info("run recorded",
			zap.String("run_id", runID),
			zap.Int("unchanged", unchanged),
		)
	}

	err = out.Render(runID, result, func(w io.Writer) error {
		fmt.Fprintf(w, "\nResults saved to: %s\n", resultsPath)
		if log.FilePath != "" {
			fmt.Fprintf(w, "Log saved to: %s\n", log.FilePath)
		}
		if runID != "" {
			fmt.Fprintf(w, "Run recorded: %s (%d unchanged since earlier runs)\n", runID, result.Unchanged)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if interrupted {
		log.Warn("processing interrupted")
		return NewExitError(ExitInterrupted, "processing interrupted")
	}
	return nil
}

// readJobs collects the jobs of every CSV file in dir, in file order. A file
// that cannot be parsed is logged and skipped.
func readJobs(dir string, log *zap.Logger) ([]engine.Job, error) {
	files, err := intake.FindCSVFiles(dir)
	if err != nil {
		return nil, err
	}
	log.Info("csv files found", zap.Int("count", len(files)))

	var jobs []engine.Job
	for _, file := range files {
		fileJobs, err := intake.ReadFile(file)
		if err != nil {
			log.Error("skipping file", zap.String("file", filepath.Base(file)), zap.Error(err))
			continue
		}
		log.Info("file loaded", zap.String("file", filepath.Base(file)), zap.Int("orders", len(fileJobs)))
		jobs = append(jobs, fileJobs...)
	}
	return jobs, nil
}

// resultsPath places the results file in outputDir. Only the base name of
// an explicit output is kept.
func resultsPath(outputDir, output string, now time.Time) string {
	name := report.ResultsFileName(now)
	if output != "" {
		name = filepath.Base(output)
	}
	return filepath.Join(outputDir, name)
}

// saveRun records the run and returns how many of its verdicts are identical
// to ones recorded by earlier runs.
func saveRun(ctx context.Context, path string, run store.Run, records []report.Record) (int, error) {
	st, err := store.Open(path)
	if err != nil {
		return 0, err
	}
	defer st.Close()

	if err := st.SaveRun(ctx, run, records); err != nil {
		return 0, err
	}
	return st.Unchanged(ctx, run.ID)
}
