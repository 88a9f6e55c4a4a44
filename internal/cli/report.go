package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/resendgate/internal/engine"
	"github.com/roach88/resendgate/internal/report"
	"github.com/roach88/resendgate/internal/store"
)

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	*RootOptions
	DB   string
	Run  string
	List bool
}

// RunReport is the JSON payload of the report command for one run.
type RunReport struct {
	Run     store.Run       `json:"run"`
	Records []report.Record `json:"records"`
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show a stored run",
		Long: `Re-render the listing and summary of a run recorded by check --db.

Without --run the latest run is shown. --list prints every stored run.

Examples:
  resendgate report --db ./output/runs.db
  resendgate report --db ./output/runs.db --run 0190f1c2-...
  resendgate report --db ./output/runs.db --list --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "", "SQLite run store (required)")
	cmd.Flags().StringVar(&opts.Run, "run", "", "run id (default latest)")
	cmd.Flags().BoolVar(&opts.List, "list", false, "list stored runs")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runReport(opts *ReportOptions, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()

	st, err := store.Open(opts.DB)
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, "failed to open run store", err)
	}
	defer st.Close()

	if opts.List {
		runs, err := st.ListRuns(ctx)
		if err != nil {
			return out.Fail(ExitCommandError, CodeStore, "failed to list runs", err)
		}
		if runs == nil {
			runs = []store.Run{}
		}
		return out.Render("", runs, func(w io.Writer) error {
			if len(runs) == 0 {
				_, err := fmt.Fprintln(w, "No runs recorded.")
				return err
			}
			for _, r := range runs {
				fmt.Fprintf(w, "%s  %s  total=%d approved=%d denied=%d query_failed=%d faults=%d  %s\n",
					r.ID, r.StartedAt.Format("2006-01-02 15:04:05"),
					r.Summary.Total, r.Summary.Approved, r.Summary.Denied,
					r.Summary.QueryFailed, r.Summary.Faults, r.Source)
			}
			return nil
		})
	}

	var run store.Run
	if opts.Run != "" {
		run, err = st.GetRun(ctx, opts.Run)
	} else {
		run, err = st.LatestRun(ctx)
	}
	if errors.Is(err, store.ErrRunNotFound) {
		return out.Fail(ExitFailure, CodeStore, "run not found", err)
	}
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, "failed to read run", err)
	}

	records, err := st.ReadRecords(ctx, run.ID)
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, "failed to read verdicts", err)
	}

	return out.Render(run.ID, RunReport{Run: run, Records: records}, func(w io.Writer) error {
		fmt.Fprintf(w, "Run %s (%s)\nSource: %s\nResults: %s\n\n",
			run.ID, run.StartedAt.Format("2006-01-02 15:04:05"), run.Source, run.ResultsPath)
		verdicts := make([]*engine.Verdict, len(records))
		for i, r := range records {
			verdicts[i] = r.Verdict
		}
		if err := report.WriteListing(w, verdicts); err != nil {
			return err
		}
		fmt.Fprintln(w)
		if err := report.WriteSummary(w, report.Summarize(verdicts)); err != nil {
			return err
		}
		return writeResendStatus(w, records)
	})
}

// writeResendStatus lists the resend outcomes recorded for a run, if any.
func writeResendStatus(w io.Writer, records []report.Record) error {
	var sent []report.Record
	for _, r := range records {
		if r.ResendStatus != "" {
			sent = append(sent, r)
		}
	}
	if len(sent) == 0 {
		return nil
	}
	fmt.Fprintln(w, "\nRESENDS:")
	for _, r := range sent {
		if r.ResendError != "" {
			fmt.Fprintf(w, "  - %s: %s (%s)\n", r.Verdict.OrderID, r.ResendStatus, r.ResendError)
			continue
		}
		fmt.Fprintf(w, "  - %s: %s\n", r.Verdict.OrderID, r.ResendStatus)
	}
	return nil
}
