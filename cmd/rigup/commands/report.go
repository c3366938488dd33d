package commands

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openrig/rigup/pkg/stores"
)

func newReportCommand() *cobra.Command {
	var (
		dbPath string
		runID  string
		latest bool
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show past provisioning runs from the ledger",
		Long: `Show runs recorded by previous applies. Without flags, lists the
most recent runs. With --run or --latest, prints every step outcome of
a single run.`,
		Example: `  # List recent runs
  rigup report

  # Show the last run in detail
  rigup report --latest

  # Show a specific run
  rigup report --run 8f14e45f-ceea-4e17-9a4b-7c1f1e94b0ab`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			ledger, err := stores.NewLedger(stores.Config{Path: dbPath})
			if err != nil {
				return err
			}
			if err := ledger.Init(ctx); err != nil {
				return err
			}
			defer ledger.Close()

			out := cmd.OutOrStdout()

			switch {
			case runID != "":
				run, outcomes, err := ledger.GetRun(ctx, runID)
				if err != nil {
					return err
				}
				printRun(out, run, outcomes)
			case latest:
				run, outcomes, err := ledger.LatestRun(ctx)
				if err != nil {
					return err
				}
				printRun(out, run, outcomes)
			default:
				runs, err := ledger.ListRuns(ctx, limit)
				if err != nil {
					return err
				}
				if len(runs) == 0 {
					fmt.Fprintln(out, "no runs recorded")
					return nil
				}
				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "RUN\tPROFILE\tSTATE\tSTARTED")
				for _, r := range runs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
						r.RunID, r.Profile, r.State,
						r.StartedAt.Format(time.RFC3339))
				}
				return w.Flush()
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", defaultDBPath, "run ledger database path")
	cmd.Flags().StringVar(&runID, "run", "", "show a single run by ID")
	cmd.Flags().BoolVar(&latest, "latest", false, "show the most recent run")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")

	return cmd
}

func printRun(out io.Writer, run *stores.RunRecord, outcomes []stores.OutcomeRecord) {
	fmt.Fprintf(out, "run %s\n", run.RunID)
	fmt.Fprintf(out, "  profile: %s\n", run.Profile)
	fmt.Fprintf(out, "  state:   %s\n", run.State)
	if run.AbortedStage >= 0 {
		fmt.Fprintf(out, "  aborted: stage index %d\n", run.AbortedStage)
	}
	fmt.Fprintf(out, "  started: %s\n", run.StartedAt.Format(time.RFC3339))
	if run.CompletedAt != nil {
		fmt.Fprintf(out, "  ended:   %s\n", run.CompletedAt.Format(time.RFC3339))
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\nSTAGE\tSTEP\tSTATUS\tDURATION\tREASON")
	for _, o := range outcomes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			o.Stage, o.StepID, o.Status, o.Duration, o.Reason)
	}
	_ = w.Flush()
}
