package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/runcollab/internal/harness"
	"github.com/roach88/runcollab/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	RunID    string // optional - specific run only
	Shuffles int
	Seed     uint64
}

// ReplayRunResult is the convergence check of one stored run.
type ReplayRunResult struct {
	RunID      string   `json:"run_id"`
	Events     int      `json:"events"`
	Orders     []string `json:"orders"`
	Converged  bool     `json:"converged"`
	Divergent  []string `json:"divergent,omitempty"`
	GraftOrder []string `json:"graft_order"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Runs         []ReplayRunResult `json:"runs"`
	TotalRuns    int               `json:"total_runs"`
	AllConverged bool              `json:"all_converged"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay stored runs and verify convergence",
		Long: `Replay the stored event log of each run under several arrival orders
and verify that every order folds into the same state.

The orders checked are the stored order, the reversed order, every event
delivered twice, and --shuffles seeded random permutations.

Exit codes:
  0 - All runs converge
  1 - At least one arrival order diverged
  2 - Command error (database not found, etc.)

Examples:
  runcollab replay --db ./runcollab.db
  runcollab replay --db ./runcollab.db --run run-42 --shuffles 50
  runcollab replay --db ./runcollab.db --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "replay a specific run only")
	cmd.Flags().IntVar(&opts.Shuffles, "shuffles", 10, "number of random arrival orders per run")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 1, "seed for the random arrival orders")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)

	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "database not found", err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	var runIDs []string
	if opts.RunID != "" {
		runIDs = []string{opts.RunID}
	} else {
		runs, err := st.ListRuns(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list runs", err)
		}
		for _, r := range runs {
			runIDs = append(runIDs, r.RunID)
		}
	}

	result := ReplayResult{
		Runs:         make([]ReplayRunResult, 0, len(runIDs)),
		TotalRuns:    len(runIDs),
		AllConverged: true,
	}
	for _, runID := range runIDs {
		runResult, err := replayRun(ctx, st, runID, opts)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to replay run %s", runID), err)
		}
		result.Runs = append(result.Runs, runResult)
		if !runResult.Converged {
			result.AllConverged = false
		}
	}

	out := newFormatter(opts.RootOptions, cmd)
	text := func(w io.Writer) { printReplay(w, result, opts.Verbose) }
	if !result.AllConverged {
		return out.Failure("E_NOT_CONVERGED", "replay diverged", result, text)
	}
	return out.Success(result, text)
}

// replayRun folds one run's log under every delivery order.
func replayRun(ctx context.Context, st *store.Store, runID string, opts *ReplayOptions) (ReplayRunResult, error) {
	events, err := st.ArrivalOrder(ctx, runID)
	if err != nil {
		return ReplayRunResult{}, err
	}
	pipeline, err := st.Pipeline(ctx, runID)
	if err != nil {
		return ReplayRunResult{}, err
	}

	report := harness.CheckConvergence(pipeline, harness.Deliveries(events, opts.Shuffles, opts.Seed))
	return ReplayRunResult{
		RunID:      runID,
		Events:     len(events),
		Orders:     report.Checked,
		Converged:  report.Converged,
		Divergent:  report.Divergent,
		GraftOrder: report.State.GraftOrder,
	}, nil
}

func printReplay(w io.Writer, result ReplayResult, verbose bool) {
	if result.TotalRuns == 0 {
		fmt.Fprintln(w, "No runs found in database.")
		return
	}

	fmt.Fprintln(w, "Replay Results")
	fmt.Fprintln(w, "==============")
	for _, r := range result.Runs {
		status := "✓"
		if !r.Converged {
			status = "✗"
		}
		fmt.Fprintf(w, "%s %s: %d events, %d orders\n", status, r.RunID, r.Events, len(r.Orders))
		if verbose {
			fmt.Fprintf(w, "    graft order: %v\n", r.GraftOrder)
		}
		for _, d := range r.Divergent {
			fmt.Fprintf(w, "    diverged: %s\n", d)
		}
	}

	fmt.Fprintln(w)
	if result.AllConverged {
		fmt.Fprintf(w, "✓ All %d runs converge\n", result.TotalRuns)
	} else {
		fmt.Fprintln(w, "✗ Convergence check failed")
	}
}
