package cli

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/runcollab/internal/analytics"
	"github.com/roach88/runcollab/internal/ir"
)

// NewAnalyticsCommand creates the analytics command.
func NewAnalyticsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &APIOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "analytics <run-id>",
		Short: "Summarize the collaboration on a run",
		Long: `Summarize the collaboration on a run: event counts per type and user,
the hourly activity heatmap (UTC), the most grafted checkpoints and the
conflicting edits the merge rules resolved.

Examples:
  runcollab analytics run-42
  runcollab analytics run-42 --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := httpClient(opts.Config, opts.Server)
			if err != nil {
				return err
			}
			a, err := client.Analytics(commandContext(cmd), args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load analytics", err)
			}
			return newFormatter(opts.RootOptions, cmd).Success(a, func(w io.Writer) {
				printAnalytics(w, a)
			})
		},
	}
	opts.bind(cmd)

	return cmd
}

func printAnalytics(w io.Writer, a analytics.Analytics) {
	fmt.Fprintf(w, "Run %s: %d events by %d users\n", a.RunID, a.TotalEvents, a.UniqueUsers)

	types := make([]ir.EventType, 0, len(a.EventTypeCounts))
	for t := range a.EventTypeCounts {
		types = append(types, t)
	}
	slices.Sort(types)
	for _, t := range types {
		fmt.Fprintf(w, "  %-12s %d\n", t, a.EventTypeCounts[t])
	}

	if len(a.UserActivity) > 0 {
		fmt.Fprintln(w, "Users:")
		for _, u := range a.UserActivity {
			fmt.Fprintf(w, "  %-12s %d\n", u.UserID, u.EventCount)
		}
	}

	hours := make([]string, len(a.HourlyHeatmap))
	for h, n := range a.HourlyHeatmap {
		hours[h] = fmt.Sprint(n)
	}
	fmt.Fprintf(w, "Hourly (UTC): %s\n", strings.Join(hours, " "))

	if len(a.MostGraftedCheckpoints) > 0 {
		fmt.Fprintln(w, "Most grafted checkpoints:")
		for _, c := range a.MostGraftedCheckpoints {
			fmt.Fprintf(w, "  %-12s %d (%s)\n", c.StepID, c.Count, strings.Join(c.AgentNames, ", "))
		}
	}

	fmt.Fprintf(w, "Conflicts: %d\n", len(a.Conflicts))
	for _, c := range a.Conflicts {
		fmt.Fprintf(w, "  %s on %s: %s vs %s within %dms, winner %s (%s)\n",
			c.EventType, c.Target, c.FirstUser, c.SecondUser, c.DeltaMs, c.Winner, c.Resolution)
	}
}
