package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/runcollab/internal/timetravel"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	APIOptions
	Start int64
	End   int64
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{APIOptions: APIOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "history <run-id>",
		Short: "Show the time-travel snapshots of a run",
		Long: `Show one snapshot per collaboration event of a run, in merge order.

Each snapshot records which parts of the merged state the event changed.
Use --start and --end (epoch milliseconds, inclusive) to limit the range.

Examples:
  runcollab history run-42
  runcollab history run-42 --start 1704067200000 --end 1704070800000
  runcollab history run-42 --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := httpClient(opts.Config, opts.Server)
			if err != nil {
				return err
			}
			snaps, err := client.Snapshots(commandContext(cmd), args[0], timetravel.Range{Start: opts.Start, End: opts.End})
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load history", err)
			}
			return newFormatter(opts.RootOptions, cmd).Success(snaps, func(w io.Writer) {
				printSnapshots(w, snaps)
			})
		},
	}
	opts.bind(cmd)
	cmd.Flags().Int64Var(&opts.Start, "start", 0, "first timestamp, epoch ms (0 = unbounded)")
	cmd.Flags().Int64Var(&opts.End, "end", 0, "last timestamp, epoch ms (0 = unbounded)")

	return cmd
}

func printSnapshots(w io.Writer, snaps []timetravel.Snapshot) {
	if len(snaps) == 0 {
		fmt.Fprintln(w, "No events.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, s := range snaps {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n",
			s.Index,
			time.UnixMilli(s.Timestamp).UTC().Format(time.RFC3339),
			s.UserID,
			s.Description)
	}
	_ = tw.Flush()
}
