package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/runcollab/internal/store"
)

// APIOptions holds the flags shared by the commands that call the
// server's HTTP API.
type APIOptions struct {
	*RootOptions
	Server string
}

func (o *APIOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Server, "server", "", "server base URL (default derived from client.url)")
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &APIOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List the runs known to the server",
		Long: `List the runs known to the server with their event counts,
participants and pipelines.

Examples:
  runcollab runs
  runcollab runs --server http://collab.internal:8080 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := httpClient(opts.Config, opts.Server)
			if err != nil {
				return err
			}
			runs, err := client.Runs(commandContext(cmd))
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list runs", err)
			}
			return newFormatter(opts.RootOptions, cmd).Success(runs, func(w io.Writer) {
				printRuns(w, runs)
			})
		},
	}
	opts.bind(cmd)

	return cmd
}

func printRuns(w io.Writer, runs []store.RunSummary) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs found.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tEVENTS\tUSERS\tLAST EVENT\tPIPELINE")
	for _, r := range runs {
		last := "-"
		if r.LastEvent > 0 {
			last = time.UnixMilli(r.LastEvent).UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n",
			r.RunID, r.EventCount, r.Users, last, strings.Join(r.Pipeline, ","))
	}
	_ = tw.Flush()
}
