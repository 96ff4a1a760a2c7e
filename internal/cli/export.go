package cli

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/runcollab/internal/server"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	APIOptions
	As     string
	Output string
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{APIOptions: APIOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "export <run-id>",
		Short: "Download the snapshots of a run as JSON or CSV",
		Long: `Download the time-travel snapshots of a run as JSON or CSV.

Without --output the export is written to stdout.

Examples:
  runcollab export run-42 --as csv -o run-42.csv
  runcollab export run-42 > run-42.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.As != server.FormatJSON && opts.As != server.FormatCSV {
				return NewExitError(ExitCommandError, fmt.Sprintf("unknown export format %q: want json or csv", opts.As))
			}
			client, err := httpClient(opts.Config, opts.Server)
			if err != nil {
				return err
			}

			var buf bytes.Buffer
			if err := client.Export(commandContext(cmd), args[0], opts.As, &buf); err != nil {
				return WrapExitError(ExitCommandError, "failed to export", err)
			}

			if opts.Output == "" {
				_, err := cmd.OutOrStdout().Write(buf.Bytes())
				return err
			}
			if err := os.WriteFile(opts.Output, buf.Bytes(), 0o644); err != nil {
				return WrapExitError(ExitCommandError, "failed to write export", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", opts.Output)
			return nil
		},
	}
	opts.bind(cmd)
	cmd.Flags().StringVar(&opts.As, "as", server.FormatJSON, "export format (json|csv)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write to this file instead of stdout")

	return cmd
}
