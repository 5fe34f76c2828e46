package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tapedeck-io/tapedeck/internal/event"
)

// AssembleOptions holds flags for the assemble command.
type AssembleOptions struct {
	*RootOptions
	Source SourceOptions
	Out    string
}

// NewAssembleCommand creates the assemble command.
func NewAssembleCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AssembleOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "assemble",
		Short: "Assemble a session's chunks into one event sequence",
		Long: `Fetch, decode, normalize, and decompress every chunk of a session
and write the resulting event sequence as a JSON array.

Example:
  tapedeck assemble --dir ./chunks --out session.json
  tapedeck assemble --url https://recordings.example.com --session abc123 --cache chunks.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAssemble(opts, cmd)
		},
	}

	addSourceFlags(cmd, &opts.Source)
	cmd.Flags().StringVar(&opts.Out, "out", "", "output file (default stdout)")

	return cmd
}

func runAssemble(opts *AssembleOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	events, err := loadEvents(cmd.Context(), opts.Source)
	if err != nil {
		return err
	}
	formatter.VerboseLog("assembled %d events spanning %dms", len(events), event.DurationMs(events))

	data, err := json.Marshal(events)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to encode events", err)
	}

	if opts.Out == "" {
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}
	if err := os.WriteFile(opts.Out, data, 0o644); err != nil {
		return WrapExitError(ExitCommandError, "failed to write output file", err)
	}
	return formatter.Success(fmt.Sprintf("wrote %d events to %s", len(events), opts.Out))
}
