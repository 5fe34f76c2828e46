package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tapedeck-io/tapedeck/internal/event"
	"github.com/tapedeck-io/tapedeck/internal/timeline"
)

// InfoOptions holds flags for the info command.
type InfoOptions struct {
	*RootOptions
	Source     SourceOptions
	ConfigPath string
}

// RecordingInfo is the info command's result payload.
type RecordingInfo struct {
	Events         int            `json:"events"`
	DurationMs     int64          `json:"duration_ms"`
	ByKind         map[string]int `json:"by_kind"`
	FullStateIndex int            `json:"full_state_index"`
	CallOffsetMs   *int64         `json:"call_offset_ms,omitempty"`
	CallDurationMs *int64         `json:"call_duration_ms,omitempty"`
}

// NewInfoCommand creates the info command.
func NewInfoCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InfoOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Summarize an assembled recording",
		Long: `Assemble a session and report its shape: event counts per kind,
the virtual-timeline span, and the resolved call window when a
call-sync configuration is given.

Example:
  tapedeck info --dir ./chunks
  tapedeck info --dir ./chunks --call-config call.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(opts, cmd)
		},
	}

	addSourceFlags(cmd, &opts.Source)
	cmd.Flags().StringVar(&opts.ConfigPath, "call-config", "", "YAML call-sync configuration")

	return cmd
}

func runInfo(opts *InfoOptions, cmd *cobra.Command) error {
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

	info := RecordingInfo{
		Events:         len(events),
		DurationMs:     event.DurationMs(events),
		ByKind:         map[string]int{},
		FullStateIndex: event.FirstFullState(events),
	}
	for kind, n := range event.CountByKind(events) {
		info.ByKind[kind.String()] = n
	}

	if opts.ConfigPath != "" {
		window, err := loadCallWindow(opts.ConfigPath)
		if err != nil {
			// An unusable call config disables the secondary track; the
			// recording summary itself is unaffected.
			formatter.VerboseLog("call config unusable: %v", err)
		} else {
			info.CallOffsetMs = &window.OffsetMs
			info.CallDurationMs = &window.DurationMs
		}
	}

	if opts.Format == "json" {
		return formatter.Success(info)
	}
	fmt.Fprint(cmd.OutOrStdout(), formatInfoText(info))
	return nil
}

func formatInfoText(info RecordingInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Events:      %d\n", info.Events)
	fmt.Fprintf(&b, "Duration:    %dms\n", info.DurationMs)
	fmt.Fprintf(&b, "Full state:  index %d\n", info.FullStateIndex)
	for _, kind := range []string{"full_state", "incremental", "meta", "custom"} {
		if n, ok := info.ByKind[kind]; ok {
			fmt.Fprintf(&b, "  %-12s %d\n", kind, n)
		}
	}
	if info.CallOffsetMs != nil {
		fmt.Fprintf(&b, "Call window: %dms + %dms\n", *info.CallOffsetMs, *info.CallDurationMs)
	}
	return b.String()
}

// loadCallWindow reads a call-sync YAML file and resolves its window.
func loadCallWindow(path string) (timeline.Window, error) {
	cfg, err := loadCallConfig(path)
	if err != nil {
		return timeline.Window{}, err
	}
	return cfg.Resolve()
}
