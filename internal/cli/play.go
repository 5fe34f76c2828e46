package cli

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/tapedeck-io/tapedeck/internal/audiosync"
	"github.com/tapedeck-io/tapedeck/internal/config"
	"github.com/tapedeck-io/tapedeck/internal/player"
	"github.com/tapedeck-io/tapedeck/internal/timeline"
)

// PlayOptions holds flags for the play command.
type PlayOptions struct {
	*RootOptions
	Source         SourceOptions
	ConfigPath     string
	CallConfigPath string
	Speed          float64
	SeekMs         float64
}

// NewPlayCommand creates the play command.
func NewPlayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "play",
		Short: "Replay a recording headlessly",
		Long: `Assemble a session and run it through the playback controller with
the headless wall-clock primitive, printing progress until the
recording finishes. With a call-sync configuration, audio-track
position updates are traced alongside.

Example:
  tapedeck play --dir ./chunks --speed 2
  tapedeck play --dir ./chunks --seek 8000 --call-config call.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlay(opts, cmd)
		},
	}

	addSourceFlags(cmd, &opts.Source)
	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "YAML configuration file")
	cmd.Flags().StringVar(&opts.CallConfigPath, "call-config", "", "YAML call-sync configuration")
	cmd.Flags().Float64Var(&opts.Speed, "speed", 1, "playback rate")
	cmd.Flags().Float64Var(&opts.SeekMs, "seek", 0, "start position on the virtual timeline (ms)")

	return cmd
}

func runPlay(opts *PlayOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load config", err)
		}
		cfg = loaded
	}

	events, err := loadEvents(cmd.Context(), opts.Source)
	if err != nil {
		return err
	}

	audioSync, syncErr := buildAudioSync(opts, cfg, formatter)
	if syncErr != nil {
		// An unusable call config disables the secondary track only;
		// the primary replay proceeds.
		formatter.VerboseLog("call sync disabled: %v", syncErr)
	}

	finished := make(chan struct{})
	var finishOnce sync.Once
	ctrl := player.New(player.NewHeadless,
		player.WithRates(cfg.Rates),
		player.WithPollInterval(cfg.PollInterval()),
		player.WithOnChange(func(s player.Snapshot) {
			if audioSync != nil {
				audioSync.Update(s)
			}
			if s.State == player.Finished {
				finishOnce.Do(func() { close(finished) })
			}
		}),
	)
	defer ctrl.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if audioSync != nil {
		go audioSync.Run(ctx)
	}

	if err := ctrl.Load(events); err != nil {
		return WrapExitError(ExitFailure, "failed to load recording", err)
	}
	if opts.Speed != 1 {
		if err := ctrl.SetRate(opts.Speed); err != nil {
			return WrapExitError(ExitCommandError, "unsupported playback rate", err)
		}
	}
	if opts.SeekMs > 0 {
		if err := ctrl.Seek(opts.SeekMs); err != nil {
			return WrapExitError(ExitFailure, "seek refused", err)
		}
	}
	if err := ctrl.Play(); err != nil {
		return WrapExitError(ExitFailure, "failed to start playback", err)
	}

	select {
	case <-finished:
	case <-ctx.Done():
		return ctx.Err()
	}

	summary := fmt.Sprintf("played %d events to %dms at %gx",
		len(events), ctrl.DurationMs(), ctrl.Rate())
	return formatter.Success(summary)
}

// buildAudioSync resolves the call window and wires a console-tracing
// element when a call config is supplied. Returns (nil, nil) when no
// secondary track is configured.
func buildAudioSync(opts *PlayOptions, cfg config.Config, formatter *OutputFormatter) (*audiosync.Controller, error) {
	var call timeline.CallConfig
	switch {
	case opts.CallConfigPath != "":
		loaded, err := loadCallConfig(opts.CallConfigPath)
		if err != nil {
			return nil, err
		}
		call = loaded
	case cfg.Call != nil && !cfg.Call.Empty():
		call = *cfg.Call
	default:
		return nil, nil
	}

	window, err := call.Resolve()
	if err != nil {
		return nil, err
	}

	return audiosync.New(newConsoleElement(formatter), window, audiosync.Thresholds{
		HysteresisSec:   cfg.Audio.HysteresisSec,
		BackwardJumpSec: cfg.Audio.BackwardJumpSec,
		DistinctSec:     cfg.Audio.DistinctSec,
		BeforeGuardMs:   cfg.Audio.GuardMs,
	}), nil
}

// consoleElement satisfies the audio element contract by tracing every
// state change instead of driving real media. Its position advances
// with wall time while playing, so sync corrections behave as they
// would against a live track.
type consoleElement struct {
	mu        sync.Mutex
	formatter *OutputFormatter
	baseSec   float64
	startedAt time.Time
	rate      float64
	paused    bool
}

func newConsoleElement(formatter *OutputFormatter) *consoleElement {
	return &consoleElement{formatter: formatter, rate: 1, paused: true}
}

func (e *consoleElement) CurrentTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positionLocked()
}

func (e *consoleElement) SetCurrentTime(seconds float64) {
	e.mu.Lock()
	e.baseSec = seconds
	e.startedAt = time.Now()
	e.mu.Unlock()
	e.formatter.VerboseLog("audio: position -> %.2fs", seconds)
}

func (e *consoleElement) PlaybackRate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rate
}

func (e *consoleElement) SetPlaybackRate(rate float64) {
	e.mu.Lock()
	e.baseSec = e.positionLocked()
	e.startedAt = time.Now()
	e.rate = rate
	e.mu.Unlock()
	e.formatter.VerboseLog("audio: rate -> %gx", rate)
}

func (e *consoleElement) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

func (e *consoleElement) Play() error {
	e.mu.Lock()
	e.paused = false
	e.startedAt = time.Now()
	e.mu.Unlock()
	e.formatter.VerboseLog("audio: play")
	return nil
}

func (e *consoleElement) Pause() {
	e.mu.Lock()
	e.baseSec = e.positionLocked()
	e.paused = true
	e.mu.Unlock()
	e.formatter.VerboseLog("audio: pause")
}

func (e *consoleElement) Duration() float64 { return 0 }

func (e *consoleElement) Ready() bool { return true }

func (e *consoleElement) positionLocked() float64 {
	if e.paused {
		return e.baseSec
	}
	return e.baseSec + time.Since(e.startedAt).Seconds()*e.rate
}
