// Package timeline maps between session-relative virtual time, wall
// timestamps, and a secondary audio track's local time. Everything in
// this package is a pure function of its inputs.
package timeline

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrMissingDuration is returned when neither a call end time nor an
// explicit duration resolves the call window's length.
var ErrMissingDuration = errors.New("timeline: call duration unresolvable")

// ErrInvalidConfig is returned when a call-sync configuration cannot
// be resolved into a window. The secondary track is disabled in that
// case; the primary replay is unaffected.
var ErrInvalidConfig = errors.New("timeline: invalid call-sync config")

// Wall-clock timestamps arrive in two textual forms: with an explicit
// UTC offset suffix and without one (implicitly UTC). Both normalize
// to the same comparable instant.
var wallLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999",
	time.RFC3339Nano,
}

// ParseWallClock parses one of the accepted wall-clock forms.
func ParseWallClock(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range wallLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("timeline: unrecognized wall-clock form %q", s)
}

// CallOffsetMs computes how far into the session's virtual timeline
// the call begins: callStartWall minus sessionStartWall, in
// milliseconds.
func CallOffsetMs(sessionStartWall, callStartWall string) (int64, error) {
	sessionStart, err := ParseWallClock(sessionStartWall)
	if err != nil {
		return 0, err
	}
	callStart, err := ParseWallClock(callStartWall)
	if err != nil {
		return 0, err
	}
	return callStart.Sub(sessionStart).Milliseconds(), nil
}

// CallDurationMs resolves the call window's length. The end-time
// difference is preferred when an end time is given; otherwise the
// explicit duration is parsed as integer milliseconds.
func CallDurationMs(callStartWall, callEndWall, explicitDuration string) (int64, error) {
	if callEndWall != "" {
		callStart, err := ParseWallClock(callStartWall)
		if err != nil {
			return 0, err
		}
		callEnd, err := ParseWallClock(callEndWall)
		if err != nil {
			return 0, err
		}
		return callEnd.Sub(callStart).Milliseconds(), nil
	}
	if explicitDuration != "" {
		ms, err := strconv.ParseInt(strings.TrimSpace(explicitDuration), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("timeline: parse explicit duration %q: %w", explicitDuration, err)
		}
		return ms, nil
	}
	return 0, ErrMissingDuration
}

// IsWithinCall reports whether a virtual time falls inside the call
// window. Both boundaries are inclusive.
func IsWithinCall(virtualMs, offsetMs, durationMs int64) bool {
	return virtualMs >= offsetMs && virtualMs <= offsetMs+durationMs
}

// AudioPositionSeconds computes where the audio track should sit for a
// given virtual time, scaled by the playback rate and never negative.
func AudioPositionSeconds(virtualMs float64, offsetMs int64, rate float64) float64 {
	elapsed := virtualMs - float64(offsetMs)
	if elapsed < 0 {
		elapsed = 0
	}
	return elapsed / rate / 1000
}

// CallConfig describes an optional secondary audio track anchored to a
// sub-interval of the virtual timeline. Absent fields mean "no
// secondary track".
type CallConfig struct {
	AudioURL         string `json:"callAudioUrl" yaml:"audio_url"`
	SessionStartWall string `json:"sessionStartTime" yaml:"session_start"`
	CallStartWall    string `json:"callStartTime" yaml:"call_start"`
	CallEndWall      string `json:"callEndTime,omitempty" yaml:"call_end,omitempty"`
	CallDuration     string `json:"callDuration,omitempty" yaml:"call_duration,omitempty"`
}

// Empty reports whether no secondary track was configured at all.
func (c CallConfig) Empty() bool {
	return c.AudioURL == "" && c.CallStartWall == ""
}

// Window is a resolved call window on the virtual timeline.
type Window struct {
	AudioURL   string
	OffsetMs   int64
	DurationMs int64
}

// EndMs returns the window's upper edge on the virtual timeline. The
// edge is inclusive, like both IsWithinCall boundaries.
func (w Window) EndMs() int64 {
	return w.OffsetMs + w.DurationMs
}

// Resolve derives the call window from the configuration. Any
// unparseable or missing required field yields ErrInvalidConfig; the
// caller disables the secondary track rather than failing the load.
func (c CallConfig) Resolve() (Window, error) {
	if c.SessionStartWall == "" || c.CallStartWall == "" {
		return Window{}, fmt.Errorf("%w: missing start times", ErrInvalidConfig)
	}
	offset, err := CallOffsetMs(c.SessionStartWall, c.CallStartWall)
	if err != nil {
		return Window{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	duration, err := CallDurationMs(c.CallStartWall, c.CallEndWall, c.CallDuration)
	if err != nil {
		return Window{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if duration < 0 {
		return Window{}, fmt.Errorf("%w: negative duration %dms", ErrInvalidConfig, duration)
	}
	return Window{
		AudioURL:   c.AudioURL,
		OffsetMs:   offset,
		DurationMs: duration,
	}, nil
}
