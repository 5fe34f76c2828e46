package player

import (
	"errors"
	"fmt"
)

// ErrNotLoaded is returned by operations invoked before a recording
// has been loaded.
var ErrNotLoaded = errors.New("player: no recording loaded")

// SeekPreconditionError reports a refused seek: even after extending
// the filtered prefix with the next chronological events, fewer than
// the primitive's minimum of two events remained. The controller's
// state stays at the prior position.
type SeekPreconditionError struct {
	TargetMs  float64
	Available int
}

// Error implements the error interface.
func (e *SeekPreconditionError) Error() string {
	return fmt.Sprintf("seek to %.0fms refused: %d events available, need 2", e.TargetMs, e.Available)
}

// IsSeekPrecondition reports whether err is a refused seek.
// Uses errors.As to handle wrapped errors.
func IsSeekPrecondition(err error) bool {
	var se *SeekPreconditionError
	return errors.As(err, &se)
}

// RateError reports a playback rate outside the configured set.
type RateError struct {
	Rate    float64
	Allowed []float64
}

// Error implements the error interface.
func (e *RateError) Error() string {
	return fmt.Sprintf("playback rate %g not in allowed set %v", e.Rate, e.Allowed)
}
