// Package player implements the playback engine: a state machine that
// owns the replay primitive instance, tracks virtual time, and fakes
// random-access seeking on top of a primitive that only supports
// sequential forward playback from a fixed starting snapshot.
package player

import "github.com/tapedeck-io/tapedeck/internal/event"

// Primitive is the visual replay collaborator. Given an ordered event
// sequence it renders state and plays forward; it has no native
// random-access seek, which is the constraint this package works
// around rather than solves.
type Primitive interface {
	Play()
	Pause()

	// CurrentTime reports the primitive's own elapsed milliseconds.
	// ok is false when the primitive cannot report a time yet; callers
	// hold the last known value. The reported time restarts at zero
	// for every new instance, so post-seek readings must be re-based
	// by the controller.
	CurrentTime() (ms float64, ok bool)

	// SetSpeed reconfigures the playback rate in place.
	SetSpeed(speed float64)

	// Close releases the instance. The controller always pauses before
	// closing and never holds two live instances at once.
	Close()
}

// Hooks are the primitive's lifecycle notifications. They are the
// single source of truth for the playing state: the controller never
// flips isPlaying from a user action, only from these callbacks, so
// it stays consistent with the primitive's own asynchronous startup.
//
// Implementations must not hold internal locks while invoking a hook.
type Hooks struct {
	OnStart  func()
	OnPause  func()
	OnFinish func()
}

// Options configure a primitive instance at construction.
type Options struct {
	Speed     float64
	LiveMode  bool
	MouseTail bool
	Hooks     Hooks
}

// Factory constructs a primitive over an ordered event sequence. The
// first event the primitive replays from must be a full-state
// snapshot; the controller's seek path reorders prefixes to satisfy
// that.
type Factory func(events []event.Event, opts Options) (Primitive, error)
