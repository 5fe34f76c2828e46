// Package audiosync keeps a secondary audio track's position, rate,
// and play state in lockstep with the virtual timeline. The controller
// is reactive: it consumes playback snapshots and nudges the audio
// element, guarding against feedback loops where its own writes are
// misread as drift and re-corrected.
package audiosync

// Element is the audio-track collaborator. Positions and durations are
// in seconds, matching media-element convention.
//
// Play is asynchronous at the media layer and may fail; callers treat
// a failure as "still paused" and retry on the next evaluation.
type Element interface {
	CurrentTime() float64
	SetCurrentTime(seconds float64)
	PlaybackRate() float64
	SetPlaybackRate(rate float64)
	Paused() bool
	Play() error
	Pause()
	// Duration reports the track length, or 0 before metadata loads.
	Duration() float64
	// Ready reports whether enough data is buffered to start playback.
	Ready() bool
}
