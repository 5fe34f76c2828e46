package player

import (
	"errors"
	"sync"
	"time"

	"github.com/tapedeck-io/tapedeck/internal/event"
)

// Headless is a wall-clock replay primitive that advances through an
// event sequence without rendering anything. It implements the same
// contract a visual primitive does - sequential forward playback from
// a fixed start, a local clock that begins at zero, lifecycle
// notifications - so the controller, the CLI, and tests can run
// against a real primitive while DOM reconstruction stays out of
// scope.
type Headless struct {
	mu          sync.Mutex
	durationMs  float64
	speed       float64
	hooks       Hooks
	baseMs      float64
	startedAt   time.Time
	playing     bool
	closed      bool
	finishTimer *time.Timer
}

// NewHeadless constructs a headless primitive. It satisfies Factory.
func NewHeadless(events []event.Event, opts Options) (Primitive, error) {
	if len(events) == 0 {
		return nil, errors.New("headless: empty event sequence")
	}
	speed := opts.Speed
	if speed <= 0 {
		speed = 1
	}
	return &Headless{
		durationMs: float64(event.DurationMs(events)),
		speed:      speed,
		hooks:      opts.Hooks,
	}, nil
}

// Play starts or resumes forward playback and schedules the finish
// notification for the remaining span at the current speed.
func (h *Headless) Play() {
	h.mu.Lock()
	if h.closed || h.playing {
		h.mu.Unlock()
		return
	}
	h.playing = true
	h.startedAt = time.Now()
	h.scheduleFinishLocked()
	onStart := h.hooks.OnStart
	h.mu.Unlock()

	if onStart != nil {
		onStart()
	}
}

// Pause freezes the local clock.
func (h *Headless) Pause() {
	h.mu.Lock()
	if h.closed || !h.playing {
		h.mu.Unlock()
		return
	}
	h.baseMs = h.elapsedLocked()
	h.playing = false
	h.stopTimerLocked()
	onPause := h.hooks.OnPause
	h.mu.Unlock()

	if onPause != nil {
		onPause()
	}
}

// CurrentTime reports the primitive-local elapsed milliseconds.
func (h *Headless) CurrentTime() (float64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, false
	}
	return h.elapsedLocked(), true
}

// SetSpeed changes the playback rate in place, re-basing the local
// clock so already-elapsed time is unaffected.
func (h *Headless) SetSpeed(speed float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || speed <= 0 {
		return
	}
	if h.playing {
		h.baseMs = h.elapsedLocked()
		h.startedAt = time.Now()
	}
	h.speed = speed
	if h.playing {
		h.scheduleFinishLocked()
	}
}

// Close releases the primitive; all later calls are no-ops.
func (h *Headless) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.playing = false
	h.stopTimerLocked()
}

// elapsedLocked computes the local clock, clamped to the sequence
// span. Callers hold h.mu.
func (h *Headless) elapsedLocked() float64 {
	t := h.baseMs
	if h.playing {
		t += time.Since(h.startedAt).Seconds() * 1000 * h.speed
	}
	if t > h.durationMs {
		t = h.durationMs
	}
	return t
}

// scheduleFinishLocked arms the finish notification for the remaining
// span at the current speed. Callers hold h.mu.
func (h *Headless) scheduleFinishLocked() {
	h.stopTimerLocked()
	remaining := (h.durationMs - h.baseMs) / h.speed
	if remaining < 0 {
		remaining = 0
	}
	h.finishTimer = time.AfterFunc(time.Duration(remaining*float64(time.Millisecond)), h.finish)
}

func (h *Headless) stopTimerLocked() {
	if h.finishTimer != nil {
		h.finishTimer.Stop()
		h.finishTimer = nil
	}
}

func (h *Headless) finish() {
	h.mu.Lock()
	if h.closed || !h.playing {
		h.mu.Unlock()
		return
	}
	h.baseMs = h.durationMs
	h.playing = false
	onFinish := h.hooks.OnFinish
	h.mu.Unlock()

	if onFinish != nil {
		onFinish()
	}
}
