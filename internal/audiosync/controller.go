package audiosync

import (
	"context"
	"log/slog"
	"math"
	"sync"

	"github.com/tapedeck-io/tapedeck/internal/player"
	"github.com/tapedeck-io/tapedeck/internal/timeline"
)

// Positions closer than this are treated as already in place, keeping
// boundary snaps idempotent.
const positionEpsilonSec = 0.05

// Thresholds tune the drift-correction guard.
type Thresholds struct {
	// HysteresisSec is the minimum drift between the computed target
	// and the element's clock before a correction is considered.
	HysteresisSec float64
	// BackwardJumpSec protects small backward drift: backward moves at
	// or below this are left for the element's own clock to absorb.
	BackwardJumpSec float64
	// DistinctSec is the minimum distance from the last position this
	// controller itself wrote. Blocks the feedback loop where our own
	// write reads back as drift.
	DistinctSec float64
	// BeforeGuardMs is how far ahead of the call window the virtual
	// time must sit before the track snaps back to zero.
	BeforeGuardMs float64
}

// DefaultThresholds returns the standard guard tuning.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HysteresisSec:   0.5,
		BackwardJumpSec: 2.0,
		DistinctSec:     0.1,
		BeforeGuardMs:   250,
	}
}

// Controller owns the single live audio element and keeps it aligned
// with playback snapshots. Snapshots arrive through an unbounded queue
// and are applied one at a time on the Run goroutine; the element is
// never touched from anywhere else.
type Controller struct {
	el         Element
	window     timeline.Window
	thresholds Thresholds
	queue      *updateQueue

	mu      sync.Mutex
	enabled bool
	last    player.Snapshot

	// lastSet is the position most recently written by this controller,
	// not by the element's own progression. Only the Run goroutine
	// touches it.
	lastSet *float64
}

// New creates a controller for one audio element anchored to a resolved
// call window. Zero threshold fields fall back to the defaults.
func New(el Element, window timeline.Window, t Thresholds) *Controller {
	def := DefaultThresholds()
	if t.HysteresisSec <= 0 {
		t.HysteresisSec = def.HysteresisSec
	}
	if t.BackwardJumpSec <= 0 {
		t.BackwardJumpSec = def.BackwardJumpSec
	}
	if t.DistinctSec <= 0 {
		t.DistinctSec = def.DistinctSec
	}
	if t.BeforeGuardMs <= 0 {
		t.BeforeGuardMs = def.BeforeGuardMs
	}
	return &Controller{
		el:         el,
		window:     window,
		thresholds: t,
		queue:      newUpdateQueue(),
		enabled:    window.AudioURL != "",
	}
}

// Update enqueues a playback snapshot for evaluation. Safe to call from
// any goroutine; wire it to the playback controller's change callback.
func (c *Controller) Update(s player.Snapshot) {
	c.mu.Lock()
	c.last = s
	c.mu.Unlock()
	c.queue.Enqueue(s)
}

// SetEnabled toggles the secondary track and re-evaluates against the
// most recent snapshot.
func (c *Controller) SetEnabled(enabled bool) {
	c.mu.Lock()
	c.enabled = enabled
	last := c.last
	c.mu.Unlock()
	c.queue.Enqueue(last)
}

// Run drains the update queue, applying each snapshot in order.
// Must be called from exactly one goroutine; it owns the element.
// Blocks until ctx is cancelled or Stop closes the queue.
func (c *Controller) Run(ctx context.Context) error {
	slog.Debug("audio sync starting", "offset_ms", c.window.OffsetMs, "duration_ms", c.window.DurationMs)

	for {
		s, ok := c.queue.TryDequeue()
		if ok {
			c.Apply(s)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Debug("audio sync stopping: context cancelled")
			c.queue.Close()
			c.ensurePaused()
			return ctx.Err()

		case <-c.queue.Wait():
			// The signal channel closes with the queue, so this fires
			// immediately once Stop is called and the backlog drains.
			if c.queue.Len() == 0 {
				slog.Debug("audio sync stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue; Run returns after draining the backlog.
func (c *Controller) Stop() {
	c.queue.Close()
}

// Apply evaluates one snapshot against the element. Exported for
// callers running the whole pipeline on a single goroutine; otherwise
// use Update and let Run apply.
func (c *Controller) Apply(s player.Snapshot) {
	c.mu.Lock()
	enabled := c.enabled
	c.mu.Unlock()

	if !enabled {
		c.ensurePaused()
		return
	}

	// A seek in flight: stop the track before any retargeting so audio
	// never runs against a visual that has not caught up.
	if s.State == player.Seeking {
		c.ensurePaused()
		return
	}

	virtual := int64(s.VirtualTimeMs)
	within := timeline.IsWithinCall(virtual, c.window.OffsetMs, c.window.DurationMs)

	if s.Seeked {
		c.ensurePaused()
		if within {
			c.retarget(timeline.AudioPositionSeconds(s.VirtualTimeMs, c.window.OffsetMs, s.Rate))
		} else {
			c.snapOutside(s.VirtualTimeMs)
		}
		// Resuming waits for the next explicit play action.
		return
	}

	if !within {
		c.ensurePaused()
		c.snapOutside(s.VirtualTimeMs)
		return
	}

	c.correctDrift(timeline.AudioPositionSeconds(s.VirtualTimeMs, c.window.OffsetMs, s.Rate))

	if s.Rate > 0 && c.el.PlaybackRate() != s.Rate {
		c.el.SetPlaybackRate(s.Rate)
	}

	if s.Playing {
		if c.el.Paused() && c.el.Ready() {
			if err := c.el.Play(); err != nil {
				slog.Warn("audio play rejected", "err", err)
			}
		}
	} else {
		c.ensurePaused()
	}
}

// correctDrift applies the three-part guard: the drift must exceed the
// hysteresis threshold, the move must be forward or a large backward
// jump, and the target must sit meaningfully away from the last
// position this controller wrote.
func (c *Controller) correctDrift(target float64) {
	delta := target - c.el.CurrentTime()
	if math.Abs(delta) <= c.thresholds.HysteresisSec {
		return
	}
	if delta < 0 && -delta <= c.thresholds.BackwardJumpSec {
		return
	}
	if c.lastSet != nil && math.Abs(target-*c.lastSet) <= c.thresholds.DistinctSec {
		return
	}
	c.setPosition(target)
}

// retarget moves the track immediately after a completed seek,
// bypassing the drift guard but staying idempotent.
func (c *Controller) retarget(target float64) {
	if math.Abs(target-c.el.CurrentTime()) > positionEpsilonSec {
		c.setPosition(target)
	}
}

// snapOutside parks the track at the nearest window edge. Writes only
// when the track is not already there, so sitting at a boundary never
// re-triggers.
func (c *Controller) snapOutside(virtualMs float64) {
	if virtualMs < float64(c.window.OffsetMs)-c.thresholds.BeforeGuardMs {
		if c.el.CurrentTime() > positionEpsilonSec {
			c.setPosition(0)
		}
		return
	}
	if virtualMs > float64(c.window.EndMs()) {
		end := c.el.Duration()
		if end <= 0 {
			end = float64(c.window.DurationMs) / 1000
		}
		if math.Abs(c.el.CurrentTime()-end) > positionEpsilonSec {
			c.setPosition(end)
		}
	}
}

func (c *Controller) setPosition(target float64) {
	c.el.SetCurrentTime(target)
	t := target
	c.lastSet = &t
}

func (c *Controller) ensurePaused() {
	if !c.el.Paused() {
		c.el.Pause()
	}
}
