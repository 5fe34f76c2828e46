package player

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/tapedeck-io/tapedeck/internal/event"
	"github.com/tapedeck-io/tapedeck/internal/metrics"
)

// State is the controller's lifecycle position.
type State int

const (
	// Uninitialized means no recording has been loaded.
	Uninitialized State = iota
	// Ready means a primitive exists and playback is paused.
	Ready
	// Playing means the primitive reported it is advancing.
	Playing
	// Seeking is the transient state while the primitive is being
	// recreated over a prefix; time polling is suspended.
	Seeking
	// Finished means the primitive reported the end of its sequence.
	Finished
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Playing:
		return "playing"
	case Seeking:
		return "seeking"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable view of playback state, delivered to
// subscribers on every change the controller observes.
type Snapshot struct {
	State         State
	VirtualTimeMs float64
	DurationMs    int64
	Rate          float64
	Playing       bool

	// Seeked marks the snapshot emitted right after a completed seek.
	// The audio-sync controller retargets immediately on it instead of
	// waiting for the next poll tick.
	Seeked bool
}

// DefaultPollInterval is the virtual-time refresh cadence. Deliberately
// coarse: staleness is bounded by one tick, and a finer tick buys
// nothing the visual replay can show.
const DefaultPollInterval = 300 * time.Millisecond

// DefaultRates is the fixed set of playback rates offered.
var DefaultRates = []float64{1, 2}

// Controller owns the single live replay primitive and all playback
// state: virtual time, play state, rate, and the post-seek base.
//
// Virtual time is recovered from the primitive by re-basing: a seek
// records seekBase and every subsequent primitive reading is an offset
// added to it, because each recreated primitive restarts its own clock
// at zero. A fresh Load clears the base.
//
// All mutations are serialized by one mutex; lifecycle hooks, poll
// ticks, and user operations all funnel through it.
type Controller struct {
	factory      Factory
	gen          TokenGenerator
	rates        []float64
	pollInterval time.Duration
	onChange     func(Snapshot)
	postCreate   func(instanceID string)

	mu         sync.Mutex
	events     []event.Event
	startTs    int64
	durationMs int64
	prim       Primitive
	instanceID string
	state      State
	playing    bool
	rate       float64
	virtualMs  float64
	seekBase   *float64
	pollDone   chan struct{}
}

// Option configures a Controller.
type Option func(*Controller)

// WithPollInterval sets the virtual-time polling cadence.
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithRates sets the allowed playback rates. The first entry is the
// initial rate.
func WithRates(rates []float64) Option {
	return func(c *Controller) {
		if len(rates) > 0 {
			c.rates = rates
			c.rate = rates[0]
		}
	}
}

// WithTokenGenerator replaces the instance-token generator; tests use
// FixedTokens for exact identity assertions.
func WithTokenGenerator(gen TokenGenerator) Option {
	return func(c *Controller) { c.gen = gen }
}

// WithOnChange subscribes to playback snapshots. The callback runs on
// the controller's logical timeline and must not block.
func WithOnChange(fn func(Snapshot)) Option {
	return func(c *Controller) { c.onChange = fn }
}

// WithPostCreate registers a fire-and-forget side effect run after
// each primitive (re)creation, e.g. viewport centering. It receives
// the new instance token and should check StillCurrent before applying
// late effects; it has no bearing on state-machine correctness.
func WithPostCreate(fn func(instanceID string)) Option {
	return func(c *Controller) { c.postCreate = fn }
}

// New creates a Controller around a primitive factory.
func New(factory Factory, opts ...Option) *Controller {
	c := &Controller{
		factory:      factory,
		gen:          UUIDv7Generator{},
		rates:        DefaultRates,
		rate:         DefaultRates[0],
		pollInterval: DefaultPollInterval,
		state:        Uninitialized,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load replaces any existing recording with a fresh event sequence:
// the previous primitive is fully torn down, virtual time resets to
// zero, the seek base clears, and a new primitive is constructed over
// the entire sequence at the configured rate.
func (c *Controller) Load(events []event.Event) error {
	if len(events) == 0 {
		return ErrNotLoaded
	}

	c.mu.Lock()
	old := c.detachLocked()
	c.mu.Unlock()
	releasePrimitive(old)

	c.mu.Lock()
	c.events = events
	c.startTs = events[0].Timestamp
	c.durationMs = event.DurationMs(events)
	c.virtualMs = 0
	c.seekBase = nil
	c.playing = false

	id := c.gen.Generate()
	prim, err := c.factory(events, Options{
		Speed:     c.rate,
		MouseTail: true,
		Hooks:     c.hooksFor(id),
	})
	if err != nil {
		c.state = Uninitialized
		c.mu.Unlock()
		return err
	}
	c.prim = prim
	c.instanceID = id
	c.state = Ready
	c.pollDone = make(chan struct{})
	go c.pollLoop(c.pollDone)

	snap := c.snapshotLocked()
	c.mu.Unlock()

	metrics.PrimitiveRebuilds.Inc()
	slog.Info("recording loaded",
		"events", len(events),
		"duration_ms", c.durationMs,
		"instance", id)
	c.firePostCreate(id)
	c.notify(snap)
	return nil
}

// Play delegates to the primitive. The Playing state is entered only
// when the primitive's start notification arrives.
//
// After a seek the primitive holds only the seek prefix, so resuming
// replays that prefix from its own beginning: a visible rewind. This
// is an accepted limitation of recreate-on-seek rather than a bug to
// paper over.
func (c *Controller) Play() error {
	c.mu.Lock()
	prim := c.prim
	c.mu.Unlock()
	if prim == nil {
		return ErrNotLoaded
	}
	prim.Play()
	return nil
}

// Pause delegates to the primitive; the paused state lands via the
// pause notification.
func (c *Controller) Pause() error {
	c.mu.Lock()
	prim := c.prim
	c.mu.Unlock()
	if prim == nil {
		return ErrNotLoaded
	}
	prim.Pause()
	return nil
}

// SetRate switches the playback rate in place. Rate is a
// primitive-level property; no recreation happens.
func (c *Controller) SetRate(rate float64) error {
	if !c.rateAllowed(rate) {
		return &RateError{Rate: rate, Allowed: c.rates}
	}

	c.mu.Lock()
	c.rate = rate
	prim := c.prim
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if prim != nil {
		prim.SetSpeed(rate)
		c.notify(snap)
	}
	return nil
}

func (c *Controller) rateAllowed(rate float64) bool {
	for _, r := range c.rates {
		if r == rate {
			return true
		}
	}
	return false
}

// Seek positions the replay at targetMs on the virtual timeline.
//
// The primitive cannot seek, so the controller recreates it: pause
// everything, filter the full sequence to events at or before the
// target timestamp, reorder so a full-state snapshot leads, extend
// with the next chronological events if fewer than two remain, then
// destroy the old instance and build a new one over exactly that
// prefix. The new instance renders the target state while paused and
// its clock restarts at zero, so targetMs is recorded as the base all
// subsequent readings are added to.
func (c *Controller) Seek(targetMs float64) error {
	c.mu.Lock()
	if c.prim == nil {
		c.mu.Unlock()
		return ErrNotLoaded
	}
	c.state = Seeking
	prim := c.prim
	seekingSnap := c.snapshotLocked()
	c.mu.Unlock()

	// Force-pause immediately so a stale frame never flashes and the
	// audio track stops before any retargeting.
	c.notify(seekingSnap)
	prim.Pause()

	c.mu.Lock()
	prefix := c.seekPrefixLocked(targetMs)
	if len(prefix) < 2 {
		c.state = Ready
		c.playing = false
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.notify(snap)
		return &SeekPreconditionError{TargetMs: targetMs, Available: len(prefix)}
	}

	// Exactly one live instance at a time: release before rebuilding.
	c.prim.Close()
	c.prim = nil

	id := c.gen.Generate()
	prim, err := c.factory(prefix, Options{
		Speed:     c.rate,
		MouseTail: true,
		Hooks:     c.hooksFor(id),
	})
	if err != nil {
		c.detachLocked()
		c.state = Uninitialized
		c.mu.Unlock()
		return err
	}

	base := targetMs
	c.prim = prim
	c.instanceID = id
	c.seekBase = &base
	c.virtualMs = targetMs
	c.playing = false
	c.state = Ready
	snap := c.snapshotLocked()
	snap.Seeked = true
	c.mu.Unlock()

	metrics.SeeksTotal.Inc()
	metrics.PrimitiveRebuilds.Inc()
	slog.Debug("seek completed", "target_ms", targetMs, "prefix_events", len(prefix), "instance", id)
	c.firePostCreate(id)
	c.notify(snap)
	return nil
}

// seekPrefixLocked builds the event prefix a seek reconstruction needs:
// all events at or before the target timestamp, full-state snapshot
// first, extended with the next chronological events up to the
// primitive's minimum of two.
func (c *Controller) seekPrefixLocked(targetMs float64) []event.Event {
	targetTs := c.startTs + int64(targetMs)

	prefix := make([]event.Event, 0, len(c.events))
	included := make([]bool, len(c.events))
	for i, ev := range c.events {
		if ev.Timestamp <= targetTs {
			prefix = append(prefix, ev)
			included[i] = true
		}
	}

	// The primitive demands a leading full-state event; everything
	// else keeps its original order.
	if fs := event.FirstFullState(prefix); fs > 0 {
		reordered := make([]event.Event, 0, len(prefix))
		reordered = append(reordered, prefix[fs])
		reordered = append(reordered, prefix[:fs]...)
		reordered = append(reordered, prefix[fs+1:]...)
		prefix = reordered
	}

	// Below the minimum input size: extend with the next chronological
	// events until two are available or the sequence is exhausted.
	for len(prefix) < 2 {
		next := -1
		for i, ev := range c.events {
			if included[i] {
				continue
			}
			if next == -1 || ev.Timestamp < c.events[next].Timestamp {
				next = i
			}
		}
		if next == -1 {
			break
		}
		included[next] = true
		prefix = append(prefix, c.events[next])
	}
	return prefix
}

// VirtualTimeMs returns the current position on the virtual timeline.
func (c *Controller) VirtualTimeMs() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.virtualMs
}

// DurationMs returns the loaded recording's span.
func (c *Controller) DurationMs() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.durationMs
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Rate returns the configured playback rate.
func (c *Controller) Rate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate
}

// IsPlaying reports whether the primitive last notified a start.
func (c *Controller) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

// InstanceID returns the current primitive instance token.
func (c *Controller) InstanceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instanceID
}

// StillCurrent reports whether id names the live primitive instance.
// Deferred side effects call this before touching the container.
func (c *Controller) StillCurrent(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return id != "" && id == c.instanceID
}

// Close tears down the live primitive and poller.
func (c *Controller) Close() {
	c.mu.Lock()
	old := c.detachLocked()
	c.state = Uninitialized
	c.mu.Unlock()
	releasePrimitive(old)
}

// detachLocked unhooks the previous instance and stops polling,
// returning the primitive for release. The release itself happens
// outside c.mu: pausing a primitive fires its pause notification,
// which funnels back through this mutex. Callers hold c.mu.
func (c *Controller) detachLocked() Primitive {
	prim := c.prim
	c.prim = nil
	if c.pollDone != nil {
		close(c.pollDone)
		c.pollDone = nil
	}
	c.instanceID = ""
	return prim
}

func releasePrimitive(prim Primitive) {
	if prim != nil {
		prim.Pause()
		prim.Close()
	}
}

// hooksFor binds the primitive lifecycle notifications to state
// transitions, tagged with the owning instance token. A primitive
// invokes hooks outside its own lock, so a notification can still be
// in flight when a seek or load replaces the instance; the token check
// drops it instead of applying it to the replacement.
func (c *Controller) hooksFor(id string) Hooks {
	return Hooks{
		OnStart:  func() { c.handleStart(id) },
		OnPause:  func() { c.handlePause(id) },
		OnFinish: func() { c.handleFinish(id) },
	}
}

func (c *Controller) handleStart(id string) {
	c.mu.Lock()
	if id != c.instanceID {
		c.mu.Unlock()
		return
	}
	c.playing = true
	if c.state == Ready || c.state == Finished {
		c.state = Playing
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
}

func (c *Controller) handlePause(id string) {
	c.mu.Lock()
	if id != c.instanceID {
		c.mu.Unlock()
		return
	}
	c.playing = false
	if c.state == Playing {
		c.state = Ready
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
}

func (c *Controller) handleFinish(id string) {
	c.mu.Lock()
	if id != c.instanceID {
		c.mu.Unlock()
		return
	}
	c.playing = false
	c.state = Finished
	if c.prim != nil {
		if t, ok := c.prim.CurrentTime(); ok && !math.IsNaN(t) {
			c.virtualMs = c.rebaseLocked(t)
		}
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
}

// pollLoop refreshes virtual time on a coarse fixed tick. Staleness is
// bounded by one tick interval.
func (c *Controller) pollLoop(done <-chan struct{}) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.pollOnce()
		}
	}
}

// pollOnce reads the primitive clock and applies the re-basing rule.
// Invalid or NaN readings are ignored, holding the last known time.
func (c *Controller) pollOnce() {
	c.mu.Lock()
	if c.state == Seeking || c.prim == nil {
		c.mu.Unlock()
		return
	}
	t, ok := c.prim.CurrentTime()
	if !ok || math.IsNaN(t) {
		c.mu.Unlock()
		return
	}
	c.virtualMs = c.rebaseLocked(t)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
}

// rebaseLocked converts a primitive-local reading to virtual time:
// seekBase + reading while a seek base is set, the plain reading after
// a fresh load. Callers hold c.mu.
func (c *Controller) rebaseLocked(primitiveMs float64) float64 {
	if c.seekBase != nil {
		return *c.seekBase + primitiveMs
	}
	return primitiveMs
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		State:         c.state,
		VirtualTimeMs: c.virtualMs,
		DurationMs:    c.durationMs,
		Rate:          c.rate,
		Playing:       c.playing,
	}
}

func (c *Controller) notify(snap Snapshot) {
	if c.onChange != nil {
		c.onChange(snap)
	}
}

func (c *Controller) firePostCreate(id string) {
	if c.postCreate != nil {
		go c.postCreate(id)
	}
}
