package player

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapedeck-io/tapedeck/internal/event"
)

// fakePrimitive is a scripted primitive: tests set its reported time
// directly and decide when lifecycle notifications fire.
type fakePrimitive struct {
	mu      sync.Mutex
	events  []event.Event
	hooks   Hooks
	speed   float64
	current float64
	timeOK  bool
	playing bool
	closed  bool
	pauses  int
}

func (p *fakePrimitive) Play() {
	p.mu.Lock()
	p.playing = true
	onStart := p.hooks.OnStart
	p.mu.Unlock()
	if onStart != nil {
		onStart()
	}
}

func (p *fakePrimitive) Pause() {
	p.mu.Lock()
	p.playing = false
	p.pauses++
	onPause := p.hooks.OnPause
	p.mu.Unlock()
	if onPause != nil {
		onPause()
	}
}

func (p *fakePrimitive) CurrentTime() (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, p.timeOK
}

func (p *fakePrimitive) SetSpeed(speed float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.speed = speed
}

func (p *fakePrimitive) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *fakePrimitive) setTime(ms float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = ms
	p.timeOK = true
}

func (p *fakePrimitive) finish() {
	p.mu.Lock()
	onFinish := p.hooks.OnFinish
	p.mu.Unlock()
	if onFinish != nil {
		onFinish()
	}
}

// fakeFactory records every primitive it constructs.
type fakeFactory struct {
	mu      sync.Mutex
	created []*fakePrimitive
}

func (f *fakeFactory) new(events []event.Event, opts Options) (Primitive, error) {
	p := &fakePrimitive{events: events, hooks: opts.Hooks, speed: opts.Speed, timeOK: true}
	f.mu.Lock()
	f.created = append(f.created, p)
	f.mu.Unlock()
	return p, nil
}

func (f *fakeFactory) last(t *testing.T) *fakePrimitive {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.created)
	return f.created[len(f.created)-1]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func testEvents() []event.Event {
	return []event.Event{
		{Kind: event.KindMeta, Timestamp: 1000},
		{Kind: event.KindFullState, Timestamp: 1000, Data: map[string]any{"node": 1.0}},
		{Kind: event.KindIncremental, Timestamp: 1500},
		{Kind: event.KindIncremental, Timestamp: 2000},
		{Kind: event.KindIncremental, Timestamp: 3000},
	}
}

func newTestController(f *fakeFactory, opts ...Option) *Controller {
	base := []Option{
		WithPollInterval(10 * time.Millisecond),
		WithTokenGenerator(NewFixedTokens("inst-1", "inst-2", "inst-3", "inst-4")),
	}
	return New(f.new, append(base, opts...)...)
}

func TestController_LoadResetsState(t *testing.T) {
	f := &fakeFactory{}
	c := newTestController(f)
	t.Cleanup(c.Close)

	require.NoError(t, c.Load(testEvents()))

	assert.Equal(t, Ready, c.State())
	assert.Equal(t, int64(2000), c.DurationMs())
	assert.Equal(t, float64(0), c.VirtualTimeMs())
	assert.False(t, c.IsPlaying())
	assert.Equal(t, "inst-1", c.InstanceID())
	assert.Equal(t, 1, f.count())
	assert.Len(t, f.last(t).events, 5)
}

func TestController_LoadEmpty(t *testing.T) {
	f := &fakeFactory{}
	c := newTestController(f)
	assert.ErrorIs(t, c.Load(nil), ErrNotLoaded)
}

func TestController_OperationsBeforeLoad(t *testing.T) {
	f := &fakeFactory{}
	c := newTestController(f)

	assert.ErrorIs(t, c.Play(), ErrNotLoaded)
	assert.ErrorIs(t, c.Pause(), ErrNotLoaded)
	assert.ErrorIs(t, c.Seek(500), ErrNotLoaded)
}

func TestController_PlayingStateComesFromNotifications(t *testing.T) {
	f := &fakeFactory{}
	c := newTestController(f)
	t.Cleanup(c.Close)
	require.NoError(t, c.Load(testEvents()))

	require.NoError(t, c.Play())
	assert.True(t, c.IsPlaying())
	assert.Equal(t, Playing, c.State())

	require.NoError(t, c.Pause())
	assert.False(t, c.IsPlaying())
	assert.Equal(t, Ready, c.State())
}

// A primitive that starts asynchronously: Play() alone must not flip
// the controller's playing flag.
type silentPrimitive struct{ fakePrimitive }

func (p *silentPrimitive) Play() {}

func TestController_UserActionAloneDoesNotSetPlaying(t *testing.T) {
	var prim *silentPrimitive
	factory := func(events []event.Event, opts Options) (Primitive, error) {
		prim = &silentPrimitive{fakePrimitive{hooks: opts.Hooks, timeOK: true}}
		return prim, nil
	}
	c := New(factory, WithPollInterval(10*time.Millisecond))
	t.Cleanup(c.Close)
	require.NoError(t, c.Load(testEvents()))

	require.NoError(t, c.Play())
	assert.False(t, c.IsPlaying(), "isPlaying must wait for the start notification")

	prim.hooks.OnStart()
	assert.True(t, c.IsPlaying())
}

func TestController_SetRate(t *testing.T) {
	f := &fakeFactory{}
	c := newTestController(f)
	t.Cleanup(c.Close)
	require.NoError(t, c.Load(testEvents()))

	require.NoError(t, c.SetRate(2))
	assert.Equal(t, float64(2), c.Rate())
	assert.Equal(t, float64(2), f.last(t).speed)
	assert.Equal(t, 1, f.count(), "rate change must not recreate the primitive")

	var re *RateError
	assert.ErrorAs(t, c.SetRate(3), &re)
}

func TestController_PollAppliesPrimitiveTime(t *testing.T) {
	f := &fakeFactory{}
	c := newTestController(f)
	t.Cleanup(c.Close)
	require.NoError(t, c.Load(testEvents()))

	f.last(t).setTime(123)
	assert.Eventually(t, func() bool {
		return c.VirtualTimeMs() == 123
	}, time.Second, 5*time.Millisecond)
}

func TestController_PollIgnoresInvalidReads(t *testing.T) {
	f := &fakeFactory{}
	c := newTestController(f)
	t.Cleanup(c.Close)
	require.NoError(t, c.Load(testEvents()))

	f.last(t).setTime(100)
	assert.Eventually(t, func() bool { return c.VirtualTimeMs() == 100 }, time.Second, 5*time.Millisecond)

	prim := f.last(t)
	prim.mu.Lock()
	prim.timeOK = false
	prim.mu.Unlock()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, float64(100), c.VirtualTimeMs(), "invalid reads hold the last known time")
}

func TestController_SeekRebuildsPrefixFullStateFirst(t *testing.T) {
	f := &fakeFactory{}
	c := newTestController(f)
	t.Cleanup(c.Close)
	require.NoError(t, c.Load(testEvents()))
	old := f.last(t)

	require.NoError(t, c.Seek(700)) // targetTs = 1700

	assert.Equal(t, float64(700), c.VirtualTimeMs())
	assert.Equal(t, Ready, c.State())
	assert.False(t, c.IsPlaying())
	assert.True(t, old.closed, "previous instance must be released")
	assert.GreaterOrEqual(t, old.pauses, 1, "previous instance must be paused before teardown")

	fresh := f.last(t)
	require.Len(t, fresh.events, 3)
	assert.Equal(t, event.KindFullState, fresh.events[0].Kind)
	assert.Equal(t, event.KindMeta, fresh.events[1].Kind)
	assert.Equal(t, int64(1500), fresh.events[2].Timestamp)
	assert.Equal(t, "inst-2", c.InstanceID())
}

func TestController_SeekRebasesSubsequentReadings(t *testing.T) {
	f := &fakeFactory{}
	c := newTestController(f)
	t.Cleanup(c.Close)
	require.NoError(t, c.Load(testEvents()))

	require.NoError(t, c.Seek(700))
	f.last(t).setTime(100)

	assert.Eventually(t, func() bool {
		return c.VirtualTimeMs() == 800
	}, time.Second, 5*time.Millisecond, "post-seek readings are offsets added to the seek base")
}

func TestController_FreshLoadClearsSeekBase(t *testing.T) {
	f := &fakeFactory{}
	c := newTestController(f)
	t.Cleanup(c.Close)
	require.NoError(t, c.Load(testEvents()))
	require.NoError(t, c.Seek(700))

	require.NoError(t, c.Load(testEvents()))
	f.last(t).setTime(50)

	assert.Eventually(t, func() bool {
		return c.VirtualTimeMs() == 50
	}, time.Second, 5*time.Millisecond, "a fresh load reverts to plain primitive time")
}

func TestController_SeekBeforeFirstEventExtendsPrefix(t *testing.T) {
	f := &fakeFactory{}
	c := newTestController(f)
	t.Cleanup(c.Close)
	require.NoError(t, c.Load([]event.Event{
		{Kind: event.KindFullState, Timestamp: 5000},
		{Kind: event.KindIncremental, Timestamp: 5500},
		{Kind: event.KindIncremental, Timestamp: 6000},
	}))

	require.NoError(t, c.Seek(0))
	fresh := f.last(t)
	require.Len(t, fresh.events, 2, "a thin prefix extends with the next chronological event")
	assert.Equal(t, int64(5000), fresh.events[0].Timestamp)
	assert.Equal(t, int64(5500), fresh.events[1].Timestamp)
}

func TestController_SeekRefusedBelowMinimum(t *testing.T) {
	f := &fakeFactory{}
	c := newTestController(f)
	t.Cleanup(c.Close)
	require.NoError(t, c.Load([]event.Event{{Kind: event.KindFullState, Timestamp: 1000}}))

	err := c.Seek(500)
	require.Error(t, err)
	assert.True(t, IsSeekPrecondition(err))
	assert.Equal(t, Ready, c.State(), "refused seek leaves state at prior position")
	assert.Equal(t, 1, f.count(), "refused seek must not rebuild the primitive")
}

func TestController_SeekVirtualTimeImmediatelyVisible(t *testing.T) {
	f := &fakeFactory{}
	c := newTestController(f)
	t.Cleanup(c.Close)
	require.NoError(t, c.Load(testEvents()))

	require.NoError(t, c.Play())
	require.NoError(t, c.Seek(1200))
	assert.Equal(t, float64(1200), c.VirtualTimeMs(),
		"seek(t) followed by a read returns t regardless of prior play state")
}

func TestController_SeekEmitsSeekingThenSeekedSnapshots(t *testing.T) {
	f := &fakeFactory{}
	var mu sync.Mutex
	var snaps []Snapshot
	c := newTestController(f, WithPollInterval(time.Hour), WithOnChange(func(s Snapshot) {
		mu.Lock()
		snaps = append(snaps, s)
		mu.Unlock()
	}))
	t.Cleanup(c.Close)
	require.NoError(t, c.Load(testEvents()))

	mu.Lock()
	snaps = nil
	mu.Unlock()

	require.NoError(t, c.Seek(700))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, snaps)
	assert.Equal(t, Seeking, snaps[0].State)
	last := snaps[len(snaps)-1]
	assert.True(t, last.Seeked)
	assert.Equal(t, Ready, last.State)
	assert.Equal(t, float64(700), last.VirtualTimeMs)
}

func TestController_FinishNotification(t *testing.T) {
	f := &fakeFactory{}
	c := newTestController(f)
	t.Cleanup(c.Close)
	require.NoError(t, c.Load(testEvents()))

	require.NoError(t, c.Play())
	f.last(t).setTime(2000)
	f.last(t).finish()

	assert.Equal(t, Finished, c.State())
	assert.False(t, c.IsPlaying())
	assert.Equal(t, float64(2000), c.VirtualTimeMs())
}

func TestController_StaleNotificationsDropped(t *testing.T) {
	f := &fakeFactory{}
	c := newTestController(f)
	t.Cleanup(c.Close)
	require.NoError(t, c.Load(testEvents()))
	old := f.last(t)

	require.NoError(t, c.Seek(700))
	require.Equal(t, Ready, c.State())

	// A finish notification from the superseded instance delivered
	// after the seek completed must not touch the new instance's state.
	old.finish()
	assert.Equal(t, Ready, c.State())
	assert.Equal(t, float64(700), c.VirtualTimeMs())

	old.mu.Lock()
	onStart := old.hooks.OnStart
	onPause := old.hooks.OnPause
	old.mu.Unlock()

	onStart()
	assert.False(t, c.IsPlaying(), "stale start must not flip the playing flag")
	assert.Equal(t, Ready, c.State())

	require.NoError(t, c.Play())
	onPause()
	assert.True(t, c.IsPlaying(), "stale pause must not override the live instance")
}

func TestController_SeekFactoryFailureDetaches(t *testing.T) {
	f := &fakeFactory{}
	calls := 0
	factory := func(events []event.Event, opts Options) (Primitive, error) {
		calls++
		if calls > 1 {
			return nil, errors.New("container gone")
		}
		return f.new(events, opts)
	}
	c := New(factory,
		WithPollInterval(10*time.Millisecond),
		WithTokenGenerator(NewFixedTokens("inst-1", "inst-2")))
	t.Cleanup(c.Close)
	require.NoError(t, c.Load(testEvents()))

	require.Error(t, c.Seek(700))
	assert.Equal(t, Uninitialized, c.State())
	assert.Empty(t, c.InstanceID(), "failed rebuild must release the instance identity")
	assert.ErrorIs(t, c.Play(), ErrNotLoaded)
}

func TestController_StillCurrentAcrossSeek(t *testing.T) {
	f := &fakeFactory{}
	created := make(chan string, 4)
	c := newTestController(f, WithPostCreate(func(id string) { created <- id }))
	t.Cleanup(c.Close)

	require.NoError(t, c.Load(testEvents()))
	first := <-created
	assert.True(t, c.StillCurrent(first))

	require.NoError(t, c.Seek(700))
	second := <-created
	assert.False(t, c.StillCurrent(first), "stale instance tokens must be rejected")
	assert.True(t, c.StillCurrent(second))
	assert.False(t, c.StillCurrent(""))
}
