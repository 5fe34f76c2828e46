package assemble

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapedeck-io/tapedeck/internal/event"
)

// fakeFetcher serves chunk payloads from memory, keyed by locator.
type fakeFetcher struct {
	mu       sync.Mutex
	payloads map[string][]byte
	delays   map[string]time.Duration
	failing  map[string]error
	sources  []Locator
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		payloads: make(map[string][]byte),
		delays:   make(map[string]time.Duration),
		failing:  make(map[string]error),
	}
}

func (f *fakeFetcher) add(key string, payload string) Locator {
	loc := Locator{Start: key}
	f.payloads[key] = []byte(payload)
	f.sources = append(f.sources, loc)
	return loc
}

func (f *fakeFetcher) ListSources(ctx context.Context, sessionID string) ([]Locator, error) {
	return f.sources, nil
}

func (f *fakeFetcher) FetchChunk(ctx context.Context, loc Locator) ([]byte, error) {
	f.mu.Lock()
	delay := f.delays[loc.Key()]
	err := f.failing[loc.Key()]
	payload, ok := f.payloads[loc.Key()]
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("unknown locator %s", loc.Key())
	}
	return payload, nil
}

// deflate builds a compressed sub-list value in the wire's
// binary-string convention.
func deflate(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err = zw.Write(raw)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	rs := make([]rune, buf.Len())
	for i, b := range buf.Bytes() {
		rs[i] = rune(b)
	}
	return string(rs)
}

func TestAssemble_EmptyLocatorList(t *testing.T) {
	a := New(newFakeFetcher())
	_, err := a.Assemble(context.Background(), nil)
	assert.True(t, IsNoSources(err))
}

func TestAssemble_NoFullState(t *testing.T) {
	f := newFakeFetcher()
	f.add("c1", `[{"type":4,"timestamp":1000},{"type":3,"timestamp":1100,"data":{}}]`)

	a := New(f)
	_, err := a.Assemble(context.Background(), f.sources)
	assert.True(t, IsNoFullState(err))
}

func TestAssemble_Scenario(t *testing.T) {
	// Meta + full-state + incremental-with-compressed-removed, per the
	// canonical three-event session.
	removed := []any{map[string]any{"id": float64(5)}}
	chunk, err := json.Marshal([]any{
		map[string]any{"type": 4, "timestamp": 1000, "width": 390, "height": 699},
		map[string]any{"type": 2, "timestamp": 1000, "data": map[string]any{"node": map[string]any{"id": 1}}},
		map[string]any{"type": 3, "timestamp": 1500, "data": map[string]any{"removed": deflate(t, removed)}},
	})
	require.NoError(t, err)

	f := newFakeFetcher()
	f.add("c1", string(chunk))

	a := New(f)
	events, err := a.Assemble(context.Background(), f.sources)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, event.KindMeta, events[0].Kind)
	assert.Equal(t, event.KindFullState, events[1].Kind)
	assert.Equal(t, event.KindIncremental, events[2].Kind)
	assert.Equal(t, int64(500), event.DurationMs(events))

	data, ok := events[2].Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, removed, data["removed"])
}

func TestAssemble_ConcatenatesInLocatorOrder(t *testing.T) {
	f := newFakeFetcher()
	f.add("c1", `[{"type":2,"timestamp":1000,"data":{}}]`)
	f.add("c2", `[{"type":3,"timestamp":2000,"data":{}}]`)
	f.add("c3", `[{"type":3,"timestamp":3000,"data":{}}]`)
	// Make the first chunk the slowest so arrival order inverts.
	f.delays["c1"] = 30 * time.Millisecond
	f.delays["c2"] = 10 * time.Millisecond

	a := New(f, WithConcurrency(3))
	events, err := a.Assemble(context.Background(), f.sources)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, int64(1000), events[0].Timestamp)
	assert.Equal(t, int64(2000), events[1].Timestamp)
	assert.Equal(t, int64(3000), events[2].Timestamp)
}

func TestAssemble_UndecodableChunkContributesNothing(t *testing.T) {
	f := newFakeFetcher()
	f.add("c1", `[{"type":2,"timestamp":1000,"data":{}}]`)
	f.add("c2", "complete garbage\nmore garbage")
	f.add("c3", `[{"type":3,"timestamp":2000,"data":{}}]`)

	a := New(f)
	events, err := a.Assemble(context.Background(), f.sources)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestAssemble_FetchFailureIsTerminal(t *testing.T) {
	f := newFakeFetcher()
	f.add("c1", `[{"type":2,"timestamp":1000,"data":{}}]`)
	loc := f.add("c2", "")
	f.failing[loc.Key()] = errors.New("boom")

	a := New(f)
	_, err := a.Assemble(context.Background(), f.sources)
	require.Error(t, err)
	assert.True(t, IsSourceFetch(err))

	var ae *AssemblyError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "c2", ae.Locator)
}

func TestAssembleSession_ListFailurePropagates(t *testing.T) {
	a := New(&listFailFetcher{})
	_, err := a.AssembleSession(context.Background(), "s-1")
	assert.True(t, IsSourceFetch(err))
}

type listFailFetcher struct{}

func (f *listFailFetcher) ListSources(ctx context.Context, sessionID string) ([]Locator, error) {
	return nil, errors.New("listing unavailable")
}

func (f *listFailFetcher) FetchChunk(ctx context.Context, loc Locator) ([]byte, error) {
	return nil, errors.New("unreachable")
}

func TestLocator_Key(t *testing.T) {
	assert.Equal(t, "a", Locator{Start: "a"}.Key())
	assert.Equal(t, "a..b", Locator{Start: "a", End: "b"}.Key())
}
