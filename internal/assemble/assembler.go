// Package assemble orchestrates fetch, decode, normalize, and
// decompress across all chunks of a session, producing the validated
// event sequence the playback controller consumes.
package assemble

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tapedeck-io/tapedeck/internal/event"
	"github.com/tapedeck-io/tapedeck/internal/metrics"
	"github.com/tapedeck-io/tapedeck/internal/wire"
)

// Locator names one retrievable unit of raw recording data by its
// boundary keys. Locators are opaque to the assembler beyond ordering:
// concatenation order is locator list order, always.
type Locator struct {
	Start string `json:"start"`
	End   string `json:"end,omitempty"`
}

// Key returns a stable identifier for logging and cache keys.
func (l Locator) Key() string {
	if l.End == "" {
		return l.Start
	}
	return l.Start + ".." + l.End
}

// Fetcher retrieves raw chunk data for a session. Implementations live
// in the fetch package; the assembler only consumes their typed
// results and errors.
type Fetcher interface {
	ListSources(ctx context.Context, sessionID string) ([]Locator, error)
	FetchChunk(ctx context.Context, loc Locator) ([]byte, error)
}

// DefaultConcurrency bounds parallel chunk fetches. Results are always
// concatenated in locator order regardless of arrival order.
const DefaultConcurrency = 4

// Assembler turns a session's chunks into one ordered event sequence.
type Assembler struct {
	fetcher     Fetcher
	concurrency int
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithConcurrency sets the maximum number of chunks fetched in
// parallel. Values below 1 force sequential fetching.
func WithConcurrency(n int) Option {
	return func(a *Assembler) {
		if n < 1 {
			n = 1
		}
		a.concurrency = n
	}
}

// New creates an Assembler over the given fetcher.
func New(f Fetcher, opts ...Option) *Assembler {
	a := &Assembler{
		fetcher:     f,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AssembleSession lists the session's chunk locators and assembles
// them. A failure of the sources listing itself is terminal for the
// load and propagates to the caller.
func (a *Assembler) AssembleSession(ctx context.Context, sessionID string) ([]event.Event, error) {
	locators, err := a.fetcher.ListSources(ctx, sessionID)
	if err != nil {
		return nil, NewSourceFetchError("", err)
	}
	return a.Assemble(ctx, locators)
}

// Assemble fetches, decodes, normalizes, and decompresses every chunk
// and concatenates the results in locator order.
//
// A chunk that decodes to zero records contributes zero events and is
// logged, not fatal. A chunk whose retrieval fails is terminal: a
// recording with an arbitrary chunk missing may have lost its snapshot
// or an unbounded span of changes, so the whole assembly fails.
//
// Fails with a NO_SOURCES error on an empty locator list and with a
// NO_FULL_STATE error when the concatenated sequence holds no
// full-state snapshot.
func (a *Assembler) Assemble(ctx context.Context, locators []Locator) ([]event.Event, error) {
	if len(locators) == 0 {
		return nil, NewNoSourcesError()
	}

	start := time.Now()
	chunks, err := a.fetchAll(ctx, locators)
	if err != nil {
		return nil, err
	}

	var events []event.Event
	var lastTs int64
	for i, chunk := range chunks {
		if len(chunk) == 0 {
			continue
		}
		// Cross-chunk disorder is tolerated, not repaired: a global
		// sort could reorder same-timestamp structural events.
		if len(events) > 0 && chunk[0].Timestamp < lastTs {
			slog.Warn("cross-chunk timestamp regression",
				"locator", locators[i].Key(),
				"chunk_first", chunk[0].Timestamp,
				"prev_last", lastTs)
		}
		events = append(events, chunk...)
		lastTs = events[len(events)-1].Timestamp
	}

	if event.FirstFullState(events) == -1 {
		return nil, NewNoFullStateError(len(events))
	}

	metrics.AssembliesTotal.Inc()
	metrics.AssemblyDuration.Observe(time.Since(start).Seconds())
	slog.Info("recording assembled",
		"chunks", len(locators),
		"events", len(events),
		"duration_ms", event.DurationMs(events))
	return events, nil
}

// fetchAll retrieves and processes chunks with bounded parallelism,
// slotting results by locator index so concatenation order never
// depends on arrival order. The first retrieval failure wins.
func (a *Assembler) fetchAll(ctx context.Context, locators []Locator) ([][]event.Event, error) {
	chunks := make([][]event.Event, len(locators))
	sem := make(chan struct{}, a.concurrency)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for i, loc := range locators {
		wg.Add(1)
		go func(i int, loc Locator) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			mu.Lock()
			failed := firstErr != nil
			mu.Unlock()
			if failed || ctx.Err() != nil {
				return
			}

			events, err := a.processChunk(ctx, loc)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			chunks[i] = events
		}(i, loc)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return chunks, nil
}

// processChunk runs one chunk through the wire pipeline.
func (a *Assembler) processChunk(ctx context.Context, loc Locator) ([]event.Event, error) {
	raw, err := a.fetcher.FetchChunk(ctx, loc)
	if err != nil {
		return nil, NewSourceFetchError(loc.Key(), err)
	}
	metrics.ChunksFetched.Inc()

	records, err := wire.Decode(raw)
	if err != nil {
		if errors.Is(err, wire.ErrNoRecords) {
			metrics.DecodeFailures.Inc()
			slog.Warn("chunk yielded no records", "locator", loc.Key(), "bytes", len(raw))
			return nil, nil
		}
		return nil, err
	}

	events := wire.Normalize(records)
	for i := range events {
		events[i] = wire.Decompress(events[i])
	}
	slog.Debug("chunk processed", "locator", loc.Key(), "records", len(records), "events", len(events))
	return events, nil
}
