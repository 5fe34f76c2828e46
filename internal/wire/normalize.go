package wire

import (
	"log/slog"

	"github.com/tapedeck-io/tapedeck/internal/event"
)

// transportFields are service-internal fields attached by the upload
// path. They are not part of the event contract and are stripped
// during normalization.
var transportFields = map[string]struct{}{
	"sessionId":  {},
	"chunkSeq":   {},
	"receivedAt": {},
	"uploadKey":  {},
}

// Normalize extracts recording events from decoded raw records.
//
// A record may be a 2-element pairing (sessionID, eventObject) or a
// bare event object. A record is accepted only when the resolved
// object carries a recognizable kind tag; anything else is silently
// dropped - malformed and partial records are expected at chunk
// boundaries.
//
// Input order is preserved. Normalization never sorts by timestamp:
// cross-chunk disorder is tolerated downstream by timestamp-threshold
// filtering, not repaired here.
func Normalize(records []any) []event.Event {
	events := make([]event.Event, 0, len(records))
	for _, rec := range records {
		obj := rec
		if pair, ok := rec.([]any); ok && len(pair) == 2 {
			obj = pair[1]
		}
		m, ok := obj.(map[string]any)
		if !ok {
			slog.Debug("dropping non-object record")
			continue
		}
		ev, ok := event.FromMap(stripTransport(m))
		if !ok {
			slog.Debug("dropping record without kind tag")
			continue
		}
		events = append(events, ev)
	}
	return events
}

// stripTransport removes transport-only fields via shallow copy. The
// input map is never mutated.
func stripTransport(m map[string]any) map[string]any {
	needsCopy := false
	for k := range transportFields {
		if _, ok := m[k]; ok {
			needsCopy = true
			break
		}
	}
	if !needsCopy {
		return m
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if _, drop := transportFields[k]; drop {
			continue
		}
		out[k] = v
	}
	return out
}
