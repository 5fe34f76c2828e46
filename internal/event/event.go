// Package event defines the recording event model shared by the wire
// pipeline, the assembler, and the playback controller.
//
// Events are constructed once during assembly and are immutable
// afterwards. The playback controller only ever re-slices event
// sequences; it never edits individual events.
package event

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind is the numeric event tag carried on the wire.
//
// The numeric values are part of the wire contract and must be
// preserved verbatim. Producers emit them as either JSON numbers or
// numeric strings; both forms are accepted.
type Kind int

const (
	// KindFullState carries a complete description of visual state at
	// one instant. Every playable recording contains at least one.
	KindFullState Kind = 2

	// KindIncremental carries a delta since the prior state: removed,
	// added, textChanges, and attributeChanges sub-lists.
	KindIncremental Kind = 3

	// KindMeta carries viewport metadata (dimensions, href).
	KindMeta Kind = 4

	// KindCustom carries producer-defined payloads.
	KindCustom Kind = 5
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindFullState:
		return "full_state"
	case KindIncremental:
		return "incremental"
	case KindMeta:
		return "meta"
	case KindCustom:
		return "custom"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// known reports whether k is one of the wire-contract tags.
func (k Kind) known() bool {
	switch k {
	case KindFullState, KindIncremental, KindMeta, KindCustom:
		return true
	}
	return false
}

// IncrementalLists names the four sub-lists of an incremental event's
// data, in wire order. Each resolves to an array of change records
// after decompression; a non-array value is never propagated.
var IncrementalLists = []string{"removed", "added", "textChanges", "attributeChanges"}

// Event is the unit of replay.
//
// Data is kind-dependent: a full DOM-description object for
// KindFullState, a map holding the four change sub-lists for
// KindIncremental. Before field decompression Data may still be a
// compressed string; see the wire package.
//
// Extra preserves top-level wire fields that are neither the kind tag,
// the timestamp, the data payload, nor a transport-only field.
type Event struct {
	Kind      Kind
	Timestamp int64 // milliseconds
	Data      any
	Extra     map[string]any
}

// wire field names.
const (
	fieldType      = "type"
	fieldTimestamp = "timestamp"
	fieldData      = "data"
)

// FromMap builds an Event from a decoded wire object. It returns
// ok=false when the object has no recognizable kind tag; such records
// are expected at chunk boundaries and are dropped, not errors.
//
// The input map is never mutated.
func FromMap(m map[string]any) (Event, bool) {
	kind, ok := parseKind(m[fieldType])
	if !ok {
		return Event{}, false
	}
	ts, _ := parseMillis(m[fieldTimestamp])

	ev := Event{
		Kind:      kind,
		Timestamp: ts,
		Data:      m[fieldData],
	}
	for k, v := range m {
		if k == fieldType || k == fieldTimestamp || k == fieldData {
			continue
		}
		if ev.Extra == nil {
			ev.Extra = make(map[string]any)
		}
		ev.Extra[k] = v
	}
	return ev, true
}

// parseKind resolves the wire kind tag from a JSON number or a numeric
// string. Unknown tags are rejected.
func parseKind(v any) (Kind, bool) {
	switch t := v.(type) {
	case float64:
		k := Kind(int(t))
		return k, float64(int(t)) == t && k.known()
	case string:
		n, err := strconv.Atoi(t)
		if err != nil {
			return 0, false
		}
		k := Kind(n)
		return k, k.known()
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0, false
		}
		k := Kind(n)
		return k, k.known()
	default:
		return 0, false
	}
}

// parseMillis resolves a millisecond timestamp from a JSON number or a
// numeric string.
func parseMillis(v any) (int64, bool) {
	switch t := v.(type) {
	case float64:
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		return n, err == nil
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}

// MarshalJSON emits the wire form: type and timestamp as numbers, data
// when present, then any preserved extra fields.
func (e Event) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, 3+len(e.Extra))
	m[fieldType] = int(e.Kind)
	m[fieldTimestamp] = e.Timestamp
	if e.Data != nil {
		m[fieldData] = e.Data
	}
	for k, v := range e.Extra {
		m[k] = v
	}
	return json.Marshal(m)
}

// UnmarshalJSON accepts the wire form, including numeric-string kind
// tags. An object without a recognizable kind tag is an error here
// (unlike normalization, which silently drops such records).
func (e *Event) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	ev, ok := FromMap(m)
	if !ok {
		return fmt.Errorf("event: object has no recognizable kind tag")
	}
	*e = ev
	return nil
}

// DurationMs returns the span of an assembled sequence: the distance
// between the first and last event timestamps. Empty or single-event
// sequences have zero duration.
func DurationMs(events []Event) int64 {
	if len(events) < 2 {
		return 0
	}
	return events[len(events)-1].Timestamp - events[0].Timestamp
}

// FirstFullState returns the index of the first full-state event, or
// -1 when the sequence contains none.
func FirstFullState(events []Event) int {
	for i, ev := range events {
		if ev.Kind == KindFullState {
			return i
		}
	}
	return -1
}

// CountByKind tallies events per kind tag.
func CountByKind(events []Event) map[Kind]int {
	counts := make(map[Kind]int)
	for _, ev := range events {
		counts[ev.Kind]++
	}
	return counts
}
