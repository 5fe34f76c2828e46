package wire

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/tapedeck-io/tapedeck/internal/event"
	"github.com/tapedeck-io/tapedeck/internal/metrics"
)

// gzip stream magic number.
const (
	gzipMagic0 = 0x1F
	gzipMagic1 = 0x8B
)

// IsCompressed reports whether s is a compressed payload field: a
// string whose first two character codes equal the gzip magic bytes.
// Empty and single-character strings are never compressed.
func IsCompressed(s string) bool {
	var c0, c1 rune
	n := 0
	for _, r := range s {
		switch n {
		case 0:
			c0 = r
		case 1:
			c1 = r
		}
		n++
		if n == 2 {
			break
		}
	}
	return n == 2 && c0 == gzipMagic0 && c1 == gzipMagic1
}

// binaryBytes decodes the wire format's binary-string convention:
// each character code is one byte.
func binaryBytes(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		out = append(out, byte(r))
	}
	return out
}

// Inflate gunzips a compressed payload field into its original bytes.
func Inflate(s string) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(binaryBytes(s)))
	if err != nil {
		return nil, fmt.Errorf("open gzip stream: %w", err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("inflate: %w", err)
	}
	return raw, nil
}

// Decompress returns a copy of ev with compressed payload fields
// inflated according to the event kind's reconstruction rules. The
// input event is never mutated.
//
// Any inflate or parse failure degrades the affected field - to an
// empty array for incremental sub-lists, or to the raw string for a
// full-state payload - and is logged. A failure never aborts the rest
// of the event or the rest of the sequence.
func Decompress(ev event.Event) event.Event {
	switch ev.Kind {
	case event.KindIncremental:
		ev.Data = decompressIncremental(ev)
	case event.KindFullState:
		ev.Data = decompressFullState(ev)
	}
	return ev
}

// decompressIncremental rebuilds the four change sub-lists. Whatever
// the wire carried, each present sub-list ends up an array: compressed
// strings are inflated and parsed, plain strings are parsed, and any
// value that still is not an array is coerced to empty. A non-array
// sub-list is never propagated.
func decompressIncremental(ev event.Event) any {
	data, ok := ev.Data.(map[string]any)
	if !ok {
		return ev.Data
	}

	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}

	for _, list := range event.IncrementalLists {
		v, present := out[list]
		if !present {
			continue
		}
		out[list] = coerceList(inflateListField(list, v, ev.Timestamp))
	}
	return out
}

// inflateListField resolves one sub-list value to its parsed form.
func inflateListField(name string, v any, ts int64) any {
	s, isString := v.(string)
	if !isString {
		return v
	}

	if IsCompressed(s) {
		raw, err := Inflate(s)
		if err != nil {
			slog.Warn("sub-list inflate failed, degrading to empty",
				"field", name, "timestamp", ts, "error", err)
			metrics.FieldsDegraded.Inc()
			return []any{}
		}
		var parsed any
		if err := json.Unmarshal(raw, &parsed); err != nil {
			slog.Warn("inflated sub-list is not valid JSON, degrading to empty",
				"field", name, "timestamp", ts, "error", err)
			metrics.FieldsDegraded.Inc()
			return []any{}
		}
		metrics.FieldsInflated.Inc()
		return parsed
	}

	// Plain string: attempt a JSON parse, leave unchanged on failure.
	// The final array coercion still applies.
	var parsed any
	if err := json.Unmarshal([]byte(s), &parsed); err != nil {
		return v
	}
	return parsed
}

// coerceList guarantees the array contract for sub-lists.
func coerceList(v any) []any {
	if arr, ok := v.([]any); ok {
		return arr
	}
	return []any{}
}

// decompressFullState inflates a compressed full-state payload into
// its DOM-description object. Unlike incremental sub-lists the result
// is an object, not an array, and a parse failure leaves the raw
// string in place rather than coercing - the two rules are distinct on
// purpose and must not be unified.
func decompressFullState(ev event.Event) any {
	s, ok := ev.Data.(string)
	if !ok || !IsCompressed(s) {
		return ev.Data
	}

	raw, err := Inflate(s)
	if err != nil {
		slog.Warn("full-state inflate failed, keeping raw payload",
			"timestamp", ev.Timestamp, "error", err)
		metrics.FieldsDegraded.Inc()
		return ev.Data
	}
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		slog.Warn("inflated full-state payload is not valid JSON, keeping raw payload",
			"timestamp", ev.Timestamp, "error", err)
		metrics.FieldsDegraded.Inc()
		return ev.Data
	}
	metrics.FieldsInflated.Inc()
	return parsed
}
