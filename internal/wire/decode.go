// Package wire turns raw chunk payloads into clean recording events:
// decoding heterogeneous JSON framings, unwrapping transport tuples,
// and inflating compressed payload fields.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
)

// ErrNoRecords is returned by Decode when a non-empty payload yields
// zero parseable records. Callers treat the chunk as contributing no
// events; the error never aborts a whole-session assembly.
var ErrNoRecords = errors.New("wire: no parseable records in payload")

// Decode parses one chunk's raw payload into a sequence of raw records.
//
// The payload is tried as a single JSON document first: an array
// becomes a many-element sequence, any other value a one-element
// sequence. When that parse fails the payload is treated as
// newline-delimited JSON, parsing each non-blank line independently
// and skipping lines that fail to parse.
func Decode(raw []byte) ([]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var doc any
	if err := json.Unmarshal(trimmed, &doc); err == nil {
		if arr, ok := doc.([]any); ok {
			return arr, nil
		}
		return []any{doc}, nil
	}

	return decodeLines(trimmed)
}

// decodeLines is the newline-delimited fallback. A malformed line is
// logged and skipped; only a payload with zero parseable lines fails.
func decodeLines(raw []byte) ([]any, error) {
	var records []any
	for i, line := range bytes.Split(raw, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var rec any
		if err := json.Unmarshal(line, &rec); err != nil {
			slog.Warn("skipping unparseable chunk line", "line", i+1, "error", err)
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	return records, nil
}
