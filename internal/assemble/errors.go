package assemble

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes assembly errors.
type ErrorCode string

const (
	// CodeNoSources indicates an empty locator list.
	CodeNoSources ErrorCode = "NO_SOURCES"

	// CodeNoFullState indicates the assembled sequence contains no
	// full-state snapshot and therefore cannot be replayed.
	CodeNoFullState ErrorCode = "NO_FULL_STATE"

	// CodeSourceFetch indicates chunk retrieval failed.
	CodeSourceFetch ErrorCode = "SOURCE_FETCH"

	// CodeDecode indicates a non-empty chunk yielded zero records.
	// Decode failures degrade the chunk to zero events and never carry
	// this code out of Assemble; it exists for logging and metrics.
	CodeDecode ErrorCode = "DECODE"
)

// AssemblyError is a structured error raised while assembling a
// recording from its chunks.
type AssemblyError struct {
	Code    ErrorCode
	Message string
	Locator string // affected chunk, when the error is chunk-scoped
	Err     error
}

// Error implements the error interface.
func (e *AssemblyError) Error() string {
	if e.Locator != "" {
		return fmt.Sprintf("%s: %s (locator=%s)", e.Code, e.Message, e.Locator)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *AssemblyError) Unwrap() error {
	return e.Err
}

// NewNoSourcesError reports an empty locator list.
func NewNoSourcesError() *AssemblyError {
	return &AssemblyError{
		Code:    CodeNoSources,
		Message: "no chunk locators for session",
	}
}

// NewNoFullStateError reports an assembled sequence with no full-state
// snapshot.
func NewNoFullStateError(eventCount int) *AssemblyError {
	return &AssemblyError{
		Code:    CodeNoFullState,
		Message: fmt.Sprintf("no full-state event in %d assembled events", eventCount),
	}
}

// NewSourceFetchError reports a failed chunk retrieval.
func NewSourceFetchError(locator string, err error) *AssemblyError {
	return &AssemblyError{
		Code:    CodeSourceFetch,
		Message: "chunk retrieval failed",
		Locator: locator,
		Err:     err,
	}
}

// IsNoSources reports whether err is a NO_SOURCES assembly error.
// Uses errors.As to handle wrapped errors.
func IsNoSources(err error) bool {
	return hasCode(err, CodeNoSources)
}

// IsNoFullState reports whether err is a NO_FULL_STATE assembly error.
func IsNoFullState(err error) bool {
	return hasCode(err, CodeNoFullState)
}

// IsSourceFetch reports whether err is a SOURCE_FETCH assembly error.
func IsSourceFetch(err error) bool {
	return hasCode(err, CodeSourceFetch)
}

func hasCode(err error, code ErrorCode) bool {
	var ae *AssemblyError
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}
