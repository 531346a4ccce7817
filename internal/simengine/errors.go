package simengine

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned for an unknown session id.
var ErrSessionNotFound = errors.New("session not found")

// SourceError wraps a candle fetch failure. The pass is abandoned and the
// session left untouched; the next pass may succeed.
type SourceError struct {
	Symbol   string
	Interval string
	Err      error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("candle data unavailable for %s %s: %v", e.Symbol, e.Interval, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }
