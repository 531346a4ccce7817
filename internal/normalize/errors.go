package normalize

import "fmt"

// MalformedCandleError reports a raw record that cannot become a Candle.
// Index is the record position in the batch, -1 for batch-level problems.
type MalformedCandleError struct {
	Index  int
	Field  string
	Reason string
	Err    error
}

func (e *MalformedCandleError) Error() string {
	if e.Index < 0 {
		return "malformed candle batch: " + e.Reason
	}
	if e.Field == "" {
		return fmt.Sprintf("malformed candle %d: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("malformed candle %d: %s: %s", e.Index, e.Field, e.Reason)
}

func (e *MalformedCandleError) Unwrap() error { return e.Err }

// OrderingError reports open times that are not strictly increasing.
type OrderingError struct {
	Index int // index of the offending record
	Prev  int64
	Curr  int64
}

func (e *OrderingError) Error() string {
	return fmt.Sprintf("candle %d out of order: open_time %d after %d", e.Index, e.Curr, e.Prev)
}
