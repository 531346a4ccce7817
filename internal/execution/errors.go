package execution

import "fmt"

// InvalidTriggerError rejects a cycle input before any state is touched.
type InvalidTriggerError struct {
	Field string
	Value float64
}

func (e *InvalidTriggerError) Error() string {
	return fmt.Sprintf("invalid %s: %v (must be finite and >= 0)", e.Field, e.Value)
}

// LedgerWriteError wraps a failed ledger append during Finalize.
// The session keeps its order log and position so Finalize can be retried.
type LedgerWriteError struct {
	Err error
}

func (e *LedgerWriteError) Error() string {
	return "ledger write failed: " + e.Err.Error()
}

func (e *LedgerWriteError) Unwrap() error { return e.Err }
