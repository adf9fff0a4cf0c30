package txn

import (
	"errors"
	"fmt"
)

// The submission error taxonomy. Callers branch on these to decide
// whether anything could have reached the ledger:
//
//	ValidationError     — malformed spec, never submitted
//	SimulationError     — pre-flight rejected, never submitted
//	SubmissionError     — broadcast failed after retries, nothing confirmed
//	ConfirmationTimeout — broadcast succeeded, outcome UNKNOWN; the caller
//	                      must re-query ledger state before acting
var (
	ErrValidation          = errors.New("txn: invalid instruction spec")
	ErrSimulation          = errors.New("txn: simulation failed")
	ErrSubmission          = errors.New("txn: broadcast failed")
	ErrConfirmationTimeout = errors.New("txn: confirmation not observed before deadline")
)

// ValidationError describes a structurally invalid instruction spec.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("txn: invalid instruction spec: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// SimulationError carries the node's pre-flight logs. Nothing was
// broadcast; the ledger is untouched.
type SimulationError struct {
	Logs []string
	Err  string
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("txn: simulation failed: %s", e.Err)
}

func (e *SimulationError) Is(target error) bool { return target == ErrSimulation }

// SubmissionError means broadcast failed after the bounded retries were
// exhausted. Nothing reached a confirmed state.
type SubmissionError struct {
	Attempts int
	Err      error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("txn: broadcast failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *SubmissionError) Unwrap() error        { return e.Err }
func (e *SubmissionError) Is(target error) bool { return target == ErrSubmission }

// ConfirmationTimeoutError is the ambiguous outcome: the transaction
// was broadcast but its confirmation was not observed in time. It may
// still land. Never treat this as success or failure.
type ConfirmationTimeoutError struct {
	Signature string
}

func (e *ConfirmationTimeoutError) Error() string {
	return fmt.Sprintf("txn: confirmation not observed for %s before deadline (outcome unknown)", e.Signature)
}

func (e *ConfirmationTimeoutError) Is(target error) bool { return target == ErrConfirmationTimeout }

// ExecutionError means the ledger confirmed the transaction but the
// program rejected it (recorded on-ledger as failed).
type ExecutionError struct {
	Signature string
	Err       string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("txn: transaction %s failed on ledger: %s", e.Signature, e.Err)
}
