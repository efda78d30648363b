package kernel

import "time"

// OutcomeStatus is the terminal state of an execution.
type OutcomeStatus string

const (
	// OutcomeOK means the kernel ran the code to completion.
	OutcomeOK OutcomeStatus = "ok"

	// OutcomeFailed means the kernel reported an exception.
	OutcomeFailed OutcomeStatus = "failed"

	// OutcomeAborted means the execution was interrupted by a disconnect,
	// dispose or abandoned wait before the kernel settled it.
	OutcomeAborted OutcomeStatus = "aborted"
)

// Outcome is the single terminal result of an execution. Err holds the
// *ExecutionError for Failed outcomes and the abort cause for Aborted ones.
type Outcome struct {
	Status OutcomeStatus
	Err    error
}

// Execution is the record of one finished execution, as handed to a
// Recorder.
type Execution struct {
	CorrelationID string
	Document      string
	KernelID      string
	Code          string
	Status        OutcomeStatus
	Error         string
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Recorder receives one record per finished execution. Recording failures
// are logged and never affect the execution itself.
type Recorder func(ex Execution) error
