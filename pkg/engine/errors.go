package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateExecution is returned by Start when the execution ID is
	// already in use, live or in the history store.
	ErrDuplicateExecution = errors.New("execution id already in use")

	// ErrExecutionNotFound is returned when no live or stored execution
	// matches the given ID.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrUnknownWorkflow is returned by Start for an unregistered workflow name.
	ErrUnknownWorkflow = errors.New("unknown workflow")

	// ErrUnknownQuery is returned when an execution has no handler for the
	// requested query name.
	ErrUnknownQuery = errors.New("unknown query")

	// ErrEngineClosed is returned once the engine has been shut down.
	ErrEngineClosed = errors.New("engine is closed")
)

// IsClientError reports whether err is one of the sentinel errors caused by
// the caller's request rather than an engine fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrDuplicateExecution) ||
		errors.Is(err, ErrExecutionNotFound) ||
		errors.Is(err, ErrUnknownWorkflow) ||
		errors.Is(err, ErrUnknownQuery)
}

// NondeterminismError is raised when replayed workflow code issues a command
// that does not match the recorded history at the same schedule ID. The
// execution is failed rather than allowed to diverge.
type NondeterminismError struct {
	ExecutionID string
	ScheduleID  uint64
	Recorded    string
	Issued      string
}

func (e *NondeterminismError) Error() string {
	return fmt.Sprintf("execution %q: nondeterministic replay at schedule %d: recorded %s, issued %s",
		e.ExecutionID, e.ScheduleID, e.Recorded, e.Issued)
}

// ActivityError is what a workflow observes when an activity invocation
// fails. It is reconstructed from history on replay, so live and replayed
// runs see the same value.
type ActivityError struct {
	ActivityType string
	Message      string
}

func (e *ActivityError) Error() string {
	return fmt.Sprintf("activity %q failed: %s", e.ActivityType, e.Message)
}
