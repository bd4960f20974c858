package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/waveflow/waveflow/pkg/activity"
)

// EventType identifies one durable history event.
type EventType string

const (
	EventExecutionStarted   EventType = "execution_started"
	EventActivityScheduled  EventType = "activity_scheduled"
	EventActivityCompleted  EventType = "activity_completed"
	EventActivityFailed     EventType = "activity_failed"
	EventTimerStarted       EventType = "timer_started"
	EventTimerFired         EventType = "timer_fired"
	EventSignalReceived     EventType = "signal_received"
	EventCancelRequested    EventType = "cancel_requested"
	EventExecutionCompleted EventType = "execution_completed"
	EventExecutionFailed    EventType = "execution_failed"
	EventExecutionCancelled EventType = "execution_cancelled"
)

// terminal reports whether t ends an execution.
func (t EventType) terminal() bool {
	switch t {
	case EventExecutionCompleted, EventExecutionFailed, EventExecutionCancelled:
		return true
	default:
		return false
	}
}

// replayInput reports whether events of this type are fed back to the
// workflow during replay. Command events (scheduled, timer started) are
// instead consumed by the workflow code re-issuing the same commands.
func (t EventType) replayInput() bool {
	switch t {
	case EventActivityCompleted, EventActivityFailed, EventTimerFired,
		EventSignalReceived, EventCancelRequested:
		return true
	default:
		return false
	}
}

// ActivityOptions configures one ExecuteActivity call.
type ActivityOptions struct {
	Queue        string               `json:"queue"`
	StartToClose time.Duration        `json:"start_to_close,omitempty"`
	Retry        activity.RetryPolicy `json:"retry,omitempty"`
}

// Event is one append-only history record. Sequence is assigned by the
// store per execution; ScheduleID ties completions back to the command
// that scheduled them.
type Event struct {
	Sequence     uint64           `json:"sequence"`
	ExecutionID  string           `json:"execution_id"`
	Type         EventType        `json:"type"`
	ScheduleID   uint64           `json:"schedule_id,omitempty"`
	Workflow     string           `json:"workflow,omitempty"`
	ActivityType string           `json:"activity_type,omitempty"`
	Name         string           `json:"name,omitempty"`
	Reason       string           `json:"reason,omitempty"`
	Input        json.RawMessage  `json:"input,omitempty"`
	Result       json.RawMessage  `json:"result,omitempty"`
	Failure      string           `json:"failure,omitempty"`
	Options      *ActivityOptions `json:"options,omitempty"`
	FireAt       time.Time        `json:"fire_at,omitzero"`
	Timestamp    time.Time        `json:"timestamp"`
}

// Status is the lifecycle state of an execution record.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ExecutionRecord is the store-level summary of one execution.
type ExecutionRecord struct {
	ID        string          `json:"id"`
	Workflow  string          `json:"workflow"`
	Status    Status          `json:"status"`
	Input     json.RawMessage `json:"input,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Failure   string          `json:"failure,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ExecutionFilter narrows ListExecutions results.
type ExecutionFilter struct {
	Workflow string
	Status   Status
	Limit    int
	Offset   int
}

// Store persists execution records and their append-only event histories.
type Store interface {
	// AppendEvent assigns the next per-execution sequence and persists the event.
	AppendEvent(ctx context.Context, event Event) (uint64, error)

	// ListEvents returns the full history of an execution in sequence order.
	ListEvents(ctx context.Context, executionID string) ([]Event, error)

	// SaveExecution creates or updates an execution record.
	SaveExecution(ctx context.Context, record *ExecutionRecord) error

	// GetExecution returns a record or ErrExecutionNotFound.
	GetExecution(ctx context.Context, executionID string) (*ExecutionRecord, error)

	// ListExecutions returns matching records (newest first) and the total
	// match count before limit/offset.
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, int, error)

	// DeleteExecution removes a record and its history.
	DeleteExecution(ctx context.Context, executionID string) error

	Close() error
}
