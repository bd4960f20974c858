// Package models defines request and response payloads for the HTTP API.
package models

import (
	"encoding/json"
	"time"
)

// StartExecutionRequest is the payload for starting a workflow execution.
type StartExecutionRequest struct {
	// Workflow is the registered workflow name.
	Workflow string `json:"workflow" validate:"required"`

	// ExecutionID uniquely identifies the execution and is the idempotency key.
	ExecutionID string `json:"execution_id" validate:"required"`

	// Input is the workflow input payload.
	Input json.RawMessage `json:"input,omitempty"`
}

// ExecutionResponse describes one execution.
type ExecutionResponse struct {
	ID        string          `json:"id"`
	Workflow  string          `json:"workflow"`
	Status    string          `json:"status"`
	Input     json.RawMessage `json:"input,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Failure   string          `json:"failure,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ExecutionSummary is the list form of an execution.
type ExecutionSummary struct {
	ID        string    `json:"id"`
	Workflow  string    `json:"workflow"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExecutionListResponse is the paginated list of executions.
type ExecutionListResponse struct {
	Executions []ExecutionSummary `json:"executions"`
	Total      int                `json:"total"`
	Limit      int                `json:"limit"`
	Offset     int                `json:"offset"`
}

// SignalRequest is the payload delivered with a signal.
type SignalRequest struct {
	Payload json.RawMessage `json:"payload,omitempty"`
}

// CancelRequest carries an optional cancellation reason.
type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

// HistoryEvent is the API form of one history event.
type HistoryEvent struct {
	Sequence     uint64          `json:"sequence"`
	Type         string          `json:"type"`
	ScheduleID   uint64          `json:"schedule_id,omitempty"`
	ActivityType string          `json:"activity_type,omitempty"`
	Name         string          `json:"name,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	Failure      string          `json:"failure,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// HistoryResponse is the full event history of an execution.
type HistoryResponse struct {
	ExecutionID string         `json:"execution_id"`
	Events      []HistoryEvent `json:"events"`
}
