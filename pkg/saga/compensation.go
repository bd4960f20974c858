// Package saga tracks the compensation log of a workflow: inverse
// operations recorded after each resource-acquiring step, run in reverse
// order when the workflow unwinds.
package saga

import (
	"encoding/json"
	"fmt"

	"github.com/waveflow/waveflow/pkg/activity"
)

// Entry is one recorded compensation: the activity that undoes a
// completed forward step.
type Entry struct {
	Step         string
	ActivityType string
	Queue        string
	Input        json.RawMessage
	Retry        activity.RetryPolicy
}

// Failure reports one compensation entry that could not be undone.
type Failure struct {
	Step string
	Err  error
}

// InvokeFunc runs one compensation entry. Workflows pass a closure that
// routes the entry through ExecuteActivity so compensations are recorded
// in history like any other activity.
type InvokeFunc func(entry Entry) error

// Compensations is the LIFO compensation log of one execution. It lives in
// workflow state, so replay rebuilds it deterministically; no locking.
type Compensations struct {
	executionID string
	entries     []Entry
	done        map[string]struct{}
}

// New creates an empty compensation log for an execution.
func New(executionID string) *Compensations {
	return &Compensations{
		executionID: executionID,
		done:        make(map[string]struct{}),
	}
}

// Add records a compensation for a just-completed forward step.
func (c *Compensations) Add(step, activityType, queue string, input any, retry activity.RetryPolicy) error {
	data, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("encode compensation input for step %q: %w", step, err)
	}
	c.entries = append(c.entries, Entry{
		Step:         step,
		ActivityType: activityType,
		Queue:        queue,
		Input:        data,
		Retry:        retry,
	})
	return nil
}

// Len returns the number of recorded compensations.
func (c *Compensations) Len() int { return len(c.entries) }

// Entries returns the recorded compensations in forward (recording) order.
func (c *Compensations) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Compensate runs every recorded entry in strict reverse order, newest
// first. A failing entry is reported and skipped; the walk continues so
// every other resource still gets released. Entries already compensated
// by an earlier call are not re-run.
func (c *Compensations) Compensate(invoke InvokeFunc) []Failure {
	var failures []Failure
	for i := len(c.entries) - 1; i >= 0; i-- {
		entry := c.entries[i]
		key := Key(c.executionID, entry.Step)
		if _, ok := c.done[key]; ok {
			continue
		}
		if err := invoke(entry); err != nil {
			failures = append(failures, Failure{Step: entry.Step, Err: err})
			continue
		}
		c.done[key] = struct{}{}
	}
	return failures
}

// Clear drops all recorded compensations. Called once the execution
// reaches a terminal state and nothing is left to undo.
func (c *Compensations) Clear() {
	c.entries = nil
	c.done = make(map[string]struct{})
}

// Key builds the idempotency key for one compensation step.
func Key(executionID, step string) string {
	return fmt.Sprintf("%s:%s", executionID, step)
}
