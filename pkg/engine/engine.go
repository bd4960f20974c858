// Package engine implements a durable workflow execution engine: workflow
// functions run against an append-only event history, so a crashed process
// can replay recorded events and resume exactly where it stopped.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/waveflow/waveflow/pkg/activity"
	"github.com/waveflow/waveflow/pkg/logger"
	"github.com/waveflow/waveflow/pkg/signal"
)

// WorkflowFunc is the deterministic body of a workflow. It runs on a
// dedicated goroutine owned by the engine; all interaction with the outside
// world goes through the Context.
type WorkflowFunc func(ctx *Context, input json.RawMessage) (json.RawMessage, error)

// ActivityDispatcher runs scheduled activity invocations. Implemented by
// activity.Executor.
type ActivityDispatcher interface {
	Invoke(ctx context.Context, inv activity.Invocation) (json.RawMessage, error)
}

// MetricsRecorder receives engine observations. Implemented by the metrics
// manager; nil disables recording.
type MetricsRecorder interface {
	RecordExecutionStarted(workflow string)
	RecordExecutionFinished(workflow, status string, duration time.Duration)
	RecordEventAppended(eventType string)
	RecordSignalDelivered(name string)
}

// Engine owns workflow registrations, live execution runtimes, and the
// history store. Each execution is exclusively owned by this process.
type Engine struct {
	store      Store
	dispatcher ActivityDispatcher
	bus        *signal.LocalBus
	logger     logger.Logger
	metrics    MetricsRecorder

	mu        sync.RWMutex
	workflows map[string]WorkflowFunc
	runtimes  map[string]*runtime
	closed    bool

	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(log logger.Logger) Option {
	return func(e *Engine) { e.logger = log }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(rec MetricsRecorder) Option {
	return func(e *Engine) { e.metrics = rec }
}

// New creates an engine over the given history store and dispatcher.
func New(store Store, dispatcher ActivityDispatcher, opts ...Option) *Engine {
	baseCtx, baseCancel := context.WithCancel(context.Background())
	e := &Engine{
		store:      store,
		dispatcher: dispatcher,
		bus:        signal.NewLocalBus(),
		logger:     logger.Global(),
		workflows:  make(map[string]WorkflowFunc),
		runtimes:   make(map[string]*runtime),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterWorkflow registers fn under name. Registrations happen at
// bootstrap, before Start or Recover.
func (e *Engine) RegisterWorkflow(name string, fn WorkflowFunc) error {
	if name == "" {
		return fmt.Errorf("workflow name cannot be empty")
	}
	if fn == nil {
		return fmt.Errorf("workflow %q function cannot be nil", name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.workflows[name]; exists {
		return fmt.Errorf("workflow %q already registered", name)
	}
	e.workflows[name] = fn
	return nil
}

// Start begins a new execution of the named workflow under executionID.
// The ID is the idempotency boundary: reusing one returns
// ErrDuplicateExecution whether the prior execution is live or finished.
func (e *Engine) Start(ctx context.Context, workflowName, executionID string, input json.RawMessage) (*ExecutionRecord, error) {
	if executionID == "" {
		return nil, fmt.Errorf("execution id cannot be empty")
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrEngineClosed
	}
	fn, ok := e.workflows[workflowName]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrUnknownWorkflow, workflowName)
	}
	if _, live := e.runtimes[executionID]; live {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrDuplicateExecution, executionID)
	}
	e.mu.Unlock()

	if _, err := e.store.GetExecution(ctx, executionID); err == nil {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateExecution, executionID)
	}

	now := time.Now().UTC()
	record := &ExecutionRecord{
		ID:        executionID,
		Workflow:  workflowName,
		Status:    StatusRunning,
		Input:     input,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.SaveExecution(ctx, record); err != nil {
		return nil, fmt.Errorf("save execution record: %w", err)
	}
	if _, err := e.store.AppendEvent(ctx, Event{
		ExecutionID: executionID,
		Type:        EventExecutionStarted,
		Workflow:    workflowName,
		Input:       input,
		Timestamp:   now,
	}); err != nil {
		return nil, fmt.Errorf("append start event: %w", err)
	}

	if _, err := e.launch(record, fn, nil); err != nil {
		return nil, err
	}

	e.logger.Info("execution started", "execution_id", executionID, "workflow", workflowName)
	if e.metrics != nil {
		e.metrics.RecordExecutionStarted(workflowName)
	}
	return record, nil
}

func (e *Engine) launch(record *ExecutionRecord, fn WorkflowFunc, replay []Event) (*runtime, error) {
	mailbox, err := e.bus.Subscribe(record.ID)
	if err != nil {
		return nil, err
	}
	rt := newRuntime(e, record, fn, mailbox, replay)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.bus.Unsubscribe(record.ID)
		return nil, ErrEngineClosed
	}
	if _, exists := e.runtimes[record.ID]; exists {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrDuplicateExecution, record.ID)
	}
	e.runtimes[record.ID] = rt
	e.mu.Unlock()

	go rt.run()
	return rt, nil
}

// IsHealthy reports whether the engine is accepting work.
func (e *Engine) IsHealthy() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// LiveExecutionCount returns the number of executions currently in memory.
func (e *Engine) LiveExecutionCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.runtimes)
}

func (e *Engine) liveRuntime(executionID string) (*runtime, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rt, ok := e.runtimes[executionID]
	return rt, ok
}

func (e *Engine) removeRuntime(executionID string) {
	e.bus.Unsubscribe(executionID)
	e.mu.Lock()
	delete(e.runtimes, executionID)
	e.mu.Unlock()
}

// Signal delivers a named signal to a live execution. Delivery is FIFO per
// execution; signals for unknown or finished executions return
// ErrExecutionNotFound.
func (e *Engine) Signal(ctx context.Context, executionID, name string, payload json.RawMessage) error {
	if name == "" {
		return fmt.Errorf("signal name cannot be empty")
	}
	msg := signal.NewMessage(executionID, name, payload)
	if err := e.bus.Publish(ctx, msg); err != nil {
		return fmt.Errorf("%w: %q", ErrExecutionNotFound, executionID)
	}
	return nil
}

// Query runs a registered query handler against a live execution and
// returns its JSON result. Queries are serviced between history events, so
// the result is always a coherent snapshot.
func (e *Engine) Query(ctx context.Context, executionID, name string) (json.RawMessage, error) {
	rt, ok := e.liveRuntime(executionID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrExecutionNotFound, executionID)
	}

	req := queryRequest{name: name, respCh: make(chan queryResponse, 1)}
	select {
	case rt.queryCh <- req:
	case <-rt.doneCh:
		return nil, fmt.Errorf("%w: %q", ErrExecutionNotFound, executionID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case resp := <-req.respCh:
		return resp.data, resp.err
	case <-rt.doneCh:
		// The runtime finished while the request was in flight. The drain
		// may still have answered it, so check once before giving up.
		select {
		case resp := <-req.respCh:
			return resp.data, resp.err
		default:
			return nil, fmt.Errorf("%w: %q", ErrExecutionNotFound, executionID)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel requests cancellation of a live execution. The request is recorded
// in history and observed by the workflow at its next suspension point; the
// workflow decides how to unwind.
func (e *Engine) Cancel(ctx context.Context, executionID, reason string) error {
	rt, ok := e.liveRuntime(executionID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrExecutionNotFound, executionID)
	}
	select {
	case rt.cancelCh <- reason:
	default:
		// A cancellation is already pending; one is enough.
	}
	e.logger.Info("execution cancel requested", "execution_id", executionID, "reason", reason)
	return nil
}

// DescribeExecution returns the stored record for an execution, live or
// terminal.
func (e *Engine) DescribeExecution(ctx context.Context, executionID string) (*ExecutionRecord, error) {
	return e.store.GetExecution(ctx, executionID)
}

// ListExecutions returns stored records matching the filter.
func (e *Engine) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, int, error) {
	return e.store.ListExecutions(ctx, filter)
}

// GetHistory returns the full event history of an execution.
func (e *Engine) GetHistory(ctx context.Context, executionID string) ([]Event, error) {
	if _, err := e.store.GetExecution(ctx, executionID); err != nil {
		return nil, err
	}
	return e.store.ListEvents(ctx, executionID)
}

// Recover restarts every non-terminal execution found in the history store.
// Each is replayed from its recorded events; completions recorded before
// the crash are not re-invoked. Returns the number of executions resumed.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	records, _, err := e.store.ListExecutions(ctx, ExecutionFilter{Status: StatusRunning})
	if err != nil {
		return 0, fmt.Errorf("list running executions: %w", err)
	}

	resumed := 0
	for _, record := range records {
		if _, live := e.liveRuntime(record.ID); live {
			continue
		}
		events, err := e.store.ListEvents(ctx, record.ID)
		if err != nil {
			e.logger.Error("recovery: load history failed", "execution_id", record.ID, "error", err)
			continue
		}
		if len(events) == 0 {
			record.Status = StatusFailed
			record.Failure = "no history recorded"
			record.UpdatedAt = time.Now().UTC()
			_ = e.store.SaveExecution(ctx, record)
			continue
		}
		if last := events[len(events)-1]; last.Type.terminal() {
			// Crashed between the terminal event and the record update.
			reconcileRecord(record, last)
			_ = e.store.SaveExecution(ctx, record)
			continue
		}

		e.mu.RLock()
		fn, ok := e.workflows[record.Workflow]
		e.mu.RUnlock()
		if !ok {
			e.logger.Error("recovery: workflow not registered", "execution_id", record.ID, "workflow", record.Workflow)
			continue
		}

		if _, err := e.launch(record, fn, events); err != nil {
			e.logger.Error("recovery: relaunch failed", "execution_id", record.ID, "error", err)
			continue
		}
		e.logger.Info("execution recovered", "execution_id", record.ID, "workflow", record.Workflow, "events", len(events))
		resumed++
	}
	return resumed, nil
}

func reconcileRecord(record *ExecutionRecord, last Event) {
	switch last.Type {
	case EventExecutionCompleted:
		record.Status = StatusCompleted
		record.Result = last.Result
	case EventExecutionFailed:
		record.Status = StatusFailed
		record.Failure = last.Failure
	case EventExecutionCancelled:
		record.Status = StatusCancelled
		record.Result = last.Result
	}
	record.UpdatedAt = time.Now().UTC()
}

// Shutdown stops accepting work and waits for live executions to park or
// finish, up to the context deadline. Histories are durable, so anything
// still running resumes via Recover on the next start.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	live := make([]*runtime, 0, len(e.runtimes))
	for _, rt := range e.runtimes {
		live = append(live, rt)
	}
	e.mu.Unlock()

	for _, rt := range live {
		select {
		case <-rt.doneCh:
		case <-ctx.Done():
			e.baseCancel()
			return ctx.Err()
		}
	}
	e.baseCancel()
	return nil
}
