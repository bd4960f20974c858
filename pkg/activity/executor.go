// Package activity routes workflow activity invocations to registered
// handlers, applying per-invocation retry policies and timeouts.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/waveflow/waveflow/pkg/logger"
)

// HandlerFunc implements one activity type. Handlers must be idempotent:
// the executor delivers at-least-once and callers may re-invoke after a crash.
type HandlerFunc func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)

// Invocation describes one activity call routed through the executor.
type Invocation struct {
	ExecutionID  string
	ScheduleID   uint64
	ActivityType string
	Queue        string
	Input        json.RawMessage
	Retry        RetryPolicy
	StartToClose time.Duration
}

// Recorder receives per-attempt observations. Implemented by the metrics
// manager; nil disables recording.
type Recorder interface {
	RecordActivityAttempt(queue, activityType, outcome string, duration time.Duration)
	RecordActivityRetry(queue, activityType string)
}

// Executor holds the queue routing table and runs invocations to completion.
type Executor struct {
	mu     sync.RWMutex
	queues map[string]map[string]HandlerFunc

	logger  logger.Logger
	metrics Recorder
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the executor logger.
func WithLogger(log logger.Logger) Option {
	return func(x *Executor) { x.logger = log }
}

// WithMetrics sets the attempt recorder.
func WithMetrics(rec Recorder) Option {
	return func(x *Executor) { x.metrics = rec }
}

// NewExecutor creates an executor with an empty routing table.
func NewExecutor(opts ...Option) *Executor {
	x := &Executor{
		queues: make(map[string]map[string]HandlerFunc),
		logger: logger.Global(),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Register adds a handler for activityType on queue.
func (x *Executor) Register(queue, activityType string, h HandlerFunc) error {
	if queue == "" || activityType == "" {
		return fmt.Errorf("queue and activity type cannot be empty")
	}
	if h == nil {
		return fmt.Errorf("handler for %s/%s cannot be nil", queue, activityType)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	handlers, ok := x.queues[queue]
	if !ok {
		handlers = make(map[string]HandlerFunc)
		x.queues[queue] = handlers
	}
	if _, exists := handlers[activityType]; exists {
		return fmt.Errorf("activity %q already registered on queue %q", activityType, queue)
	}
	handlers[activityType] = h
	return nil
}

func (x *Executor) handler(queue, activityType string) (HandlerFunc, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	h, ok := x.queues[queue][activityType]
	return h, ok
}

// Invoke runs one invocation, retrying retryable failures per the policy.
// A NonRetryable error returns immediately; exhausting attempts returns the
// last error wrapped in *ExhaustedError.
func (x *Executor) Invoke(ctx context.Context, inv Invocation) (json.RawMessage, error) {
	h, ok := x.handler(inv.Queue, inv.ActivityType)
	if !ok {
		return nil, &NotRegisteredError{Queue: inv.Queue, ActivityType: inv.ActivityType}
	}

	policy := inv.Retry.normalized()
	var lastErr error

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			if x.metrics != nil {
				x.metrics.RecordActivityRetry(inv.Queue, inv.ActivityType)
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoffForAttempt(policy, attempt-1)):
			}
		}

		result, err := x.runAttempt(ctx, h, inv)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if IsNonRetryable(err) {
			x.logger.Warn("activity failed terminally",
				"execution_id", inv.ExecutionID,
				"activity_type", inv.ActivityType,
				"attempt", attempt+1,
				"error", err)
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		x.logger.Debug("activity attempt failed",
			"execution_id", inv.ExecutionID,
			"activity_type", inv.ActivityType,
			"attempt", attempt+1,
			"error", err)
	}

	return nil, &ExhaustedError{
		ActivityType: inv.ActivityType,
		Attempts:     policy.MaxAttempts,
		Cause:        lastErr,
	}
}

func (x *Executor) runAttempt(ctx context.Context, h HandlerFunc, inv Invocation) (json.RawMessage, error) {
	attemptCtx := ctx
	cancel := func() {}
	if inv.StartToClose > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, inv.StartToClose)
	}
	defer cancel()

	started := time.Now()
	result, err := h(attemptCtx, inv.Input)
	if x.metrics != nil {
		x.metrics.RecordActivityAttempt(inv.Queue, inv.ActivityType, attemptOutcome(err), time.Since(started))
	}
	return result, err
}

func attemptOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsNonRetryable(err):
		return "terminal"
	default:
		return "retryable"
	}
}
