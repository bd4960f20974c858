package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/waveflow/waveflow/pkg/logger"
)

// Context is the workflow-facing handle into one execution. All methods
// must be called from the workflow goroutine; the engine guarantees that
// goroutine never runs concurrently with event delivery, so none of the
// state here needs locking.
//
// Workflow code must stay deterministic: no wall-clock reads, no random
// IDs, no goroutines, no shared mutable state. Side effects go through
// ExecuteActivity; time comes from Now and Sleep.
type Context struct {
	rt        *runtime
	replaying bool

	nextScheduleID uint64
	futures        map[uint64]*Future

	// recordedSchedules holds command events from a replayed history,
	// keyed by schedule ID, to match against re-issued commands.
	recordedSchedules map[uint64]Event

	signalHandlers map[string]func(payload json.RawMessage)
	signalBacklog  map[string][]json.RawMessage
	queryHandlers  map[string]func() (any, error)

	cancelled    bool
	cancelReason string
	now          time.Time
}

func newContext(rt *runtime, replay []Event) *Context {
	c := &Context{
		rt:                rt,
		futures:           make(map[uint64]*Future),
		recordedSchedules: make(map[uint64]Event),
		signalHandlers:    make(map[string]func(json.RawMessage)),
		signalBacklog:     make(map[string][]json.RawMessage),
		queryHandlers:     make(map[string]func() (any, error)),
	}
	for _, ev := range replay {
		switch ev.Type {
		case EventActivityScheduled, EventTimerStarted:
			c.recordedSchedules[ev.ScheduleID] = ev
		case EventExecutionStarted:
			c.now = ev.Timestamp
		}
	}
	c.replaying = len(replay) > 0
	return c
}

// ExecutionID returns the durable identifier of this execution.
func (c *Context) ExecutionID() string { return c.rt.id }

// WorkflowName returns the registered name the execution was started under.
func (c *Context) WorkflowName() string { return c.rt.workflow }

// Logger returns a logger scoped to this execution. Log output is a side
// channel and carries no determinism obligations.
func (c *Context) Logger() logger.Logger { return c.rt.log }

// Now returns the timestamp of the most recently applied history event.
// It is stable across replay, unlike time.Now.
func (c *Context) Now() time.Time { return c.now }

// Replaying reports whether recorded history is still being re-applied.
func (c *Context) Replaying() bool { return c.replaying }

// Cancelled reports whether engine-level cancellation has been requested.
func (c *Context) Cancelled() bool { return c.cancelled }

// CancelReason returns the reason supplied with the cancellation request.
func (c *Context) CancelReason() string { return c.cancelReason }

// ExecuteActivity records an ActivityScheduled event and dispatches the
// invocation through the activity executor. On replay the recorded command
// is matched by schedule ID instead; a mismatched activity type fails the
// execution as nondeterministic.
func (c *Context) ExecuteActivity(activityType string, input any, opts ActivityOptions) *Future {
	id := c.nextScheduleID
	c.nextScheduleID++

	f := &Future{ctx: c, scheduleID: id}
	c.futures[id] = f

	data, err := json.Marshal(input)
	if err != nil {
		f.resolve(nil, fmt.Errorf("encode activity input: %w", err))
		return f
	}

	if rec, ok := c.recordedSchedules[id]; ok {
		if rec.Type != EventActivityScheduled || rec.ActivityType != activityType {
			panic(&NondeterminismError{
				ExecutionID: c.rt.id,
				ScheduleID:  id,
				Recorded:    fmt.Sprintf("%s %s", rec.Type, rec.ActivityType),
				Issued:      fmt.Sprintf("%s %s", EventActivityScheduled, activityType),
			})
		}
		// Already recorded: the completion arrives from replayed history,
		// or is re-dispatched once the history is exhausted.
		return f
	}

	ev := c.rt.append(Event{
		Type:         EventActivityScheduled,
		ScheduleID:   id,
		ActivityType: activityType,
		Input:        data,
		Options:      &opts,
	})
	c.rt.dispatchActivity(ev)
	return f
}

// NewTimer starts a durable timer and returns its future.
func (c *Context) NewTimer(d time.Duration) *Future {
	id := c.nextScheduleID
	c.nextScheduleID++

	f := &Future{ctx: c, scheduleID: id}
	c.futures[id] = f

	if rec, ok := c.recordedSchedules[id]; ok {
		if rec.Type != EventTimerStarted {
			panic(&NondeterminismError{
				ExecutionID: c.rt.id,
				ScheduleID:  id,
				Recorded:    string(rec.Type),
				Issued:      string(EventTimerStarted),
			})
		}
		return f
	}

	ev := c.rt.append(Event{
		Type:       EventTimerStarted,
		ScheduleID: id,
		FireAt:     time.Now().UTC().Add(d),
	})
	c.rt.dispatchTimer(ev)
	return f
}

// Sleep suspends the workflow for at least d of wall time.
func (c *Context) Sleep(d time.Duration) {
	_ = c.NewTimer(d).Get(nil)
}

// Await suspends the workflow until pred returns true. The predicate is
// evaluated once immediately and again after every applied event; it must
// be a pure read of workflow state.
func (c *Context) Await(pred func() bool) {
	for !pred() {
		c.rt.yield()
	}
}

// SetSignalHandler registers fn for the named signal. Signals that arrived
// before registration are delivered immediately, in arrival order.
// Handlers must not block; they mutate workflow state and return.
func (c *Context) SetSignalHandler(name string, fn func(payload json.RawMessage)) {
	c.signalHandlers[name] = fn
	backlog := c.signalBacklog[name]
	delete(c.signalBacklog, name)
	for _, payload := range backlog {
		fn(payload)
	}
}

// SetQueryHandler registers fn for the named query. Queries run between
// events while the workflow is suspended, so handlers see a coherent
// snapshot and must not mutate state.
func (c *Context) SetQueryHandler(name string, fn func() (any, error)) {
	c.queryHandlers[name] = fn
}
