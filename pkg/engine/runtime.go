package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/waveflow/waveflow/pkg/activity"
	"github.com/waveflow/waveflow/pkg/logger"
	"github.com/waveflow/waveflow/pkg/signal"
)

// activityOutcome is posted by a dispatcher goroutine when an invocation
// finishes.
type activityOutcome struct {
	scheduleID   uint64
	activityType string
	timer        bool
	result       json.RawMessage
	err          error
}

type queryResponse struct {
	data json.RawMessage
	err  error
}

type queryRequest struct {
	name   string
	respCh chan queryResponse
}

// runtime drives one execution: a single event loop that owns all mutable
// state, and a workflow goroutine that runs only while the loop is parked.
// The two hand control back and forth over yieldCh/resumeCh so exactly one
// of them is ever running.
type runtime struct {
	engine   *Engine
	id       string
	workflow string
	fn       WorkflowFunc
	input    json.RawMessage
	record   *ExecutionRecord
	log      logger.Logger

	wctx   *Context
	replay []Event

	mailbox    *signal.Mailbox
	activityCh chan activityOutcome
	queryCh    chan queryRequest
	cancelCh   chan string
	stopCh     chan struct{}
	doneCh     chan struct{}

	yieldCh  chan struct{}
	resumeCh chan struct{}
	wfDone   chan struct{}
	wfResult json.RawMessage
	wfErr    error
}

func newRuntime(e *Engine, record *ExecutionRecord, fn WorkflowFunc, mailbox *signal.Mailbox, replay []Event) *runtime {
	rt := &runtime{
		engine:     e,
		id:         record.ID,
		workflow:   record.Workflow,
		fn:         fn,
		input:      record.Input,
		record:     record,
		log:        e.logger.With("execution_id", record.ID, "workflow", record.Workflow),
		replay:     replay,
		mailbox:    mailbox,
		activityCh: make(chan activityOutcome, 16),
		queryCh:    make(chan queryRequest, 16),
		cancelCh:   make(chan string, 1),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		yieldCh:    make(chan struct{}),
		resumeCh:   make(chan struct{}),
		wfDone:     make(chan struct{}),
	}
	rt.wctx = newContext(rt, replay)
	return rt
}

// yield parks the workflow goroutine and gives control back to the loop.
// Called from the workflow goroutine only.
func (rt *runtime) yield() {
	rt.yieldCh <- struct{}{}
	<-rt.resumeCh
}

// waitParked blocks until the workflow goroutine parks or finishes.
func (rt *runtime) waitParked() bool {
	select {
	case <-rt.yieldCh:
		return false
	case <-rt.wfDone:
		return true
	}
}

// pump resumes the parked workflow and waits for it to park again.
func (rt *runtime) pump() bool {
	rt.resumeCh <- struct{}{}
	return rt.waitParked()
}

// run is the execution event loop. It replays recorded history first, then
// services live events until the workflow function returns.
func (rt *runtime) run() {
	defer close(rt.doneCh)

	ctx, span := runtimeTracer().Start(rt.engine.baseCtx, spanExecutionRun)
	span.SetAttributes(
		attribute.String("execution.id", rt.id),
		attribute.String("execution.workflow", rt.workflow),
	)
	defer span.End()
	_ = ctx

	go func() {
		defer func() {
			if r := recover(); r != nil {
				if nde, ok := r.(*NondeterminismError); ok {
					rt.wfErr = nde
				} else {
					rt.wfErr = fmt.Errorf("workflow panic: %v", r)
				}
			}
			close(rt.wfDone)
		}()
		rt.wfResult, rt.wfErr = rt.fn(rt.wctx, rt.input)
	}()

	finished := rt.waitParked()

	// Replay phase: feed recorded input events back through the same
	// transition path, without dispatching side effects.
	for _, ev := range rt.replay {
		if finished {
			break
		}
		if !ev.Type.replayInput() {
			continue
		}
		rt.applyEvent(ev)
		finished = rt.pump()
	}
	rt.wctx.replaying = false
	if !finished {
		rt.redispatchPending()
	}

	for !finished {
		select {
		case <-rt.mailbox.Notify():
			for _, msg := range rt.mailbox.Drain() {
				ev := rt.append(Event{
					Type:  EventSignalReceived,
					Name:  msg.Name,
					Input: msg.Payload,
				})
				rt.applyEvent(ev)
				if finished = rt.pump(); finished {
					break
				}
			}
		case out := <-rt.activityCh:
			ev := Event{ScheduleID: out.scheduleID, ActivityType: out.activityType}
			switch {
			case out.timer:
				ev.Type = EventTimerFired
			case out.err != nil:
				ev.Type = EventActivityFailed
				ev.Failure = out.err.Error()
			default:
				ev.Type = EventActivityCompleted
				ev.Result = out.result
			}
			ev = rt.append(ev)
			rt.applyEvent(ev)
			finished = rt.pump()
		case reason := <-rt.cancelCh:
			ev := rt.append(Event{Type: EventCancelRequested, Reason: reason})
			rt.applyEvent(ev)
			finished = rt.pump()
		case q := <-rt.queryCh:
			rt.handleQuery(q)
		}
	}

	rt.drainQueries()
	rt.finish(span)
}

// applyEvent feeds one input event into workflow state. The workflow
// goroutine is parked for the duration, so no locking is needed.
func (rt *runtime) applyEvent(ev Event) {
	c := rt.wctx
	c.now = ev.Timestamp

	switch ev.Type {
	case EventActivityCompleted:
		if f, ok := c.futures[ev.ScheduleID]; ok {
			f.resolve(ev.Result, nil)
		}
	case EventActivityFailed:
		if f, ok := c.futures[ev.ScheduleID]; ok {
			f.resolve(nil, &ActivityError{ActivityType: ev.ActivityType, Message: ev.Failure})
		}
	case EventTimerFired:
		if f, ok := c.futures[ev.ScheduleID]; ok {
			f.resolve(nil, nil)
		}
	case EventSignalReceived:
		if rt.engine.metrics != nil {
			rt.engine.metrics.RecordSignalDelivered(ev.Name)
		}
		if fn, ok := c.signalHandlers[ev.Name]; ok {
			fn(ev.Input)
		} else {
			c.signalBacklog[ev.Name] = append(c.signalBacklog[ev.Name], ev.Input)
		}
	case EventCancelRequested:
		c.cancelled = true
		c.cancelReason = ev.Reason
	}
}

// append persists one event through the history store and stamps it.
func (rt *runtime) append(ev Event) Event {
	ev.ExecutionID = rt.id
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	seq, err := rt.engine.store.AppendEvent(rt.engine.baseCtx, ev)
	if err != nil {
		// The loop keeps going: losing one event degrades recovery, not
		// the live run.
		rt.log.Error("history append failed", "event_type", string(ev.Type), "error", err)
	}
	ev.Sequence = seq
	if rt.engine.metrics != nil {
		rt.engine.metrics.RecordEventAppended(string(ev.Type))
	}
	rt.wctx.now = ev.Timestamp
	return ev
}

func (rt *runtime) dispatchActivity(ev Event) {
	opts := ActivityOptions{}
	if ev.Options != nil {
		opts = *ev.Options
	}
	inv := activity.Invocation{
		ExecutionID:  rt.id,
		ScheduleID:   ev.ScheduleID,
		ActivityType: ev.ActivityType,
		Queue:        opts.Queue,
		Input:        ev.Input,
		Retry:        opts.Retry,
		StartToClose: opts.StartToClose,
	}
	go func() {
		result, err := rt.engine.dispatcher.Invoke(rt.engine.baseCtx, inv)
		select {
		case rt.activityCh <- activityOutcome{
			scheduleID:   inv.ScheduleID,
			activityType: inv.ActivityType,
			result:       result,
			err:          err,
		}:
		case <-rt.stopCh:
		}
	}()
}

func (rt *runtime) dispatchTimer(ev Event) {
	delay := time.Until(ev.FireAt)
	if delay < 0 {
		delay = 0
	}
	scheduleID := ev.ScheduleID
	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-rt.stopCh:
			return
		}
		select {
		case rt.activityCh <- activityOutcome{scheduleID: scheduleID, timer: true}:
		case <-rt.stopCh:
		}
	}()
}

// redispatchPending re-issues commands that were recorded but never
// resolved before the process stopped. Invocation handlers are idempotent,
// so re-running them is safe.
func (rt *runtime) redispatchPending() {
	ids := make([]uint64, 0, len(rt.wctx.recordedSchedules))
	for id := range rt.wctx.recordedSchedules {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		f, ok := rt.wctx.futures[id]
		if !ok || f.done {
			continue
		}
		ev := rt.wctx.recordedSchedules[id]
		switch ev.Type {
		case EventActivityScheduled:
			rt.log.Info("re-dispatching recorded activity", "schedule_id", id, "activity_type", ev.ActivityType)
			rt.dispatchActivity(ev)
		case EventTimerStarted:
			rt.dispatchTimer(ev)
		}
	}
}

func (rt *runtime) handleQuery(q queryRequest) {
	fn, ok := rt.wctx.queryHandlers[q.name]
	if !ok {
		q.respCh <- queryResponse{err: fmt.Errorf("%w: %q", ErrUnknownQuery, q.name)}
		return
	}
	value, err := fn()
	if err != nil {
		q.respCh <- queryResponse{err: err}
		return
	}
	data, err := json.Marshal(value)
	q.respCh <- queryResponse{data: data, err: err}
}

// drainQueries answers queries that raced with termination so callers are
// not left waiting on a closed runtime.
func (rt *runtime) drainQueries() {
	for {
		select {
		case q := <-rt.queryCh:
			rt.handleQuery(q)
		default:
			return
		}
	}
}

func (rt *runtime) finish(span traceSpan) {
	close(rt.stopCh)

	status := StatusCompleted
	ev := Event{Type: EventExecutionCompleted, Result: rt.wfResult}
	switch {
	case rt.wfErr != nil:
		status = StatusFailed
		ev = Event{Type: EventExecutionFailed, Failure: rt.wfErr.Error()}
	case rt.wctx.cancelled:
		status = StatusCancelled
		ev = Event{Type: EventExecutionCancelled, Result: rt.wfResult, Reason: rt.wctx.cancelReason}
	}
	rt.append(ev)

	rt.record.Status = status
	rt.record.Result = rt.wfResult
	if rt.wfErr != nil {
		rt.record.Failure = rt.wfErr.Error()
	}
	rt.record.UpdatedAt = time.Now().UTC()
	if err := rt.engine.store.SaveExecution(rt.engine.baseCtx, rt.record); err != nil {
		rt.log.Error("save execution record failed", "error", err)
	}

	rt.engine.removeRuntime(rt.id)

	duration := rt.record.UpdatedAt.Sub(rt.record.CreatedAt)
	if rt.engine.metrics != nil {
		rt.engine.metrics.RecordExecutionFinished(rt.workflow, string(status), duration)
	}
	switch status {
	case StatusFailed:
		span.SetStatus(codes.Error, rt.wfErr.Error())
		rt.log.Error("execution failed", "duration", duration, "error", rt.wfErr)
	default:
		span.SetStatus(codes.Ok, string(status))
		rt.log.Info("execution finished", "status", string(status), "duration", duration)
	}
}
