package engine

import (
	"encoding/json"
	"fmt"
)

// Future is the pending result of one scheduled activity or timer.
// It is resolved by the execution loop when the matching completion event
// is applied, so reading it is deterministic across replay.
type Future struct {
	ctx        *Context
	scheduleID uint64

	done   bool
	result json.RawMessage
	err    error
}

// Ready reports whether the future has been resolved. It does not suspend.
func (f *Future) Ready() bool { return f.done }

// Get suspends the workflow until the future resolves, then decodes the
// result into out (ignored when out is nil or the result is empty).
func (f *Future) Get(out any) error {
	f.ctx.Await(func() bool { return f.done })
	if f.err != nil {
		return f.err
	}
	if out == nil || len(f.result) == 0 {
		return nil
	}
	if err := json.Unmarshal(f.result, out); err != nil {
		return fmt.Errorf("decode activity result: %w", err)
	}
	return nil
}

func (f *Future) resolve(result json.RawMessage, err error) {
	if f.done {
		return
	}
	f.done = true
	f.result = result
	f.err = err
}
