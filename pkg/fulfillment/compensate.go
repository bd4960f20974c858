package fulfillment

import (
	"github.com/waveflow/waveflow/pkg/engine"
	"github.com/waveflow/waveflow/pkg/logger"
	"github.com/waveflow/waveflow/pkg/saga"
)

// compensateReservations runs the recorded compensation log in reverse
// order through the activity executor. Individual failures are logged and
// skipped; one stuck release must not strand the others.
func compensateReservations(ctx *engine.Context, comp *saga.Compensations, log logger.Logger) {
	if comp.Len() == 0 {
		return
	}
	failures := comp.Compensate(func(entry saga.Entry) error {
		opts := engine.ActivityOptions{
			Queue:        entry.Queue,
			StartToClose: defaultStartToClose,
			Retry:        entry.Retry,
		}
		return ctx.ExecuteActivity(entry.ActivityType, entry.Input, opts).Get(nil)
	})
	for _, f := range failures {
		log.Error("compensation step failed", "step", f.Step, "error", f.Err)
	}
}
