package fulfillment

import "github.com/waveflow/waveflow/pkg/engine"

// Register wires the three fulfillment workflows into the engine.
func Register(e *engine.Engine) error {
	if err := e.RegisterWorkflow(WorkflowOrderIntake, OrderIntake); err != nil {
		return err
	}
	if err := e.RegisterWorkflow(WorkflowOrderFulfillment, OrderFulfillment); err != nil {
		return err
	}
	return e.RegisterWorkflow(WorkflowWaveExecution, WaveExecution)
}
