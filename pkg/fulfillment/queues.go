package fulfillment

// Task queues, one per owning service. Activity handlers register on the
// queue of the service that owns the data they touch.
const (
	QueueInventory = "ims-tasks"
	QueueOrders    = "oms-tasks"
	QueueWarehouse = "wms-tasks"
	QueueShipping  = "sms-tasks"
)

// Workflow names registered with the engine.
const (
	WorkflowOrderIntake      = "order-intake"
	WorkflowOrderFulfillment = "order-fulfillment"
	WorkflowWaveExecution    = "wave-execution"
)

// Activity types, grouped by owning queue.
const (
	ActivityValidateOrder     = "validate-order"
	ActivityCreateOrder       = "create-order"
	ActivityMarkAwaitingWave  = "mark-order-awaiting-wave"
	ActivityMarkReserved      = "mark-order-reserved"
	ActivityMarkShipped       = "mark-order-shipped"
	ActivityMarkCancelled     = "mark-order-cancelled"
	ActivityMarkFailed        = "mark-order-failed"

	ActivityAllocateInventory  = "allocate-inventory"
	ActivityReleaseReservation = "release-reservation"
	ActivityConsumeInventory   = "consume-inventory"

	ActivityCreatePickWave   = "create-pick-wave"
	ActivityUpdateWaveStatus = "update-wave-status"

	ActivityCreateShipment  = "create-shipment"
	ActivityFetchRates      = "fetch-rates"
	ActivitySelectRate      = "select-rate"
	ActivityGenerateLabel   = "generate-label"
	ActivityConfirmShipment = "confirm-shipment"
)

// Signal names.
const (
	SignalAllPicksCompleted  = "allPicksCompleted"
	SignalAllPacksCompleted  = "allPacksCompleted"
	SignalCancelWave         = "cancelWave"
	SignalOrderPickCompleted = "orderPickCompleted"
	SignalOrderPackCompleted = "orderPackCompleted"
	SignalRateSelected       = "rateSelected"
	SignalFetchRates         = "fetchRates"
	SignalPrintLabel         = "printLabel"
	SignalShipmentConfirmed  = "shipmentConfirmed"

	SignalPickCompleted = "pickCompleted"
	SignalPackCompleted = "packCompleted"
	SignalCancelOrder   = "cancelOrder"
)

// Query names.
const (
	QueryGetStatus            = "getStatus"
	QueryGetFulfillmentStatus = "getFulfillmentStatus"
	QueryGetCurrentStep       = "getCurrentStep"
	QueryGetBlockingReason    = "getBlockingReason"
	QueryGetWaveStatus        = "getWaveStatus"
	QueryGetShipmentStates    = "getShipmentStates"
	QueryGetFetchedRates      = "getFetchedRates"
)

// OrderIntakeExecutionID derives the execution ID for an intake request.
// The request ID is the idempotency boundary: resubmitting the same
// request collides on this ID instead of creating a second order.
func OrderIntakeExecutionID(requestID string) string {
	return WorkflowOrderIntake + "-" + requestID
}

// WaveExecutionID derives the execution ID for a pick wave.
func WaveExecutionID(waveID string) string {
	return WorkflowWaveExecution + "-" + waveID
}
