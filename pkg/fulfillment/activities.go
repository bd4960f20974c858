package fulfillment

import (
	"time"

	"github.com/waveflow/waveflow/pkg/activity"
	"github.com/waveflow/waveflow/pkg/engine"
)

const defaultStartToClose = 30 * time.Second

// defaultOptions is the standard activity configuration: 5 attempts with
// exponential backoff, 30s start-to-close per attempt.
func defaultOptions(queue string) engine.ActivityOptions {
	return engine.ActivityOptions{
		Queue:        queue,
		StartToClose: defaultStartToClose,
		Retry: activity.RetryPolicy{
			MaxAttempts:    5,
			InitialBackoff: time.Second,
			BackoffFactor:  2.0,
			MaxBackoff:     30 * time.Second,
		},
	}
}

func optionsWithAttempts(queue string, attempts int) engine.ActivityOptions {
	opts := defaultOptions(queue)
	opts.Retry.MaxAttempts = attempts
	return opts
}

// rateFetchOptions returns the retry policy for one carrier's rate fetch.
// FedEx rate endpoints flap often enough that it gets a longer, gentler
// retry schedule than the default.
func rateFetchOptions(carrier string) engine.ActivityOptions {
	opts := defaultOptions(QueueShipping)
	if carrier == CarrierFedEx {
		opts.Retry = activity.RetryPolicy{
			MaxAttempts:    10,
			InitialBackoff: time.Second,
			BackoffFactor:  1.5,
			MaxBackoff:     30 * time.Second,
		}
	}
	return opts
}

// ordersClient wraps the order service activities.
type ordersClient struct {
	ctx *engine.Context
}

func (c ordersClient) validate(req ValidateOrderRequest) (ValidateOrderResult, error) {
	var out ValidateOrderResult
	err := c.ctx.ExecuteActivity(ActivityValidateOrder, req, optionsWithAttempts(QueueOrders, 3)).Get(&out)
	return out, err
}

func (c ordersClient) create(req CreateOrderRequest) (CreateOrderResult, error) {
	var out CreateOrderResult
	err := c.ctx.ExecuteActivity(ActivityCreateOrder, req, defaultOptions(QueueOrders)).Get(&out)
	return out, err
}

func (c ordersClient) markAwaitingWave(orderID string) error {
	req := UpdateOrderStatusRequest{OrderID: orderID}
	return c.ctx.ExecuteActivity(ActivityMarkAwaitingWave, req, defaultOptions(QueueOrders)).Get(nil)
}

func (c ordersClient) markReserved(orderID string) error {
	req := UpdateOrderStatusRequest{OrderID: orderID}
	return c.ctx.ExecuteActivity(ActivityMarkReserved, req, defaultOptions(QueueOrders)).Get(nil)
}

func (c ordersClient) markShipped(req MarkOrderShippedRequest) error {
	return c.ctx.ExecuteActivity(ActivityMarkShipped, req, defaultOptions(QueueOrders)).Get(nil)
}

func (c ordersClient) markCancelled(orderID, reason string) error {
	req := UpdateOrderStatusRequest{OrderID: orderID, Reason: reason}
	return c.ctx.ExecuteActivity(ActivityMarkCancelled, req, defaultOptions(QueueOrders)).Get(nil)
}

func (c ordersClient) markFailed(orderID, reason string) error {
	req := UpdateOrderStatusRequest{OrderID: orderID, Reason: reason}
	return c.ctx.ExecuteActivity(ActivityMarkFailed, req, defaultOptions(QueueOrders)).Get(nil)
}

// inventoryClient wraps the inventory service activities.
type inventoryClient struct {
	ctx *engine.Context
}

func (c inventoryClient) allocate(req AllocateInventoryRequest) (AllocateInventoryResult, error) {
	var out AllocateInventoryResult
	err := c.ctx.ExecuteActivity(ActivityAllocateInventory, req, defaultOptions(QueueInventory)).Get(&out)
	return out, err
}

func (c inventoryClient) release(req ReleaseReservationRequest) error {
	return c.ctx.ExecuteActivity(ActivityReleaseReservation, req, defaultOptions(QueueInventory)).Get(nil)
}

func (c inventoryClient) consume(req ConsumeInventoryRequest) error {
	return c.ctx.ExecuteActivity(ActivityConsumeInventory, req, defaultOptions(QueueInventory)).Get(nil)
}

// warehouseClient wraps the warehouse service activities.
type warehouseClient struct {
	ctx *engine.Context
}

func (c warehouseClient) createPickWave(req CreatePickWaveRequest) (CreatePickWaveResult, error) {
	var out CreatePickWaveResult
	err := c.ctx.ExecuteActivity(ActivityCreatePickWave, req, defaultOptions(QueueWarehouse)).Get(&out)
	return out, err
}

func (c warehouseClient) updateWaveStatus(waveID, status string) error {
	req := UpdateWaveStatusRequest{WaveID: waveID, Status: status}
	return c.ctx.ExecuteActivity(ActivityUpdateWaveStatus, req, defaultOptions(QueueWarehouse)).Get(nil)
}

// shippingClient wraps the shipping service activities.
type shippingClient struct {
	ctx *engine.Context
}

func (c shippingClient) createShipment(req CreateShipmentRequest) (CreateShipmentResult, error) {
	var out CreateShipmentResult
	err := c.ctx.ExecuteActivity(ActivityCreateShipment, req, defaultOptions(QueueShipping)).Get(&out)
	return out, err
}

// fetchRatesAsync schedules one carrier's rate fetch without waiting, so
// the caller can fan out across carriers and fan in on the futures.
func (c shippingClient) fetchRatesAsync(req FetchRatesRequest) *engine.Future {
	return c.ctx.ExecuteActivity(ActivityFetchRates, req, rateFetchOptions(req.Carrier))
}

func (c shippingClient) selectRate(req SelectRateRequest) error {
	return c.ctx.ExecuteActivity(ActivitySelectRate, req, defaultOptions(QueueShipping)).Get(nil)
}

func (c shippingClient) generateLabel(shipmentID string) (GenerateLabelResult, error) {
	var out GenerateLabelResult
	req := GenerateLabelRequest{ShipmentID: shipmentID}
	err := c.ctx.ExecuteActivity(ActivityGenerateLabel, req, defaultOptions(QueueShipping)).Get(&out)
	return out, err
}

func (c shippingClient) confirmShipment(shipmentID, orderID string) (ConfirmShipmentResult, error) {
	var out ConfirmShipmentResult
	req := ConfirmShipmentRequest{ShipmentID: shipmentID, OrderID: orderID, ShippedAt: c.ctx.Now()}
	err := c.ctx.ExecuteActivity(ActivityConfirmShipment, req, defaultOptions(QueueShipping)).Get(&out)
	return out, err
}
