package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/waveflow/waveflow/pkg/activity"
	"github.com/waveflow/waveflow/pkg/fulfillment"
)

// orderRecord is one order as the order service sees it.
type orderRecord struct {
	id             string
	requestID      string
	tenantID       string
	status         string
	lines          []fulfillment.OrderLine
	shipTo         fulfillment.Address
	shipmentID     string
	trackingNumber string
	carrier        string
}

// orderTransitions lists the legal status moves. Re-entering the current
// status is always allowed so retried transitions stay idempotent.
var orderTransitions = map[string]map[string]struct{}{
	fulfillment.OrderStatusCreated: {
		fulfillment.OrderStatusAwaitingWave: {},
		fulfillment.OrderStatusCancelled:    {},
		fulfillment.OrderStatusFailed:       {},
	},
	fulfillment.OrderStatusAwaitingWave: {
		fulfillment.OrderStatusReserved:  {},
		fulfillment.OrderStatusCancelled: {},
		fulfillment.OrderStatusFailed:    {},
	},
	fulfillment.OrderStatusReserved: {
		fulfillment.OrderStatusShipped:   {},
		fulfillment.OrderStatusCancelled: {},
		fulfillment.OrderStatusFailed:    {},
	},
	fulfillment.OrderStatusShipped:   {},
	fulfillment.OrderStatusCancelled: {},
	fulfillment.OrderStatusFailed:    {},
}

// Orders owns order records and their status lifecycle.
type Orders struct {
	mu        sync.Mutex
	orders    map[string]*orderRecord
	byRequest map[string]string
}

// NewOrders creates an empty order service.
func NewOrders() *Orders {
	return &Orders{
		orders:    make(map[string]*orderRecord),
		byRequest: make(map[string]string),
	}
}

// Status returns the current status of an order.
func (s *Orders) Status(orderID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return "", false
	}
	return order.status, true
}

// ShipmentInfo returns the shipment identity recorded when the order was
// marked shipped.
func (s *Orders) ShipmentInfo(orderID string) (shipmentID, trackingNumber string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, found := s.orders[orderID]
	if !found {
		return "", "", false
	}
	return order.shipmentID, order.trackingNumber, true
}

// Seed inserts an order directly, for wave executions over orders that
// were created outside the intake flow.
func (s *Orders) Seed(orderID, status string, lines []fulfillment.OrderLine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[orderID] = &orderRecord{id: orderID, status: status, lines: lines}
}

// Register wires the order handlers onto their queue.
func (s *Orders) Register(x *activity.Executor) error {
	handlers := map[string]activity.HandlerFunc{
		fulfillment.ActivityValidateOrder:    s.validate,
		fulfillment.ActivityCreateOrder:      s.create,
		fulfillment.ActivityMarkAwaitingWave: s.transitionTo(fulfillment.OrderStatusAwaitingWave),
		fulfillment.ActivityMarkReserved:     s.transitionTo(fulfillment.OrderStatusReserved),
		fulfillment.ActivityMarkShipped:      s.markShipped,
		fulfillment.ActivityMarkCancelled:    s.transitionTo(fulfillment.OrderStatusCancelled),
		fulfillment.ActivityMarkFailed:       s.transitionTo(fulfillment.OrderStatusFailed),
	}
	for name, h := range handlers {
		if err := x.Register(fulfillment.QueueOrders, name, h); err != nil {
			return err
		}
	}
	return nil
}

// validate rejects structurally broken orders. Read-only, so retries are
// harmless; a rejection is terminal because the payload will not improve.
func (s *Orders) validate(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var req fulfillment.ValidateOrderRequest
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, activity.NonRetryable(fmt.Errorf("decode validate request: %w", err))
	}
	if len(req.Lines) == 0 {
		return nil, activity.NonRetryable(fmt.Errorf("order has no lines"))
	}
	for _, line := range req.Lines {
		if line.SKU == "" || line.Quantity <= 0 {
			return nil, activity.NonRetryable(fmt.Errorf("order line needs sku and positive quantity"))
		}
	}
	if req.ShipTo.City == "" || req.ShipTo.Country == "" {
		return nil, activity.NonRetryable(fmt.Errorf("ship-to address needs city and country"))
	}
	return json.Marshal(fulfillment.ValidateOrderResult{Valid: true})
}

// create persists a new order. Idempotent on the request ID: a retry
// returns the order the first attempt created.
func (s *Orders) create(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var req fulfillment.CreateOrderRequest
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, activity.NonRetryable(fmt.Errorf("decode create request: %w", err))
	}
	if req.RequestID == "" {
		return nil, activity.NonRetryable(fmt.Errorf("create request needs request_id"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byRequest[req.RequestID]; ok {
		return json.Marshal(fulfillment.CreateOrderResult{OrderID: id, AlreadyExisted: true})
	}

	order := &orderRecord{
		id:        uuid.NewString(),
		requestID: req.RequestID,
		tenantID:  req.TenantID,
		status:    fulfillment.OrderStatusCreated,
		lines:     req.Lines,
		shipTo:    req.ShipTo,
	}
	s.orders[order.id] = order
	s.byRequest[req.RequestID] = order.id
	return json.Marshal(fulfillment.CreateOrderResult{OrderID: order.id})
}

// markShipped moves an order to SHIPPED and records which shipment carried
// it. Same transition rules as any other status move.
func (s *Orders) markShipped(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var req fulfillment.MarkOrderShippedRequest
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, activity.NonRetryable(fmt.Errorf("decode mark shipped request: %w", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[req.OrderID]
	if !ok {
		return nil, activity.NonRetryable(fmt.Errorf("unknown order %q", req.OrderID))
	}
	if order.status != fulfillment.OrderStatusShipped {
		if _, legal := orderTransitions[order.status][fulfillment.OrderStatusShipped]; !legal {
			return nil, activity.NonRetryable(fmt.Errorf("order %q cannot move %s -> %s", order.id, order.status, fulfillment.OrderStatusShipped))
		}
		order.status = fulfillment.OrderStatusShipped
	}
	order.shipmentID = req.ShipmentID
	order.trackingNumber = req.TrackingNumber
	order.carrier = req.Carrier
	return json.Marshal(fulfillment.UpdateOrderStatusResult{OrderID: order.id, Status: order.status})
}

// transitionTo builds a status-transition handler. Already being in the
// target status is success (retries); an unknown order or illegal move is
// terminal.
func (s *Orders) transitionTo(target string) activity.HandlerFunc {
	return func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		var req fulfillment.UpdateOrderStatusRequest
		if err := json.Unmarshal(input, &req); err != nil {
			return nil, activity.NonRetryable(fmt.Errorf("decode status request: %w", err))
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		order, ok := s.orders[req.OrderID]
		if !ok {
			return nil, activity.NonRetryable(fmt.Errorf("unknown order %q", req.OrderID))
		}
		if order.status == target {
			return json.Marshal(fulfillment.UpdateOrderStatusResult{OrderID: order.id, Status: order.status})
		}
		if _, legal := orderTransitions[order.status][target]; !legal {
			return nil, activity.NonRetryable(fmt.Errorf("order %q cannot move %s -> %s", order.id, order.status, target))
		}
		order.status = target
		return json.Marshal(fulfillment.UpdateOrderStatusResult{OrderID: order.id, Status: order.status})
	}
}
