// Package services provides in-process implementations of the four owning
// services' activity handlers: inventory, orders, warehouse, and shipping.
// Every handler is idempotent on its documented key, because the engine
// delivers at-least-once and replays re-invoke unresolved work.
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

type reservation struct {
	id       string
	orderID  string
	sku      string
	quantity int
	released bool
	consumed bool
}

// Inventory owns stock levels and reservations.
type Inventory struct {
	mu           sync.Mutex
	stock        map[string]int
	reservations map[string]*reservation
	byOrderSKU   map[string]string
	releaseCalls []string
}

// NewInventory creates an empty inventory service.
func NewInventory() *Inventory {
	return &Inventory{
		stock:        make(map[string]int),
		reservations: make(map[string]*reservation),
		byOrderSKU:   make(map[string]string),
	}
}

// SetStock sets the available quantity for a SKU.
func (s *Inventory) SetStock(sku string, quantity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stock[sku] = quantity
}

// Stock returns the available quantity for a SKU.
func (s *Inventory) Stock(sku string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stock[sku]
}

// ReservationID returns the reservation created for an order line.
func (s *Inventory) ReservationID(orderID, sku string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byOrderSKU[orderID+"|"+sku]
	return id, ok
}

// ReleaseCalls returns the reservation IDs of every release invocation
// received, in arrival order, idempotent no-ops included.
func (s *Inventory) ReleaseCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	calls := make([]string, len(s.releaseCalls))
	copy(calls, s.releaseCalls)
	return calls
}

// Reservation returns a snapshot of one reservation for inspection.
func (s *Inventory) Reservation(reservationID string) (orderID, sku string, quantity int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, found := s.reservations[reservationID]
	if !found {
		return "", "", 0, false
	}
	return r.orderID, r.sku, r.quantity, true
}

// Register wires the inventory handlers onto their queue.
func (s *Inventory) Register(x *activity.Executor) error {
	handlers := map[string]activity.HandlerFunc{
		fulfillment.ActivityAllocateInventory:  s.allocate,
		fulfillment.ActivityReleaseReservation: s.release,
		fulfillment.ActivityConsumeInventory:   s.consume,
	}
	for name, h := range handlers {
		if err := x.Register(fulfillment.QueueInventory, name, h); err != nil {
			return err
		}
	}
	return nil
}

// allocate reserves stock for one order line. Idempotent on (orderId, sku):
// a retry returns the reservation created by the first attempt. Not enough
// stock is terminal; retrying will not grow the shelf.
func (s *Inventory) allocate(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var req fulfillment.AllocateInventoryRequest
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, activity.NonRetryable(fmt.Errorf("decode allocate request: %w", err))
	}
	if req.OrderID == "" || req.SKU == "" || req.Quantity <= 0 {
		return nil, activity.NonRetryable(fmt.Errorf("allocate request needs order_id, sku, positive quantity"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := req.OrderID + "|" + req.SKU
	if id, ok := s.byOrderSKU[key]; ok {
		return json.Marshal(fulfillment.AllocateInventoryResult{ReservationID: id})
	}

	if s.stock[req.SKU] < req.Quantity {
		return nil, activity.NonRetryable(fmt.Errorf("insufficient stock for sku %q: have %d, want %d",
			req.SKU, s.stock[req.SKU], req.Quantity))
	}

	r := &reservation{
		id:       uuid.NewString(),
		orderID:  req.OrderID,
		sku:      req.SKU,
		quantity: req.Quantity,
	}
	s.stock[req.SKU] -= req.Quantity
	s.reservations[r.id] = r
	s.byOrderSKU[key] = r.id

	return json.Marshal(fulfillment.AllocateInventoryResult{ReservationID: r.id})
}

// release returns reserved stock to the shelf. Idempotent on the
// reservation ID; releasing an unknown or already-released reservation is
// a no-op, and consumed stock stays consumed.
func (s *Inventory) release(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var req fulfillment.ReleaseReservationRequest
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, activity.NonRetryable(fmt.Errorf("decode release request: %w", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseCalls = append(s.releaseCalls, req.ReservationID)

	r, ok := s.reservations[req.ReservationID]
	if !ok || r.released || r.consumed {
		return json.Marshal(fulfillment.ReleaseReservationResult{Released: false})
	}
	r.released = true
	s.stock[r.sku] += r.quantity
	return json.Marshal(fulfillment.ReleaseReservationResult{Released: true})
}

// consume finalizes reserved stock after picking. Idempotent on the
// reservation ID. Consuming a released reservation is terminal: the stock
// went back on the shelf and may be gone.
func (s *Inventory) consume(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var req fulfillment.ConsumeInventoryRequest
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, activity.NonRetryable(fmt.Errorf("decode consume request: %w", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[req.ReservationID]
	if !ok {
		return nil, activity.NonRetryable(fmt.Errorf("unknown reservation %q", req.ReservationID))
	}
	if r.consumed {
		return json.Marshal(fulfillment.ConsumeInventoryResult{Consumed: true})
	}
	if r.released {
		return nil, activity.NonRetryable(fmt.Errorf("reservation %q was released", req.ReservationID))
	}
	r.consumed = true
	return json.Marshal(fulfillment.ConsumeInventoryResult{Consumed: true})
}
