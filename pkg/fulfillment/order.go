package fulfillment

import (
	"encoding/json"
	"fmt"

	"github.com/waveflow/waveflow/pkg/engine"
	"github.com/waveflow/waveflow/pkg/saga"
)

// orderFulfillmentState is the replay-safe state of one single-order saga.
type orderFulfillmentState struct {
	status         string
	currentStep    string
	blockingReason string

	cancelled    bool
	cancelReason string
	pickDone     bool
	packDone     bool
}

// OrderFulfillment drives one order end to end: reserve inventory, pick,
// consume, pack, ship. Warehouse staff report progress via pickCompleted
// and packCompleted signals. Cancellation releases every recorded
// reservation in reverse order before the order is marked cancelled.
func OrderFulfillment(ctx *engine.Context, input json.RawMessage) (json.RawMessage, error) {
	var in OrderFulfillmentInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("decode order fulfillment input: %w", err)
	}
	if in.OrderID == "" {
		return nil, fmt.Errorf("order fulfillment order_id cannot be empty")
	}

	s := &orderFulfillmentState{status: OrderStatusCreated}
	log := ctx.Logger().With("order_id", in.OrderID)

	ctx.SetQueryHandler(QueryGetFulfillmentStatus, func() (any, error) {
		return OrderFulfillmentResult{OrderID: in.OrderID, Status: s.status}, nil
	})
	ctx.SetQueryHandler(QueryGetCurrentStep, func() (any, error) {
		return s.currentStep, nil
	})
	ctx.SetQueryHandler(QueryGetBlockingReason, func() (any, error) {
		return s.blockingReason, nil
	})

	ctx.SetSignalHandler(SignalPickCompleted, func(json.RawMessage) {
		s.pickDone = true
	})
	ctx.SetSignalHandler(SignalPackCompleted, func(json.RawMessage) {
		s.packDone = true
	})
	ctx.SetSignalHandler(SignalCancelOrder, func(payload json.RawMessage) {
		var p CancelPayload
		_ = decodePayload(payload, &p)
		s.cancelled = true
		s.cancelReason = p.Reason
	})

	orders := ordersClient{ctx}
	inventory := inventoryClient{ctx}
	warehouse := warehouseClient{ctx}
	shipping := shippingClient{ctx}
	comp := saga.New(ctx.ExecutionID())

	cancelRequested := func() bool { return s.cancelled || ctx.Cancelled() }
	unwind := func() (json.RawMessage, error) {
		s.currentStep = StepCancelled
		compensateReservations(ctx, comp, log)
		if err := orders.markCancelled(in.OrderID, s.cancelReason); err != nil {
			log.Error("mark order cancelled failed", "error", err)
		}
		s.status = OrderStatusCancelled
		return json.Marshal(OrderFulfillmentResult{OrderID: in.OrderID, Status: s.status})
	}
	fail := func(step string, err error) (json.RawMessage, error) {
		log.Error("order fulfillment step failed", "step", step, "error", err)
		compensateReservations(ctx, comp, log)
		if markErr := orders.markFailed(in.OrderID, err.Error()); markErr != nil {
			log.Error("mark order failed errored", "error", markErr)
		}
		s.status = OrderStatusFailed
		return nil, fmt.Errorf("%s: %w", step, err)
	}

	// Reserve stock line by line, recording the inverse release as we go.
	s.currentStep = StepAllocatingInventory
	var reservations []reservationStep
	for _, line := range in.Lines {
		res, err := inventory.allocate(AllocateInventoryRequest{
			OrderID:  in.OrderID,
			SKU:      line.SKU,
			Quantity: line.Quantity,
		})
		if err != nil {
			return fail("allocate inventory", err)
		}
		reservations = append(reservations, reservationStep{
			reservationID: res.ReservationID,
			sku:           line.SKU,
			quantity:      line.Quantity,
		})
		step := fmt.Sprintf("release-%s", res.ReservationID)
		if err := comp.Add(step, ActivityReleaseReservation, QueueInventory,
			ReleaseReservationRequest{ReservationID: res.ReservationID, OrderID: in.OrderID},
			defaultOptions(QueueInventory).Retry); err != nil {
			return fail("record compensation", err)
		}
	}
	if cancelRequested() {
		return unwind()
	}

	s.currentStep = StepMarkingReserved
	if err := orders.markReserved(in.OrderID); err != nil {
		return fail("mark order reserved", err)
	}
	s.status = OrderStatusReserved

	s.currentStep = StepCreatingPickTasks
	if _, err := warehouse.createPickWave(CreatePickWaveRequest{
		OrderID:    in.OrderID,
		FacilityID: in.FacilityID,
		Strategy:   PickStrategySingleOrder,
		Lines:      in.Lines,
	}); err != nil {
		return fail("create pick wave", err)
	}

	s.currentStep = StepWaitingForPicks
	s.blockingReason = "waiting for pick completion"
	ctx.Await(func() bool { return s.pickDone || cancelRequested() })
	s.blockingReason = ""
	if cancelRequested() {
		return unwind()
	}

	s.currentStep = StepConsumingInventory
	for _, r := range reservations {
		if err := inventory.consume(ConsumeInventoryRequest{
			ReservationID: r.reservationID,
			OrderID:       in.OrderID,
			SKU:           r.sku,
			Quantity:      r.quantity,
		}); err != nil {
			return fail("consume inventory", err)
		}
	}
	// Consumed stock cannot be released anymore.
	comp.Clear()

	s.currentStep = StepWaitingForPacks
	s.blockingReason = "waiting for pack completion"
	ctx.Await(func() bool { return s.packDone || cancelRequested() })
	s.blockingReason = ""
	if cancelRequested() {
		return unwind()
	}

	s.currentStep = StepCreatingShipments
	shipment, err := shipping.createShipment(CreateShipmentRequest{
		TenantID:   in.TenantID,
		OrderID:    in.OrderID,
		FacilityID: in.FacilityID,
		ShipTo:     in.ShipTo,
	})
	if err != nil {
		return fail("create shipment", err)
	}

	label, err := shipping.generateLabel(shipment.ShipmentID)
	if err != nil {
		return fail("generate label", err)
	}
	if _, err := shipping.confirmShipment(shipment.ShipmentID, in.OrderID); err != nil {
		return fail("confirm shipment", err)
	}
	if err := orders.markShipped(MarkOrderShippedRequest{
		OrderID:        in.OrderID,
		ShipmentID:     shipment.ShipmentID,
		TrackingNumber: label.TrackingNumber,
	}); err != nil {
		return fail("mark order shipped", err)
	}

	s.currentStep = StepCompleted
	s.status = OrderStatusShipped
	return json.Marshal(OrderFulfillmentResult{OrderID: in.OrderID, Status: s.status})
}

type reservationStep struct {
	reservationID string
	sku           string
	quantity      int
}
