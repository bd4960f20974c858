package fulfillment

import (
	"encoding/json"
	"fmt"

	"github.com/waveflow/waveflow/pkg/engine"
	"github.com/waveflow/waveflow/pkg/logger"
	"github.com/waveflow/waveflow/pkg/saga"
)

// waveShipment tracks one order's shipment through the manual shipping loop.
type waveShipment struct {
	shipmentID     string
	orderID        string
	status         string
	carrier        string
	serviceLevel   string
	trackingNumber string
	labelURL       string
}

// waveState is the replay-safe state of one wave execution. Signal handlers
// only mutate this struct; all activity calls happen in the main flow.
type waveState struct {
	status         string
	currentStep    string
	blockingReason string

	cancelled    bool
	cancelReason string
	picksDone    bool
	packsDone    bool
	orderPicks   map[string]bool
	orderPacks   map[string]bool

	orderStatus       map[string]string
	orderReservations map[string][]reservationStep
	failedOrders      map[string]bool
	failedOrderIDs    []string

	totalOrders     int
	ordersAllocated int
	ordersPicked    int
	ordersPacked    int
	ordersShipped   int
	ordersFailed    int

	shipments   map[string]*waveShipment
	shipmentIDs []string
	rates       map[string]*FetchedRates

	pendingFetch   []string
	pendingSelect  []RateSelectedPayload
	pendingLabel   []string
	pendingConfirm []string
}

func (s *waveState) shipment(id string) (*waveShipment, bool) {
	sh, ok := s.shipments[id]
	return sh, ok
}

func (s *waveState) allShipped() bool {
	if len(s.shipments) == 0 {
		return true
	}
	for _, sh := range s.shipments {
		if sh.status != ShipmentShipped {
			return false
		}
	}
	return true
}

func (s *waveState) hasPendingShipmentWork() bool {
	return len(s.pendingFetch)+len(s.pendingSelect)+len(s.pendingLabel)+len(s.pendingConfirm) > 0
}

func (s *waveState) failOrder(orderID, status string) {
	if !s.failedOrders[orderID] {
		s.failedOrders[orderID] = true
		s.failedOrderIDs = append(s.failedOrderIDs, orderID)
		s.ordersFailed++
	}
	s.orderStatus[orderID] = status
}

// WaveExecution fulfills a batch of orders as one pick wave. Inventory is
// reserved up front, warehouse staff drive picking and packing through
// signals, and the shipping phase is a human-in-the-loop loop: operators
// request rate fetches, select rates, print labels, and confirm shipments
// one signal at a time until every live shipment has left the building.
//
// A single order failing never fails the wave; the order is marked failed,
// its reservations go back on the shelf, and the rest keep going.
// Cancellation releases every reservation in reverse allocation order, then
// cancels the surviving orders and the wave.
func WaveExecution(ctx *engine.Context, input json.RawMessage) (json.RawMessage, error) {
	var in WaveExecutionInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("decode wave execution input: %w", err)
	}
	if in.WaveID == "" {
		return nil, fmt.Errorf("wave execution wave_id cannot be empty")
	}

	s := &waveState{
		status:            WaveStatusExecuting,
		totalOrders:       len(in.Orders),
		orderPicks:        make(map[string]bool),
		orderPacks:        make(map[string]bool),
		orderStatus:       make(map[string]string),
		orderReservations: make(map[string][]reservationStep),
		failedOrders:      make(map[string]bool),
		shipments:         make(map[string]*waveShipment),
		rates:             make(map[string]*FetchedRates),
	}
	log := ctx.Logger().With("wave_id", in.WaveID)

	registerWaveQueries(ctx, in.WaveID, s)
	registerWaveSignals(ctx, s, log)

	orders := ordersClient{ctx}
	inventory := inventoryClient{ctx}
	warehouse := warehouseClient{ctx}
	shipping := shippingClient{ctx}
	comp := saga.New(ctx.ExecutionID())

	cancelRequested := func() bool { return s.cancelled || ctx.Cancelled() }

	// releaseOrder returns a dropped order's reserved stock to the shelf in
	// reverse allocation order. Nothing will ship the order, so its
	// reservations must not survive to the consume step.
	releaseOrder := func(orderID, reason string) {
		steps := s.orderReservations[orderID]
		for i := len(steps) - 1; i >= 0; i-- {
			if err := inventory.release(ReleaseReservationRequest{
				ReservationID: steps[i].reservationID,
				OrderID:       orderID,
				Reason:        reason,
			}); err != nil {
				log.Error("release reservation failed", "reservation_id", steps[i].reservationID, "error", err)
			}
		}
		delete(s.orderReservations, orderID)
	}

	unwind := func() (json.RawMessage, error) {
		s.currentStep = StepCancelled
		s.blockingReason = ""
		log.Info("wave cancelled, unwinding", "reason", s.cancelReason)
		compensateReservations(ctx, comp, log)
		for _, order := range in.Orders {
			if s.failedOrders[order.OrderID] || s.orderStatus[order.OrderID] == WaveOrderShipped {
				continue
			}
			if err := orders.markCancelled(order.OrderID, s.cancelReason); err != nil {
				log.Error("mark order cancelled failed", "order_id", order.OrderID, "error", err)
			}
			s.orderStatus[order.OrderID] = WaveOrderCancelled
		}
		if err := warehouse.updateWaveStatus(in.WaveID, WaveStatusCancelled); err != nil {
			log.Error("update wave status failed", "status", WaveStatusCancelled, "error", err)
		}
		s.status = WaveStatusCancelled
		return json.Marshal(WaveExecutionResult{
			WaveID:        in.WaveID,
			Status:        s.status,
			OrdersShipped: s.ordersShipped,
			OrdersFailed:  s.ordersFailed,
		})
	}

	live := func(orderID string) bool { return !s.failedOrders[orderID] }

	// Phase 1: reserve inventory per order. A failing order is absorbed;
	// its partial reservations are released right away and it drops out of
	// the rest of the wave.
	s.currentStep = StepAllocatingInventory
	for _, order := range in.Orders {
		allocErr := error(nil)
		for _, line := range order.Lines {
			res, err := inventory.allocate(AllocateInventoryRequest{
				OrderID:  order.OrderID,
				SKU:      line.SKU,
				Quantity: line.Quantity,
			})
			if err != nil {
				allocErr = err
				break
			}
			s.orderReservations[order.OrderID] = append(s.orderReservations[order.OrderID], reservationStep{
				reservationID: res.ReservationID,
				sku:           line.SKU,
				quantity:      line.Quantity,
			})
		}
		if allocErr != nil {
			log.Warn("order allocation failed", "order_id", order.OrderID, "error", allocErr)
			releaseOrder(order.OrderID, "allocation failed")
			s.failOrder(order.OrderID, WaveOrderAllocationFailed)
			continue
		}
		for _, r := range s.orderReservations[order.OrderID] {
			step := fmt.Sprintf("release-%s", r.reservationID)
			if err := comp.Add(step, ActivityReleaseReservation, QueueInventory,
				ReleaseReservationRequest{ReservationID: r.reservationID, OrderID: order.OrderID},
				defaultOptions(QueueInventory).Retry); err != nil {
				return nil, fmt.Errorf("record compensation: %w", err)
			}
		}
		s.orderStatus[order.OrderID] = WaveOrderAllocated
		s.ordersAllocated++
	}
	if cancelRequested() {
		return unwind()
	}

	s.currentStep = StepMarkingReserved
	for _, order := range in.Orders {
		if !live(order.OrderID) {
			continue
		}
		if err := orders.markReserved(order.OrderID); err != nil {
			log.Warn("mark order reserved failed", "order_id", order.OrderID, "error", err)
			releaseOrder(order.OrderID, "mark reserved failed")
			s.failOrder(order.OrderID, OrderStatusFailed)
		}
	}
	if cancelRequested() {
		return unwind()
	}

	s.currentStep = StepCreatingPickTasks
	for _, order := range in.Orders {
		if !live(order.OrderID) {
			continue
		}
		if _, err := warehouse.createPickWave(CreatePickWaveRequest{
			OrderID:    order.OrderID,
			FacilityID: in.FacilityID,
			Strategy:   PickStrategyBatch,
			Lines:      order.Lines,
		}); err != nil {
			log.Warn("create pick wave failed", "order_id", order.OrderID, "error", err)
			releaseOrder(order.OrderID, "pick wave creation failed")
			s.failOrder(order.OrderID, OrderStatusFailed)
		}
	}
	if cancelRequested() {
		return unwind()
	}

	s.currentStep = StepWaitingForPicks
	s.blockingReason = "waiting for all picks to be completed"
	ctx.Await(func() bool { return s.picksDone || cancelRequested() })
	s.blockingReason = ""
	if cancelRequested() {
		return unwind()
	}

	s.currentStep = StepConsumingInventory
	consumeLiveReservations(ctx, s, in.Orders, releaseOrder, log)
	if cancelRequested() {
		return unwind()
	}

	s.currentStep = StepWaitingForPacks
	s.blockingReason = "waiting for all packs to be completed"
	ctx.Await(func() bool { return s.packsDone || cancelRequested() })
	s.blockingReason = ""
	if cancelRequested() {
		return unwind()
	}

	// Phase 2: create shipments for the orders that made it this far.
	s.currentStep = StepCreatingShipments
	for _, order := range in.Orders {
		if !live(order.OrderID) {
			continue
		}
		res, err := shipping.createShipment(CreateShipmentRequest{
			TenantID:   in.TenantID,
			OrderID:    order.OrderID,
			FacilityID: in.FacilityID,
			ShipTo:     order.ShipTo,
		})
		if err != nil {
			log.Warn("create shipment failed", "order_id", order.OrderID, "error", err)
			s.failOrder(order.OrderID, WaveOrderShipmentFailed)
			continue
		}
		s.shipments[res.ShipmentID] = &waveShipment{
			shipmentID: res.ShipmentID,
			orderID:    order.OrderID,
			status:     ShipmentCreated,
		}
		s.shipmentIDs = append(s.shipmentIDs, res.ShipmentID)
		s.ordersPacked++
	}
	if cancelRequested() {
		return unwind()
	}

	// Phase 3: the manual shipping loop. Each iteration drains whatever
	// the operators have queued since the last wake-up.
	s.currentStep = StepWaitingForShipments
	for !s.allShipped() {
		s.blockingReason = "waiting for shipment operations"
		ctx.Await(func() bool {
			return cancelRequested() || s.hasPendingShipmentWork() || s.allShipped()
		})
		s.blockingReason = ""
		if cancelRequested() {
			return unwind()
		}

		fetches := s.pendingFetch
		s.pendingFetch = nil
		for _, shipmentID := range fetches {
			fetchAllCarrierRates(s, shipping, in.TenantID, shipmentID, log)
		}

		selects := s.pendingSelect
		s.pendingSelect = nil
		for _, sel := range selects {
			sh, ok := s.shipment(sel.ShipmentID)
			if !ok {
				continue
			}
			if err := shipping.selectRate(SelectRateRequest(sel)); err != nil {
				log.Warn("select rate failed", "shipment_id", sel.ShipmentID, "error", err)
				continue
			}
			sh.carrier = sel.Carrier
			sh.serviceLevel = sel.ServiceLevel
			sh.status = ShipmentRateSelected
		}

		labels := s.pendingLabel
		s.pendingLabel = nil
		for _, shipmentID := range labels {
			sh, ok := s.shipment(shipmentID)
			if !ok {
				continue
			}
			label, err := shipping.generateLabel(shipmentID)
			if err != nil {
				log.Warn("generate label failed", "shipment_id", shipmentID, "error", err)
				continue
			}
			sh.trackingNumber = label.TrackingNumber
			sh.labelURL = label.LabelURL
			sh.status = ShipmentLabelGenerated
		}

		confirms := s.pendingConfirm
		s.pendingConfirm = nil
		for _, shipmentID := range confirms {
			sh, ok := s.shipment(shipmentID)
			if !ok {
				continue
			}
			if _, err := shipping.confirmShipment(shipmentID, sh.orderID); err != nil {
				log.Warn("confirm shipment failed", "shipment_id", shipmentID, "error", err)
				continue
			}
			sh.status = ShipmentShipped
			// The order leaves the building with its shipment.
			if err := orders.markShipped(MarkOrderShippedRequest{
				OrderID:        sh.orderID,
				ShipmentID:     sh.shipmentID,
				TrackingNumber: sh.trackingNumber,
				Carrier:        sh.carrier,
			}); err != nil {
				log.Error("mark order shipped failed", "order_id", sh.orderID, "error", err)
			}
			s.orderStatus[sh.orderID] = WaveOrderShipped
			s.ordersShipped++
		}
	}

	// Everything shipped: the live reservations were consumed, nothing to
	// undo.
	comp.Clear()

	s.currentStep = StepUpdatingWaveStatus
	if err := warehouse.updateWaveStatus(in.WaveID, WaveStatusCompleted); err != nil {
		log.Error("update wave status failed", "status", WaveStatusCompleted, "error", err)
		if ferr := warehouse.updateWaveStatus(in.WaveID, WaveStatusFailed); ferr != nil {
			log.Error("update wave status failed", "status", WaveStatusFailed, "error", ferr)
		}
		s.status = WaveStatusFailed
		return nil, fmt.Errorf("update wave status: %w", err)
	}

	s.currentStep = StepCompleted
	s.status = WaveStatusCompleted
	return json.Marshal(WaveExecutionResult{
		WaveID:        in.WaveID,
		Status:        s.status,
		OrdersShipped: s.ordersShipped,
		OrdersFailed:  s.ordersFailed,
	})
}

// fetchAllCarrierRates fans out one rate fetch per carrier and fans in on
// all three futures, tracking per-carrier progress for the getFetchedRates
// query. A carrier exhausting its retries marks the shipment's fetch FAILED
// but the shipment keeps whatever quotes the other carriers returned.
func fetchAllCarrierRates(s *waveState, shipping shippingClient, tenantID, shipmentID string, log logger.Logger) {
	sh, ok := s.shipment(shipmentID)
	if !ok {
		return
	}

	carriers := []string{CarrierUSPS, CarrierUPS, CarrierFedEx}
	state := &FetchedRates{
		ShipmentID:    shipmentID,
		Status:        RateFetchFetching,
		CarrierStatus: make(map[string]string, len(carriers)),
		Rates:         []CarrierRate{},
	}
	for _, carrier := range carriers {
		state.CarrierStatus[carrier] = RateFetchFetching
	}
	s.rates[shipmentID] = state

	futures := make([]*engine.Future, len(carriers))
	for i, carrier := range carriers {
		futures[i] = shipping.fetchRatesAsync(FetchRatesRequest{
			TenantID:   tenantID,
			ShipmentID: shipmentID,
			OrderID:    sh.orderID,
			Carrier:    carrier,
		})
	}

	failed := false
	for i, carrier := range carriers {
		var res FetchRatesResult
		if err := futures[i].Get(&res); err != nil {
			log.Warn("carrier rate fetch failed", "shipment_id", shipmentID, "carrier", carrier, "error", err)
			state.CarrierStatus[carrier] = RateFetchFailed
			failed = true
			continue
		}
		state.CarrierStatus[carrier] = RateFetchCompleted
		state.Rates = append(state.Rates, res.Rates...)
	}
	if failed {
		state.Status = RateFetchFailed
	} else {
		state.Status = RateFetchCompleted
	}
}

// consumeLiveReservations finalizes the picked stock for every surviving
// order. Failed orders are skipped; their reservations were already
// released when they dropped out. An order whose consume fails drops out
// too, with whatever is still releasable returned to the shelf.
func consumeLiveReservations(ctx *engine.Context, s *waveState, orders []WaveOrder, releaseOrder func(orderID, reason string), log logger.Logger) {
	inventory := inventoryClient{ctx}
	for _, order := range orders {
		if s.failedOrders[order.OrderID] {
			continue
		}
		consumeErr := error(nil)
		for _, r := range s.orderReservations[order.OrderID] {
			if err := inventory.consume(ConsumeInventoryRequest{
				ReservationID: r.reservationID,
				OrderID:       order.OrderID,
				SKU:           r.sku,
				Quantity:      r.quantity,
			}); err != nil {
				consumeErr = err
				break
			}
		}
		if consumeErr != nil {
			log.Error("consume inventory failed", "order_id", order.OrderID, "error", consumeErr)
			releaseOrder(order.OrderID, "consume failed")
			s.failOrder(order.OrderID, OrderStatusFailed)
			continue
		}
		s.ordersPicked++
	}
}

func registerWaveQueries(ctx *engine.Context, waveID string, s *waveState) {
	ctx.SetQueryHandler(QueryGetWaveStatus, func() (any, error) {
		statuses := make(map[string]string, len(s.orderStatus))
		for id, status := range s.orderStatus {
			statuses[id] = status
		}
		failed := make([]string, len(s.failedOrderIDs))
		copy(failed, s.failedOrderIDs)
		return WaveStatusView{
			WaveID:          waveID,
			Status:          s.status,
			CurrentStep:     s.currentStep,
			BlockingReason:  s.blockingReason,
			TotalOrders:     s.totalOrders,
			OrdersAllocated: s.ordersAllocated,
			OrdersPicked:    s.ordersPicked,
			OrdersPacked:    s.ordersPacked,
			OrdersShipped:   s.ordersShipped,
			OrdersFailed:    s.ordersFailed,
			OrderStatuses:   statuses,
			FailedOrderIDs:  failed,
		}, nil
	})
	ctx.SetQueryHandler(QueryGetCurrentStep, func() (any, error) {
		return s.currentStep, nil
	})
	ctx.SetQueryHandler(QueryGetBlockingReason, func() (any, error) {
		return s.blockingReason, nil
	})
	ctx.SetQueryHandler(QueryGetShipmentStates, func() (any, error) {
		views := make([]ShipmentStateView, 0, len(s.shipmentIDs))
		for _, id := range s.shipmentIDs {
			sh := s.shipments[id]
			views = append(views, ShipmentStateView{
				ShipmentID:     sh.shipmentID,
				OrderID:        sh.orderID,
				Status:         sh.status,
				Carrier:        sh.carrier,
				ServiceLevel:   sh.serviceLevel,
				TrackingNumber: sh.trackingNumber,
				LabelURL:       sh.labelURL,
			})
		}
		return views, nil
	})
	ctx.SetQueryHandler(QueryGetFetchedRates, func() (any, error) {
		return s.rates, nil
	})
}

// registerWaveSignals wires the operator-facing signals. Handlers validate
// against current shipment state and queue work for the main loop; they
// never call activities themselves.
func registerWaveSignals(ctx *engine.Context, s *waveState, log logger.Logger) {
	ctx.SetSignalHandler(SignalAllPicksCompleted, func(json.RawMessage) {
		s.picksDone = true
	})
	ctx.SetSignalHandler(SignalAllPacksCompleted, func(json.RawMessage) {
		s.packsDone = true
	})
	ctx.SetSignalHandler(SignalOrderPickCompleted, func(payload json.RawMessage) {
		var p OrderSignalPayload
		if err := decodePayload(payload, &p); err != nil || p.OrderID == "" {
			return
		}
		s.orderPicks[p.OrderID] = true
	})
	ctx.SetSignalHandler(SignalOrderPackCompleted, func(payload json.RawMessage) {
		var p OrderSignalPayload
		if err := decodePayload(payload, &p); err != nil || p.OrderID == "" {
			return
		}
		s.orderPacks[p.OrderID] = true
	})
	ctx.SetSignalHandler(SignalCancelWave, func(payload json.RawMessage) {
		var p CancelPayload
		_ = decodePayload(payload, &p)
		s.cancelled = true
		s.cancelReason = p.Reason
	})
	ctx.SetSignalHandler(SignalFetchRates, func(payload json.RawMessage) {
		var p ShipmentSignalPayload
		if err := decodePayload(payload, &p); err != nil {
			return
		}
		sh, ok := s.shipment(p.ShipmentID)
		if !ok || sh.status == ShipmentShipped {
			log.Warn("fetchRates signal ignored", "shipment_id", p.ShipmentID)
			return
		}
		s.pendingFetch = append(s.pendingFetch, p.ShipmentID)
	})
	ctx.SetSignalHandler(SignalRateSelected, func(payload json.RawMessage) {
		var p RateSelectedPayload
		if err := decodePayload(payload, &p); err != nil {
			return
		}
		sh, ok := s.shipment(p.ShipmentID)
		if !ok || sh.status != ShipmentCreated {
			log.Warn("rateSelected signal ignored", "shipment_id", p.ShipmentID)
			return
		}
		s.pendingSelect = append(s.pendingSelect, p)
	})
	ctx.SetSignalHandler(SignalPrintLabel, func(payload json.RawMessage) {
		var p ShipmentSignalPayload
		if err := decodePayload(payload, &p); err != nil {
			return
		}
		sh, ok := s.shipment(p.ShipmentID)
		if !ok || (sh.status != ShipmentCreated && sh.status != ShipmentRateSelected) {
			log.Warn("printLabel signal ignored", "shipment_id", p.ShipmentID)
			return
		}
		s.pendingLabel = append(s.pendingLabel, p.ShipmentID)
	})
	ctx.SetSignalHandler(SignalShipmentConfirmed, func(payload json.RawMessage) {
		var p ShipmentSignalPayload
		if err := decodePayload(payload, &p); err != nil {
			return
		}
		sh, ok := s.shipment(p.ShipmentID)
		if !ok || sh.status != ShipmentLabelGenerated {
			log.Warn("shipmentConfirmed signal ignored", "shipment_id", p.ShipmentID)
			return
		}
		s.pendingConfirm = append(s.pendingConfirm, p.ShipmentID)
	})
}
