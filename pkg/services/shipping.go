package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/waveflow/waveflow/pkg/activity"
	"github.com/waveflow/waveflow/pkg/fulfillment"
)

// shipmentRecord is one shipment as the shipping service sees it.
type shipmentRecord struct {
	id             string
	tenantID       string
	orderID        string
	facilityID     string
	status         string
	carrier        string
	serviceLevel   string
	labelID        string
	labelURL       string
	trackingNumber string
	confirmedAt    time.Time
}

// carrierRateTable is the static quote sheet per carrier.
var carrierRateTable = map[string][]fulfillment.CarrierRate{
	fulfillment.CarrierUSPS: {
		{Carrier: fulfillment.CarrierUSPS, ServiceLevel: "GROUND", AmountCents: 795, Currency: "USD"},
		{Carrier: fulfillment.CarrierUSPS, ServiceLevel: "PRIORITY", AmountCents: 1295, Currency: "USD"},
	},
	fulfillment.CarrierUPS: {
		{Carrier: fulfillment.CarrierUPS, ServiceLevel: "GROUND", AmountCents: 899, Currency: "USD"},
		{Carrier: fulfillment.CarrierUPS, ServiceLevel: "2DAY", AmountCents: 1899, Currency: "USD"},
	},
	fulfillment.CarrierFedEx: {
		{Carrier: fulfillment.CarrierFedEx, ServiceLevel: "GROUND", AmountCents: 849, Currency: "USD"},
		{Carrier: fulfillment.CarrierFedEx, ServiceLevel: "OVERNIGHT", AmountCents: 2999, Currency: "USD"},
	},
}

// Shipping owns shipments, labels, and carrier rate quotes.
type Shipping struct {
	mu        sync.Mutex
	shipments map[string]*shipmentRecord
	byOrder   map[string]string
	failFetch map[string]int
}

// NewShipping creates an empty shipping service.
func NewShipping() *Shipping {
	return &Shipping{
		shipments: make(map[string]*shipmentRecord),
		byOrder:   make(map[string]string),
		failFetch: make(map[string]int),
	}
}

// FailFetchRates makes the next n rate fetches for carrier fail with a
// retryable error. Test hook for exercising retry and fan-in behavior.
func (s *Shipping) FailFetchRates(carrier string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failFetch[strings.ToUpper(carrier)] = n
}

// ShipmentStatus returns the current status of a shipment.
func (s *Shipping) ShipmentStatus(shipmentID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.shipments[shipmentID]
	if !ok {
		return "", false
	}
	return rec.status, true
}

// Register wires the shipping handlers onto their queue.
func (s *Shipping) Register(x *activity.Executor) error {
	handlers := map[string]activity.HandlerFunc{
		fulfillment.ActivityCreateShipment:  s.createShipment,
		fulfillment.ActivityFetchRates:      s.fetchRates,
		fulfillment.ActivitySelectRate:      s.selectRate,
		fulfillment.ActivityGenerateLabel:   s.generateLabel,
		fulfillment.ActivityConfirmShipment: s.confirmShipment,
	}
	for name, h := range handlers {
		if err := x.Register(fulfillment.QueueShipping, name, h); err != nil {
			return err
		}
	}
	return nil
}

// createShipment opens a shipment for an order. Idempotent on
// (tenantId, orderId).
func (s *Shipping) createShipment(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var req fulfillment.CreateShipmentRequest
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, activity.NonRetryable(fmt.Errorf("decode shipment request: %w", err))
	}
	if req.OrderID == "" {
		return nil, activity.NonRetryable(fmt.Errorf("shipment request needs order_id"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := req.TenantID + "|" + req.OrderID
	if id, ok := s.byOrder[key]; ok {
		return json.Marshal(fulfillment.CreateShipmentResult{ShipmentID: id, AlreadyExisted: true})
	}

	rec := &shipmentRecord{
		id:         uuid.NewString(),
		tenantID:   req.TenantID,
		orderID:    req.OrderID,
		facilityID: req.FacilityID,
		status:     fulfillment.ShipmentCreated,
	}
	s.shipments[rec.id] = rec
	s.byOrder[key] = rec.id
	return json.Marshal(fulfillment.CreateShipmentResult{ShipmentID: rec.id})
}

// fetchRates quotes one carrier for a shipment. Read-only, naturally
// idempotent. Honors the fault-injection counter before answering.
func (s *Shipping) fetchRates(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var req fulfillment.FetchRatesRequest
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, activity.NonRetryable(fmt.Errorf("decode rates request: %w", err))
	}
	carrier := strings.ToUpper(req.Carrier)

	s.mu.Lock()
	if s.failFetch[carrier] > 0 {
		s.failFetch[carrier]--
		s.mu.Unlock()
		return nil, fmt.Errorf("carrier %s rate service unavailable", carrier)
	}
	_, known := s.shipments[req.ShipmentID]
	s.mu.Unlock()

	if !known {
		return nil, activity.NonRetryable(fmt.Errorf("unknown shipment %q", req.ShipmentID))
	}
	rates, ok := carrierRateTable[carrier]
	if !ok {
		return nil, activity.NonRetryable(fmt.Errorf("unknown carrier %q", req.Carrier))
	}
	return json.Marshal(fulfillment.FetchRatesResult{Carrier: carrier, Rates: rates})
}

// selectRate pins a carrier and service level. Idempotent when the same
// rate is selected again.
func (s *Shipping) selectRate(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var req fulfillment.SelectRateRequest
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, activity.NonRetryable(fmt.Errorf("decode select rate request: %w", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.shipments[req.ShipmentID]
	if !ok {
		return nil, activity.NonRetryable(fmt.Errorf("unknown shipment %q", req.ShipmentID))
	}
	switch rec.status {
	case fulfillment.ShipmentCreated:
		rec.carrier = strings.ToUpper(req.Carrier)
		rec.serviceLevel = req.ServiceLevel
		rec.status = fulfillment.ShipmentRateSelected
	case fulfillment.ShipmentRateSelected:
		// Retry of the same selection is fine; a different one is not.
		if rec.carrier != strings.ToUpper(req.Carrier) || rec.serviceLevel != req.ServiceLevel {
			return nil, activity.NonRetryable(fmt.Errorf("shipment %q already selected %s/%s", rec.id, rec.carrier, rec.serviceLevel))
		}
	default:
		return nil, activity.NonRetryable(fmt.Errorf("shipment %q in status %s cannot select a rate", rec.id, rec.status))
	}
	return json.Marshal(fulfillment.SelectRateResult{ShipmentID: rec.id, Status: rec.status})
}

// generateLabel produces the shipping label. Idempotent on the shipment
// ID: a retry returns the label from the first attempt.
func (s *Shipping) generateLabel(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var req fulfillment.GenerateLabelRequest
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, activity.NonRetryable(fmt.Errorf("decode label request: %w", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.shipments[req.ShipmentID]
	if !ok {
		return nil, activity.NonRetryable(fmt.Errorf("unknown shipment %q", req.ShipmentID))
	}
	if rec.labelID != "" {
		return json.Marshal(fulfillment.GenerateLabelResult{LabelID: rec.labelID, LabelURL: rec.labelURL, TrackingNumber: rec.trackingNumber})
	}
	if rec.status == fulfillment.ShipmentShipped {
		return nil, activity.NonRetryable(fmt.Errorf("shipment %q already shipped", rec.id))
	}

	rec.labelID = uuid.NewString()
	rec.labelURL = fmt.Sprintf("https://labels.internal/%s.pdf", rec.labelID)
	rec.trackingNumber = fmt.Sprintf("TRK-%s", strings.ToUpper(rec.labelID[:8]))
	rec.status = fulfillment.ShipmentLabelGenerated
	return json.Marshal(fulfillment.GenerateLabelResult{LabelID: rec.labelID, LabelURL: rec.labelURL, TrackingNumber: rec.trackingNumber})
}

// confirmShipment hands the parcel to the carrier. Idempotent: confirming
// a shipped shipment succeeds without effect.
func (s *Shipping) confirmShipment(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var req fulfillment.ConfirmShipmentRequest
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, activity.NonRetryable(fmt.Errorf("decode confirm request: %w", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.shipments[req.ShipmentID]
	if !ok {
		return nil, activity.NonRetryable(fmt.Errorf("unknown shipment %q", req.ShipmentID))
	}
	if rec.status == fulfillment.ShipmentShipped {
		return json.Marshal(fulfillment.ConfirmShipmentResult{ShipmentID: rec.id, Status: rec.status})
	}
	if rec.status != fulfillment.ShipmentLabelGenerated {
		return nil, activity.NonRetryable(fmt.Errorf("shipment %q in status %s cannot be confirmed", rec.id, rec.status))
	}
	rec.status = fulfillment.ShipmentShipped
	rec.confirmedAt = req.ShippedAt
	if rec.confirmedAt.IsZero() {
		rec.confirmedAt = time.Now().UTC()
	}
	return json.Marshal(fulfillment.ConfirmShipmentResult{ShipmentID: rec.id, Status: rec.status})
}
