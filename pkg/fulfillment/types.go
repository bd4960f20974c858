// Package fulfillment defines the order-fulfillment saga workflows and the
// DTOs exchanged with the owning services over activity queues.
package fulfillment

import (
	"encoding/json"
	"time"
)

// OrderLine is one SKU/quantity pair on an order.
type OrderLine struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

// Address is a shipping destination.
type Address struct {
	Name       string `json:"name"`
	Street     string `json:"street"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Order statuses as tracked by the order service.
const (
	OrderStatusReceived     = "RECEIVED"
	OrderStatusCreated      = "CREATED"
	OrderStatusAwaitingWave = "AWAITING_WAVE"
	OrderStatusReserved     = "RESERVED"
	OrderStatusShipped      = "SHIPPED"
	OrderStatusCancelled    = "CANCELLED"
	OrderStatusFailed       = "FAILED"
)

// Per-order outcomes inside a wave.
const (
	WaveOrderAllocated        = "ALLOCATED"
	WaveOrderAllocationFailed = "ALLOCATION_FAILED"
	WaveOrderShipmentFailed   = "SHIPMENT_FAILED"
	WaveOrderShipped          = "SHIPPED"
	WaveOrderCancelled        = "CANCELLED"
)

// Wave statuses.
const (
	WaveStatusExecuting = "EXECUTING"
	WaveStatusCompleted = "COMPLETED"
	WaveStatusFailed    = "FAILED"
	WaveStatusCancelled = "CANCELLED"
)

// Shipment states.
const (
	ShipmentCreated        = "CREATED"
	ShipmentRateSelected   = "RATE_SELECTED"
	ShipmentLabelGenerated = "LABEL_GENERATED"
	ShipmentShipped        = "SHIPPED"
)

// Wave execution steps, exposed through the getCurrentStep query.
const (
	StepAllocatingInventory = "ALLOCATING_INVENTORY"
	StepMarkingReserved     = "MARKING_RESERVED"
	StepCreatingPickTasks   = "CREATING_PICK_TASKS"
	StepWaitingForPicks     = "WAITING_FOR_PICKS"
	StepConsumingInventory  = "CONSUMING_INVENTORY"
	StepWaitingForPacks     = "WAITING_FOR_PACKS"
	StepCreatingShipments   = "CREATING_SHIPMENTS"
	StepWaitingForShipments = "WAITING_FOR_SHIPMENTS"
	StepUpdatingWaveStatus  = "UPDATING_WAVE_STATUS"
	StepCompleted           = "COMPLETED"
	StepCancelled           = "CANCELLED"
)

// Carriers offering shipment rates.
const (
	CarrierUSPS  = "USPS"
	CarrierUPS   = "UPS"
	CarrierFedEx = "FEDEX"
)

// Rate fetch statuses, tracked per shipment and per carrier.
const (
	RateFetchPending   = "PENDING"
	RateFetchFetching  = "FETCHING"
	RateFetchCompleted = "COMPLETED"
	RateFetchFailed    = "FAILED"
)

// Order service DTOs.

type ValidateOrderRequest struct {
	TenantID string      `json:"tenant_id"`
	Lines    []OrderLine `json:"lines"`
	ShipTo   Address     `json:"ship_to"`
}

type ValidateOrderResult struct {
	Valid bool `json:"valid"`
}

type CreateOrderRequest struct {
	RequestID string      `json:"request_id"`
	TenantID  string      `json:"tenant_id"`
	Lines     []OrderLine `json:"lines"`
	ShipTo    Address     `json:"ship_to"`
}

type CreateOrderResult struct {
	OrderID        string `json:"order_id"`
	AlreadyExisted bool   `json:"already_existed"`
}

type UpdateOrderStatusRequest struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason,omitempty"`
}

// MarkOrderShippedRequest carries the shipment identity onto the order so
// the order service can surface tracking without a shipping-service lookup.
type MarkOrderShippedRequest struct {
	OrderID        string `json:"order_id"`
	ShipmentID     string `json:"shipment_id"`
	TrackingNumber string `json:"tracking_number,omitempty"`
	Carrier        string `json:"carrier,omitempty"`
}

type UpdateOrderStatusResult struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// Inventory service DTOs.

type AllocateInventoryRequest struct {
	OrderID  string `json:"order_id"`
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

type AllocateInventoryResult struct {
	ReservationID string `json:"reservation_id"`
}

type ReleaseReservationRequest struct {
	ReservationID string `json:"reservation_id"`
	OrderID       string `json:"order_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

type ReleaseReservationResult struct {
	Released bool `json:"released"`
}

type ConsumeInventoryRequest struct {
	ReservationID string `json:"reservation_id"`
	OrderID       string `json:"order_id,omitempty"`
	SKU           string `json:"sku"`
	Quantity      int    `json:"quantity,omitempty"`
}

type ConsumeInventoryResult struct {
	Consumed bool `json:"consumed"`
}

// Warehouse service DTOs.

// Pick wave strategies.
const (
	PickStrategySingleOrder = "SINGLE_ORDER"
	PickStrategyBatch       = "BATCH"
)

type CreatePickWaveRequest struct {
	OrderID    string      `json:"order_id"`
	FacilityID string      `json:"facility_id,omitempty"`
	Strategy   string      `json:"strategy"`
	Lines      []OrderLine `json:"lines"`
}

type CreatePickWaveResult struct {
	PickWaveID     string `json:"pick_wave_id"`
	AlreadyExisted bool   `json:"already_existed"`
}

type UpdateWaveStatusRequest struct {
	WaveID string `json:"wave_id"`
	Status string `json:"status"`
}

type UpdateWaveStatusResult struct {
	WaveID string `json:"wave_id"`
	Status string `json:"status"`
}

// Shipping service DTOs.

type CreateShipmentRequest struct {
	TenantID   string  `json:"tenant_id"`
	OrderID    string  `json:"order_id"`
	FacilityID string  `json:"facility_id,omitempty"`
	ShipTo     Address `json:"ship_to"`
}

type CreateShipmentResult struct {
	ShipmentID     string `json:"shipment_id"`
	AlreadyExisted bool   `json:"already_existed"`
}

type FetchRatesRequest struct {
	TenantID   string `json:"tenant_id,omitempty"`
	ShipmentID string `json:"shipment_id"`
	OrderID    string `json:"order_id,omitempty"`
	Carrier    string `json:"carrier"`
}

type CarrierRate struct {
	Carrier      string `json:"carrier"`
	ServiceLevel string `json:"service_level"`
	AmountCents  int64  `json:"amount_cents"`
	Currency     string `json:"currency"`
}

type FetchRatesResult struct {
	Carrier string        `json:"carrier"`
	Rates   []CarrierRate `json:"rates"`
}

type SelectRateRequest struct {
	ShipmentID   string `json:"shipment_id"`
	Carrier      string `json:"carrier"`
	ServiceLevel string `json:"service_level"`
}

type SelectRateResult struct {
	ShipmentID string `json:"shipment_id"`
	Status     string `json:"status"`
}

type GenerateLabelRequest struct {
	ShipmentID string `json:"shipment_id"`
}

type GenerateLabelResult struct {
	LabelID        string `json:"label_id"`
	LabelURL       string `json:"label_url"`
	TrackingNumber string `json:"tracking_number"`
}

type ConfirmShipmentRequest struct {
	ShipmentID string    `json:"shipment_id"`
	OrderID    string    `json:"order_id,omitempty"`
	ShippedAt  time.Time `json:"shipped_at,omitzero"`
}

type ConfirmShipmentResult struct {
	ShipmentID string `json:"shipment_id"`
	Status     string `json:"status"`
}

// Workflow inputs and results.

type OrderIntakeInput struct {
	RequestID string      `json:"request_id"`
	TenantID  string      `json:"tenant_id"`
	Lines     []OrderLine `json:"lines"`
	ShipTo    Address     `json:"ship_to"`
}

type OrderIntakeResult struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

type OrderIntakeStatus struct {
	Status  string `json:"status"`
	OrderID string `json:"order_id,omitempty"`
}

type OrderFulfillmentInput struct {
	OrderID    string      `json:"order_id"`
	TenantID   string      `json:"tenant_id"`
	FacilityID string      `json:"facility_id,omitempty"`
	Lines      []OrderLine `json:"lines"`
	ShipTo     Address     `json:"ship_to"`
}

type OrderFulfillmentResult struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

type WaveOrder struct {
	OrderID string      `json:"order_id"`
	Lines   []OrderLine `json:"lines"`
	ShipTo  Address     `json:"ship_to"`
}

type WaveExecutionInput struct {
	WaveID     string      `json:"wave_id"`
	TenantID   string      `json:"tenant_id"`
	FacilityID string      `json:"facility_id,omitempty"`
	Orders     []WaveOrder `json:"orders"`
}

type WaveExecutionResult struct {
	WaveID        string `json:"wave_id"`
	Status        string `json:"status"`
	OrdersShipped int    `json:"orders_shipped"`
	OrdersFailed  int    `json:"orders_failed"`
}

// WaveStatusView is the getWaveStatus query response.
type WaveStatusView struct {
	WaveID          string            `json:"wave_id"`
	Status          string            `json:"status"`
	CurrentStep     string            `json:"current_step"`
	BlockingReason  string            `json:"blocking_reason,omitempty"`
	TotalOrders     int               `json:"total_orders"`
	OrdersAllocated int               `json:"orders_allocated"`
	OrdersPicked    int               `json:"orders_picked"`
	OrdersPacked    int               `json:"orders_packed"`
	OrdersShipped   int               `json:"orders_shipped"`
	OrdersFailed    int               `json:"orders_failed"`
	OrderStatuses   map[string]string `json:"order_statuses"`
	FailedOrderIDs  []string          `json:"failed_order_ids"`
}

// ShipmentStateView is one entry of the getShipmentStates query response.
type ShipmentStateView struct {
	ShipmentID     string `json:"shipment_id"`
	OrderID        string `json:"order_id"`
	Status         string `json:"status"`
	Carrier        string `json:"carrier,omitempty"`
	ServiceLevel   string `json:"service_level,omitempty"`
	TrackingNumber string `json:"tracking_number,omitempty"`
	LabelURL       string `json:"label_url,omitempty"`
}

// FetchedRates is the getFetchedRates query entry for one shipment. The
// carrier statuses move FETCHING to COMPLETED or FAILED independently; the
// shipment-level status is FAILED as soon as any carrier exhausts retries.
type FetchedRates struct {
	ShipmentID    string            `json:"shipment_id"`
	Status        string            `json:"status"`
	CarrierStatus map[string]string `json:"carrier_status"`
	Rates         []CarrierRate     `json:"rates"`
}

// Signal payloads.

type CancelPayload struct {
	Reason string `json:"reason"`
}

type OrderSignalPayload struct {
	OrderID string `json:"order_id"`
}

type RateSelectedPayload struct {
	ShipmentID   string `json:"shipment_id"`
	Carrier      string `json:"carrier"`
	ServiceLevel string `json:"service_level"`
}

type ShipmentSignalPayload struct {
	ShipmentID string `json:"shipment_id"`
}

func decodePayload(payload json.RawMessage, out any) error {
	if len(payload) == 0 {
		return nil
	}
	return json.Unmarshal(payload, out)
}
