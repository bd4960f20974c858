package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/waveflow/waveflow/pkg/activity"
	"github.com/waveflow/waveflow/pkg/fulfillment"
)

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func allocateOnce(t *testing.T, inv *Inventory, orderID, sku string, quantity int) string {
	t.Helper()
	out, err := inv.allocate(context.Background(), mustJSON(t, fulfillment.AllocateInventoryRequest{
		OrderID: orderID, SKU: sku, Quantity: quantity,
	}))
	if err != nil {
		t.Fatalf("allocate failed: %v", err)
	}
	var res fulfillment.AllocateInventoryResult
	if err := json.Unmarshal(out, &res); err != nil {
		t.Fatalf("decode allocate result: %v", err)
	}
	return res.ReservationID
}

func TestInventory_AllocateIdempotent(t *testing.T) {
	inv := NewInventory()
	inv.SetStock("sku-1", 10)

	first := allocateOnce(t, inv, "order-1", "sku-1", 3)
	second := allocateOnce(t, inv, "order-1", "sku-1", 3)

	if first != second {
		t.Errorf("expected retry to return the same reservation, got %s and %s", first, second)
	}
	if got := inv.Stock("sku-1"); got != 7 {
		t.Errorf("expected stock decremented once to 7, got %d", got)
	}
}

func TestInventory_AllocateInsufficientStock(t *testing.T) {
	inv := NewInventory()
	inv.SetStock("sku-1", 2)

	_, err := inv.allocate(context.Background(), mustJSON(t, fulfillment.AllocateInventoryRequest{
		OrderID: "order-1", SKU: "sku-1", Quantity: 5,
	}))
	if err == nil {
		t.Fatal("expected error")
	}
	if !activity.IsNonRetryable(err) {
		t.Errorf("expected insufficient stock to be terminal, got %v", err)
	}
	if got := inv.Stock("sku-1"); got != 2 {
		t.Errorf("expected stock untouched, got %d", got)
	}
}

func TestInventory_AllocateValidation(t *testing.T) {
	inv := NewInventory()
	tests := []struct {
		name string
		req  fulfillment.AllocateInventoryRequest
	}{
		{"missing order", fulfillment.AllocateInventoryRequest{SKU: "sku-1", Quantity: 1}},
		{"missing sku", fulfillment.AllocateInventoryRequest{OrderID: "order-1", Quantity: 1}},
		{"zero quantity", fulfillment.AllocateInventoryRequest{OrderID: "order-1", SKU: "sku-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := inv.allocate(context.Background(), mustJSON(t, tt.req))
			if !activity.IsNonRetryable(err) {
				t.Errorf("expected terminal validation error, got %v", err)
			}
		})
	}
}

func TestInventory_Release(t *testing.T) {
	inv := NewInventory()
	inv.SetStock("sku-1", 10)
	id := allocateOnce(t, inv, "order-1", "sku-1", 4)

	out, err := inv.release(context.Background(), mustJSON(t, fulfillment.ReleaseReservationRequest{ReservationID: id}))
	if err != nil {
		t.Fatalf("release failed: %v", err)
	}
	var res fulfillment.ReleaseReservationResult
	_ = json.Unmarshal(out, &res)
	if !res.Released {
		t.Error("expected first release to report released")
	}
	if got := inv.Stock("sku-1"); got != 10 {
		t.Errorf("expected stock restored to 10, got %d", got)
	}

	// A second release is a no-op.
	out, err = inv.release(context.Background(), mustJSON(t, fulfillment.ReleaseReservationRequest{ReservationID: id}))
	if err != nil {
		t.Fatalf("second release failed: %v", err)
	}
	_ = json.Unmarshal(out, &res)
	if res.Released {
		t.Error("expected repeat release to be a no-op")
	}
	if got := inv.Stock("sku-1"); got != 10 {
		t.Errorf("expected stock unchanged at 10, got %d", got)
	}

	// Unknown reservations are a no-op too.
	if _, err := inv.release(context.Background(), mustJSON(t, fulfillment.ReleaseReservationRequest{ReservationID: "missing"})); err != nil {
		t.Errorf("expected unknown release to succeed as no-op, got %v", err)
	}

	// Every invocation is recorded, no-ops included, and the reservation is
	// findable by order line.
	if got, ok := inv.ReservationID("order-1", "sku-1"); !ok || got != id {
		t.Errorf("expected reservation lookup to return %s, got %s", id, got)
	}
	calls := inv.ReleaseCalls()
	if len(calls) != 3 || calls[0] != id || calls[1] != id || calls[2] != "missing" {
		t.Errorf("unexpected release calls: %v", calls)
	}
}

func TestInventory_Consume(t *testing.T) {
	inv := NewInventory()
	inv.SetStock("sku-1", 10)
	id := allocateOnce(t, inv, "order-1", "sku-1", 4)

	for i := 0; i < 2; i++ {
		out, err := inv.consume(context.Background(), mustJSON(t, fulfillment.ConsumeInventoryRequest{ReservationID: id}))
		if err != nil {
			t.Fatalf("consume attempt %d failed: %v", i+1, err)
		}
		var res fulfillment.ConsumeInventoryResult
		_ = json.Unmarshal(out, &res)
		if !res.Consumed {
			t.Errorf("consume attempt %d: expected consumed", i+1)
		}
	}

	// Consumed stock does not come back on release.
	out, err := inv.release(context.Background(), mustJSON(t, fulfillment.ReleaseReservationRequest{ReservationID: id}))
	if err != nil {
		t.Fatalf("release failed: %v", err)
	}
	var rel fulfillment.ReleaseReservationResult
	_ = json.Unmarshal(out, &rel)
	if rel.Released {
		t.Error("expected release of consumed reservation to be a no-op")
	}
	if got := inv.Stock("sku-1"); got != 6 {
		t.Errorf("expected stock to stay at 6, got %d", got)
	}
}

func TestInventory_ConsumeReleasedIsTerminal(t *testing.T) {
	inv := NewInventory()
	inv.SetStock("sku-1", 10)
	id := allocateOnce(t, inv, "order-1", "sku-1", 4)

	if _, err := inv.release(context.Background(), mustJSON(t, fulfillment.ReleaseReservationRequest{ReservationID: id})); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	_, err := inv.consume(context.Background(), mustJSON(t, fulfillment.ConsumeInventoryRequest{ReservationID: id}))
	if !activity.IsNonRetryable(err) {
		t.Errorf("expected consuming a released reservation to be terminal, got %v", err)
	}

	_, err = inv.consume(context.Background(), mustJSON(t, fulfillment.ConsumeInventoryRequest{ReservationID: "missing"}))
	if !activity.IsNonRetryable(err) {
		t.Errorf("expected consuming an unknown reservation to be terminal, got %v", err)
	}
}
