package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/waveflow/waveflow/pkg/activity"
	"github.com/waveflow/waveflow/pkg/fulfillment"
)

func createShipmentOnce(t *testing.T, sh *Shipping, tenantID, orderID string) string {
	t.Helper()
	out, err := sh.createShipment(context.Background(), mustJSON(t, fulfillment.CreateShipmentRequest{
		TenantID: tenantID, OrderID: orderID, ShipTo: validShipTo(),
	}))
	if err != nil {
		t.Fatalf("createShipment failed: %v", err)
	}
	var res fulfillment.CreateShipmentResult
	_ = json.Unmarshal(out, &res)
	return res.ShipmentID
}

func TestShipping_CreateShipmentIdempotent(t *testing.T) {
	sh := NewShipping()

	first := createShipmentOnce(t, sh, "acme", "order-1")
	second := createShipmentOnce(t, sh, "acme", "order-1")
	if first != second {
		t.Errorf("expected retry to return same shipment, got %s and %s", first, second)
	}

	// A different tenant gets its own shipment for the same order ID.
	other := createShipmentOnce(t, sh, "globex", "order-1")
	if other == first {
		t.Error("expected distinct shipment per tenant")
	}
}

func TestShipping_FetchRates(t *testing.T) {
	sh := NewShipping()
	id := createShipmentOnce(t, sh, "acme", "order-1")

	out, err := sh.fetchRates(context.Background(), mustJSON(t, fulfillment.FetchRatesRequest{
		ShipmentID: id, Carrier: "usps",
	}))
	if err != nil {
		t.Fatalf("fetchRates failed: %v", err)
	}
	var res fulfillment.FetchRatesResult
	_ = json.Unmarshal(out, &res)
	if res.Carrier != fulfillment.CarrierUSPS {
		t.Errorf("expected normalized carrier, got %s", res.Carrier)
	}
	if len(res.Rates) == 0 {
		t.Error("expected at least one rate")
	}

	_, err = sh.fetchRates(context.Background(), mustJSON(t, fulfillment.FetchRatesRequest{
		ShipmentID: id, Carrier: "pigeon-post",
	}))
	if !activity.IsNonRetryable(err) {
		t.Errorf("expected unknown carrier to be terminal, got %v", err)
	}

	_, err = sh.fetchRates(context.Background(), mustJSON(t, fulfillment.FetchRatesRequest{
		ShipmentID: "missing", Carrier: "usps",
	}))
	if !activity.IsNonRetryable(err) {
		t.Errorf("expected unknown shipment to be terminal, got %v", err)
	}
}

func TestShipping_FetchRatesFaultInjection(t *testing.T) {
	sh := NewShipping()
	id := createShipmentOnce(t, sh, "acme", "order-1")
	sh.FailFetchRates("fedex", 2)

	req := mustJSON(t, fulfillment.FetchRatesRequest{ShipmentID: id, Carrier: "fedex"})
	for i := 0; i < 2; i++ {
		_, err := sh.fetchRates(context.Background(), req)
		if err == nil {
			t.Fatalf("expected injected failure on attempt %d", i+1)
		}
		if activity.IsNonRetryable(err) {
			t.Fatalf("expected injected failure to be retryable, got %v", err)
		}
	}

	// The counter is exhausted; the next fetch succeeds.
	if _, err := sh.fetchRates(context.Background(), req); err != nil {
		t.Fatalf("expected fetch to recover, got %v", err)
	}
}

func TestShipping_SelectRate(t *testing.T) {
	sh := NewShipping()
	id := createShipmentOnce(t, sh, "acme", "order-1")

	sel := mustJSON(t, fulfillment.SelectRateRequest{ShipmentID: id, Carrier: "ups", ServiceLevel: "GROUND"})
	out, err := sh.selectRate(context.Background(), sel)
	if err != nil {
		t.Fatalf("selectRate failed: %v", err)
	}
	var res fulfillment.SelectRateResult
	_ = json.Unmarshal(out, &res)
	if res.Status != fulfillment.ShipmentRateSelected {
		t.Errorf("unexpected status: %s", res.Status)
	}

	// Retrying the same selection succeeds.
	if _, err := sh.selectRate(context.Background(), sel); err != nil {
		t.Fatalf("retry of same selection failed: %v", err)
	}

	// A different selection on the same shipment is terminal.
	_, err = sh.selectRate(context.Background(), mustJSON(t, fulfillment.SelectRateRequest{
		ShipmentID: id, Carrier: "usps", ServiceLevel: "PRIORITY",
	}))
	if !activity.IsNonRetryable(err) {
		t.Errorf("expected conflicting selection to be terminal, got %v", err)
	}
}

func TestShipping_LabelAndConfirm(t *testing.T) {
	sh := NewShipping()
	id := createShipmentOnce(t, sh, "acme", "order-1")

	// Confirming before a label exists is terminal.
	_, err := sh.confirmShipment(context.Background(), mustJSON(t, fulfillment.ConfirmShipmentRequest{ShipmentID: id}))
	if !activity.IsNonRetryable(err) {
		t.Fatalf("expected confirm without label to be terminal, got %v", err)
	}

	if _, err := sh.selectRate(context.Background(), mustJSON(t, fulfillment.SelectRateRequest{
		ShipmentID: id, Carrier: "ups", ServiceLevel: "GROUND",
	})); err != nil {
		t.Fatalf("selectRate failed: %v", err)
	}

	out, err := sh.generateLabel(context.Background(), mustJSON(t, fulfillment.GenerateLabelRequest{ShipmentID: id}))
	if err != nil {
		t.Fatalf("generateLabel failed: %v", err)
	}
	var first fulfillment.GenerateLabelResult
	_ = json.Unmarshal(out, &first)
	if first.LabelID == "" || first.LabelURL == "" || first.TrackingNumber == "" {
		t.Fatalf("unexpected label result: %+v", first)
	}

	// A retry returns the same label.
	out, err = sh.generateLabel(context.Background(), mustJSON(t, fulfillment.GenerateLabelRequest{ShipmentID: id}))
	if err != nil {
		t.Fatalf("retry generateLabel failed: %v", err)
	}
	var second fulfillment.GenerateLabelResult
	_ = json.Unmarshal(out, &second)
	if second.LabelID != first.LabelID || second.LabelURL != first.LabelURL || second.TrackingNumber != first.TrackingNumber {
		t.Errorf("expected stable label on retry, got %+v and %+v", first, second)
	}

	for i := 0; i < 2; i++ {
		out, err = sh.confirmShipment(context.Background(), mustJSON(t, fulfillment.ConfirmShipmentRequest{ShipmentID: id}))
		if err != nil {
			t.Fatalf("confirm attempt %d failed: %v", i+1, err)
		}
	}
	var conf fulfillment.ConfirmShipmentResult
	_ = json.Unmarshal(out, &conf)
	if conf.Status != fulfillment.ShipmentShipped {
		t.Errorf("expected SHIPPED, got %s", conf.Status)
	}
	if status, _ := sh.ShipmentStatus(id); status != fulfillment.ShipmentShipped {
		t.Errorf("expected stored status SHIPPED, got %s", status)
	}
}

func TestSet_RegisterAllQueues(t *testing.T) {
	set := NewSet()
	x := activity.NewExecutor()
	if err := set.Register(x); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	// Registering twice collides on every handler name.
	if err := set.Register(x); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}
