package fulfillment

import (
	"encoding/json"
	"fmt"

	"github.com/waveflow/waveflow/pkg/engine"
)

// OrderIntake accepts one customer order request and hands it to the order
// service: validate, create (idempotent on the request ID), then park the
// order awaiting wave assignment. There is nothing to compensate; a
// validation failure simply fails the execution before any order exists.
func OrderIntake(ctx *engine.Context, input json.RawMessage) (json.RawMessage, error) {
	var in OrderIntakeInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("decode order intake input: %w", err)
	}
	if in.RequestID == "" {
		return nil, fmt.Errorf("order intake request_id cannot be empty")
	}

	status := OrderStatusReceived
	var orderID string

	ctx.SetQueryHandler(QueryGetStatus, func() (any, error) {
		return OrderIntakeStatus{Status: status, OrderID: orderID}, nil
	})

	orders := ordersClient{ctx}

	status = "VALIDATING"
	if _, err := orders.validate(ValidateOrderRequest{
		TenantID: in.TenantID,
		Lines:    in.Lines,
		ShipTo:   in.ShipTo,
	}); err != nil {
		status = "VALIDATION_FAILED"
		return nil, fmt.Errorf("order validation: %w", err)
	}
	status = "VALIDATED"

	status = "CREATING"
	created, err := orders.create(CreateOrderRequest{
		RequestID: in.RequestID,
		TenantID:  in.TenantID,
		Lines:     in.Lines,
		ShipTo:    in.ShipTo,
	})
	if err != nil {
		status = "CREATE_FAILED"
		return nil, fmt.Errorf("create order: %w", err)
	}
	orderID = created.OrderID
	status = OrderStatusCreated
	if created.AlreadyExisted {
		ctx.Logger().Info("order already existed for request", "order_id", orderID)
	}

	status = "MARKING_AWAITING_WAVE"
	if err := orders.markAwaitingWave(orderID); err != nil {
		return nil, fmt.Errorf("mark order awaiting wave: %w", err)
	}
	status = OrderStatusAwaitingWave

	return json.Marshal(OrderIntakeResult{OrderID: orderID, Status: status})
}
