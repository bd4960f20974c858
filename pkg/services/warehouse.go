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

// pickTask is one line to pick off a shelf.
type pickTask struct {
	id       string
	sku      string
	quantity int
}

// pickWave groups the pick tasks created for one order.
type pickWave struct {
	id         string
	orderID    string
	facilityID string
	strategy   string
	tasks      []pickTask
}

// Warehouse owns pick waves, pick tasks, and wave status records.
type Warehouse struct {
	mu         sync.Mutex
	pickWaves  map[string]*pickWave
	byOrder    map[string]string
	waveStatus map[string]string
}

// NewWarehouse creates an empty warehouse service.
func NewWarehouse() *Warehouse {
	return &Warehouse{
		pickWaves:  make(map[string]*pickWave),
		byOrder:    make(map[string]string),
		waveStatus: make(map[string]string),
	}
}

// WaveStatus returns the recorded status of a wave.
func (s *Warehouse) WaveStatus(waveID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.waveStatus[waveID]
	return status, ok
}

// PickTaskCount returns how many pick tasks exist for an order.
func (s *Warehouse) PickTaskCount(orderID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byOrder[orderID]
	if !ok {
		return 0
	}
	return len(s.pickWaves[id].tasks)
}

// Register wires the warehouse handlers onto their queue.
func (s *Warehouse) Register(x *activity.Executor) error {
	handlers := map[string]activity.HandlerFunc{
		fulfillment.ActivityCreatePickWave:   s.createPickWave,
		fulfillment.ActivityUpdateWaveStatus: s.updateWaveStatus,
	}
	for name, h := range handlers {
		if err := x.Register(fulfillment.QueueWarehouse, name, h); err != nil {
			return err
		}
	}
	return nil
}

// createPickWave creates the pick wave and one pick task per line for an
// order. Idempotent on the order ID.
func (s *Warehouse) createPickWave(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var req fulfillment.CreatePickWaveRequest
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, activity.NonRetryable(fmt.Errorf("decode pick wave request: %w", err))
	}
	if req.OrderID == "" {
		return nil, activity.NonRetryable(fmt.Errorf("pick wave request needs order_id"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byOrder[req.OrderID]; ok {
		return json.Marshal(fulfillment.CreatePickWaveResult{PickWaveID: id, AlreadyExisted: true})
	}

	wave := &pickWave{
		id:         uuid.NewString(),
		orderID:    req.OrderID,
		facilityID: req.FacilityID,
		strategy:   req.Strategy,
	}
	for _, line := range req.Lines {
		wave.tasks = append(wave.tasks, pickTask{
			id:       uuid.NewString(),
			sku:      line.SKU,
			quantity: line.Quantity,
		})
	}
	s.pickWaves[wave.id] = wave
	s.byOrder[req.OrderID] = wave.id
	return json.Marshal(fulfillment.CreatePickWaveResult{PickWaveID: wave.id})
}

// updateWaveStatus upserts the status record for a wave. Setting the same
// status twice is a no-op, so retries are safe.
func (s *Warehouse) updateWaveStatus(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var req fulfillment.UpdateWaveStatusRequest
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, activity.NonRetryable(fmt.Errorf("decode wave status request: %w", err))
	}
	if req.WaveID == "" || req.Status == "" {
		return nil, activity.NonRetryable(fmt.Errorf("wave status request needs wave_id and status"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.waveStatus[req.WaveID] = req.Status
	return json.Marshal(fulfillment.UpdateWaveStatusResult{WaveID: req.WaveID, Status: req.Status})
}
