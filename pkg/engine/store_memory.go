package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store for tests and single-run setups.
type MemoryStore struct {
	mu        sync.RWMutex
	events    map[string][]Event
	sequences map[string]uint64
	records   map[string]*ExecutionRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:    make(map[string][]Event),
		sequences: make(map[string]uint64),
		records:   make(map[string]*ExecutionRecord),
	}
}

// AppendEvent assigns the next sequence for the execution and stores the event.
func (s *MemoryStore) AppendEvent(ctx context.Context, event Event) (uint64, error) {
	if event.ExecutionID == "" {
		return 0, fmt.Errorf("event execution_id cannot be empty")
	}
	if event.Type == "" {
		return 0, fmt.Errorf("event type cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequences[event.ExecutionID]++
	event.Sequence = s.sequences[event.ExecutionID]
	s.events[event.ExecutionID] = append(s.events[event.ExecutionID], event)
	return event.Sequence, nil
}

// ListEvents returns a copy of the execution's history in sequence order.
func (s *MemoryStore) ListEvents(ctx context.Context, executionID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.events[executionID]
	out := make([]Event, len(events))
	copy(out, events)
	return out, nil
}

// SaveExecution creates or updates a record.
func (s *MemoryStore) SaveExecution(ctx context.Context, record *ExecutionRecord) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("execution record id cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *record
	s.records[record.ID] = &clone
	return nil
}

// GetExecution returns a copy of the record or ErrExecutionNotFound.
func (s *MemoryStore) GetExecution(ctx context.Context, executionID string) (*ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[executionID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrExecutionNotFound, executionID)
	}
	clone := *record
	return &clone, nil
}

// ListExecutions returns matching records, newest first.
func (s *MemoryStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, int, error) {
	s.mu.RLock()
	matched := make([]*ExecutionRecord, 0, len(s.records))
	for _, record := range s.records {
		if filter.Workflow != "" && record.Workflow != filter.Workflow {
			continue
		}
		if filter.Status != "" && record.Status != filter.Status {
			continue
		}
		clone := *record
		matched = append(matched, &clone)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	matched = applyWindow(matched, filter.Offset, filter.Limit)
	return matched, total, nil
}

// DeleteExecution removes a record and its history.
func (s *MemoryStore) DeleteExecution(ctx context.Context, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, executionID)
	delete(s.events, executionID)
	delete(s.sequences, executionID)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

func applyWindow(records []*ExecutionRecord, offset, limit int) []*ExecutionRecord {
	if offset > 0 {
		if offset >= len(records) {
			return nil
		}
		records = records[offset:]
	}
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records
}
