package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openStores builds one store per backend so every backend passes the same
// contract.
func openStores(t *testing.T) map[string]Store {
	t.Helper()
	stores := map[string]Store{
		"memory": NewMemoryStore(),
	}

	badgerSync, err := OpenBadgerStore(t.TempDir(), BadgerStoreOptions{WriteMode: WriteModeSync})
	require.NoError(t, err)
	stores["badger-sync"] = badgerSync

	badgerAsync, err := OpenBadgerStore(t.TempDir(), BadgerStoreOptions{WriteMode: WriteModeAsync, AsyncQueueSize: 16})
	require.NoError(t, err)
	stores["badger-async"] = badgerAsync

	t.Cleanup(func() {
		for _, s := range stores {
			_ = s.Close()
		}
	})
	return stores
}

// waitEvents polls ListEvents until the history holds at least n events.
// Async write modes persist in the background.
func waitEvents(t *testing.T, s Store, executionID string, n int) []Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		events, err := s.ListEvents(context.Background(), executionID)
		require.NoError(t, err)
		if len(events) >= n || time.Now().After(deadline) {
			return events
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestStore_AppendAndListEvents(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			types := []EventType{EventExecutionStarted, EventActivityScheduled, EventActivityCompleted}
			for i, typ := range types {
				seq, err := store.AppendEvent(ctx, Event{
					ExecutionID: "exec-1",
					Type:        typ,
					Timestamp:   time.Now().UTC(),
				})
				require.NoError(t, err)
				assert.Equal(t, uint64(i+1), seq)
			}

			// A second execution gets its own sequence space.
			seq, err := store.AppendEvent(ctx, Event{ExecutionID: "exec-2", Type: EventExecutionStarted, Timestamp: time.Now().UTC()})
			require.NoError(t, err)
			assert.Equal(t, uint64(1), seq)

			events := waitEvents(t, store, "exec-1", len(types))
			require.Len(t, events, len(types))
			for i, ev := range events {
				assert.Equal(t, types[i], ev.Type, "event %d", i)
				assert.Equal(t, uint64(i+1), ev.Sequence, "event %d", i)
			}
		})
	}
}

func TestStore_AppendEventValidation(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := store.AppendEvent(ctx, Event{Type: EventExecutionStarted})
			assert.Error(t, err, "missing execution id")
			_, err = store.AppendEvent(ctx, Event{ExecutionID: "exec-1"})
			assert.Error(t, err, "missing event type")
		})
	}
}

func TestStore_SaveAndGetExecution(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.GetExecution(ctx, "missing")
			require.ErrorIs(t, err, ErrExecutionNotFound)

			now := time.Now().UTC().Truncate(time.Millisecond)
			record := &ExecutionRecord{
				ID:        "exec-1",
				Workflow:  "fulfill-order",
				Status:    StatusRunning,
				Input:     json.RawMessage(`{"order":"o-1"}`),
				CreatedAt: now,
				UpdatedAt: now,
			}
			require.NoError(t, store.SaveExecution(ctx, record))

			got, err := store.GetExecution(ctx, "exec-1")
			require.NoError(t, err)
			assert.Equal(t, "fulfill-order", got.Workflow)
			assert.Equal(t, StatusRunning, got.Status)

			// Updates overwrite in place.
			record.Status = StatusCompleted
			record.Result = json.RawMessage(`"shipped"`)
			require.NoError(t, store.SaveExecution(ctx, record))

			got, err = store.GetExecution(ctx, "exec-1")
			require.NoError(t, err)
			assert.Equal(t, StatusCompleted, got.Status)
			assert.Equal(t, `"shipped"`, string(got.Result))

			assert.Error(t, store.SaveExecution(ctx, nil))
			assert.Error(t, store.SaveExecution(ctx, &ExecutionRecord{}))
		})
	}
}

func TestStore_ListExecutions(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Now().UTC().Truncate(time.Millisecond)

			seed := []struct {
				id       string
				workflow string
				status   Status
				offset   time.Duration
			}{
				{"exec-1", "fulfill-order", StatusCompleted, 0},
				{"exec-2", "fulfill-order", StatusRunning, time.Second},
				{"exec-3", "cancel-order", StatusRunning, 2 * time.Second},
			}
			for _, s := range seed {
				require.NoError(t, store.SaveExecution(ctx, &ExecutionRecord{
					ID:        s.id,
					Workflow:  s.workflow,
					Status:    s.status,
					CreatedAt: base.Add(s.offset),
					UpdatedAt: base.Add(s.offset),
				}))
			}

			records, total, err := store.ListExecutions(ctx, ExecutionFilter{})
			require.NoError(t, err)
			require.Equal(t, 3, total)
			require.Len(t, records, 3)
			// Newest first.
			assert.Equal(t, "exec-3", records[0].ID)
			assert.Equal(t, "exec-1", records[2].ID)

			_, total, err = store.ListExecutions(ctx, ExecutionFilter{Workflow: "fulfill-order"})
			require.NoError(t, err)
			assert.Equal(t, 2, total)

			records, total, err = store.ListExecutions(ctx, ExecutionFilter{Status: StatusRunning, Limit: 1, Offset: 1})
			require.NoError(t, err)
			assert.Equal(t, 2, total, "total counts matches before windowing")
			require.Len(t, records, 1)
			assert.Equal(t, "exec-2", records[0].ID)

			records, _, err = store.ListExecutions(ctx, ExecutionFilter{Offset: 10})
			require.NoError(t, err)
			assert.Empty(t, records, "page past the end")
		})
	}
}

func TestStore_DeleteExecution(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC()

			require.NoError(t, store.SaveExecution(ctx, &ExecutionRecord{
				ID: "exec-1", Workflow: "fulfill-order", Status: StatusCompleted, CreatedAt: now, UpdatedAt: now,
			}))
			for i := 0; i < 3; i++ {
				_, err := store.AppendEvent(ctx, Event{ExecutionID: "exec-1", Type: EventSignalReceived, Timestamp: now})
				require.NoError(t, err)
			}
			waitEvents(t, store, "exec-1", 3)

			require.NoError(t, store.DeleteExecution(ctx, "exec-1"))

			_, err := store.GetExecution(ctx, "exec-1")
			assert.ErrorIs(t, err, ErrExecutionNotFound)
			events, err := store.ListEvents(ctx, "exec-1")
			require.NoError(t, err)
			assert.Empty(t, events)

			// The sequence counter resets with the history.
			seq, err := store.AppendEvent(ctx, Event{ExecutionID: "exec-1", Type: EventExecutionStarted, Timestamp: now})
			require.NoError(t, err)
			assert.Equal(t, uint64(1), seq)
		})
	}
}
