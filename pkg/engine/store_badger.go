package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

const (
	histKeyPrefix     = "hist:"
	histSeqPrefix     = "hist-seq:"
	executionKeyPrefx = "exec:"
)

// WriteMode controls whether history appends flush before returning.
type WriteMode string

const (
	// WriteModeSync flushes each append before return.
	WriteModeSync WriteMode = "sync"
	// WriteModeAsync enqueues appends and flushes in background. Sequence
	// assignment stays synchronous so ordering is preserved.
	WriteModeAsync WriteMode = "async"
)

// BadgerStoreOptions configures a Badger-backed store.
type BadgerStoreOptions struct {
	WriteMode      WriteMode
	AsyncQueueSize int
}

type badgerAppendRequest struct {
	ctx   context.Context
	key   []byte
	value []byte
}

// BadgerStore implements Store on top of Badger. History events live under
// "hist:<executionID>:<seq20>" with a per-execution sequence counter,
// execution records under "exec:<executionID>".
type BadgerStore struct {
	db        *badger.DB
	ownsDB    bool
	writeMode WriteMode

	appendCh chan badgerAppendRequest
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// OpenBadgerStore opens a dedicated Badger DB at path.
func OpenBadgerStore(path string, options BadgerStoreOptions) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	store, err := NewBadgerStore(db, options)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store.ownsDB = true
	return store, nil
}

// NewBadgerStore creates a store over an existing Badger DB instance.
func NewBadgerStore(db *badger.DB, options BadgerStoreOptions) (*BadgerStore, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db cannot be nil")
	}
	if options.WriteMode == "" {
		options.WriteMode = WriteModeSync
	}
	if options.AsyncQueueSize <= 0 {
		options.AsyncQueueSize = 1024
	}
	if options.WriteMode != WriteModeSync && options.WriteMode != WriteModeAsync {
		return nil, fmt.Errorf("unsupported write mode: %s", options.WriteMode)
	}

	store := &BadgerStore{
		db:        db,
		writeMode: options.WriteMode,
		stopCh:    make(chan struct{}),
	}
	if options.WriteMode == WriteModeAsync {
		store.appendCh = make(chan badgerAppendRequest, options.AsyncQueueSize)
		store.wg.Add(1)
		go store.runAsyncWriter()
	}
	return store, nil
}

// AppendEvent assigns the next per-execution sequence and persists the event.
func (s *BadgerStore) AppendEvent(ctx context.Context, event Event) (uint64, error) {
	if event.ExecutionID == "" {
		return 0, fmt.Errorf("event execution_id cannot be empty")
	}
	if event.Type == "" {
		return 0, fmt.Errorf("event type cannot be empty")
	}

	sequence, err := s.nextSequence(event.ExecutionID)
	if err != nil {
		return 0, err
	}
	event.Sequence = sequence

	data, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("encode event: %w", err)
	}
	key := []byte(histEventKey(event.ExecutionID, sequence))

	if s.writeMode == WriteModeAsync {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-s.stopCh:
			return 0, fmt.Errorf("store is closed")
		case s.appendCh <- badgerAppendRequest{ctx: ctx, key: key, value: data}:
			return sequence, nil
		default:
			// Queue full: fall back to a synchronous write.
			if err := s.write(ctx, key, data); err != nil {
				return 0, err
			}
			return sequence, nil
		}
	}

	if err := s.write(ctx, key, data); err != nil {
		return 0, err
	}
	return sequence, nil
}

// ListEvents returns all events of an execution in sequence order.
func (s *BadgerStore) ListEvents(ctx context.Context, executionID string) ([]Event, error) {
	prefix := []byte(histPrefixForExecution(executionID))
	events := make([]Event, 0)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			var event Event
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &event)
			}); err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			events = append(events, event)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// SaveExecution creates or updates an execution record.
func (s *BadgerStore) SaveExecution(ctx context.Context, record *ExecutionRecord) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("execution record id cannot be empty")
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode execution record: %w", err)
	}
	return s.write(ctx, []byte(executionKey(record.ID)), data)
}

// GetExecution returns a record or ErrExecutionNotFound.
func (s *BadgerStore) GetExecution(ctx context.Context, executionID string) (*ExecutionRecord, error) {
	var record ExecutionRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(executionKey(executionID)))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &record)
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, fmt.Errorf("%w: %q", ErrExecutionNotFound, executionID)
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ListExecutions scans all records and filters in memory. Record counts per
// process stay small enough that a scan beats maintaining secondary indexes.
func (s *BadgerStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, int, error) {
	prefix := []byte(executionKeyPrefx)
	matched := make([]*ExecutionRecord, 0)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			var record ExecutionRecord
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &record)
			}); err != nil {
				return fmt.Errorf("decode execution record: %w", err)
			}
			if filter.Workflow != "" && record.Workflow != filter.Workflow {
				continue
			}
			if filter.Status != "" && record.Status != filter.Status {
				continue
			}
			clone := record
			matched = append(matched, &clone)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	sortRecordsNewestFirst(matched)
	total := len(matched)
	matched = applyWindow(matched, filter.Offset, filter.Limit)
	return matched, total, nil
}

// DeleteExecution removes a record, its history, and its sequence counter.
func (s *BadgerStore) DeleteExecution(ctx context.Context, executionID string) error {
	prefix := []byte(histPrefixForExecution(executionID))
	keys := make([][]byte, 0)

	if err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	}); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		_ = txn.Delete([]byte(sequenceKeyForExecution(executionID)))
		return txn.Delete([]byte(executionKey(executionID)))
	})
}

// Close stops background routines and closes the db if owned.
func (s *BadgerStore) Close() error {
	close(s.stopCh)
	if s.appendCh != nil {
		close(s.appendCh)
	}
	s.wg.Wait()
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

func (s *BadgerStore) runAsyncWriter() {
	defer s.wg.Done()
	for req := range s.appendCh {
		if err := s.write(req.ctx, req.key, req.value); err != nil {
			// Best effort; the event already carries its sequence.
			_ = err
		}
	}
}

func (s *BadgerStore) write(ctx context.Context, key, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		return txn.Set(key, value)
	})
}

func (s *BadgerStore) nextSequence(executionID string) (uint64, error) {
	key := []byte(sequenceKeyForExecution(executionID))
	var next uint64
	err := s.db.Update(func(txn *badger.Txn) error {
		current := uint64(0)
		item, err := txn.Get(key)
		switch {
		case err == nil:
			if err := item.Value(func(v []byte) error {
				parsed, parseErr := strconv.ParseUint(string(v), 10, 64)
				if parseErr != nil {
					return parseErr
				}
				current = parsed
				return nil
			}); err != nil {
				return err
			}
		case err == badger.ErrKeyNotFound:
			current = 0
		default:
			return err
		}

		next = current + 1
		return txn.Set(key, []byte(strconv.FormatUint(next, 10)))
	})
	if err != nil {
		return 0, fmt.Errorf("next history sequence: %w", err)
	}
	return next, nil
}

func histPrefixForExecution(executionID string) string {
	return fmt.Sprintf("%s%s:", histKeyPrefix, executionID)
}

func sequenceKeyForExecution(executionID string) string {
	return fmt.Sprintf("%s%s", histSeqPrefix, executionID)
}

func histEventKey(executionID string, sequence uint64) string {
	return fmt.Sprintf("%s%s:%020d", histKeyPrefix, executionID, sequence)
}

func executionKey(executionID string) string {
	return fmt.Sprintf("%s%s", executionKeyPrefx, executionID)
}

func sortRecordsNewestFirst(records []*ExecutionRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}
