package signal

import (
	"errors"
	"sync"
)

// ErrMailboxClosed is returned when enqueueing to a closed mailbox.
var ErrMailboxClosed = errors.New("mailbox is closed")

// Mailbox is an unbounded FIFO inbox for one execution. Enqueue never
// blocks the sender; the owner waits on Notify and drains in batches.
type Mailbox struct {
	mu     sync.Mutex
	queue  []*Message
	notify chan struct{}
	closed bool
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{
		notify: make(chan struct{}, 1),
	}
}

// Enqueue appends a message and signals the owner.
func (m *Mailbox) Enqueue(msg *Message) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrMailboxClosed
	}
	m.queue = append(m.queue, msg)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return nil
}

// Notify returns the channel that fires when messages may be pending.
// One token covers any number of enqueued messages; drain after each receive.
func (m *Mailbox) Notify() <-chan struct{} {
	return m.notify
}

// Drain removes and returns all pending messages in arrival order.
func (m *Mailbox) Drain() []*Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.queue
	m.queue = nil
	return msgs
}

// Len returns the number of pending messages.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Close rejects further enqueues. Pending messages stay drainable.
func (m *Mailbox) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}
