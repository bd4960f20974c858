package signal

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNoSubscriber is returned when publishing to a target with no mailbox.
var ErrNoSubscriber = errors.New("no subscriber for target")

// Bus routes signal messages to per-target mailboxes.
type Bus interface {
	// Publish delivers msg to the target's mailbox.
	Publish(ctx context.Context, msg *Message) error

	// Subscribe creates (or returns) the mailbox for a target.
	Subscribe(target string) (*Mailbox, error)

	// Unsubscribe closes and removes the target's mailbox.
	Unsubscribe(target string)
}

// LocalBus is an in-process Bus. Every execution in this process owns
// exactly one mailbox for its lifetime.
type LocalBus struct {
	mu    sync.RWMutex
	boxes map[string]*Mailbox
}

// NewLocalBus creates an empty local bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{
		boxes: make(map[string]*Mailbox),
	}
}

// Publish enqueues msg into the target's mailbox.
func (b *LocalBus) Publish(ctx context.Context, msg *Message) error {
	if msg == nil || msg.Target == "" {
		return fmt.Errorf("message target cannot be empty")
	}

	b.mu.RLock()
	box, ok := b.boxes[msg.Target]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoSubscriber, msg.Target)
	}
	return box.Enqueue(msg)
}

// Subscribe creates the mailbox for target, erroring on duplicates.
func (b *LocalBus) Subscribe(target string) (*Mailbox, error) {
	if target == "" {
		return nil, fmt.Errorf("target cannot be empty")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.boxes[target]; exists {
		return nil, fmt.Errorf("target %q already subscribed", target)
	}
	box := NewMailbox()
	b.boxes[target] = box
	return box, nil
}

// Unsubscribe closes and removes the target's mailbox.
func (b *LocalBus) Unsubscribe(target string) {
	b.mu.Lock()
	box, ok := b.boxes[target]
	delete(b.boxes, target)
	b.mu.Unlock()
	if ok {
		box.Close()
	}
}

// Targets returns the currently subscribed targets.
func (b *LocalBus) Targets() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	targets := make([]string, 0, len(b.boxes))
	for target := range b.boxes {
		targets = append(targets, target)
	}
	return targets
}
