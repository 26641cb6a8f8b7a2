package queue

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradecomply/internal/model"
)

type memoryItem struct {
	id           string
	body         string
	receipt      string
	visibleAt    time.Time
	receiveCount int
}

// MemoryQueue is an in-process queue with visibility-timeout redelivery
type MemoryQueue struct {
	mu         sync.Mutex
	items      []*memoryItem
	byReceipt  map[string]*memoryItem
	visibility time.Duration
	opts       options
	signal     chan struct{}
	closed     bool
	seq        int
}

// NewMemoryQueue creates an empty in-process queue
func NewMemoryQueue(visibility time.Duration, opts ...Option) *MemoryQueue {
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	return &MemoryQueue{
		byReceipt:  make(map[string]*memoryItem),
		visibility: visibility,
		opts:       buildOptions(opts),
		signal:     make(chan struct{}),
	}
}

// Enqueue appends a message that is immediately visible
func (q *MemoryQueue) Enqueue(ctx context.Context, payload model.Payload) error {
	body, err := EncodePayload(payload)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}

	q.seq++
	q.items = append(q.items, &memoryItem{
		id:        strconv.Itoa(q.seq),
		body:      body,
		visibleAt: q.opts.now(),
	})
	q.wakeLocked()
	return nil
}

// Receive returns up to maxMessages visible messages, waiting up to wait for one to appear
func (q *MemoryQueue) Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]Message, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	return longPoll(ctx, wait, q.opts.pollInterval, q.currentSignal, func() ([]Message, error) {
		return q.claim(maxMessages)
	})
}

func (q *MemoryQueue) claim(maxMessages int) ([]Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}

	now := q.opts.now()
	var msgs []Message
	for _, item := range q.items {
		if len(msgs) == maxMessages {
			break
		}
		if now.Before(item.visibleAt) {
			continue
		}
		if item.receipt != "" {
			delete(q.byReceipt, item.receipt)
		}
		item.receipt = uuid.NewString()
		item.visibleAt = now.Add(q.visibility)
		item.receiveCount++
		q.byReceipt[item.receipt] = item
		msgs = append(msgs, newMessage(item.id, item.body, item.receipt, item.receiveCount))
	}
	return msgs, nil
}

// Delete removes the message owned by receipt. Unknown receipts are ignored.
func (q *MemoryQueue) Delete(ctx context.Context, receipt string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.byReceipt[receipt]
	if !ok {
		return nil
	}
	delete(q.byReceipt, receipt)
	for i, candidate := range q.items {
		if candidate == item {
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	return nil
}

// ChangeVisibility hides the message owned by receipt for timeout from now
func (q *MemoryQueue) ChangeVisibility(ctx context.Context, receipt string, timeout time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.byReceipt[receipt]
	if !ok {
		return ErrStaleReceipt
	}
	item.visibleAt = q.opts.now().Add(timeout)
	if timeout <= 0 {
		q.wakeLocked()
	}
	return nil
}

// Len returns the number of messages not yet deleted
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops the queue; blocked receivers return ErrClosed
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.wakeLocked()
	}
	return nil
}

func (q *MemoryQueue) currentSignal() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.signal
}

func (q *MemoryQueue) wakeLocked() {
	close(q.signal)
	q.signal = make(chan struct{})
}
