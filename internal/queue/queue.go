// Package queue provides the at-least-once processing queue the worker consumes.
//
// Every implementation honours the same contract: a received message stays
// invisible to other receivers for the visibility timeout, a new receipt
// token is issued on every delivery, and a message that is not deleted before
// its visibility timeout lapses is delivered again.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"tradecomply/internal/config"
	"tradecomply/internal/model"
)

var (
	// ErrClosed is returned by operations on a closed queue
	ErrClosed = errors.New("queue closed")
	// ErrStaleReceipt is returned when a receipt no longer owns its message
	ErrStaleReceipt = errors.New("stale receipt token")
)

// Message is one delivery of a queued payload
type Message struct {
	ID           string
	Body         string
	Payload      model.Payload
	DecodeErr    error
	ReceiptToken string
	ReceiveCount int
}

// Queue is the behaviour the dispatcher and worker rely on
type Queue interface {
	Enqueue(ctx context.Context, payload model.Payload) error
	Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]Message, error)
	Delete(ctx context.Context, receipt string) error
	ChangeVisibility(ctx context.Context, receipt string, timeout time.Duration) error
	Close() error
}

// New builds the queue selected by cfg.Driver
func New(ctx context.Context, cfg config.QueueConfig, db *gorm.DB) (Queue, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemoryQueue(cfg.VisibilityTimeout, WithPollInterval(cfg.PollInterval)), nil
	case "database":
		if db == nil {
			return nil, fmt.Errorf("database queue requires a database connection")
		}
		return NewDatabaseQueue(db, cfg.VisibilityTimeout, WithPollInterval(cfg.PollInterval)), nil
	case "sqs":
		return NewSQSQueue(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported queue driver %q", cfg.Driver)
	}
}

// EncodePayload serializes a payload as a message body
func EncodePayload(payload model.Payload) (string, error) {
	if err := payload.Validate(); err != nil {
		return "", err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	return string(raw), nil
}

func newMessage(id, body, receipt string, receiveCount int) Message {
	msg := Message{ID: id, Body: body, ReceiptToken: receipt, ReceiveCount: receiveCount}
	if err := json.Unmarshal([]byte(body), &msg.Payload); err != nil {
		msg.DecodeErr = fmt.Errorf("malformed message body: %w", err)
		return msg
	}
	if err := msg.Payload.Validate(); err != nil {
		msg.DecodeErr = err
	}
	return msg
}

// Option customizes the memory and database queues
type Option func(*options)

type options struct {
	pollInterval time.Duration
	now          func() time.Time
}

// WithPollInterval sets how often an empty long poll re-checks for visible messages
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithClock overrides the clock used for visibility deadlines
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		pollInterval: 500 * time.Millisecond,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// longPoll calls claim until it returns messages, wait elapses, or ctx is done.
func longPoll(ctx context.Context, wait, pollInterval time.Duration, signal func() <-chan struct{}, claim func() ([]Message, error)) ([]Message, error) {
	msgs, err := claim()
	if err != nil || len(msgs) > 0 || wait <= 0 {
		return msgs, err
	}

	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		var wake <-chan struct{}
		if signal != nil {
			wake = signal()
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return claim()
		case <-wake:
		case <-ticker.C:
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msgs, err := claim()
		if err != nil || len(msgs) > 0 {
			return msgs, err
		}
	}
}
