// Package worker consumes processing messages and commits artifact outcomes.
//
// A message is deleted only after its artifact reached a terminal status, so
// a crash at any point before the delete leads to redelivery. Redelivery of
// an artifact that is already terminal is absorbed by the idempotency guard
// without calling the extractor again.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"tradecomply/internal/blob"
	"tradecomply/internal/extractor"
	"tradecomply/internal/metrics"
	"tradecomply/internal/model"
	"tradecomply/internal/queue"
	"tradecomply/internal/repository"
	"tradecomply/internal/retry"
)

// Outcome describes what happened to one delivery
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeFailed    Outcome = "failed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomePoison    Outcome = "poison"
	OutcomeRetry     Outcome = "retry"
)

// ArtifactStore is the part of the artifact repository the worker needs
type ArtifactStore interface {
	Get(ctx context.Context, id string) (*model.Artifact, error)
	UpdateStatus(ctx context.Context, id string, status model.Status, extraction *model.Extraction) error
}

// Config controls polling and concurrency
type Config struct {
	Concurrency       int
	BatchSize         int
	WaitTime          time.Duration
	VisibilityTimeout time.Duration
	Backoff           *retry.Policy
}

// Worker runs the receive, process, commit, delete loop
type Worker struct {
	cfg       Config
	queue     queue.Queue
	artifacts ArtifactStore
	fetcher   blob.Fetcher
	extractor extractor.Extractor
	metrics   *metrics.Metrics
	sleep     retry.Sleeper
}

// Option customizes a Worker
type Option func(*Worker)

// WithSleeper overrides how receive backoff waits are performed
func WithSleeper(sleep retry.Sleeper) Option {
	return func(w *Worker) {
		if sleep != nil {
			w.sleep = sleep
		}
	}
}

// WithMetrics sets the metrics the worker reports to
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) {
		if m != nil {
			w.metrics = m
		}
	}
}

// New creates a worker
func New(cfg Config, q queue.Queue, artifacts ArtifactStore, fetcher blob.Fetcher, ext extractor.Extractor, opts ...Option) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.Backoff == nil {
		cfg.Backoff = retry.DefaultPolicy()
	}

	w := &Worker{
		cfg:       cfg,
		queue:     q,
		artifacts: artifacts,
		fetcher:   fetcher,
		extractor: ext,
		metrics:   metrics.NewDiscard(),
		sleep:     retry.Sleep,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls and processes messages until ctx is cancelled. Messages already
// being processed when ctx is cancelled are allowed to finish.
func (w *Worker) Run(ctx context.Context) error {
	logrus.Infof("Worker started with concurrency %d", w.cfg.Concurrency)

	slots := make(chan struct{}, w.cfg.Concurrency)
	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		logrus.Info("Worker stopped")
	}()

	failures := 0
	for {
		// block until at least one slot is free, then take as many as are free
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return nil
		}
		free := 1
	acquire:
		for free < w.cfg.BatchSize {
			select {
			case slots <- struct{}{}:
				free++
			default:
				break acquire
			}
		}

		msgs, err := w.queue.Receive(ctx, free, w.cfg.WaitTime)
		if len(msgs) > free {
			// extras become visible again after the visibility timeout
			msgs = msgs[:free]
		}
		for i := len(msgs); i < free; i++ {
			<-slots
		}
		// messages returned alongside an error are still owned by us
		for _, msg := range msgs {
			wg.Add(1)
			go func(msg queue.Message) {
				defer wg.Done()
				defer func() { <-slots }()
				w.Process(context.WithoutCancel(ctx), msg)
			}(msg)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, queue.ErrClosed) {
				return err
			}
			failures++
			delay := w.cfg.Backoff.Delay(failures)
			w.metrics.ReceiveErrors.Inc()
			logrus.WithError(err).Warnf("Failed to receive messages (attempt %d), retrying in %v", failures, delay)
			if err := w.sleep(ctx, delay); err != nil {
				return nil
			}
			continue
		}
		failures = 0
	}
}

// ProcessOnce receives one batch and processes it before returning
func (w *Worker) ProcessOnce(ctx context.Context) ([]Outcome, error) {
	msgs, err := w.queue.Receive(ctx, w.cfg.BatchSize, w.cfg.WaitTime)
	if err != nil {
		return nil, fmt.Errorf("failed to receive messages: %w", err)
	}

	outcomes := make([]Outcome, len(msgs))
	var wg sync.WaitGroup
	slots := make(chan struct{}, w.cfg.Concurrency)
	for i, msg := range msgs {
		wg.Add(1)
		slots <- struct{}{}
		go func(i int, msg queue.Message) {
			defer wg.Done()
			defer func() { <-slots }()
			outcomes[i] = w.Process(context.WithoutCancel(ctx), msg)
		}(i, msg)
	}
	wg.Wait()
	return outcomes, nil
}

// Process handles one delivery end to end
func (w *Worker) Process(ctx context.Context, msg queue.Message) Outcome {
	started := time.Now()
	w.metrics.MessagesReceived.Inc()
	w.metrics.InFlight.Inc()
	defer func() {
		w.metrics.InFlight.Dec()
		w.metrics.ProcessingTime.Observe(time.Since(started).Seconds())
	}()

	log := logrus.WithFields(logrus.Fields{
		"message_id":    msg.ID,
		"artifact_id":   msg.Payload.ArtifactID,
		"receive_count": msg.ReceiveCount,
	})

	if msg.DecodeErr != nil {
		log.WithError(msg.DecodeErr).Error("Dropping undecodable message")
		w.metrics.PoisonMessages.Inc()
		w.delete(ctx, msg, log)
		return OutcomePoison
	}

	stop := w.heartbeat(ctx, msg, log)
	defer stop()

	artifact, err := w.artifacts.Get(ctx, msg.Payload.ArtifactID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Error("Dropping message for unknown artifact")
			w.metrics.PoisonMessages.Inc()
			w.delete(ctx, msg, log)
			return OutcomePoison
		}
		log.WithError(err).Warn("Failed to load artifact, leaving message for redelivery")
		return OutcomeRetry
	}

	if artifact.Status.Terminal() {
		log.Infof("Artifact already %s, skipping duplicate delivery", artifact.Status)
		w.metrics.DuplicateSkips.Inc()
		w.delete(ctx, msg, log)
		return OutcomeDuplicate
	}

	status, extraction := w.analyse(ctx, artifact, msg.Payload, log)

	err = w.artifacts.UpdateStatus(ctx, artifact.ID, status, extraction)
	switch {
	case err == nil:
		w.metrics.ArtifactsByResult.WithLabelValues(string(status)).Inc()
		log.Infof("Artifact committed as %s", status)
	case errors.Is(err, repository.ErrAlreadyTerminal):
		log.Info("Artifact reached a terminal status concurrently, discarding result")
		w.metrics.DuplicateSkips.Inc()
		w.delete(ctx, msg, log)
		return OutcomeDuplicate
	default:
		log.WithError(err).Error("Failed to commit artifact status, leaving message for redelivery")
		return OutcomeRetry
	}

	w.delete(ctx, msg, log)
	if status == model.StatusProcessed {
		return OutcomeProcessed
	}
	return OutcomeFailed
}

// analyse fetches and extracts the artifact; any failure yields StatusFailed
func (w *Worker) analyse(ctx context.Context, artifact *model.Artifact, payload model.Payload, log *logrus.Entry) (model.Status, *model.Extraction) {
	storageRef := payload.StorageRef
	if storageRef == "" {
		storageRef = artifact.StorageRef
	}
	contentType := payload.ContentType
	if contentType == "" {
		contentType = artifact.ContentType
	}

	data, err := w.fetcher.Fetch(ctx, storageRef)
	if err != nil {
		log.WithError(err).Error("Failed to fetch artifact bytes")
		return model.StatusFailed, nil
	}

	extraction, err := w.extractor.Extract(ctx, data, contentType)
	if err != nil {
		log.WithError(err).Error("Extraction failed")
		return model.StatusFailed, nil
	}
	if extraction == nil {
		log.Error("Extraction returned no result")
		return model.StatusFailed, nil
	}
	return model.StatusProcessed, extraction
}

func (w *Worker) delete(ctx context.Context, msg queue.Message, log *logrus.Entry) {
	if err := w.queue.Delete(ctx, msg.ReceiptToken); err != nil {
		log.WithError(err).Warn("Failed to delete message; it will be redelivered")
		return
	}
	w.metrics.MessagesDeleted.Inc()
}

// heartbeat extends the visibility of msg at half the visibility timeout
// until the returned stop function is called.
func (w *Worker) heartbeat(ctx context.Context, msg queue.Message, log *logrus.Entry) func() {
	interval := w.cfg.VisibilityTimeout / 2
	if interval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.queue.ChangeVisibility(ctx, msg.ReceiptToken, w.cfg.VisibilityTimeout); err != nil {
					log.WithError(err).Warn("Failed to extend message visibility")
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-stopped
		})
	}
}
