// Package dispatcher records new artifacts and asks for them to be processed.
package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"tradecomply/internal/metrics"
	"tradecomply/internal/model"
	"tradecomply/internal/queue"
)

// ErrQueueUnavailable is returned when a processing message could not be enqueued.
// The artifact record stays pending.
var ErrQueueUnavailable = errors.New("processing queue unavailable")

// ArtifactCreator persists new artifact records
type ArtifactCreator interface {
	Create(ctx context.Context, artifact *model.Artifact) (string, error)
}

// NewArtifact describes an artifact whose bytes are already stored
type NewArtifact struct {
	StorageRef   string `json:"storage_ref" binding:"required"`
	ContentType  string `json:"content_type" binding:"required"`
	OriginalName string `json:"original_name"`
}

// Dispatcher persists artifacts then enqueues their processing message
type Dispatcher struct {
	artifacts ArtifactCreator
	queue     queue.Queue
	metrics   *metrics.Metrics
}

// New creates a dispatcher
func New(artifacts ArtifactCreator, q queue.Queue, m *metrics.Metrics) *Dispatcher {
	if m == nil {
		m = metrics.NewDiscard()
	}
	return &Dispatcher{artifacts: artifacts, queue: q, metrics: m}
}

// Submit records a pending artifact and enqueues it. When the enqueue fails
// the created artifact is returned together with ErrQueueUnavailable.
func (d *Dispatcher) Submit(ctx context.Context, in NewArtifact) (*model.Artifact, error) {
	artifact := &model.Artifact{
		StorageRef:   in.StorageRef,
		ContentType:  in.ContentType,
		OriginalName: in.OriginalName,
	}
	if _, err := d.artifacts.Create(ctx, artifact); err != nil {
		return nil, fmt.Errorf("failed to record artifact: %w", err)
	}

	if err := d.Enqueue(ctx, artifact); err != nil {
		return artifact, err
	}
	return artifact, nil
}

// Enqueue publishes the processing message for an already persisted artifact
func (d *Dispatcher) Enqueue(ctx context.Context, artifact *model.Artifact) error {
	if err := d.queue.Enqueue(ctx, artifact.Payload()); err != nil {
		d.metrics.EnqueueFailures.Inc()
		logrus.WithFields(logrus.Fields{
			"artifact_id": artifact.ID,
			"storage_ref": artifact.StorageRef,
		}).WithError(err).Error("Failed to enqueue artifact")
		return fmt.Errorf("%w: %w", ErrQueueUnavailable, err)
	}

	logrus.WithField("artifact_id", artifact.ID).Info("Artifact queued for processing")
	return nil
}
