package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradecomply/internal/model"
)

// DatabaseQueue keeps messages in the queue_messages table. A delivery is
// claimed with a conditional UPDATE on the previous receipt token, so two
// receivers can never own the same delivery.
type DatabaseQueue struct {
	db         *gorm.DB
	visibility time.Duration
	opts       options
}

// NewDatabaseQueue creates a queue stored in db
func NewDatabaseQueue(db *gorm.DB, visibility time.Duration, opts ...Option) *DatabaseQueue {
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	return &DatabaseQueue{db: db, visibility: visibility, opts: buildOptions(opts)}
}

// Enqueue stores a message that is immediately visible
func (q *DatabaseQueue) Enqueue(ctx context.Context, payload model.Payload) error {
	body, err := EncodePayload(payload)
	if err != nil {
		return err
	}

	now := q.opts.now()
	row := model.QueueMessage{Body: body, VisibleAt: now, CreatedAt: now}
	if err := q.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to enqueue message: %w", err)
	}
	return nil
}

// Receive returns up to maxMessages visible messages, waiting up to wait for one to appear
func (q *DatabaseQueue) Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]Message, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	return longPoll(ctx, wait, q.opts.pollInterval, nil, func() ([]Message, error) {
		return q.claim(ctx, maxMessages)
	})
}

func (q *DatabaseQueue) claim(ctx context.Context, maxMessages int) ([]Message, error) {
	now := q.opts.now()

	var candidates []model.QueueMessage
	err := q.db.WithContext(ctx).
		Where("visible_at <= ?", now).
		Order("id asc").
		Limit(maxMessages).
		Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("failed to poll queue: %w", err)
	}

	var msgs []Message
	for _, candidate := range candidates {
		token := uuid.NewString()
		result := q.db.WithContext(ctx).
			Model(&model.QueueMessage{}).
			Where("id = ? AND receipt_token = ? AND visible_at <= ?", candidate.ID, candidate.ReceiptToken, now).
			Updates(map[string]interface{}{
				"receipt_token": token,
				"visible_at":    now.Add(q.visibility),
				"receive_count": gorm.Expr("receive_count + 1"),
			})
		if result.Error != nil {
			if len(msgs) == 0 {
				return nil, fmt.Errorf("failed to claim message %d: %w", candidate.ID, result.Error)
			}
			// keep what was claimed; the rest stays visible for the next poll
			logrus.WithError(result.Error).WithField("message_id", candidate.ID).Warn("Failed to claim queue message")
			break
		}
		if result.RowsAffected != 1 {
			// another receiver claimed it first
			continue
		}
		msgs = append(msgs, newMessage(strconv.FormatUint(uint64(candidate.ID), 10), candidate.Body, token, candidate.ReceiveCount+1))
	}
	return msgs, nil
}

// Delete removes the message owned by receipt. Unknown receipts are ignored.
func (q *DatabaseQueue) Delete(ctx context.Context, receipt string) error {
	if receipt == "" {
		return nil
	}
	if err := q.db.WithContext(ctx).Where("receipt_token = ?", receipt).Delete(&model.QueueMessage{}).Error; err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// ChangeVisibility hides the message owned by receipt for timeout from now
func (q *DatabaseQueue) ChangeVisibility(ctx context.Context, receipt string, timeout time.Duration) error {
	if receipt == "" {
		return ErrStaleReceipt
	}
	result := q.db.WithContext(ctx).
		Model(&model.QueueMessage{}).
		Where("receipt_token = ?", receipt).
		Update("visible_at", q.opts.now().Add(timeout))
	if result.Error != nil {
		return fmt.Errorf("failed to change visibility: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrStaleReceipt
	}
	return nil
}

// Depth returns the number of messages not yet deleted
func (q *DatabaseQueue) Depth(ctx context.Context) (int64, error) {
	var count int64
	if err := q.db.WithContext(ctx).Model(&model.QueueMessage{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return count, nil
}

// Close is a no-op; the database connection is owned by the caller
func (q *DatabaseQueue) Close() error {
	return nil
}
