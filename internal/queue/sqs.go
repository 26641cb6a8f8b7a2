package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"tradecomply/internal/config"
	"tradecomply/internal/model"
)

const (
	sqsMaxMessages = 10
	sqsMaxWait     = 20 * time.Second
)

// SQSAPI is the subset of the SQS client the queue uses
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// SQSQueue adapts an Amazon SQS queue
type SQSQueue struct {
	client     SQSAPI
	url        string
	visibility time.Duration
}

// NewSQSQueue creates an SQS-backed queue using the default AWS credential chain
func NewSQSQueue(ctx context.Context, cfg config.QueueConfig) (*SQSQueue, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewSQSQueueWithClient(client, cfg.URL, cfg.VisibilityTimeout), nil
}

// NewSQSQueueWithClient wraps an existing client
func NewSQSQueueWithClient(client SQSAPI, url string, visibility time.Duration) *SQSQueue {
	return &SQSQueue{client: client, url: url, visibility: visibility}
}

// Enqueue sends one message
func (q *SQSQueue) Enqueue(ctx context.Context, payload model.Payload) error {
	body, err := EncodePayload(payload)
	if err != nil {
		return err
	}
	if _, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.url),
		MessageBody: aws.String(body),
	}); err != nil {
		return fmt.Errorf("failed to send message to SQS: %w", err)
	}
	return nil
}

// Receive long-polls SQS; maxMessages is capped at 10 and wait at 20s
func (q *SQSQueue) Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]Message, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	if maxMessages > sqsMaxMessages {
		maxMessages = sqsMaxMessages
	}
	if wait > sqsMaxWait {
		wait = sqsMaxWait
	}

	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.url),
		MaxNumberOfMessages: int32(maxMessages),
		WaitTimeSeconds:     int32(wait / time.Second),
		VisibilityTimeout:   int32(q.visibility / time.Second),
		AttributeNames:      []types.QueueAttributeName{"ApproximateReceiveCount"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive from SQS: %w", err)
	}

	msgs := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		count, _ := strconv.Atoi(m.Attributes["ApproximateReceiveCount"])
		msgs = append(msgs, newMessage(aws.ToString(m.MessageId), aws.ToString(m.Body), aws.ToString(m.ReceiptHandle), count))
	}
	return msgs, nil
}

// Delete removes the message owned by receipt
func (q *SQSQueue) Delete(ctx context.Context, receipt string) error {
	if _, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.url),
		ReceiptHandle: aws.String(receipt),
	}); err != nil {
		return fmt.Errorf("failed to delete SQS message: %w", err)
	}
	return nil
}

// ChangeVisibility extends or shortens the invisibility of a received message
func (q *SQSQueue) ChangeVisibility(ctx context.Context, receipt string, timeout time.Duration) error {
	if _, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.url),
		ReceiptHandle:     aws.String(receipt),
		VisibilityTimeout: int32(timeout / time.Second),
	}); err != nil {
		return fmt.Errorf("failed to change SQS visibility: %w", err)
	}
	return nil
}

// Close is a no-op; the SDK client holds no resources that need releasing
func (q *SQSQueue) Close() error {
	return nil
}
