package blob

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"tradecomply/internal/config"
)

// S3API is the subset of the S3 client the fetcher uses
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Fetcher reads objects from one bucket
type S3Fetcher struct {
	client   S3API
	bucket   string
	maxBytes int64
}

// NewS3Fetcher creates a fetcher using the default AWS credential chain
func NewS3Fetcher(ctx context.Context, cfg config.StorageConfig) (*S3Fetcher, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3FetcherWithClient(client, cfg.Bucket, cfg.MaxBytes), nil
}

// NewS3FetcherWithClient wraps an existing client
func NewS3FetcherWithClient(client S3API, bucket string, maxBytes int64) *S3Fetcher {
	return &S3Fetcher{client: client, bucket: bucket, maxBytes: maxBytes}
}

// Fetch downloads the object stored under storageRef
func (f *S3Fetcher) Fetch(ctx context.Context, storageRef string) ([]byte, error) {
	if storageRef == "" {
		return nil, ErrInvalidRef
	}

	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(storageRef),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, storageRef)
		}
		return nil, fmt.Errorf("failed to get s3://%s/%s: %w", f.bucket, storageRef, err)
	}
	defer out.Body.Close()

	maxBytes := f.maxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if out.ContentLength != nil && *out.ContentLength > maxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, *out.ContentLength)
	}
	return readLimited(out.Body, maxBytes)
}
