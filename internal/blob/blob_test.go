package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecomply/internal/config"
)

func TestLocalFetcher(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "uploads"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "uploads", "a.pdf"), []byte("%PDF-1.7"), 0o644))

	f := NewLocalFetcher(root, 64)
	ctx := context.Background()

	data, err := f.Fetch(ctx, "uploads/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7"), data)

	_, err = f.Fetch(ctx, "uploads/missing.pdf")
	assert.ErrorIs(t, err, ErrNotFound)

	for _, ref := range []string{"", "../secret", "uploads/../../secret", "/etc/passwd"} {
		_, err = f.Fetch(ctx, ref)
		assert.ErrorIs(t, err, ErrInvalidRef, "ref %q", ref)
	}
}

func TestLocalFetcherSizeLimit(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.bin"), bytes.Repeat([]byte("x"), 65), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "exact.bin"), bytes.Repeat([]byte("x"), 64), 0o644))

	f := NewLocalFetcher(root, 64)

	_, err := f.Fetch(context.Background(), "big.bin")
	assert.ErrorIs(t, err, ErrTooLarge)

	data, err := f.Fetch(context.Background(), "exact.bin")
	require.NoError(t, err)
	assert.Len(t, data, 64)
}

type fakeS3 struct {
	objects map[string][]byte
	err     error
	lastKey string
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastKey = aws.ToString(in.Key)
	data, ok := f.objects[f.lastKey]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func TestS3Fetcher(t *testing.T) {
	client := &fakeS3{objects: map[string][]byte{
		"uploads/a.pdf": []byte("%PDF-1.7"),
		"uploads/b.pdf": bytes.Repeat([]byte("x"), 100),
	}}
	f := NewS3FetcherWithClient(client, "documents", 64)
	ctx := context.Background()

	data, err := f.Fetch(ctx, "uploads/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7"), data)
	assert.Equal(t, "uploads/a.pdf", client.lastKey)

	_, err = f.Fetch(ctx, "uploads/missing.pdf")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.Fetch(ctx, "uploads/b.pdf")
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = f.Fetch(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidRef)
}

func TestS3FetcherPropagatesErrors(t *testing.T) {
	boom := errors.New("access denied")
	f := NewS3FetcherWithClient(&fakeS3{err: boom}, "documents", 0)
	_, err := f.Fetch(context.Background(), "uploads/a.pdf")
	assert.ErrorIs(t, err, boom)
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := New(context.Background(), config.StorageConfig{Driver: "ftp"})
	assert.Error(t, err)

	f, err := New(context.Background(), config.StorageConfig{Driver: "local", Root: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalFetcher{}, f)
}
