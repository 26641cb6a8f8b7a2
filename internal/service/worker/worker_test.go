package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecomply/internal/blob"
	"tradecomply/internal/extractor"
	"tradecomply/internal/model"
	"tradecomply/internal/queue"
	"tradecomply/internal/repository"
	"tradecomply/internal/retry"
	"tradecomply/internal/testsupport"
)

type extractorFunc func(ctx context.Context, data []byte, contentType string) (*model.Extraction, error)

func (f extractorFunc) Extract(ctx context.Context, data []byte, contentType string) (*model.Extraction, error) {
	return f(ctx, data, contentType)
}

type fixture struct {
	artifacts *repository.ArtifactRepository
	queue     *queue.MemoryQueue
	fetcher   *blob.LocalFetcher
	root      string
}

func newFixture(t *testing.T, visibility time.Duration, opts ...queue.Option) *fixture {
	t.Helper()
	root := t.TempDir()
	opts = append([]queue.Option{queue.WithPollInterval(5 * time.Millisecond)}, opts...)
	return &fixture{
		artifacts: repository.NewArtifactRepository(testsupport.MustOpenDB(t)),
		queue:     queue.NewMemoryQueue(visibility, opts...),
		fetcher:   blob.NewLocalFetcher(root, 0),
		root:      root,
	}
}

// submit stores bytes for a new artifact, records it and enqueues it
func (f *fixture) submit(t *testing.T, name string) *model.Artifact {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.root, name), []byte("%PDF-1.7 "+name), 0o644))
	artifact := &model.Artifact{StorageRef: name, ContentType: "application/pdf", OriginalName: name}
	_, err := f.artifacts.Create(context.Background(), artifact)
	require.NoError(t, err)
	require.NoError(t, f.queue.Enqueue(context.Background(), artifact.Payload()))
	return artifact
}

func (f *fixture) worker(cfg Config, ext extractor.Extractor, opts ...Option) *Worker {
	return New(cfg, f.queue, f.artifacts, f.fetcher, ext, opts...)
}

func whiteCard() *model.Extraction {
	return &model.Extraction{DocType: "White Card", Deadline: "2026-11-08", IDNumber: "A123", Confidence: 0.9}
}

func TestProcessOnceCommitsExtraction(t *testing.T) {
	f := newFixture(t, time.Minute)
	artifact := f.submit(t, "a.pdf")
	ext := extractor.NewStaticExtractor(whiteCard(), nil)

	outcomes, err := f.worker(Config{}, ext).ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Outcome{OutcomeProcessed}, outcomes)

	stored, err := f.artifacts.Get(context.Background(), artifact.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessed, stored.Status)
	assert.Equal(t, whiteCard(), stored.Extraction)
	assert.Zero(t, f.queue.Len())
}

func TestProcessPassesBytesAndContentType(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.submit(t, "a.pdf")

	var gotData []byte
	var gotType string
	ext := extractorFunc(func(ctx context.Context, data []byte, contentType string) (*model.Extraction, error) {
		gotData, gotType = data, contentType
		return whiteCard(), nil
	})

	_, err := f.worker(Config{}, ext).ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7 a.pdf"), gotData)
	assert.Equal(t, "application/pdf", gotType)
}

func TestDuplicateDeliveryDoesNotCallExtractor(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()
	artifact := f.submit(t, "a.pdf")
	require.NoError(t, f.artifacts.UpdateStatus(ctx, artifact.ID, model.StatusProcessed, whiteCard()))

	ext := extractor.NewStaticExtractor(&model.Extraction{DocType: "Other"}, nil)
	outcomes, err := f.worker(Config{}, ext).ProcessOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, []Outcome{OutcomeDuplicate}, outcomes)
	assert.Zero(t, ext.Calls())
	assert.Zero(t, f.queue.Len())

	stored, err := f.artifacts.Get(ctx, artifact.ID)
	require.NoError(t, err)
	assert.Equal(t, "White Card", stored.Extraction.DocType)
}

func TestRedeliveredMessageIsProcessedOnce(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()
	artifact := f.submit(t, "a.pdf")
	require.NoError(t, f.queue.Enqueue(ctx, artifact.Payload()))

	ext := extractor.NewStaticExtractor(whiteCard(), nil)
	w := f.worker(Config{BatchSize: 2}, ext)

	outcomes, err := w.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []Outcome{OutcomeProcessed, OutcomeDuplicate}, outcomes)
	assert.Equal(t, 1, ext.Calls())
	assert.Zero(t, f.queue.Len())
}

func TestExtractionFailureMarksFailed(t *testing.T) {
	f := newFixture(t, time.Minute)
	artifact := f.submit(t, "a.pdf")
	ext := extractor.NewStaticExtractor(nil, errors.New("model overloaded"))

	outcomes, err := f.worker(Config{}, ext).ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Outcome{OutcomeFailed}, outcomes)

	stored, err := f.artifacts.Get(context.Background(), artifact.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, stored.Status)
	assert.Nil(t, stored.Extraction)
	assert.Zero(t, f.queue.Len())
}

func TestMissingBytesMarksFailed(t *testing.T) {
	f := newFixture(t, time.Minute)
	artifact := f.submit(t, "a.pdf")
	require.NoError(t, os.Remove(filepath.Join(f.root, "a.pdf")))
	ext := extractor.NewStaticExtractor(whiteCard(), nil)

	outcomes, err := f.worker(Config{}, ext).ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Outcome{OutcomeFailed}, outcomes)
	assert.Zero(t, ext.Calls())

	stored, err := f.artifacts.Get(context.Background(), artifact.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, stored.Status)
}

func TestUnknownArtifactIsDropped(t *testing.T) {
	f := newFixture(t, time.Minute)
	require.NoError(t, f.queue.Enqueue(context.Background(), model.Payload{ArtifactID: "missing", StorageRef: "x", ContentType: "application/pdf"}))
	ext := extractor.NewStaticExtractor(whiteCard(), nil)

	outcomes, err := f.worker(Config{}, ext).ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Outcome{OutcomePoison}, outcomes)
	assert.Zero(t, ext.Calls())
	assert.Zero(t, f.queue.Len())
}

func TestMalformedMessageIsDropped(t *testing.T) {
	db := testsupport.MustOpenDB(t)
	q := queue.NewDatabaseQueue(db, time.Minute)
	require.NoError(t, db.Create(&model.QueueMessage{Body: `{"docId":`, VisibleAt: time.Now().UTC().Add(-time.Second)}).Error)
	ext := extractor.NewStaticExtractor(whiteCard(), nil)

	w := New(Config{}, q, repository.NewArtifactRepository(db), blob.NewLocalFetcher(t.TempDir(), 0), ext)
	outcomes, err := w.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Outcome{OutcomePoison}, outcomes)

	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.Zero(t, depth)
}

type flakyStore struct {
	ArtifactStore
	getErr    error
	updateErr error
}

func (s *flakyStore) Get(ctx context.Context, id string) (*model.Artifact, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.ArtifactStore.Get(ctx, id)
}

func (s *flakyStore) UpdateStatus(ctx context.Context, id string, status model.Status, extraction *model.Extraction) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	return s.ArtifactStore.UpdateStatus(ctx, id, status, extraction)
}

func TestTransientStoreErrorLeavesMessage(t *testing.T) {
	clock := testsupport.NewClock(time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC))
	f := newFixture(t, time.Minute, queue.WithClock(clock.Now))
	artifact := f.submit(t, "a.pdf")
	ext := extractor.NewStaticExtractor(whiteCard(), nil)

	store := &flakyStore{ArtifactStore: f.artifacts, getErr: errors.New("database is locked")}
	w := New(Config{}, f.queue, store, f.fetcher, ext)
	outcomes, err := w.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Outcome{OutcomeRetry}, outcomes)
	assert.Equal(t, 1, f.queue.Len())

	store = &flakyStore{ArtifactStore: f.artifacts, updateErr: errors.New("connection reset")}
	w = New(Config{}, f.queue, store, f.fetcher, ext)
	clock.Advance(2 * time.Minute)
	outcomes, err = w.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Outcome{OutcomeRetry}, outcomes)
	assert.Equal(t, 1, f.queue.Len())

	stored, err := f.artifacts.Get(context.Background(), artifact.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, stored.Status)
}

func TestConcurrentCommitIsAbsorbed(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.submit(t, "a.pdf")
	ext := extractor.NewStaticExtractor(whiteCard(), nil)

	store := &flakyStore{ArtifactStore: f.artifacts, updateErr: repository.ErrAlreadyTerminal}
	w := New(Config{}, f.queue, store, f.fetcher, ext)
	outcomes, err := w.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Outcome{OutcomeDuplicate}, outcomes)
	assert.Zero(t, f.queue.Len())
}

func TestHeartbeatKeepsMessageInvisible(t *testing.T) {
	const visibility = 200 * time.Millisecond
	f := newFixture(t, visibility)
	artifact := f.submit(t, "a.pdf")

	release := make(chan struct{})
	ext := extractorFunc(func(ctx context.Context, data []byte, contentType string) (*model.Extraction, error) {
		<-release
		return whiteCard(), nil
	})
	w := f.worker(Config{VisibilityTimeout: visibility}, ext)

	done := make(chan []Outcome, 1)
	go func() {
		outcomes, _ := w.ProcessOnce(context.Background())
		done <- outcomes
	}()

	for i := 0; i < 3; i++ {
		time.Sleep(visibility)
		msgs, err := f.queue.Receive(context.Background(), 1, 0)
		require.NoError(t, err)
		assert.Empty(t, msgs, "message became visible while in flight")
	}
	close(release)

	assert.Equal(t, []Outcome{OutcomeProcessed}, <-done)
	stored, err := f.artifacts.Get(context.Background(), artifact.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessed, stored.Status)
}

func TestRunRespectsConcurrencyLimit(t *testing.T) {
	f := newFixture(t, time.Minute)
	var ids []string
	for _, name := range []string{"a.pdf", "b.pdf", "c.pdf", "d.pdf", "e.pdf", "f.pdf", "g.pdf"} {
		ids = append(ids, f.submit(t, name).ID)
	}

	var current, peak, calls atomic.Int32
	ext := extractorFunc(func(ctx context.Context, data []byte, contentType string) (*model.Extraction, error) {
		n := current.Add(1)
		defer current.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return whiteCard(), nil
	})

	w := f.worker(Config{Concurrency: 3, BatchSize: 10, WaitTime: 20 * time.Millisecond}, ext)
	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- w.Run(ctx) }()

	assert.Eventually(t, func() bool { return f.queue.Len() == 0 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-runErr)

	assert.Equal(t, int32(7), calls.Load())
	assert.LessOrEqual(t, peak.Load(), int32(3))
	for _, id := range ids {
		stored, err := f.artifacts.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, model.StatusProcessed, stored.Status)
	}
}

func TestRunFinishesInFlightWorkOnShutdown(t *testing.T) {
	f := newFixture(t, time.Minute)
	artifact := f.submit(t, "a.pdf")

	started := make(chan struct{})
	release := make(chan struct{})
	ext := extractorFunc(func(ctx context.Context, data []byte, contentType string) (*model.Extraction, error) {
		close(started)
		<-release
		return whiteCard(), ctx.Err()
	})

	w := f.worker(Config{WaitTime: 10 * time.Millisecond}, ext)
	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- w.Run(ctx) }()

	<-started
	cancel()
	select {
	case <-runErr:
		t.Fatal("Run returned before in-flight work finished")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	require.NoError(t, <-runErr)

	stored, err := f.artifacts.Get(context.Background(), artifact.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessed, stored.Status)
	assert.Zero(t, f.queue.Len())
}

type brokenQueue struct {
	queue.Queue
	mu       sync.Mutex
	failures int
}

func (b *brokenQueue) Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]queue.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	return nil, errors.New("broker unreachable")
}

func TestRunBacksOffOnReceiveErrors(t *testing.T) {
	q := &brokenQueue{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sleeps []time.Duration
	sleeper := func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		if len(sleeps) == 5 {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	cfg := Config{Backoff: retry.NewPolicy(100*time.Millisecond, time.Second, false, nil)}
	w := New(cfg, q, nil, nil, nil, WithSleeper(sleeper))
	require.NoError(t, w.Run(ctx))

	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
	}, sleeps)
	assert.Equal(t, 5, q.failures)
}

// partialQueue returns its first batch together with a receive error
type partialQueue struct {
	*queue.MemoryQueue
	calls atomic.Int32
}

func (p *partialQueue) Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]queue.Message, error) {
	msgs, err := p.MemoryQueue.Receive(ctx, maxMessages, wait)
	if p.calls.Add(1) == 1 && err == nil {
		return msgs, errors.New("database is locked")
	}
	return msgs, err
}

func TestRunProcessesMessagesReturnedWithError(t *testing.T) {
	f := newFixture(t, time.Minute)
	first := f.submit(t, "a.pdf")
	q := &partialQueue{MemoryQueue: f.queue}
	ext := extractor.NewStaticExtractor(whiteCard(), nil)

	var sleeps atomic.Int32
	sleeper := func(ctx context.Context, d time.Duration) error {
		sleeps.Add(1)
		return nil
	}
	cfg := Config{
		Concurrency: 1,
		BatchSize:   1,
		WaitTime:    20 * time.Millisecond,
		Backoff:     retry.NewPolicy(time.Millisecond, time.Millisecond, false, nil),
	}
	w := New(cfg, q, f.artifacts, f.fetcher, ext, WithSleeper(sleeper))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	processed := func(id string) func() bool {
		return func() bool {
			stored, err := f.artifacts.Get(context.Background(), id)
			return err == nil && stored.Status == model.StatusProcessed
		}
	}
	require.Eventually(t, processed(first.ID), 2*time.Second, 10*time.Millisecond)

	// the slot held by the first batch must be free again
	second := f.submit(t, "b.pdf")
	require.Eventually(t, processed(second.ID), 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), sleeps.Load())
	assert.GreaterOrEqual(t, q.calls.Load(), int32(2))
	assert.Equal(t, 2, ext.Calls())
	assert.Zero(t, f.queue.Len())
}
