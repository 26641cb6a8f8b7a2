package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"tradecomply/internal/model"
	"tradecomply/internal/testsupport"
)

const testVisibility = 30 * time.Second

var startTime = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

type queueFactory func(t *testing.T, opts ...Option) Queue

func factories() map[string]queueFactory {
	return map[string]queueFactory{
		"memory": func(t *testing.T, opts ...Option) Queue {
			return NewMemoryQueue(testVisibility, opts...)
		},
		"database": func(t *testing.T, opts ...Option) Queue {
			return NewDatabaseQueue(testsupport.MustOpenDB(t), testVisibility, opts...)
		},
	}
}

func payload(id string) model.Payload {
	return model.Payload{ArtifactID: id, StorageRef: "uploads/" + id, ContentType: "application/pdf"}
}

func TestQueueContract(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			t.Run("redelivers after visibility timeout", func(t *testing.T) {
				clock := testsupport.NewClock(startTime)
				q := factory(t, WithClock(clock.Now))
				ctx := context.Background()

				require.NoError(t, q.Enqueue(ctx, payload("A1")))

				first, err := q.Receive(ctx, 1, 0)
				require.NoError(t, err)
				require.Len(t, first, 1)
				assert.NoError(t, first[0].DecodeErr)
				assert.Equal(t, payload("A1"), first[0].Payload)
				assert.Equal(t, 1, first[0].ReceiveCount)

				hidden, err := q.Receive(ctx, 1, 0)
				require.NoError(t, err)
				assert.Empty(t, hidden)

				clock.Advance(testVisibility + time.Second)

				second, err := q.Receive(ctx, 1, 0)
				require.NoError(t, err)
				require.Len(t, second, 1)
				assert.Equal(t, first[0].ID, second[0].ID)
				assert.NotEqual(t, first[0].ReceiptToken, second[0].ReceiptToken)
				assert.Equal(t, 2, second[0].ReceiveCount)

				// stale receipt: no-op, the message survives
				require.NoError(t, q.Delete(ctx, first[0].ReceiptToken))
				clock.Advance(testVisibility + time.Second)
				third, err := q.Receive(ctx, 1, 0)
				require.NoError(t, err)
				require.Len(t, third, 1)

				require.NoError(t, q.Delete(ctx, third[0].ReceiptToken))
				require.NoError(t, q.Delete(ctx, third[0].ReceiptToken))
				clock.Advance(testVisibility + time.Second)
				gone, err := q.Receive(ctx, 1, 0)
				require.NoError(t, err)
				assert.Empty(t, gone)
			})

			t.Run("change visibility extends ownership", func(t *testing.T) {
				clock := testsupport.NewClock(startTime)
				q := factory(t, WithClock(clock.Now))
				ctx := context.Background()

				require.NoError(t, q.Enqueue(ctx, payload("A1")))
				msgs, err := q.Receive(ctx, 1, 0)
				require.NoError(t, err)
				require.Len(t, msgs, 1)

				clock.Advance(testVisibility / 2)
				require.NoError(t, q.ChangeVisibility(ctx, msgs[0].ReceiptToken, testVisibility))
				clock.Advance(testVisibility/2 + time.Second)

				hidden, err := q.Receive(ctx, 1, 0)
				require.NoError(t, err)
				assert.Empty(t, hidden)

				assert.ErrorIs(t, q.ChangeVisibility(ctx, "unknown", testVisibility), ErrStaleReceipt)
			})

			t.Run("receive respects max", func(t *testing.T) {
				q := factory(t)
				ctx := context.Background()
				for _, id := range []string{"A1", "A2", "A3"} {
					require.NoError(t, q.Enqueue(ctx, payload(id)))
				}

				msgs, err := q.Receive(ctx, 2, 0)
				require.NoError(t, err)
				require.Len(t, msgs, 2)
				assert.Equal(t, "A1", msgs[0].Payload.ArtifactID)
				assert.Equal(t, "A2", msgs[1].Payload.ArtifactID)
			})

			t.Run("long poll returns when a message arrives", func(t *testing.T) {
				q := factory(t, WithPollInterval(10*time.Millisecond))
				ctx := context.Background()

				go func() {
					time.Sleep(50 * time.Millisecond)
					_ = q.Enqueue(ctx, payload("late"))
				}()

				started := time.Now()
				msgs, err := q.Receive(ctx, 1, 5*time.Second)
				require.NoError(t, err)
				require.Len(t, msgs, 1)
				assert.Equal(t, "late", msgs[0].Payload.ArtifactID)
				assert.Less(t, time.Since(started), 5*time.Second)
			})

			t.Run("long poll times out empty", func(t *testing.T) {
				q := factory(t, WithPollInterval(10*time.Millisecond))
				msgs, err := q.Receive(context.Background(), 1, 50*time.Millisecond)
				require.NoError(t, err)
				assert.Empty(t, msgs)
			})

			t.Run("long poll honours cancellation", func(t *testing.T) {
				q := factory(t, WithPollInterval(10*time.Millisecond))
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
				defer cancel()
				_, err := q.Receive(ctx, 1, 5*time.Second)
				assert.ErrorIs(t, err, context.DeadlineExceeded)
			})

			t.Run("concurrent receivers never share a delivery", func(t *testing.T) {
				q := factory(t)
				ctx := context.Background()
				for i := 0; i < 20; i++ {
					require.NoError(t, q.Enqueue(ctx, payload("A"+string(rune('a'+i)))))
				}

				var mu sync.Mutex
				seen := map[string]int{}
				var wg sync.WaitGroup
				for w := 0; w < 4; w++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						for {
							msgs, err := q.Receive(ctx, 3, 0)
							if !assert.NoError(t, err) || len(msgs) == 0 {
								return
							}
							mu.Lock()
							for _, m := range msgs {
								seen[m.ID]++
							}
							mu.Unlock()
						}
					}()
				}
				wg.Wait()

				assert.Len(t, seen, 20)
				for id, count := range seen {
					assert.Equal(t, 1, count, "message %s delivered twice", id)
				}
			})

			t.Run("rejects payload without artifact", func(t *testing.T) {
				q := factory(t)
				assert.Error(t, q.Enqueue(context.Background(), model.Payload{}))
			})
		})
	}
}

func TestMemoryQueueClose(t *testing.T) {
	q := NewMemoryQueue(testVisibility, WithPollInterval(10*time.Millisecond))
	done := make(chan error, 1)
	go func() {
		_, err := q.Receive(context.Background(), 1, 5*time.Second)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("receive did not return after close")
	}
	assert.ErrorIs(t, q.Enqueue(context.Background(), payload("A1")), ErrClosed)
}

func TestDatabaseQueueMalformedBody(t *testing.T) {
	db := testsupport.MustOpenDB(t)
	q := NewDatabaseQueue(db, testVisibility)
	ctx := context.Background()

	require.NoError(t, db.Create(&model.QueueMessage{Body: "{not json", VisibleAt: time.Now().UTC().Add(-time.Second)}).Error)

	msgs, err := q.Receive(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Error(t, msgs[0].DecodeErr)
	assert.NotEmpty(t, msgs[0].ReceiptToken)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	require.NoError(t, q.Delete(ctx, msgs[0].ReceiptToken))
	depth, err = q.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestDatabaseQueueKeepsPartialClaim(t *testing.T) {
	db := testsupport.MustOpenDB(t)
	q := NewDatabaseQueue(db, testVisibility)
	ctx := context.Background()

	for _, id := range []string{"A1", "A2", "A3"} {
		require.NoError(t, q.Enqueue(ctx, payload(id)))
	}

	// fail the second claim UPDATE as a busy sqlite would
	var updates atomic.Int32
	require.NoError(t, db.Callback().Update().Before("gorm:update").Register("test:lock_second_claim", func(tx *gorm.DB) {
		if tx.Statement.Table == "queue_messages" && updates.Add(1) == 2 {
			_ = tx.AddError(errors.New("database is locked"))
		}
	}))

	msgs, err := q.Receive(ctx, 3, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "A1", msgs[0].Payload.ArtifactID)

	rest, err := q.Receive(ctx, 3, 0)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, "A2", rest[0].Payload.ArtifactID)
	assert.Equal(t, "A3", rest[1].Payload.ArtifactID)
}

func TestDatabaseQueueClaimErrorWithNothingClaimed(t *testing.T) {
	db := testsupport.MustOpenDB(t)
	q := NewDatabaseQueue(db, testVisibility)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, payload("A1")))

	require.NoError(t, db.Callback().Update().Before("gorm:update").Register("test:lock_claims", func(tx *gorm.DB) {
		if tx.Statement.Table == "queue_messages" {
			_ = tx.AddError(errors.New("database is locked"))
		}
	}))

	msgs, err := q.Receive(ctx, 1, 0)
	assert.Error(t, err)
	assert.Empty(t, msgs)
}
