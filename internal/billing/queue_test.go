package billing

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/NoraXie/echoid/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func job(id string) models.BillingJob {
	return models.BillingJob{JobID: id, TenantID: "tenant-1", Token: "AB2345", Cost: 0.05}
}

func TestPoolQueue_ProcessesAllJobsBeforeClose(t *testing.T) {
	var processed atomic.Int32
	q := NewPoolQueue(func(context.Context, models.BillingJob) error {
		processed.Add(1)
		return nil
	}, 3, 20)

	for i := 0; i < 10; i++ {
		require.NoError(t, q.Submit(context.Background(), job("j")))
	}
	require.NoError(t, q.Close(context.Background()))

	assert.Equal(t, int32(10), processed.Load())
	assert.ErrorIs(t, q.Submit(context.Background(), job("late")), ErrQueueClosed)
}

func TestPoolQueue_FullQueueFailsFast(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	q := NewPoolQueue(func(context.Context, models.BillingJob) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	}, 1, 1)

	require.NoError(t, q.Submit(context.Background(), job("a")))
	<-started
	require.NoError(t, q.Submit(context.Background(), job("b")))

	assert.ErrorIs(t, q.Submit(context.Background(), job("c")), ErrQueueFull)

	close(release)
	require.NoError(t, q.Close(context.Background()))
}

func TestPoolQueue_HandlerErrorDoesNotStopWorkers(t *testing.T) {
	var calls atomic.Int32
	q := NewPoolQueue(func(context.Context, models.BillingJob) error {
		calls.Add(1)
		return errors.New("scylla down")
	}, 1, 5)

	require.NoError(t, q.Submit(context.Background(), job("a")))
	require.NoError(t, q.Submit(context.Background(), job("b")))
	require.NoError(t, q.Close(context.Background()))

	assert.Equal(t, int32(2), calls.Load())
}

type fakeBroker struct {
	mu        sync.Mutex
	msgs      chan kafka.Message
	committed []int64
	closed    int
	err       error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{msgs: make(chan kafka.Message, 10)}
}

func (b *fakeBroker) ProduceMessage(_ context.Context, key, value []byte, _ map[string]string) error {
	if b.err != nil {
		return b.err
	}
	b.mu.Lock()
	offset := int64(len(b.msgs) + len(b.committed))
	b.mu.Unlock()
	b.msgs <- kafka.Message{Key: key, Value: value, Offset: offset}
	return nil
}

func (b *fakeBroker) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-b.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (b *fakeBroker) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range msgs {
		b.committed = append(b.committed, m.Offset)
	}
	return nil
}

func (b *fakeBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed++
	return nil
}

func (b *fakeBroker) commits() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.committed)
}

func TestKafkaQueue_RoundTripsAndCommits(t *testing.T) {
	broker := newFakeBroker()
	got := make(chan models.BillingJob, 2)
	q := NewKafkaQueue(broker, broker, func(_ context.Context, j models.BillingJob) error {
		got <- j
		return nil
	})
	q.Start(context.Background())

	require.NoError(t, q.Submit(context.Background(), job("j-1")))

	select {
	case j := <-got:
		assert.Equal(t, "j-1", j.JobID)
		assert.Equal(t, "tenant-1", j.TenantID)
		assert.InDelta(t, 0.05, j.Cost, 1e-9)
	case <-time.After(time.Second):
		t.Fatal("job not consumed")
	}
	assert.Eventually(t, func() bool { return broker.commits() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, q.Close(context.Background()))
	assert.Equal(t, 2, broker.closed)
}

func TestKafkaQueue_CommitsUndecodableAndFailedJobs(t *testing.T) {
	broker := newFakeBroker()
	q := NewKafkaQueue(broker, broker, func(context.Context, models.BillingJob) error {
		return errors.New("insufficient balance")
	})

	broker.msgs <- kafka.Message{Value: []byte("{not json"), Offset: 0}
	value, err := json.Marshal(job("j-2"))
	require.NoError(t, err)
	broker.msgs <- kafka.Message{Value: value, Offset: 1}

	q.Start(context.Background())
	assert.Eventually(t, func() bool { return broker.commits() == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, q.Close(context.Background()))
}

func TestKafkaQueue_PublishFailure(t *testing.T) {
	broker := newFakeBroker()
	broker.err = errors.New("no brokers")
	q := NewKafkaQueue(broker, broker, func(context.Context, models.BillingJob) error { return nil })

	assert.Error(t, q.Submit(context.Background(), job("j")))
	require.NoError(t, q.Close(context.Background()))
}
