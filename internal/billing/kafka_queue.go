package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/NoraXie/echoid/internal/metrics"
	"github.com/NoraXie/echoid/internal/models"
	"github.com/NoraXie/echoid/internal/util"
)

const kafkaQueueName = "kafka"

// MessageWriter publishes to the billing topic. *client.KafkaProducer satisfies it.
type MessageWriter interface {
	ProduceMessage(ctx context.Context, key, value []byte, headers map[string]string) error
	Close() error
}

// MessageReader consumes the billing topic. *client.KafkaConsumer satisfies it.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaQueue publishes jobs keyed by tenant and consumes them in a group.
// A job that fails processing is logged and committed; it is not redelivered.
type KafkaQueue struct {
	writer  MessageWriter
	reader  MessageReader
	handler Handler
	logger  *zap.Logger

	cancel  context.CancelFunc
	stopped chan struct{}
	once    sync.Once
}

func NewKafkaQueue(writer MessageWriter, reader MessageReader, handler Handler) *KafkaQueue {
	return &KafkaQueue{
		writer:  writer,
		reader:  reader,
		handler: handler,
		logger:  util.Named("billing"),
		stopped: make(chan struct{}),
	}
}

func (q *KafkaQueue) Submit(ctx context.Context, job models.BillingJob) error {
	value, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode billing job: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := q.writer.ProduceMessage(ctx, []byte(job.TenantID), value, map[string]string{"job_id": job.JobID}); err != nil {
		metrics.RecordBillingJob(kafkaQueueName, "dropped")
		q.logger.Error("Failed to publish billing job",
			zap.String("job_id", job.JobID),
			zap.String("tenant_id", job.TenantID),
			zap.Error(err))
		return err
	}
	metrics.RecordBillingJob(kafkaQueueName, "queued")
	return nil
}

// Start runs the consumer loop on its own goroutine until Close.
func (q *KafkaQueue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)
	go q.consume(ctx)
}

func (q *KafkaQueue) consume(ctx context.Context) {
	defer close(q.stopped)
	for {
		msg, err := q.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			q.logger.Error("Billing consumer fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		q.handle(ctx, msg)

		if err := q.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			q.logger.Error("Failed to commit billing offset",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		}
	}
}

func (q *KafkaQueue) handle(ctx context.Context, msg kafka.Message) {
	var job models.BillingJob
	if err := json.Unmarshal(msg.Value, &job); err != nil {
		metrics.RecordBillingJob(kafkaQueueName, "failed")
		q.logger.Error("Discarding undecodable billing job",
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := q.handler(jobCtx, job); err != nil {
		metrics.RecordBillingJob(kafkaQueueName, "failed")
		q.logger.Error("Billing job failed",
			zap.String("job_id", job.JobID),
			zap.String("tenant_id", job.TenantID),
			util.Secret("token", job.Token),
			zap.Error(err))
		return
	}
	metrics.RecordBillingJob(kafkaQueueName, "processed")
}

// Close stops the consumer, waits for the in-flight job and closes both ends.
func (q *KafkaQueue) Close(ctx context.Context) error {
	var err error
	q.once.Do(func() {
		if q.cancel != nil {
			q.cancel()
			select {
			case <-q.stopped:
			case <-ctx.Done():
				err = ctx.Err()
			}
		}
		err = errors.Join(err, q.writer.Close(), q.reader.Close())
	})
	return err
}
