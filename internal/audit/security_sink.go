package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/NoraXie/echoid/internal/bucketing"
	"github.com/NoraXie/echoid/internal/metrics"
	"github.com/NoraXie/echoid/internal/models"
	"github.com/NoraXie/echoid/internal/util"
)

const securityIndexMapping = `{
  "mappings": {
    "properties": {
      "event_id":     {"type": "keyword"},
      "event_bucket": {"type": "integer"},
      "event_date":   {"type": "date", "format": "yyyy-MM-dd"},
      "event_time":   {"type": "date"},
      "event_type":   {"type": "keyword"},
      "tenant_id":    {"type": "keyword"},
      "token":        {"type": "keyword"},
      "sender":       {"type": "keyword"},
      "claimed_by":   {"type": "keyword"},
      "remote_addr":  {"type": "keyword"},
      "risk_score":   {"type": "integer"},
      "details":      {"type": "text"}
    }
  }
}`

// Indexer stores one document. *client.ESClient satisfies it.
type Indexer interface {
	EnsureIndex(ctx context.Context, index, mapping string) error
	IndexDocument(ctx context.Context, index, id string, document interface{}) error
}

// SecuritySink indexes security events from a bounded queue on one goroutine.
type SecuritySink struct {
	indexer   Indexer
	index     string
	buckets   *bucketing.BucketingManager
	queue     chan models.SecurityEvent
	done      chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger
	now       func() time.Time
}

func NewSecuritySink(indexer Indexer, index string, buckets *bucketing.BucketingManager, queueSize int) *SecuritySink {
	s := &SecuritySink{
		indexer: indexer,
		index:   index,
		buckets: buckets,
		queue:   make(chan models.SecurityEvent, max(queueSize, 1)),
		done:    make(chan struct{}),
		logger:  util.Named("audit.security"),
		now:     time.Now,
	}
	go s.run()
	return s
}

// EnsureIndex creates the security index with its mapping.
func (s *SecuritySink) EnsureIndex(ctx context.Context) error {
	return s.indexer.EnsureIndex(ctx, s.index, securityIndexMapping)
}

// Record masks ev, fills its identifiers and enqueues it. A full queue drops the event.
func (s *SecuritySink) Record(_ context.Context, ev models.SecurityEvent) {
	at := s.now().UTC()
	ev.EventID = uuid.NewString()
	ev.EventTime = at
	ev.EventDate = s.buckets.GetDateBucket(at)
	ev.EventBucket = s.buckets.GetEventBucket(ev.Token)
	ev.Token = util.MaskSecret(ev.Token)
	ev.Sender = util.MaskPhone(ev.Sender)
	ev.ClaimedBy = util.MaskPhone(ev.ClaimedBy)

	defer func() {
		// Record after Close must not panic the caller.
		if recover() != nil {
			metrics.RecordAuditEvent("elasticsearch", errQueueClosed)
		}
	}()

	select {
	case s.queue <- ev:
	default:
		s.logger.Warn("Security event queue full, dropping event", zap.String("event_type", ev.EventType))
		metrics.RecordAuditEvent("elasticsearch", errQueueFull)
	}
}

func (s *SecuritySink) run() {
	defer close(s.done)
	for ev := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := s.indexer.IndexDocument(ctx, s.index, ev.EventID, ev)
		cancel()
		metrics.RecordAuditEvent("elasticsearch", err)
		if err != nil {
			s.logger.Error("Failed to index security event",
				zap.String("event_type", ev.EventType),
				zap.String("event_id", ev.EventID),
				zap.Error(err))
		}
	}
}

// Close stops intake and waits for queued events until ctx is done.
func (s *SecuritySink) Close(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.queue) })
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
