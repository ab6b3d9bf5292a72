package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/NoraXie/echoid/internal/metrics"
	"github.com/NoraXie/echoid/internal/models"
	"github.com/NoraXie/echoid/internal/util"
)

// EventInserter writes a batch of funnel rows.
type EventInserter interface {
	InsertVerificationEvents(ctx context.Context, rows []models.VerificationEvent) error
}

// FunnelWriter buffers verification events and flushes them in batches,
// when the batch is full or on every tick of the flush interval.
type FunnelWriter struct {
	inserter  EventInserter
	batchSize int
	interval  time.Duration
	queue     chan models.VerificationEvent
	done      chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger
}

func NewFunnelWriter(inserter EventInserter, batchSize int, interval time.Duration) *FunnelWriter {
	if batchSize <= 0 {
		batchSize = 500
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	w := &FunnelWriter{
		inserter:  inserter,
		batchSize: batchSize,
		interval:  interval,
		queue:     make(chan models.VerificationEvent, batchSize*4),
		done:      make(chan struct{}),
		logger:    util.Named("audit.funnel"),
	}
	go w.run()
	return w
}

// Record enqueues ev. A full queue drops the event.
func (w *FunnelWriter) Record(_ context.Context, ev models.VerificationEvent) {
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	ev.Token = util.MaskSecret(ev.Token)

	defer func() {
		if recover() != nil {
			metrics.RecordAuditEvent("clickhouse", errQueueClosed)
		}
	}()

	select {
	case w.queue <- ev:
	default:
		w.logger.Warn("Funnel queue full, dropping event", zap.String("event_type", ev.EventType))
		metrics.RecordAuditEvent("clickhouse", errQueueFull)
	}
}

func (w *FunnelWriter) run() {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	batch := make([]models.VerificationEvent, 0, w.batchSize)
	for {
		select {
		case ev, ok := <-w.queue:
			if !ok {
				w.flush(batch)
				return
			}
			batch = append(batch, ev)
			if len(batch) >= w.batchSize {
				w.flush(batch)
				batch = make([]models.VerificationEvent, 0, w.batchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = make([]models.VerificationEvent, 0, w.batchSize)
			}
		}
	}
}

func (w *FunnelWriter) flush(batch []models.VerificationEvent) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := w.inserter.InsertVerificationEvents(ctx, batch)
	metrics.RecordAuditEvent("clickhouse", err)
	if err != nil {
		w.logger.Error("Failed to write funnel batch", zap.Int("rows", len(batch)), zap.Error(err))
		return
	}
	w.logger.Debug("Funnel batch written", zap.Int("rows", len(batch)))
}

// Close flushes pending events and stops the writer, waiting until ctx is done.
func (w *FunnelWriter) Close(ctx context.Context) error {
	w.closeOnce.Do(func() { close(w.queue) })
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
