// Package audit records security and funnel events off the request path.
// Sinks are best effort: failures are logged and counted, never returned.
package audit

import (
	"context"
	"errors"

	"github.com/NoraXie/echoid/internal/models"
)

var (
	errQueueFull   = errors.New("audit queue full")
	errQueueClosed = errors.New("audit queue closed")
)

// Recorder accepts audit events.
type Recorder interface {
	SecurityEvent(ctx context.Context, ev models.SecurityEvent)
	VerificationEvent(ctx context.Context, ev models.VerificationEvent)
}

// Multi fans events out to the security and funnel sinks. Either may be nil.
type Multi struct {
	Security *SecuritySink
	Funnel   *FunnelWriter
}

func (m *Multi) SecurityEvent(ctx context.Context, ev models.SecurityEvent) {
	if m.Security != nil {
		m.Security.Record(ctx, ev)
	}
}

func (m *Multi) VerificationEvent(ctx context.Context, ev models.VerificationEvent) {
	if m.Funnel != nil {
		m.Funnel.Record(ctx, ev)
	}
}

// Close drains both sinks.
func (m *Multi) Close(ctx context.Context) error {
	var err error
	if m.Security != nil {
		err = m.Security.Close(ctx)
	}
	if m.Funnel != nil {
		if ferr := m.Funnel.Close(ctx); err == nil {
			err = ferr
		}
	}
	return err
}

// Nop discards everything.
type Nop struct{}

func (Nop) SecurityEvent(context.Context, models.SecurityEvent)         {}
func (Nop) VerificationEvent(context.Context, models.VerificationEvent) {}
