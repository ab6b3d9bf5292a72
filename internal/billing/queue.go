// Package billing moves billing jobs off the request path. Jobs are handed
// to a Handler either through Kafka or through an in-process worker pool.
package billing

import (
	"context"
	"errors"

	"github.com/NoraXie/echoid/internal/models"
)

var (
	ErrQueueFull   = errors.New("billing queue full")
	ErrQueueClosed = errors.New("billing queue closed")
)

// Handler processes one job. Returned errors are logged as billing failures.
type Handler func(ctx context.Context, job models.BillingJob) error

// Queue accepts billing jobs. Submit never blocks on processing.
type Queue interface {
	Submit(ctx context.Context, job models.BillingJob) error
	Close(ctx context.Context) error
}
