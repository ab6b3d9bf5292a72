package audit

import (
	"context"
	"fmt"

	"github.com/NoraXie/echoid/internal/client"
	"github.com/NoraXie/echoid/internal/models"
)

const verificationEventsDDL = `
CREATE TABLE IF NOT EXISTS verification_events (
    event_id   String,
    event_type LowCardinality(String),
    tenant_id  String,
    token      String,
    app_name   String,
    outcome    LowCardinality(String),
    created_at DateTime64(3, 'UTC')
) ENGINE = MergeTree
PARTITION BY toYYYYMM(created_at)
ORDER BY (tenant_id, event_type, created_at)
TTL toDateTime(created_at) + INTERVAL 180 DAY`

const insertVerificationEvents = `INSERT INTO verification_events`

// ClickhouseEvents stores funnel rows in the verification_events table.
type ClickhouseEvents struct {
	client *client.ClickHouseClient
}

func NewClickhouseEvents(c *client.ClickHouseClient) *ClickhouseEvents {
	return &ClickhouseEvents{client: c}
}

func (e *ClickhouseEvents) EnsureTable(ctx context.Context) error {
	if err := e.client.Exec(ctx, verificationEventsDDL); err != nil {
		return fmt.Errorf("failed to create verification_events: %w", err)
	}
	return nil
}

func (e *ClickhouseEvents) InsertVerificationEvents(ctx context.Context, rows []models.VerificationEvent) error {
	return client.BatchInsert(ctx, e.client, insertVerificationEvents, rows)
}
