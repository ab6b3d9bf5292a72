package factory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunProbes(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("dial tcp: connection refused") }

	t.Run("all healthy", func(t *testing.T) {
		checks, healthy := runProbes(context.Background(), []probe{
			{name: "redis", critical: true, check: ok},
			{name: "scylla", critical: true, check: ok},
		}, time.Second)

		assert.True(t, healthy)
		assert.Equal(t, map[string]string{"redis": "ok", "scylla": "ok"}, checks)
	})

	t.Run("optional failure stays healthy", func(t *testing.T) {
		checks, healthy := runProbes(context.Background(), []probe{
			{name: "redis", critical: true, check: ok},
			{name: "clickhouse", check: down},
		}, time.Second)

		assert.True(t, healthy)
		assert.Equal(t, "dial tcp: connection refused", checks["clickhouse"])
	})

	t.Run("critical failure", func(t *testing.T) {
		checks, healthy := runProbes(context.Background(), []probe{
			{name: "redis", critical: true, check: down},
			{name: "kafka", check: ok},
		}, time.Second)

		assert.False(t, healthy)
		assert.Equal(t, "ok", checks["kafka"])
		assert.Contains(t, checks["redis"], "refused")
	})

	t.Run("slow probe is cut off", func(t *testing.T) {
		slow := func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}
		start := time.Now()
		checks, healthy := runProbes(context.Background(), []probe{
			{name: "scylla", critical: true, check: slow},
		}, 50*time.Millisecond)

		assert.False(t, healthy)
		assert.Equal(t, context.DeadlineExceeded.Error(), checks["scylla"])
		assert.Less(t, time.Since(start), time.Second)
	})
}

func TestProbesWithoutClients(t *testing.T) {
	f := &Factory{}
	checks, healthy := f.HealthCheck(context.Background())

	assert.False(t, healthy)
	assert.Len(t, checks, 2)
	assert.Equal(t, "redis client not initialized", checks["redis"])
	assert.Equal(t, "scylla client not initialized", checks["scylla"])
}
