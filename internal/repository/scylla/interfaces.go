package scylla

import (
	"context"

	"github.com/NoraXie/echoid/internal/models"
)

// TenantStore defines tenant lookups and balance changes.
type TenantStore interface {
	Create(ctx context.Context, tenant *models.Tenant, apiKey string) error
	GetByID(ctx context.Context, tenantID string) (*models.Tenant, error)
	GetByAPIKey(ctx context.Context, apiKey string) (*models.Tenant, error)
	AdjustBalance(ctx context.Context, tenantID string, deltaMicros int64) (int64, error)
}

// TransactionStore defines the append-only transaction log.
type TransactionStore interface {
	Insert(ctx context.Context, tx *models.Transaction) error
	ListBucket(ctx context.Context, tenantID string, bucket, limit int) ([]models.Transaction, error)
}

var (
	_ TenantStore      = (*TenantRepository)(nil)
	_ TransactionStore = (*TransactionRepository)(nil)
)
