package scylla

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/NoraXie/echoid/internal/models"
	"github.com/NoraXie/echoid/internal/util"
)

const apiKeyPrefix = "eid_"

var (
	ErrTenantNotFound = errors.New("tenant not found")
	ErrTenantExists   = errors.New("tenant already exists")
)

type TenantRepository struct {
	client     *ScyllaClient
	casBackoff func() retry.Backoff
}

func NewTenantRepository(client *ScyllaClient) *TenantRepository {
	return &TenantRepository{
		client: client,
		casBackoff: func() retry.Backoff {
			return retry.WithMaxRetries(5, retry.NewExponential(20*time.Millisecond))
		},
	}
}

// HashAPIKey is the lookup form of an API key. Keys are never stored in clear.
func HashAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

// NewAPIKey returns a random key with the eid_ prefix.
func NewAPIKey() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate api key: %w", err)
	}
	return apiKeyPrefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// Create stores tenant and its API key lookup row. TenantID is generated when empty.
func (r *TenantRepository) Create(ctx context.Context, tenant *models.Tenant, apiKey string) error {
	if tenant.TenantID == "" {
		tenant.TenantID = uuid.NewString()
	}
	id, err := gocql.ParseUUID(tenant.TenantID)
	if err != nil {
		return fmt.Errorf("invalid tenant id: %w", err)
	}
	tenant.APIKeyHash = HashAPIKey(apiKey)
	tenant.CreatedAt = time.Now().UTC()

	applied, err := r.client.Query(r.client.Prepared.CreateTenant.Statement(),
		id, tenant.Name, tenant.APIKeyHash, tenant.BalanceMicros, tenant.IsActive, tenant.CreatedAt,
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		util.Error("Failed to create tenant", zap.String("tenant_id", tenant.TenantID), zap.Error(err))
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	if !applied {
		return ErrTenantExists
	}

	if err := r.client.Query(r.client.Prepared.CreateTenantByAPIKey.Statement(),
		tenant.APIKeyHash, id,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("failed to index tenant api key: %w", err)
	}

	util.Info("Tenant created",
		zap.String("tenant_id", tenant.TenantID),
		zap.String("name", tenant.Name))
	return nil
}

func (r *TenantRepository) GetByID(ctx context.Context, tenantID string) (*models.Tenant, error) {
	id, err := gocql.ParseUUID(tenantID)
	if err != nil {
		return nil, ErrTenantNotFound
	}

	var (
		tenant   models.Tenant
		storedID gocql.UUID
	)
	err = r.client.Query(r.client.Prepared.GetTenantByID.Statement(), id).WithContext(ctx).Scan(
		&storedID, &tenant.Name, &tenant.APIKeyHash, &tenant.BalanceMicros, &tenant.IsActive, &tenant.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	tenant.TenantID = storedID.String()
	return &tenant, nil
}

// GetByAPIKey resolves a clear API key to its tenant.
func (r *TenantRepository) GetByAPIKey(ctx context.Context, apiKey string) (*models.Tenant, error) {
	var id gocql.UUID
	err := r.client.Query(r.client.Prepared.GetTenantIDByAPIKey.Statement(), HashAPIKey(apiKey)).
		WithContext(ctx).Scan(&id)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to look up api key: %w", err)
	}
	return r.GetByID(ctx, id.String())
}

// AdjustBalance adds delta (negative to charge) with a compare-and-set on the
// current balance, retrying contention with exponential backoff.
func (r *TenantRepository) AdjustBalance(ctx context.Context, tenantID string, deltaMicros int64) (int64, error) {
	id, err := gocql.ParseUUID(tenantID)
	if err != nil {
		return 0, ErrTenantNotFound
	}

	var newBalance int64
	err = retry.Do(ctx, r.casBackoff(), func(ctx context.Context) error {
		tenant, err := r.GetByID(ctx, tenantID)
		if err != nil {
			return err
		}

		next := tenant.BalanceMicros + deltaMicros
		applied, err := r.client.Query(r.client.Prepared.CASTenantBalance.Statement(),
			next, id, tenant.BalanceMicros,
		).WithContext(ctx).MapScanCAS(map[string]interface{}{})
		if err != nil {
			return retry.RetryableError(fmt.Errorf("balance update failed: %w", err))
		}
		if !applied {
			util.Debug("Balance changed concurrently, retrying", zap.String("tenant_id", tenantID))
			return retry.RetryableError(errors.New("balance changed concurrently"))
		}
		newBalance = next
		return nil
	})
	if err != nil {
		util.Error("Failed to adjust tenant balance",
			zap.String("tenant_id", tenantID),
			zap.Int64("delta_micros", deltaMicros),
			zap.Error(err))
		return 0, fmt.Errorf("failed to adjust tenant balance: %w", err)
	}
	return newBalance, nil
}

func (r *TenantRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck(ctx)
}
