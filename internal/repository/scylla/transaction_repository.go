package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"github.com/NoraXie/echoid/internal/models"
	"github.com/NoraXie/echoid/internal/util"
)

// TransactionRepository appends to the per-tenant transaction log.
type TransactionRepository struct {
	client *ScyllaClient
}

func NewTransactionRepository(client *ScyllaClient) *TransactionRepository {
	return &TransactionRepository{client: client}
}

// Insert writes tx. TransactionID and CreatedAt are filled when empty.
func (r *TransactionRepository) Insert(ctx context.Context, tx *models.Transaction) error {
	tenantID, err := gocql.ParseUUID(tx.TenantID)
	if err != nil {
		return fmt.Errorf("invalid tenant id: %w", err)
	}

	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	txID := gocql.UUIDFromTime(tx.CreatedAt)
	if tx.TransactionID != "" {
		if txID, err = gocql.ParseUUID(tx.TransactionID); err != nil {
			return fmt.Errorf("invalid transaction id: %w", err)
		}
	}
	tx.TransactionID = txID.String()

	err = r.client.Query(r.client.Prepared.InsertTransaction.Statement(),
		tenantID, tx.Bucket, txID, tx.Token, tx.PhoneEncrypted, tx.PhoneKeyID,
		tx.TemplateSnapshot, tx.CostMicros, tx.CreatedAt,
	).WithContext(ctx).Exec()
	if err != nil {
		util.Error("Failed to insert transaction",
			zap.String("tenant_id", tx.TenantID),
			zap.Int("bucket", tx.Bucket),
			zap.Error(err))
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// ListBucket returns up to limit transactions of one partition, newest first.
func (r *TransactionRepository) ListBucket(ctx context.Context, tenantID string, bucket, limit int) ([]models.Transaction, error) {
	id, err := gocql.ParseUUID(tenantID)
	if err != nil {
		return nil, fmt.Errorf("invalid tenant id: %w", err)
	}

	iter := r.client.Query(r.client.Prepared.ListTransactions.Statement(), id, bucket, limit).
		WithContext(ctx).Iter()

	var (
		out           []models.Transaction
		tx            models.Transaction
		storedTenant  gocql.UUID
		transactionID gocql.UUID
	)
	for iter.Scan(&storedTenant, &tx.Bucket, &transactionID, &tx.Token, &tx.PhoneEncrypted,
		&tx.PhoneKeyID, &tx.TemplateSnapshot, &tx.CostMicros, &tx.CreatedAt) {
		tx.TenantID = storedTenant.String()
		tx.TransactionID = transactionID.String()
		out = append(out, tx)
		tx = models.Transaction{}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return out, nil
}
