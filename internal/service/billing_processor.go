package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/NoraXie/echoid/internal/bucketing"
	"github.com/NoraXie/echoid/internal/encryption"
	"github.com/NoraXie/echoid/internal/models"
	"github.com/NoraXie/echoid/internal/repository/scylla"
	"github.com/NoraXie/echoid/internal/util"
)

// BillingProcessor charges a tenant for one dispatched reply: it decrements the
// balance and then appends the transaction, refunding when the append fails.
type BillingProcessor struct {
	tenants       scylla.TenantStore
	transactions  scylla.TransactionStore
	encryptionMgr *encryption.EncryptionManager
	bucketingMgr  *bucketing.BucketingManager
	logger        *zap.Logger
}

func NewBillingProcessor(
	tenants scylla.TenantStore,
	transactions scylla.TransactionStore,
	encryptionMgr *encryption.EncryptionManager,
	bucketingMgr *bucketing.BucketingManager,
) *BillingProcessor {
	return &BillingProcessor{
		tenants:       tenants,
		transactions:  transactions,
		encryptionMgr: encryptionMgr,
		bucketingMgr:  bucketingMgr,
		logger:        util.Named("billing"),
	}
}

// Process has the billing.Handler signature.
func (p *BillingProcessor) Process(ctx context.Context, job models.BillingJob) error {
	if job.TenantID == "" {
		return fmt.Errorf("%w: billing job without tenant", ErrInvalidInput)
	}

	phoneEnvelope, keyID, err := p.encryptionMgr.Seal(ctx, job.Phone, job.TenantID)
	if err != nil {
		return fmt.Errorf("failed to encrypt phone: %w", err)
	}

	tx := &models.Transaction{
		TenantID:         job.TenantID,
		Bucket:           p.bucketingMgr.GetTransactionBucket(job.Token),
		Token:            job.Token,
		PhoneEncrypted:   phoneEnvelope,
		PhoneKeyID:       keyID,
		TemplateSnapshot: job.TemplateSnapshot,
		CostMicros:       models.ToMicros(job.Cost),
		CreatedAt:        job.CreatedAt,
	}

	// debit first; the transaction row only exists for a charge that landed
	balance, err := p.tenants.AdjustBalance(ctx, job.TenantID, -tx.CostMicros)
	if err != nil {
		return err
	}
	if err := p.transactions.Insert(ctx, tx); err != nil {
		if _, refundErr := p.tenants.AdjustBalance(context.WithoutCancel(ctx), job.TenantID, tx.CostMicros); refundErr != nil {
			p.logger.Error("Failed to refund tenant after transaction insert failure",
				zap.String("job_id", job.JobID),
				zap.String("tenant_id", job.TenantID),
				zap.Int64("cost_micros", tx.CostMicros),
				zap.Error(refundErr))
			return errors.Join(err, refundErr)
		}
		return err
	}

	p.logger.Info("Tenant billed",
		zap.String("job_id", job.JobID),
		zap.String("tenant_id", job.TenantID),
		zap.Int("bucket", tx.Bucket),
		zap.Int64("cost_micros", tx.CostMicros),
		zap.Float64("balance", models.FromMicros(balance)))
	return nil
}
