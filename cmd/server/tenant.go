package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/NoraXie/echoid/internal/factory"
	"github.com/NoraXie/echoid/internal/models"
	"github.com/NoraXie/echoid/internal/repository/scylla"
)

const defaultTenantTimeout = 30 * time.Second

// NewTenantCmd creates the tenant command group.
func NewTenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Bootstrap and fund tenants",
	}
	cmd.AddCommand(newTenantCreateCmd(), newTenantTopupCmd(), newTenantTransactionsCmd())
	return cmd
}

func newTenantCreateCmd() *cobra.Command {
	var (
		name    string
		balance float64
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant and print its API key",
		Long: `Creates an active tenant with an opening balance. The API key is
printed once and only its hash is stored.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if name == "" {
				return errors.New("--name is required")
			}
			if balance < 0 {
				return errors.New("--balance must not be negative")
			}
			apiKey, err := scylla.NewAPIKey()
			if err != nil {
				return err
			}
			tenant := &models.Tenant{
				Name:          name,
				BalanceMicros: models.ToMicros(balance),
				IsActive:      true,
			}
			return withStores(cmd, defaultTenantTimeout, func(ctx context.Context, f *factory.Factory) error {
				if err := f.Tenants().Create(ctx, tenant, apiKey); err != nil {
					return err
				}
				cmd.Printf("tenant_id: %s\napi_key:   %s\nbalance:   %.2f\n", tenant.TenantID, apiKey, tenant.Balance())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "tenant display name")
	cmd.Flags().Float64Var(&balance, "balance", 0, "opening balance")
	return cmd
}

func newTenantTopupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "topup <tenant-id> <amount>",
		Short: "Add credit to a tenant balance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			return withStores(cmd, defaultTenantTimeout, func(ctx context.Context, f *factory.Factory) error {
				balance, err := f.Tenants().AdjustBalance(ctx, args[0], models.ToMicros(amount))
				if err != nil {
					return err
				}
				cmd.Printf("balance: %.2f\n", models.FromMicros(balance))
				return nil
			})
		},
	}
}

func parseAmount(s string) (float64, error) {
	amount, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if amount <= 0 {
		return 0, fmt.Errorf("amount must be positive, got %q", s)
	}
	return amount, nil
}

func newTenantTransactionsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "transactions <tenant-id>",
		Short: "List the most recent billed replies of a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return errors.New("--limit must be positive")
			}
			return withStores(cmd, defaultTenantTimeout, func(ctx context.Context, f *factory.Factory) error {
				var all []models.Transaction
				for bucket := range f.BucketingManager().TransactionBuckets() {
					txs, err := f.Transactions().ListBucket(ctx, args[0], bucket, limit)
					if err != nil {
						return err
					}
					all = append(all, txs...)
				}
				for _, tx := range newestFirst(all, limit) {
					cmd.Printf("%s  %-10s  %8.4f  %s\n",
						tx.CreatedAt.UTC().Format(time.RFC3339), tx.Token, models.FromMicros(tx.CostMicros), tx.TemplateSnapshot)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of transactions")
	return cmd
}

// newestFirst merges per-bucket pages and keeps the limit most recent.
func newestFirst(txs []models.Transaction, limit int) []models.Transaction {
	slices.SortFunc(txs, func(a, b models.Transaction) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if len(txs) > limit {
		txs = txs[:limit]
	}
	return txs
}
