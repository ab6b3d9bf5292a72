package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/NoraXie/echoid/internal/factory"
)

// NewRootCmd creates the root command for the EchoID CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "echoid",
		Short: "EchoID - one-time login challenges over WhatsApp",
		Long: `EchoID binds a login attempt to the phone that messages the bot,
replies with a one-time code and bills the tenant for it.

Configuration is read from the environment and an optional .env file.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewTemplatesCmd())
	cmd.AddCommand(NewTenantCmd())

	return cmd
}

// withStores runs fn against a factory holding only the stores, and closes it.
func withStores(cmd *cobra.Command, timeout time.Duration, fn func(ctx context.Context, f *factory.Factory) error) error {
	f, err := factory.NewFactory(factory.Options{StoresOnly: true})
	if err != nil {
		return err
	}
	defer f.Close(context.Background())

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	return fn(ctx, f)
}
