package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/NoraXie/echoid/internal/config"
	"github.com/NoraXie/echoid/internal/factory"
	"github.com/NoraXie/echoid/internal/handler"
	"github.com/NoraXie/echoid/internal/util"
)

const shutdownTimeout = 30 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, webhook receiver and billing workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	f, err := factory.NewFactory(factory.Options{})
	if err != nil {
		return fmt.Errorf("failed to initialize factory: %w", err)
	}

	cfg := f.Config()
	router := handler.NewRouter(cfg, handler.NewEchoHandler(f.ServiceFactory(), util.Get()), f, util.Get())

	serverAddr := cfg.GetServerAddress()
	if cfg.Server.EnableTLS {
		serverAddr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.TLSPort)
	}

	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if !cfg.Server.EnableTLS {
		util.Warn("Starting HTTP server - TLS is disabled",
			util.String("environment", cfg.Environment),
			util.String("address", serverAddr),
		)
		return serve(f, cfg, server, nil)
	}

	tlsManager := f.TLSManager()
	server.TLSConfig = tlsManager.GetTLSConfig()

	// ACME answers its HTTP-01 challenge on :80 and redirects everything else
	var challengeServer *http.Server
	if acm := tlsManager.GetAutocertManager(); acm != nil {
		challengeServer = &http.Server{
			Addr:              ":80",
			Handler:           acm.HTTPHandler(nil),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	util.Info("Starting HTTPS server",
		util.String("environment", cfg.Environment),
		util.Int("port", cfg.Server.TLSPort),
		util.Bool("auto_cert", cfg.Server.AutoCert),
	)
	return serve(f, cfg, server, challengeServer)
}

func serve(f *factory.Factory, cfg *config.Config, server, challengeServer *http.Server) error {
	errCh := make(chan error, 2)

	go func() {
		var err error
		if cfg.Server.EnableTLS {
			// certificates come from the TLS manager
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	if challengeServer != nil {
		go func() {
			util.Info("Starting ACME challenge server on port 80")
			if err := challengeServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				util.Error("ACME challenge server failed", util.ErrorField(err))
			}
		}()
	}

	util.Info("Server started successfully",
		util.String("environment", cfg.Environment),
		util.String("version", cfg.Version),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.String("address", server.Addr),
	)

	return waitForShutdown(f, errCh, server, challengeServer)
}

func waitForShutdown(f *factory.Factory, errCh <-chan error, servers ...*http.Server) error {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalChan)

	var runErr error
	select {
	case sig := <-signalChan:
		util.Info("Received shutdown signal", util.String("signal", sig.String()))
	case runErr = <-errCh:
		util.Error("Server stopped unexpectedly", util.ErrorField(runErr))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for _, srv := range servers {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil {
			util.Error("Failed to shutdown server gracefully", util.String("address", srv.Addr), util.ErrorField(err))
		} else {
			util.Info("Server shutdown completed", util.String("address", srv.Addr))
		}
	}

	// in-flight billing jobs and audit batches drain within the same budget
	f.Close(ctx)
	return runErr
}
