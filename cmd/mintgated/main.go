package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"clanktonmint/config"
	"clanktonmint/gateway"
	"clanktonmint/gateway/middleware"
	"clanktonmint/ledger"
	"clanktonmint/mintauth"
	"clanktonmint/observability/logging"
	"clanktonmint/registrar"
	"clanktonmint/social"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to the gateway configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(logging.Options{
		Service: "mintgated",
		Env:     cfg.Log.Env,
		File:    cfg.Log.File,
		MaxSize: cfg.Log.MaxSizeMB,
	})

	if err := run(cfg, logger); err != nil {
		logger.Error("mintgated failed", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	store, err := ledger.NewStore(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer store.Close()

	signer, err := mintauth.NewKeySigner(cfg.Signer.Key)
	if err != nil {
		return fmt.Errorf("load signer key: %w", err)
	}
	logger.Info("attestation signer loaded", "address", strings.ToLower(signer.Address().Hex()))

	oracle, err := social.NewNeynarClient(social.NeynarConfig{
		BaseURL: cfg.Neynar.BaseURL,
		APIKey:  cfg.Neynar.APIKey,
		Timeout: cfg.Neynar.Timeout.Duration,
	})
	if err != nil {
		return fmt.Errorf("neynar client: %w", err)
	}

	table := cfg.Pricing
	server, err := gateway.NewServer(gateway.Config{
		Store:       store,
		Registrar:   registrar.New(store, table, cfg.SelfReportCeiling, logger),
		Reconciler:  social.NewReconciler(oracle, store, cfg.Targets, cfg.Neynar.Timeout.Duration, logger),
		Authorizer:  mintauth.NewAuthorizer(store, table, signer, cfg.MintDomain(), cfg.Mint.Validity.Duration, logger),
		Table:       table,
		AdminSecret: []byte(cfg.Admin.JWTSecret),
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("wire server: %w", err)
	}

	handler := server.Router(gateway.RouterConfig{
		RateLimiter: middleware.NewRateLimiter(cfg.MiddlewareLimits()),
		Metrics:     middleware.NewMetrics("mintgate"),
		CORS:        middleware.CORSConfig{AllowedOrigins: cfg.CORS.AllowedOrigins},
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("mint gateway listening", "addr", cfg.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case s := <-sig:
		logger.Info("shutting down mint gateway", "signal", s.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}
