// Package main is the entrypoint for the Passify server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/passifypro/passify/internal/api"
	"github.com/passifypro/passify/internal/config"
	"github.com/passifypro/passify/internal/db"
	"github.com/passifypro/passify/internal/events"
	"github.com/passifypro/passify/internal/issuer"
	"github.com/passifypro/passify/internal/ledger"
	"github.com/passifypro/passify/internal/notifications"
	"github.com/passifypro/passify/internal/orders"
	"github.com/passifypro/passify/internal/vault"
	"github.com/passifypro/passify/internal/wallet"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("version", Version).Logger()
	if os.Getenv("ENV") != string(config.EnvProduction) {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	logger.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Msg("Starting Passify server")

	// Load configuration
	cfg := config.LoadServerConfig()

	issuanceCfg, err := config.LoadIssuanceConfig(cfg.ConfigFile)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.ConfigFile).Msg("Failed to load issuance configuration")
		return 1
	}

	// Open the credential vault and the pass registry
	credVault, err := vault.New(cfg.DataDir, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open credential vault")
		return 1
	}

	store, err := db.NewStore(cfg.DataDir, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open pass registry")
		return 1
	}
	defer store.Close()

	// Wallet backend plumbing. One shared client per credential keeps the
	// bearer token cached across operations; a credential rotation swaps in
	// a fresh client without a restart.
	signer := wallet.NewSaveLinkSigner(issuanceCfg.SaveLinkOrigins)
	clients := wallet.NewClientCache(func(cred *vault.Credential) *wallet.Client {
		return wallet.NewClient(cred, logger,
			wallet.WithHTTPClient(&http.Client{Timeout: cfg.WalletTimeout}))
	})
	clientFactory := func(cred *vault.Credential) issuer.WalletAPI {
		return clients.ClientFor(cred)
	}
	backendSource := func() (ledger.WalletAPI, error) {
		cred, err := credVault.Load()
		if err != nil {
			return nil, err
		}
		return clients.ClientFor(cred), nil
	}

	passIssuer := issuer.New(issuanceCfg, credVault, clientFactory, signer, store, logger)
	passLedger := ledger.New(store, backendSource, logger)

	// Order source and ticket email are optional integrations.
	var orderSource orders.Source
	if cfg.OrderSourceURL != "" {
		orderSource = orders.NewHTTPSource(cfg.OrderSourceURL, cfg.OrderSourceToken, logger)
	} else {
		logger.Warn().Msg("ORDER_SOURCE_URL not set; issuance endpoints will reject orders")
		orderSource = orders.Unavailable{}
	}

	var mailer events.TicketMailer
	if issuanceCfg.SMTP.Enabled() {
		emailService, err := notifications.NewEmailService(issuanceCfg.SMTP, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize email service")
			return 1
		}
		mailer = emailService
	} else {
		logger.Info().Msg("SMTP not configured; ticket emails disabled")
	}

	pipeline := events.NewPipeline(orderSource, passIssuer, mailer, logger)

	// Reconciler keeps the local state mirror honest.
	reconciler := ledger.NewReconciler(store, backendSource, logger)
	if err := reconciler.Start(ctx, cfg.ReconcileSchedule); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start reconciler")
		return 1
	}
	defer reconciler.Stop()

	routerCfg := api.Config{
		Environment:       cfg.Environment,
		AllowedOrigins:    cfg.AllowedOrigins,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitPeriod:   cfg.RateLimitPeriod,
		APIKeys:           issuanceCfg.APIKeys,
		Version:           Version,
		Commit:            Commit,
		BuildDate:         BuildDate,
	}

	router, err := api.NewRouter(routerCfg, store, credVault, pipeline, passLedger, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize router")
		return 1
	}

	// Start HTTP server
	listenAddr := os.Getenv("LISTEN_ADDR")
	if listenAddr == "" {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		listenAddr = ":" + port
	}

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", listenAddr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logger.Info().Str("signal", sig.String()).Msg("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
		return 1
	}

	logger.Info().Msg("Server stopped gracefully")
	return 0
}
