package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/erp-backoffice/backoffice-server/internal/api"
	"github.com/erp-backoffice/backoffice-server/internal/config"
	"github.com/erp-backoffice/backoffice-server/internal/events"
	"github.com/erp-backoffice/backoffice-server/internal/migrations"
	"github.com/erp-backoffice/backoffice-server/internal/projectgen"
	"github.com/erp-backoffice/backoffice-server/internal/storage"
	"github.com/erp-backoffice/backoffice-server/internal/tenantdb"
)

func main() {
	// Command line flags
	var configFile string
	flag.StringVar(&configFile, "config", "config/admin-server.yml", "Configuration file path")
	flag.Parse()

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load configuration
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Connect to the registry database
	dsn := cfg.Database.DSN
	if dsn == "" {
		dsn = cfg.TenantServer.DatabaseDSN(cfg.TenantServer.Database)
	}
	store, err := storage.NewPostgresStore(dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer store.Close()

	log.Info().Msg("Connected to registry database")

	// Apply the registry's own schema
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := migrations.ApplyAdminSchema(ctx, store.DB()); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply registry schema")
	}

	// Credential cipher
	cipher, err := tenantdb.NewCredentialCipher(cfg.Provisioning.CredentialKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid credential key")
	}

	// Lifecycle event publisher, no-op when NATS is not configured
	publisher, err := events.NewPublisher(cfg.NATS)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to connect to NATS, continuing without lifecycle events")
		publisher = nil
	}
	defer publisher.Close()

	// Services
	provisioner := tenantdb.NewProvisioner(store, cfg.TenantServer, cipher, publisher)
	resolver := tenantdb.NewResolver(store, cipher, cfg.TenantServer.SSLMode)

	runner := migrations.NewRunner()
	runner.Timeout = cfg.Provisioning.MigrationTimeout
	migrator := tenantdb.NewMigrator(store, runner, resolver, publisher,
		cfg.Provisioning.WorkspaceRoot, cfg.Provisioning.ModuleMigrationsPath)

	generator := projectgen.NewGenerator(cfg.ProjectGen)

	// REST API server
	apiServer := api.NewRESTServer(cfg, store, provisioner, resolver, migrator, generator)

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		if err := apiServer.ListenAndServe(addr); err != nil {
			log.Fatal().Err(err).Msg("REST API server failed")
		}
	}()

	// Wait for signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shut down API server")
	}
}
