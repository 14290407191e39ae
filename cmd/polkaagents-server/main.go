package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gaganv007/polkaagents/internal/config"
	"github.com/gaganv007/polkaagents/internal/domain"
	"github.com/gaganv007/polkaagents/internal/events"
	"github.com/gaganv007/polkaagents/internal/ledger"
	"github.com/gaganv007/polkaagents/internal/registry"
	"github.com/gaganv007/polkaagents/internal/service"
	"github.com/gaganv007/polkaagents/internal/store"
	"github.com/gaganv007/polkaagents/internal/telemetry"
	grpcx "github.com/gaganv007/polkaagents/internal/transport/grpc"
	httpx "github.com/gaganv007/polkaagents/internal/transport/http"
	"go.opentelemetry.io/otel"
	"google.golang.org/grpc"
)

const serviceName = "polkaagents-server"

var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("POLKAAGENTS_CONFIG"), "optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	logger.Debug("configuration loaded", "config", cfg.Redacted())

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, serviceName, version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("telemetry setup failed: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown warning", "error", err)
		}
	}()

	metrics, err := telemetry.NewRegistryMetrics(otel.Meter(serviceName))
	if err != nil {
		return fmt.Errorf("metrics setup failed: %w", err)
	}

	registryStore, source, err := buildStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("store setup failed: %w", err)
	}
	if registryStore != nil {
		defer func() {
			if err := registryStore.Close(); err != nil {
				logger.Warn("store close warning", "error", err)
			}
		}()
	}

	hub := events.NewHub()
	sinks, closeSinks, err := buildSinks(cfg.Events, logger)
	if err != nil {
		return fmt.Errorf("event sink setup failed: %w", err)
	}
	defer closeSinks()
	dispatcher := events.NewDispatcher(logger, append(sinks, hub)...)

	policy, err := registry.ParseTransferPolicy(cfg.Platform.TransferPolicy)
	if err != nil {
		return err
	}
	accounts := ledger.NewAccounts(domain.Identity(cfg.Ledger.EscrowAccount))

	options := []registry.Option{
		registry.WithLedger(accounts),
		registry.WithEmitter(dispatcher),
		registry.WithObserver(metrics),
		registry.WithTransferPolicy(policy),
		registry.WithLogger(logger),
	}
	if registryStore != nil {
		options = append(options, registry.WithStore(registryStore))
	}
	reg, err := registry.New(ctx, domain.Identity(cfg.Platform.Owner), cfg.Platform.FeePercentage, options...)
	if err != nil {
		return fmt.Errorf("registry initialization failed: %w", err)
	}

	marketplace := service.NewMarketplaceService(reg, service.Options{
		StoreDriver: cfg.Store.Driver,
		Faucet:      cfg.Ledger.Faucet,
		Logger:      logger,
	})
	grpcServer, healthServer := grpcx.NewServer(grpcx.NewMarketplaceHandler(marketplace), grpcx.ServerOptions{
		Token:      cfg.Auth.Token,
		Identities: tokenIdentities(cfg.Auth.Identities),
		Reflection: cfg.GRPC.Reflection,
		Logger:     logger,
		Recorder:   metrics,
	})

	listener, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.GRPC.Addr, err)
	}

	platform := reg.PlatformConfig()
	logger.Info("registry ready",
		"store_driver", cfg.Store.Driver,
		"store_source", source,
		"owner", platform.Owner,
		"fee_percentage", platform.FeePercentage,
		"transfer_policy", string(policy),
		"escrow", accounts.Escrow(),
	)
	switch {
	case len(cfg.Auth.Identities) > 0:
		logger.Info("write tokens are bound to caller identities", "identities", len(cfg.Auth.Identities))
	case cfg.Auth.Token == "":
		logger.Warn("auth.token is not configured; write methods only require a caller identity")
	default:
		logger.Warn("caller metadata is trusted from any token holder; set auth.identities to bind tokens to callers")
	}
	if cfg.Ledger.Faucet {
		logger.Warn("ledger faucet is enabled; the platform owner can mint balances")
	}
	if held, stake := reg.Balance(accounts.Escrow()), reg.Summary().Totals.StakeHeld; held < stake {
		logger.Warn("escrow holds less than the recorded stakes; withdrawals may be retained",
			"escrow", accounts.Escrow(), "held", held.String(), "stake_held", stake.String())
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("gRPC server listening", "addr", cfg.GRPC.Addr)
		if err := grpcServer.Serve(listener); err != nil {
			errCh <- fmt.Errorf("grpc serve failed: %w", err)
		}
	}()

	var httpServer *http.Server
	if cfg.HTTP.Addr != "" {
		httpServer = httpx.NewServer(cfg.HTTP.Addr, marketplace, hub, logger)
		go func() {
			logger.Info("HTTP API listening", "addr", cfg.HTTP.Addr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http serve failed: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received; draining servers")
	case err = <-errCh:
		logger.Error("server failed; shutting down", "error", err)
	}
	healthServer.Shutdown()
	waitForShutdown(logger, grpcServer, httpServer)
	return err
}

func waitForShutdown(logger *slog.Logger, server *grpc.Server, httpServer *http.Server) {
	done := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("gRPC server stopped gracefully")
	case <-time.After(5 * time.Second):
		logger.Warn("graceful timeout reached; forcing stop")
		server.Stop()
	}
	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown warning", "error", err)
		}
	}
}

// buildStore returns a nil store for the memory driver.
func buildStore(ctx context.Context, cfg config.StoreConfig) (store.RegistryStore, string, error) {
	switch cfg.Driver {
	case "memory":
		return nil, "memory", nil
	case "", "file":
		return store.NewFileStore(cfg.DataFile), cfg.DataFile, nil
	case "postgres":
		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, "", err
		}
		return pgStore, "postgres", nil
	case "sqlite":
		sqliteStore, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, "", err
		}
		return sqliteStore, cfg.SQLitePath, nil
	default:
		return nil, "", fmt.Errorf("unsupported store.driver %q; expected memory|file|postgres|sqlite", cfg.Driver)
	}
}

func buildSinks(cfg config.EventsConfig, logger *slog.Logger) ([]events.Sink, func(), error) {
	switch cfg.Sink {
	case "", "none":
		return nil, func() {}, nil
	case "log":
		return []events.Sink{events.NewLogSink(logger)}, func() {}, nil
	case "nats":
		natsConfig := events.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsConfig.SubjectPrefix = cfg.SubjectPrefix
		natsConfig.Name = serviceName
		sink, err := events.NewNATSSink(natsConfig)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("publishing events to NATS", "url", config.RedactSecret(cfg.NATSURL), "prefix", cfg.SubjectPrefix)
		return []events.Sink{sink}, func() {
			if err := sink.Close(); err != nil {
				logger.Warn("nats sink close warning", "error", err)
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported events.sink %q", cfg.Sink)
	}
}

func tokenIdentities(raw map[string]string) map[string]domain.Identity {
	out := make(map[string]domain.Identity, len(raw))
	for token, identity := range raw {
		out[token] = domain.Identity(identity)
	}
	return out
}
