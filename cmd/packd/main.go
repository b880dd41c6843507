package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"packchain/config"
	"packchain/core"
	"packchain/core/genesis"
	"packchain/core/state"
	"packchain/indexer"
	"packchain/native/mysterypack"
	"packchain/observability/logging"
	telemetry "packchain/observability/otel"
	"packchain/rpc"
	"packchain/storage"
)

const (
	serviceName    = "packd"
	genesisPathEnv = "PACKCHAIN_GENESIS"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis JSON file (overrides PACKCHAIN_GENESIS and config GenesisFile)")
	allowMigrateFlag := flag.Bool("allow-migrate", false, "Allow starting with a mismatched state schema (manual migrations only)")
	flag.Parse()

	if err := run(*configFile, *genesisFlag, *allowMigrateFlag); err != nil {
		fmt.Fprintf(os.Stderr, "packd: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile, genesisFlag string, allowMigrate bool) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logCloser, err := logging.Setup(serviceName, cfg.Logging.Env, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Logging.Env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
		Attributes:  map[string]string{"packchain.program": mysterypack.ProgramID.String()},
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	db, err := openDatabase(cfg.Storage.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	exec := core.NewExecutor(db)
	if err := state.EnsureStateVersion(exec.State(), allowMigrate); err != nil {
		return err
	}
	exec.SetLogger(logger)
	exec.SetReserve(cfg.Vault.Reserve)

	genesisPath := resolveGenesisPath(genesisFlag, cfg.GenesisFile, os.LookupEnv)
	if genesisPath != "" {
		spec, err := genesis.LoadGenesisSpec(genesisPath)
		if err != nil {
			return fmt.Errorf("load genesis: %w", err)
		}
		hash, applied, err := genesis.Apply(spec, exec.State())
		if err != nil {
			return fmt.Errorf("apply genesis: %w", err)
		}
		logger.Info("genesis ready",
			slog.String("path", genesisPath),
			slog.String("hash", fmt.Sprintf("0x%x", hash)),
			slog.Bool("applied", applied))
	} else {
		logger.Warn("no genesis configured; starting from empty ledger")
	}

	var index *indexer.Indexer
	if cfg.Indexer.Enabled {
		gdb, err := indexer.Open(cfg.Indexer.Driver, cfg.Indexer.DSN)
		if err != nil {
			return err
		}
		if sqlDB, err := gdb.DB(); err == nil {
			defer sqlDB.Close()
		}
		logger.Info("indexer enabled",
			slog.String("driver", cfg.Indexer.Driver),
			logging.MaskField("dsn", cfg.Indexer.DSN))
		index = indexer.New(gdb, logger.With(slog.String("component", "indexer")))
	}
	exec.SetEmitter(committedEmitters(logger, index))

	server := rpc.NewServer(exec, index, rpc.ServerConfig{
		AuthToken:         cfg.AuthToken(),
		TxPerMinute:       cfg.RPC.TxPerMinute,
		TxBurst:           cfg.RPC.TxBurst,
		TrustProxyHeaders: cfg.RPC.TrustProxyHeaders,
		ReadTimeout:       time.Duration(cfg.RPC.ReadTimeoutSecs) * time.Second,
		WriteTimeout:      time.Duration(cfg.RPC.WriteTimeoutSecs) * time.Second,
	}, logger.With(slog.String("component", "rpc")))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.RPC.Address)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown requested")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("rpc shutdown: %w", err)
	}
	return <-errCh
}

func openDatabase(dataDir string) (storage.Database, error) {
	if strings.TrimSpace(dataDir) == "" {
		return storage.NewMemDB(), nil
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("prepare data directory: %w", err)
	}
	db, err := storage.NewLevelDB(dataDir)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// resolveGenesisPath picks the genesis document: the flag wins, then the
// environment, then the config file.
func resolveGenesisPath(flagValue, configValue string, lookup func(string) (string, bool)) string {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v
	}
	if lookup != nil {
		if v, ok := lookup(genesisPathEnv); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return strings.TrimSpace(configValue)
}
