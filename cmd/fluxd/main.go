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

	"fluxpay/config"
	"fluxpay/core"
	"fluxpay/core/events"
	"fluxpay/core/genesis"
	"fluxpay/indexer"
	"fluxpay/observability/logging"
	telemetry "fluxpay/observability/otel"
	"fluxpay/rpc"
	"fluxpay/storage"
)

const (
	serviceName     = "fluxd"
	genesisPathEnv  = "FLUX_GENESIS"
	shutdownTimeout = 10 * time.Second
)

type envLookupFunc func(string) (string, bool)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis allocation file (overrides FLUX_GENESIS and config GenesisFile)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configFile, *genesisFlag); err != nil {
		slog.Error("fluxd exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, configFile, genesisFlag string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.Setup(serviceName, cfg.Environment, logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Network:     cfg.NetworkName,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	programID, err := cfg.ProgramAddress()
	if err != nil {
		return err
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("close database", slog.Any("error", err))
		}
	}()

	ledger, err := core.NewLedger(db, core.Config{
		Network:   cfg.NetworkName,
		ProgramID: programID,
		Rent:      cfg.Rent,
		Pauses:    cfg.Pauses.View(),
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	genesisPath := resolveGenesisPath(genesisFlag, cfg.GenesisFile, os.LookupEnv)
	if err := initGenesis(ledger, genesisPath, logger); err != nil {
		return err
	}

	var index *indexer.Indexer
	if cfg.Indexer.Enabled {
		gdb, err := indexer.Open(cfg.Indexer.DSN)
		if err != nil {
			return err
		}
		index, err = indexer.New(gdb, logger)
		if err != nil {
			return err
		}
		defer index.Close()
		ledger.SetEmitter(events.MultiEmitter{index})
		logger.Info("allowance indexer enabled", logging.Secret("dsn", cfg.Indexer.DSN))
	}

	server := rpc.NewServer(ledger, index, rpc.ServerConfig{
		MaxRequestBytes:    cfg.RPC.MaxRequestBytes,
		RateLimitPerMinute: cfg.RPC.RateLimitPerMinute,
		RateLimitBurst:     cfg.RPC.RateLimitBurst,
		AuthSecret:         cfg.RPC.AuthSecret,
		FaucetEnabled:      cfg.Faucet.Enabled,
		FaucetMaxAmount:    cfg.Faucet.MaxAmount,
		AllowedOrigins:     cfg.RPC.AllowedOrigins,
		ReadTimeout:        time.Duration(cfg.RPC.ReadTimeout) * time.Second,
		WriteTimeout:       time.Duration(cfg.RPC.WriteTimeout) * time.Second,
		Logger:             logger,
	})

	status, err := ledger.Status()
	if err != nil {
		return err
	}
	logger.Info("ledger ready",
		"network", status.Network,
		"height", status.Height,
		"stateRoot", status.StateRoot.Hex(),
		"programId", status.ProgramID.String(),
		"allowanceDeposit", status.AllowanceDeposit)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(cfg.RPCAddress)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown rpc: %w", err)
		}
		return <-serverErr
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("serve rpc: %w", err)
		}
		return nil
	}
}

// resolveGenesisPath picks the genesis file: the CLI flag wins, then
// FLUX_GENESIS, then the config file.
func resolveGenesisPath(cliPath, cfgPath string, lookup envLookupFunc) string {
	if trimmed := strings.TrimSpace(cliPath); trimmed != "" {
		return trimmed
	}
	if lookup != nil {
		if value, ok := lookup(genesisPathEnv); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return strings.TrimSpace(cfgPath)
}

// initGenesis applies the genesis allocations to an empty ledger. A ledger that
// already has a committed head ignores the file.
func initGenesis(ledger *core.Ledger, path string, logger *slog.Logger) error {
	if ledger.Initialized() {
		if path != "" {
			logger.Info("existing state found; genesis file ignored", "path", path)
		}
		return nil
	}
	spec := &genesis.Spec{}
	if path != "" {
		loaded, err := genesis.Load(path)
		if err != nil {
			return fmt.Errorf("load genesis: %w", err)
		}
		spec = loaded
	} else {
		logger.Warn("no genesis file configured; starting with an empty ledger")
	}
	if err := ledger.ApplyGenesis(spec); err != nil && !errors.Is(err, core.ErrAlreadyInitialized) {
		return fmt.Errorf("apply genesis: %w", err)
	}
	return nil
}
