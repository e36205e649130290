package config

import (
	"fmt"
	"strings"

	"fluxpay/native/allowance"
)

var validEnvironments = map[string]bool{
	"":            true,
	"dev":         true,
	"development": true,
	"test":        true,
	"staging":     true,
	"prod":        true,
	"production":  true,
}

var validLogLevels = map[string]bool{
	"":        true,
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// ValidateConfig rejects configurations the node cannot run with.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil configuration")
	}
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		return fmt.Errorf("config: RPCAddress required")
	}
	if _, err := cfg.ProgramAddress(); err != nil {
		return fmt.Errorf("config: ProgramID: %w", err)
	}
	if !validEnvironments[strings.ToLower(strings.TrimSpace(cfg.Environment))] {
		return fmt.Errorf("config: unknown environment %q", cfg.Environment)
	}
	if _, err := cfg.Rent.MinimumBalance(allowance.Space); err != nil {
		return fmt.Errorf("config: rent: %w", err)
	}
	if cfg.RPC.RateLimitPerMinute < 0 || cfg.RPC.RateLimitBurst < 0 {
		return fmt.Errorf("config: rpc rate limits must not be negative")
	}
	if cfg.RPC.RateLimitPerMinute > 0 && cfg.RPC.RateLimitBurst == 0 {
		return fmt.Errorf("config: rpc RateLimitBurst must be positive when RateLimitPerMinute is set")
	}
	if cfg.RPC.MaxRequestBytes <= 0 {
		return fmt.Errorf("config: rpc MaxRequestBytes <= 0")
	}
	if cfg.RPC.ReadTimeout < 0 || cfg.RPC.WriteTimeout < 0 {
		return fmt.Errorf("config: rpc timeouts must not be negative")
	}
	if cfg.Faucet.Enabled && cfg.IsProduction() && strings.TrimSpace(cfg.RPC.AuthSecret) == "" {
		return fmt.Errorf("config: faucet requires RPC.AuthSecret in production")
	}
	if cfg.Indexer.Enabled && strings.TrimSpace(cfg.Indexer.DSN) == "" {
		return fmt.Errorf("config: indexer enabled without DSN")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("config: telemetry SampleRatio must be within [0,1]")
	}
	if (cfg.Telemetry.Traces || cfg.Telemetry.Metrics) && strings.TrimSpace(cfg.Telemetry.Endpoint) == "" {
		return fmt.Errorf("config: telemetry endpoint required when exporters are enabled")
	}
	if !validLogLevels[strings.ToLower(strings.TrimSpace(cfg.Log.Level))] {
		return fmt.Errorf("config: unknown log level %q", cfg.Log.Level)
	}
	return nil
}
