package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fluxpay/core/types"
	nativecommon "fluxpay/native/common"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.RPCAddress != DefaultRPCAddress || cfg.NetworkName != DefaultNetworkName {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Rent != types.DefaultRent() {
		t.Fatalf("unexpected rent defaults: %+v", cfg.Rent)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file to be written: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload default config: %v", err)
	}
	if reloaded.ProgramID != DefaultProgramID {
		t.Fatalf("unexpected program id after reload: %s", reloaded.ProgramID)
	}
	if reloaded.RPC.MaxRequestBytes != defaultMaxRequestBytes {
		t.Fatalf("unexpected request cap after reload: %d", reloaded.RPC.MaxRequestBytes)
	}
}

func TestLoadParsesSections(t *testing.T) {
	path := writeConfig(t, `RPCAddress = "0.0.0.0:9000"
DataDir = "/var/lib/flux"
NetworkName = "fluxpay-devnet"
GenesisFile = "genesis.yaml"
Environment = "staging"

[Rent]
LamportsPerByteYear = 10
ExemptionThresholdYears = 1
AccountStorageOverhead = 128

[RPC]
AuthSecret = "file-secret"
RateLimitPerMinute = 30
RateLimitBurst = 5
MaxRequestBytes = 4096
AllowedOrigins = ["https://wallet.example"]

[Faucet]
Enabled = false

[Indexer]
Enabled = true
DSN = "postgres://flux@localhost/flux"

[Telemetry]
Endpoint = "otel:4318"
Traces = true
SampleRatio = 0.25

[Log]
Level = "debug"
File = "/var/log/flux/node.log"
MaxSizeMB = 50

[Pauses]
Allowance = true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.RPCAddress != "0.0.0.0:9000" || cfg.DataDir != "/var/lib/flux" || cfg.Environment != "staging" {
		t.Fatalf("unexpected top-level values: %+v", cfg)
	}
	if cfg.Rent.LamportsPerByteYear != 10 || cfg.Rent.ExemptionThresholdYears != 1 {
		t.Fatalf("unexpected rent: %+v", cfg.Rent)
	}
	if cfg.RPC.RateLimitPerMinute != 30 || cfg.RPC.MaxRequestBytes != 4096 || len(cfg.RPC.AllowedOrigins) != 1 {
		t.Fatalf("unexpected rpc section: %+v", cfg.RPC)
	}
	if cfg.RPC.WriteTimeout != defaultRPCTimeoutSeconds {
		t.Fatalf("expected default write timeout, got %d", cfg.RPC.WriteTimeout)
	}
	if cfg.Faucet.Enabled {
		t.Fatalf("expected faucet disabled")
	}
	if !cfg.Indexer.Enabled || !strings.HasPrefix(cfg.Indexer.DSN, "postgres://") {
		t.Fatalf("unexpected indexer section: %+v", cfg.Indexer)
	}
	if cfg.Telemetry.SampleRatio != 0.25 || !cfg.Telemetry.Traces {
		t.Fatalf("unexpected telemetry section: %+v", cfg.Telemetry)
	}
	if cfg.Log.Level != "debug" || cfg.Log.MaxSizeMB != 50 {
		t.Fatalf("unexpected log section: %+v", cfg.Log)
	}
	pauses := cfg.Pauses.View()
	if !pauses.IsPaused(nativecommon.ModuleAllowance) || pauses.IsPaused(nativecommon.ModuleTransfer) {
		t.Fatalf("unexpected pauses: %+v", pauses)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `RPCAddress = ":8899"
ListenAddress = ":6001"
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "ListenAddress") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestLoadAppliesEnvironmentOverrides(t *testing.T) {
	t.Setenv(EnvEnvironment, "production")
	t.Setenv(EnvRPCSecret, "env-secret")
	t.Setenv(EnvOTelHeaders, "authorization=Bearer abc, x-tenant = flux")
	path := writeConfig(t, `RPCAddress = ":8899"

[RPC]
AuthSecret = "file-secret"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.IsProduction() {
		t.Fatalf("expected production environment, got %q", cfg.Environment)
	}
	if cfg.RPC.AuthSecret != "env-secret" {
		t.Fatalf("expected secret override, got %q", cfg.RPC.AuthSecret)
	}
	if cfg.Telemetry.Headers["authorization"] != "Bearer abc" || cfg.Telemetry.Headers["x-tenant"] != "flux" {
		t.Fatalf("unexpected telemetry headers: %+v", cfg.Telemetry.Headers)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "defaults"},
		{name: "missing rpc address", mutate: func(c *Config) { c.RPCAddress = " " }, want: "RPCAddress"},
		{name: "bad program id", mutate: func(c *Config) { c.ProgramID = "not-base58-0OIl" }, want: "ProgramID"},
		{name: "unknown environment", mutate: func(c *Config) { c.Environment = "moon" }, want: "environment"},
		{name: "rent overflow", mutate: func(c *Config) { c.Rent.LamportsPerByteYear = ^uint64(0) }, want: "rent"},
		{name: "negative rate", mutate: func(c *Config) { c.RPC.RateLimitPerMinute = -1 }, want: "rate limits"},
		{name: "rate without burst", mutate: func(c *Config) { c.RPC.RateLimitBurst = 0 }, want: "RateLimitBurst"},
		{name: "zero request cap", mutate: func(c *Config) { c.RPC.MaxRequestBytes = 0 }, want: "MaxRequestBytes"},
		{name: "production faucet without secret", mutate: func(c *Config) { c.Environment = "prod" }, want: "faucet"},
		{name: "production faucet with secret", mutate: func(c *Config) {
			c.Environment = "prod"
			c.RPC.AuthSecret = "s3cret"
		}},
		{name: "indexer without dsn", mutate: func(c *Config) { c.Indexer.Enabled = true }, want: "DSN"},
		{name: "sample ratio", mutate: func(c *Config) { c.Telemetry.SampleRatio = 1.5 }, want: "SampleRatio"},
		{name: "exporter without endpoint", mutate: func(c *Config) { c.Telemetry.Metrics = true }, want: "endpoint"},
		{name: "log level", mutate: func(c *Config) { c.Log.Level = "loud" }, want: "log level"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			if tc.mutate != nil {
				tc.mutate(cfg)
			}
			err := ValidateConfig(cfg)
			if tc.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}
