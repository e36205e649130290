package config

import nativecommon "fluxpay/native/common"

// RPC tunes the JSON-RPC server.
type RPC struct {
	// AuthSecret is the HS256 secret used to verify faucet tokens. Leave empty
	// to accept unauthenticated airdrops on development networks.
	AuthSecret         string   `toml:"AuthSecret"`
	RateLimitPerMinute int      `toml:"RateLimitPerMinute"`
	RateLimitBurst     int      `toml:"RateLimitBurst"`
	MaxRequestBytes    int64    `toml:"MaxRequestBytes"`
	AllowedOrigins     []string `toml:"AllowedOrigins"`
	ReadTimeout        int      `toml:"ReadTimeout"`
	WriteTimeout       int      `toml:"WriteTimeout"`
}

// Faucet controls the development airdrop endpoint.
type Faucet struct {
	Enabled   bool   `toml:"Enabled"`
	MaxAmount uint64 `toml:"MaxAmount"`
}

// Indexer configures the optional SQL read model.
type Indexer struct {
	Enabled bool   `toml:"Enabled"`
	DSN     string `toml:"DSN"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Endpoint    string            `toml:"Endpoint"`
	Insecure    bool              `toml:"Insecure"`
	Traces      bool              `toml:"Traces"`
	Metrics     bool              `toml:"Metrics"`
	SampleRatio float64           `toml:"SampleRatio"`
	Headers     map[string]string `toml:"Headers"`
}

// Log configures structured logging and optional file rotation.
type Log struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Pauses lists the modules rejected at admission.
type Pauses struct {
	Allowance bool `toml:"Allowance"`
	Transfer  bool `toml:"Transfer"`
}

// View converts the pause flags into the guard consulted by the ledger.
func (p Pauses) View() nativecommon.StaticPauses {
	return nativecommon.StaticPauses{
		nativecommon.ModuleAllowance: p.Allowance,
		nativecommon.ModuleTransfer:  p.Transfer,
	}
}
