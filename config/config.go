package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"fluxpay/core/types"
	"fluxpay/crypto"
	"fluxpay/observability/otel"
)

const (
	// DefaultProgramID is the allowance program address used by local
	// networks and the bundled tooling.
	DefaultProgramID = "12Gtmtu1JGNtnL1XSRi8qqXLdDWyD9d6oshGLANo6PAn"

	DefaultRPCAddress  = "127.0.0.1:8899"
	DefaultDataDir     = "./flux-data"
	DefaultNetworkName = "fluxpay-local"

	defaultMaxRequestBytes    = 1 << 20
	defaultRateLimitPerMinute = 120
	defaultRateLimitBurst     = 20
	defaultRPCTimeoutSeconds  = 15
	defaultFaucetMaxAmount    = 10_000_000_000
)

// Environment variables overriding file values.
const (
	EnvEnvironment = "FLUX_ENV"
	EnvRPCSecret   = "FLUX_RPC_SECRET"
	EnvOTelHeaders = "FLUX_OTEL_HEADERS"
)

type Config struct {
	RPCAddress  string `toml:"RPCAddress"`
	DataDir     string `toml:"DataDir"`
	NetworkName string `toml:"NetworkName"`
	ProgramID   string `toml:"ProgramID"`
	GenesisFile string `toml:"GenesisFile"`
	Environment string `toml:"Environment"`

	Rent      types.Rent `toml:"Rent"`
	RPC       RPC        `toml:"RPC"`
	Faucet    Faucet     `toml:"Faucet"`
	Indexer   Indexer    `toml:"Indexer"`
	Telemetry Telemetry  `toml:"Telemetry"`
	Log       Log        `toml:"Log"`
	Pauses    Pauses     `toml:"Pauses"`
}

// Load loads the configuration from the given path. A missing file is
// created with defaults. Environment overrides are applied last and the result
// is validated.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg, err := createDefault(path)
		if err != nil {
			return nil, err
		}
		cfg.applyEnv()
		return cfg, ValidateConfig(cfg)
	} else if err != nil {
		return nil, err
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration written for a fresh node.
func Default() *Config {
	cfg := &Config{
		RPCAddress:  DefaultRPCAddress,
		DataDir:     DefaultDataDir,
		NetworkName: DefaultNetworkName,
		ProgramID:   DefaultProgramID,
		Environment: "dev",
		Rent:        types.DefaultRent(),
		RPC: RPC{
			RateLimitPerMinute: defaultRateLimitPerMinute,
			RateLimitBurst:     defaultRateLimitBurst,
			MaxRequestBytes:    defaultMaxRequestBytes,
			AllowedOrigins:     []string{},
			ReadTimeout:        defaultRPCTimeoutSeconds,
			WriteTimeout:       defaultRPCTimeoutSeconds,
		},
		Faucet: Faucet{Enabled: true, MaxAmount: defaultFaucetMaxAmount},
		Telemetry: Telemetry{
			SampleRatio: 1,
			Headers:     map[string]string{},
		},
		Log: Log{Level: "info"},
	}
	return cfg
}

// ProgramAddress parses the configured allowance program ID.
func (c *Config) ProgramAddress() (crypto.Address, error) {
	return crypto.ParseAddress(c.ProgramID)
}

// IsProduction reports whether the node runs in a production environment.
func (c *Config) IsProduction() bool {
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "prod", "production":
		return true
	default:
		return false
	}
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.NetworkName) == "" {
		c.NetworkName = DefaultNetworkName
	}
	if strings.TrimSpace(c.ProgramID) == "" {
		c.ProgramID = DefaultProgramID
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = DefaultDataDir
	}
	if c.Rent == (types.Rent{}) {
		c.Rent = types.DefaultRent()
	}
	if c.RPC.MaxRequestBytes == 0 {
		c.RPC.MaxRequestBytes = defaultMaxRequestBytes
	}
	if c.RPC.AllowedOrigins == nil {
		c.RPC.AllowedOrigins = []string{}
	}
	if c.Telemetry.Headers == nil {
		c.Telemetry.Headers = map[string]string{}
	}
}

func (c *Config) applyEnv() {
	if env := strings.TrimSpace(os.Getenv(EnvEnvironment)); env != "" {
		c.Environment = env
	}
	if secret := strings.TrimSpace(os.Getenv(EnvRPCSecret)); secret != "" {
		c.RPC.AuthSecret = secret
	}
	if raw := os.Getenv(EnvOTelHeaders); raw != "" {
		if c.Telemetry.Headers == nil {
			c.Telemetry.Headers = map[string]string{}
		}
		for k, v := range otel.ParseHeaders(raw) {
			c.Telemetry.Headers[k] = v
		}
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
