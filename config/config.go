package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"phusd/crypto"
)

// Config is the node configuration loaded from TOML.
type Config struct {
	RPCAddress           string `toml:"RPCAddress"`
	DataDir              string `toml:"DataDir"`
	NetworkName          string `toml:"NetworkName"`
	OperatorKeystorePath string `toml:"OperatorKeystorePath"`
	RPCAuthToken         string `toml:"RPCAuthToken,omitempty"`

	RateLimit  RateLimit  `toml:"RateLimit"`
	Telemetry  Telemetry  `toml:"Telemetry"`
	Pauses     Pauses     `toml:"Pauses"`
	Emissions  Emissions  `toml:"Emissions"`
	Tokens     []Token    `toml:"Tokens"`
	Strategies []Strategy `toml:"Strategies"`
	Accounts   []Account  `toml:"Accounts"`
}

// RateLimit bounds public RPC throughput per client.
type RateLimit struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
}

// Telemetry configures the optional OTLP exporters.
type Telemetry struct {
	Endpoint    string `toml:"Endpoint"`
	Environment string `toml:"Environment"`
	Insecure    bool   `toml:"Insecure"`
	Metrics     bool   `toml:"Metrics"`
	Traces      bool   `toml:"Traces"`
}

// Pauses holds the boot-time pause switches per module.
type Pauses struct {
	Yield   bool `toml:"Yield"`
	Phlimbo bool `toml:"Phlimbo"`
}

// Emissions carries the initial per-second reward rates as decimal strings.
type Emissions struct {
	PhusdPerSecond  string `toml:"PhusdPerSecond"`
	StablePerSecond string `toml:"StablePerSecond"`
}

// Token declares one stable token accepted by the accumulator.
type Token struct {
	Symbol       string `toml:"Symbol"`
	Decimals     uint8  `toml:"Decimals"`
	ExchangeRate string `toml:"ExchangeRate"`
}

// Strategy declares one yield strategy to register at boot. The savings rate
// drives the built-in savings source backing the strategy.
type Strategy struct {
	Address              string `toml:"Address"`
	Token                string `toml:"Token"`
	SavingsRatePerSecond string `toml:"SavingsRatePerSecond"`
}

// Account allocates balances to one address at genesis. Amounts are decimal
// strings in base units; the allocation is applied once on a fresh data dir.
type Account struct {
	Address       string         `toml:"Address"`
	BalancePHAME  string         `toml:"BalancePHAME"`
	BalancePHUSD  string         `toml:"BalancePHUSD"`
	BalanceUSDS   string         `toml:"BalanceUSDS"`
	TokenBalances []TokenBalance `toml:"TokenBalances"`
}

// TokenBalance allocates a stable-token book balance at genesis.
type TokenBalance struct {
	Token  string `toml:"Token"`
	Amount string `toml:"Amount"`
}

// Load reads the configuration at path, creating a default file (and operator
// keystore) on first boot.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "phusd-local"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./phusd-data"
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.OperatorKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.OperatorKeystorePath != keystorePath {
		cfg.OperatorKeystorePath = keystorePath
		return persist(configPath, cfg)
	}
	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}

	cfg := &Config{
		RPCAddress:  ":8080",
		DataDir:     "./phusd-data",
		NetworkName: "phusd-local",
		RateLimit: RateLimit{
			RequestsPerMinute: 600,
			Burst:             20,
		},
		Emissions: Emissions{
			PhusdPerSecond:  "0",
			StablePerSecond: "0",
		},
	}
	cfg.OperatorKeystorePath = keystorePath

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

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "operator.keystore")
}
