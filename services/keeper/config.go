package keeper

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"phusd/crypto"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for the claim keeper.
type Config struct {
	// Node is the base URL of the phusdd RPC to drive.
	Node string `yaml:"node"`
	// Claimer is the bech32 address credited with settled claims.
	Claimer string `yaml:"claimer"`
	// Threshold is the minimum projected claim (wei) worth settling.
	Threshold    string   `yaml:"threshold"`
	PollInterval Duration `yaml:"poll_interval"`
	DatabasePath string   `yaml:"database"`
	Log          Log      `yaml:"log"`
}

// Log configures the keeper's rotating log file. An empty path logs to
// stdout only.
type Log struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// LoadConfig reads and validates a keeper configuration file.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keeper: read config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("keeper: parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the keeper cannot run with.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("keeper: nil config")
	}
	if _, err := crypto.DecodeAddress(strings.TrimSpace(c.Claimer)); err != nil {
		return fmt.Errorf("keeper: claimer address: %w", err)
	}
	if _, err := c.ThresholdAmount(); err != nil {
		return err
	}
	if c.PollInterval.Duration <= 0 {
		return fmt.Errorf("keeper: poll_interval must be positive")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("keeper: database path required")
	}
	return nil
}

// ClaimerAddress returns the parsed claimer address.
func (c *Config) ClaimerAddress() ([20]byte, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(c.Claimer))
	if err != nil {
		return [20]byte{}, err
	}
	return addr.Array(), nil
}

// ThresholdAmount returns the parsed settlement threshold.
func (c *Config) ThresholdAmount() (*big.Int, error) {
	trimmed := strings.TrimSpace(c.Threshold)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("keeper: threshold must be a non-negative decimal integer, got %q", c.Threshold)
	}
	return value, nil
}
