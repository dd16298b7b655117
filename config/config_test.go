package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaultConfigAndKeystore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != ":8080" {
		t.Fatalf("default rpc address: %s", cfg.RPCAddress)
	}
	if cfg.NetworkName != "phusd-local" {
		t.Fatalf("default network: %s", cfg.NetworkName)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if _, err := os.Stat(cfg.OperatorKeystorePath); err != nil {
		t.Fatalf("keystore not written: %v", err)
	}

	// A second load round-trips the persisted file.
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.OperatorKeystorePath != cfg.OperatorKeystorePath {
		t.Fatalf("keystore path drifted: %s vs %s", again.OperatorKeystorePath, cfg.OperatorKeystorePath)
	}
}

func TestLoadRejectsInvalidTokenConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `
RPCAddress = ":8080"
DataDir = "./data"
NetworkName = "phusd-test"

[[Tokens]]
Symbol = "USDC"
Decimals = 19
ExchangeRate = "1000000000000000000"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected 19-decimal token to be rejected")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Emissions: Emissions{PhusdPerSecond: "5", StablePerSecond: "0"},
			Tokens: []Token{
				{Symbol: "sUSDS", Decimals: 18, ExchangeRate: "1000000000000000000"},
			},
		}
	}

	if err := Validate(base()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cfg := base()
	cfg.Emissions.PhusdPerSecond = "-1"
	if err := Validate(cfg); err == nil {
		t.Fatal("negative emission accepted")
	}

	cfg = base()
	cfg.Tokens = append(cfg.Tokens, Token{Symbol: "susds", Decimals: 18, ExchangeRate: "1"})
	if err := Validate(cfg); err == nil {
		t.Fatal("duplicate symbol accepted")
	}

	cfg = base()
	cfg.Tokens[0].ExchangeRate = "0"
	if err := Validate(cfg); err == nil {
		t.Fatal("zero exchange rate accepted")
	}

	cfg = base()
	cfg.Strategies = []Strategy{{Address: "not-bech32", Token: "sUSDS", SavingsRatePerSecond: "0"}}
	if err := Validate(cfg); err == nil {
		t.Fatal("malformed strategy address accepted")
	}

	cfg = base()
	cfg.Strategies = []Strategy{{Address: "", Token: "DAI", SavingsRatePerSecond: "0"}}
	if err := Validate(cfg); err == nil {
		t.Fatal("strategy with unknown token accepted")
	}
}
