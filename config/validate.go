package config

import (
	"fmt"
	"math/big"
	"strings"

	"phusd/crypto"
)

const maxTokenDecimals = 18

// Validate rejects configurations the node could not boot with: malformed
// amounts, out-of-range decimals, duplicate token symbols and undecodable
// strategy addresses.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil configuration")
	}
	if _, err := parseUintAmount(cfg.Emissions.PhusdPerSecond); err != nil {
		return fmt.Errorf("config: Emissions.PhusdPerSecond: %w", err)
	}
	if _, err := parseUintAmount(cfg.Emissions.StablePerSecond); err != nil {
		return fmt.Errorf("config: Emissions.StablePerSecond: %w", err)
	}
	if cfg.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("config: RateLimit.RequestsPerMinute must not be negative")
	}

	seen := make(map[string]struct{}, len(cfg.Tokens))
	for _, token := range cfg.Tokens {
		symbol := strings.ToUpper(strings.TrimSpace(token.Symbol))
		if symbol == "" {
			return fmt.Errorf("config: token with empty symbol")
		}
		if _, dup := seen[symbol]; dup {
			return fmt.Errorf("config: duplicate token symbol %s", symbol)
		}
		seen[symbol] = struct{}{}
		if token.Decimals > maxTokenDecimals {
			return fmt.Errorf("config: token %s decimals %d exceed %d", symbol, token.Decimals, maxTokenDecimals)
		}
		rate, err := parseUintAmount(token.ExchangeRate)
		if err != nil {
			return fmt.Errorf("config: token %s exchange rate: %w", symbol, err)
		}
		if rate.Sign() <= 0 {
			return fmt.Errorf("config: token %s exchange rate must be positive", symbol)
		}
	}

	for _, strategy := range cfg.Strategies {
		if _, err := crypto.DecodeAddress(strings.TrimSpace(strategy.Address)); err != nil {
			return fmt.Errorf("config: strategy address %q: %w", strategy.Address, err)
		}
		token := strings.ToUpper(strings.TrimSpace(strategy.Token))
		if _, ok := seen[token]; !ok {
			return fmt.Errorf("config: strategy %s references unconfigured token %s", strategy.Address, token)
		}
		if _, err := parseUintAmount(strategy.SavingsRatePerSecond); err != nil {
			return fmt.Errorf("config: strategy %s savings rate: %w", strategy.Address, err)
		}
	}

	for _, account := range cfg.Accounts {
		if _, err := crypto.DecodeAddress(strings.TrimSpace(account.Address)); err != nil {
			return fmt.Errorf("config: account address %q: %w", account.Address, err)
		}
		if _, err := parseUintAmount(account.BalancePHAME); err != nil {
			return fmt.Errorf("config: account %s BalancePHAME: %w", account.Address, err)
		}
		if _, err := parseUintAmount(account.BalancePHUSD); err != nil {
			return fmt.Errorf("config: account %s BalancePHUSD: %w", account.Address, err)
		}
		if _, err := parseUintAmount(account.BalanceUSDS); err != nil {
			return fmt.Errorf("config: account %s BalanceUSDS: %w", account.Address, err)
		}
		for _, balance := range account.TokenBalances {
			token := strings.ToUpper(strings.TrimSpace(balance.Token))
			if _, ok := seen[token]; !ok {
				return fmt.Errorf("config: account %s references unconfigured token %s", account.Address, token)
			}
			if _, err := parseUintAmount(balance.Amount); err != nil {
				return fmt.Errorf("config: account %s token %s amount: %w", account.Address, token, err)
			}
		}
	}
	return nil
}

// parseUintAmount parses a non-negative decimal string; empty means zero.
func parseUintAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("not a non-negative decimal integer: %q", raw)
	}
	return value, nil
}
