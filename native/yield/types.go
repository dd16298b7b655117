package yield

import (
	"math/big"
	"strings"
)

const (
	// ModuleName keys the pause switch guarding accumulator mutations.
	ModuleName = "yield"

	// CanonicalDecimals is the precision every token amount is scaled to
	// before cross-token sums. Tokens with more decimals are rejected at
	// configuration time.
	CanonicalDecimals = 18
)

var (
	// scaleOne is the 1e18 fixed-point unit shared by exchange rates,
	// discount rates and normalized values.
	scaleOne = big.NewInt(1_000_000_000_000_000_000)

	// MaxDiscountRate bounds SetDiscountRate at 20%. A discount above that
	// would let a claimer be shorted more than the protocol advances.
	MaxDiscountRate = big.NewInt(200_000_000_000_000_000)
)

// ScaleOne returns the canonical 1e18 fixed-point unit.
func ScaleOne() *big.Int {
	return new(big.Int).Set(scaleOne)
}

// TokenConfig describes how one registered stable token maps onto the
// canonical accounting scale.
type TokenConfig struct {
	Decimals uint8
	// NormalizedExchangeRate converts one canonical unit of the token into
	// 18-decimal native-asset-equivalent value.
	NormalizedExchangeRate *big.Int
	Paused                 bool
}

// Clone deep-copies the config so state implementations can hand out values
// without aliasing engine internals.
func (c *TokenConfig) Clone() *TokenConfig {
	if c == nil {
		return nil
	}
	clone := &TokenConfig{Decimals: c.Decimals, Paused: c.Paused}
	if c.NormalizedExchangeRate != nil {
		clone.NormalizedExchangeRate = new(big.Int).Set(c.NormalizedExchangeRate)
	}
	return clone
}

// NormalizeToken canonicalises a token symbol for registry and book keys.
func NormalizeToken(token string) string {
	return strings.ToUpper(strings.TrimSpace(token))
}

// Normalize scales a raw token amount into canonical 18-decimal value using
// the token's decimals and exchange rate. Rounding floors, favouring the
// protocol over the claimer; Claim and CalculateClaimAmount share this path
// so the projection always matches the settlement.
func (c *TokenConfig) Normalize(amount *big.Int) *big.Int {
	if c == nil || amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Set(amount)
	if c.Decimals < CanonicalDecimals {
		exp := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(CanonicalDecimals-c.Decimals)), nil)
		scaled.Mul(scaled, exp)
	}
	rate := c.NormalizedExchangeRate
	if rate == nil || rate.Sign() <= 0 {
		return big.NewInt(0)
	}
	scaled.Mul(scaled, rate)
	return scaled.Quo(scaled, scaleOne)
}

// ApplyDiscount returns floor(value * (1 - rate)) with rate expressed on the
// 1e18 scale.
func ApplyDiscount(value, rate *big.Int) *big.Int {
	if value == nil || value.Sign() <= 0 {
		return big.NewInt(0)
	}
	if rate == nil || rate.Sign() <= 0 {
		return new(big.Int).Set(value)
	}
	keep := new(big.Int).Sub(scaleOne, rate)
	if keep.Sign() <= 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(value, keep)
	return out.Quo(out, scaleOne)
}

// StrategyYield is the per-strategy working set assembled during the read
// phase of a claim.
type StrategyYield struct {
	Strategy   [20]byte
	Token      string
	Raw        *big.Int
	Normalized *big.Int
}
