package types

import "math/big"

// Account is the ledger-level record for a single address. PHAME is the
// staked governance asset, phUSD the native asset minted on yield claims and
// USDS the canonical stable reward asset. Balances of external strategy
// tokens live in the per-token book, not here.
type Account struct {
	Nonce        uint64   `json:"nonce"`
	BalancePHAME *big.Int `json:"balancePHAME"`
	BalancePHUSD *big.Int `json:"balancePHUSD"`
	BalanceUSDS  *big.Int `json:"balanceUSDS"`
}

// EnsureDefaults replaces nil balance fields with zero values so callers can
// operate on the account without nil checks.
func (a *Account) EnsureDefaults() {
	if a == nil {
		return
	}
	if a.BalancePHAME == nil {
		a.BalancePHAME = big.NewInt(0)
	}
	if a.BalancePHUSD == nil {
		a.BalancePHUSD = big.NewInt(0)
	}
	if a.BalanceUSDS == nil {
		a.BalanceUSDS = big.NewInt(0)
	}
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := &Account{Nonce: a.Nonce}
	if a.BalancePHAME != nil {
		clone.BalancePHAME = new(big.Int).Set(a.BalancePHAME)
	}
	if a.BalancePHUSD != nil {
		clone.BalancePHUSD = new(big.Int).Set(a.BalancePHUSD)
	}
	if a.BalanceUSDS != nil {
		clone.BalanceUSDS = new(big.Int).Set(a.BalanceUSDS)
	}
	clone.EnsureDefaults()
	return clone
}
