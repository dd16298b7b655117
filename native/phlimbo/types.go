package phlimbo

import "math/big"

// ModuleName keys the pause switch guarding staking mutations.
const ModuleName = "phlimbo"

// StakeRecord is the per-staker ledger entry. The reward debts snapshot
// stakedAmount * accRewardPerShare at the staker's last interaction so
// already-recognised rewards are never paid twice.
type StakeRecord struct {
	Address          [20]byte
	StakedAmount     *big.Int
	RewardDebtPhusd  *big.Int
	RewardDebtStable *big.Int
}

// EnsureDefaults replaces nil fields with zero values.
func (r *StakeRecord) EnsureDefaults() {
	if r == nil {
		return
	}
	if r.StakedAmount == nil {
		r.StakedAmount = big.NewInt(0)
	}
	if r.RewardDebtPhusd == nil {
		r.RewardDebtPhusd = big.NewInt(0)
	}
	if r.RewardDebtStable == nil {
		r.RewardDebtStable = big.NewInt(0)
	}
}

// Clone returns a deep copy of the record.
func (r *StakeRecord) Clone() *StakeRecord {
	if r == nil {
		return nil
	}
	clone := &StakeRecord{Address: r.Address}
	if r.StakedAmount != nil {
		clone.StakedAmount = new(big.Int).Set(r.StakedAmount)
	}
	if r.RewardDebtPhusd != nil {
		clone.RewardDebtPhusd = new(big.Int).Set(r.RewardDebtPhusd)
	}
	if r.RewardDebtStable != nil {
		clone.RewardDebtStable = new(big.Int).Set(r.RewardDebtStable)
	}
	clone.EnsureDefaults()
	return clone
}

// RewardPool holds the global accumulators for both reward streams. The
// accumulators are 1e18-scaled cumulative reward per staked unit and only
// ever increase, and only while TotalStaked is positive.
type RewardPool struct {
	TotalStaked       *big.Int
	AccPhusdPerShare  *big.Int
	AccStablePerShare *big.Int
	PhusdPerSecond    *big.Int
	StablePerSecond   *big.Int
	LastUpdateTs      uint64
}

// EnsureDefaults replaces nil fields with zero values.
func (p *RewardPool) EnsureDefaults() {
	if p == nil {
		return
	}
	if p.TotalStaked == nil {
		p.TotalStaked = big.NewInt(0)
	}
	if p.AccPhusdPerShare == nil {
		p.AccPhusdPerShare = big.NewInt(0)
	}
	if p.AccStablePerShare == nil {
		p.AccStablePerShare = big.NewInt(0)
	}
	if p.PhusdPerSecond == nil {
		p.PhusdPerSecond = big.NewInt(0)
	}
	if p.StablePerSecond == nil {
		p.StablePerSecond = big.NewInt(0)
	}
}

// Clone returns a deep copy of the pool.
func (p *RewardPool) Clone() *RewardPool {
	if p == nil {
		return nil
	}
	clone := &RewardPool{LastUpdateTs: p.LastUpdateTs}
	if p.TotalStaked != nil {
		clone.TotalStaked = new(big.Int).Set(p.TotalStaked)
	}
	if p.AccPhusdPerShare != nil {
		clone.AccPhusdPerShare = new(big.Int).Set(p.AccPhusdPerShare)
	}
	if p.AccStablePerShare != nil {
		clone.AccStablePerShare = new(big.Int).Set(p.AccStablePerShare)
	}
	if p.PhusdPerSecond != nil {
		clone.PhusdPerSecond = new(big.Int).Set(p.PhusdPerSecond)
	}
	if p.StablePerSecond != nil {
		clone.StablePerSecond = new(big.Int).Set(p.StablePerSecond)
	}
	clone.EnsureDefaults()
	return clone
}

// PendingRewards pairs the unclaimed amounts for both streams.
type PendingRewards struct {
	Phusd  *big.Int
	Stable *big.Int
}
