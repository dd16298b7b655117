package phlimbo

import (
	"math/big"
	"time"

	"phusd/core/events"
	"phusd/core/types"
	nativecommon "phusd/native/common"
)

var shareScale = big.NewInt(1_000_000_000_000_000_000)

// LedgerState is the persistence surface the staking engine writes through.
type LedgerState interface {
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
	GetStakeRecord(addr [20]byte) (*StakeRecord, error)
	PutStakeRecord(record *StakeRecord) error
	GetRewardPool() (*RewardPool, error)
	PutRewardPool(pool *RewardPool) error
	StakeAllowance(owner [20]byte) (*big.Int, error)
	SetStakeAllowance(owner [20]byte, amount *big.Int) error
}

// Engine is the staking ledger: it accepts PHAME stake, accrues two reward
// streams per second proportional to stake share and settles claims for both
// streams at once.
type Engine struct {
	state    LedgerState
	emitter  events.Emitter
	pauses   nativecommon.PauseView
	pauseCtl nativecommon.PauseControl
	guard    nativecommon.ReentrancyGuard

	owner [20]byte
	// moduleAddress custodies all staked PHAME.
	moduleAddress [20]byte
	now           func() time.Time
}

// NewEngine constructs the scheduler with the module custody address.
func NewEngine(owner, moduleAddress [20]byte) *Engine {
	return &Engine{owner: owner, moduleAddress: moduleAddress, now: time.Now}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state LedgerState) { e.state = state }

// SetEmitter wires the event sink.
func (e *Engine) SetEmitter(emitter events.Emitter) { e.emitter = emitter }

// SetPauses wires the module pause switches. When the view also carries
// controls, the runtime Pause and Unpause operations become available.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	e.pauses = p
	e.pauseCtl, _ = p.(nativecommon.PauseControl)
}

// Pause halts every mutating staking operation until Unpause. Owner-gated.
func (e *Engine) Pause(caller [20]byte) error {
	if caller != e.owner {
		return ErrUnauthorized
	}
	if e.pauseCtl == nil {
		return ErrPausesNotSet
	}
	if e.pauseCtl.IsPaused(ModuleName) {
		return ErrAlreadyPaused
	}
	e.pauseCtl.SetPaused(ModuleName, true)
	e.emit(events.PhlimboModulePauseToggled{Paused: true})
	return nil
}

// Unpause reopens the staking ledger. It works while the module is paused.
func (e *Engine) Unpause(caller [20]byte) error {
	if caller != e.owner {
		return ErrUnauthorized
	}
	if e.pauseCtl == nil {
		return ErrPausesNotSet
	}
	if !e.pauseCtl.IsPaused(ModuleName) {
		return ErrNotPaused
	}
	e.pauseCtl.SetPaused(ModuleName, false)
	e.emit(events.PhlimboModulePauseToggled{Paused: false})
	return nil
}

// SetClock overrides the time source for deterministic testing.
func (e *Engine) SetClock(now func() time.Time) {
	if e == nil || now == nil {
		return
	}
	e.now = now
}

// ModuleAddress returns the stake custody address.
func (e *Engine) ModuleAddress() [20]byte { return e.moduleAddress }

func (e *Engine) emit(evt events.Event) {
	if e.emitter != nil {
		e.emitter.Emit(evt)
	}
}

// advance applies the elapsed-time update rule to the pool in place. Time
// spent with zero total stake mints nothing: the accumulators hold still, so
// a later first staker cannot capture the dead window retroactively.
func advance(pool *RewardPool, nowTs uint64) {
	pool.EnsureDefaults()
	if nowTs <= pool.LastUpdateTs {
		return
	}
	elapsed := nowTs - pool.LastUpdateTs
	pool.LastUpdateTs = nowTs
	if pool.TotalStaked.Sign() <= 0 {
		return
	}
	elapsedBig := new(big.Int).SetUint64(elapsed)
	for _, stream := range []struct {
		rate *big.Int
		acc  *big.Int
	}{
		{pool.PhusdPerSecond, pool.AccPhusdPerShare},
		{pool.StablePerSecond, pool.AccStablePerShare},
	} {
		if stream.rate.Sign() <= 0 {
			continue
		}
		increment := new(big.Int).Mul(elapsedBig, stream.rate)
		increment.Mul(increment, shareScale)
		increment.Quo(increment, pool.TotalStaked)
		stream.acc.Add(stream.acc, increment)
	}
}

// pendingFor nets the stream accumulator against the staker's reward debt.
// Rounding truncates toward zero, so the sum of payouts never exceeds the
// integrated emission.
func pendingFor(staked, acc, debt *big.Int) *big.Int {
	if staked == nil || staked.Sign() <= 0 {
		return big.NewInt(0)
	}
	accrued := new(big.Int).Mul(staked, acc)
	accrued.Quo(accrued, shareScale)
	accrued.Sub(accrued, debt)
	if accrued.Sign() < 0 {
		return big.NewInt(0)
	}
	return accrued
}

func resetDebts(record *StakeRecord, pool *RewardPool) {
	debt := new(big.Int).Mul(record.StakedAmount, pool.AccPhusdPerShare)
	record.RewardDebtPhusd = debt.Quo(debt, shareScale)
	debt = new(big.Int).Mul(record.StakedAmount, pool.AccStablePerShare)
	record.RewardDebtStable = debt.Quo(debt, shareScale)
}

func (e *Engine) loadPool() (*RewardPool, error) {
	pool, err := e.state.GetRewardPool()
	if err != nil {
		return nil, err
	}
	if pool == nil {
		pool = &RewardPool{LastUpdateTs: uint64(e.now().UTC().Unix())}
	}
	pool.EnsureDefaults()
	return pool, nil
}

func (e *Engine) loadRecord(addr [20]byte) (*StakeRecord, error) {
	record, err := e.state.GetStakeRecord(addr)
	if err != nil {
		return nil, err
	}
	if record == nil {
		record = &StakeRecord{Address: addr}
	}
	record.EnsureDefaults()
	return record, nil
}

func (e *Engine) loadAccount(addr [20]byte) (*types.Account, error) {
	account, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if account == nil {
		account = &types.Account{}
	}
	account.EnsureDefaults()
	return account, nil
}

// payPending mints both pending streams to the staker's account and returns
// what was paid. Callers are responsible for resetting reward debts after.
func (e *Engine) payPending(record *StakeRecord, pool *RewardPool, account *types.Account) *PendingRewards {
	paid := &PendingRewards{
		Phusd:  pendingFor(record.StakedAmount, pool.AccPhusdPerShare, record.RewardDebtPhusd),
		Stable: pendingFor(record.StakedAmount, pool.AccStablePerShare, record.RewardDebtStable),
	}
	if paid.Phusd.Sign() > 0 {
		account.BalancePHUSD = new(big.Int).Add(account.BalancePHUSD, paid.Phusd)
	}
	if paid.Stable.Sign() > 0 {
		account.BalanceUSDS = new(big.Int).Add(account.BalanceUSDS, paid.Stable)
	}
	return paid
}

// Stake moves amount of PHAME from the staker into module custody. Any
// reward pending at that moment is paid out first; the position then accrues
// from the post-update accumulators.
func (e *Engine) Stake(addr [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Exit()
	if err := nativecommon.Guard(e.pauses, ModuleName); err != nil {
		return err
	}
	if addr == ([20]byte{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	allowance, err := e.state.StakeAllowance(addr)
	if err != nil {
		return err
	}
	if allowance == nil || allowance.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}

	account, err := e.loadAccount(addr)
	if err != nil {
		return err
	}
	if account.BalancePHAME.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return err
	}

	pool, err := e.loadPool()
	if err != nil {
		return err
	}
	advance(pool, uint64(e.now().UTC().Unix()))

	record, err := e.loadRecord(addr)
	if err != nil {
		return err
	}
	paid := e.payPending(record, pool, account)

	account.BalancePHAME = new(big.Int).Sub(account.BalancePHAME, amount)
	moduleAcc.BalancePHAME = new(big.Int).Add(moduleAcc.BalancePHAME, amount)
	record.StakedAmount = new(big.Int).Add(record.StakedAmount, amount)
	pool.TotalStaked = new(big.Int).Add(pool.TotalStaked, amount)
	resetDebts(record, pool)

	if err := e.state.SetStakeAllowance(addr, new(big.Int).Sub(allowance, amount)); err != nil {
		return err
	}
	if err := e.state.PutAccount(addr, account); err != nil {
		return err
	}
	if err := e.state.PutAccount(e.moduleAddress, moduleAcc); err != nil {
		return err
	}
	if err := e.state.PutStakeRecord(record); err != nil {
		return err
	}
	if err := e.state.PutRewardPool(pool); err != nil {
		return err
	}

	if paid.Phusd.Sign() > 0 || paid.Stable.Sign() > 0 {
		e.emit(events.PhlimboRewardsClaimed{Account: addr, PaidPHUSD: paid.Phusd, PaidStable: paid.Stable})
	}
	e.emit(events.PhlimboStaked{Account: addr, Amount: new(big.Int).Set(amount), NewStaked: new(big.Int).Set(record.StakedAmount)})
	return nil
}

// Unstake returns amount of PHAME to the staker, paying pending rewards on
// the way out. Requests above the recorded stake are rejected untouched.
func (e *Engine) Unstake(addr [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Exit()
	if err := nativecommon.Guard(e.pauses, ModuleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	record, err := e.loadRecord(addr)
	if err != nil {
		return err
	}
	if record.StakedAmount.Cmp(amount) < 0 {
		return ErrInsufficientStake
	}

	account, err := e.loadAccount(addr)
	if err != nil {
		return err
	}
	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return err
	}
	if moduleAcc.BalancePHAME.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}

	pool, err := e.loadPool()
	if err != nil {
		return err
	}
	advance(pool, uint64(e.now().UTC().Unix()))
	paid := e.payPending(record, pool, account)

	record.StakedAmount = new(big.Int).Sub(record.StakedAmount, amount)
	pool.TotalStaked = new(big.Int).Sub(pool.TotalStaked, amount)
	moduleAcc.BalancePHAME = new(big.Int).Sub(moduleAcc.BalancePHAME, amount)
	account.BalancePHAME = new(big.Int).Add(account.BalancePHAME, amount)
	resetDebts(record, pool)

	if err := e.state.PutAccount(addr, account); err != nil {
		return err
	}
	if err := e.state.PutAccount(e.moduleAddress, moduleAcc); err != nil {
		return err
	}
	if err := e.state.PutStakeRecord(record); err != nil {
		return err
	}
	if err := e.state.PutRewardPool(pool); err != nil {
		return err
	}

	if paid.Phusd.Sign() > 0 || paid.Stable.Sign() > 0 {
		e.emit(events.PhlimboRewardsClaimed{Account: addr, PaidPHUSD: paid.Phusd, PaidStable: paid.Stable})
	}
	e.emit(events.PhlimboUnstaked{Account: addr, Amount: new(big.Int).Set(amount), NewStaked: new(big.Int).Set(record.StakedAmount)})
	return nil
}

// Claim pays out both pending streams. A claim with nothing pending on
// either stream is rejected rather than settling as a no-op.
func (e *Engine) Claim(addr [20]byte) (*PendingRewards, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := e.guard.Enter(); err != nil {
		return nil, err
	}
	defer e.guard.Exit()
	if err := nativecommon.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}

	record, err := e.loadRecord(addr)
	if err != nil {
		return nil, err
	}
	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	advance(pool, uint64(e.now().UTC().Unix()))

	account, err := e.loadAccount(addr)
	if err != nil {
		return nil, err
	}
	paid := e.payPending(record, pool, account)
	if paid.Phusd.Sign() == 0 && paid.Stable.Sign() == 0 {
		return nil, ErrNothingPending
	}
	resetDebts(record, pool)

	if err := e.state.PutAccount(addr, account); err != nil {
		return nil, err
	}
	if err := e.state.PutStakeRecord(record); err != nil {
		return nil, err
	}
	if err := e.state.PutRewardPool(pool); err != nil {
		return nil, err
	}

	e.emit(events.PhlimboRewardsClaimed{Account: addr, PaidPHUSD: paid.Phusd, PaidStable: paid.Stable})
	return paid, nil
}

// Approve grants the staking module an allowance on the owner's PHAME, in
// the manner of an ERC20 approval. Stake consumes the allowance.
func (e *Engine) Approve(owner [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, ModuleName); err != nil {
		return err
	}
	if owner == ([20]byte{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if err := e.state.SetStakeAllowance(owner, new(big.Int).Set(amount)); err != nil {
		return err
	}
	e.emit(events.PhlimboApproved{Owner: owner, Allowance: new(big.Int).Set(amount)})
	return nil
}

// StakeAllowance reads the remaining allowance toward the staking module.
func (e *Engine) StakeAllowance(owner [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	allowance, err := e.state.StakeAllowance(owner)
	if err != nil {
		return nil, err
	}
	if allowance == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(allowance), nil
}

// StakedAmount reads the staker's recorded position.
func (e *Engine) StakedAmount(addr [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	record, err := e.loadRecord(addr)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(record.StakedAmount), nil
}

// pending virtually advances a copy of the pool so the view reflects the
// caller's own transaction time without writing state.
func (e *Engine) pending(addr [20]byte) (*PendingRewards, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	record, err := e.loadRecord(addr)
	if err != nil {
		return nil, err
	}
	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	projected := pool.Clone()
	advance(projected, uint64(e.now().UTC().Unix()))
	return &PendingRewards{
		Phusd:  pendingFor(record.StakedAmount, projected.AccPhusdPerShare, record.RewardDebtPhusd),
		Stable: pendingFor(record.StakedAmount, projected.AccStablePerShare, record.RewardDebtStable),
	}, nil
}

// PendingPhusd reports the unclaimed phUSD stream for a staker.
func (e *Engine) PendingPhusd(addr [20]byte) (*big.Int, error) {
	pending, err := e.pending(addr)
	if err != nil {
		return nil, err
	}
	return pending.Phusd, nil
}

// PendingStable reports the unclaimed stable stream for a staker.
func (e *Engine) PendingStable(addr [20]byte) (*big.Int, error) {
	pending, err := e.pending(addr)
	if err != nil {
		return nil, err
	}
	return pending.Stable, nil
}

// TotalStaked reports the aggregate PHAME held in custody for all stakers.
func (e *Engine) TotalStaked() (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(pool.TotalStaked), nil
}

// RewardRates reports the current per-second emission for both streams.
func (e *Engine) RewardRates() (phusdPerSecond, stablePerSecond *big.Int, err error) {
	if e == nil || e.state == nil {
		return nil, nil, ErrNilState
	}
	pool, err := e.loadPool()
	if err != nil {
		return nil, nil, err
	}
	return new(big.Int).Set(pool.PhusdPerSecond), new(big.Int).Set(pool.StablePerSecond), nil
}

// SetEmissionRates updates both per-second rates. The pool is advanced first
// so the preceding window accrues at the old rates.
func (e *Engine) SetEmissionRates(caller [20]byte, phusdPerSecond, stablePerSecond *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, ModuleName); err != nil {
		return err
	}
	if caller != e.owner {
		return ErrUnauthorized
	}
	if phusdPerSecond == nil || phusdPerSecond.Sign() < 0 || stablePerSecond == nil || stablePerSecond.Sign() < 0 {
		return ErrInvalidAmount
	}
	pool, err := e.loadPool()
	if err != nil {
		return err
	}
	advance(pool, uint64(e.now().UTC().Unix()))

	oldPhusd := new(big.Int).Set(pool.PhusdPerSecond)
	oldStable := new(big.Int).Set(pool.StablePerSecond)
	pool.PhusdPerSecond = new(big.Int).Set(phusdPerSecond)
	pool.StablePerSecond = new(big.Int).Set(stablePerSecond)
	if err := e.state.PutRewardPool(pool); err != nil {
		return err
	}

	if oldPhusd.Cmp(phusdPerSecond) != 0 {
		e.emit(events.PhlimboEmissionUpdated{Stream: "phusd", Old: oldPhusd, New: new(big.Int).Set(phusdPerSecond)})
	}
	if oldStable.Cmp(stablePerSecond) != 0 {
		e.emit(events.PhlimboEmissionUpdated{Stream: "stable", Old: oldStable, New: new(big.Int).Set(stablePerSecond)})
	}
	return nil
}
