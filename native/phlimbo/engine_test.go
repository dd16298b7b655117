package phlimbo

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"phusd/core/types"
	nativecommon "phusd/native/common"
)

type memLedger struct {
	accounts   map[[20]byte]*types.Account
	records    map[[20]byte]*StakeRecord
	pool       *RewardPool
	allowances map[[20]byte]*big.Int
}

func newMemLedger() *memLedger {
	return &memLedger{
		accounts:   make(map[[20]byte]*types.Account),
		records:    make(map[[20]byte]*StakeRecord),
		allowances: make(map[[20]byte]*big.Int),
	}
}

func (m *memLedger) GetAccount(addr [20]byte) (*types.Account, error) {
	return m.accounts[addr].Clone(), nil
}

func (m *memLedger) PutAccount(addr [20]byte, account *types.Account) error {
	m.accounts[addr] = account.Clone()
	return nil
}

func (m *memLedger) GetStakeRecord(addr [20]byte) (*StakeRecord, error) {
	return m.records[addr].Clone(), nil
}

func (m *memLedger) PutStakeRecord(record *StakeRecord) error {
	m.records[record.Address] = record.Clone()
	return nil
}

func (m *memLedger) GetRewardPool() (*RewardPool, error) { return m.pool.Clone(), nil }

func (m *memLedger) PutRewardPool(pool *RewardPool) error {
	m.pool = pool.Clone()
	return nil
}

func (m *memLedger) StakeAllowance(owner [20]byte) (*big.Int, error) {
	if a, ok := m.allowances[owner]; ok {
		return new(big.Int).Set(a), nil
	}
	return big.NewInt(0), nil
}

func (m *memLedger) SetStakeAllowance(owner [20]byte, amount *big.Int) error {
	m.allowances[owner] = new(big.Int).Set(amount)
	return nil
}

func (m *memLedger) credit(addr [20]byte, amount int64) {
	account := m.accounts[addr]
	if account == nil {
		account = &types.Account{}
		account.EnsureDefaults()
		m.accounts[addr] = account
	}
	account.BalancePHAME.Add(account.BalancePHAME, big.NewInt(amount))
}

type fakeClock struct {
	ts int64
}

func (c *fakeClock) Now() time.Time { return time.Unix(c.ts, 0).UTC() }

func (c *fakeClock) advance(seconds int64) { c.ts += seconds }

func addr(suffix byte) [20]byte {
	var out [20]byte
	out[len(out)-1] = suffix
	return out
}

type engineFixture struct {
	engine *Engine
	ledger *memLedger
	clock  *fakeClock
	owner  [20]byte
	module [20]byte
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	owner := addr(0x01)
	module := addr(0x20)
	ledger := newMemLedger()
	clock := &fakeClock{ts: 1_700_000_000}
	engine := NewEngine(owner, module)
	engine.SetState(ledger)
	engine.SetClock(clock.Now)
	return &engineFixture{engine: engine, ledger: ledger, clock: clock, owner: owner, module: module}
}

// stakeFor funds, approves and stakes in one move.
func (f *engineFixture) stakeFor(t *testing.T, staker [20]byte, amount int64) {
	t.Helper()
	f.ledger.credit(staker, amount)
	if err := f.engine.Approve(staker, big.NewInt(amount)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := f.engine.Stake(staker, big.NewInt(amount)); err != nil {
		t.Fatalf("stake: %v", err)
	}
}

func TestEngineStakeMovesFundsToCustody(t *testing.T) {
	f := newEngineFixture(t)
	staker := addr(0x0A)
	f.ledger.credit(staker, 1_000)

	if err := f.engine.Approve(staker, big.NewInt(400)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := f.engine.Stake(staker, big.NewInt(400)); err != nil {
		t.Fatalf("stake: %v", err)
	}

	staked, err := f.engine.StakedAmount(staker)
	if err != nil {
		t.Fatalf("stakedAmount: %v", err)
	}
	if staked.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("unexpected stake: %s", staked)
	}
	if got := f.ledger.accounts[staker].BalancePHAME; got.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("staker PHAME: got %s want 600", got)
	}
	if got := f.ledger.accounts[f.module].BalancePHAME; got.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("custody PHAME: got %s want 400", got)
	}
	allowance, err := f.engine.StakeAllowance(staker)
	if err != nil {
		t.Fatalf("stakeAllowance: %v", err)
	}
	if allowance.Sign() != 0 {
		t.Fatalf("allowance not consumed: %s", allowance)
	}
}

func TestEngineStakeValidation(t *testing.T) {
	f := newEngineFixture(t)
	staker := addr(0x0A)
	f.ledger.credit(staker, 100)

	if err := f.engine.Stake(staker, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount: %v", err)
	}
	if err := f.engine.Stake([20]byte{}, big.NewInt(10)); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("zero address: %v", err)
	}
	if err := f.engine.Stake(staker, big.NewInt(10)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("no allowance: %v", err)
	}
	if err := f.engine.Approve(staker, big.NewInt(500)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := f.engine.Stake(staker, big.NewInt(500)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("over balance: %v", err)
	}
}

func TestEngineRewardAccrualAndClaim(t *testing.T) {
	f := newEngineFixture(t)
	staker := addr(0x0A)
	if err := f.engine.SetEmissionRates(f.owner, big.NewInt(5), big.NewInt(3)); err != nil {
		t.Fatalf("set rates: %v", err)
	}
	f.stakeFor(t, staker, 100)

	f.clock.advance(10)

	pendingPhusd, err := f.engine.PendingPhusd(staker)
	if err != nil {
		t.Fatalf("pendingPhusd: %v", err)
	}
	if pendingPhusd.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("pending phUSD: got %s want 50", pendingPhusd)
	}
	pendingStable, err := f.engine.PendingStable(staker)
	if err != nil {
		t.Fatalf("pendingStable: %v", err)
	}
	if pendingStable.Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("pending stable: got %s want 30", pendingStable)
	}

	paid, err := f.engine.Claim(staker)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if paid.Phusd.Cmp(big.NewInt(50)) != 0 || paid.Stable.Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("paid %s/%s, want 50/30", paid.Phusd, paid.Stable)
	}
	account := f.ledger.accounts[staker]
	if account.BalancePHUSD.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("phUSD balance: %s", account.BalancePHUSD)
	}
	if account.BalanceUSDS.Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("USDS balance: %s", account.BalanceUSDS)
	}

	// Same-second re-claim has nothing pending.
	if _, err := f.engine.Claim(staker); !errors.Is(err, ErrNothingPending) {
		t.Fatalf("expected ErrNothingPending, got %v", err)
	}
}

func TestEngineDeadWindowForfeited(t *testing.T) {
	f := newEngineFixture(t)
	if err := f.engine.SetEmissionRates(f.owner, big.NewInt(7), big.NewInt(0)); err != nil {
		t.Fatalf("set rates: %v", err)
	}

	// A hundred seconds pass with nothing staked. The first staker must not
	// capture that window.
	f.clock.advance(100)
	staker := addr(0x0A)
	f.stakeFor(t, staker, 50)
	f.clock.advance(10)

	pending, err := f.engine.PendingPhusd(staker)
	if err != nil {
		t.Fatalf("pendingPhusd: %v", err)
	}
	if pending.Cmp(big.NewInt(70)) != 0 {
		t.Fatalf("dead window leaked into pending: got %s want 70", pending)
	}
}

func TestEngineProRataSplit(t *testing.T) {
	f := newEngineFixture(t)
	if err := f.engine.SetEmissionRates(f.owner, big.NewInt(4), big.NewInt(4)); err != nil {
		t.Fatalf("set rates: %v", err)
	}
	large := addr(0x0A)
	small := addr(0x0B)
	f.stakeFor(t, large, 300)
	f.stakeFor(t, small, 100)

	f.clock.advance(10)

	pendingBig, err := f.engine.PendingPhusd(large)
	if err != nil {
		t.Fatalf("pendingPhusd big: %v", err)
	}
	pendingSmall, err := f.engine.PendingPhusd(small)
	if err != nil {
		t.Fatalf("pendingPhusd small: %v", err)
	}
	if pendingBig.Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("big staker pending: got %s want 30", pendingBig)
	}
	if pendingSmall.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("small staker pending: got %s want 10", pendingSmall)
	}
}

func TestEngineUnstake(t *testing.T) {
	f := newEngineFixture(t)
	if err := f.engine.SetEmissionRates(f.owner, big.NewInt(5), big.NewInt(3)); err != nil {
		t.Fatalf("set rates: %v", err)
	}
	staker := addr(0x0A)
	f.stakeFor(t, staker, 100)
	f.clock.advance(10)

	if err := f.engine.Unstake(staker, big.NewInt(101)); !errors.Is(err, ErrInsufficientStake) {
		t.Fatalf("over-unstake: %v", err)
	}

	// A partial unstake pays the pending rewards on the way out.
	if err := f.engine.Unstake(staker, big.NewInt(40)); err != nil {
		t.Fatalf("unstake: %v", err)
	}
	account := f.ledger.accounts[staker]
	if account.BalancePHAME.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("PHAME returned: got %s want 40", account.BalancePHAME)
	}
	if account.BalancePHUSD.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("pending phUSD not paid on unstake: %s", account.BalancePHUSD)
	}
	if account.BalanceUSDS.Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("pending USDS not paid on unstake: %s", account.BalanceUSDS)
	}
	staked, _ := f.engine.StakedAmount(staker)
	if staked.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("remaining stake: got %s want 60", staked)
	}
	if _, err := f.engine.Claim(staker); !errors.Is(err, ErrNothingPending) {
		t.Fatalf("debts not reset by unstake: %v", err)
	}
}

func TestEngineStakePaysPendingImplicitly(t *testing.T) {
	f := newEngineFixture(t)
	if err := f.engine.SetEmissionRates(f.owner, big.NewInt(2), big.NewInt(0)); err != nil {
		t.Fatalf("set rates: %v", err)
	}
	staker := addr(0x0A)
	f.stakeFor(t, staker, 100)
	f.clock.advance(25)

	// Topping up settles the 50 units pending before enlarging the position.
	f.stakeFor(t, staker, 100)
	account := f.ledger.accounts[staker]
	if account.BalancePHUSD.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("top-up did not pay pending: %s", account.BalancePHUSD)
	}
	if _, err := f.engine.Claim(staker); !errors.Is(err, ErrNothingPending) {
		t.Fatalf("debts not reset by top-up: %v", err)
	}
}

func TestEngineSetEmissionRates(t *testing.T) {
	f := newEngineFixture(t)
	staker := addr(0x0A)

	if err := f.engine.SetEmissionRates(staker, big.NewInt(1), big.NewInt(1)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-owner set rates: %v", err)
	}
	if err := f.engine.SetEmissionRates(f.owner, big.NewInt(-1), big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("negative rate: %v", err)
	}

	if err := f.engine.SetEmissionRates(f.owner, big.NewInt(10), big.NewInt(0)); err != nil {
		t.Fatalf("set rates: %v", err)
	}
	f.stakeFor(t, staker, 100)
	f.clock.advance(10)

	// The window before the change accrues at the old rate.
	if err := f.engine.SetEmissionRates(f.owner, big.NewInt(1), big.NewInt(0)); err != nil {
		t.Fatalf("lower rates: %v", err)
	}
	f.clock.advance(10)

	pending, err := f.engine.PendingPhusd(staker)
	if err != nil {
		t.Fatalf("pendingPhusd: %v", err)
	}
	if pending.Cmp(big.NewInt(110)) != 0 {
		t.Fatalf("rate change not window-bounded: got %s want 110", pending)
	}

	phusdRate, stableRate, err := f.engine.RewardRates()
	if err != nil {
		t.Fatalf("rewardRates: %v", err)
	}
	if phusdRate.Cmp(big.NewInt(1)) != 0 || stableRate.Sign() != 0 {
		t.Fatalf("rates after update: %s/%s", phusdRate, stableRate)
	}
}

func TestEnginePauseBlocksMutations(t *testing.T) {
	f := newEngineFixture(t)
	staker := addr(0x0A)
	f.stakeFor(t, staker, 100)

	f.ledger.credit(staker, 10)
	if err := f.engine.Approve(staker, big.NewInt(110)); err != nil {
		t.Fatalf("approve: %v", err)
	}

	pauses := nativecommon.NewPauses()
	pauses.SetPaused(ModuleName, true)
	f.engine.SetPauses(pauses)

	if err := f.engine.Stake(staker, big.NewInt(10)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("stake while paused: %v", err)
	}
	if err := f.engine.Unstake(staker, big.NewInt(10)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("unstake while paused: %v", err)
	}
	if _, err := f.engine.Claim(staker); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("claim while paused: %v", err)
	}
	if err := f.engine.Approve(staker, big.NewInt(5)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("approve while paused: %v", err)
	}
	if err := f.engine.SetEmissionRates(f.owner, big.NewInt(1), big.NewInt(1)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("set rates while paused: %v", err)
	}

	pauses.SetPaused(ModuleName, false)
	if err := f.engine.Stake(staker, big.NewInt(10)); err != nil {
		t.Fatalf("stake after unpause: %v", err)
	}
}

func TestEngineRuntimePauseAuthority(t *testing.T) {
	f := newEngineFixture(t)

	if err := f.engine.Pause(f.owner); !errors.Is(err, ErrPausesNotSet) {
		t.Fatalf("pause without switches: %v", err)
	}

	pauses := nativecommon.NewPauses()
	f.engine.SetPauses(pauses)

	if err := f.engine.Pause(addr(0x44)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger paused engine: %v", err)
	}
	if err := f.engine.Unpause(f.owner); !errors.Is(err, ErrNotPaused) {
		t.Fatalf("unpause while running: %v", err)
	}
	if err := f.engine.Pause(f.owner); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if !pauses.IsPaused(ModuleName) {
		t.Fatal("switch not flipped by pause")
	}
	if err := f.engine.Pause(f.owner); !errors.Is(err, ErrAlreadyPaused) {
		t.Fatalf("double pause: %v", err)
	}
	if err := f.engine.Unpause(f.owner); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if pauses.IsPaused(ModuleName) {
		t.Fatal("switch not cleared by unpause")
	}
}

// TestEngineEmissionConservation checks that across staggered joins, exits and
// claims the total paid never exceeds the integrated emission.
func TestEngineEmissionConservation(t *testing.T) {
	f := newEngineFixture(t)
	if err := f.engine.SetEmissionRates(f.owner, big.NewInt(7), big.NewInt(0)); err != nil {
		t.Fatalf("set rates: %v", err)
	}
	a := addr(0x0A)
	b := addr(0x0B)

	f.stakeFor(t, a, 333)
	f.clock.advance(13)
	f.stakeFor(t, b, 167)
	f.clock.advance(29)
	if err := f.engine.Unstake(a, big.NewInt(100)); err != nil {
		t.Fatalf("unstake a: %v", err)
	}
	f.clock.advance(17)
	if _, err := f.engine.Claim(a); err != nil {
		t.Fatalf("claim a: %v", err)
	}
	if _, err := f.engine.Claim(b); err != nil {
		t.Fatalf("claim b: %v", err)
	}

	totalPaid := new(big.Int).Add(f.ledger.accounts[a].BalancePHUSD, f.ledger.accounts[b].BalancePHUSD)
	// 59 seconds of emission at 7 per second, all with positive stake.
	budget := big.NewInt(59 * 7)
	if totalPaid.Cmp(budget) > 0 {
		t.Fatalf("payouts %s exceed emission budget %s", totalPaid, budget)
	}
	// Truncation losses stay below one unit per settlement touchpoint.
	slack := new(big.Int).Sub(budget, totalPaid)
	if slack.Cmp(big.NewInt(6)) > 0 {
		t.Fatalf("excessive truncation loss: %s", slack)
	}
}
