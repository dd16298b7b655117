package yield

import (
	"errors"
	"math/big"
	"testing"

	nativecommon "phusd/native/common"
)

type memAccState struct {
	rate       *big.Int
	tokens     map[string]*TokenConfig
	strategies map[[20]byte]string
}

func newMemAccState() *memAccState {
	return &memAccState{
		rate:       big.NewInt(0),
		tokens:     make(map[string]*TokenConfig),
		strategies: make(map[[20]byte]string),
	}
}

func (m *memAccState) DiscountRate() (*big.Int, error) { return new(big.Int).Set(m.rate), nil }

func (m *memAccState) SetDiscountRate(rate *big.Int) error {
	m.rate = new(big.Int).Set(rate)
	return nil
}

func (m *memAccState) TokenConfig(token string) (*TokenConfig, bool, error) {
	cfg, ok := m.tokens[token]
	return cfg.Clone(), ok, nil
}

func (m *memAccState) PutTokenConfig(token string, cfg *TokenConfig) error {
	m.tokens[token] = cfg.Clone()
	return nil
}

func (m *memAccState) StrategyToken(strategy [20]byte) (string, bool, error) {
	token, ok := m.strategies[strategy]
	return token, ok, nil
}

func (m *memAccState) PutStrategyToken(strategy [20]byte, token string) error {
	m.strategies[strategy] = token
	return nil
}

func (m *memAccState) DeleteStrategy(strategy [20]byte) error {
	delete(m.strategies, strategy)
	return nil
}

func (m *memAccState) StrategyIDs() ([][20]byte, error) {
	ids := make([][20]byte, 0, len(m.strategies))
	for id := range m.strategies {
		ids = append(ids, id)
	}
	return ids, nil
}

type mockMinter struct {
	minted map[[20]byte]*big.Int
	fail   error
}

func newMockMinter() *mockMinter {
	return &mockMinter{minted: make(map[[20]byte]*big.Int)}
}

func (m *mockMinter) MintPHUSD(addr [20]byte, amount *big.Int) error {
	if m.fail != nil {
		return m.fail
	}
	if m.minted[addr] == nil {
		m.minted[addr] = big.NewInt(0)
	}
	m.minted[addr].Add(m.minted[addr], amount)
	return nil
}

type accFixture struct {
	acc    *Accumulator
	state  *memAccState
	minter *mockMinter
	book   *memBook
	owner  [20]byte
	module [20]byte
}

func newAccFixture(t *testing.T) *accFixture {
	t.Helper()
	owner := addr(0x01)
	module := addr(0x20)
	state := newMemAccState()
	minter := newMockMinter()
	acc := NewAccumulator(owner, module)
	acc.SetState(state)
	if err := acc.SetMinter(owner, minter); err != nil {
		t.Fatalf("set minter: %v", err)
	}
	return &accFixture{acc: acc, state: state, minter: minter, book: newMemBook(), owner: owner, module: module}
}

// addFundedStrategy registers a strategy whose position belongs to the
// accumulator module address, seeded with the given principal.
func (f *accFixture) addFundedStrategy(t *testing.T, suffix byte, token string, principal int64) (*SourceStrategy, *mockSource) {
	t.Helper()
	source := newMockSource(addr(suffix+0x80), token, f.book)
	strategy := NewSourceStrategy(addr(suffix), addr(0x01), token, source, f.book)
	if err := strategy.SetClient(f.owner, f.module, true); err != nil {
		t.Fatalf("set client: %v", err)
	}
	if err := f.acc.AddYieldStrategy(f.owner, strategy); err != nil {
		t.Fatalf("add strategy: %v", err)
	}
	if principal > 0 {
		f.book.credit(token, f.module, big.NewInt(principal))
		if err := strategy.Deposit(f.module, token, big.NewInt(principal), f.module); err != nil {
			t.Fatalf("seed deposit: %v", err)
		}
	}
	return strategy, source
}

func configureToken(t *testing.T, f *accFixture, token string, decimals uint8) {
	t.Helper()
	if err := f.acc.SetTokenConfig(f.owner, token, decimals, ScaleOne()); err != nil {
		t.Fatalf("set token config: %v", err)
	}
}

func TestAccumulatorRegistrationRules(t *testing.T) {
	f := newAccFixture(t)
	configureToken(t, f, "sUSDS", 18)
	strategy, _ := f.addFundedStrategy(t, 0x30, "sUSDS", 0)

	if err := f.acc.AddYieldStrategy(f.owner, strategy); !errors.Is(err, ErrStrategyExists) {
		t.Fatalf("duplicate registration: %v", err)
	}
	if err := f.acc.RemoveYieldStrategy(f.owner, addr(0x31)); !errors.Is(err, ErrStrategyUnknown) {
		t.Fatalf("removing unregistered strategy: %v", err)
	}

	unconfigured := NewSourceStrategy(addr(0x32), f.owner, "USDC", newMockSource(addr(0xB2), "USDC", f.book), f.book)
	if err := f.acc.AddYieldStrategy(f.owner, unconfigured); !errors.Is(err, ErrTokenNotConfigured) {
		t.Fatalf("unconfigured token accepted: %v", err)
	}
	if err := f.acc.AddYieldStrategy(addr(0x44), strategy); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-owner registration: %v", err)
	}
}

func TestAccumulatorDiscountRateBounds(t *testing.T) {
	f := newAccFixture(t)

	if err := f.acc.SetDiscountRate(f.owner, new(big.Int).Add(MaxDiscountRate, big.NewInt(1))); !errors.Is(err, ErrDiscountTooHigh) {
		t.Fatalf("rate above maximum accepted: %v", err)
	}
	if err := f.acc.SetDiscountRate(addr(0x44), big.NewInt(1)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-owner set rate: %v", err)
	}
	if err := f.acc.SetDiscountRate(f.owner, new(big.Int).Set(MaxDiscountRate)); err != nil {
		t.Fatalf("maximum rate rejected: %v", err)
	}
	rate, err := f.acc.DiscountRate()
	if err != nil {
		t.Fatalf("discount rate: %v", err)
	}
	if rate.Cmp(MaxDiscountRate) != 0 {
		t.Fatalf("unexpected rate: %s", rate)
	}
}

func TestAccumulatorTokenConfigValidation(t *testing.T) {
	f := newAccFixture(t)

	if err := f.acc.SetTokenConfig(f.owner, "sUSDS", 19, ScaleOne()); !errors.Is(err, ErrInvalidDecimals) {
		t.Fatalf("decimals above 18 accepted: %v", err)
	}
	if err := f.acc.SetTokenConfig(f.owner, "sUSDS", 18, big.NewInt(0)); !errors.Is(err, ErrInvalidRate) {
		t.Fatalf("zero exchange rate accepted: %v", err)
	}
	if err := f.acc.SetTokenConfig(f.owner, "  ", 18, ScaleOne()); !errors.Is(err, ErrTokenNotConfigured) {
		t.Fatalf("blank token accepted: %v", err)
	}
}

func TestAccumulatorClaimScenario(t *testing.T) {
	f := newAccFixture(t)
	configureToken(t, f, "sUSDS", 18)
	configureToken(t, f, "USDC", 18)

	_, sourceA := f.addFundedStrategy(t, 0x30, "sUSDS", 10_000)
	_, sourceB := f.addFundedStrategy(t, 0x31, "USDC", 10_000)
	sourceA.accrue(big.NewInt(100))
	sourceB.accrue(big.NewInt(50))

	// 5% discount on the 1e18 scale.
	if err := f.acc.SetDiscountRate(f.owner, big.NewInt(50_000_000_000_000_000)); err != nil {
		t.Fatalf("set discount: %v", err)
	}

	total, err := f.acc.GetTotalYield()
	if err != nil {
		t.Fatalf("total yield: %v", err)
	}
	if total.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("unexpected total yield: %s", total)
	}

	projected, err := f.acc.CalculateClaimAmount()
	if err != nil {
		t.Fatalf("calculate claim: %v", err)
	}
	if projected.Cmp(big.NewInt(142)) != 0 {
		t.Fatalf("projected claim: got %s want 142", projected)
	}

	claimer := addr(0x66)
	result, err := f.acc.Claim(claimer)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if result.Paid.Cmp(projected) != 0 {
		t.Fatalf("claim paid %s, projection said %s", result.Paid, projected)
	}
	if result.StrategyCount != 2 {
		t.Fatalf("unexpected strategy count: %d", result.StrategyCount)
	}
	if f.minter.minted[claimer] == nil || f.minter.minted[claimer].Cmp(big.NewInt(142)) != 0 {
		t.Fatalf("minted %v, want 142", f.minter.minted[claimer])
	}

	// Collection zeroes both strategies' yield; an immediate re-claim rejects.
	remaining, err := f.acc.GetTotalYield()
	if err != nil {
		t.Fatalf("total yield after claim: %v", err)
	}
	if remaining.Sign() != 0 {
		t.Fatalf("yield not zeroed: %s", remaining)
	}
	if _, err := f.acc.Claim(claimer); !errors.Is(err, ErrNoYield) {
		t.Fatalf("expected ErrNoYield on re-claim, got %v", err)
	}
}

func TestAccumulatorNormalizesDecimals(t *testing.T) {
	f := newAccFixture(t)
	configureToken(t, f, "USDC", 6)
	_, source := f.addFundedStrategy(t, 0x30, "USDC", 5_000_000)
	source.accrue(big.NewInt(1_000_000)) // one whole USDC of yield

	total, err := f.acc.GetTotalYield()
	if err != nil {
		t.Fatalf("total yield: %v", err)
	}
	if total.Cmp(ScaleOne()) != 0 {
		t.Fatalf("six-decimal yield not scaled up: %s", total)
	}
}

func TestAccumulatorPausedTokenExcluded(t *testing.T) {
	f := newAccFixture(t)
	configureToken(t, f, "sUSDS", 18)
	configureToken(t, f, "USDC", 18)
	_, sourceA := f.addFundedStrategy(t, 0x30, "sUSDS", 1_000)
	_, sourceB := f.addFundedStrategy(t, 0x31, "USDC", 1_000)
	sourceA.accrue(big.NewInt(70))
	sourceB.accrue(big.NewInt(30))

	if err := f.acc.PauseToken(f.owner, "sUSDS"); err != nil {
		t.Fatalf("pause token: %v", err)
	}
	if err := f.acc.PauseToken(f.owner, "sUSDS"); !errors.Is(err, ErrTokenPaused) {
		t.Fatalf("double pause: %v", err)
	}

	total, err := f.acc.GetTotalYield()
	if err != nil {
		t.Fatalf("total yield: %v", err)
	}
	if total.Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("paused token still aggregated: %s", total)
	}

	result, err := f.acc.Claim(addr(0x66))
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if result.StrategyCount != 1 {
		t.Fatalf("paused token claimed from: %d strategies", result.StrategyCount)
	}

	// The paused strategy's yield is intact and claimable after unpause.
	if err := f.acc.UnpauseToken(f.owner, "sUSDS"); err != nil {
		t.Fatalf("unpause token: %v", err)
	}
	total, err = f.acc.GetTotalYield()
	if err != nil {
		t.Fatalf("total yield after unpause: %v", err)
	}
	if total.Cmp(big.NewInt(70)) != 0 {
		t.Fatalf("unpause lost yield: %s", total)
	}
}

func TestAccumulatorGlobalPauseBlocksClaims(t *testing.T) {
	f := newAccFixture(t)
	configureToken(t, f, "sUSDS", 18)
	_, source := f.addFundedStrategy(t, 0x30, "sUSDS", 1_000)
	source.accrue(big.NewInt(10))

	pauses := nativecommon.NewPauses()
	pauses.SetPaused(ModuleName, true)
	f.acc.SetPauses(pauses)

	if _, err := f.acc.Claim(addr(0x66)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("claim while paused: %v", err)
	}
	if _, err := f.acc.CalculateClaimAmount(); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("projection while paused: %v", err)
	}

	pauses.SetPaused(ModuleName, false)
	if _, err := f.acc.Claim(addr(0x66)); err != nil {
		t.Fatalf("claim after unpause: %v", err)
	}
}

func TestAccumulatorClaimRestoresYieldOnWithdrawFailure(t *testing.T) {
	f := newAccFixture(t)
	configureToken(t, f, "sUSDS", 18)
	configureToken(t, f, "USDC", 18)
	_, sourceA := f.addFundedStrategy(t, 0x30, "sUSDS", 1_000)
	_, sourceB := f.addFundedStrategy(t, 0x31, "USDC", 1_000)
	sourceA.accrue(big.NewInt(40))
	sourceB.accrue(big.NewInt(60))

	// The first strategy's yield is collected into module custody before the
	// second strategy's withdrawal fails; the claim must put it back.
	sourceB.failOn = "withdraw"
	if _, err := f.acc.Claim(addr(0x66)); err == nil {
		t.Fatal("expected claim to fail on second withdrawal")
	}

	sourceB.failOn = ""
	total, err := f.acc.GetTotalYield()
	if err != nil {
		t.Fatalf("total yield: %v", err)
	}
	if total.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("failed claim stranded yield: got %s want 100", total)
	}
	if len(f.minter.minted) != 0 {
		t.Fatalf("minted despite failed claim: %v", f.minter.minted)
	}

	// Nothing was lost, so a retry pays the full amount.
	result, err := f.acc.Claim(addr(0x66))
	if err != nil {
		t.Fatalf("retry claim: %v", err)
	}
	if result.Paid.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("retry paid %s, want 100", result.Paid)
	}
}

func TestAccumulatorClaimRestoresYieldOnMintFailure(t *testing.T) {
	f := newAccFixture(t)
	configureToken(t, f, "sUSDS", 18)
	configureToken(t, f, "USDC", 18)
	_, sourceA := f.addFundedStrategy(t, 0x30, "sUSDS", 1_000)
	_, sourceB := f.addFundedStrategy(t, 0x31, "USDC", 1_000)
	sourceA.accrue(big.NewInt(40))
	sourceB.accrue(big.NewInt(60))

	f.minter.fail = errors.New("mint rejected")
	if _, err := f.acc.Claim(addr(0x66)); err == nil {
		t.Fatal("expected claim to surface mint failure")
	}
	f.minter.fail = nil

	total, err := f.acc.GetTotalYield()
	if err != nil {
		t.Fatalf("total yield: %v", err)
	}
	if total.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("failed mint stranded yield: got %s want 100", total)
	}
	if len(f.minter.minted) != 0 {
		t.Fatalf("minted despite failed claim: %v", f.minter.minted)
	}
}

func TestAccumulatorClaimAbortsBeforeMutationOnReadFailure(t *testing.T) {
	f := newAccFixture(t)
	configureToken(t, f, "sUSDS", 18)
	configureToken(t, f, "USDC", 18)
	_, sourceA := f.addFundedStrategy(t, 0x30, "sUSDS", 1_000)
	_, sourceB := f.addFundedStrategy(t, 0x31, "USDC", 1_000)
	sourceA.accrue(big.NewInt(40))
	sourceB.accrue(big.NewInt(60))

	sourceB.failOn = "balance"
	if _, err := f.acc.Claim(addr(0x66)); err == nil {
		t.Fatal("expected claim to fail on unreadable strategy")
	}

	// Phase one failed, so neither strategy was collected from.
	sourceB.failOn = ""
	total, err := f.acc.GetTotalYield()
	if err != nil {
		t.Fatalf("total yield: %v", err)
	}
	if total.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("claim mutated state despite aborting: %s", total)
	}
	if len(f.minter.minted) != 0 {
		t.Fatalf("minted despite aborted claim: %v", f.minter.minted)
	}
}

func TestAccumulatorGlobalPauseBlocksMutations(t *testing.T) {
	f := newAccFixture(t)
	configureToken(t, f, "sUSDS", 18)
	strategy, _ := f.addFundedStrategy(t, 0x30, "sUSDS", 0)

	f.acc.SetPauses(nativecommon.NewPauses())
	if err := f.acc.Pause(f.owner); err != nil {
		t.Fatalf("pause: %v", err)
	}

	if err := f.acc.SetDiscountRate(f.owner, big.NewInt(1)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("set discount while paused: %v", err)
	}
	if err := f.acc.SetTokenConfig(f.owner, "USDC", 6, ScaleOne()); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("set token config while paused: %v", err)
	}
	if err := f.acc.PauseToken(f.owner, "sUSDS"); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("pause token while paused: %v", err)
	}
	other := NewSourceStrategy(addr(0x31), f.owner, "sUSDS", newMockSource(addr(0xB1), "sUSDS", f.book), f.book)
	if err := f.acc.AddYieldStrategy(f.owner, other); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("add strategy while paused: %v", err)
	}
	if err := f.acc.RemoveYieldStrategy(f.owner, strategy.Address()); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("remove strategy while paused: %v", err)
	}

	if err := f.acc.Unpause(f.owner); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if err := f.acc.SetDiscountRate(f.owner, big.NewInt(1)); err != nil {
		t.Fatalf("set discount after unpause: %v", err)
	}
}

func TestAccumulatorRuntimePauseAuthority(t *testing.T) {
	f := newAccFixture(t)

	if err := f.acc.Pause(f.owner); !errors.Is(err, ErrPausesNotSet) {
		t.Fatalf("pause without switches: %v", err)
	}

	pauses := nativecommon.NewPauses()
	f.acc.SetPauses(pauses)

	if err := f.acc.Pause(addr(0x44)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger paused module: %v", err)
	}
	if err := f.acc.Unpause(f.owner); !errors.Is(err, ErrNotPaused) {
		t.Fatalf("unpause while running: %v", err)
	}
	if err := f.acc.Pause(f.owner); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if !pauses.IsPaused(ModuleName) {
		t.Fatal("switch not flipped by pause")
	}
	if err := f.acc.Pause(f.owner); !errors.Is(err, ErrAlreadyPaused) {
		t.Fatalf("double pause: %v", err)
	}
	if err := f.acc.Unpause(f.owner); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if pauses.IsPaused(ModuleName) {
		t.Fatal("switch not cleared by unpause")
	}

	// The dedicated pauser can flip the switch without owning the module.
	pauser := addr(0x78)
	if err := f.acc.SetPauser(f.owner, pauser); err != nil {
		t.Fatalf("set pauser: %v", err)
	}
	if err := f.acc.Pause(pauser); err != nil {
		t.Fatalf("pauser cannot pause module: %v", err)
	}
}

func TestAccumulatorFundStrategyRoutesCapital(t *testing.T) {
	f := newAccFixture(t)
	configureToken(t, f, "sUSDS", 18)
	strategy, source := f.addFundedStrategy(t, 0x30, "sUSDS", 0)

	funder := addr(0x70)
	f.book.credit("sUSDS", funder, big.NewInt(900))

	if err := f.acc.FundStrategy(f.owner, funder, strategy.Address(), big.NewInt(500)); !errors.Is(err, ErrBookNotSet) {
		t.Fatalf("funding without a book: %v", err)
	}
	if err := f.acc.SetBook(f.owner, f.book); err != nil {
		t.Fatalf("set book: %v", err)
	}
	if err := f.acc.FundStrategy(addr(0x44), funder, strategy.Address(), big.NewInt(500)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger funded strategy: %v", err)
	}
	if err := f.acc.FundStrategy(f.owner, funder, addr(0x31), big.NewInt(500)); !errors.Is(err, ErrStrategyUnknown) {
		t.Fatalf("funded unregistered strategy: %v", err)
	}

	if err := f.acc.FundStrategy(f.owner, funder, strategy.Address(), big.NewInt(500)); err != nil {
		t.Fatalf("fund strategy: %v", err)
	}

	// The module holds the principal, so accrued yield is claimable.
	principal, err := strategy.PrincipalOf("sUSDS", f.module)
	if err != nil {
		t.Fatalf("principalOf: %v", err)
	}
	if principal.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("module principal: got %s want 500", principal)
	}
	source.accrue(big.NewInt(50))
	total, err := f.acc.GetTotalYield()
	if err != nil {
		t.Fatalf("total yield: %v", err)
	}
	if total.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("yield after funding: got %s want 50", total)
	}
	remaining, _ := f.book.TokenBalance("sUSDS", funder)
	if remaining.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("funder balance: got %s want 400", remaining)
	}
}

func TestAccumulatorRemovalRequiresCollectedYield(t *testing.T) {
	f := newAccFixture(t)
	configureToken(t, f, "sUSDS", 18)
	strategy, source := f.addFundedStrategy(t, 0x30, "sUSDS", 1_000)
	source.accrue(big.NewInt(5))

	if err := f.acc.RemoveYieldStrategy(f.owner, strategy.Address()); !errors.Is(err, ErrOutstandingYield) {
		t.Fatalf("removal with outstanding yield: %v", err)
	}
	if _, err := f.acc.Claim(addr(0x66)); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := f.acc.RemoveYieldStrategy(f.owner, strategy.Address()); err != nil {
		t.Fatalf("removal after collection: %v", err)
	}
	if _, err := f.acc.GetYield(strategy.Address()); !errors.Is(err, ErrStrategyUnknown) {
		t.Fatalf("removed strategy still readable: %v", err)
	}
}

func TestAccumulatorRoleRotation(t *testing.T) {
	f := newAccFixture(t)
	configureToken(t, f, "sUSDS", 18)

	next := addr(0x77)
	if err := f.acc.TransferOwnership(next, next); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger transferred ownership: %v", err)
	}
	if err := f.acc.TransferOwnership(f.owner, next); err != nil {
		t.Fatalf("transfer ownership: %v", err)
	}
	if err := f.acc.SetDiscountRate(f.owner, big.NewInt(1)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("old owner retained privileges: %v", err)
	}
	if err := f.acc.SetDiscountRate(next, big.NewInt(1)); err != nil {
		t.Fatalf("new owner rejected: %v", err)
	}

	pauser := addr(0x78)
	if err := f.acc.SetPauser(next, pauser); err != nil {
		t.Fatalf("set pauser: %v", err)
	}
	if err := f.acc.PauseToken(pauser, "sUSDS"); err != nil {
		t.Fatalf("pauser cannot pause token: %v", err)
	}
	if err := f.acc.SetDiscountRate(pauser, big.NewInt(1)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("pauser escalated to owner: %v", err)
	}
}
