package yield

import (
	"bytes"
	"math/big"
	"sort"

	"phusd/core/events"
	nativecommon "phusd/native/common"
)

// AccumulatorState is the persistence surface the accumulator engine writes
// through. Implementations must keep StrategyIDs in a deterministic order.
type AccumulatorState interface {
	DiscountRate() (*big.Int, error)
	SetDiscountRate(rate *big.Int) error
	TokenConfig(token string) (*TokenConfig, bool, error)
	PutTokenConfig(token string, cfg *TokenConfig) error
	StrategyToken(strategy [20]byte) (string, bool, error)
	PutStrategyToken(strategy [20]byte, token string) error
	DeleteStrategy(strategy [20]byte) error
	StrategyIDs() ([][20]byte, error)
}

// Minter credits freshly minted phUSD to an account. The state layer provides
// the canonical implementation; tests substitute recorders.
type Minter interface {
	MintPHUSD(addr [20]byte, amount *big.Int) error
}

// ClaimResult summarises a settled accumulator claim.
type ClaimResult struct {
	Claimer       [20]byte
	Paid          *big.Int
	TotalYield    *big.Int
	StrategyCount int
}

// Accumulator registers yield strategies, aggregates their accrued yield in
// canonical 18-decimal space and settles claims against the discount rate.
type Accumulator struct {
	state    AccumulatorState
	emitter  events.Emitter
	pauses   nativecommon.PauseView
	pauseCtl nativecommon.PauseControl
	guard    nativecommon.ReentrancyGuard

	owner  [20]byte
	pauser [20]byte

	// moduleAddress is the accumulator's own ledger identity: the depositor
	// of record on every registered strategy and the custodian of collected
	// yield.
	moduleAddress [20]byte

	minter      Minter
	book        TokenBook
	phlimbo     [20]byte
	rewardToken string

	strategies map[[20]byte]Strategy
}

// NewAccumulator constructs the engine with owner acting as initial pauser.
func NewAccumulator(owner, moduleAddress [20]byte) *Accumulator {
	return &Accumulator{
		owner:         owner,
		pauser:        owner,
		moduleAddress: moduleAddress,
		strategies:    make(map[[20]byte]Strategy),
	}
}

// SetState wires the engine to the external persistence layer.
func (a *Accumulator) SetState(state AccumulatorState) { a.state = state }

// SetEmitter wires the event sink. A nil emitter silently discards events.
func (a *Accumulator) SetEmitter(emitter events.Emitter) { a.emitter = emitter }

// SetPauses wires the module pause switches. When the view also carries
// controls, the runtime Pause and Unpause operations become available.
func (a *Accumulator) SetPauses(p nativecommon.PauseView) {
	a.pauses = p
	a.pauseCtl, _ = p.(nativecommon.PauseControl)
}

// ModuleAddress returns the accumulator's ledger identity.
func (a *Accumulator) ModuleAddress() [20]byte { return a.moduleAddress }

func (a *Accumulator) emit(evt events.Event) {
	if a.emitter != nil {
		a.emitter.Emit(evt)
	}
}

func (a *Accumulator) requireOwner(caller [20]byte) error {
	if caller != a.owner {
		return ErrUnauthorized
	}
	return nil
}

func (a *Accumulator) requirePauser(caller [20]byte) error {
	if caller != a.owner && caller != a.pauser {
		return ErrUnauthorized
	}
	return nil
}

// TransferOwnership hands the owner role to a new address.
func (a *Accumulator) TransferOwnership(caller, next [20]byte) error {
	if err := a.requireOwner(caller); err != nil {
		return err
	}
	if next == ([20]byte{}) {
		return ErrZeroAddress
	}
	prev := a.owner
	a.owner = next
	a.emit(events.YieldOwnerRotated{Old: prev, New: next})
	return nil
}

// SetPauser swaps the dedicated pauser role.
func (a *Accumulator) SetPauser(caller, pauser [20]byte) error {
	if err := a.requireOwner(caller); err != nil {
		return err
	}
	if pauser == ([20]byte{}) {
		return ErrZeroAddress
	}
	prev := a.pauser
	a.pauser = pauser
	a.emit(events.YieldPauserRotated{Old: prev, New: pauser})
	return nil
}

// SetMinter wires the phUSD mint capability.
func (a *Accumulator) SetMinter(caller [20]byte, minter Minter) error {
	if err := a.requireOwner(caller); err != nil {
		return err
	}
	if minter == nil {
		return ErrMinterNotSet
	}
	a.minter = minter
	a.emit(events.YieldMinterRotated{})
	return nil
}

// SetBook wires the token book used to route funding into strategies.
func (a *Accumulator) SetBook(caller [20]byte, book TokenBook) error {
	if err := a.requireOwner(caller); err != nil {
		return err
	}
	if book == nil {
		return ErrBookNotSet
	}
	a.book = book
	a.emit(events.YieldBookRotated{})
	return nil
}

// Pause flips the module-wide switch: every state-mutating accumulator
// operation rejects until Unpause. Pauser-gated, evented.
func (a *Accumulator) Pause(caller [20]byte) error {
	if err := a.requirePauser(caller); err != nil {
		return err
	}
	if a.pauseCtl == nil {
		return ErrPausesNotSet
	}
	if a.pauseCtl.IsPaused(ModuleName) {
		return ErrAlreadyPaused
	}
	a.pauseCtl.SetPaused(ModuleName, true)
	a.emit(events.YieldModulePauseToggled{Paused: true})
	return nil
}

// Unpause reopens the module. It is the one mutation that works while paused.
func (a *Accumulator) Unpause(caller [20]byte) error {
	if err := a.requirePauser(caller); err != nil {
		return err
	}
	if a.pauseCtl == nil {
		return ErrPausesNotSet
	}
	if !a.pauseCtl.IsPaused(ModuleName) {
		return ErrNotPaused
	}
	a.pauseCtl.SetPaused(ModuleName, false)
	a.emit(events.YieldModulePauseToggled{Paused: false})
	return nil
}

// SetPhlimbo records the staking ledger this accumulator ultimately funds.
func (a *Accumulator) SetPhlimbo(caller, phlimbo [20]byte) error {
	if err := a.requireOwner(caller); err != nil {
		return err
	}
	if phlimbo == ([20]byte{}) {
		return ErrZeroAddress
	}
	prev := a.phlimbo
	a.phlimbo = phlimbo
	a.emit(events.YieldPhlimboRotated{Old: prev, New: phlimbo})
	return nil
}

// Phlimbo returns the wired staking ledger address.
func (a *Accumulator) Phlimbo() [20]byte { return a.phlimbo }

// SetRewardToken records the token symbol claims are denominated in.
func (a *Accumulator) SetRewardToken(caller [20]byte, token string) error {
	if err := a.requireOwner(caller); err != nil {
		return err
	}
	normalized := NormalizeToken(token)
	if normalized == "" {
		return ErrTokenNotConfigured
	}
	prev := a.rewardToken
	a.rewardToken = normalized
	a.emit(events.YieldRewardTokenRotated{Old: prev, New: normalized})
	return nil
}

// RewardToken returns the configured claim denomination.
func (a *Accumulator) RewardToken() string { return a.rewardToken }

// SetDiscountRate updates the claim discount, bounded by MaxDiscountRate.
func (a *Accumulator) SetDiscountRate(caller [20]byte, rate *big.Int) error {
	if a.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(a.pauses, ModuleName); err != nil {
		return err
	}
	if err := a.requireOwner(caller); err != nil {
		return err
	}
	if rate == nil || rate.Sign() < 0 {
		return ErrInvalidRate
	}
	if rate.Cmp(MaxDiscountRate) > 0 {
		return ErrDiscountTooHigh
	}
	prev, err := a.state.DiscountRate()
	if err != nil {
		return err
	}
	if err := a.state.SetDiscountRate(rate); err != nil {
		return err
	}
	a.emit(events.YieldDiscountRateUpdated{Old: prev, New: new(big.Int).Set(rate)})
	return nil
}

// DiscountRate reads the current discount rate.
func (a *Accumulator) DiscountRate() (*big.Int, error) {
	if a.state == nil {
		return nil, ErrNilState
	}
	rate, err := a.state.DiscountRate()
	if err != nil {
		return nil, err
	}
	if rate == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(rate), nil
}

// SetTokenConfig registers or updates the normalization parameters for a
// stable token. Decimals above the canonical precision are rejected before
// any state is touched.
func (a *Accumulator) SetTokenConfig(caller [20]byte, token string, decimals uint8, exchangeRate *big.Int) error {
	if a.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(a.pauses, ModuleName); err != nil {
		return err
	}
	if err := a.requireOwner(caller); err != nil {
		return err
	}
	normalized := NormalizeToken(token)
	if normalized == "" {
		return ErrTokenNotConfigured
	}
	if decimals > CanonicalDecimals {
		return ErrInvalidDecimals
	}
	if exchangeRate == nil || exchangeRate.Sign() <= 0 {
		return ErrInvalidRate
	}
	existing, ok, err := a.state.TokenConfig(normalized)
	if err != nil {
		return err
	}
	cfg := &TokenConfig{Decimals: decimals, NormalizedExchangeRate: new(big.Int).Set(exchangeRate)}
	if ok {
		cfg.Paused = existing.Paused
	}
	if err := a.state.PutTokenConfig(normalized, cfg); err != nil {
		return err
	}
	a.emit(events.YieldTokenConfigured{Token: normalized, Decimals: decimals, Rate: new(big.Int).Set(exchangeRate)})
	return nil
}

// PauseToken excludes the token's strategy from aggregation until unpaused.
func (a *Accumulator) PauseToken(caller [20]byte, token string) error {
	return a.setTokenPaused(caller, token, true)
}

// UnpauseToken re-admits the token to aggregation.
func (a *Accumulator) UnpauseToken(caller [20]byte, token string) error {
	return a.setTokenPaused(caller, token, false)
}

func (a *Accumulator) setTokenPaused(caller [20]byte, token string, paused bool) error {
	if a.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(a.pauses, ModuleName); err != nil {
		return err
	}
	if err := a.requirePauser(caller); err != nil {
		return err
	}
	normalized := NormalizeToken(token)
	cfg, ok, err := a.state.TokenConfig(normalized)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTokenNotConfigured
	}
	if cfg.Paused == paused {
		if paused {
			return ErrTokenPaused
		}
		return ErrTokenNotPaused
	}
	cfg.Paused = paused
	if err := a.state.PutTokenConfig(normalized, cfg); err != nil {
		return err
	}
	a.emit(events.YieldTokenPauseToggled{Token: normalized, Paused: paused})
	return nil
}

// AddYieldStrategy registers a strategy for its underlying token. The token
// must already carry a config; double registration is rejected.
func (a *Accumulator) AddYieldStrategy(caller [20]byte, strategy Strategy) error {
	if a.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(a.pauses, ModuleName); err != nil {
		return err
	}
	if err := a.requireOwner(caller); err != nil {
		return err
	}
	if strategy == nil {
		return ErrStrategyUnknown
	}
	id := strategy.Address()
	if id == ([20]byte{}) {
		return ErrZeroAddress
	}
	token := NormalizeToken(strategy.Token())
	if _, ok, err := a.state.TokenConfig(token); err != nil {
		return err
	} else if !ok {
		return ErrTokenNotConfigured
	}
	if _, ok, err := a.state.StrategyToken(id); err != nil {
		return err
	} else if ok {
		return ErrStrategyExists
	}
	if err := a.state.PutStrategyToken(id, token); err != nil {
		return err
	}
	a.strategies[id] = strategy
	a.emit(events.YieldStrategyAdded{Strategy: id, Token: token})
	return nil
}

// RemoveYieldStrategy deregisters a strategy. Removal is only permitted once
// its yield has been fully collected; outstanding yield must be claimed
// first, it is never forfeited or force-collected here.
func (a *Accumulator) RemoveYieldStrategy(caller, id [20]byte) error {
	if a.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(a.pauses, ModuleName); err != nil {
		return err
	}
	if err := a.requireOwner(caller); err != nil {
		return err
	}
	token, ok, err := a.state.StrategyToken(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrStrategyUnknown
	}
	strategy, live := a.strategies[id]
	if live {
		pending, err := a.strategyYield(strategy, token)
		if err != nil {
			return err
		}
		if pending.Sign() > 0 {
			return ErrOutstandingYield
		}
	}
	if err := a.state.DeleteStrategy(id); err != nil {
		return err
	}
	delete(a.strategies, id)
	a.emit(events.YieldStrategyRemoved{Strategy: id, Token: token})
	return nil
}

// AttachStrategy re-binds a live adapter to a registration restored from
// state, used when rebuilding the engine after a restart.
func (a *Accumulator) AttachStrategy(strategy Strategy) error {
	if a.state == nil {
		return ErrNilState
	}
	if strategy == nil {
		return ErrStrategyUnknown
	}
	id := strategy.Address()
	if _, ok, err := a.state.StrategyToken(id); err != nil {
		return err
	} else if !ok {
		return ErrStrategyUnknown
	}
	a.strategies[id] = strategy
	return nil
}

// FundStrategy routes amount of the strategy's underlying token from the
// funder's book balance into the strategy position. The deposit is recorded
// under the module's own principal, so whatever the source later reports
// above it is claimable yield. This is the production entry point that puts
// capital to work.
func (a *Accumulator) FundStrategy(caller, funder, id [20]byte, amount *big.Int) error {
	if a.state == nil {
		return ErrNilState
	}
	if err := a.guard.Enter(); err != nil {
		return err
	}
	defer a.guard.Exit()
	if err := nativecommon.Guard(a.pauses, ModuleName); err != nil {
		return err
	}
	if err := a.requireOwner(caller); err != nil {
		return err
	}
	if a.book == nil {
		return ErrBookNotSet
	}
	if funder == ([20]byte{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	token, ok, err := a.state.StrategyToken(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrStrategyUnknown
	}
	strategy, live := a.strategies[id]
	if !live {
		return ErrStrategyUnknown
	}
	cfg, ok, err := a.state.TokenConfig(token)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTokenNotConfigured
	}
	if cfg.Paused {
		return ErrTokenPaused
	}
	if err := a.book.TokenTransfer(token, funder, a.moduleAddress, amount); err != nil {
		return err
	}
	if err := strategy.Deposit(a.moduleAddress, token, amount, a.moduleAddress); err != nil {
		if returnErr := a.book.TokenTransfer(token, a.moduleAddress, funder, amount); returnErr != nil {
			return returnErr
		}
		return err
	}
	a.emit(events.YieldStrategyFunded{
		Strategy: id,
		Token:    token,
		Funder:   funder,
		Amount:   new(big.Int).Set(amount),
	})
	return nil
}

// StrategyCount reports the number of live strategy adapters.
func (a *Accumulator) StrategyCount() int { return len(a.strategies) }

func (a *Accumulator) strategyYield(strategy Strategy, token string) (*big.Int, error) {
	total, err := strategy.TotalBalanceOf(token, a.moduleAddress)
	if err != nil {
		return nil, err
	}
	principal, err := strategy.PrincipalOf(token, a.moduleAddress)
	if err != nil {
		return nil, err
	}
	pending := new(big.Int).Sub(total, principal)
	if pending.Sign() < 0 {
		pending = big.NewInt(0)
	}
	return pending, nil
}

// GetYield reports the current unclaimed yield of one registered strategy,
// normalized to canonical value. Paused tokens report zero.
func (a *Accumulator) GetYield(id [20]byte) (*big.Int, error) {
	if a.state == nil {
		return nil, ErrNilState
	}
	token, ok, err := a.state.StrategyToken(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrStrategyUnknown
	}
	strategy, live := a.strategies[id]
	if !live {
		return nil, ErrStrategyUnknown
	}
	cfg, ok, err := a.state.TokenConfig(token)
	if err != nil {
		return nil, err
	}
	if !ok || cfg.Paused {
		return big.NewInt(0), nil
	}
	raw, err := a.strategyYield(strategy, token)
	if err != nil {
		return nil, err
	}
	return cfg.Normalize(raw), nil
}

// GetTotalYield sums the normalized unclaimed yield across all registered,
// unpaused strategies.
func (a *Accumulator) GetTotalYield() (*big.Int, error) {
	set, err := a.collect()
	if err != nil {
		return nil, err
	}
	total := big.NewInt(0)
	for _, entry := range set {
		total.Add(total, entry.Normalized)
	}
	return total, nil
}

// collect is the shared read phase: it inspects every eligible strategy
// without mutating any of them. Iteration order is fixed by sorting the
// registry so projection and settlement walk the same sequence.
func (a *Accumulator) collect() ([]StrategyYield, error) {
	if a.state == nil {
		return nil, ErrNilState
	}
	ids, err := a.state.StrategyIDs()
	if err != nil {
		return nil, err
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
	set := make([]StrategyYield, 0, len(ids))
	for _, id := range ids {
		token, ok, err := a.state.StrategyToken(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		cfg, ok, err := a.state.TokenConfig(token)
		if err != nil {
			return nil, err
		}
		if !ok || cfg.Paused {
			continue
		}
		strategy, live := a.strategies[id]
		if !live {
			return nil, ErrStrategyUnknown
		}
		raw, err := a.strategyYield(strategy, token)
		if err != nil {
			return nil, err
		}
		if raw.Sign() == 0 {
			continue
		}
		set = append(set, StrategyYield{
			Strategy:   id,
			Token:      token,
			Raw:        raw,
			Normalized: cfg.Normalize(raw),
		})
	}
	return set, nil
}

// CalculateClaimAmount projects the phUSD payable to a claimer right now.
// With no intervening state change it equals the amount Claim settles.
func (a *Accumulator) CalculateClaimAmount() (*big.Int, error) {
	if err := nativecommon.Guard(a.pauses, ModuleName); err != nil {
		return nil, err
	}
	set, err := a.collect()
	if err != nil {
		return nil, err
	}
	total := big.NewInt(0)
	for _, entry := range set {
		total.Add(total, entry.Normalized)
	}
	rate, err := a.DiscountRate()
	if err != nil {
		return nil, err
	}
	return ApplyDiscount(total, rate), nil
}

// Claim settles all eligible strategies atomically: phase one reads every
// strategy's accrued yield into a working set, phase two withdraws exactly
// those yield deltas (principal untouched) and mints the discounted sum to
// the caller. A failure during phase one aborts before any mutation; a
// failure during phase two deposits the already-collected yield back into
// its strategies before the error surfaces, so a partial settlement never
// strands funds in module custody.
func (a *Accumulator) Claim(caller [20]byte) (*ClaimResult, error) {
	if err := a.guard.Enter(); err != nil {
		return nil, err
	}
	defer a.guard.Exit()
	if err := nativecommon.Guard(a.pauses, ModuleName); err != nil {
		return nil, err
	}
	if caller == ([20]byte{}) {
		return nil, ErrZeroAddress
	}
	if a.minter == nil {
		return nil, ErrMinterNotSet
	}

	set, err := a.collect()
	if err != nil {
		return nil, err
	}
	total := big.NewInt(0)
	for _, entry := range set {
		total.Add(total, entry.Normalized)
	}
	if total.Sign() == 0 {
		return nil, ErrNoYield
	}
	rate, err := a.DiscountRate()
	if err != nil {
		return nil, err
	}
	paid := ApplyDiscount(total, rate)
	if paid.Sign() == 0 {
		return nil, ErrNoYield
	}

	collected := make([]StrategyYield, 0, len(set))
	var settleErr error
	for _, entry := range set {
		strategy := a.strategies[entry.Strategy]
		if err := strategy.WithdrawFrom(a.moduleAddress, entry.Token, a.moduleAddress, entry.Raw, a.moduleAddress); err != nil {
			settleErr = err
			break
		}
		collected = append(collected, entry)
	}
	if settleErr == nil {
		settleErr = a.minter.MintPHUSD(caller, paid)
	}
	if settleErr != nil {
		a.restore(caller, collected)
		return nil, settleErr
	}

	result := &ClaimResult{
		Claimer:       caller,
		Paid:          paid,
		TotalYield:    total,
		StrategyCount: len(set),
	}
	a.emit(events.YieldClaimSettled{
		Claimer:    caller,
		Paid:       new(big.Int).Set(paid),
		Strategies: uint64(len(set)),
	})
	return result, nil
}

// restore unwinds a partially settled claim: yield already pulled from a
// strategy is deposited back into it, leaving every position exactly as the
// read phase saw it. Principal records were never touched during collection,
// so returning the raw amounts restores the reported yield.
func (a *Accumulator) restore(claimer [20]byte, collected []StrategyYield) {
	restored := uint64(0)
	for _, entry := range collected {
		strategy, live := a.strategies[entry.Strategy]
		if !live {
			continue
		}
		if err := strategy.ReturnYield(a.moduleAddress, entry.Token, entry.Raw, a.moduleAddress); err != nil {
			continue
		}
		restored++
	}
	a.emit(events.YieldClaimReverted{
		Claimer:   claimer,
		Collected: uint64(len(collected)),
		Restored:  restored,
	})
}
