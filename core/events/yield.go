package events

import (
	"math/big"
	"strconv"

	"phusd/core/types"
)

const (
	// TypeYieldStrategyAdded marks a new strategy registration.
	TypeYieldStrategyAdded = "yield.strategyAdded"
	// TypeYieldStrategyRemoved marks a strategy deregistration.
	TypeYieldStrategyRemoved = "yield.strategyRemoved"
	// TypeYieldTokenConfigured captures normalization parameters for a token.
	TypeYieldTokenConfigured = "yield.tokenConfigured"
	// TypeYieldTokenPauseToggled marks a per-token pause flip.
	TypeYieldTokenPauseToggled = "yield.tokenPauseToggled"
	// TypeYieldDiscountRateUpdated records a discount rate change.
	TypeYieldDiscountRateUpdated = "yield.discountRateUpdated"
	// TypeYieldClaimSettled records a settled accumulator claim.
	TypeYieldClaimSettled = "yield.claimSettled"
	// TypeYieldOwnerRotated records an ownership transfer.
	TypeYieldOwnerRotated = "yield.ownerRotated"
	// TypeYieldPauserRotated records a pauser role swap.
	TypeYieldPauserRotated = "yield.pauserRotated"
	// TypeYieldMinterRotated records a minter capability swap.
	TypeYieldMinterRotated = "yield.minterRotated"
	// TypeYieldPhlimboRotated records a staking ledger rewire.
	TypeYieldPhlimboRotated = "yield.phlimboRotated"
	// TypeYieldRewardTokenRotated records a reward denomination change.
	TypeYieldRewardTokenRotated = "yield.rewardTokenRotated"
	// TypeYieldBookRotated records a token book capability swap.
	TypeYieldBookRotated = "yield.bookRotated"
	// TypeYieldModulePauseToggled marks a module-wide pause flip.
	TypeYieldModulePauseToggled = "yield.modulePauseToggled"
	// TypeYieldStrategyFunded records capital routed into a strategy.
	TypeYieldStrategyFunded = "yield.strategyFunded"
	// TypeYieldClaimReverted records an unwound partial claim settlement.
	TypeYieldClaimReverted = "yield.claimReverted"
)

// YieldStrategyAdded captures a new strategy registration.
type YieldStrategyAdded struct {
	Strategy [20]byte
	Token    string
}

// EventType satisfies the Event interface.
func (YieldStrategyAdded) EventType() string { return TypeYieldStrategyAdded }

// Event converts the structured payload into a broadcastable event.
func (e YieldStrategyAdded) Event() *types.Event {
	return &types.Event{Type: TypeYieldStrategyAdded, Attributes: map[string]string{
		"strategy": formatAddress(e.Strategy),
		"token":    normalizeToken(e.Token),
	}}
}

// YieldStrategyRemoved captures a strategy deregistration.
type YieldStrategyRemoved struct {
	Strategy [20]byte
	Token    string
}

// EventType satisfies the Event interface.
func (YieldStrategyRemoved) EventType() string { return TypeYieldStrategyRemoved }

// Event converts the structured payload into a broadcastable event.
func (e YieldStrategyRemoved) Event() *types.Event {
	return &types.Event{Type: TypeYieldStrategyRemoved, Attributes: map[string]string{
		"strategy": formatAddress(e.Strategy),
		"token":    normalizeToken(e.Token),
	}}
}

// YieldTokenConfigured captures the normalization parameters set for a token.
type YieldTokenConfigured struct {
	Token    string
	Decimals uint8
	Rate     *big.Int
}

// EventType satisfies the Event interface.
func (YieldTokenConfigured) EventType() string { return TypeYieldTokenConfigured }

// Event converts the structured payload into a broadcastable event.
func (e YieldTokenConfigured) Event() *types.Event {
	return &types.Event{Type: TypeYieldTokenConfigured, Attributes: map[string]string{
		"token":    normalizeToken(e.Token),
		"decimals": strconv.FormatUint(uint64(e.Decimals), 10),
		"rate":     formatAmount(e.Rate),
	}}
}

// YieldTokenPauseToggled captures a per-token pause flip.
type YieldTokenPauseToggled struct {
	Token  string
	Paused bool
}

// EventType satisfies the Event interface.
func (YieldTokenPauseToggled) EventType() string { return TypeYieldTokenPauseToggled }

// Event converts the structured payload into a broadcastable event.
func (e YieldTokenPauseToggled) Event() *types.Event {
	return &types.Event{Type: TypeYieldTokenPauseToggled, Attributes: map[string]string{
		"token":  normalizeToken(e.Token),
		"paused": strconv.FormatBool(e.Paused),
	}}
}

// YieldDiscountRateUpdated records a discount rate change with before and
// after values.
type YieldDiscountRateUpdated struct {
	Old *big.Int
	New *big.Int
}

// EventType satisfies the Event interface.
func (YieldDiscountRateUpdated) EventType() string { return TypeYieldDiscountRateUpdated }

// Event converts the structured payload into a broadcastable event.
func (e YieldDiscountRateUpdated) Event() *types.Event {
	return &types.Event{Type: TypeYieldDiscountRateUpdated, Attributes: map[string]string{
		"old": formatAmount(e.Old),
		"new": formatAmount(e.New),
	}}
}

// YieldClaimSettled records a settled claim: who was paid, how much, and how
// many strategies contributed.
type YieldClaimSettled struct {
	Claimer    [20]byte
	Paid       *big.Int
	Strategies uint64
}

// EventType satisfies the Event interface.
func (YieldClaimSettled) EventType() string { return TypeYieldClaimSettled }

// Event converts the structured payload into a broadcastable event.
func (e YieldClaimSettled) Event() *types.Event {
	return &types.Event{Type: TypeYieldClaimSettled, Attributes: map[string]string{
		"claimer":    formatAddress(e.Claimer),
		"paid":       formatAmount(e.Paid),
		"strategies": strconv.FormatUint(e.Strategies, 10),
	}}
}

// YieldOwnerRotated records an ownership transfer.
type YieldOwnerRotated struct {
	Old [20]byte
	New [20]byte
}

// EventType satisfies the Event interface.
func (YieldOwnerRotated) EventType() string { return TypeYieldOwnerRotated }

// Event converts the structured payload into a broadcastable event.
func (e YieldOwnerRotated) Event() *types.Event {
	return &types.Event{Type: TypeYieldOwnerRotated, Attributes: map[string]string{
		"old": formatAddress(e.Old),
		"new": formatAddress(e.New),
	}}
}

// YieldPauserRotated records a pauser role swap.
type YieldPauserRotated struct {
	Old [20]byte
	New [20]byte
}

// EventType satisfies the Event interface.
func (YieldPauserRotated) EventType() string { return TypeYieldPauserRotated }

// Event converts the structured payload into a broadcastable event.
func (e YieldPauserRotated) Event() *types.Event {
	return &types.Event{Type: TypeYieldPauserRotated, Attributes: map[string]string{
		"old": formatAddress(e.Old),
		"new": formatAddress(e.New),
	}}
}

// YieldMinterRotated records a minter capability swap. The minter is a
// process-level capability, not an address, so the event carries no payload.
type YieldMinterRotated struct{}

// EventType satisfies the Event interface.
func (YieldMinterRotated) EventType() string { return TypeYieldMinterRotated }

// Event converts the structured payload into a broadcastable event.
func (e YieldMinterRotated) Event() *types.Event {
	return &types.Event{Type: TypeYieldMinterRotated, Attributes: map[string]string{}}
}

// YieldPhlimboRotated records a staking ledger rewire.
type YieldPhlimboRotated struct {
	Old [20]byte
	New [20]byte
}

// EventType satisfies the Event interface.
func (YieldPhlimboRotated) EventType() string { return TypeYieldPhlimboRotated }

// Event converts the structured payload into a broadcastable event.
func (e YieldPhlimboRotated) Event() *types.Event {
	attrs := map[string]string{"new": formatAddress(e.New)}
	if !zeroAddress(e.Old) {
		attrs["old"] = formatAddress(e.Old)
	}
	return &types.Event{Type: TypeYieldPhlimboRotated, Attributes: attrs}
}

// YieldBookRotated records a token book capability swap. Like the minter, the
// book is a process-level capability, so the event carries no payload.
type YieldBookRotated struct{}

// EventType satisfies the Event interface.
func (YieldBookRotated) EventType() string { return TypeYieldBookRotated }

// Event converts the structured payload into a broadcastable event.
func (e YieldBookRotated) Event() *types.Event {
	return &types.Event{Type: TypeYieldBookRotated, Attributes: map[string]string{}}
}

// YieldModulePauseToggled captures a module-wide pause flip.
type YieldModulePauseToggled struct {
	Paused bool
}

// EventType satisfies the Event interface.
func (YieldModulePauseToggled) EventType() string { return TypeYieldModulePauseToggled }

// Event converts the structured payload into a broadcastable event.
func (e YieldModulePauseToggled) Event() *types.Event {
	return &types.Event{Type: TypeYieldModulePauseToggled, Attributes: map[string]string{
		"paused": strconv.FormatBool(e.Paused),
	}}
}

// YieldStrategyFunded records capital routed from a funder into a strategy.
type YieldStrategyFunded struct {
	Strategy [20]byte
	Token    string
	Funder   [20]byte
	Amount   *big.Int
}

// EventType satisfies the Event interface.
func (YieldStrategyFunded) EventType() string { return TypeYieldStrategyFunded }

// Event converts the structured payload into a broadcastable event.
func (e YieldStrategyFunded) Event() *types.Event {
	return &types.Event{Type: TypeYieldStrategyFunded, Attributes: map[string]string{
		"strategy": formatAddress(e.Strategy),
		"token":    normalizeToken(e.Token),
		"funder":   formatAddress(e.Funder),
		"amount":   formatAmount(e.Amount),
	}}
}

// YieldClaimReverted records an unwound partial claim settlement: how many
// strategies had been collected from and how many were restored.
type YieldClaimReverted struct {
	Claimer   [20]byte
	Collected uint64
	Restored  uint64
}

// EventType satisfies the Event interface.
func (YieldClaimReverted) EventType() string { return TypeYieldClaimReverted }

// Event converts the structured payload into a broadcastable event.
func (e YieldClaimReverted) Event() *types.Event {
	return &types.Event{Type: TypeYieldClaimReverted, Attributes: map[string]string{
		"claimer":   formatAddress(e.Claimer),
		"collected": strconv.FormatUint(e.Collected, 10),
		"restored":  strconv.FormatUint(e.Restored, 10),
	}}
}

// YieldRewardTokenRotated records a reward denomination change.
type YieldRewardTokenRotated struct {
	Old string
	New string
}

// EventType satisfies the Event interface.
func (YieldRewardTokenRotated) EventType() string { return TypeYieldRewardTokenRotated }

// Event converts the structured payload into a broadcastable event.
func (e YieldRewardTokenRotated) Event() *types.Event {
	attrs := map[string]string{"new": normalizeToken(e.New)}
	if e.Old != "" {
		attrs["old"] = normalizeToken(e.Old)
	}
	return &types.Event{Type: TypeYieldRewardTokenRotated, Attributes: attrs}
}
