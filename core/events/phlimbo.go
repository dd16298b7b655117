package events

import (
	"math/big"
	"strconv"

	"phusd/core/types"
)

const (
	// TypePhlimboStaked captures a PHAME deposit into the staking ledger.
	TypePhlimboStaked = "phlimbo.staked"
	// TypePhlimboUnstaked captures a PHAME withdrawal from the staking ledger.
	TypePhlimboUnstaked = "phlimbo.unstaked"
	// TypePhlimboRewardsClaimed records a dual-stream reward payout.
	TypePhlimboRewardsClaimed = "phlimbo.rewardsClaimed"
	// TypePhlimboEmissionUpdated records an emission rate change.
	TypePhlimboEmissionUpdated = "phlimbo.emissionUpdated"
	// TypePhlimboApproved records a stake allowance grant.
	TypePhlimboApproved = "phlimbo.approved"
	// TypePhlimboModulePauseToggled marks a module-wide pause flip.
	TypePhlimboModulePauseToggled = "phlimbo.modulePauseToggled"
)

// PhlimboStaked captures a stake deposit and the resulting position size.
type PhlimboStaked struct {
	Account   [20]byte
	Amount    *big.Int
	NewStaked *big.Int
}

// EventType satisfies the Event interface.
func (PhlimboStaked) EventType() string { return TypePhlimboStaked }

// Event converts the structured payload into a broadcastable event.
func (e PhlimboStaked) Event() *types.Event {
	return &types.Event{Type: TypePhlimboStaked, Attributes: map[string]string{
		"addr":      formatAddress(e.Account),
		"amount":    formatAmount(e.Amount),
		"newStaked": formatAmount(e.NewStaked),
	}}
}

// PhlimboUnstaked captures a stake withdrawal and the resulting position size.
type PhlimboUnstaked struct {
	Account   [20]byte
	Amount    *big.Int
	NewStaked *big.Int
}

// EventType satisfies the Event interface.
func (PhlimboUnstaked) EventType() string { return TypePhlimboUnstaked }

// Event converts the structured payload into a broadcastable event.
func (e PhlimboUnstaked) Event() *types.Event {
	return &types.Event{Type: TypePhlimboUnstaked, Attributes: map[string]string{
		"addr":      formatAddress(e.Account),
		"amount":    formatAmount(e.Amount),
		"newStaked": formatAmount(e.NewStaked),
	}}
}

// PhlimboRewardsClaimed records the paid amounts for both reward streams.
type PhlimboRewardsClaimed struct {
	Account    [20]byte
	PaidPHUSD  *big.Int
	PaidStable *big.Int
}

// EventType satisfies the Event interface.
func (PhlimboRewardsClaimed) EventType() string { return TypePhlimboRewardsClaimed }

// Event converts the structured payload into a broadcastable event.
func (e PhlimboRewardsClaimed) Event() *types.Event {
	return &types.Event{Type: TypePhlimboRewardsClaimed, Attributes: map[string]string{
		"addr":       formatAddress(e.Account),
		"paidPHUSD":  formatAmount(e.PaidPHUSD),
		"paidStable": formatAmount(e.PaidStable),
	}}
}

// PhlimboEmissionUpdated records a per-second emission rate change for one
// stream, with before and after values.
type PhlimboEmissionUpdated struct {
	Stream string
	Old    *big.Int
	New    *big.Int
}

// EventType satisfies the Event interface.
func (PhlimboEmissionUpdated) EventType() string { return TypePhlimboEmissionUpdated }

// Event converts the structured payload into a broadcastable event.
func (e PhlimboEmissionUpdated) Event() *types.Event {
	return &types.Event{Type: TypePhlimboEmissionUpdated, Attributes: map[string]string{
		"stream": e.Stream,
		"old":    formatAmount(e.Old),
		"new":    formatAmount(e.New),
	}}
}

// PhlimboApproved records a stake allowance grant toward the staking module.
type PhlimboApproved struct {
	Owner     [20]byte
	Allowance *big.Int
	Nonce     uint64
}

// EventType satisfies the Event interface.
func (PhlimboApproved) EventType() string { return TypePhlimboApproved }

// Event converts the structured payload into a broadcastable event.
func (e PhlimboApproved) Event() *types.Event {
	attrs := map[string]string{
		"owner":     formatAddress(e.Owner),
		"allowance": formatAmount(e.Allowance),
	}
	if e.Nonce > 0 {
		attrs["nonce"] = strconv.FormatUint(e.Nonce, 10)
	}
	return &types.Event{Type: TypePhlimboApproved, Attributes: attrs}
}

// PhlimboModulePauseToggled captures a module-wide pause flip.
type PhlimboModulePauseToggled struct {
	Paused bool
}

// EventType satisfies the Event interface.
func (PhlimboModulePauseToggled) EventType() string { return TypePhlimboModulePauseToggled }

// Event converts the structured payload into a broadcastable event.
func (e PhlimboModulePauseToggled) Event() *types.Event {
	return &types.Event{Type: TypePhlimboModulePauseToggled, Attributes: map[string]string{
		"paused": strconv.FormatBool(e.Paused),
	}}
}
