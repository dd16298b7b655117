package common

import (
	"errors"
	"sync"
)

var (
	ErrModulePaused  = errors.New("module paused")
	ErrReentrantCall = errors.New("reentrant call rejected")
)

// PauseView exposes the pause switches consulted before every state mutation.
type PauseView interface {
	IsPaused(module string) bool
}

// PauseControl extends PauseView with runtime toggling, used by engines that
// expose pauser-gated pause and unpause operations.
type PauseControl interface {
	PauseView
	SetPaused(module string, paused bool)
}

// Guard rejects the call when the named module is paused.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// Pauses is a concrete PauseView with owner-toggled switches per module.
type Pauses struct {
	mu     sync.RWMutex
	paused map[string]bool
}

// NewPauses constructs an empty pause registry (everything running).
func NewPauses() *Pauses {
	return &Pauses{paused: make(map[string]bool)}
}

// IsPaused implements PauseView.
func (p *Pauses) IsPaused(module string) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused[module]
}

// SetPaused toggles the switch for a module.
func (p *Pauses) SetPaused(module string, paused bool) {
	if p == nil || module == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused[module] = paused
}

// ReentrancyGuard is a busy flag protecting entry points that interact with
// external collaborators before their own bookkeeping completes. Enter fails
// when a nested call arrives while the flag is held.
type ReentrancyGuard struct {
	busy bool
}

// Enter acquires the guard or rejects the nested call.
func (g *ReentrancyGuard) Enter() error {
	if g == nil {
		return nil
	}
	if g.busy {
		return ErrReentrantCall
	}
	g.busy = true
	return nil
}

// Exit releases the guard.
func (g *ReentrancyGuard) Exit() {
	if g == nil {
		return
	}
	g.busy = false
}
