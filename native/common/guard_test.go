package common

import (
	"errors"
	"testing"
)

func TestGuardPausedModule(t *testing.T) {
	pauses := NewPauses()
	if err := Guard(pauses, "yield"); err != nil {
		t.Fatalf("unexpected error on running module: %v", err)
	}

	pauses.SetPaused("yield", true)
	if err := Guard(pauses, "yield"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := Guard(pauses, "phlimbo"); err != nil {
		t.Fatalf("pause must not leak across modules: %v", err)
	}

	pauses.SetPaused("yield", false)
	if err := Guard(pauses, "yield"); err != nil {
		t.Fatalf("unexpected error after unpause: %v", err)
	}
}

func TestGuardNilView(t *testing.T) {
	if err := Guard(nil, "yield"); err != nil {
		t.Fatalf("nil view must not block: %v", err)
	}
}

func TestReentrancyGuard(t *testing.T) {
	var guard ReentrancyGuard
	if err := guard.Enter(); err != nil {
		t.Fatalf("first enter: %v", err)
	}
	if err := guard.Enter(); !errors.Is(err, ErrReentrantCall) {
		t.Fatalf("expected ErrReentrantCall, got %v", err)
	}
	guard.Exit()
	if err := guard.Enter(); err != nil {
		t.Fatalf("enter after exit: %v", err)
	}
}
