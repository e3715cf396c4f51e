package lock

import (
	"context"
	"testing"
	"time"
)

func TestInProcessTryLockAndUnlock(t *testing.T) {
	b := NewInProcessBackend()
	ctx := context.Background()

	token, ok, err := b.TryLock(ctx, "siem:lock:rule:acme:r1", 50*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("expected first lock to succeed, got ok=%v err=%v", ok, err)
	}

	_, ok2, err := b.TryLock(ctx, "siem:lock:rule:acme:r1", 50*time.Millisecond)
	if err != nil || ok2 {
		t.Fatalf("expected second lock attempt to fail while held, got ok=%v err=%v", ok2, err)
	}

	if err := b.Unlock(ctx, "siem:lock:rule:acme:r1", token); err != nil {
		t.Fatalf("expected unlock with correct token to succeed: %v", err)
	}

	token2, ok3, err := b.TryLock(ctx, "siem:lock:rule:acme:r1", 50*time.Millisecond)
	if err != nil || !ok3 {
		t.Fatalf("expected lock to be acquirable again after unlock, got ok=%v err=%v", ok3, err)
	}
	_ = token2
}

func TestInProcessUnlockWrongTokenFails(t *testing.T) {
	b := NewInProcessBackend()
	ctx := context.Background()

	if _, ok, err := b.TryLock(ctx, "k", time.Second); err != nil || !ok {
		t.Fatalf("expected lock, got ok=%v err=%v", ok, err)
	}

	if err := b.Unlock(ctx, "k", "not-the-real-token"); err != ErrNotHeld {
		t.Errorf("expected ErrNotHeld, got %v", err)
	}
}

func TestInProcessLockExpires(t *testing.T) {
	b := NewInProcessBackend()
	ctx := context.Background()

	if _, ok, err := b.TryLock(ctx, "k", 10*time.Millisecond); err != nil || !ok {
		t.Fatalf("expected lock, got ok=%v err=%v", ok, err)
	}

	time.Sleep(20 * time.Millisecond)

	if _, ok, err := b.TryLock(ctx, "k", time.Second); err != nil || !ok {
		t.Fatalf("expected lock to be acquirable after expiry, got ok=%v err=%v", ok, err)
	}
}

func TestRuleKey(t *testing.T) {
	got := RuleKey("acme", "rule-1")
	want := "siem:lock:rule:acme:rule-1"
	if got != want {
		t.Errorf("RuleKey() = %q, want %q", got, want)
	}
}
