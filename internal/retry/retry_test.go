package retry

import (
	"context"
	"errors"
	"testing"

	"github.com/wisbric/siemgate/internal/apierr"
)

func TestIdempotentRetriesTransient(t *testing.T) {
	attempts := 0
	got, err := Idempotent(context.Background(), 3, func() (int, error) {
		attempts++
		if attempts < 3 {
			return 0, apierr.New(apierr.CodeStoreTransient, "temporary blip")
		}
		return 99, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 99 {
		t.Errorf("expected 99, got %d", got)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestIdempotentStopsOnPermanent(t *testing.T) {
	attempts := 0
	_, err := Idempotent(context.Background(), 5, func() (int, error) {
		attempts++
		return 0, apierr.New(apierr.CodeValidation, "bad field")
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if attempts != 1 {
		t.Errorf("expected exactly 1 attempt for a non-retryable error, got %d", attempts)
	}
}

func TestIdempotentGivesUpAfterMaxAttempts(t *testing.T) {
	attempts := 0
	boom := apierr.New(apierr.CodeServiceUnavailable, "store down")
	_, err := Idempotent(context.Background(), 2, func() (int, error) {
		attempts++
		return 0, boom
	})
	if err == nil {
		t.Fatal("expected an error after exhausting attempts")
	}
	if attempts != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", attempts)
	}
	if !errors.Is(err, boom) && err.Error() != boom.Error() {
		t.Errorf("expected underlying error preserved, got %v", err)
	}
}
