package apierr

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeValidation, http.StatusBadRequest},
		{CodeRateLimited, http.StatusTooManyRequests},
		{CodeNotFound, http.StatusNotFound},
		{CodeServiceUnavailable, http.StatusServiceUnavailable},
		{Code("NOT_A_REAL_CODE"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		e := New(tt.code, "boom")
		if got := e.Status(); got != tt.want {
			t.Errorf("Status(%s) = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestRetryable(t *testing.T) {
	if New(CodeValidation, "x").Retryable() {
		t.Error("VALIDATION_ERROR should not be retryable")
	}
	if !New(CodeStoreTransient, "x").Retryable() {
		t.Error("STORE_TRANSIENT should be retryable")
	}
}

func TestWithRetryAfter(t *testing.T) {
	e := New(CodeRateLimited, "too fast").WithRetryAfter(5)
	if e.RetryAfter == nil || *e.RetryAfter != 5 {
		t.Fatalf("expected RetryAfter=5, got %v", e.RetryAfter)
	}
}

func TestMarshalJSON(t *testing.T) {
	e := New(CodeUnknownField, "no such field").WithSuggestions("src_ip", []string{"source_ip"})
	b, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out struct {
		Error struct {
			Code        string   `json:"code"`
			Message     string   `json:"message"`
			Status      int      `json:"status"`
			Field       string   `json:"field"`
			Suggestions []string `json:"suggestions"`
		} `json:"error"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.Error.Code != string(CodeUnknownField) || out.Error.Status != http.StatusBadRequest {
		t.Errorf("unexpected envelope: %+v", out.Error)
	}
	if len(out.Error.Suggestions) != 1 || out.Error.Suggestions[0] != "source_ip" {
		t.Errorf("expected suggestions to round-trip, got %v", out.Error.Suggestions)
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("pool exhausted")
	e := Wrap(CodeDatabaseError, "insert failed", cause)
	if !errors.Is(e, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}

func TestAs(t *testing.T) {
	e := New(CodeConflict, "duplicate idempotency key")
	wrapped := Wrap(CodeInternal, "outer", e)
	got, ok := As(wrapped)
	if !ok {
		t.Fatal("expected As to find an *Error")
	}
	if got.Code != CodeInternal {
		t.Errorf("expected outermost *Error (INTERNAL_ERROR), got %s", got.Code)
	}
}
