package normalize

import (
	"testing"
	"time"

	"github.com/wisbric/siemgate/internal/apierr"
)

func baseRaw() map[string]any {
	return map[string]any{
		"tenant_id":       "acme",
		"event_category":  "authentication",
		"event_action":    "failure",
		"raw_event":       "raw log line",
		"event_timestamp": float64(1700000000),
	}
}

func TestNormalizeMinimal(t *testing.T) {
	now := time.Unix(1700000010, 0)
	ev, err := Normalize(baseRaw(), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.TenantID != "acme" || ev.EventCategory != "authentication" {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.EventID == "" {
		t.Error("expected a generated event_id when none was supplied")
	}
	if ev.Metadata != "{}" {
		t.Errorf("expected default metadata {}, got %q", ev.Metadata)
	}
	if ev.CreatedAt != uint32(now.Unix()) {
		t.Errorf("expected created_at = now, got %d", ev.CreatedAt)
	}
}

func TestNormalizeAcceptsTimestampAlias(t *testing.T) {
	raw := baseRaw()
	delete(raw, "event_timestamp")
	raw["timestamp"] = float64(1700000000)

	ev, err := Normalize(raw, time.Unix(1700000010, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.EventTimestamp != 1700000000 {
		t.Errorf("expected event_timestamp normalized from timestamp alias, got %d", ev.EventTimestamp)
	}
}

func TestNormalizeMissingRequiredField(t *testing.T) {
	raw := baseRaw()
	delete(raw, "event_category")

	_, err := Normalize(raw, time.Now())
	ae, ok := apierr.As(err)
	if !ok || ae.Code != apierr.CodeValidation {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestNormalizeRejectsBadTenantID(t *testing.T) {
	raw := baseRaw()
	raw["tenant_id"] = "has a space"

	_, err := Normalize(raw, time.Now())
	ae, ok := apierr.As(err)
	if !ok || ae.Code != apierr.CodeValidation {
		t.Fatalf("expected VALIDATION_ERROR for malformed tenant_id, got %v", err)
	}
}

func TestNormalizeRejectsFutureSkew(t *testing.T) {
	raw := baseRaw()
	raw["event_timestamp"] = float64(1700001000) // 1000s ahead of "now"

	_, err := Normalize(raw, time.Unix(1700000000, 0))
	ae, ok := apierr.As(err)
	if !ok || ae.Code != apierr.CodeValidation {
		t.Fatalf("expected VALIDATION_ERROR for clock skew violation, got %v", err)
	}
}

func TestNormalizeMetadataObjectIsMarshaled(t *testing.T) {
	raw := baseRaw()
	raw["metadata"] = map[string]any{"http": map[string]any{"user_agent": "Mozilla"}}

	ev, err := Normalize(raw, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Metadata == "{}" || ev.Metadata == "" {
		t.Errorf("expected metadata object to be marshaled to JSON text, got %q", ev.Metadata)
	}
}

func TestNormalizeInvalidMetadataJSONFallsBack(t *testing.T) {
	raw := baseRaw()
	raw["metadata"] = "not valid json"

	ev, err := Normalize(raw, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Metadata != "{}" {
		t.Errorf("expected fallback to {} for invalid metadata JSON text, got %q", ev.Metadata)
	}
}
