package catalog

import (
	"testing"
)

func TestCanonicalizeAlias(t *testing.T) {
	name, kind, ok := Canonicalize("src_ip")
	if !ok {
		t.Fatal("expected src_ip to resolve")
	}
	if name != "source_ip" {
		t.Errorf("expected source_ip, got %s", name)
	}
	if kind != KindNullableString {
		t.Errorf("expected KindNullableString, got %v", kind)
	}
}

func TestCanonicalizeDirect(t *testing.T) {
	name, _, ok := Canonicalize("event_category")
	if !ok || name != "event_category" {
		t.Fatalf("expected event_category to resolve directly, got %q ok=%v", name, ok)
	}
}

func TestCanonicalizeUnknown(t *testing.T) {
	if _, _, ok := Canonicalize("src_ipp"); ok {
		t.Fatal("expected unknown field to fail canonicalization")
	}
}

func TestIsIPField(t *testing.T) {
	if !IsIPField("source_ip") {
		t.Error("source_ip should be an IP field")
	}
	if IsIPField("user_name") {
		t.Error("user_name should not be an IP field")
	}
}

func TestIsNumeric(t *testing.T) {
	if !IsNumeric("event_timestamp") {
		t.Error("event_timestamp should be numeric")
	}
	if IsNumeric("message") {
		t.Error("message should not be numeric")
	}
}

func TestIsJSONPath(t *testing.T) {
	if !IsJSONPath("metadata.http.user_agent") {
		t.Error("metadata.* should be a JSON path")
	}
	if !IsJSONPath("raw_event.x") {
		t.Error("raw_event.* should be a JSON path")
	}
	if IsJSONPath("source_ip") {
		t.Error("source_ip is not a JSON path")
	}
}

func TestSuggestions(t *testing.T) {
	suggestions := Suggestions("src_ipp", 5)
	found := false
	for _, s := range suggestions {
		if s == "source_ip" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected source_ip among suggestions for src_ipp, got %v", suggestions)
	}
}

func TestIsNullable(t *testing.T) {
	if !IsNullable("source_ip") {
		t.Error("source_ip should be nullable")
	}
	if IsNullable("event_id") {
		t.Error("event_id should not be nullable")
	}
}
