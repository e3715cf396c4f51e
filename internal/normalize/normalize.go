// Package normalize maps heterogeneous inbound event payloads to the
// canonical event (CE) shape, filling timestamps and validating required
// fields (spec §4.H).
package normalize

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/siemgate/internal/apierr"
	"github.com/wisbric/siemgate/internal/store"
)

// Event is the normalizer's output type: the canonical event shape.
type Event = store.Event

// clockSkewTolerance bounds how far in the future event_timestamp may sit
// relative to created_at before normalization rejects it (spec §3:
// "event_timestamp <= created_at + tolerance").
const clockSkewTolerance = 5 * time.Minute

var tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Normalize validates and converts a raw inbound payload into the
// canonical event shape. now is injected for testability.
func Normalize(raw map[string]any, now time.Time) (Event, error) {
	var ev Event

	tenantID, err := requireString(raw, "tenant_id")
	if err != nil {
		return ev, err
	}
	if !tenantIDPattern.MatchString(tenantID) {
		return ev, apierr.New(apierr.CodeValidation, "tenant_id must match [A-Za-z0-9_-]{1,64}").WithSuggestions("tenant_id", nil)
	}
	ev.TenantID = tenantID

	eventCategory, err := requireString(raw, "event_category")
	if err != nil {
		return ev, err
	}
	ev.EventCategory = eventCategory

	eventAction, err := requireString(raw, "event_action")
	if err != nil {
		return ev, err
	}
	ev.EventAction = eventAction

	rawEvent, err := requireString(raw, "raw_event")
	if err != nil {
		return ev, err
	}
	ev.RawEvent = rawEvent

	// Open question resolved: the source inconsistently uses "timestamp"
	// and "event_timestamp"; accept either and normalize to the latter.
	ts, ok := optionalUint32(raw, "event_timestamp")
	if !ok {
		ts, ok = optionalUint32(raw, "timestamp")
	}
	if !ok {
		return ev, apierr.New(apierr.CodeValidation, "missing required field: event_timestamp (or timestamp)").WithSuggestions("event_timestamp", nil)
	}
	ev.EventTimestamp = ts

	eventID, ok := optionalString(raw, "event_id")
	if !ok || eventID == "" {
		eventID = uuid.NewString()
	}
	ev.EventID = eventID

	ev.CreatedAt = uint32(now.Unix())
	if int64(ev.EventTimestamp) > int64(ev.CreatedAt)+int64(clockSkewTolerance.Seconds()) {
		return ev, apierr.New(apierr.CodeValidation, "event_timestamp is too far in the future relative to ingestion time")
	}

	ev.Metadata = normalizeJSONText(raw, "metadata")

	ev.SourceIP = optionalStringPtr(raw, "source_ip")
	ev.DestinationIP = optionalStringPtr(raw, "destination_ip")
	ev.SourcePort = optionalUint16Ptr(raw, "source_port")
	ev.DestPort = optionalUint16Ptr(raw, "dest_port")
	ev.Protocol = optionalStringPtr(raw, "protocol")
	ev.UserID = optionalStringPtr(raw, "user_id")
	ev.UserName = optionalStringPtr(raw, "user_name")
	ev.Host = optionalStringPtr(raw, "host")
	ev.Severity = optionalStringPtr(raw, "severity")
	ev.SeverityInt = optionalUint16Ptr(raw, "severity_int")
	ev.EventOutcome = optionalStringPtr(raw, "event_outcome")
	ev.Message = optionalStringPtr(raw, "message")
	ev.Vendor = optionalStringPtr(raw, "vendor")
	ev.Product = optionalStringPtr(raw, "product")
	ev.SourceType = optionalStringPtr(raw, "source_type")
	ev.EventType = optionalStringPtr(raw, "event_type")
	ev.SourceID = optionalStringPtr(raw, "source_id")
	ev.SourceSeq = optionalUint64Ptr(raw, "source_seq")
	ev.RetentionDays = optionalUint16Ptr(raw, "retention_days")
	ev.TIMatch = optionalBoolPtr(raw, "ti_match")
	ev.TIHits = optionalStringSlice(raw, "ti_hits")
	ev.ParsedFields = optionalStringMap(raw, "parsed_fields")

	return ev, nil
}

func requireString(raw map[string]any, key string) (string, error) {
	s, ok := optionalString(raw, key)
	if !ok || s == "" {
		return "", apierr.New(apierr.CodeValidation, fmt.Sprintf("missing required field: %s", key))
	}
	return s, nil
}

func optionalString(raw map[string]any, key string) (string, bool) {
	v, ok := raw[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func optionalStringPtr(raw map[string]any, key string) *string {
	if s, ok := optionalString(raw, key); ok {
		return &s
	}
	return nil
}

func optionalUint32(raw map[string]any, key string) (uint32, bool) {
	v, ok := raw[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return uint32(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return uint32(f), true
	default:
		return 0, false
	}
}

func optionalUint16Ptr(raw map[string]any, key string) *uint16 {
	v, ok := optionalUint32(raw, key)
	if !ok {
		return nil
	}
	u := uint16(v)
	return &u
}

func optionalUint64Ptr(raw map[string]any, key string) *uint64 {
	v, ok := raw[key]
	if !ok || v == nil {
		return nil
	}
	switch n := v.(type) {
	case float64:
		u := uint64(n)
		return &u
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return nil
		}
		u := uint64(f)
		return &u
	default:
		return nil
	}
}

func optionalBoolPtr(raw map[string]any, key string) *bool {
	v, ok := raw[key]
	if !ok || v == nil {
		return nil
	}
	b, ok := v.(bool)
	if !ok {
		return nil
	}
	return &b
}

func optionalStringSlice(raw map[string]any, key string) []string {
	v, ok := raw[key]
	if !ok || v == nil {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func optionalStringMap(raw map[string]any, key string) map[string]string {
	v, ok := raw[key]
	if !ok || v == nil {
		return nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, vv := range m {
		if s, ok := vv.(string); ok {
			out[k] = s
		}
	}
	return out
}

// normalizeJSONText returns the field's value re-marshaled as a JSON text
// blob, "{}" when absent. metadata is stored as JsonText so downstream
// JSONExtractString calls in the DSL compiler always have valid JSON to
// operate on.
func normalizeJSONText(raw map[string]any, key string) string {
	v, ok := raw[key]
	if !ok || v == nil {
		return "{}"
	}
	if s, ok := v.(string); ok {
		var probe any
		if json.Unmarshal([]byte(s), &probe) == nil {
			return s
		}
		return "{}"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
