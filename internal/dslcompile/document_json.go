package dslcompile

import (
	"encoding/json"
	"fmt"
)

// documentDoc is the wire shape of a full DSL document's search clause
// (spec §3): {version, tenant_ids, time_range, where}, where time_range
// is the tagged union Last{last_seconds} | Between{from,to}.
type documentDoc struct {
	Version   int             `json:"version"`
	TenantIDs []string        `json:"tenant_ids"`
	TimeRange timeRangeDoc    `json:"time_range"`
	Where     json.RawMessage `json:"where,omitempty"`
}

type timeRangeDoc struct {
	LastSeconds *uint32 `json:"last_seconds,omitempty"`
	From        *uint32 `json:"from,omitempty"`
	To          *uint32 `json:"to,omitempty"`
}

// UnmarshalDocument decodes an inbound search request body into a
// Document, resolving its Where clause through UnmarshalExpr.
func UnmarshalDocument(raw []byte) (Document, error) {
	var doc documentDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("decoding search document: %w", err)
	}

	where, err := UnmarshalExpr(doc.Where)
	if err != nil {
		return Document{}, err
	}

	return Document{
		Version:   doc.Version,
		TenantIDs: doc.TenantIDs,
		TimeRange: TimeRange{LastSeconds: doc.TimeRange.LastSeconds, From: doc.TimeRange.From, To: doc.TimeRange.To},
		Where:     where,
	}, nil
}

// MarshalDocument encodes doc back to its wire shape; the JSON round-trip
// tests use it to re-serialize a parsed document.
func MarshalDocument(doc Document) ([]byte, error) {
	where, err := MarshalExpr(doc.Where)
	if err != nil {
		return nil, err
	}
	return json.Marshal(documentDoc{
		Version:   doc.Version,
		TenantIDs: doc.TenantIDs,
		TimeRange: timeRangeDoc{LastSeconds: doc.TimeRange.LastSeconds, From: doc.TimeRange.From, To: doc.TimeRange.To},
		Where:     where,
	})
}
