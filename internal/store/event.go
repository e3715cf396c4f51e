// Package store is the thin columnar-store client: named-parameter
// queries and streaming bulk inserts with optional LZ4 compression.
package store

// Event is the canonical event (CE) — the unit of ingestion and search
// (spec §3). Required fields have no omitempty; optional fields do.
type Event struct {
	EventID        string            `json:"event_id"`
	EventTimestamp uint32            `json:"event_timestamp"`
	TenantID       string            `json:"tenant_id"`
	EventCategory  string            `json:"event_category"`
	EventAction    string            `json:"event_action"`
	RawEvent       string            `json:"raw_event"`
	Metadata       string            `json:"metadata"`

	SourceIP       *string           `json:"source_ip,omitempty"`
	DestinationIP  *string           `json:"destination_ip,omitempty"`
	SourcePort     *uint16           `json:"source_port,omitempty"`
	DestPort       *uint16           `json:"dest_port,omitempty"`
	Protocol       *string           `json:"protocol,omitempty"`
	UserID         *string           `json:"user_id,omitempty"`
	UserName       *string           `json:"user_name,omitempty"`
	Host           *string           `json:"host,omitempty"`
	Severity       *string           `json:"severity,omitempty"`
	SeverityInt    *uint16           `json:"severity_int,omitempty"`
	EventOutcome   *string           `json:"event_outcome,omitempty"`
	Message        *string           `json:"message,omitempty"`
	Vendor         *string           `json:"vendor,omitempty"`
	Product        *string           `json:"product,omitempty"`
	SourceType     *string           `json:"source_type,omitempty"`
	EventType      *string           `json:"event_type,omitempty"`
	SourceID       *string           `json:"source_id,omitempty"`
	SourceSeq      *uint64           `json:"source_seq,omitempty"`
	ParsedFields   map[string]string `json:"parsed_fields,omitempty"`
	TIHits         []string          `json:"ti_hits,omitempty"`
	TIMatch        *bool             `json:"ti_match,omitempty"`
	RetentionDays  *uint16           `json:"retention_days,omitempty"`
	CreatedAt      uint32            `json:"created_at"`
}
