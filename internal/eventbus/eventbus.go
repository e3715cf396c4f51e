// Package eventbus defines the capability interface the streaming rule
// engine consumes events through, plus the two pluggable backends (Kafka,
// Redis Streams) that implement it (spec §4.N, §9 "capability
// interfaces with pluggable variants").
package eventbus

import (
	"context"
	"time"
)

// Message is one event-bus delivery, already partition/stream scoped.
// Payload is the raw JSON-encoded canonical event.
type Message struct {
	TenantID  string
	Payload   []byte
	Partition int    // Kafka partition, or 0 for Redis Streams
	Offset    int64  // Kafka offset, unused (0) for Redis Streams
	StreamID  string // Redis Streams entry ID, unused ("") for Kafka
	Topic     string
}

// Consumer is the capability interface the rule engine's two runtime
// loops (§4.L) drive. Ack commits/acknowledges a message only after it
// has been evaluated against every active rule for its tenant, so a
// poison message never blocks the rest of the group.
type Consumer interface {
	// Poll blocks up to the backend's poll timeout and returns the next
	// batch of messages, or an empty slice on timeout (not an error).
	Poll(ctx context.Context) ([]Message, error)
	// Ack commits the message as processed.
	Ack(ctx context.Context, msg Message) error
	// Lag reports the estimated consumer lag, for internal/telemetry's
	// consumer_lag_total gauge.
	Lag(ctx context.Context) (int64, error)
	// Close releases the underlying connection/client.
	Close() error
}

// Producer is the narrow publish-side interface; only the ingestion
// router's fan-out to the rule engine needs it (spec §2 flow summary:
// "fan-out to N (event bus) for L").
type Producer interface {
	Publish(ctx context.Context, tenantID string, payload []byte) error
}

// PollTimeout bounds a single Poll call (spec §5 timeouts: "Kafka poll:
// 250ms"); Redis Streams' BLOCK uses the same value for symmetry.
const PollTimeout = 250 * time.Millisecond

// ReclaimIdle is the minimum idle duration (spec §4.L: "idle >= 60s")
// before XAUTOCLAIM reclaims a pending Redis Streams entry.
const ReclaimIdle = 60 * time.Second

// EventsTopic and DLQTopic are the canonical Kafka topic / Redis stream
// key roots (spec §6).
const (
	EventsTopic = "siem.events.v1"
	DLQTopic    = "siem.dlq.raw"
)

// RedisStreamKey builds the per-tenant Redis Streams key: siem:events:{tenant_id}.
func RedisStreamKey(tenantID string) string {
	return "siem:events:" + tenantID
}
