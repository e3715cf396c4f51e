package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/wisbric/siemgate/internal/eventbus"
)

// DeadLetterMessage is the wire envelope for irrecoverably failed batches
// (spec §6), serialized as JSON and appended to the DLQ sink
// (siem.dlq.raw).
type DeadLetterMessage struct {
	OriginalTopic         string `json:"original_topic"`
	OriginalPartition     int    `json:"original_partition"`
	OriginalOffset        int64  `json:"original_offset"`
	ErrorType             string `json:"error_type"`
	ErrorMessage          string `json:"error_message"`
	RetryCount            int    `json:"retry_count"`
	FirstFailureTimestamp int64  `json:"first_failure_timestamp"`
	LastFailureTimestamp  int64  `json:"last_failure_timestamp"`
	Payload               string `json:"payload"`
}

// DLQSink accepts dead-letter messages for a tenant's failed batch.
type DLQSink interface {
	Send(tenantID string, msg DeadLetterMessage) error
}

// ProducerDLQSink adapts an eventbus.Producer into a DLQSink, publishing
// each dead-letter message to the DLQ topic/stream keyed by tenant.
type ProducerDLQSink struct {
	producer eventbus.Producer
}

func NewProducerDLQSink(producer eventbus.Producer) *ProducerDLQSink {
	return &ProducerDLQSink{producer: producer}
}

func (s *ProducerDLQSink) Send(tenantID string, msg DeadLetterMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.producer.Publish(context.Background(), tenantID, payload)
}

func newDeadLetter(errorType, errorMessage string, retryCount int, firstFailure time.Time, payload string) DeadLetterMessage {
	now := time.Now().Unix()
	return DeadLetterMessage{
		OriginalTopic:         "siem.events.v1",
		ErrorType:             errorType,
		ErrorMessage:          errorMessage,
		RetryCount:            retryCount,
		FirstFailureTimestamp: firstFailure.Unix(),
		LastFailureTimestamp:  now,
		Payload:               payload,
	}
}
