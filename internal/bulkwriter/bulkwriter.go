// Package bulkwriter is the columnar-store batch flusher: it performs the
// single `flush(tenant_id, batch)` operation the ingestion router depends
// on, gated by a circuit breaker, with at-least-once semantics (spec
// §4.I).
package bulkwriter

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pierrec/lz4/v4"

	"github.com/wisbric/siemgate/internal/apierr"
	"github.com/wisbric/siemgate/internal/breaker"
	"github.com/wisbric/siemgate/internal/capability"
	"github.com/wisbric/siemgate/internal/store"
	"github.com/wisbric/siemgate/internal/telemetry"
)

// Writer flushes batches of canonical events to the columnar store.
type Writer struct {
	client      store.Client
	breaker     *breaker.Breaker
	eventsTable string
}

// New creates a Writer targeting eventsTable, with calls to client gated
// by br.
func New(client store.Client, br *breaker.Breaker, eventsTable string) *Writer {
	return &Writer{client: client, breaker: br, eventsTable: eventsTable}
}

// Flush performs the batch insert. It returns a *store.WriteError so
// callers (the ingestion router) can distinguish transient failures,
// which are safe to retry with the same batch, from permanent ones,
// which must be quarantined to the DLQ.
func (w *Writer) Flush(ctx context.Context, tenantID string, batch []store.Event) error {
	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	rowsIn := len(batch)
	bytesIn := w.wireBytes(batch)

	_, err := breaker.Execute(w.breaker, func() (struct{}, error) {
		return struct{}{}, w.client.InsertBatch(ctx, w.eventsTable, batch)
	})

	elapsed := time.Since(start)
	telemetry.BulkFlushLatency.WithLabelValues(tenantID).Observe(elapsed.Seconds())

	if err != nil {
		if breaker.IsOpen(err) {
			telemetry.BulkWriteOutcomeTotal.WithLabelValues(tenantID, "circuit_open").Inc()
			return &store.WriteError{
				Transient: true,
				Err:       apierr.New(apierr.CodeServiceUnavailable, "columnar store circuit breaker is open"),
			}
		}
		telemetry.BulkWriteOutcomeTotal.WithLabelValues(tenantID, "error").Inc()
		return err
	}

	telemetry.BulkWriteOutcomeTotal.WithLabelValues(tenantID, "ok").Inc()
	telemetry.BulkRowsInTotal.WithLabelValues(tenantID).Add(float64(rowsIn))
	telemetry.BulkBytesInTotal.WithLabelValues(tenantID).Add(float64(bytesIn))
	return nil
}

// wireBytes approximates the size of a flush by rendering batch as
// newline-delimited JSONEachRow (spec §6); the connection itself sends
// native-protocol blocks built by AppendStruct. Then, if the store connection negotiated LZ4
// (capability.Get().LZ4Insert, set once at startup from the same
// ClickHouseConfig.EnableLZ4 that configures the connection's wire
// compression), compresses it the same way so bytes_in reflects what the
// connection actually sends rather than an independently chosen codec.
// Encoding failures fall back to an uncompressed measurement rather than
// failing the flush, since this is an observability counter, not a
// correctness path.
func (w *Writer) wireBytes(batch []store.Event) int {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range batch {
		if err := enc.Encode(e); err != nil {
			slog.Default().Warn("bulkwriter: encoding event for bytes_in", "error", err)
			return buf.Len()
		}
	}

	if capability.Get().LZ4Insert {
		var compressed bytes.Buffer
		zw := lz4.NewWriter(&compressed)
		if _, err := zw.Write(buf.Bytes()); err == nil && zw.Close() == nil {
			return compressed.Len()
		}
	}
	return buf.Len()
}
