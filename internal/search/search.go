// Package search is the search executor: compile + execute + shape
// results over the columnar store, enforcing execution caps and mapping
// store errors to the stable error taxonomy (spec §4.K).
package search

import (
	"context"
	"fmt"
	"time"

	"github.com/wisbric/siemgate/internal/apierr"
	"github.com/wisbric/siemgate/internal/breaker"
	"github.com/wisbric/siemgate/internal/capability"
	"github.com/wisbric/siemgate/internal/dslcompile"
	"github.com/wisbric/siemgate/internal/store"
	"github.com/wisbric/siemgate/internal/telemetry"
)

// Result is the shaped output of Execute: rows plus execution statistics.
type Result struct {
	Rows                   []map[string]any
	RowCount               int
	RowsBeforeLimitAtLeast *int
	ElapsedSeconds         float64
}

// Estimate is the output of Estimate: a cheap lower bound on result size
// without materializing rows.
type Estimate struct {
	RowsBeforeLimitAtLeast int
	Elapsed                time.Duration
}

// Executor compiles and runs search DSL documents against one table in
// the columnar store, gated by a circuit breaker (spec §4.K: "All
// execution paths require the circuit breaker to be closed").
type Executor struct {
	client  store.Client
	breaker *breaker.Breaker
	table   string
}

// New creates an Executor targeting table (the events table), using
// client for queries and br to gate calls against it.
func New(client store.Client, br *breaker.Breaker, table string) *Executor {
	return &Executor{client: client, breaker: br, table: table}
}

// Compile validates and lowers doc to a ready-to-execute artifact without
// running it (spec §4.K compile(dsl)).
func (e *Executor) Compile(doc dslcompile.Document) (*dslcompile.Artifact, error) {
	return dslcompile.Compile(doc, e.table, capability.Get())
}

// Execute compiles doc, runs it through the breaker, and shapes the
// result (spec §4.K execute(dsl)).
func (e *Executor) Execute(ctx context.Context, tenantID string, doc dslcompile.Document) (*Result, error) {
	artifact, err := e.Compile(doc)
	if err != nil {
		telemetry.SearchErrTotal.WithLabelValues(tenantID, errCode(err)).Inc()
		return nil, err
	}

	start := time.Now()
	qr, err := breaker.Execute(e.breaker, func() (*store.QueryResult, error) {
		return e.client.Query(ctx, artifact.SQL, artifact.Params, artifact.Settings)
	})
	elapsed := time.Since(start)
	telemetry.SearchLatency.WithLabelValues(tenantID).Observe(elapsed.Seconds())

	if err != nil {
		wrapped := wrapStoreError(err)
		telemetry.SearchErrTotal.WithLabelValues(tenantID, errCode(wrapped)).Inc()
		return nil, wrapped
	}

	telemetry.SearchOkTotal.WithLabelValues(tenantID).Inc()
	return &Result{
		Rows:                   qr.Rows,
		RowCount:               qr.RowCount,
		RowsBeforeLimitAtLeast: qr.RowsBeforeLimitAtLeast,
		ElapsedSeconds:         elapsed.Seconds(),
	}, nil
}

// Estimate runs the same compiled query but only reports the row-count
// lower bound and elapsed time (spec §4.K estimate(dsl)); it still
// executes the query since the columnar store reports
// rows_before_limit_at_least as part of a normal query response, not a
// separate cheap-estimate call.
func (e *Executor) Estimate(ctx context.Context, tenantID string, doc dslcompile.Document) (*Estimate, error) {
	result, err := e.Execute(ctx, tenantID, doc)
	if err != nil {
		return nil, err
	}
	rows := result.RowCount
	if result.RowsBeforeLimitAtLeast != nil {
		rows = *result.RowsBeforeLimitAtLeast
	}
	return &Estimate{
		RowsBeforeLimitAtLeast: rows,
		Elapsed:                time.Duration(result.ElapsedSeconds * float64(time.Second)),
	}, nil
}

// Facets returns the topK values of field under doc's WHERE clause (spec
// §4.K facets(dsl, field, k)).
func (e *Executor) Facets(ctx context.Context, tenantID string, doc dslcompile.Document, field string, k int) (*Result, error) {
	artifact, err := dslcompile.CompileFacets(doc, e.table, field, k, capability.Get())
	if err != nil {
		telemetry.SearchErrTotal.WithLabelValues(tenantID, errCode(err)).Inc()
		return nil, err
	}

	start := time.Now()
	qr, err := breaker.Execute(e.breaker, func() (*store.QueryResult, error) {
		return e.client.Query(ctx, artifact.SQL, artifact.Params, artifact.Settings)
	})
	elapsed := time.Since(start)
	telemetry.SearchLatency.WithLabelValues(tenantID).Observe(elapsed.Seconds())

	if err != nil {
		wrapped := wrapStoreError(err)
		telemetry.SearchErrTotal.WithLabelValues(tenantID, errCode(wrapped)).Inc()
		return nil, wrapped
	}

	telemetry.SearchOkTotal.WithLabelValues(tenantID).Inc()
	return &Result{Rows: qr.Rows, RowCount: qr.RowCount}, nil
}

func wrapStoreError(err error) error {
	if breaker.IsOpen(err) {
		return apierr.New(apierr.CodeServiceUnavailable, "columnar store circuit breaker is open")
	}
	if _, ok := apierr.As(err); ok {
		return err
	}
	return apierr.Wrap(apierr.CodeDatabaseError, "search query failed", err)
}

func errCode(err error) string {
	if ae, ok := apierr.As(err); ok {
		return string(ae.Code)
	}
	return fmt.Sprintf("%T", err)
}
