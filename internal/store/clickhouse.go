package store

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/wisbric/siemgate/internal/apierr"
)

// ClickHouseClient is the production Client backend: a thin wrapper over
// the native ClickHouse protocol driver.
type ClickHouseClient struct {
	conn     driver.Conn
	database string
}

// ClickHouseConfig configures a new client.
type ClickHouseConfig struct {
	Addr          string
	Database      string
	Username      string
	Password      string
	EnableLZ4     bool
}

// NewClickHouseClient opens a native-protocol connection and verifies
// liveness with SELECT 1 before returning.
func NewClickHouseClient(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseClient, error) {
	opts := &clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	}
	if cfg.EnableLZ4 {
		opts.Compression = &clickhouse.Compression{Method: clickhouse.CompressionLZ4}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening clickhouse connection: %w", err)
	}

	client := &ClickHouseClient{conn: conn, database: cfg.Database}
	if err := client.Ping(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *ClickHouseClient) Ping(ctx context.Context) error {
	if err := c.conn.Ping(ctx); err != nil {
		return apierr.Wrap(apierr.CodeStoreTransient, "clickhouse liveness probe failed", err)
	}
	return nil
}

func (c *ClickHouseClient) ProbeCapability(ctx context.Context, fn string) bool {
	var probe string
	switch fn {
	case "ipCIDRMatch":
		probe = "SELECT ipCIDRMatch('1.1.1.1', '1.1.1.0/24')"
	default:
		return false
	}
	rows, err := c.conn.Query(ctx, probe)
	if err != nil {
		return false
	}
	defer rows.Close()
	return rows.Next()
}

func (c *ClickHouseClient) Query(ctx context.Context, sql string, params []Param, settings Settings) (*QueryResult, error) {
	opts := make(map[string]any, len(settings))
	for k, v := range settings {
		opts[k] = v
	}

	namedParams := make([]any, 0, len(params))
	for _, p := range params {
		namedParams = append(namedParams, clickhouse.Named(p.Name, p.Value))
	}

	queryCtx := ctx
	if len(opts) > 0 {
		queryCtx = clickhouse.Context(ctx, clickhouse.WithSettings(opts))
	}

	rows, err := c.conn.Query(queryCtx, sql, namedParams...)
	if err != nil {
		return nil, classifyQueryError(err)
	}
	defer rows.Close()

	columnTypes := rows.ColumnTypes()
	columnNames := rows.Columns()

	var result QueryResult
	for rows.Next() {
		scanTargets := make([]any, len(columnTypes))
		for i, ct := range columnTypes {
			scanTargets[i] = newScanTarget(ct)
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, apierr.Wrap(apierr.CodeDatabaseError, "scanning row", err)
		}
		row := make(map[string]any, len(columnNames))
		for i, name := range columnNames {
			row[name] = derefScanTarget(scanTargets[i])
		}
		result.Rows = append(result.Rows, row)
		result.RowCount++
	}
	if err := rows.Err(); err != nil {
		return nil, classifyQueryError(err)
	}

	return &result, nil
}

func (c *ClickHouseClient) InsertBatch(ctx context.Context, table string, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := c.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", table))
	if err != nil {
		return &WriteError{Transient: true, Err: fmt.Errorf("preparing batch: %w", err)}
	}

	for _, e := range events {
		if err := batch.AppendStruct(&e); err != nil {
			return &WriteError{Transient: false, Err: fmt.Errorf("appending event %s: %w", e.EventID, err)}
		}
	}

	if err := batch.Send(); err != nil {
		return &WriteError{Transient: isTransient(err), Err: fmt.Errorf("sending batch: %w", err)}
	}
	return nil
}

func (c *ClickHouseClient) InsertAlerts(ctx context.Context, table string, rows []AlertRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := c.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", table))
	if err != nil {
		return &WriteError{Transient: true, Err: fmt.Errorf("preparing batch: %w", err)}
	}

	for _, r := range rows {
		if err := batch.AppendStruct(&r); err != nil {
			return &WriteError{Transient: false, Err: fmt.Errorf("appending alert %s: %w", r.AlertID, err)}
		}
	}

	if err := batch.Send(); err != nil {
		return &WriteError{Transient: isTransient(err), Err: fmt.Errorf("sending batch: %w", err)}
	}
	return nil
}

func classifyQueryError(err error) error {
	if isTransient(err) {
		return apierr.Wrap(apierr.CodeStoreTransient, "store query failed", err)
	}
	return apierr.Wrap(apierr.CodeDatabaseError, "store query failed", err)
}

// isTransient makes a best-effort classification of network/timeout
// failures (retryable) versus schema/parse failures (not). ClickHouse
// exceptions carry a numeric code; codes in the connection/timeout range
// are treated as transient, everything else as permanent, matching the
// propagation policy in spec §7.
func isTransient(err error) bool {
	var chErr *clickhouse.Exception
	if ok := asClickHouseException(err, &chErr); ok {
		switch chErr.Code {
		case 159, 160, 209, 210, 279, 425: // timeouts, connection failures, network errors
			return true
		default:
			return false
		}
	}
	// Anything that isn't a structured ClickHouse exception (dial errors,
	// context deadline, io.EOF) is assumed transient.
	return true
}

func asClickHouseException(err error, target **clickhouse.Exception) bool {
	for err != nil {
		if e, ok := err.(*clickhouse.Exception); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func newScanTarget(_ driver.ColumnType) any {
	var v any
	return &v
}

func derefScanTarget(v any) any {
	p, ok := v.(*any)
	if !ok {
		return v
	}
	return *p
}
