// Package controlplane is the in-memory tenant registry: a hot-reloadable,
// copy-on-write snapshot of tenant → limits, backed by Postgres.
package controlplane

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UnknownTenantID is the synthetic tenant an unrecognized tenant_id is
// routed to, with strict limits (spec §4.G tie-break).
const UnknownTenantID = "__unknown__"

// Limits is a tenant's resource envelope (spec §3).
type Limits struct {
	TenantID      string
	EPSSoft       uint32
	EPSHard       uint32
	Burst         uint32
	RetentionDays uint16
	ExportDailyMB uint32
	Compression   string
	UpdatedAt     time.Time
}

// Validate enforces the invariants from spec §3: eps_soft <= eps_hard,
// burst <= 3*eps_hard, 1 <= retention_days <= 3650.
func (l Limits) Validate() error {
	if l.EPSSoft > l.EPSHard {
		return fmt.Errorf("eps_soft (%d) must be <= eps_hard (%d)", l.EPSSoft, l.EPSHard)
	}
	if l.Burst > 3*l.EPSHard {
		return fmt.Errorf("burst (%d) must be <= 3*eps_hard (%d)", l.Burst, 3*l.EPSHard)
	}
	if l.RetentionDays < 1 || l.RetentionDays > 3650 {
		return fmt.Errorf("retention_days (%d) must be in [1, 3650]", l.RetentionDays)
	}
	return nil
}

func unknownTenantLimits() Limits {
	return Limits{
		TenantID:      UnknownTenantID,
		EPSSoft:       10,
		EPSHard:       20,
		Burst:         20,
		RetentionDays: 1,
		ExportDailyMB: 0,
		Compression:   "lz4",
	}
}

// Registry is a read-mostly, lock-free-after-publication snapshot of
// every tenant's limits (spec §5 and §9: "Model the registry as an
// immutable snapshot shared by readers; writers publish a new snapshot
// atomically").
type Registry struct {
	snapshot atomic.Pointer[map[string]Limits]
	store    *PostgresStore
}

// NewRegistry creates an empty registry backed by store. Call Reload once
// before serving traffic to populate the initial snapshot.
func NewRegistry(store *PostgresStore) *Registry {
	r := &Registry{store: store}
	empty := map[string]Limits{}
	r.snapshot.Store(&empty)
	return r
}

// Get resolves a tenant's limits. Unknown tenants resolve to the
// synthetic __unknown__ tenant with strict limits rather than an error.
func (r *Registry) Get(tenantID string) Limits {
	snap := *r.snapshot.Load()
	if l, ok := snap[tenantID]; ok {
		return l
	}
	if l, ok := snap[UnknownTenantID]; ok {
		return l
	}
	return unknownTenantLimits()
}

// Reload fetches the current limits from Postgres and atomically
// publishes a new snapshot. Safe to call concurrently with readers and
// with itself (last writer wins).
func (r *Registry) Reload(ctx context.Context) error {
	all, err := r.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("loading tenant limits: %w", err)
	}

	next := make(map[string]Limits, len(all)+1)
	for _, l := range all {
		next[l.TenantID] = l
	}
	if _, ok := next[UnknownTenantID]; !ok {
		next[UnknownTenantID] = unknownTenantLimits()
	}

	r.snapshot.Store(&next)
	return nil
}

// PostgresStore persists tenant limits to the control-plane database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) LoadAll(ctx context.Context) ([]Limits, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tenant_id, eps_soft, eps_hard, burst, retention_days,
		       export_daily_mb, compression, updated_at
		FROM tenant_limits
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Limits
	for rows.Next() {
		var l Limits
		if err := rows.Scan(&l.TenantID, &l.EPSSoft, &l.EPSHard, &l.Burst,
			&l.RetentionDays, &l.ExportDailyMB, &l.Compression, &l.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Upsert writes l, using optimistic concurrency on updated_at: the write
// only applies if the row is new or its stored updated_at matches
// expectedUpdatedAt, per spec §3's "mutated atomically via CAS on
// updated_at".
func (s *PostgresStore) Upsert(ctx context.Context, l Limits, expectedUpdatedAt time.Time) error {
	if err := l.Validate(); err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO tenant_limits
			(tenant_id, eps_soft, eps_hard, burst, retention_days, export_daily_mb, compression, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (tenant_id) DO UPDATE SET
			eps_soft = EXCLUDED.eps_soft,
			eps_hard = EXCLUDED.eps_hard,
			burst = EXCLUDED.burst,
			retention_days = EXCLUDED.retention_days,
			export_daily_mb = EXCLUDED.export_daily_mb,
			compression = EXCLUDED.compression,
			updated_at = now()
		WHERE tenant_limits.updated_at = $8
	`, l.TenantID, l.EPSSoft, l.EPSHard, l.Burst, l.RetentionDays, l.ExportDailyMB, l.Compression, expectedUpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// Insert creates a brand-new tenant's limits row.
func (s *PostgresStore) Insert(ctx context.Context, l Limits) error {
	if err := l.Validate(); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tenant_limits
			(tenant_id, eps_soft, eps_hard, burst, retention_days, export_daily_mb, compression, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	`, l.TenantID, l.EPSSoft, l.EPSHard, l.Burst, l.RetentionDays, l.ExportDailyMB, l.Compression)
	return err
}
