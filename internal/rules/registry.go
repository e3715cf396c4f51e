package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/siemgate/internal/dslcompile"
)

// Registry is a read-mostly, lock-free-after-publication snapshot of
// every tenant's active rules (mirrors internal/controlplane.Registry's
// copy-on-write pattern, spec §9).
type Registry struct {
	snapshot atomic.Pointer[map[string][]Rule]
	store    *PostgresStore
}

// NewRegistry creates an empty registry backed by store. Call Reload once
// before starting the engine to populate the initial snapshot.
func NewRegistry(store *PostgresStore) *Registry {
	r := &Registry{store: store}
	empty := map[string][]Rule{}
	r.snapshot.Store(&empty)
	return r
}

// ActiveRules implements RuleSource.
func (r *Registry) ActiveRules(tenantID string) []Rule {
	snap := *r.snapshot.Load()
	return snap[tenantID]
}

// Reload fetches every rule from Postgres and atomically publishes a new
// per-tenant snapshot.
func (r *Registry) Reload(ctx context.Context) error {
	all, err := r.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}

	next := make(map[string][]Rule)
	for _, rule := range all {
		next[rule.TenantID] = append(next[rule.TenantID], rule)
	}
	r.snapshot.Store(&next)
	return nil
}

// PostgresStore persists rule definitions in the control-plane database.
// The plan is stored as a single JSON column keyed by "kind" so that the
// StreamPlan sum type round-trips without a join per variant.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) LoadAll(ctx context.Context) ([]Rule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT rule_id, rule_name, tenant_id, severity, version, active, priority, plan
		FROM rules
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Rule
	for rows.Next() {
		var rule Rule
		var planJSON []byte
		if err := rows.Scan(&rule.RuleID, &rule.RuleName, &rule.TenantID, &rule.Severity,
			&rule.Version, &rule.Active, &rule.Priority, &planJSON); err != nil {
			return nil, err
		}
		plan, err := decodePlan(planJSON)
		if err != nil {
			return nil, fmt.Errorf("decoding plan for rule %s: %w", rule.RuleID, err)
		}
		rule.Plan = plan
		out = append(out, rule)
	}
	return out, rows.Err()
}

// Upsert persists rule, encoding its Plan field as the discriminated JSON
// document decodePlan expects.
func (s *PostgresStore) Upsert(ctx context.Context, rule Rule) error {
	planJSON, err := encodePlan(rule.Plan)
	if err != nil {
		return fmt.Errorf("encoding plan for rule %s: %w", rule.RuleID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO rules (rule_id, rule_name, tenant_id, severity, version, active, priority, plan)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (rule_id) DO UPDATE SET
			rule_name = EXCLUDED.rule_name,
			tenant_id = EXCLUDED.tenant_id,
			severity = EXCLUDED.severity,
			version = EXCLUDED.version,
			active = EXCLUDED.active,
			priority = EXCLUDED.priority,
			plan = EXCLUDED.plan
	`, rule.RuleID, rule.RuleName, rule.TenantID, rule.Severity, rule.Version, rule.Active, rule.Priority, planJSON)
	return err
}

// planDoc is the on-disk JSON shape for a StreamPlan: kind selects which
// of the three optional sub-documents is populated, mirroring the DSL
// document's own {threshold?, cardinality?, sequence?} shape (spec §3).
type planDoc struct {
	Kind        string           `json:"kind"`
	Threshold   *thresholdDoc    `json:"threshold,omitempty"`
	Sequence2   *sequence2Doc    `json:"sequence2,omitempty"`
	Cardinality *cardinalityDoc  `json:"cardinality,omitempty"`
}

type thresholdDoc struct {
	KeySelector     []string        `json:"key_selector"`
	WindowSec       uint32          `json:"window_sec"`
	Filters         json.RawMessage `json:"filters,omitempty"`
	CountGte        uint64          `json:"count_gte"`
	ThrottleSeconds int             `json:"throttle_seconds"`
	DedupKey        string          `json:"dedup_key,omitempty"`
}

type sequence2Doc struct {
	KeySelector     []string        `json:"key_selector"`
	WindowSec       uint32          `json:"window_sec"`
	StepA           json.RawMessage `json:"step_a"`
	StepB           json.RawMessage `json:"step_b"`
	ThrottleSeconds int             `json:"throttle_seconds"`
	DedupKey        string          `json:"dedup_key,omitempty"`
}

type cardinalityDoc struct {
	KeySelector     []string        `json:"key_selector"`
	WindowSec       uint32          `json:"window_sec"`
	Filters         json.RawMessage `json:"filters,omitempty"`
	DistinctField   string          `json:"distinct_field"`
	DistinctGte     uint64          `json:"distinct_gte"`
	ThrottleSeconds int             `json:"throttle_seconds"`
	DedupKey        string          `json:"dedup_key,omitempty"`
}

// EncodePlan renders plan to its on-disk JSON shape, the inverse of
// DecodePlan.
func EncodePlan(plan StreamPlan) ([]byte, error) {
	return encodePlan(plan)
}

// DecodePlan parses the on-disk JSON shape produced by EncodePlan back
// into a StreamPlan; internal/httpserver's rule management handlers use it
// to build a Rule from an inbound admin request.
func DecodePlan(raw []byte) (StreamPlan, error) {
	return decodePlan(raw)
}

func encodePlan(plan StreamPlan) ([]byte, error) {
	switch v := plan.(type) {
	case Threshold:
		filters, err := dslcompile.MarshalExpr(v.Filters)
		if err != nil {
			return nil, err
		}
		return json.Marshal(planDoc{Kind: "threshold", Threshold: &thresholdDoc{
			KeySelector: v.KeySelector, WindowSec: v.WindowSec, Filters: filters,
			CountGte: v.CountGte, ThrottleSeconds: v.ThrottleSeconds, DedupKey: v.DedupKey,
		}})
	case Sequence2:
		a, err := dslcompile.MarshalExpr(v.StepA)
		if err != nil {
			return nil, err
		}
		b, err := dslcompile.MarshalExpr(v.StepB)
		if err != nil {
			return nil, err
		}
		return json.Marshal(planDoc{Kind: "sequence2", Sequence2: &sequence2Doc{
			KeySelector: v.KeySelector, WindowSec: v.WindowSec, StepA: a, StepB: b,
			ThrottleSeconds: v.ThrottleSeconds, DedupKey: v.DedupKey,
		}})
	case Cardinality:
		filters, err := dslcompile.MarshalExpr(v.Filters)
		if err != nil {
			return nil, err
		}
		return json.Marshal(planDoc{Kind: "cardinality", Cardinality: &cardinalityDoc{
			KeySelector: v.KeySelector, WindowSec: v.WindowSec, Filters: filters,
			DistinctField: v.DistinctField, DistinctGte: v.DistinctGte,
			ThrottleSeconds: v.ThrottleSeconds, DedupKey: v.DedupKey,
		}})
	default:
		return nil, fmt.Errorf("rules: unsupported plan type %T", plan)
	}
}

func decodePlan(raw []byte) (StreamPlan, error) {
	var doc planDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	switch doc.Kind {
	case "threshold":
		if doc.Threshold == nil {
			return nil, fmt.Errorf("rules: threshold plan missing its body")
		}
		filters, err := dslcompile.UnmarshalExpr(doc.Threshold.Filters)
		if err != nil {
			return nil, err
		}
		return Threshold{
			KeySelector: doc.Threshold.KeySelector, WindowSec: doc.Threshold.WindowSec,
			Filters: filters, CountGte: doc.Threshold.CountGte,
			ThrottleSeconds: doc.Threshold.ThrottleSeconds, DedupKey: doc.Threshold.DedupKey,
		}, nil
	case "sequence2":
		if doc.Sequence2 == nil {
			return nil, fmt.Errorf("rules: sequence2 plan missing its body")
		}
		a, err := dslcompile.UnmarshalExpr(doc.Sequence2.StepA)
		if err != nil {
			return nil, err
		}
		b, err := dslcompile.UnmarshalExpr(doc.Sequence2.StepB)
		if err != nil {
			return nil, err
		}
		return Sequence2{
			KeySelector: doc.Sequence2.KeySelector, WindowSec: doc.Sequence2.WindowSec,
			StepA: a, StepB: b,
			ThrottleSeconds: doc.Sequence2.ThrottleSeconds, DedupKey: doc.Sequence2.DedupKey,
		}, nil
	case "cardinality":
		if doc.Cardinality == nil {
			return nil, fmt.Errorf("rules: cardinality plan missing its body")
		}
		filters, err := dslcompile.UnmarshalExpr(doc.Cardinality.Filters)
		if err != nil {
			return nil, err
		}
		return Cardinality{
			KeySelector: doc.Cardinality.KeySelector, WindowSec: doc.Cardinality.WindowSec,
			Filters: filters, DistinctField: doc.Cardinality.DistinctField,
			DistinctGte: doc.Cardinality.DistinctGte,
			ThrottleSeconds: doc.Cardinality.ThrottleSeconds, DedupKey: doc.Cardinality.DedupKey,
		}, nil
	default:
		return nil, fmt.Errorf("rules: unknown plan kind %q", doc.Kind)
	}
}
