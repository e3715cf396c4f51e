// Package rules is the streaming rule engine: compiled StreamPlan variants
// evaluated against an event bus, producing alerts through
// internal/alerting (spec §4.L).
package rules

import "github.com/wisbric/siemgate/internal/dslcompile"

// StreamPlan is the sum type for a compiled detection plan (spec §3: "A
// full DSL document is {version, search, threshold?, cardinality?,
// sequence?}"). Exactly one variant is active per Rule.
type StreamPlan interface {
	isStreamPlan()
}

// Threshold fires when count(matching events, grouped by KeySelector)
// reaches CountGte within WindowSec.
type Threshold struct {
	KeySelector     []string
	WindowSec       uint32
	Filters         dslcompile.Expr
	CountGte        uint64
	ThrottleSeconds int
	DedupKey        string
}

// Sequence2 fires when an event matching StepB follows an event matching
// StepA (both sharing the same KeySelector values) within WindowSec.
type Sequence2 struct {
	KeySelector     []string
	WindowSec       uint32
	StepA           dslcompile.Expr
	StepB           dslcompile.Expr
	ThrottleSeconds int
	DedupKey        string
}

// Cardinality fires when the estimated number of distinct values of
// DistinctField (grouped by KeySelector) reaches DistinctGte within
// WindowSec.
type Cardinality struct {
	KeySelector     []string
	WindowSec       uint32
	Filters         dslcompile.Expr
	DistinctField   string
	DistinctGte     uint64
	ThrottleSeconds int
	DedupKey        string
}

func (Threshold) isStreamPlan()   {}
func (Sequence2) isStreamPlan()   {}
func (Cardinality) isStreamPlan() {}

// Rule pairs a compiled plan with its metadata (spec §4.L: "Each active
// rule is a compiled StreamPlan plus metadata {rule_id, tenant_scope,
// severity, version, active}").
type Rule struct {
	RuleID     string
	RuleName   string
	TenantID   string
	Severity   string
	Version    int
	Active     bool
	Priority   int
	Plan       StreamPlan
}
