// Package dslcompile compiles the typed search DSL's abstract expression
// language into validated, parameterized SQL for the columnar store
// (spec §4.J).
package dslcompile

// Expr is the sum type for the search DSL's boolean expression tree.
// Concrete variants are the unexported-field-free structs below; avoid
// adding behavior to Expr itself beyond the marker method.
type Expr interface {
	isExpr()
}

type And struct{ Exprs []Expr }
type Or struct{ Exprs []Expr }
type Not struct{ Expr Expr }

type Eq struct {
	Field string
	Value any
}
type Ne struct {
	Field string
	Value any
}
type Gt struct {
	Field string
	Value any
}
type Gte struct {
	Field string
	Value any
}
type Lt struct {
	Field string
	Value any
}
type Lte struct {
	Field string
	Value any
}
type Between struct {
	Field  string
	Lo, Hi any
}

type In struct {
	Field  string
	Values []any
}
type Nin struct {
	Field  string
	Values []any
}

type Contains struct {
	Field string
	Value string
}
type ContainsAny struct {
	Field  string
	Values []string
}
type Startswith struct {
	Field string
	Value string
}
type Endswith struct {
	Field string
	Value string
}
type Regex struct {
	Field   string
	Pattern string
}

type Exists struct{ Field string }
type Missing struct{ Field string }
type IsNull struct{ Field string }
type NotNull struct{ Field string }

// JsonEq tests a JSON-extraction path (rooted at "metadata." or
// "raw_event.") for equality with Value, bypassing catalog lookup.
type JsonEq struct {
	Path  string
	Value any
}

// IpInCidr tests whether Field (a designated IP field) falls within CIDR.
type IpInCidr struct {
	Field string
	CIDR  string
}

func (And) isExpr()         {}
func (Or) isExpr()          {}
func (Not) isExpr()         {}
func (Eq) isExpr()          {}
func (Ne) isExpr()          {}
func (Gt) isExpr()          {}
func (Gte) isExpr()         {}
func (Lt) isExpr()          {}
func (Lte) isExpr()         {}
func (Between) isExpr()     {}
func (In) isExpr()          {}
func (Nin) isExpr()         {}
func (Contains) isExpr()    {}
func (ContainsAny) isExpr() {}
func (Startswith) isExpr()  {}
func (Endswith) isExpr()    {}
func (Regex) isExpr()       {}
func (Exists) isExpr()      {}
func (Missing) isExpr()     {}
func (IsNull) isExpr()      {}
func (NotNull) isExpr()     {}
func (JsonEq) isExpr()      {}
func (IpInCidr) isExpr()    {}

// TimeRange is either a trailing window (Last) or an absolute span
// (Between); exactly one of LastSeconds or From/To should be set.
type TimeRange struct {
	LastSeconds *uint32
	From, To    *uint32
}

// Document is a full DSL document's search clause (spec §3). The
// optional threshold/cardinality/sequence plan fields belong to the
// streaming rule engine (internal/rules) and are not compiled here.
type Document struct {
	Version   int
	TenantIDs []string
	TimeRange TimeRange
	Where     Expr
}
