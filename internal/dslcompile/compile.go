package dslcompile

import (
	"fmt"
	"net/netip"
	"regexp"
	"strings"

	"github.com/wisbric/siemgate/internal/apierr"
	"github.com/wisbric/siemgate/internal/capability"
	"github.com/wisbric/siemgate/internal/catalog"
	"github.com/wisbric/siemgate/internal/store"
)

const maxFacetK = 100

// Safety caps applied to every compiled query (spec §4.J.5).
var defaultSettings = store.Settings{
	"max_execution_time": 8,
	"max_result_rows":    10000,
	"max_result_bytes":   100 * 1024 * 1024,
	"max_memory_usage":   1024 * 1024 * 1024,
	"readonly":           1,
}

// Artifact is a compiled, ready-to-execute statement.
type Artifact struct {
	SQL      string
	Params   []store.Param
	Settings store.Settings
}

type builder struct {
	table   string
	caps    capability.Flags
	params  []store.Param
	counter int
}

func (b *builder) bind(value any) string {
	name := fmt.Sprintf("p%d", b.counter)
	b.counter++
	b.params = append(b.params, store.Param{Name: name, Value: value})
	return name
}

// Compile validates doc against the field catalog and lowers it to a
// parameterized SELECT over table. caps gates capability-dependent
// lowering (e.g. ipCIDRMatch availability).
func Compile(doc Document, table string, caps capability.Flags) (*Artifact, error) {
	if len(doc.TenantIDs) == 0 {
		return nil, apierr.New(apierr.CodeValidation, "tenant_ids must not be empty")
	}

	b := &builder{table: table, caps: caps}

	var clauses []string

	tenantClause, err := compileTenantScope(b, doc.TenantIDs)
	if err != nil {
		return nil, err
	}
	clauses = append(clauses, tenantClause)

	timeClause, err := compileTimeRange(b, doc.TimeRange)
	if err != nil {
		return nil, err
	}
	clauses = append(clauses, timeClause)

	if doc.Where != nil {
		whereClause, err := compileExpr(b, doc.Where)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, "("+whereClause+")")
	}

	sql := fmt.Sprintf("SELECT * FROM %s WHERE %s", table, strings.Join(clauses, " AND "))

	return &Artifact{SQL: sql, Params: b.params, Settings: defaultSettings}, nil
}

// CompileFacets compiles a topK facet query over field under the same
// WHERE clause as doc (spec §4.K facets(dsl, field, k)).
func CompileFacets(doc Document, table, field string, k int, caps capability.Flags) (*Artifact, error) {
	if k <= 0 || k > maxFacetK {
		return nil, apierr.New(apierr.CodeValidation, fmt.Sprintf("facet k must be in [1, %d]", maxFacetK))
	}

	canonical, _, ok := catalog.Canonicalize(field)
	if !ok {
		return nil, unknownFieldError(field)
	}

	artifact, err := Compile(doc, table, caps)
	if err != nil {
		return nil, err
	}

	whereStart := strings.Index(artifact.SQL, "WHERE")
	whereClause := artifact.SQL[whereStart:]

	sql := fmt.Sprintf("SELECT %s AS value, count(*) AS count FROM %s %s GROUP BY %s ORDER BY count DESC LIMIT %d",
		canonical, table, whereClause, canonical, k)

	return &Artifact{SQL: sql, Params: artifact.Params, Settings: artifact.Settings}, nil
}

func compileTenantScope(b *builder, tenantIDs []string) (string, error) {
	names := make([]string, 0, len(tenantIDs))
	for _, t := range tenantIDs {
		names = append(names, ":"+b.bind(t))
	}
	return fmt.Sprintf("tenant_id IN (%s)", strings.Join(names, ", ")), nil
}

func compileTimeRange(b *builder, tr TimeRange) (string, error) {
	switch {
	case tr.LastSeconds != nil:
		name := b.bind(*tr.LastSeconds)
		return fmt.Sprintf("event_timestamp >= toUInt32(now()) - :%s", name), nil
	case tr.From != nil && tr.To != nil:
		// Between{from=to} is a valid single-second point query.
		lo := b.bind(*tr.From)
		hi := b.bind(*tr.To)
		return fmt.Sprintf("event_timestamp BETWEEN :%s AND :%s", lo, hi), nil
	default:
		return "", apierr.New(apierr.CodeValidation, "time_range must be either Last{last_seconds} or Between{from,to}")
	}
}

func unknownFieldError(field string) error {
	return apierr.New(apierr.CodeUnknownField, fmt.Sprintf("unknown field: %s", field)).
		WithSuggestions(field, catalog.Suggestions(field, 5))
}

// resolvedField is either a catalog field (Canonical set) or a JSON path
// (Path set), bypassing catalog lookup entirely.
type resolvedField struct {
	Canonical string
	Kind      catalog.FieldKind
	IsJSON    bool
	Path      string
}

func resolveField(name string) (resolvedField, error) {
	if catalog.IsJSONPath(name) {
		return resolvedField{IsJSON: true, Path: name}, nil
	}
	canonical, kind, ok := catalog.Canonicalize(name)
	if !ok {
		return resolvedField{}, unknownFieldError(name)
	}
	return resolvedField{Canonical: canonical, Kind: kind}, nil
}

func compileExpr(b *builder, e Expr) (string, error) {
	switch v := e.(type) {
	case And:
		return compileBoolGroup(b, v.Exprs, "AND")
	case Or:
		return compileBoolGroup(b, v.Exprs, "OR")
	case Not:
		inner, err := compileExpr(b, v.Expr)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("NOT (%s)", inner), nil

	case Eq:
		return compileComparison(b, v.Field, "=", v.Value)
	case Ne:
		return compileComparison(b, v.Field, "!=", v.Value)
	case Gt:
		return compileNumericComparison(b, v.Field, ">", v.Value)
	case Gte:
		return compileNumericComparison(b, v.Field, ">=", v.Value)
	case Lt:
		return compileNumericComparison(b, v.Field, "<", v.Value)
	case Lte:
		return compileNumericComparison(b, v.Field, "<=", v.Value)
	case Between:
		return compileBetween(b, v)

	case In:
		return compileMembership(b, v.Field, v.Values, false)
	case Nin:
		return compileMembership(b, v.Field, v.Values, true)

	case Contains:
		return compileContains(b, v)
	case ContainsAny:
		return compileContainsAny(b, v)
	case Startswith:
		return compileAnchored(b, v.Field, v.Value, true)
	case Endswith:
		return compileAnchored(b, v.Field, v.Value, false)
	case Regex:
		return compileRegex(b, v)

	case Exists:
		return compileNullTest(b, v.Field, "IS NOT NULL")
	case Missing:
		return compileNullTest(b, v.Field, "IS NULL")
	case IsNull:
		return compileNullTest(b, v.Field, "IS NULL")
	case NotNull:
		return compileNullTest(b, v.Field, "IS NOT NULL")

	case JsonEq:
		return compileJsonEq(b, v)
	case IpInCidr:
		return compileIpInCidr(b, v)

	default:
		return "", apierr.New(apierr.CodeInvalidOperator, fmt.Sprintf("unsupported expression type %T", e))
	}
}

func compileBoolGroup(b *builder, exprs []Expr, op string) (string, error) {
	if len(exprs) == 0 {
		// An empty And/Or has no natural SQL form; treat it as a no-op
		// that matches everything under And, nothing under Or.
		if op == "AND" {
			return "1 = 1", nil
		}
		return "1 = 0", nil
	}
	parts := make([]string, 0, len(exprs))
	for _, e := range exprs {
		part, err := compileExpr(b, e)
		if err != nil {
			return "", err
		}
		parts = append(parts, "("+part+")")
	}
	return strings.Join(parts, " "+op+" "), nil
}

func compileComparison(b *builder, field string, op string, value any) (string, error) {
	rf, err := resolveField(field)
	if err != nil {
		return "", err
	}
	if rf.IsJSON {
		return "", apierr.New(apierr.CodeInvalidOperator, "Eq/Ne on a JSON path must use JsonEq").WithSuggestions(field, nil)
	}
	name := b.bind(value)
	return fmt.Sprintf("%s %s :%s", rf.Canonical, op, name), nil
}

func compileNumericComparison(b *builder, field, op string, value any) (string, error) {
	rf, err := resolveField(field)
	if err != nil {
		return "", err
	}
	if rf.IsJSON || !catalog.IsNumeric(rf.Canonical) {
		return "", apierr.New(apierr.CodeInvalidOperator, fmt.Sprintf("%s requires a numeric field, got %s", op, field)).WithSuggestions(field, nil)
	}
	name := b.bind(value)
	return fmt.Sprintf("%s %s :%s", rf.Canonical, op, name), nil
}

func compileBetween(b *builder, v Between) (string, error) {
	rf, err := resolveField(v.Field)
	if err != nil {
		return "", err
	}
	if rf.IsJSON || !catalog.IsNumeric(rf.Canonical) {
		return "", apierr.New(apierr.CodeInvalidOperator, "Between requires a numeric field").WithSuggestions(v.Field, nil)
	}
	lo := b.bind(v.Lo)
	hi := b.bind(v.Hi)
	return fmt.Sprintf("%s BETWEEN :%s AND :%s", rf.Canonical, lo, hi), nil
}

func compileMembership(b *builder, field string, values []any, negate bool) (string, error) {
	if len(values) == 0 {
		return "", apierr.New(apierr.CodeEmptyIn, fmt.Sprintf("In/Nin on %s requires at least one value", field)).WithSuggestions(field, nil)
	}
	rf, err := resolveField(field)
	if err != nil {
		return "", err
	}
	if rf.IsJSON {
		return "", apierr.New(apierr.CodeInvalidOperator, "In/Nin is not supported on JSON paths")
	}
	names := make([]string, 0, len(values))
	for _, v := range values {
		names = append(names, ":"+b.bind(v))
	}
	op := "IN"
	if negate {
		op = "NOT IN"
	}
	return fmt.Sprintf("%s %s (%s)", rf.Canonical, op, strings.Join(names, ", ")), nil
}

func requireStringLike(field string) (resolvedField, error) {
	rf, err := resolveField(field)
	if err != nil {
		return resolvedField{}, err
	}
	if rf.IsJSON || !catalog.IsStringLike(rf.Canonical) {
		return resolvedField{}, apierr.New(apierr.CodeInvalidOperator, fmt.Sprintf("string operator requires a string-like field, got %s", field)).WithSuggestions(field, nil)
	}
	return rf, nil
}

func compileContains(b *builder, v Contains) (string, error) {
	rf, err := requireStringLike(v.Field)
	if err != nil {
		return "", err
	}
	name := b.bind(v.Value)
	return fmt.Sprintf("positionCaseInsensitive(%s, :%s) > 0", rf.Canonical, name), nil
}

func compileContainsAny(b *builder, v ContainsAny) (string, error) {
	rf, err := requireStringLike(v.Field)
	if err != nil {
		return "", err
	}
	vals := make([]any, len(v.Values))
	for i, s := range v.Values {
		vals[i] = s
	}
	name := b.bind(vals)
	return fmt.Sprintf("multiSearchAnyCaseInsensitive(%s, :%s) > 0", rf.Canonical, name), nil
}

func compileAnchored(b *builder, field string, value string, prefix bool) (string, error) {
	rf, err := requireStringLike(field)
	if err != nil {
		return "", err
	}
	name := b.bind(value)
	if prefix {
		return fmt.Sprintf("startsWith(%s, :%s)", rf.Canonical, name), nil
	}
	return fmt.Sprintf("endsWith(%s, :%s)", rf.Canonical, name), nil
}

func compileRegex(b *builder, v Regex) (string, error) {
	rf, err := requireStringLike(v.Field)
	if err != nil {
		return "", err
	}
	// Pre-compiled at validation time: a pattern that cannot compile must
	// never reach the store as a string literal.
	if _, err := regexp.Compile(v.Pattern); err != nil {
		return "", apierr.New(apierr.CodeBadRegex, fmt.Sprintf("invalid regular expression: %v", err)).WithSuggestions(v.Field, nil)
	}
	name := b.bind(v.Pattern)
	return fmt.Sprintf("match(%s, :%s)", rf.Canonical, name), nil
}

func compileNullTest(b *builder, field, sqlOp string) (string, error) {
	rf, err := resolveField(field)
	if err != nil {
		return "", err
	}
	if rf.IsJSON || !catalog.IsNullable(rf.Canonical) {
		return "", apierr.New(apierr.CodeInvalidOperator, fmt.Sprintf("null test requires a nullable field, got %s", field)).WithSuggestions(field, nil)
	}
	return fmt.Sprintf("%s %s", rf.Canonical, sqlOp), nil
}

var jsonPathSegment = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

func compileJsonEq(b *builder, v JsonEq) (string, error) {
	var root, rest string
	switch {
	case strings.HasPrefix(v.Path, "metadata."):
		root, rest = "metadata", strings.TrimPrefix(v.Path, "metadata.")
	case strings.HasPrefix(v.Path, "raw_event."):
		root, rest = "raw_event", strings.TrimPrefix(v.Path, "raw_event.")
	default:
		return "", apierr.New(apierr.CodeValidation, "JsonEq path must begin with metadata. or raw_event.").WithSuggestions(v.Path, nil)
	}

	segments := strings.Split(rest, ".")
	quoted := make([]string, 0, len(segments))
	for _, s := range segments {
		if !jsonPathSegment.MatchString(s) {
			return "", apierr.New(apierr.CodeValidation, fmt.Sprintf("invalid JSON path segment: %q", s))
		}
		quoted = append(quoted, "'"+s+"'")
	}

	name := b.bind(v.Value)
	extract := fmt.Sprintf("JSONExtractString(%s, %s)", root, strings.Join(quoted, ", "))

	if root == "raw_event" {
		// JsonEq on a non-JSON raw_event must yield false, never an error.
		return fmt.Sprintf("if(isValidJSON(raw_event), %s, NULL) = :%s", extract, name), nil
	}
	return fmt.Sprintf("%s = :%s", extract, name), nil
}

func compileIpInCidr(b *builder, v IpInCidr) (string, error) {
	canonical, _, ok := catalog.Canonicalize(v.Field)
	if !ok {
		return "", unknownFieldError(v.Field)
	}
	if !catalog.IsIPField(canonical) {
		return "", apierr.New(apierr.CodeInvalidOperator, fmt.Sprintf("IpInCidr requires a designated IP field, got %s", v.Field)).WithSuggestions(v.Field, nil)
	}
	if _, err := netip.ParsePrefix(v.CIDR); err != nil {
		return "", apierr.New(apierr.CodeBadCIDR, fmt.Sprintf("invalid CIDR: %v", err)).WithSuggestions(v.Field, nil)
	}

	name := b.bind(v.CIDR)
	fn := "IPv4CIDRMatch"
	if b.caps.CIDRMatch {
		fn = "ipCIDRMatch"
	}
	return fmt.Sprintf("%s(%s, :%s)", fn, canonical, name), nil
}
