package rules

import (
	"encoding/json"
	"net/netip"
	"regexp"
	"strings"
	"sync"

	"github.com/wisbric/siemgate/internal/catalog"
	"github.com/wisbric/siemgate/internal/dslcompile"
	"github.com/wisbric/siemgate/internal/store"
)

// fields is an event flattened to a field-name-keyed map, the in-memory
// analogue of the row the compiled SQL filter would match against in
// internal/search. Built once per event via a JSON round-trip so that
// json struct tags stay the single source of truth for field naming
// (mirrored from internal/normalize's own use of JSON for metadata).
type fields map[string]any

func toFields(e store.Event) fields {
	raw, err := json.Marshal(e)
	if err != nil {
		return fields{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fields{}
	}
	return fields(m)
}

// Match evaluates expr against event in-process, the streaming
// equivalent of dslcompile's SQL lowering (spec §4.L evaluators run
// "On each event matching filters").
func Match(expr dslcompile.Expr, event store.Event) bool {
	if expr == nil {
		return true
	}
	return matchExpr(expr, toFields(event))
}

func matchExpr(e dslcompile.Expr, f fields) bool {
	switch v := e.(type) {
	case dslcompile.And:
		for _, sub := range v.Exprs {
			if !matchExpr(sub, f) {
				return false
			}
		}
		return true
	case dslcompile.Or:
		for _, sub := range v.Exprs {
			if matchExpr(sub, f) {
				return true
			}
		}
		return false
	case dslcompile.Not:
		return !matchExpr(v.Expr, f)

	case dslcompile.Eq:
		val, ok := f.lookup(v.Field)
		return ok && equalLoose(val, v.Value)
	case dslcompile.Ne:
		val, ok := f.lookup(v.Field)
		return !ok || !equalLoose(val, v.Value)
	case dslcompile.Gt:
		return numericCompare(f, v.Field, v.Value, func(a, b float64) bool { return a > b })
	case dslcompile.Gte:
		return numericCompare(f, v.Field, v.Value, func(a, b float64) bool { return a >= b })
	case dslcompile.Lt:
		return numericCompare(f, v.Field, v.Value, func(a, b float64) bool { return a < b })
	case dslcompile.Lte:
		return numericCompare(f, v.Field, v.Value, func(a, b float64) bool { return a <= b })
	case dslcompile.Between:
		lo, loOk := toFloat(v.Lo)
		hi, hiOk := toFloat(v.Hi)
		val, ok := numericValue(f, v.Field)
		return ok && loOk && hiOk && val >= lo && val <= hi

	case dslcompile.In:
		val, ok := f.lookup(v.Field)
		if !ok {
			return false
		}
		for _, candidate := range v.Values {
			if equalLoose(val, candidate) {
				return true
			}
		}
		return false
	case dslcompile.Nin:
		val, ok := f.lookup(v.Field)
		if !ok {
			return true
		}
		for _, candidate := range v.Values {
			if equalLoose(val, candidate) {
				return false
			}
		}
		return true

	case dslcompile.Contains:
		s, ok := stringValue(f, v.Field)
		return ok && strings.Contains(strings.ToLower(s), strings.ToLower(v.Value))
	case dslcompile.ContainsAny:
		s, ok := stringValue(f, v.Field)
		if !ok {
			return false
		}
		lower := strings.ToLower(s)
		for _, needle := range v.Values {
			if strings.Contains(lower, strings.ToLower(needle)) {
				return true
			}
		}
		return false
	case dslcompile.Startswith:
		s, ok := stringValue(f, v.Field)
		return ok && strings.HasPrefix(s, v.Value)
	case dslcompile.Endswith:
		s, ok := stringValue(f, v.Field)
		return ok && strings.HasSuffix(s, v.Value)
	case dslcompile.Regex:
		s, ok := stringValue(f, v.Field)
		if !ok {
			return false
		}
		re := regexCache(v.Pattern)
		return re != nil && re.MatchString(s)

	case dslcompile.Exists:
		val, ok := f.lookup(v.Field)
		return ok && val != nil
	case dslcompile.Missing:
		val, ok := f.lookup(v.Field)
		return !ok || val == nil
	case dslcompile.IsNull:
		val, ok := f.lookup(v.Field)
		return !ok || val == nil
	case dslcompile.NotNull:
		val, ok := f.lookup(v.Field)
		return ok && val != nil

	case dslcompile.JsonEq:
		return matchJSONPath(f, v.Path, v.Value)
	case dslcompile.IpInCidr:
		return matchCIDR(f, v.Field, v.CIDR)

	default:
		return false
	}
}

func (f fields) lookup(name string) (any, bool) {
	canonical, _, ok := catalog.Canonicalize(name)
	if !ok {
		canonical = name
	}
	v, ok := f[canonical]
	return v, ok
}

func equalLoose(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return toStr(a) == toStr(b)
}

func numericCompare(f fields, field string, want any, cmp func(a, b float64) bool) bool {
	val, ok := numericValue(f, field)
	wantF, wantOk := toFloat(want)
	return ok && wantOk && cmp(val, wantF)
}

func numericValue(f fields, field string) (float64, bool) {
	val, ok := f.lookup(field)
	if !ok {
		return 0, false
	}
	return toFloat(val)
}

func stringValue(f fields, field string) (string, bool) {
	val, ok := f.lookup(field)
	if !ok || val == nil {
		return "", false
	}
	return toStr(val), true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint16:
		return float64(n), true
	default:
		return 0, false
	}
}

func toStr(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		b, _ := json.Marshal(s)
		return string(b)
	}
}

var (
	regexMu    sync.Mutex
	regexCompiled = map[string]*regexp.Regexp{}
)

func regexCache(pattern string) *regexp.Regexp {
	regexMu.Lock()
	defer regexMu.Unlock()
	if re, ok := regexCompiled[pattern]; ok {
		return re
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		regexCompiled[pattern] = nil
		return nil
	}
	regexCompiled[pattern] = re
	return re
}

func matchJSONPath(f fields, path string, want any) bool {
	var root string
	var rest string
	switch {
	case strings.HasPrefix(path, "metadata."):
		root, rest = "metadata", strings.TrimPrefix(path, "metadata.")
	case strings.HasPrefix(path, "raw_event."):
		root, rest = "raw_event", strings.TrimPrefix(path, "raw_event.")
	default:
		return false
	}

	raw, ok := f[root]
	if !ok {
		return false
	}
	text, ok := raw.(string)
	if !ok || text == "" {
		return false
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return false
	}

	var cur any = doc
	for _, segment := range strings.Split(rest, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return false
		}
		cur, ok = m[segment]
		if !ok {
			return false
		}
	}
	return equalLoose(cur, want)
}

func matchCIDR(f fields, field, cidr string) bool {
	s, ok := stringValue(f, field)
	if !ok {
		return false
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return false
	}
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return false
	}
	return prefix.Contains(addr)
}
