// Package catalog is the process-lifetime field catalog for the canonical
// event schema: canonical names, aliases, kinds, and the operator
// legality rules the DSL compiler consults during validation.
package catalog

import (
	"sort"
	"strings"
)

// FieldKind classifies a canonical field for operator legality and SQL
// lowering purposes.
type FieldKind int

const (
	KindString FieldKind = iota
	KindNullableString
	KindUInt16
	KindUInt32
	KindUInt64
	KindBool
	KindJsonText
)

func (k FieldKind) String() string {
	switch k {
	case KindString:
		return "String"
	case KindNullableString:
		return "NullableString"
	case KindUInt16:
		return "UInt16"
	case KindUInt32:
		return "UInt32"
	case KindUInt64:
		return "UInt64"
	case KindBool:
		return "Bool"
	case KindJsonText:
		return "JsonText"
	default:
		return "Unknown"
	}
}

func (k FieldKind) isNumeric() bool {
	switch k {
	case KindUInt16, KindUInt32, KindUInt64:
		return true
	default:
		return false
	}
}

func (k FieldKind) isStringLike() bool {
	switch k {
	case KindString, KindNullableString, KindJsonText:
		return true
	default:
		return false
	}
}

func (k FieldKind) nullable() bool {
	return k == KindNullableString
}

// field describes one canonical event field.
type field struct {
	name     string
	kind     FieldKind
	isIPAddr bool
}

// fields is the static table of canonical fields; byName is built from it
// once at init time.
var fields = []field{
	{name: "event_id", kind: KindString},
	{name: "event_timestamp", kind: KindUInt32},
	{name: "tenant_id", kind: KindString},
	{name: "event_category", kind: KindString},
	{name: "event_action", kind: KindString},
	{name: "raw_event", kind: KindString},
	{name: "metadata", kind: KindJsonText},
	{name: "source_ip", kind: KindNullableString, isIPAddr: true},
	{name: "destination_ip", kind: KindNullableString, isIPAddr: true},
	{name: "source_port", kind: KindUInt16},
	{name: "dest_port", kind: KindUInt16},
	{name: "protocol", kind: KindNullableString},
	{name: "user_id", kind: KindNullableString},
	{name: "user_name", kind: KindNullableString},
	{name: "host", kind: KindNullableString},
	{name: "severity", kind: KindNullableString},
	{name: "severity_int", kind: KindUInt16},
	{name: "event_outcome", kind: KindNullableString},
	{name: "message", kind: KindNullableString},
	{name: "vendor", kind: KindNullableString},
	{name: "product", kind: KindNullableString},
	{name: "source_type", kind: KindNullableString},
	{name: "event_type", kind: KindNullableString},
	{name: "source_id", kind: KindNullableString},
	{name: "source_seq", kind: KindUInt64},
	{name: "ti_match", kind: KindBool},
	{name: "retention_days", kind: KindUInt16},
	{name: "created_at", kind: KindUInt32},
}

// aliases maps a loosely-spelled inbound name to its canonical field name.
var aliases = map[string]string{
	"src_ip":        "source_ip",
	"srcip":         "source_ip",
	"dst_ip":        "destination_ip",
	"dest_ip":       "destination_ip",
	"dstip":         "destination_ip",
	"src_port":      "source_port",
	"dst_port":      "dest_port",
	"destport":      "dest_port",
	"user":          "user_name",
	"username":      "user_name",
	"hostname":      "host",
	"sev":           "severity",
	"outcome":       "event_outcome",
	"msg":           "message",
	"category":      "event_category",
	"action":        "event_action",
	"timestamp":     "event_timestamp",
	"ts":            "event_timestamp",
	"id":            "event_id",
}

var byName map[string]field

func init() {
	byName = make(map[string]field, len(fields))
	for _, f := range fields {
		byName[f.name] = f
	}
}

// Canonicalize resolves name (possibly an alias) to its canonical field
// name and FieldKind. The second return value is false for unknown fields
// not present in the catalog or alias table.
func Canonicalize(name string) (string, FieldKind, bool) {
	n := strings.TrimSpace(name)
	if canon, ok := aliases[n]; ok {
		n = canon
	}
	f, ok := byName[n]
	if !ok {
		return "", 0, false
	}
	return f.name, f.kind, true
}

// lookup returns the field descriptor for an already-canonical name.
func lookup(canonicalName string) (field, bool) {
	f, ok := byName[canonicalName]
	return f, ok
}

// IsIPField reports whether the canonical field name is a designated IP
// address field, legal as the left-hand side of IpInCidr.
func IsIPField(canonicalName string) bool {
	f, ok := lookup(canonicalName)
	return ok && f.isIPAddr
}

// IsNumeric reports whether the canonical field supports numeric
// comparison operators (Gt/Gte/Lt/Lte/Between).
func IsNumeric(canonicalName string) bool {
	f, ok := lookup(canonicalName)
	return ok && f.kind.isNumeric()
}

// IsStringLike reports whether the canonical field supports string
// operators (Contains/Startswith/Endswith/Regex).
func IsStringLike(canonicalName string) bool {
	f, ok := lookup(canonicalName)
	return ok && f.kind.isStringLike()
}

// IsNullable reports whether the canonical field may hold SQL NULL, and so
// supports Exists/Missing/IsNull/NotNull.
func IsNullable(canonicalName string) bool {
	f, ok := lookup(canonicalName)
	return ok && f.kind.nullable()
}

// Kind returns the FieldKind of an already-canonical field name.
func Kind(canonicalName string) (FieldKind, bool) {
	f, ok := lookup(canonicalName)
	return f.kind, ok
}

// IsJSONPath reports whether path is a JSON-extraction path that bypasses
// catalog lookup entirely (anything rooted at metadata. or raw_event.).
func IsJSONPath(path string) bool {
	return strings.HasPrefix(path, "metadata.") || strings.HasPrefix(path, "raw_event.")
}

// Suggestions returns up to limit canonical field names (and their
// aliases) that are close to the unrecognized name, ranked by Levenshtein
// distance, for UNKNOWN_FIELD error messages.
func Suggestions(name string, limit int) []string {
	type scored struct {
		name string
		dist int
	}
	candidates := make(map[string]struct{}, len(fields)+len(aliases))
	for _, f := range fields {
		candidates[f.name] = struct{}{}
	}
	for a := range aliases {
		candidates[a] = struct{}{}
	}

	lname := strings.ToLower(name)
	scoredList := make([]scored, 0, len(candidates))
	for c := range candidates {
		d := levenshtein(lname, strings.ToLower(c))
		scoredList = append(scoredList, scored{name: c, dist: d})
	}
	sort.Slice(scoredList, func(i, j int) bool {
		if scoredList[i].dist != scoredList[j].dist {
			return scoredList[i].dist < scoredList[j].dist
		}
		return scoredList[i].name < scoredList[j].name
	})

	out := make([]string, 0, limit)
	for _, s := range scoredList {
		if len(out) >= limit {
			break
		}
		// Resolve any suggested alias to its canonical name for display.
		n := s.name
		if canon, ok := aliases[n]; ok {
			n = canon
		}
		dup := false
		for _, existing := range out {
			if existing == n {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, n)
		}
	}
	return out
}

func levenshtein(a, b string) int {
	la, lb := len(a), len(b)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}
	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			m := del
			if ins < m {
				m = ins
			}
			if sub < m {
				m = sub
			}
			curr[j] = m
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}
