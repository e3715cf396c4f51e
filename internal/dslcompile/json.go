package dslcompile

import (
	"encoding/json"
	"fmt"
)

// exprDoc is the wire shape of a single Expr node: op names the variant,
// and only the fields that variant uses are populated. This is the JSON
// form search requests and persisted rule filters use to round-trip the
// Expr sum type without a parser.
type exprDoc struct {
	Op      string          `json:"op"`
	Exprs   []exprDoc       `json:"exprs,omitempty"`
	Expr    *exprDoc        `json:"expr,omitempty"`
	Field   string          `json:"field,omitempty"`
	Value   json.RawMessage `json:"value,omitempty"`
	Lo      json.RawMessage `json:"lo,omitempty"`
	Hi      json.RawMessage `json:"hi,omitempty"`
	Values  json.RawMessage `json:"values,omitempty"`
	Path    string          `json:"path,omitempty"`
	CIDR    string          `json:"cidr,omitempty"`
	Pattern string          `json:"pattern,omitempty"`
}

// MarshalExpr encodes e as its tagged JSON form. A nil Expr marshals to
// JSON null.
func MarshalExpr(e Expr) (json.RawMessage, error) {
	if e == nil {
		return json.RawMessage("null"), nil
	}
	doc, err := toExprDoc(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

// UnmarshalExpr decodes raw into an Expr. Empty input or a JSON null
// decodes to a nil Expr.
func UnmarshalExpr(raw json.RawMessage) (Expr, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var doc exprDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decoding expr: %w", err)
	}
	return fromExprDoc(doc)
}

func toExprDoc(e Expr) (exprDoc, error) {
	marshalAny := func(v any) (json.RawMessage, error) { return json.Marshal(v) }

	switch v := e.(type) {
	case And:
		subs, err := toExprDocs(v.Exprs)
		return exprDoc{Op: "and", Exprs: subs}, err
	case Or:
		subs, err := toExprDocs(v.Exprs)
		return exprDoc{Op: "or", Exprs: subs}, err
	case Not:
		sub, err := toExprDoc(v.Expr)
		if err != nil {
			return exprDoc{}, err
		}
		return exprDoc{Op: "not", Expr: &sub}, nil

	case Eq:
		val, err := marshalAny(v.Value)
		return exprDoc{Op: "eq", Field: v.Field, Value: val}, err
	case Ne:
		val, err := marshalAny(v.Value)
		return exprDoc{Op: "ne", Field: v.Field, Value: val}, err
	case Gt:
		val, err := marshalAny(v.Value)
		return exprDoc{Op: "gt", Field: v.Field, Value: val}, err
	case Gte:
		val, err := marshalAny(v.Value)
		return exprDoc{Op: "gte", Field: v.Field, Value: val}, err
	case Lt:
		val, err := marshalAny(v.Value)
		return exprDoc{Op: "lt", Field: v.Field, Value: val}, err
	case Lte:
		val, err := marshalAny(v.Value)
		return exprDoc{Op: "lte", Field: v.Field, Value: val}, err
	case Between:
		lo, err := marshalAny(v.Lo)
		if err != nil {
			return exprDoc{}, err
		}
		hi, err := marshalAny(v.Hi)
		return exprDoc{Op: "between", Field: v.Field, Lo: lo, Hi: hi}, err

	case In:
		vals, err := marshalAny(v.Values)
		return exprDoc{Op: "in", Field: v.Field, Values: vals}, err
	case Nin:
		vals, err := marshalAny(v.Values)
		return exprDoc{Op: "nin", Field: v.Field, Values: vals}, err

	case Contains:
		return exprDoc{Op: "contains", Field: v.Field, Value: mustJSON(v.Value)}, nil
	case ContainsAny:
		return exprDoc{Op: "contains_any", Field: v.Field, Values: mustJSON(v.Values)}, nil
	case Startswith:
		return exprDoc{Op: "startswith", Field: v.Field, Value: mustJSON(v.Value)}, nil
	case Endswith:
		return exprDoc{Op: "endswith", Field: v.Field, Value: mustJSON(v.Value)}, nil
	case Regex:
		return exprDoc{Op: "regex", Field: v.Field, Pattern: v.Pattern}, nil

	case Exists:
		return exprDoc{Op: "exists", Field: v.Field}, nil
	case Missing:
		return exprDoc{Op: "missing", Field: v.Field}, nil
	case IsNull:
		return exprDoc{Op: "is_null", Field: v.Field}, nil
	case NotNull:
		return exprDoc{Op: "not_null", Field: v.Field}, nil

	case JsonEq:
		return exprDoc{Op: "json_eq", Path: v.Path, Value: mustJSON(v.Value)}, nil
	case IpInCidr:
		return exprDoc{Op: "ip_in_cidr", Field: v.Field, CIDR: v.CIDR}, nil

	default:
		return exprDoc{}, fmt.Errorf("dslcompile: unsupported expr type %T", e)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}

func toExprDocs(exprs []Expr) ([]exprDoc, error) {
	out := make([]exprDoc, 0, len(exprs))
	for _, e := range exprs {
		doc, err := toExprDoc(e)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func fromExprDoc(doc exprDoc) (Expr, error) {
	decodeAny := func(raw json.RawMessage) (any, error) {
		var v any
		if len(raw) == 0 {
			return nil, nil
		}
		err := json.Unmarshal(raw, &v)
		return v, err
	}

	switch doc.Op {
	case "and", "or":
		subs := make([]Expr, 0, len(doc.Exprs))
		for _, sub := range doc.Exprs {
			e, err := fromExprDoc(sub)
			if err != nil {
				return nil, err
			}
			subs = append(subs, e)
		}
		if doc.Op == "and" {
			return And{Exprs: subs}, nil
		}
		return Or{Exprs: subs}, nil
	case "not":
		if doc.Expr == nil {
			return nil, fmt.Errorf("dslcompile: not requires expr")
		}
		inner, err := fromExprDoc(*doc.Expr)
		if err != nil {
			return nil, err
		}
		return Not{Expr: inner}, nil

	case "eq", "ne", "gt", "gte", "lt", "lte":
		val, err := decodeAny(doc.Value)
		if err != nil {
			return nil, err
		}
		switch doc.Op {
		case "eq":
			return Eq{Field: doc.Field, Value: val}, nil
		case "ne":
			return Ne{Field: doc.Field, Value: val}, nil
		case "gt":
			return Gt{Field: doc.Field, Value: val}, nil
		case "gte":
			return Gte{Field: doc.Field, Value: val}, nil
		case "lt":
			return Lt{Field: doc.Field, Value: val}, nil
		default:
			return Lte{Field: doc.Field, Value: val}, nil
		}
	case "between":
		lo, err := decodeAny(doc.Lo)
		if err != nil {
			return nil, err
		}
		hi, err := decodeAny(doc.Hi)
		if err != nil {
			return nil, err
		}
		return Between{Field: doc.Field, Lo: lo, Hi: hi}, nil

	case "in", "nin":
		var vals []any
		if len(doc.Values) > 0 {
			if err := json.Unmarshal(doc.Values, &vals); err != nil {
				return nil, err
			}
		}
		if doc.Op == "in" {
			return In{Field: doc.Field, Values: vals}, nil
		}
		return Nin{Field: doc.Field, Values: vals}, nil

	case "contains":
		return Contains{Field: doc.Field, Value: rawString(doc.Value)}, nil
	case "contains_any":
		var vals []string
		if len(doc.Values) > 0 {
			if err := json.Unmarshal(doc.Values, &vals); err != nil {
				return nil, err
			}
		}
		return ContainsAny{Field: doc.Field, Values: vals}, nil
	case "startswith":
		return Startswith{Field: doc.Field, Value: rawString(doc.Value)}, nil
	case "endswith":
		return Endswith{Field: doc.Field, Value: rawString(doc.Value)}, nil
	case "regex":
		return Regex{Field: doc.Field, Pattern: doc.Pattern}, nil

	case "exists":
		return Exists{Field: doc.Field}, nil
	case "missing":
		return Missing{Field: doc.Field}, nil
	case "is_null":
		return IsNull{Field: doc.Field}, nil
	case "not_null":
		return NotNull{Field: doc.Field}, nil

	case "json_eq":
		val, err := decodeAny(doc.Value)
		if err != nil {
			return nil, err
		}
		return JsonEq{Path: doc.Path, Value: val}, nil
	case "ip_in_cidr":
		return IpInCidr{Field: doc.Field, CIDR: doc.CIDR}, nil

	default:
		return nil, fmt.Errorf("dslcompile: unknown expr op %q", doc.Op)
	}
}

func rawString(raw json.RawMessage) string {
	var s string
	_ = json.Unmarshal(raw, &s)
	return s
}
