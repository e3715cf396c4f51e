package dslcompile

import "testing"

func TestExprRoundTrip(t *testing.T) {
	original := And{Exprs: []Expr{
		Eq{Field: "event_category", Value: "authentication"},
		In{Field: "event_action", Values: []any{"failure", "denied"}},
		Not{Expr: IpInCidr{Field: "source_ip", CIDR: "10.0.0.0/8"}},
	}}

	raw, err := MarshalExpr(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	decoded, err := UnmarshalExpr(raw)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	and, ok := decoded.(And)
	if !ok || len(and.Exprs) != 3 {
		t.Fatalf("expected And with 3 exprs, got %#v", decoded)
	}
	if _, ok := and.Exprs[0].(Eq); !ok {
		t.Errorf("expected first child to be Eq, got %T", and.Exprs[0])
	}
	if _, ok := and.Exprs[1].(In); !ok {
		t.Errorf("expected second child to be In, got %T", and.Exprs[1])
	}
	not, ok := and.Exprs[2].(Not)
	if !ok {
		t.Fatalf("expected third child to be Not, got %T", and.Exprs[2])
	}
	if _, ok := not.Expr.(IpInCidr); !ok {
		t.Errorf("expected Not{IpInCidr}, got Not{%T}", not.Expr)
	}
}

func TestUnmarshalExprNil(t *testing.T) {
	e, err := UnmarshalExpr(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e != nil {
		t.Errorf("expected nil Expr for empty input, got %#v", e)
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	last := uint32(300)
	doc := Document{
		Version:   1,
		TenantIDs: []string{"acme"},
		TimeRange: TimeRange{LastSeconds: &last},
		Where:     Eq{Field: "user_name", Value: "alice"},
	}

	raw, err := MarshalDocument(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	decoded, err := UnmarshalDocument(raw)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(decoded.TenantIDs) != 1 || decoded.TenantIDs[0] != "acme" {
		t.Errorf("tenant_ids not preserved: %#v", decoded.TenantIDs)
	}
	if decoded.TimeRange.LastSeconds == nil || *decoded.TimeRange.LastSeconds != 300 {
		t.Errorf("time_range not preserved: %#v", decoded.TimeRange)
	}
	if _, ok := decoded.Where.(Eq); !ok {
		t.Errorf("expected Where to decode as Eq, got %T", decoded.Where)
	}
}
