package capability

import "testing"

func TestDefaultUnavailable(t *testing.T) {
	f := Get()
	if f.CIDRMatch {
		t.Error("expected CIDRMatch to default false before Set")
	}
}

func TestSetPublishes(t *testing.T) {
	Set(Flags{CIDRMatch: true, LZ4Insert: true})
	f := Get()
	if !f.CIDRMatch || !f.LZ4Insert {
		t.Errorf("expected both flags true after Set, got %+v", f)
	}
	Set(Flags{})
}
