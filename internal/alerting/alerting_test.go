package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/wisbric/siemgate/internal/breaker"
	"github.com/wisbric/siemgate/internal/store"
)

type fakeClient struct {
	inserted []store.AlertRow
	err      error
}

func (f *fakeClient) Query(context.Context, string, []store.Param, store.Settings) (*store.QueryResult, error) {
	return nil, nil
}
func (f *fakeClient) InsertBatch(context.Context, string, []store.Event) error { return nil }
func (f *fakeClient) InsertAlerts(_ context.Context, _ string, rows []store.AlertRow) error {
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, rows...)
	return nil
}
func (f *fakeClient) Ping(context.Context) error                      { return nil }
func (f *fakeClient) ProbeCapability(context.Context, string) bool    { return false }

func TestEmitterSuppressesWithinThrottleWindow(t *testing.T) {
	client := &fakeClient{}
	s := NewStore(client, breaker.New("test"), "alerts")
	throttle := NewInProcessThrottle()
	e := NewEmitter(s, throttle, nil)

	alert := Alert{
		TenantID:  "acme",
		RuleID:    "rule-1",
		Severity:  "high",
		DedupHash: "dh-1",
		Key:       map[string]string{"user_name": "alice"},
		CreatedAt: time.Now(),
	}

	emitted, err := e.Emit(context.Background(), alert, 300)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !emitted {
		t.Fatal("expected first alert to be emitted")
	}

	emitted, err = e.Emit(context.Background(), alert, 300)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if emitted {
		t.Fatal("expected second alert within throttle window to be suppressed")
	}
	if len(client.inserted) != 1 {
		t.Errorf("expected exactly 1 row inserted, got %d", len(client.inserted))
	}
}

func TestEmitterAllowsDifferentDedupHash(t *testing.T) {
	client := &fakeClient{}
	s := NewStore(client, breaker.New("test"), "alerts")
	throttle := NewInProcessThrottle()
	e := NewEmitter(s, throttle, nil)

	base := Alert{TenantID: "acme", RuleID: "rule-1", Severity: "high", CreatedAt: time.Now()}

	a1 := base
	a1.DedupHash = "dh-1"
	a2 := base
	a2.DedupHash = "dh-2"

	if _, err := e.Emit(context.Background(), a1, 300); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	emitted, err := e.Emit(context.Background(), a2, 300)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !emitted {
		t.Fatal("expected a distinct dedup_hash to emit independently")
	}
	if len(client.inserted) != 2 {
		t.Errorf("expected 2 rows inserted, got %d", len(client.inserted))
	}
}

func TestAlertRowEncodesKeyAsJSON(t *testing.T) {
	alert := Alert{
		TenantID: "acme",
		RuleID:   "rule-1",
		Key:      map[string]string{"user_name": "alice", "source_ip": "10.0.0.7"},
	}
	row, err := alert.row()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if row.Key == "" {
		t.Fatal("expected non-empty JSON-encoded key")
	}
	if row.AlertID == "" {
		t.Fatal("expected a generated alert_id when none was set")
	}
}
