package rules

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/wisbric/siemgate/internal/alerting"
	"github.com/wisbric/siemgate/internal/breaker"
	"github.com/wisbric/siemgate/internal/dslcompile"
	"github.com/wisbric/siemgate/internal/eventbus"
	"github.com/wisbric/siemgate/internal/store"
)

type fakeAlertClient struct {
	mu       sync.Mutex
	inserted []store.AlertRow
}

func (f *fakeAlertClient) Query(context.Context, string, []store.Param, store.Settings) (*store.QueryResult, error) {
	return nil, nil
}
func (f *fakeAlertClient) InsertBatch(context.Context, string, []store.Event) error { return nil }
func (f *fakeAlertClient) InsertAlerts(_ context.Context, _ string, rows []store.AlertRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, rows...)
	return nil
}
func (f *fakeAlertClient) Ping(context.Context) error                   { return nil }
func (f *fakeAlertClient) ProbeCapability(context.Context, string) bool { return false }

func (f *fakeAlertClient) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inserted)
}

type staticRuleSource struct {
	rules []Rule
}

func (s staticRuleSource) ActiveRules(tenantID string) []Rule {
	var out []Rule
	for _, r := range s.rules {
		if r.TenantID == tenantID {
			out = append(out, r)
		}
	}
	return out
}

type fakeConsumer struct {
	mu       sync.Mutex
	messages []eventbus.Message
	served   bool
	acked    []eventbus.Message
}

func (c *fakeConsumer) Poll(ctx context.Context) ([]eventbus.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.served {
		<-ctx.Done()
		return nil, nil
	}
	c.served = true
	return c.messages, nil
}

func (c *fakeConsumer) Ack(_ context.Context, msg eventbus.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acked = append(c.acked, msg)
	return nil
}

func (c *fakeConsumer) Lag(context.Context) (int64, error) { return 0, nil }
func (c *fakeConsumer) Close() error                        { return nil }

func TestEngineEvaluatesAndEmitsAlert(t *testing.T) {
	rule := Rule{
		RuleID:   "rule-1",
		RuleName: "brute force",
		TenantID: "acme",
		Severity: "high",
		Active:   true,
		Plan: Threshold{
			KeySelector:     []string{"user_name"},
			WindowSec:       300,
			Filters:         dslcompile.Eq{Field: "event_action", Value: "failure"},
			CountGte:        1,
			ThrottleSeconds: 300,
		},
	}

	client := &fakeAlertClient{}
	alertStore := alerting.NewStore(client, breaker.New("test"), "alerts")
	emitter := alerting.NewEmitter(alertStore, alerting.NewInProcessThrottle(), nil)

	event := store.Event{EventID: "e1", TenantID: "acme", EventAction: "failure", UserName: strp("alice")}
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	consumer := &fakeConsumer{messages: []eventbus.Message{{TenantID: "acme", Payload: payload}}}

	engine := NewEngine(staticRuleSource{rules: []Rule{rule}}, emitter, nil, slog.Default(), "test", 1, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := engine.Run(ctx, consumer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(100 * time.Millisecond)
	for client.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if client.count() != 1 {
		t.Fatalf("expected exactly 1 alert persisted, got %d", client.count())
	}
	if len(consumer.acked) != 1 {
		t.Errorf("expected exactly 1 message acked, got %d", len(consumer.acked))
	}
}
