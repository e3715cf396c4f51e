package rules

import (
	"context"
	"testing"
	"time"

	"github.com/wisbric/siemgate/internal/dslcompile"
	"github.com/wisbric/siemgate/internal/store"
)

func strp(s string) *string { return &s }

func authFailureEvent(id, user, sourceIP string, ts time.Time) store.Event {
	return store.Event{
		EventID:        id,
		TenantID:       "acme",
		EventCategory:  "authentication",
		EventAction:    "failure",
		EventTimestamp: uint32(ts.Unix()),
		UserName:       strp(user),
		SourceIP:       strp(sourceIP),
	}
}

func TestThresholdFiresAtCountGte(t *testing.T) {
	rule := Rule{RuleID: "rule-1", RuleName: "brute force", TenantID: "acme", Severity: "high"}
	plan := Threshold{
		KeySelector:     []string{"user_name", "source_ip"},
		WindowSec:       300,
		Filters:         dslcompile.And{Exprs: []dslcompile.Expr{dslcompile.Eq{Field: "event_category", Value: "authentication"}, dslcompile.Eq{Field: "event_action", Value: "failure"}}},
		CountGte:        5,
		ThrottleSeconds: 300,
	}
	r := newThresholdRunner(rule, plan)

	base := time.Now()
	var lastAlert bool
	for i := 0; i < 5; i++ {
		event := authFailureEvent("e"+string(rune('0'+i)), "alice", "10.0.0.7", base.Add(time.Duration(i)*10*time.Second))
		alert, err := r.Evaluate(context.Background(), event, base.Add(time.Duration(i)*10*time.Second))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		lastAlert = alert != nil
		if i < 4 && alert != nil {
			t.Fatalf("expected no alert before count_gte reached, fired at i=%d", i)
		}
	}
	if !lastAlert {
		t.Fatal("expected an alert once count_gte was reached")
	}
}

func TestThresholdIgnoresNonMatchingFilter(t *testing.T) {
	rule := Rule{RuleID: "rule-1", TenantID: "acme"}
	plan := Threshold{
		KeySelector: []string{"user_name"},
		WindowSec:   300,
		Filters:     dslcompile.Eq{Field: "event_action", Value: "success"},
		CountGte:    1,
	}
	r := newThresholdRunner(rule, plan)

	event := authFailureEvent("e1", "alice", "10.0.0.7", time.Now())
	alert, err := r.Evaluate(context.Background(), event, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alert != nil {
		t.Fatal("expected no alert for a non-matching event_action")
	}
}

func TestSequence2FiresOnStepAThenStepB(t *testing.T) {
	rule := Rule{RuleID: "rule-2", TenantID: "acme"}
	plan := Sequence2{
		KeySelector:     []string{"user_name"},
		WindowSec:       60,
		StepA:           dslcompile.Eq{Field: "event_action", Value: "login"},
		StepB:           dslcompile.Eq{Field: "event_action", Value: "privilege_escalation"},
		ThrottleSeconds: 60,
	}
	r := newSequenceRunner(rule, plan, NoopCheckpointer{})

	now := time.Now()
	a := store.Event{EventID: "a1", TenantID: "acme", EventAction: "login", UserName: strp("bob")}
	alert, err := r.Evaluate(context.Background(), a, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alert != nil {
		t.Fatal("expected no alert after step_a alone")
	}

	b := store.Event{EventID: "b1", TenantID: "acme", EventAction: "privilege_escalation", UserName: strp("bob")}
	alert, err = r.Evaluate(context.Background(), b, now.Add(5*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alert == nil {
		t.Fatal("expected an alert after step_b follows step_a")
	}
	if len(alert.SampleEventIDs) != 2 {
		t.Errorf("expected 2 sample event ids, got %d", len(alert.SampleEventIDs))
	}
}

func TestSequence2ExpiresAfterWindow(t *testing.T) {
	rule := Rule{RuleID: "rule-2", TenantID: "acme"}
	plan := Sequence2{
		KeySelector: []string{"user_name"},
		WindowSec:   10,
		StepA:       dslcompile.Eq{Field: "event_action", Value: "login"},
		StepB:       dslcompile.Eq{Field: "event_action", Value: "privilege_escalation"},
	}
	r := newSequenceRunner(rule, plan, NoopCheckpointer{})

	now := time.Now()
	a := store.Event{EventID: "a1", TenantID: "acme", EventAction: "login", UserName: strp("bob")}
	if _, err := r.Evaluate(context.Background(), a, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	b := store.Event{EventID: "b1", TenantID: "acme", EventAction: "privilege_escalation", UserName: strp("bob")}
	alert, err := r.Evaluate(context.Background(), b, now.Add(30*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alert != nil {
		t.Fatal("expected step_b after the window elapsed to not emit an alert")
	}
}

func TestCardinalityFiresAtDistinctGte(t *testing.T) {
	rule := Rule{RuleID: "rule-3", TenantID: "acme"}
	plan := Cardinality{
		KeySelector:   []string{"user_name"},
		WindowSec:     300,
		DistinctField: "destination_ip",
		DistinctGte:   3,
	}
	r := newCardinalityRunner(rule, plan)

	now := time.Now()
	ips := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}
	var lastAlert bool
	for i, ip := range ips {
		event := store.Event{EventID: "e" + string(rune('0'+i)), TenantID: "acme", UserName: strp("alice"), DestinationIP: strp(ip)}
		alert, err := r.Evaluate(context.Background(), event, now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		lastAlert = alert != nil
	}
	if !lastAlert {
		t.Fatal("expected an alert once 3 distinct destination_ip values were observed")
	}
}

func TestGroupKeyAndHashStable(t *testing.T) {
	event := authFailureEvent("e1", "alice", "10.0.0.7", time.Now())
	k1 := groupKey([]string{"user_name", "source_ip"}, event)
	k2 := groupKey([]string{"source_ip", "user_name"}, event)
	if hashKey(k1) != hashKey(k2) {
		t.Error("expected hashKey to be independent of selector order")
	}
	if k1["user_name"] != "alice" || k1["source_ip"] != "10.0.0.7" {
		t.Errorf("unexpected group key: %#v", k1)
	}
}
