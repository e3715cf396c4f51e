package rules

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wisbric/siemgate/internal/alerting"
	"github.com/wisbric/siemgate/internal/store"
)

type sequenceState int

const (
	stateIdle sequenceState = iota
	stateSawA
)

type sequenceEntry struct {
	key       map[string]string
	state     sequenceState
	sawAAt    time.Time
	sawAEvent string
}

// Checkpointer optionally persists per-key sequence state (spec §4.L:
// "optional Redis checkpointing keyed by siem:seq:{rule_id}:{key}"). It
// only saves and clears: nothing reads a checkpoint back, so a restarted
// shard starts every key Idle and an in-flight SawA is lost.
type Checkpointer interface {
	Save(ctx context.Context, ruleID, key string, sawAAt time.Time, sawAEvent string) error
	Clear(ctx context.Context, ruleID, key string) error
}

// NoopCheckpointer discards all state; sequence progress is lost across a
// process restart, matching the "best-effort in-memory" baseline.
type NoopCheckpointer struct{}

func (NoopCheckpointer) Save(context.Context, string, string, time.Time, string) error { return nil }
func (NoopCheckpointer) Clear(context.Context, string, string) error                   { return nil }

// RedisCheckpointer writes sequence progress as one Redis hash per key and
// deletes it when the key returns to Idle; the hash is not read back.
type RedisCheckpointer struct {
	client *redis.Client
}

func NewRedisCheckpointer(client *redis.Client) *RedisCheckpointer {
	return &RedisCheckpointer{client: client}
}

func seqKey(ruleID, key string) string {
	return "siem:seq:" + ruleID + ":" + key
}

func (c *RedisCheckpointer) Save(ctx context.Context, ruleID, key string, sawAAt time.Time, sawAEvent string) error {
	return c.client.HSet(ctx, seqKey(ruleID, key), map[string]any{
		"saw_a_at":    sawAAt.Unix(),
		"saw_a_event": sawAEvent,
	}).Err()
}

func (c *RedisCheckpointer) Clear(ctx context.Context, ruleID, key string) error {
	return c.client.Del(ctx, seqKey(ruleID, key)).Err()
}

// sequenceRunner evaluates a single Sequence2 plan with a per-key
// Idle -> SawA -> emit state machine (spec §4.L "Sequence2 evaluator"),
// owned by exactly one shard's single-writer goroutine.
type sequenceRunner struct {
	rule    Rule
	plan    Sequence2
	entries map[uint64]*sequenceEntry
	check   Checkpointer
}

func newSequenceRunner(rule Rule, plan Sequence2, check Checkpointer) *sequenceRunner {
	if check == nil {
		check = NoopCheckpointer{}
	}
	return &sequenceRunner{rule: rule, plan: plan, entries: make(map[uint64]*sequenceEntry), check: check}
}

func (r *sequenceRunner) Evaluate(ctx context.Context, event store.Event, now time.Time) (*alerting.Alert, error) {
	key := groupKey(r.plan.KeySelector, event)
	h := hashKey(key)

	e, ok := r.entries[h]
	if ok && e.state == stateSawA && now.Sub(e.sawAAt) > time.Duration(r.plan.WindowSec)*time.Second {
		// Window elapsed without step_b: revert to Idle.
		e.state = stateIdle
		_ = r.check.Clear(ctx, r.rule.RuleID, keyString(key))
	}

	if !ok {
		e = &sequenceEntry{key: key, state: stateIdle}
		r.entries[h] = e
	}

	switch e.state {
	case stateIdle:
		if Match(r.plan.StepA, event) {
			e.state = stateSawA
			e.sawAAt = now
			e.sawAEvent = event.EventID
			_ = r.check.Save(ctx, r.rule.RuleID, keyString(key), now, event.EventID)
		}
		return nil, nil

	case stateSawA:
		if !Match(r.plan.StepB, event) {
			return nil, nil
		}
		windowBucket := now.Unix() / int64(r.plan.WindowSec)
		alert := &alerting.Alert{
			RuleID:         r.rule.RuleID,
			RuleName:       r.rule.RuleName,
			TenantID:       r.rule.TenantID,
			Severity:       r.rule.Severity,
			CreatedAt:      now,
			WindowStart:    e.sawAAt,
			WindowEnd:      now,
			Key:            key,
			Count:          2,
			SampleEventIDs: []string{e.sawAEvent, event.EventID},
			DedupHash:      dedupHash(r.rule.RuleID, key, windowBucket),
		}
		e.state = stateIdle
		_ = r.check.Clear(ctx, r.rule.RuleID, keyString(key))
		return alert, nil
	}
	return nil, nil
}

func (r *sequenceRunner) throttleSeconds() int { return r.plan.ThrottleSeconds }

func keyString(key map[string]string) string {
	names := make([]byte, 0, 64)
	for _, v := range sortedKeys(key) {
		names = append(names, v...)
		names = append(names, ':')
		names = append(names, key[v]...)
		names = append(names, ';')
	}
	return string(names)
}

func sortedKeys(key map[string]string) []string {
	out := make([]string, 0, len(key))
	for k := range key {
		out = append(out, k)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
