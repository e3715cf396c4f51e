package rules

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/wisbric/siemgate/internal/alerting"
	"github.com/wisbric/siemgate/internal/eventbus"
	"github.com/wisbric/siemgate/internal/store"
	"github.com/wisbric/siemgate/internal/telemetry"
)

// degradedWindow and degradedErrorRate define when a rule is marked
// degraded (spec §4.L: ">1% error rate over 5 min").
const (
	degradedWindow    = 5 * time.Minute
	degradedErrorRate = 0.01
)

// RuleSource loads the currently active rules, analogous to
// controlplane.Registry for tenant limits. Implementations are expected
// to poll a control-plane table and rebuild the snapshot periodically.
type RuleSource interface {
	ActiveRules(tenantID string) []Rule
}

// Engine is the sharded streaming rule evaluator: events are routed by
// hash(tenant_id) to one of N shards, each owned by a single-writer
// goroutine so no central mutex guards per-rule state (spec §8).
type Engine struct {
	rules    RuleSource
	emitter  *alerting.Emitter
	check    Checkpointer
	logger   *slog.Logger
	busName  string

	shards []chan shardItem
	wg     sync.WaitGroup

	mu       sync.Mutex
	runners  map[string]map[string]runner // tenantID -> ruleID -> runner
	errStats map[string]*errWindow        // tenantID:ruleID -> rolling error stats
}

type shardItem struct {
	event eventbus.Message
	done  chan struct{}
}

// NewEngine builds an Engine with shardCount single-writer shards, each
// buffered to bufferSize pending events.
func NewEngine(rules RuleSource, emitter *alerting.Emitter, check Checkpointer, logger *slog.Logger, busName string, shardCount, bufferSize int) *Engine {
	if shardCount <= 0 {
		shardCount = 1
	}
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if check == nil {
		check = NoopCheckpointer{}
	}
	e := &Engine{
		rules:    rules,
		emitter:  emitter,
		check:    check,
		logger:   logger,
		busName:  busName,
		shards:   make([]chan shardItem, shardCount),
		runners:  make(map[string]map[string]runner),
		errStats: make(map[string]*errWindow),
	}
	for i := range e.shards {
		e.shards[i] = make(chan shardItem, bufferSize)
	}
	return e
}

// Run starts shardCount worker goroutines, then loops calling
// consumer.Poll until ctx is canceled, routing each message to its
// tenant's shard and acking only after it has been evaluated against
// every active rule (spec §4.L: "ACK-after-evaluation semantics").
func (e *Engine) Run(ctx context.Context, consumer eventbus.Consumer) error {
	for _, ch := range e.shards {
		e.wg.Add(1)
		go e.runShard(ctx, ch)
	}
	defer e.wg.Wait()
	defer closeAll(e.shards)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := consumer.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			e.logger.Error("rule engine poll failed", "bus", e.busName, "error", err)
			continue
		}

		dones := make([]chan struct{}, len(msgs))
		for i, msg := range msgs {
			idx := shardIndex(msg.TenantID, len(e.shards))
			done := make(chan struct{})
			dones[i] = done
			select {
			case e.shards[idx] <- shardItem{event: msg, done: done}:
			case <-ctx.Done():
				return nil
			}
		}

		if lag, err := consumer.Lag(ctx); err == nil {
			telemetry.ConsumerLagTotal.WithLabelValues(e.busName, "").Set(float64(lag))
		}

		for i, msg := range msgs {
			select {
			case <-dones[i]:
			case <-ctx.Done():
				return nil
			}
			if err := consumer.Ack(ctx, msg); err != nil {
				e.logger.Error("rule engine ack failed", "bus", e.busName, "error", err)
			}
		}
	}
}

func closeAll(chans []chan shardItem) {
	for _, ch := range chans {
		close(ch)
	}
}

func (e *Engine) runShard(ctx context.Context, ch chan shardItem) {
	defer e.wg.Done()
	for item := range ch {
		e.evaluate(ctx, item.event)
		close(item.done)
	}
}

func (e *Engine) evaluate(ctx context.Context, msg eventbus.Message) {
	var event store.Event
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		e.logger.Warn("rule engine: dropping undecodable event", "tenant_id", msg.TenantID, "error", err)
		return
	}

	now := time.Now()
	rules := e.tenantRunners(event.TenantID)

	for _, re := range rules {
		alert, err := re.r.evaluate(ctx, event, now)
		e.recordOutcome(event.TenantID, re.ruleID, err)
		if err != nil {
			e.logger.Error("rule evaluation failed", "tenant_id", event.TenantID, "rule_id", re.ruleID, "error", err)
			continue
		}
		if alert == nil {
			continue
		}
		if _, err := e.emitter.Emit(ctx, *alert, re.r.throttleSeconds()); err != nil {
			e.logger.Error("alert emit failed", "tenant_id", event.TenantID, "rule_id", re.ruleID, "error", err)
		}
	}
}

type ruleRunner struct {
	ruleID   string
	priority int
	r        runner
}

// tenantRunners returns the tenant's active rule runners, ordered by
// (priority desc, rule_id asc) (spec §4.L "Tie-breaks"), building and
// caching runners lazily as rules are first seen.
func (e *Engine) tenantRunners(tenantID string) []ruleRunner {
	active := e.rules.ActiveRules(tenantID)

	e.mu.Lock()
	defer e.mu.Unlock()

	byRule, ok := e.runners[tenantID]
	if !ok {
		byRule = make(map[string]runner)
		e.runners[tenantID] = byRule
	}

	out := make([]ruleRunner, 0, len(active))
	for _, rule := range active {
		if !rule.Active {
			continue
		}
		r, ok := byRule[rule.RuleID]
		if !ok {
			built, err := newRunner(rule, e.check)
			if err != nil {
				e.logger.Error("rule engine: skipping unrunnable rule", "rule_id", rule.RuleID, "error", err)
				continue
			}
			byRule[rule.RuleID] = built
			r = built
		}
		out = append(out, ruleRunner{ruleID: rule.RuleID, priority: rule.Priority, r: r})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].priority != out[j].priority {
			return out[i].priority > out[j].priority
		}
		return out[i].ruleID < out[j].ruleID
	})
	return out
}

// errWindow tracks a rule's rolling success/failure counts, reset every
// degradedWindow, to drive the >1% error rate degraded gauge.
type errWindow struct {
	windowStart  time.Time
	ok, failures int
}

func (e *Engine) recordOutcome(tenantID, ruleID string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	statKey := tenantID + ":" + ruleID
	w, ok := e.errStats[statKey]
	now := time.Now()
	if !ok || now.Sub(w.windowStart) > degradedWindow {
		w = &errWindow{windowStart: now}
		e.errStats[statKey] = w
	}

	if err != nil {
		w.failures++
		telemetry.RuleEvalErrTotal.WithLabelValues(tenantID, ruleID).Inc()
	} else {
		w.ok++
		telemetry.RuleEvalOkTotal.WithLabelValues(tenantID, ruleID).Inc()
	}

	total := w.ok + w.failures
	degraded := total > 0 && float64(w.failures)/float64(total) > degradedErrorRate
	value := 0.0
	if degraded {
		value = 1.0
	}
	telemetry.RuleDegraded.WithLabelValues(tenantID, ruleID).Set(value)
}
