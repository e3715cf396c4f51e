// Package alerting owns the domain Alert type, persistence, and the
// dedup/throttle invariant from spec §3: "no two alerts with the same
// (rule_id, key, dedup_hash) may be emitted within throttle_seconds."
// Dedup is grounded on the teacher's pkg/alert/dedup.go (Redis hot-path
// cache), adapted from a fingerprint-keyed existing-alert lookup into a
// pure throttle window since alerts here are immutable once emitted
// rather than incremented in place.
package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/siemgate/internal/breaker"
	"github.com/wisbric/siemgate/internal/store"
	"github.com/wisbric/siemgate/internal/telemetry"
)

// Alert is the domain shape evaluated rules produce (spec §3 Alert).
type Alert struct {
	AlertID        string
	TenantID       string
	RuleID         string
	RuleName       string
	Severity       string
	CreatedAt      time.Time
	WindowStart    time.Time
	WindowEnd      time.Time
	Key            map[string]string
	Count          uint64
	SampleEventIDs []string
	DedupHash      string
}

func (a Alert) row() (store.AlertRow, error) {
	keyJSON, err := json.Marshal(a.Key)
	if err != nil {
		return store.AlertRow{}, fmt.Errorf("marshaling alert key: %w", err)
	}
	id := a.AlertID
	if id == "" {
		id = uuid.NewString()
	}
	return store.AlertRow{
		AlertID:        id,
		TenantID:       a.TenantID,
		RuleID:         a.RuleID,
		RuleName:       a.RuleName,
		Severity:       a.Severity,
		CreatedAt:      uint32(a.CreatedAt.Unix()),
		WindowStart:    uint32(a.WindowStart.Unix()),
		WindowEnd:      uint32(a.WindowEnd.Unix()),
		Key:            string(keyJSON),
		Count:          a.Count,
		SampleEventIDs: a.SampleEventIDs,
		DedupHash:      a.DedupHash,
	}, nil
}

// Throttle enforces the dedup/throttle invariant: at most one Allow per
// (tenantID, ruleID, dedupHash) every throttleSeconds.
type Throttle interface {
	Allow(ctx context.Context, tenantID, ruleID, dedupHash string, throttleSeconds int) (bool, error)
}

const redisKeyPrefix = "alert:throttle:"

func throttleKey(tenantID, ruleID, dedupHash string) string {
	return redisKeyPrefix + tenantID + ":" + ruleID + ":" + dedupHash
}

// RedisThrottle uses a single atomic SET NX EX as the hot path: the first
// caller within the window wins, every subsequent caller for the same key
// is suppressed until the key expires.
type RedisThrottle struct {
	client *redis.Client
}

// NewRedisThrottle wraps an existing Redis client.
func NewRedisThrottle(client *redis.Client) *RedisThrottle {
	return &RedisThrottle{client: client}
}

func (t *RedisThrottle) Allow(ctx context.Context, tenantID, ruleID, dedupHash string, throttleSeconds int) (bool, error) {
	key := throttleKey(tenantID, ruleID, dedupHash)
	ok, err := t.client.SetNX(ctx, key, 1, time.Duration(throttleSeconds)*time.Second).Result()
	if err != nil {
		return false, fmt.Errorf("alerting: redis throttle check: %w", err)
	}
	return ok, nil
}

// InProcessThrottle is the fallback used when Redis is unavailable,
// mirroring internal/lock.InProcessBackend's monotonic-clock expiry map.
type InProcessThrottle struct {
	mu      sync.Mutex
	expires map[string]time.Time
}

// NewInProcessThrottle creates an empty in-process throttle table.
func NewInProcessThrottle() *InProcessThrottle {
	return &InProcessThrottle{expires: make(map[string]time.Time)}
}

func (t *InProcessThrottle) Allow(_ context.Context, tenantID, ruleID, dedupHash string, throttleSeconds int) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := throttleKey(tenantID, ruleID, dedupHash)
	now := time.Now()
	if until, ok := t.expires[key]; ok && now.Before(until) {
		return false, nil
	}
	t.expires[key] = now.Add(time.Duration(throttleSeconds) * time.Second)
	return true, nil
}

// Notifier fans an emitted alert out to an external sink. Left narrow and
// unimplemented beyond this interface: spec §1 scopes a concrete
// notification channel (Slack, email, webhook) out of this module.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// Store persists alerts through the columnar store's AlertRow projection,
// gated by a circuit breaker the same way internal/bulkwriter gates event
// inserts.
type Store struct {
	client  store.Client
	breaker *breaker.Breaker
	table   string
}

// NewStore creates a Store writing into table (the alerts table).
func NewStore(client store.Client, br *breaker.Breaker, table string) *Store {
	return &Store{client: client, breaker: br, table: table}
}

func (s *Store) Insert(ctx context.Context, alert Alert) error {
	row, err := alert.row()
	if err != nil {
		return err
	}
	_, err = breaker.Execute(s.breaker, func() (struct{}, error) {
		return struct{}{}, s.client.InsertAlerts(ctx, s.table, []store.AlertRow{row})
	})
	return err
}

// Emitter ties throttle, persistence, and notification together: the
// single call site a rule evaluator uses to emit an alert once it has
// decided one fired (spec §4.L).
type Emitter struct {
	store    *Store
	throttle Throttle
	notifier Notifier
}

// NewEmitter builds an Emitter. notifier may be nil, in which case
// persisted alerts are simply not fanned out anywhere.
func NewEmitter(store *Store, throttle Throttle, notifier Notifier) *Emitter {
	return &Emitter{store: store, throttle: throttle, notifier: notifier}
}

// Emit applies the throttle window, persists the alert if it passes, and
// notifies. It returns emitted=false (with no error) when the alert was
// suppressed as a duplicate within its throttle window.
func (e *Emitter) Emit(ctx context.Context, alert Alert, throttleSeconds int) (emitted bool, err error) {
	allowed, err := e.throttle.Allow(ctx, alert.TenantID, alert.RuleID, alert.DedupHash, throttleSeconds)
	if err != nil {
		return false, err
	}
	if !allowed {
		telemetry.AlertThrottledTotal.WithLabelValues(alert.TenantID, alert.RuleID).Inc()
		return false, nil
	}

	if err := e.store.Insert(ctx, alert); err != nil {
		return false, err
	}

	telemetry.AlertEmittedTotal.WithLabelValues(alert.TenantID, alert.RuleID, alert.Severity).Inc()

	if e.notifier != nil {
		if err := e.notifier.Notify(ctx, alert); err != nil {
			return true, fmt.Errorf("alerting: notify failed after persist: %w", err)
		}
	}
	return true, nil
}
