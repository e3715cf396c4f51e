// Package ingest is the multi-tenant ingestion router: per-tenant
// token-bucket admission, bounded batching, and DLQ routing on persistent
// bulk-writer failure (spec §4.G).
package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/wisbric/siemgate/internal/apierr"
	"github.com/wisbric/siemgate/internal/controlplane"
	"github.com/wisbric/siemgate/internal/retry"
	"github.com/wisbric/siemgate/internal/store"
	"github.com/wisbric/siemgate/internal/telemetry"
)

// FlushFunc performs the actual bulk write for one tenant's batch. It
// should return a *store.WriteError so the router can distinguish
// transient failures (retry) from permanent ones (DLQ immediately).
type FlushFunc func(ctx context.Context, tenantID string, batch []store.Event) error

const shutdownDrainDeadline = 30 * time.Second

// Config bounds router behavior; see spec §4.G and §5.
type Config struct {
	BatchSize       int
	FlushInterval   time.Duration
	MaxBufferSize   int
	MaxWriteRetries int
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 5000
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	if c.MaxBufferSize <= 0 {
		c.MaxBufferSize = 10000
	}
	if c.MaxWriteRetries <= 0 {
		c.MaxWriteRetries = retry.DefaultMaxAttempts
	}
	return c
}

// Router fans inbound events out to per-tenant bounded channels, each
// drained by its own batching goroutine.
type Router struct {
	cfg      Config
	registry *controlplane.Registry
	flush    FlushFunc
	dlq      DLQSink
	logger   *slog.Logger

	mu      sync.RWMutex
	tenants map[string]*tenantState

	wg sync.WaitGroup
}

type tenantState struct {
	ch   chan store.Event
	hard *rate.Limiter
	soft *rate.Limiter
}

// New creates a Router. flush performs the bulk write; dlq receives
// batches that exhaust retries or fail permanently.
func New(cfg Config, registry *controlplane.Registry, flush FlushFunc, dlq DLQSink, logger *slog.Logger) *Router {
	return &Router{
		cfg:      cfg.withDefaults(),
		registry: registry,
		flush:    flush,
		dlq:      dlq,
		logger:   logger,
		tenants:  make(map[string]*tenantState),
	}
}

// Admit applies per-tenant rate limiting and, if admitted, enqueues ev for
// batching. It returns a RATE_LIMITED *apierr.Error with a Retry-After
// hint when the hard bucket is exhausted, or STORE_TRANSIENT when the
// per-tenant buffer is full.
func (r *Router) Admit(ctx context.Context, tenantID string, ev store.Event) error {
	state := r.ensureTenant(ctx, tenantID)

	reservation := state.hard.ReserveN(time.Now(), 1)
	if !reservation.OK() {
		return apierr.New(apierr.CodeRateLimited, "event exceeds the tenant's configured burst capacity").WithRetryAfter(1)
	}
	if delay := reservation.Delay(); delay > 0 {
		reservation.Cancel()
		telemetry.IngestRateLimitedTotal.WithLabelValues(tenantID).Inc()
		retryAfter := int(math.Ceil(delay.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		return apierr.New(apierr.CodeRateLimited, "tenant ingestion rate limit exceeded").WithRetryAfter(retryAfter)
	}

	if !state.soft.Allow() {
		telemetry.IngestSoftLimitedTotal.WithLabelValues(tenantID).Inc()
	}

	select {
	case state.ch <- ev:
		telemetry.BufferDepth.WithLabelValues(tenantID).Set(float64(len(state.ch)))
		return nil
	default:
		return apierr.New(apierr.CodeStoreTransient, "ingestion buffer is full").WithRetryAfter(1)
	}
}

func (r *Router) ensureTenant(ctx context.Context, tenantID string) *tenantState {
	r.mu.RLock()
	state, ok := r.tenants[tenantID]
	r.mu.RUnlock()
	if ok {
		return state
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if state, ok := r.tenants[tenantID]; ok {
		return state
	}

	limits := r.registry.Get(tenantID)
	state = &tenantState{
		ch:   make(chan store.Event, r.cfg.MaxBufferSize),
		hard: rate.NewLimiter(rate.Limit(limits.EPSHard), int(limits.Burst)),
		soft: rate.NewLimiter(rate.Limit(limits.EPSSoft), int(limits.Burst)),
	}
	r.tenants[tenantID] = state

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.drainLoop(ctx, tenantID, state)
	}()

	return state
}

func (r *Router) drainLoop(ctx context.Context, tenantID string, state *tenantState) {
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]store.Event, 0, r.cfg.BatchSize)

	flushNow := func() {
		if len(batch) == 0 {
			return
		}
		r.flushBatch(context.Background(), tenantID, batch)
		batch = make([]store.Event, 0, r.cfg.BatchSize)
	}

	for {
		select {
		case <-ctx.Done():
			r.drainOnShutdown(tenantID, state, batch)
			return
		case ev, ok := <-state.ch:
			if !ok {
				flushNow()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= r.cfg.BatchSize {
				flushNow()
			}
		case <-ticker.C:
			flushNow()
		}
	}
}

// drainOnShutdown gives outstanding channel contents up to
// shutdownDrainDeadline to flush, then forces a final flush of whatever
// remains (spec §4.G, §5 cancellation policy).
func (r *Router) drainOnShutdown(tenantID string, state *tenantState, batch []store.Event) {
	deadline := time.NewTimer(shutdownDrainDeadline)
	defer deadline.Stop()

	ctx := context.Background()
	for {
		select {
		case ev, ok := <-state.ch:
			if !ok {
				r.flushBatch(ctx, tenantID, batch)
				return
			}
			batch = append(batch, ev)
			if len(batch) >= r.cfg.BatchSize {
				r.flushBatch(ctx, tenantID, batch)
				batch = batch[:0]
			}
		case <-deadline.C:
			r.flushBatch(ctx, tenantID, batch)
			return
		}
	}
}

func (r *Router) flushBatch(ctx context.Context, tenantID string, batch []store.Event) {
	if len(batch) == 0 {
		return
	}

	start := time.Now()
	_, err := retry.Idempotent(ctx, r.cfg.MaxWriteRetries, func() (struct{}, error) {
		err := r.flush(ctx, tenantID, batch)
		if we, ok := err.(*store.WriteError); ok && !we.Transient {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	})
	telemetry.IngestLatency.WithLabelValues(tenantID).Observe(time.Since(start).Seconds())

	if err == nil {
		telemetry.IngestOkTotal.WithLabelValues(tenantID).Add(float64(len(batch)))
		telemetry.BulkWriteOutcomeTotal.WithLabelValues(tenantID, "ok").Inc()
		return
	}

	errorType := "write_failed"
	if we, ok := err.(*store.WriteError); ok && !we.Transient {
		errorType = "permanent"
	}

	telemetry.IngestDLQTotal.WithLabelValues(tenantID, errorType).Add(float64(len(batch)))
	telemetry.BulkWriteOutcomeTotal.WithLabelValues(tenantID, "dlq").Inc()
	r.sendToDLQ(tenantID, batch, errorType, err)
}

func (r *Router) sendToDLQ(tenantID string, batch []store.Event, errorType string, cause error) {
	if r.dlq == nil {
		r.logger.Error("dropping batch: no DLQ sink configured", "tenant_id", tenantID, "size", len(batch), "error", cause)
		return
	}

	payload, err := json.Marshal(batch)
	if err != nil {
		r.logger.Error("failed to marshal DLQ payload", "tenant_id", tenantID, "error", err)
		payload = []byte("[]")
	}

	msg := newDeadLetter(errorType, cause.Error(), r.cfg.MaxWriteRetries, time.Now(), string(payload))
	if err := r.dlq.Send(tenantID, msg); err != nil {
		r.logger.Error("failed to send batch to DLQ", "tenant_id", tenantID, "error", err)
	}
}

// Shutdown cancels via ctx (the caller owns cancellation) and waits for
// every tenant drain loop to finish its final forced flush.
func (r *Router) Shutdown() {
	r.wg.Wait()
}
