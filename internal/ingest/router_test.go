package ingest

import (
	"context"
	"errors"
	"log/slog"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/wisbric/siemgate/internal/apierr"
	"github.com/wisbric/siemgate/internal/controlplane"
	"github.com/wisbric/siemgate/internal/store"
)

type fakeDLQ struct {
	mu   sync.Mutex
	msgs []DeadLetterMessage
}

func (f *fakeDLQ) Send(_ string, msg DeadLetterMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeDLQ) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAdmitThenFlushesOnBatchSize(t *testing.T) {
	var flushed [][]store.Event
	var mu sync.Mutex
	flush := func(_ context.Context, _ string, batch []store.Event) error {
		mu.Lock()
		defer mu.Unlock()
		cp := make([]store.Event, len(batch))
		copy(cp, batch)
		flushed = append(flushed, cp)
		return nil
	}

	registry := controlplane.NewRegistry(nil)
	router := New(Config{BatchSize: 2, FlushInterval: time.Hour, MaxBufferSize: 10}, registry, flush, &fakeDLQ{}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 2; i++ {
		if err := router.Admit(ctx, "acme", store.Event{EventID: "e"}); err != nil {
			t.Fatalf("Admit: %v", err)
		}
	}

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := len(flushed)
		mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected a batch to flush after reaching batch size")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestAdmitRateLimited(t *testing.T) {
	registry := controlplane.NewRegistry(nil)
	flush := func(_ context.Context, _ string, _ []store.Event) error { return nil }
	router := New(Config{BatchSize: 100, FlushInterval: time.Hour, MaxBufferSize: 1000}, registry, flush, &fakeDLQ{}, discardLogger())

	ctx := context.Background()
	rejected := 0
	for i := 0; i < 200; i++ {
		err := router.Admit(ctx, "rate-limited-tenant", store.Event{EventID: "e"})
		if err != nil {
			ae, ok := apierr.As(err)
			if !ok || ae.Code != apierr.CodeRateLimited {
				t.Fatalf("expected RATE_LIMITED, got %v", err)
			}
			if ae.RetryAfter == nil || *ae.RetryAfter < 1 {
				t.Errorf("expected Retry-After >= 1, got %v", ae.RetryAfter)
			}
			rejected++
		}
	}
	if rejected == 0 {
		t.Error("expected some admissions to be rate limited given 200 events against default unknown-tenant limits")
	}
}

func TestFlushFailureRoutesToDLQ(t *testing.T) {
	boom := errors.New("store unavailable")
	flush := func(_ context.Context, _ string, _ []store.Event) error {
		return &store.WriteError{Transient: false, Err: boom}
	}

	registry := controlplane.NewRegistry(nil)
	dlq := &fakeDLQ{}
	router := New(Config{BatchSize: 1, FlushInterval: time.Hour, MaxBufferSize: 10, MaxWriteRetries: 1}, registry, flush, dlq, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := router.Admit(ctx, "acme", store.Event{EventID: "e1"}); err != nil {
		t.Fatalf("Admit: %v", err)
	}

	deadline := time.After(time.Second)
	for dlq.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("expected failed batch to reach the DLQ sink")
		case <-time.After(time.Millisecond):
		}
	}
}
