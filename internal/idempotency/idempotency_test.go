package idempotency

import (
	"context"
	"sync"
	"testing"

	"github.com/wisbric/siemgate/internal/lock"
)

type memStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]Record)}
}

func (m *memStore) key(route, key string) string { return route + "\x00" + key }

func (m *memStore) Get(_ context.Context, route, key string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[m.key(route, key)]
	if !ok {
		return nil, nil
	}
	rc := r
	return &rc, nil
}

func (m *memStore) Put(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[m.key(rec.Route, rec.Key)] = rec
	return nil
}

func (m *memStore) IncrementAttempts(_ context.Context, route, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(route, key)
	r := m.records[k]
	r.Attempts++
	m.records[k] = r
	return nil
}

func TestCheckMissThenReplay(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	locker := lock.NewInProcessBackend()
	body := []byte(`{"events":[1,2,3]}`)

	outcome, rec, lease, err := Check(ctx, store, locker, "ingest", "key-1", body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != Miss || rec != nil {
		t.Fatalf("expected Miss with nil record, got %v %v", outcome, rec)
	}

	if err := RecordOutcome(ctx, store, lease, "ingest", "key-1", body, 200, "ok"); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}

	outcome, rec, _, err = Check(ctx, store, locker, "ingest", "key-1", body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != Replay {
		t.Fatalf("expected Replay, got %v", outcome)
	}
	if rec.LastStatus != 200 || rec.Attempts != 2 {
		t.Errorf("expected status=200 attempts=2, got %+v", rec)
	}
}

func TestCheckConflict(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	locker := lock.NewInProcessBackend()

	if err := RecordOutcome(ctx, store, nil, "ingest", "key-2", []byte("body-a"), 200, "ok"); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}

	outcome, rec, _, err := Check(ctx, store, locker, "ingest", "key-2", []byte("body-b"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != Conflict {
		t.Fatalf("expected Conflict, got %v", outcome)
	}
	if rec == nil {
		t.Fatal("expected the existing record to be returned on conflict")
	}
}

// TestCheckHoldsLockAcrossWrite verifies the first-writer lock from a Miss
// lease is not released until RecordOutcome runs, so a concurrent Check for
// the same (route, key) cannot also resolve as Miss and double-execute.
func TestCheckHoldsLockAcrossWrite(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	locker := lock.NewInProcessBackend()
	body := []byte("same body")

	outcome, _, lease, err := Check(ctx, store, locker, "ingest", "key-3", body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != Miss {
		t.Fatalf("expected Miss, got %v", outcome)
	}

	if _, _, _, err := Check(ctx, store, locker, "ingest", "key-3", body); err == nil {
		t.Fatal("expected concurrent Check to fail while the first Miss lease is still held")
	}

	if err := RecordOutcome(ctx, store, lease, "ingest", "key-3", body, 202, "accepted"); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}

	outcome, rec, _, err := Check(ctx, store, locker, "ingest", "key-3", body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != Replay || rec.LastStatus != 202 {
		t.Fatalf("expected Replay with status=202 once the lease is released, got %v %+v", outcome, rec)
	}
}

func TestBodyHashDeterministic(t *testing.T) {
	a := BodyHash([]byte("same body"))
	b := BodyHash([]byte("same body"))
	c := BodyHash([]byte("different body"))
	if a != b {
		t.Error("expected identical bodies to hash identically")
	}
	if a == c {
		t.Error("expected different bodies to hash differently")
	}
}
