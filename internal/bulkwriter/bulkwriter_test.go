package bulkwriter

import (
	"context"
	"errors"
	"testing"

	"github.com/wisbric/siemgate/internal/breaker"
	"github.com/wisbric/siemgate/internal/store"
)

type fakeClient struct {
	insertErr error
	inserted  []store.Event
}

func (f *fakeClient) Query(context.Context, string, []store.Param, store.Settings) (*store.QueryResult, error) {
	return nil, nil
}

func (f *fakeClient) InsertBatch(_ context.Context, _ string, rows []store.Event) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, rows...)
	return nil
}

func (f *fakeClient) InsertAlerts(context.Context, string, []store.AlertRow) error { return nil }

func (f *fakeClient) Ping(context.Context) error { return nil }

func (f *fakeClient) ProbeCapability(context.Context, string) bool { return false }

func TestFlushSuccess(t *testing.T) {
	client := &fakeClient{}
	w := New(client, breaker.New("test"), "events")

	batch := []store.Event{{EventID: "e1"}, {EventID: "e2"}}
	if err := w.Flush(context.Background(), "acme", batch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(client.inserted) != 2 {
		t.Errorf("expected 2 rows inserted, got %d", len(client.inserted))
	}
}

func TestFlushPropagatesWriteError(t *testing.T) {
	client := &fakeClient{insertErr: &store.WriteError{Transient: false, Err: errors.New("schema mismatch")}}
	w := New(client, breaker.New("test"), "events")

	err := w.Flush(context.Background(), "acme", []store.Event{{EventID: "e1"}})
	if err == nil {
		t.Fatal("expected an error")
	}
	var we *store.WriteError
	if !errors.As(err, &we) {
		t.Fatalf("expected a *store.WriteError, got %T: %v", err, err)
	}
	if we.Transient {
		t.Error("expected the permanent error to be preserved, not reclassified as transient")
	}
}

func TestFlushEmptyBatchIsNoop(t *testing.T) {
	client := &fakeClient{}
	w := New(client, breaker.New("test"), "events")

	if err := w.Flush(context.Background(), "acme", nil); err != nil {
		t.Fatalf("unexpected error on empty batch: %v", err)
	}
	if len(client.inserted) != 0 {
		t.Error("expected no rows inserted for an empty batch")
	}
}
