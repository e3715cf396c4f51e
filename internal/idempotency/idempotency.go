// Package idempotency implements body-hash-keyed replay detection for
// writes: a client-supplied Idempotency-Key makes repeated submissions of
// the same body a no-op that returns the original status.
package idempotency

import (
	"context"
	"encoding/binary"
	"time"

	"lukechampine.com/blake3"

	"github.com/wisbric/siemgate/internal/apierr"
	"github.com/wisbric/siemgate/internal/lock"
)

// MaxBodyBytes is the largest request body eligible for idempotency
// tracking; larger bodies are rejected with PAYLOAD_TOO_LARGE upstream.
const MaxBodyBytes = 5 * 1024 * 1024

// lockTTL bounds how long a process-local lock may serialize concurrent
// first-writes for the same (route, key) before it is considered stuck.
const lockTTL = 60 * time.Second

// Outcome classifies how a request relates to prior observations of the
// same (route, key).
type Outcome int

const (
	// Miss means this (route, key) has never been seen; proceed normally.
	Miss Outcome = iota
	// Replay means the body matches a prior submission; return the stored
	// response rather than re-executing the write.
	Replay
	// Conflict means the same key was reused with a different body.
	Conflict
)

// Record is the persisted idempotency ledger row for a (route, key) pair.
type Record struct {
	Route       string
	Key         string
	BodyHash    uint64
	LastStatus  int
	LastReason  string
	Attempts    int
	FirstSeenAt time.Time
}

// Store is the control-plane persistence contract for idempotency
// records. Implementations are expected to back onto the control-plane
// Postgres database.
type Store interface {
	Get(ctx context.Context, route, key string) (*Record, error)
	Put(ctx context.Context, rec Record) error
	IncrementAttempts(ctx context.Context, route, key string) error
}

// BodyHash computes the low 64 bits of BLAKE3-256(body), used as the
// compact fingerprint stored per idempotency record. "Low" here means the
// least-significant 8 bytes of the 32-byte digest.
func BodyHash(body []byte) uint64 {
	sum := blake3.Sum256(body)
	return binary.BigEndian.Uint64(sum[24:32])
}

// Lease holds the first-writer lock for a (route, key) that resolved as
// Miss. The caller must pass it to RecordOutcome once the write completes
// (or Release it directly if the write is abandoned) so the lock is held
// across the write instead of being released the instant Check returns —
// otherwise two concurrent first-writes can both observe Miss and
// double-execute.
type Lease struct {
	locker  lock.Backend
	lockKey string
	token   string
}

// Release drops the first-writer lock without recording an outcome, for
// callers that abandon the write after acquiring a Miss lease.
func (l *Lease) Release(ctx context.Context) {
	if l == nil {
		return
	}
	_ = l.locker.Unlock(ctx, l.lockKey, l.token)
}

// Check resolves the idempotency state of an inbound request. On Miss, the
// caller should proceed with the write while holding the returned Lease,
// then call RecordOutcome (which releases the lease) to persist the
// outcome. On Replay, the caller should return rec.LastStatus/LastReason
// without re-executing the write. On Conflict, the caller should return a
// CONFLICT (409) error.
//
// Concurrent first-writes for the same (route, key) are serialized through
// a short-lived process-local lock: the lock is held for the lifetime of
// the Lease, and a loser of the race does not wait for it but fails at once
// with a STORE_TRANSIENT error. Once the winner has recorded its outcome
// (released the lease), a retry resolves as Replay or Conflict against the
// now-persisted record.
func Check(ctx context.Context, store Store, locker lock.Backend, route, key string, body []byte) (Outcome, *Record, *Lease, error) {
	hash := BodyHash(body)

	existing, err := store.Get(ctx, route, key)
	if err != nil {
		return Miss, nil, nil, apierr.Wrap(apierr.CodeDatabaseError, "looking up idempotency record", err)
	}
	if existing != nil {
		if existing.BodyHash == hash {
			if err := store.IncrementAttempts(ctx, route, key); err != nil {
				return Miss, nil, nil, apierr.Wrap(apierr.CodeDatabaseError, "incrementing idempotency attempts", err)
			}
			existing.Attempts++
			return Replay, existing, nil, nil
		}
		return Conflict, existing, nil, nil
	}

	lockKey := "siem:lock:idem:" + route + ":" + key
	token, acquired, err := locker.TryLock(ctx, lockKey, lockTTL)
	if err != nil {
		return Miss, nil, nil, apierr.Wrap(apierr.CodeDatabaseError, "acquiring idempotency lock", err)
	}
	if !acquired {
		// Another request is performing the first write; the caller is
		// expected to retry briefly rather than double-execute.
		return Miss, nil, nil, apierr.New(apierr.CodeStoreTransient, "idempotency key is being written concurrently")
	}
	lease := &Lease{locker: locker, lockKey: lockKey, token: token}

	// Re-check under the lock in case the writer that held it just finished.
	existing, err = store.Get(ctx, route, key)
	if err != nil {
		lease.Release(ctx)
		return Miss, nil, nil, apierr.Wrap(apierr.CodeDatabaseError, "re-checking idempotency record", err)
	}
	if existing != nil {
		lease.Release(ctx)
		if existing.BodyHash == hash {
			return Replay, existing, nil, nil
		}
		return Conflict, existing, nil, nil
	}

	return Miss, nil, lease, nil
}

// RecordOutcome persists the result of a first write for (route, key) and
// releases the Lease Check returned for it, unblocking any requests
// waiting on the same (route, key).
func RecordOutcome(ctx context.Context, store Store, lease *Lease, route, key string, body []byte, status int, reason string) error {
	defer lease.Release(ctx)

	rec := Record{
		Route:       route,
		Key:         key,
		BodyHash:    BodyHash(body),
		LastStatus:  status,
		LastReason:  reason,
		Attempts:    1,
		FirstSeenAt: time.Now(),
	}
	if err := store.Put(ctx, rec); err != nil {
		return apierr.Wrap(apierr.CodeDatabaseError, "recording idempotency outcome", err)
	}
	return nil
}
