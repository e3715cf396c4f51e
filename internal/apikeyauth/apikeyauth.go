// Package apikeyauth issues and validates tenant API keys (spec §3 API
// Key: {tenant_id, key_id, prefix, hash, role, created_at, last_used_at,
// revoked}), grounded on the teacher's pkg/apikey DTOs and vendored
// core/pkg/auth/apikey.go Authenticate flow, adapted to hash with BLAKE3
// (matching this module's idempotency body-hash choice) instead of
// SHA-256.
package apikeyauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"lukechampine.com/blake3"
)

// Role mirrors the teacher's RBAC roles, trimmed to what a SIEM control
// plane needs: an admin role that can write tenant limits and rules, and
// a readonly role that can only search.
const (
	RoleAdmin    = "admin"
	RoleReadonly = "readonly"
)

func isValidRole(role string) bool {
	return role == RoleAdmin || role == RoleReadonly
}

// prefixLen is how many raw-key bytes are kept in the clear as a lookup
// hint and for display (e.g. "sk_3f9a2").
const prefixLen = 8

// Record is the persisted API key row.
type Record struct {
	KeyID      string
	TenantID   string
	Prefix     string
	Hash       string
	Role       string
	CreatedAt  time.Time
	LastUsedAt *time.Time
	Revoked    bool
}

// Issued is returned once, at creation time, and is never retrievable
// again: only Hash is persisted.
type Issued struct {
	Record
	RawKey string
}

func hashKey(raw string) string {
	sum := blake3.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Issue generates a new random key for tenantID with role, returning the
// raw key (shown to the caller exactly once) alongside the record that
// gets persisted.
func Issue(tenantID, role string) (Issued, error) {
	if !isValidRole(role) {
		return Issued{}, fmt.Errorf("apikeyauth: invalid role %q", role)
	}

	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return Issued{}, fmt.Errorf("apikeyauth: generating key material: %w", err)
	}
	raw := "sk_" + hex.EncodeToString(buf)

	rec := Record{
		KeyID:     hex.EncodeToString(buf[:8]),
		TenantID:  tenantID,
		Prefix:    raw[:prefixLen],
		Hash:      hashKey(raw),
		Role:      role,
		CreatedAt: time.Now(),
	}
	return Issued{Record: rec, RawKey: raw}, nil
}

// Store is the control-plane persistence contract for API keys.
type Store interface {
	GetByHash(ctx context.Context, hash string) (*Record, error)
	Insert(ctx context.Context, rec Record) error
	Revoke(ctx context.Context, keyID string) error
	UpdateLastUsed(ctx context.Context, keyID string) error
}

// Authenticate hashes rawKey, looks it up, and rejects revoked keys
// (spec §4.C/§9). On success, last_used_at is updated asynchronously
// fire-and-forget, matching the vendored Authenticate's non-blocking
// update so the hot path never waits on it.
func Authenticate(ctx context.Context, store Store, rawKey string) (*Record, error) {
	if rawKey == "" {
		return nil, fmt.Errorf("apikeyauth: empty key")
	}

	rec, err := store.GetByHash(ctx, hashKey(rawKey))
	if err != nil {
		return nil, fmt.Errorf("apikeyauth: looking up key: %w", err)
	}
	if rec.Revoked {
		return nil, fmt.Errorf("apikeyauth: key %s is revoked", rec.KeyID)
	}

	go func() {
		_ = store.UpdateLastUsed(context.Background(), rec.KeyID)
	}()

	return rec, nil
}

// PostgresStore persists API keys in the control-plane database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) GetByHash(ctx context.Context, hash string) (*Record, error) {
	var rec Record
	err := s.pool.QueryRow(ctx, `
		SELECT key_id, tenant_id, prefix, hash, role, created_at, last_used_at, revoked
		FROM api_keys WHERE hash = $1
	`, hash).Scan(&rec.KeyID, &rec.TenantID, &rec.Prefix, &rec.Hash, &rec.Role,
		&rec.CreatedAt, &rec.LastUsedAt, &rec.Revoked)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("apikeyauth: no such key")
		}
		return nil, err
	}
	return &rec, nil
}

func (s *PostgresStore) Insert(ctx context.Context, rec Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO api_keys (key_id, tenant_id, prefix, hash, role, created_at, revoked)
		VALUES ($1, $2, $3, $4, $5, $6, false)
	`, rec.KeyID, rec.TenantID, rec.Prefix, rec.Hash, rec.Role, rec.CreatedAt)
	return err
}

func (s *PostgresStore) Revoke(ctx context.Context, keyID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE api_keys SET revoked = true WHERE key_id = $1`, keyID)
	return err
}

func (s *PostgresStore) UpdateLastUsed(ctx context.Context, keyID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE api_keys SET last_used_at = now() WHERE key_id = $1`, keyID)
	return err
}
