// Package cache provides the TTL response cache used for idempotent read
// operations. Entries are keyed by a deterministic fingerprint of the
// operation and its request parameters, and can be invalidated as a group
// when the license binding they depend on changes.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"
)

// Fingerprint is the deterministic cache key for one computed response.
// The operation name is always part of the key material so identical
// parameters can never collide across operations.
type Fingerprint struct {
	Op         string
	Slug       string
	LicenseKey string

	sum string
}

// NewFingerprint computes the fingerprint for an operation over the given
// slug and license key (empty if absent). Additional request parameters that
// affect the response, such as the caller's current version, go in extra.
func NewFingerprint(op, slug, licenseKey string, extra ...string) Fingerprint {
	h := sha256.New()
	writeField(h, op)
	writeField(h, slug)
	writeField(h, licenseKey)
	for _, field := range extra {
		writeField(h, field)
	}
	return Fingerprint{
		Op:         op,
		Slug:       slug,
		LicenseKey: licenseKey,
		sum:        hex.EncodeToString(h.Sum(nil)),
	}
}

// writeField writes a length-prefixed field so that adjacent fields cannot
// run together and alias another parameter combination.
func writeField(h interface{ Write([]byte) (int, error) }, field string) {
	var length [8]byte
	binary.BigEndian.PutUint64(length[:], uint64(len(field)))
	h.Write(length[:])
	h.Write([]byte(field))
}

// String returns the hex digest used as the storage key.
func (f Fingerprint) String() string {
	return f.sum
}

// Scope names the group of entries that depend on one license binding.
// Invalidating a scope drops every cached response for that (slug, key)
// pair regardless of operation.
type Scope struct {
	Slug       string
	LicenseKey string
}

// Matches reports whether the fingerprint belongs to the scope.
func (s Scope) Matches(f Fingerprint) bool {
	return f.Slug == s.Slug && f.LicenseKey == s.LicenseKey
}

// Cache is the store for computed read-only responses. Implementations must
// never return expired entries; whether they purge them lazily or by a
// background sweep is up to the backend.
type Cache interface {
	// Get returns the cached payload for the fingerprint, if present and
	// not expired.
	Get(ctx context.Context, f Fingerprint) ([]byte, bool, error)

	// Put stores the payload under the fingerprint with the given TTL.
	Put(ctx context.Context, f Fingerprint, payload []byte, ttl time.Duration) error

	// Invalidate removes every entry within the scope. Used when a
	// license binding changes, so dependent responses are recomputed.
	Invalidate(ctx context.Context, scope Scope) error

	// Close releases backend resources.
	Close() error
}
