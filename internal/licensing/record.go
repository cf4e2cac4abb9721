package licensing

import (
	"net/url"
	"strings"
	"time"
)

// Status is the administrative state of a license record.
type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusRevoked Status = "revoked"
)

// Record is one license and its site bindings. BoundSites never exceeds
// SeatLimit; a site appears only after a successful activation that has not
// been deactivated since.
type Record struct {
	Key           string
	ExtensionSlug string
	Status        Status
	Expiry        time.Time
	SeatLimit     int
	BoundSites    []string
}

// Usable reports whether the record can gate anything at the given instant:
// administratively active and not past expiry. Revoked and expired records
// are treated identically.
func (r *Record) Usable(now time.Time) bool {
	return r.Status == StatusActive && now.Before(r.Expiry)
}

// SiteBound reports whether the (already normalized) site is bound.
func (r *Record) SiteBound(site string) bool {
	for _, s := range r.BoundSites {
		if s == site {
			return true
		}
	}
	return false
}

// clone returns a deep copy so callers cannot mutate stored state.
func (r *Record) clone() *Record {
	cp := *r
	cp.BoundSites = append([]string(nil), r.BoundSites...)
	return &cp
}

// NormalizeSiteURL canonicalizes a caller-supplied site URL for binding
// comparison: scheme and host are lowercased and a single trailing slash is
// trimmed. Path and query are preserved verbatim, so distinct deployments
// under one host keep distinct seats.
func NormalizeSiteURL(raw string) string {
	trimmed := strings.TrimSuffix(strings.TrimSpace(raw), "/")
	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" {
		return trimmed
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return u.String()
}
