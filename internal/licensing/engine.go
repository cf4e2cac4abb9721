package licensing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"extdist/internal/apierrors"
)

// CheckStatus classifies a (key, site) pair.
type CheckStatus string

const (
	// CheckInvalid: the key is unknown, expired, or revoked.
	CheckInvalid CheckStatus = "invalid"
	// CheckInactive: the key is valid but the site is not bound.
	CheckInactive CheckStatus = "inactive"
	// CheckValid: the key is valid and the site is bound.
	CheckValid CheckStatus = "valid"
)

// CheckResult is the outcome of a license check.
type CheckResult struct {
	Status  CheckStatus `json:"status"`
	Message string      `json:"message"`
	Expiry  *time.Time  `json:"expiry,omitempty"`
}

// Engine drives the license state machine against a Store. Operations on
// the same key are serialized by a per-key lock so seat-limit checks are
// race-free; distinct keys never contend.
type Engine struct {
	store   Store
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine creates a licensing engine. timeout bounds each store call.
func NewEngine(store Store, timeout time.Duration, logger *slog.Logger) *Engine {
	return &Engine{
		store:   store,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "licensing")),
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
}

// keyLock returns the mutex serializing operations on one key. Locks are
// retained for the life of the process; the map is bounded by the number of
// distinct keys seen.
func (e *Engine) keyLock(key string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.locks[key]
	if !ok {
		l = &sync.Mutex{}
		e.locks[key] = l
	}
	return l
}

// Activate binds site to the license identified by key, consuming one seat,
// and returns the license expiry. Re-activating an already bound site
// succeeds without consuming a second seat.
func (e *Engine) Activate(ctx context.Context, slug, key, site string) (time.Time, error) {
	site = NormalizeSiteURL(site)

	lock := e.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	rec, err := e.load(ctx, slug, key)
	if err != nil {
		return time.Time{}, err
	}
	if !rec.Usable(e.now()) {
		return time.Time{}, apierrors.New(apierrors.KindLicenseExpired,
			"license is expired or no longer active")
	}

	if rec.SiteBound(site) {
		e.logger.InfoContext(ctx, "site already bound, activation is idempotent",
			slog.String("slug", slug), slog.String("site", site))
		return rec.Expiry, nil
	}

	if len(rec.BoundSites) >= rec.SeatLimit {
		e.logger.WarnContext(ctx, "seat limit reached",
			slog.String("slug", slug),
			slog.Int("seat_limit", rec.SeatLimit))
		return time.Time{}, apierrors.New(apierrors.KindSeatLimitExceeded,
			fmt.Sprintf("all %d seats for this license are in use", rec.SeatLimit))
	}

	sites := append(append([]string(nil), rec.BoundSites...), site)
	if err := e.replaceSites(ctx, key, sites); err != nil {
		return time.Time{}, err
	}

	e.logger.InfoContext(ctx, "license activated",
		slog.String("slug", slug),
		slog.String("site", site),
		slog.Int("seats_used", len(sites)),
		slog.Int("seat_limit", rec.SeatLimit))
	return rec.Expiry, nil
}

// Deactivate removes the binding between site and the license. Removing a
// binding that does not exist is not an error.
func (e *Engine) Deactivate(ctx context.Context, slug, key, site string) error {
	site = NormalizeSiteURL(site)

	lock := e.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	rec, err := e.load(ctx, slug, key)
	if err != nil {
		// Unknown keys deactivate idempotently too: there is nothing
		// bound, which is the state the caller asked for.
		if apierrors.IsKind(err, apierrors.KindLicenseNotFound) {
			return nil
		}
		return err
	}

	if !rec.SiteBound(site) {
		return nil
	}

	sites := make([]string, 0, len(rec.BoundSites)-1)
	for _, s := range rec.BoundSites {
		if s != site {
			sites = append(sites, s)
		}
	}
	if err := e.replaceSites(ctx, key, sites); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "license deactivated",
		slog.String("slug", slug),
		slog.String("site", site),
		slog.Int("seats_used", len(sites)))
	return nil
}

// Check classifies the (key, site) pair without mutating anything.
func (e *Engine) Check(ctx context.Context, slug, key, site string) (*CheckResult, error) {
	site = NormalizeSiteURL(site)

	rec, err := e.load(ctx, slug, key)
	if err != nil {
		if apierrors.IsKind(err, apierrors.KindLicenseNotFound) {
			return &CheckResult{
				Status:  CheckInvalid,
				Message: "license key is not valid for this extension",
			}, nil
		}
		return nil, err
	}

	if !rec.Usable(e.now()) {
		return &CheckResult{
			Status:  CheckInvalid,
			Message: "license is expired or revoked",
		}, nil
	}
	if !rec.SiteBound(site) {
		return &CheckResult{
			Status:  CheckInactive,
			Message: "license is valid but not active for this site",
		}, nil
	}

	expiry := rec.Expiry
	return &CheckResult{
		Status:  CheckValid,
		Message: "license is valid and active for this site",
		Expiry:  &expiry,
	}, nil
}

// load fetches the record and verifies it belongs to the extension. A key
// issued for another extension is reported as not found rather than leaking
// its existence.
func (e *Engine) load(ctx context.Context, slug, key string) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	rec, err := e.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apierrors.New(apierrors.KindLicenseNotFound, "license key not found")
		}
		return nil, apierrors.Wrap(apierrors.KindStoreUnavailable,
			"license store unavailable", err)
	}
	if rec.ExtensionSlug != slug {
		return nil, apierrors.New(apierrors.KindLicenseNotFound, "license key not found")
	}
	return rec, nil
}

func (e *Engine) replaceSites(ctx context.Context, key string, sites []string) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := e.store.ReplaceSites(ctx, key, sites); err != nil {
		if errors.Is(err, ErrNotFound) {
			return apierrors.New(apierrors.KindLicenseNotFound, "license key not found")
		}
		return apierrors.Wrap(apierrors.KindStoreUnavailable,
			"license store unavailable", err)
	}
	return nil
}
