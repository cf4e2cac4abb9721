// Package services wires the rate limiter, response cache, and decision
// engines into the operations the transport layer exposes. Every inbound
// call passes the rate limiter first; read-only calls then consult the
// cache before falling through to the engines, and license mutations
// invalidate the cache entries that depended on the changed binding.
package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"extdist/internal/apierrors"
	"extdist/internal/cache"
	"extdist/internal/infrastructure"
	"extdist/internal/licensing"
	"extdist/internal/ratelimit"
	"extdist/internal/updates"
)

// Operation names used for cache fingerprints and metrics labels.
const (
	opCheckUpdate  = "updates/check"
	opPluginInfo   = "updates/info"
	opActivate     = "license/activate"
	opDeactivate   = "license/deactivate"
	opCheckLicense = "license/check"
	opDownload     = "download"
)

// ActivationResult is the response payload for a successful activation.
type ActivationResult struct {
	Success bool      `json:"success"`
	Message string    `json:"message"`
	Expiry  time.Time `json:"expiry"`
}

// DeactivationResult is the response payload for a deactivation.
type DeactivationResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// DownloadResult is the response payload for a download grant.
type DownloadResult struct {
	Success     bool   `json:"success"`
	DownloadURL string `json:"download_url"`
}

// Distribution implements the service's operations.
type Distribution struct {
	limiter   *ratelimit.Limiter
	cache     cache.Cache
	cacheTTL  time.Duration
	updates   *updates.Engine
	licensing *licensing.Engine
	metrics   *infrastructure.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewDistribution creates the distribution service.
func NewDistribution(
	limiter *ratelimit.Limiter,
	respCache cache.Cache,
	cacheTTL time.Duration,
	updatesEngine *updates.Engine,
	licensingEngine *licensing.Engine,
	metrics *infrastructure.Metrics,
	logger *slog.Logger,
) *Distribution {
	return &Distribution{
		limiter:   limiter,
		cache:     respCache,
		cacheTTL:  cacheTTL,
		updates:   updatesEngine,
		licensing: licensingEngine,
		metrics:   metrics,
		logger:    logger.With(slog.String("component", "distribution")),
		tracer:    otel.Tracer("extdist/services"),
	}
}

// CheckUpdate answers whether an update is available for slug given the
// caller's current version. Cacheable: deterministic in its inputs.
func (s *Distribution) CheckUpdate(ctx context.Context, identity, slug, version, licenseKey string) (json.RawMessage, error) {
	ctx, span := s.start(ctx, opCheckUpdate, slug)
	defer span.End()

	if err := s.allow(ctx, identity, opCheckUpdate); err != nil {
		return nil, err
	}

	fp := cache.NewFingerprint(opCheckUpdate, slug, licenseKey, version)
	return s.cached(ctx, opCheckUpdate, fp, func(ctx context.Context) (any, error) {
		return s.updates.CheckUpdate(ctx, slug, version)
	})
}

// PluginInfo returns the full metadata payload for slug. Cacheable.
func (s *Distribution) PluginInfo(ctx context.Context, identity, slug, licenseKey string) (json.RawMessage, error) {
	ctx, span := s.start(ctx, opPluginInfo, slug)
	defer span.End()

	if err := s.allow(ctx, identity, opPluginInfo); err != nil {
		return nil, err
	}

	fp := cache.NewFingerprint(opPluginInfo, slug, licenseKey)
	return s.cached(ctx, opPluginInfo, fp, func(ctx context.Context) (any, error) {
		return s.updates.Info(ctx, slug)
	})
}

// Activate binds a site to a license and drops cached responses that
// depended on the previous binding state. Never cached.
func (s *Distribution) Activate(ctx context.Context, identity, slug, licenseKey, site string) (*ActivationResult, error) {
	ctx, span := s.start(ctx, opActivate, slug)
	defer span.End()

	if err := s.allow(ctx, identity, opActivate); err != nil {
		return nil, err
	}

	expiry, err := s.licensing.Activate(ctx, slug, licenseKey, site)
	if err != nil {
		s.metrics.LicenseMutations.WithLabelValues("activate", "error").Inc()
		s.metrics.Requests.WithLabelValues(opActivate, "error").Inc()
		return nil, err
	}
	s.invalidate(ctx, slug, licenseKey)

	s.metrics.LicenseMutations.WithLabelValues("activate", "ok").Inc()
	s.metrics.Requests.WithLabelValues(opActivate, "ok").Inc()
	return &ActivationResult{
		Success: true,
		Message: "license activated for this site",
		Expiry:  expiry,
	}, nil
}

// Deactivate releases a site binding and drops dependent cache entries.
// Never cached.
func (s *Distribution) Deactivate(ctx context.Context, identity, slug, licenseKey, site string) (*DeactivationResult, error) {
	ctx, span := s.start(ctx, opDeactivate, slug)
	defer span.End()

	if err := s.allow(ctx, identity, opDeactivate); err != nil {
		return nil, err
	}

	if err := s.licensing.Deactivate(ctx, slug, licenseKey, site); err != nil {
		s.metrics.LicenseMutations.WithLabelValues("deactivate", "error").Inc()
		s.metrics.Requests.WithLabelValues(opDeactivate, "error").Inc()
		return nil, err
	}
	s.invalidate(ctx, slug, licenseKey)

	s.metrics.LicenseMutations.WithLabelValues("deactivate", "ok").Inc()
	s.metrics.Requests.WithLabelValues(opDeactivate, "ok").Inc()
	return &DeactivationResult{
		Success: true,
		Message: "license deactivated for this site",
	}, nil
}

// CheckLicense classifies a (key, site) pair. Evaluated fresh each call:
// the answer depends on mutable binding state.
func (s *Distribution) CheckLicense(ctx context.Context, identity, slug, licenseKey, site string) (*licensing.CheckResult, error) {
	ctx, span := s.start(ctx, opCheckLicense, slug)
	defer span.End()

	if err := s.allow(ctx, identity, opCheckLicense); err != nil {
		return nil, err
	}

	res, err := s.licensing.Check(ctx, slug, licenseKey, site)
	if err != nil {
		s.metrics.Requests.WithLabelValues(opCheckLicense, "error").Inc()
		return nil, err
	}
	s.metrics.Requests.WithLabelValues(opCheckLicense, "ok").Inc()
	return res, nil
}

// Download resolves the gated package URL. Never cached.
func (s *Distribution) Download(ctx context.Context, identity, slug, licenseKey, site string) (*DownloadResult, error) {
	ctx, span := s.start(ctx, opDownload, slug)
	defer span.End()

	if err := s.allow(ctx, identity, opDownload); err != nil {
		return nil, err
	}

	url, err := s.updates.DownloadURL(ctx, slug, licenseKey, site)
	if err != nil {
		s.metrics.Requests.WithLabelValues(opDownload, "error").Inc()
		return nil, err
	}
	s.metrics.Requests.WithLabelValues(opDownload, "ok").Inc()
	return &DownloadResult{Success: true, DownloadURL: url}, nil
}

// allow consults the per-identity rate limiter.
func (s *Distribution) allow(ctx context.Context, identity, op string) error {
	d := s.limiter.Allow(identity)
	if d.Allowed {
		return nil
	}
	s.metrics.RateLimitDenials.Inc()
	s.metrics.Requests.WithLabelValues(op, "rate_limited").Inc()
	s.logger.WarnContext(ctx, "rate limit exceeded",
		slog.String("identity", identity),
		slog.String("operation", op),
		slog.Duration("retry_after", d.RetryAfter))
	return apierrors.RateLimited(d.RetryAfter)
}

// cached serves op from the response cache, computing and storing the
// payload on a miss. Cache backend failures are logged and bypassed; a
// broken cache degrades to recomputation, not to request failure.
func (s *Distribution) cached(ctx context.Context, op string, fp cache.Fingerprint, compute func(context.Context) (any, error)) (json.RawMessage, error) {
	start := time.Now()
	defer func() {
		s.metrics.RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	payload, found, err := s.cache.Get(ctx, fp)
	if err != nil {
		s.logger.WarnContext(ctx, "cache read failed",
			slog.String("operation", op), slog.String("error", err.Error()))
	}
	if found {
		s.metrics.CacheHits.WithLabelValues(op).Inc()
		s.metrics.Requests.WithLabelValues(op, "ok").Inc()
		return payload, nil
	}
	s.metrics.CacheMisses.WithLabelValues(op).Inc()

	result, err := compute(ctx)
	if err != nil {
		s.metrics.Requests.WithLabelValues(op, "error").Inc()
		return nil, err
	}

	payload, err = json.Marshal(result)
	if err != nil {
		s.metrics.Requests.WithLabelValues(op, "error").Inc()
		return nil, apierrors.Wrap(apierrors.KindStoreUnavailable,
			"failed to encode response", err)
	}

	if err := s.cache.Put(ctx, fp, payload, s.cacheTTL); err != nil {
		s.logger.WarnContext(ctx, "cache write failed",
			slog.String("operation", op), slog.String("error", err.Error()))
	}

	s.metrics.Requests.WithLabelValues(op, "ok").Inc()
	return payload, nil
}

// invalidate drops every cached response for the (slug, key) pair. A
// failure leaves stale entries until their TTL; the mutation itself has
// already been applied, so the error is logged rather than surfaced.
func (s *Distribution) invalidate(ctx context.Context, slug, licenseKey string) {
	scope := cache.Scope{Slug: slug, LicenseKey: licenseKey}
	if err := s.cache.Invalidate(ctx, scope); err != nil {
		s.logger.ErrorContext(ctx, "cache invalidation failed",
			slog.String("slug", slug), slog.String("error", err.Error()))
	}
}

func (s *Distribution) start(ctx context.Context, op, slug string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("extdist.operation", op),
		attribute.String("extdist.slug", slug),
	))
}
