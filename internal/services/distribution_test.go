package services

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"extdist/internal/apierrors"
	"extdist/internal/cache"
	"extdist/internal/catalog"
	"extdist/internal/infrastructure"
	"extdist/internal/licensing"
	"extdist/internal/ratelimit"
	"extdist/internal/updates"
)

// countingCatalog wraps a catalog store and counts lookups, so tests can
// prove the cache short-circuits recomputation.
type countingCatalog struct {
	inner catalog.Store
	gets  atomic.Int64
}

func (c *countingCatalog) Get(ctx context.Context, slug string) (*catalog.Extension, error) {
	c.gets.Add(1)
	return c.inner.Get(ctx, slug)
}

type fixture struct {
	svc      *Distribution
	catalog  *countingCatalog
	licStore *licensing.MemStore
	limiter  *ratelimit.Limiter
}

func newFixture(t *testing.T, maxRequests int) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mem := catalog.NewMemStore()
	mem.Put(&catalog.Extension{
		Slug:          "my-plugin",
		Name:          "My Plugin",
		LatestVersion: "2.0.0",
		IsGated:       true,
	})
	counting := &countingCatalog{inner: mem}

	licStore := licensing.NewMemStore()
	licEngine := licensing.NewEngine(licStore, 5*time.Second, logger)
	updEngine := updates.NewEngine(counting, licEngine, "https://downloads.example.com", logger)

	respCache := cache.NewMemory(100)
	t.Cleanup(func() { respCache.Close() })

	limiter := ratelimit.New(time.Minute, maxRequests)
	t.Cleanup(limiter.Stop)

	svc := NewDistribution(limiter, respCache, time.Hour, updEngine, licEngine,
		infrastructure.NewMetrics(), logger)
	return &fixture{svc: svc, catalog: counting, licStore: licStore, limiter: limiter}
}

func seedLicense(t *testing.T, f *fixture, key string, seats int) {
	t.Helper()
	require.NoError(t, f.licStore.Put(context.Background(), &licensing.Record{
		Key:           key,
		ExtensionSlug: "my-plugin",
		Status:        licensing.StatusActive,
		Expiry:        time.Now().Add(time.Hour),
		SeatLimit:     seats,
	}))
}

func TestRateLimitAppliesToEveryOperation(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	_, err := f.svc.PluginInfo(ctx, "10.0.0.1", "my-plugin", "")
	require.NoError(t, err)
	_, err = f.svc.CheckUpdate(ctx, "10.0.0.1", "my-plugin", "1.0.0", "")
	require.NoError(t, err)

	// Third call within the window, regardless of operation, is denied.
	_, err = f.svc.CheckLicense(ctx, "10.0.0.1", "my-plugin", "K", "https://s.example.com")
	require.Error(t, err)
	assert.True(t, apierrors.IsKind(err, apierrors.KindRateLimitExceeded))

	var apiErr *apierrors.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Greater(t, apiErr.RetryAfter, time.Duration(0), "denial carries a retry-after hint")

	// A different caller is unaffected.
	_, err = f.svc.PluginInfo(ctx, "10.0.0.2", "my-plugin", "")
	assert.NoError(t, err)
}

func TestPluginInfoIsCached(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	first, err := f.svc.PluginInfo(ctx, "caller", "my-plugin", "KEY-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), f.catalog.gets.Load())

	second, err := f.svc.PluginInfo(ctx, "caller", "my-plugin", "KEY-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.catalog.gets.Load(), "second call must not touch the catalog")
	assert.Equal(t, []byte(first), []byte(second), "cached payload is byte-identical")
}

func TestCheckUpdateCacheKeyIncludesVersion(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	old, err := f.svc.CheckUpdate(ctx, "caller", "my-plugin", "1.9.0", "")
	require.NoError(t, err)
	assert.Contains(t, string(old), `"available":true`)
	assert.Contains(t, string(old), `"new_version":"2.0.0"`)

	current, err := f.svc.CheckUpdate(ctx, "caller", "my-plugin", "2.0.0", "")
	require.NoError(t, err)
	assert.Contains(t, string(current), `"available":false`,
		"different caller version must not reuse the other version's entry")
}

func TestActivationInvalidatesCachedResponses(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	seedLicense(t, f, "KEY-1", 1)

	_, err := f.svc.PluginInfo(ctx, "caller", "my-plugin", "KEY-1")
	require.NoError(t, err)
	_, err = f.svc.CheckUpdate(ctx, "caller", "my-plugin", "1.0.0", "KEY-1")
	require.NoError(t, err)
	baseline := f.catalog.gets.Load()

	_, err = f.svc.Activate(ctx, "caller", "my-plugin", "KEY-1", "https://s.example.com")
	require.NoError(t, err)

	_, err = f.svc.PluginInfo(ctx, "caller", "my-plugin", "KEY-1")
	require.NoError(t, err)
	_, err = f.svc.CheckUpdate(ctx, "caller", "my-plugin", "1.0.0", "KEY-1")
	require.NoError(t, err)
	assert.Equal(t, baseline+2, f.catalog.gets.Load(),
		"post-activation reads recompute instead of serving stale entries")
}

func TestDeactivationInvalidatesCachedResponses(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	seedLicense(t, f, "KEY-1", 1)

	_, err := f.svc.PluginInfo(ctx, "caller", "my-plugin", "KEY-1")
	require.NoError(t, err)
	baseline := f.catalog.gets.Load()

	_, err = f.svc.Deactivate(ctx, "caller", "my-plugin", "KEY-1", "https://s.example.com")
	require.NoError(t, err)

	_, err = f.svc.PluginInfo(ctx, "caller", "my-plugin", "KEY-1")
	require.NoError(t, err)
	assert.Equal(t, baseline+1, f.catalog.gets.Load())
}

func TestActivationLifecycle(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	seedLicense(t, f, "KEY-1", 1)

	res, err := f.svc.Activate(ctx, "caller", "my-plugin", "KEY-1", "https://s.example.com")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.Expiry.IsZero())

	check, err := f.svc.CheckLicense(ctx, "caller", "my-plugin", "KEY-1", "https://s.example.com")
	require.NoError(t, err)
	assert.Equal(t, licensing.CheckValid, check.Status)

	dres, err := f.svc.Deactivate(ctx, "caller", "my-plugin", "KEY-1", "https://s.example.com")
	require.NoError(t, err)
	assert.True(t, dres.Success)

	check, err = f.svc.CheckLicense(ctx, "caller", "my-plugin", "KEY-1", "https://s.example.com")
	require.NoError(t, err)
	assert.Equal(t, licensing.CheckInactive, check.Status)
}

func TestGatedDownload(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	seedLicense(t, f, "KEY-1", 1)

	_, err := f.svc.Download(ctx, "caller", "my-plugin", "KEY-1", "https://s.example.com")
	assert.True(t, apierrors.IsKind(err, apierrors.KindLicenseRequired),
		"unbound license does not unlock the download")

	_, err = f.svc.Activate(ctx, "caller", "my-plugin", "KEY-1", "https://s.example.com")
	require.NoError(t, err)

	res, err := f.svc.Download(ctx, "caller", "my-plugin", "KEY-1", "https://s.example.com")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.DownloadURL, "my-plugin")
}
