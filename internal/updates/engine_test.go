package updates

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"extdist/internal/apierrors"
	"extdist/internal/catalog"
	"extdist/internal/licensing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T) (*Engine, *catalog.MemStore, *licensing.MemStore) {
	t.Helper()

	cat := catalog.NewMemStore()
	cat.Put(&catalog.Extension{
		Slug:            "my-plugin",
		Name:            "My Plugin",
		LatestVersion:   "2.0.0",
		Requires:        "6.0",
		Tested:          "6.5",
		RequiresRuntime: "8.1",
		Description:     "Does plugin things.",
		IsGated:         true,
		Changelog: []catalog.ChangelogEntry{
			{Version: "2.0.0", Notes: "Big rewrite."},
		},
	})
	cat.Put(&catalog.Extension{
		Slug:          "free-plugin",
		Name:          "Free Plugin",
		LatestVersion: "1.2.3",
	})

	licStore := licensing.NewMemStore()
	licEngine := licensing.NewEngine(licStore, 5*time.Second, testLogger())
	engine := NewEngine(cat, licEngine, "https://downloads.example.com/", testLogger())
	return engine, cat, licStore
}

func TestCheckUpdate(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	t.Run("older version gets the update", func(t *testing.T) {
		res, err := engine.CheckUpdate(ctx, "my-plugin", "1.9.0")
		require.NoError(t, err)
		assert.True(t, res.Available)
		assert.Equal(t, "2.0.0", res.NewVersion)
		assert.Equal(t, "https://downloads.example.com/packages/my-plugin/my-plugin-2.0.0.zip", res.PackageURL)
		assert.Equal(t, "6.5", res.Tested)
		assert.Equal(t, "6.0", res.Requires)
		assert.Equal(t, "8.1", res.RequiresRuntime)
	})

	t.Run("current version gets nothing", func(t *testing.T) {
		res, err := engine.CheckUpdate(ctx, "my-plugin", "2.0.0")
		require.NoError(t, err)
		assert.False(t, res.Available)
		assert.Empty(t, res.NewVersion)
		assert.Empty(t, res.PackageURL)
	})

	t.Run("newer version gets nothing", func(t *testing.T) {
		res, err := engine.CheckUpdate(ctx, "my-plugin", "2.1.0")
		require.NoError(t, err)
		assert.False(t, res.Available)
	})

	t.Run("semver ordering, not string ordering", func(t *testing.T) {
		// "10.0.0" > "2.0.0" numerically though it sorts lower as a string.
		res, err := engine.CheckUpdate(ctx, "my-plugin", "10.0.0")
		require.NoError(t, err)
		assert.False(t, res.Available)
	})

	t.Run("unparsable caller version is treated as stale", func(t *testing.T) {
		res, err := engine.CheckUpdate(ctx, "my-plugin", "trunk")
		require.NoError(t, err)
		assert.True(t, res.Available)
	})

	t.Run("unknown slug", func(t *testing.T) {
		_, err := engine.CheckUpdate(ctx, "ghost", "1.0.0")
		assert.True(t, apierrors.IsKind(err, apierrors.KindExtensionNotFound))
	})
}

func TestInfo(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	info, err := engine.Info(ctx, "my-plugin")
	require.NoError(t, err)
	assert.Equal(t, "My Plugin", info.Name)
	assert.Equal(t, "2.0.0", info.Version)
	assert.Contains(t, info.DownloadLink, "my-plugin")
	require.Len(t, info.Changelog, 1)

	_, err = engine.Info(ctx, "ghost")
	assert.True(t, apierrors.IsKind(err, apierrors.KindExtensionNotFound))
}

func TestDownloadURL(t *testing.T) {
	ctx := context.Background()

	t.Run("ungated extension needs no license", func(t *testing.T) {
		engine, _, _ := newTestEngine(t)
		url, err := engine.DownloadURL(ctx, "free-plugin", "", "https://site.example.com")
		require.NoError(t, err)
		assert.Contains(t, url, "free-plugin")
	})

	t.Run("gated extension without license", func(t *testing.T) {
		engine, _, _ := newTestEngine(t)
		_, err := engine.DownloadURL(ctx, "my-plugin", "", "https://site.example.com")
		assert.True(t, apierrors.IsKind(err, apierrors.KindLicenseRequired))
	})

	t.Run("gated extension with valid unbound license", func(t *testing.T) {
		engine, _, licStore := newTestEngine(t)
		require.NoError(t, licStore.Put(ctx, &licensing.Record{
			Key:           "KEY-1",
			ExtensionSlug: "my-plugin",
			Status:        licensing.StatusActive,
			Expiry:        time.Now().Add(time.Hour),
			SeatLimit:     1,
		}))

		_, err := engine.DownloadURL(ctx, "my-plugin", "KEY-1", "https://site.example.com")
		assert.True(t, apierrors.IsKind(err, apierrors.KindLicenseRequired),
			"inactive license does not satisfy the gate")
	})

	t.Run("gated extension with valid bound license", func(t *testing.T) {
		engine, _, licStore := newTestEngine(t)
		require.NoError(t, licStore.Put(ctx, &licensing.Record{
			Key:           "KEY-1",
			ExtensionSlug: "my-plugin",
			Status:        licensing.StatusActive,
			Expiry:        time.Now().Add(time.Hour),
			SeatLimit:     1,
			BoundSites:    []string{"https://site.example.com"},
		}))

		url, err := engine.DownloadURL(ctx, "my-plugin", "KEY-1", "https://site.example.com")
		require.NoError(t, err)
		assert.Contains(t, url, "my-plugin")
		assert.NotContains(t, url, "KEY-1", "license key never appears in the URL")
	})
}
