// Package updates implements the update-manifest decision logic: version
// comparison against the catalog, plugin-info assembly, and license-gated
// download URL construction.
package updates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Masterminds/semver/v3"

	"extdist/internal/apierrors"
	"extdist/internal/catalog"
	"extdist/internal/licensing"
)

// LicenseChecker is the slice of the licensing engine this package needs.
type LicenseChecker interface {
	Check(ctx context.Context, slug, key, site string) (*licensing.CheckResult, error)
}

// CheckResult is the answer to an update check.
type CheckResult struct {
	Available       bool   `json:"available"`
	NewVersion      string `json:"new_version,omitempty"`
	PackageURL      string `json:"package_url,omitempty"`
	Tested          string `json:"tested,omitempty"`
	Requires        string `json:"requires,omitempty"`
	RequiresRuntime string `json:"requires_runtime,omitempty"`
}

// PluginInfo is the full metadata payload for an "about this plugin" page.
type PluginInfo struct {
	Slug            string                   `json:"slug"`
	Name            string                   `json:"name"`
	Version         string                   `json:"version"`
	Requires        string                   `json:"requires,omitempty"`
	Tested          string                   `json:"tested,omitempty"`
	RequiresRuntime string                   `json:"requires_runtime,omitempty"`
	Description     string                   `json:"description,omitempty"`
	Changelog       []catalog.ChangelogEntry `json:"changelog,omitempty"`
	Banners         catalog.Banners          `json:"banners"`
	DownloadLink    string                   `json:"download_link"`
}

// Engine makes update decisions against the catalog and the licensing
// engine.
type Engine struct {
	catalog  catalog.Store
	licenses LicenseChecker
	baseURL  string
	logger   *slog.Logger
}

// NewEngine creates an update decision engine. baseURL is the root under
// which packages are served.
func NewEngine(store catalog.Store, licenses LicenseChecker, baseURL string, logger *slog.Logger) *Engine {
	return &Engine{
		catalog:  store,
		licenses: licenses,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		logger:   logger.With(slog.String("component", "updates")),
	}
}

// CheckUpdate decides whether currentVersion is behind the catalog's latest
// release for slug. The license key plays no part in the decision itself,
// only in the download gate later.
func (e *Engine) CheckUpdate(ctx context.Context, slug, currentVersion string) (*CheckResult, error) {
	ext, err := e.lookup(ctx, slug)
	if err != nil {
		return nil, err
	}

	if !e.versionBehind(ctx, currentVersion, ext.LatestVersion) {
		return &CheckResult{Available: false}, nil
	}

	return &CheckResult{
		Available:       true,
		NewVersion:      ext.LatestVersion,
		PackageURL:      e.PackageURL(ext),
		Tested:          ext.Tested,
		Requires:        ext.Requires,
		RequiresRuntime: ext.RequiresRuntime,
	}, nil
}

// Info assembles the full plugin-info payload for slug.
func (e *Engine) Info(ctx context.Context, slug string) (*PluginInfo, error) {
	ext, err := e.lookup(ctx, slug)
	if err != nil {
		return nil, err
	}

	return &PluginInfo{
		Slug:            ext.Slug,
		Name:            ext.Name,
		Version:         ext.LatestVersion,
		Requires:        ext.Requires,
		Tested:          ext.Tested,
		RequiresRuntime: ext.RequiresRuntime,
		Description:     ext.Description,
		Changelog:       ext.Changelog,
		Banners:         ext.Banners,
		DownloadLink:    e.PackageURL(ext),
	}, nil
}

// DownloadURL returns the package URL for slug, enforcing the license gate
// for gated extensions. Never cached: the gate depends on live binding
// state.
func (e *Engine) DownloadURL(ctx context.Context, slug, licenseKey, site string) (string, error) {
	ext, err := e.lookup(ctx, slug)
	if err != nil {
		return "", err
	}

	if ext.IsGated {
		res, err := e.licenses.Check(ctx, slug, licenseKey, site)
		if err != nil {
			return "", err
		}
		if res.Status != licensing.CheckValid {
			e.logger.InfoContext(ctx, "gated download refused",
				slog.String("slug", slug),
				slog.String("license_status", string(res.Status)))
			return "", apierrors.New(apierrors.KindLicenseRequired,
				"a valid, site-bound license is required to download this extension")
		}
	}

	return e.PackageURL(ext), nil
}

// PackageURL constructs the package location for an extension. The license
// key is never embedded: gating happens before the URL is handed out, and
// the location itself stays stable per slug and release.
func (e *Engine) PackageURL(ext *catalog.Extension) string {
	return fmt.Sprintf("%s/packages/%s/%s-%s.zip", e.baseURL, ext.Slug, ext.Slug, ext.LatestVersion)
}

// versionBehind reports whether current is strictly older than latest under
// semantic-version ordering. An unparsable caller version is treated as
// older than any release, so broken installs still get offered the fix.
func (e *Engine) versionBehind(ctx context.Context, current, latest string) bool {
	latestV, err := semver.NewVersion(latest)
	if err != nil {
		e.logger.ErrorContext(ctx, "catalog has unparsable latest_version",
			slog.String("version", latest), slog.String("error", err.Error()))
		return false
	}
	currentV, err := semver.NewVersion(current)
	if err != nil {
		return true
	}
	return currentV.LessThan(latestV)
}

func (e *Engine) lookup(ctx context.Context, slug string) (*catalog.Extension, error) {
	ext, err := e.catalog.Get(ctx, slug)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, apierrors.New(apierrors.KindExtensionNotFound,
				fmt.Sprintf("no extension with slug %q", slug))
		}
		return nil, apierrors.Wrap(apierrors.KindStoreUnavailable,
			"extension catalog unavailable", err)
	}
	return ext, nil
}
