// Package catalog provides read-only access to extension metadata. The
// catalog is owned and mutated elsewhere; this service only consumes it.
package catalog

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no extension exists for a slug.
var ErrNotFound = errors.New("extension not found")

// ChangelogEntry is one version's release notes. Entries are ordered newest
// first.
type ChangelogEntry struct {
	Version string `yaml:"version" json:"version"`
	Notes   string `yaml:"notes" json:"notes"`
}

// Banners holds promotional banner URLs by resolution tier.
type Banners struct {
	Low  string `yaml:"low" json:"low,omitempty"`
	High string `yaml:"high" json:"high,omitempty"`
}

// Extension is the catalog record for one distributable extension.
type Extension struct {
	Slug            string           `yaml:"slug" json:"slug"`
	Name            string           `yaml:"name" json:"name"`
	LatestVersion   string           `yaml:"latest_version" json:"latest_version"`
	Requires        string           `yaml:"requires" json:"requires"`
	Tested          string           `yaml:"tested" json:"tested"`
	RequiresRuntime string           `yaml:"requires_runtime" json:"requires_runtime"`
	Description     string           `yaml:"description" json:"description"`
	Changelog       []ChangelogEntry `yaml:"changelog" json:"changelog"`
	Banners         Banners          `yaml:"banners" json:"banners"`
	IsGated         bool             `yaml:"is_gated" json:"is_gated"`
}

// Store looks up extension metadata by slug. Implementations return
// ErrNotFound for unknown slugs; transport-level failures are returned
// as-is for the caller to classify.
type Store interface {
	Get(ctx context.Context, slug string) (*Extension, error)
}
