package http

import (
	"net/http"

	"github.com/go-playground/validator/v10"
)

// validate is the shared validator instance; validator.Validate is safe for
// concurrent use.
var validate = validator.New(validator.WithRequiredStructEnabled())

// UpdateCheckRequest is the payload for POST /updates/check.
type UpdateCheckRequest struct {
	Slug       string `json:"slug" validate:"required"`
	Version    string `json:"version" validate:"required"`
	LicenseKey string `json:"license_key,omitempty" validate:"omitempty,min=8"`
}

// Bind implements the render.Binder interface.
func (u *UpdateCheckRequest) Bind(r *http.Request) error {
	return validate.Struct(u)
}

// PluginInfoRequest is the payload for POST /updates/info.
type PluginInfoRequest struct {
	Slug       string `json:"slug" validate:"required"`
	LicenseKey string `json:"license_key,omitempty" validate:"omitempty,min=8"`
}

// Bind implements the render.Binder interface.
func (p *PluginInfoRequest) Bind(r *http.Request) error {
	return validate.Struct(p)
}

// LicenseRequest is the payload shared by the license lifecycle endpoints.
type LicenseRequest struct {
	Extension  string `json:"extension" validate:"required"`
	LicenseKey string `json:"license_key" validate:"required,min=8"`
	SiteURL    string `json:"site_url" validate:"required,url"`
}

// Bind implements the render.Binder interface.
func (l *LicenseRequest) Bind(r *http.Request) error {
	return validate.Struct(l)
}

// DownloadRequest is the payload for POST /download. The license key is
// optional: ungated extensions need none.
type DownloadRequest struct {
	Extension  string `json:"extension" validate:"required"`
	LicenseKey string `json:"license_key,omitempty" validate:"omitempty,min=8"`
	SiteURL    string `json:"site_url" validate:"required,url"`
}

// Bind implements the render.Binder interface.
func (d *DownloadRequest) Bind(r *http.Request) error {
	return validate.Struct(d)
}
