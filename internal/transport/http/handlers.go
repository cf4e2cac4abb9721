// Package http exposes the distribution service over HTTP. Handlers bind
// and validate the request body, derive the caller identity from the
// connection address, and delegate to the service layer. Cacheable
// operations return raw JSON so a cached payload is written verbatim.
package http

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/render"

	"extdist/internal/apierrors"
	"extdist/internal/services"
)

// Handler holds the HTTP handlers for the distribution API.
type Handler struct {
	svc    *services.Distribution
	logger *slog.Logger
}

// NewHandler creates the API handler.
func NewHandler(svc *services.Distribution, logger *slog.Logger) *Handler {
	return &Handler{
		svc:    svc,
		logger: logger.With(slog.String("component", "http")),
	}
}

// CheckUpdate handles POST /api/v1/updates/check.
func (h *Handler) CheckUpdate(w http.ResponseWriter, r *http.Request) {
	req := &UpdateCheckRequest{}
	if err := render.Bind(r, req); err != nil {
		h.renderError(w, r, apierrors.Wrap(apierrors.KindInvalidRequest, "invalid update check request", err))
		return
	}

	payload, err := h.svc.CheckUpdate(r.Context(), callerIdentity(r), req.Slug, req.Version, req.LicenseKey)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	writeRawJSON(w, payload)
}

// PluginInfo handles POST /api/v1/updates/info.
func (h *Handler) PluginInfo(w http.ResponseWriter, r *http.Request) {
	req := &PluginInfoRequest{}
	if err := render.Bind(r, req); err != nil {
		h.renderError(w, r, apierrors.Wrap(apierrors.KindInvalidRequest, "invalid plugin info request", err))
		return
	}

	payload, err := h.svc.PluginInfo(r.Context(), callerIdentity(r), req.Slug, req.LicenseKey)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	writeRawJSON(w, payload)
}

// ActivateLicense handles POST /api/v1/license/activate.
func (h *Handler) ActivateLicense(w http.ResponseWriter, r *http.Request) {
	req := &LicenseRequest{}
	if err := render.Bind(r, req); err != nil {
		h.renderError(w, r, apierrors.Wrap(apierrors.KindInvalidRequest, "invalid activation request", err))
		return
	}

	res, err := h.svc.Activate(r.Context(), callerIdentity(r), req.Extension, req.LicenseKey, req.SiteURL)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, res)
}

// DeactivateLicense handles POST /api/v1/license/deactivate.
func (h *Handler) DeactivateLicense(w http.ResponseWriter, r *http.Request) {
	req := &LicenseRequest{}
	if err := render.Bind(r, req); err != nil {
		h.renderError(w, r, apierrors.Wrap(apierrors.KindInvalidRequest, "invalid deactivation request", err))
		return
	}

	res, err := h.svc.Deactivate(r.Context(), callerIdentity(r), req.Extension, req.LicenseKey, req.SiteURL)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, res)
}

// CheckLicense handles POST /api/v1/license/check.
func (h *Handler) CheckLicense(w http.ResponseWriter, r *http.Request) {
	req := &LicenseRequest{}
	if err := render.Bind(r, req); err != nil {
		h.renderError(w, r, apierrors.Wrap(apierrors.KindInvalidRequest, "invalid license check request", err))
		return
	}

	res, err := h.svc.CheckLicense(r.Context(), callerIdentity(r), req.Extension, req.LicenseKey, req.SiteURL)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, res)
}

// Download handles POST /api/v1/download.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	req := &DownloadRequest{}
	if err := render.Bind(r, req); err != nil {
		h.renderError(w, r, apierrors.Wrap(apierrors.KindInvalidRequest, "invalid download request", err))
		return
	}

	res, err := h.svc.Download(r.Context(), callerIdentity(r), req.Extension, req.LicenseKey, req.SiteURL)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, res)
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	if kind := apierrors.KindOf(err); kind != apierrors.KindRateLimitExceeded {
		h.logger.WarnContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()))
	}
	render.Render(w, r, apierrors.Renderer(err))
}

// callerIdentity derives the rate-limit identity from the connection
// address. RealIP has already rewritten RemoteAddr when a trusted proxy
// header is present.
func callerIdentity(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeRawJSON writes a pre-encoded JSON payload. Cached responses take
// this path so repeated calls return byte-identical bodies.
func writeRawJSON(w http.ResponseWriter, payload []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}
