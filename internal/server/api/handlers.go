package api

import (
	"errors"
	"fmt"
	"net/http"

	"wallvault/internal/server/config"
	"wallvault/internal/server/gallery"
	"wallvault/internal/server/metadata"

	"github.com/labstack/echo/v4"
)

// Handler contains the HTTP handlers for the gallery API.
type Handler struct {
	svc  *gallery.Service
	meta metadata.Store
	cfg  *config.Config
}

// NewHandler creates a new handler with its dependencies.
func NewHandler(svc *gallery.Service, meta metadata.Store, cfg *config.Config) *Handler {
	return &Handler{svc: svc, meta: meta, cfg: cfg}
}

// filter builds the listing filter from query parameters, applying the
// configured default device scope when none (or an invalid one) is given.
func (h *Handler) filter(c echo.Context) metadata.Filter {
	return metadata.Filter{
		Device:   metadata.NormalizeDevice(c.QueryParam("device"), h.cfg.DefaultDeviceScope),
		Category: c.QueryParam("category"),
		Search:   c.QueryParam("q"),
	}
}

// HandleWallpapers handles GET /api/wallpapers.
// Supports device, category and q (search) query filters.
func (h *Handler) HandleWallpapers(c echo.Context) error {
	wallpapers, err := h.svc.List(c.Request().Context(), h.filter(c))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, emptyAsList(wallpapers))
}

// HandleLatest handles GET /api/latest: the five newest wallpapers.
func (h *Handler) HandleLatest(c echo.Context) error {
	wallpapers, err := h.svc.Latest(c.Request().Context(), h.filter(c))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, emptyAsList(wallpapers))
}

// HandlePopular handles GET /api/popular: the six most downloaded.
func (h *Handler) HandlePopular(c echo.Context) error {
	wallpapers, err := h.svc.MostPopular(c.Request().Context(), h.filter(c))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, emptyAsList(wallpapers))
}

// HandleCategories handles GET /api/categories.
func (h *Handler) HandleCategories(c echo.Context) error {
	categories, err := h.svc.Categories(c.Request().Context(), h.filter(c))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, emptyAsList(categories))
}

// HandleActivity handles GET /api/activity.
// The type parameter selects all, uploads or downloads.
func (h *Handler) HandleActivity(c echo.Context) error {
	kind := metadata.ActivityKind(c.QueryParam("type"))
	switch kind {
	case metadata.ActivityUploads, metadata.ActivityDownloads:
	default:
		kind = metadata.ActivityAll
	}

	feed, err := h.svc.Activity(c.Request().Context(), kind, h.filter(c))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, emptyAsList(feed))
}

// HandleStats handles GET /api/stats.
func (h *Handler) HandleStats(c echo.Context) error {
	stats, err := h.svc.Stats(c.Request().Context(), h.filter(c))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

// trackRequest is the body of POST /api/track-download.
type trackRequest struct {
	WallpaperID string `json:"wallpaper_id"`
}

// HandleTrackDownload handles POST /api/track-download.
// Records one download event and bumps the wallpaper's counter.
func (h *Handler) HandleTrackDownload(c echo.Context) error {
	var req trackRequest
	if err := c.Bind(&req); err != nil || req.WallpaperID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing wallpaper_id"})
	}

	if err := h.svc.TrackDownload(c.Request().Context(), req.WallpaperID, c.RealIP()); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true})
}

// HandleDownload handles GET /download/:filename.
// Streams local assets as an attachment under the renamed presentation
// filename; remote assets redirect to their public URL.
func (h *Handler) HandleDownload(c echo.Context) error {
	ref, err := h.svc.Download(c.Request().Context(), c.Param("filename"))
	if err != nil {
		return mapServiceError(c, err)
	}

	if ref.Ref.Path != "" {
		return c.Attachment(ref.Ref.Path, ref.Name)
	}
	return c.Redirect(http.StatusFound, ref.Ref.URL)
}

// HandleUpload handles POST /upload (secret-gated).
// Accepts a multipart form with a repeated "files" field plus title,
// category and device_type.
func (h *Handler) HandleUpload(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "multipart form required"})
	}

	headers := form.File["files"]
	var files []gallery.UploadFile
	for _, fh := range headers {
		if fh.Size > h.cfg.MaxUploadSize {
			return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{
				"error": fmt.Sprintf("%s exceeds the upload size limit", fh.Filename),
			})
		}
		src, err := fh.Open()
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to read uploaded file"})
		}
		defer src.Close()
		files = append(files, gallery.UploadFile{Name: fh.Filename, Data: src})
	}

	result, err := h.svc.Upload(
		c.Request().Context(),
		files,
		c.FormValue("title"),
		c.FormValue("category"),
		c.FormValue("device_type"),
	)
	if err != nil {
		if errors.Is(err, gallery.ErrAllUploadsFailed) {
			return c.JSON(http.StatusBadRequest, result)
		}
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, result)
}

// HandleDelete handles DELETE /api/wallpapers/:id (secret-gated).
// Reports the composite outcome: metadata deletion is authoritative,
// asset deletion is best-effort.
func (h *Handler) HandleDelete(c echo.Context) error {
	result, err := h.svc.Delete(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// HandleSweep handles POST /admin/sweep (secret-gated).
// Removes stored assets no metadata record references.
func (h *Handler) HandleSweep(c echo.Context) error {
	removed, err := h.svc.SweepOrphans(c.Request().Context())
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"removed": removed})
}

// HandleHealth handles GET /health.
// Reports metadata backend connectivity.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	backend := "connected"

	if err := h.meta.Ping(c.Request().Context()); err != nil {
		status = "degraded"
		backend = fmt.Sprintf("error: %v", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":   status,
		"metadata": backend,
	})
}

// mapServiceError translates service-layer errors into HTTP responses.
func mapServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, gallery.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "wallpaper not found"})
	case errors.Is(err, gallery.ErrNoFiles),
		errors.Is(err, gallery.ErrMissingFields),
		errors.Is(err, gallery.ErrInvalidDevice):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, metadata.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "duplicate wallpaper id"})
	case errors.Is(err, metadata.ErrBackendUnavailable):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "storage backend unavailable"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
}

// emptyAsList keeps empty result sets rendering as [] instead of null.
func emptyAsList[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
