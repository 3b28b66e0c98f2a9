package gallery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"

	"wallvault/internal/core"
	"wallvault/internal/server/assets"
	"wallvault/internal/server/config"
	"wallvault/internal/server/metadata"
	"wallvault/internal/server/thumbs"

	"golang.org/x/sync/errgroup"
)

// Sentinel errors for the gallery service.
var (
	ErrNotFound         = errors.New("wallpaper not found")
	ErrNoFiles          = errors.New("no files selected")
	ErrMissingFields    = errors.New("title, category, and device type are required")
	ErrInvalidDevice    = errors.New("invalid device type")
	ErrAllUploadsFailed = errors.New("all uploads failed")
)

// UploadFile is one incoming file of an upload batch.
type UploadFile struct {
	Name string
	Data io.Reader
}

// BatchResult reports the outcome of a multi-file upload.
type BatchResult struct {
	Uploaded   int                  `json:"uploaded"`
	Failed     int                  `json:"failed"`
	Wallpapers []metadata.Wallpaper `json:"wallpapers"`
}

// DeleteResult is the composite outcome of a cascading delete. The
// asset step is best-effort, so the two flags can diverge.
type DeleteResult struct {
	MetadataDeleted bool                `json:"metadata_deleted"`
	AssetDeleted    bool                `json:"asset_deleted"`
	Removed         *metadata.Wallpaper `json:"removed,omitempty"`
}

// DownloadRef is everything a handler needs to serve one download.
type DownloadRef struct {
	Ref         assets.Ref
	Name        string // presentation filename handed to the client
	WallpaperID string
}

// Service wires the metadata and asset stores into the gallery's
// cross-store workflows.
type Service struct {
	meta  metadata.Store
	store assets.Store
	cfg   *config.Config
}

// NewService creates a gallery service.
func NewService(meta metadata.Store, store assets.Store, cfg *config.Config) *Service {
	return &Service{meta: meta, store: store, cfg: cfg}
}

// Upload stores a batch of wallpapers. Per file, the asset is saved
// before the metadata record is inserted so no record ever points at a
// missing asset; an insert failure after a successful save leaves an
// orphaned asset, which is invisible to listing and reclaimed by
// SweepOrphans. Individual file failures don't abort the batch.
func (s *Service) Upload(ctx context.Context, files []UploadFile, title, category, device string) (*BatchResult, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	if title == "" || category == "" || device == "" {
		return nil, ErrMissingFields
	}
	if !metadata.ValidDevice(device) {
		return nil, ErrInvalidDevice
	}

	result := &BatchResult{}
	var thumbJobs []thumbJob

	for i, file := range files {
		if !core.AllowedFile(file.Name) {
			slog.Warn("rejected upload", "filename", file.Name, "reason", "extension not allowed")
			result.Failed++
			continue
		}

		data, err := io.ReadAll(file.Data)
		if err != nil {
			slog.Error("failed to read upload", "filename", file.Name, "error", err)
			result.Failed++
			continue
		}

		location, err := s.store.Save(ctx, device, core.Ext(file.Name), bytes.NewReader(data))
		if err != nil {
			slog.Error("failed to store asset", "filename", file.Name, "error", err)
			result.Failed++
			continue
		}

		record, err := s.meta.Insert(ctx, &metadata.Wallpaper{
			Title:         core.SeriesTitle(title, i, len(files)),
			Category:      category,
			DeviceType:    device,
			Filename:      path.Base(location),
			AssetLocation: location,
		})
		if err != nil {
			// The stored asset is now an orphan; listing never sees it.
			slog.Error("metadata insert failed after asset save",
				"location", location, "error", err)
			result.Failed++
			continue
		}

		result.Uploaded++
		result.Wallpapers = append(result.Wallpapers, *record)
		thumbJobs = append(thumbJobs, thumbJob{location: location, data: data})
	}

	s.renderThumbnails(ctx, thumbJobs)

	if result.Uploaded == 0 {
		return result, ErrAllUploadsFailed
	}
	return result, nil
}

type thumbJob struct {
	location string
	data     []byte
}

// renderThumbnails generates previews for freshly stored assets,
// bounded to a few at a time. Failures are logged, never fatal.
func (s *Service) renderThumbnails(ctx context.Context, jobs []thumbJob) {
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(4)
	for _, job := range jobs {
		job := job
		group.Go(func() error {
			preview, err := thumbs.Render(bytes.NewReader(job.data), thumbs.DefaultWidth)
			if err != nil {
				slog.Warn("thumbnail render skipped", "location", job.location, "error", err)
				return nil
			}
			if err := s.store.Put(ctx, assets.ThumbLocation(job.location), bytes.NewReader(preview)); err != nil {
				slog.Warn("thumbnail store failed", "location", job.location, "error", err)
			}
			return nil
		})
	}
	group.Wait()
}

// Download resolves a wallpaper by its stored filename and builds the
// renamed presentation file the client receives.
func (s *Service) Download(ctx context.Context, filename string) (*DownloadRef, error) {
	w, err := s.meta.GetByFilename(ctx, filename)
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &DownloadRef{
		Ref:         s.store.Resolve(s.location(w)),
		Name:        core.DownloadName(w.Category, s.cfg.DownloadNameSuffix, w.Filename),
		WallpaperID: w.ID,
	}, nil
}

// TrackDownload records one client-initiated download.
func (s *Service) TrackDownload(ctx context.Context, wallpaperID, sourceAddr string) error {
	err := s.meta.RecordDownload(ctx, wallpaperID, sourceAddr)
	if errors.Is(err, metadata.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// Delete removes a wallpaper: metadata first, so the record is known,
// then the asset and its thumbnail best-effort. An asset failure after
// successful metadata deletion leaves an orphan; it is logged, not
// retried.
func (s *Service) Delete(ctx context.Context, id string) (*DeleteResult, error) {
	removed, err := s.meta.Delete(ctx, id)
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to delete wallpaper record: %w", err)
	}

	result := &DeleteResult{MetadataDeleted: true, Removed: removed}

	location := s.location(removed)
	if err := s.store.Delete(ctx, location); err != nil {
		slog.Error("orphaned asset left behind", "location", location, "error", err)
	} else {
		result.AssetDeleted = true
	}
	if err := s.store.Delete(ctx, assets.ThumbLocation(location)); err != nil {
		slog.Warn("failed to delete thumbnail", "location", location, "error", err)
	}

	slog.Info("wallpaper deleted",
		"id", id,
		"title", removed.Title,
		"asset_deleted", result.AssetDeleted,
	)
	return result, nil
}

// SweepOrphans removes stored assets no metadata record references.
func (s *Service) SweepOrphans(ctx context.Context) (int, error) {
	all, err := s.meta.List(ctx, metadata.Filter{})
	if err != nil {
		return 0, fmt.Errorf("failed to list wallpapers: %w", err)
	}

	live := make(map[string]bool, len(all))
	for i := range all {
		live[s.location(&all[i])] = true
	}
	return s.store.Sweep(ctx, live)
}

// List returns wallpapers matching the filter.
func (s *Service) List(ctx context.Context, f metadata.Filter) ([]metadata.Wallpaper, error) {
	return s.meta.List(ctx, f)
}

// Latest returns the carousel feed: the five newest wallpapers.
func (s *Service) Latest(ctx context.Context, f metadata.Filter) ([]metadata.Wallpaper, error) {
	return s.meta.Latest(ctx, f, 5)
}

// MostPopular returns the six most downloaded wallpapers.
func (s *Service) MostPopular(ctx context.Context, f metadata.Filter) ([]metadata.Wallpaper, error) {
	return s.meta.MostPopular(ctx, f, 6)
}

// Categories returns the distinct categories in scope.
func (s *Service) Categories(ctx context.Context, f metadata.Filter) ([]string, error) {
	return s.meta.Categories(ctx, f)
}

// Activity returns the merged recent uploads/downloads feed.
func (s *Service) Activity(ctx context.Context, kind metadata.ActivityKind, f metadata.Filter) ([]metadata.ActivityEntry, error) {
	return s.meta.Activity(ctx, kind, f, metadata.DefaultActivityLimit)
}

// Stats returns the aggregate analytics for the scope.
func (s *Service) Stats(ctx context.Context, f metadata.Filter) (*metadata.Stats, error) {
	return s.meta.Stats(ctx, f)
}

// location returns the record's asset location, falling back to the
// flat {device}/{filename} layout for records imported without one.
func (s *Service) location(w *metadata.Wallpaper) string {
	if w.AssetLocation != "" {
		return w.AssetLocation
	}
	return w.Device() + "/" + w.Filename
}
