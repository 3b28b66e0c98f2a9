package metadata

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared by every backend.
var (
	ErrNotFound           = errors.New("wallpaper not found")
	ErrConflict           = errors.New("wallpaper id already exists")
	ErrBackendUnavailable = errors.New("metadata backend unavailable")
)

// Store is the metadata contract both backends implement. Every
// operation may block on file or network I/O.
//
// Failure policy: read operations degrade to empty results when the
// backend is unreachable; Insert, RecordDownload and Delete surface
// ErrBackendUnavailable so callers know the mutation did not happen.
type Store interface {
	// List returns wallpapers matching the filter, in insertion order.
	List(ctx context.Context, f Filter) ([]Wallpaper, error)

	// Latest returns the n most recently uploaded matches, newest
	// first. Records without a parseable upload date sort last.
	Latest(ctx context.Context, f Filter, n int) ([]Wallpaper, error)

	// MostPopular returns the n most downloaded matches, descending.
	// Ties keep insertion order so repeated calls are deterministic.
	MostPopular(ctx context.Context, f Filter, n int) ([]Wallpaper, error)

	// GetByFilename looks a record up by its stored asset name, the
	// secondary key used by the download-by-name path.
	GetByFilename(ctx context.Context, filename string) (*Wallpaper, error)

	// Categories returns the sorted distinct categories of matching records.
	Categories(ctx context.Context, f Filter) ([]string, error)

	// Insert persists a new record, assigning a fresh id when none is
	// set, and returns the stored record. A caller-supplied id that
	// already exists fails with ErrConflict.
	Insert(ctx context.Context, w *Wallpaper) (*Wallpaper, error)

	// RecordDownload appends one DownloadEvent for the record and
	// increments its download count by exactly one. ErrNotFound if the
	// id does not exist; no mutation happens in that case.
	RecordDownload(ctx context.Context, wallpaperID, sourceAddr string) error

	// Delete removes the record and its download events, returning the
	// removed record so the caller can release its asset. ErrNotFound
	// if absent, including on a repeated delete.
	Delete(ctx context.Context, id string) (*Wallpaper, error)

	// Activity returns the merged uploads/downloads feed, newest
	// first, truncated to limit. Events pointing at deleted records
	// and records without an upload date are silently omitted.
	Activity(ctx context.Context, kind ActivityKind, f Filter, limit int) ([]ActivityEntry, error)

	// Stats aggregates analytics over the filtered record set.
	Stats(ctx context.Context, f Filter) (*Stats, error)

	// Ping reports backend connectivity.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close()
}

// Backend names accepted by New.
const (
	BackendJSON     = "json"
	BackendPostgres = "postgres"
)

// Config selects and parameterizes a metadata backend.
type Config struct {
	Backend     string // "json" or "postgres"
	JSONPath    string // path of the JSON document, json backend only
	DatabaseURL string // pgx connection string, postgres backend only
}

// New constructs the configured Store. Backend selection lives here so
// call sites stay free of backend conditionals.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendJSON, "":
		return NewJSONStore(cfg.JSONPath), nil
	case BackendPostgres:
		return NewPostgresStore(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown metadata backend %q", cfg.Backend)
	}
}

// matches applies the shared filter semantics: device exact-enum match,
// category case-insensitive exact match, search case-insensitive
// substring over title or category, all ANDed together.
func matches(w *Wallpaper, f Filter) bool {
	if ValidDevice(f.Device) && w.Device() != f.Device {
		return false
	}
	if f.Category != "" && f.Category != "all" &&
		!strings.EqualFold(w.Category, f.Category) {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(w.Title), q) &&
			!strings.Contains(strings.ToLower(w.Category), q) {
			return false
		}
	}
	return true
}
