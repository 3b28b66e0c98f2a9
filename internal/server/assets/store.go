package assets

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
)

// Ref is a resolved pointer to stored bytes: a local path to stream
// directly, or a public URL to redirect to. Exactly one field is set.
type Ref struct {
	Path string
	URL  string
}

// Store is the asset contract for wallpaper binaries. Locations are
// backend-relative slash paths of the form {device}/{generated-name}.
type Store interface {
	// Save persists data under a freshly generated collision-resistant
	// name and returns its location. Names are never derived from
	// user-supplied filenames.
	Save(ctx context.Context, device, ext string, data io.Reader) (string, error)

	// Put writes data at an exact location, used for derived files
	// such as thumbnails.
	Put(ctx context.Context, location string, data io.Reader) error

	// Open returns a reader over the stored bytes.
	Open(ctx context.Context, location string) (io.ReadCloser, error)

	// Resolve maps a location onto a retrievable reference without any
	// network round-trip.
	Resolve(location string) Ref

	// Delete removes the stored bytes. A missing object is not an
	// error; deletion is best-effort by contract.
	Delete(ctx context.Context, location string) error

	// Sweep removes stored objects whose location is not in live and
	// is not a derived file of a live location. Returns the number
	// removed.
	Sweep(ctx context.Context, live map[string]bool) (int, error)
}

// Backend names accepted by New.
const (
	BackendFilesystem = "filesystem"
	BackendS3         = "s3"
)

// Config selects and parameterizes an asset backend.
type Config struct {
	Backend       string // "filesystem" or "s3"
	BasePath      string // filesystem root, filesystem backend only
	Bucket        string // s3 backend only
	Region        string
	Endpoint      string // optional custom endpoint for S3-compatible stores
	PublicBaseURL string // base of the deterministic public URL scheme
}

// New constructs the configured Store, keeping backend branching out
// of call sites.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendFilesystem, "":
		store := NewFilesystemStore(cfg.BasePath)
		if err := store.EnsureDir(); err != nil {
			return nil, err
		}
		return store, nil
	case BackendS3:
		return NewS3Store(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown asset backend %q", cfg.Backend)
	}
}

const thumbSuffix = ".thumb.jpg"

// ThumbLocation derives the thumbnail location for an asset.
func ThumbLocation(location string) string {
	return location + thumbSuffix
}

// isDerived reports whether location is a derived file of a live asset.
func isDerived(location string, live map[string]bool) bool {
	base, ok := strings.CutSuffix(location, thumbSuffix)
	return ok && live[base]
}

// newLocation builds {device}/{uuid-hex}.{ext} for a fresh asset.
func newLocation(device, ext string) string {
	name := strings.ReplaceAll(uuid.NewString(), "-", "")
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext != "" {
		name += "." + ext
	}
	return device + "/" + name
}
