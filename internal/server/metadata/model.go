package metadata

import "time"

// Device types recognized by the gallery.
const (
	DeviceMobile = "mobile"
	DevicePC     = "pc"
)

// ValidDevice reports whether v is one of the two recognized device types.
func ValidDevice(v string) bool {
	return v == DeviceMobile || v == DevicePC
}

// Wallpaper is the metadata record describing one stored image.
// JSON field names match the legacy on-disk document so existing
// database.json files stay readable.
type Wallpaper struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Category      string `json:"category"`
	DeviceType    string `json:"device_type"`
	Filename      string `json:"filename"`
	AssetLocation string `json:"asset_location,omitempty"`
	UploadDate    string `json:"upload_date"`
	DownloadCount int    `json:"download_count"`
}

// Device returns the record's device type, defaulting legacy records
// with no device_type to mobile.
func (w *Wallpaper) Device() string {
	if w.DeviceType == "" {
		return DeviceMobile
	}
	return w.DeviceType
}

// DownloadEvent is one tracked download of a wallpaper. Events are
// append-only; they are removed only by cascading delete of the parent
// record. The "ip" key is kept for legacy document compatibility.
type DownloadEvent struct {
	WallpaperID string `json:"wallpaper_id"`
	Timestamp   string `json:"timestamp"`
	SourceAddr  string `json:"ip"`
}

// Filter narrows listing operations. Zero values mean "no restriction":
// Device outside {mobile, pc} applies no device filter, Category "" or
// "all" applies no category filter, Search "" applies no text filter.
// Multiple set fields combine with AND.
type Filter struct {
	Device   string
	Category string
	Search   string
}

// NormalizeDevice maps a caller-supplied device value onto the filter
// policy: a valid device passes through, anything else falls back to
// defaultScope (itself "" for unscoped reads).
func NormalizeDevice(v, defaultScope string) string {
	if ValidDevice(v) {
		return v
	}
	if ValidDevice(defaultScope) {
		return defaultScope
	}
	return ""
}

// ActivityKind selects which event types an activity feed includes.
type ActivityKind string

const (
	ActivityAll       ActivityKind = "all"
	ActivityUploads   ActivityKind = "uploads"
	ActivityDownloads ActivityKind = "downloads"
)

// DefaultActivityLimit caps the merged activity feed.
const DefaultActivityLimit = 30

// ActivityEntry is one row of the merged uploads/downloads feed.
type ActivityEntry struct {
	Type     string `json:"type"` // "upload" or "download"
	Title    string `json:"title"`
	Filename string `json:"filename"`
	Date     string `json:"date"`
}

// CategoryCount pairs a category with its download-event count.
// A slice preserves the descending order a JSON map would lose.
type CategoryCount struct {
	Category  string `json:"category"`
	Downloads int    `json:"downloads"`
}

// Stats holds the aggregate analytics for a device scope.
type Stats struct {
	TotalWallpapers   int             `json:"total_wallpapers"`
	TotalDownloads    int             `json:"total_downloads"`
	Downloads24h      int             `json:"downloads_24h"`
	PopularCategories []CategoryCount `json:"popular_categories"`
}

// timestampLayouts are the accepted wire formats, newest first. The
// legacy Python app wrote naive isoformat strings without a zone.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// ParseTimestamp parses a stored timestamp string. The zero time and
// false are returned for empty or unparseable values; callers treat
// those as "sorts lowest", never as errors.
func ParseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatTimestamp renders t in the canonical stored form.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
