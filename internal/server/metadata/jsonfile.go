package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// document is the whole on-disk JSON database: two ordered collections,
// read and written as a unit.
type document struct {
	Wallpapers []Wallpaper     `json:"wallpapers"`
	Downloads  []DownloadEvent `json:"downloads"`
}

// JSONStore keeps all metadata in a single JSON document on disk.
//
// Mutations take an exclusive lock for their full read-modify-write
// cycle; without it concurrent writers would silently drop each
// other's changes. Reads load a fresh snapshot without the lock and
// may observe slightly stale data, which is acceptable for browsing.
type JSONStore struct {
	path string
	mu   sync.Mutex
}

// NewJSONStore creates a store backed by the document at path. The
// file is created lazily on first mutation; a missing file reads as an
// empty gallery.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

func (s *JSONStore) load() (*document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &document{}, nil
		}
		return nil, fmt.Errorf("failed to read metadata document: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse metadata document: %w", err)
	}
	return &doc, nil
}

// save writes the document through a temp file and rename so a crash
// mid-write never leaves a truncated database behind.
func (s *JSONStore) save(doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata document: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create metadata directory: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata document: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace metadata document: %w", err)
	}
	return nil
}

// List returns matching wallpapers in insertion order.
func (s *JSONStore) List(ctx context.Context, f Filter) ([]Wallpaper, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	return filterWallpapers(doc.Wallpapers, f), nil
}

// Latest returns the n most recently uploaded matches, newest first.
func (s *JSONStore) Latest(ctx context.Context, f Filter, n int) ([]Wallpaper, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	out := filterWallpapers(doc.Wallpapers, f)
	slices.SortStableFunc(out, func(a, b Wallpaper) int {
		ta, _ := ParseTimestamp(a.UploadDate)
		tb, _ := ParseTimestamp(b.UploadDate)
		return tb.Compare(ta)
	})
	return truncate(out, n), nil
}

// MostPopular returns the n most downloaded matches, descending. The
// sort is stable so ties keep insertion order across repeated calls.
func (s *JSONStore) MostPopular(ctx context.Context, f Filter, n int) ([]Wallpaper, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	out := filterWallpapers(doc.Wallpapers, f)
	slices.SortStableFunc(out, func(a, b Wallpaper) int {
		return b.DownloadCount - a.DownloadCount
	})
	return truncate(out, n), nil
}

// GetByFilename looks a record up by its stored asset name.
func (s *JSONStore) GetByFilename(ctx context.Context, filename string) (*Wallpaper, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	for i := range doc.Wallpapers {
		if doc.Wallpapers[i].Filename == filename {
			w := doc.Wallpapers[i]
			return &w, nil
		}
	}
	return nil, ErrNotFound
}

// Categories returns the sorted distinct categories of matching records.
func (s *JSONStore) Categories(ctx context.Context, f Filter) ([]string, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []string
	for i := range doc.Wallpapers {
		w := &doc.Wallpapers[i]
		if !matches(w, f) {
			continue
		}
		key := strings.ToLower(w.Category)
		if w.Category != "" && !seen[key] {
			seen[key] = true
			out = append(out, w.Category)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Insert persists a new record under the document lock.
func (s *JSONStore) Insert(ctx context.Context, w *Wallpaper) (*Wallpaper, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}

	stored := *w
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	} else {
		for i := range doc.Wallpapers {
			if doc.Wallpapers[i].ID == stored.ID {
				return nil, ErrConflict
			}
		}
	}
	if stored.UploadDate == "" {
		stored.UploadDate = FormatTimestamp(time.Now())
	}

	doc.Wallpapers = append(doc.Wallpapers, stored)
	if err := s.save(doc); err != nil {
		return nil, err
	}
	return &stored, nil
}

// RecordDownload appends one download event and bumps the record's
// counter, both inside a single locked read-modify-write cycle.
func (s *JSONStore) RecordDownload(ctx context.Context, wallpaperID, sourceAddr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}

	idx := -1
	for i := range doc.Wallpapers {
		if doc.Wallpapers[i].ID == wallpaperID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotFound
	}

	doc.Downloads = append(doc.Downloads, DownloadEvent{
		WallpaperID: wallpaperID,
		Timestamp:   FormatTimestamp(time.Now()),
		SourceAddr:  sourceAddr,
	})
	doc.Wallpapers[idx].DownloadCount++

	return s.save(doc)
}

// Delete removes the record and all of its download events.
func (s *JSONStore) Delete(ctx context.Context, id string) (*Wallpaper, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}

	idx := -1
	for i := range doc.Wallpapers {
		if doc.Wallpapers[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrNotFound
	}

	removed := doc.Wallpapers[idx]
	doc.Wallpapers = append(doc.Wallpapers[:idx], doc.Wallpapers[idx+1:]...)

	kept := doc.Downloads[:0]
	for _, d := range doc.Downloads {
		if d.WallpaperID != id {
			kept = append(kept, d)
		}
	}
	doc.Downloads = kept

	if err := s.save(doc); err != nil {
		return nil, err
	}
	return &removed, nil
}

// Activity merges upload and download events into one feed, newest first.
func (s *JSONStore) Activity(ctx context.Context, kind ActivityKind, f Filter, limit int) ([]ActivityEntry, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultActivityLimit
	}

	scoped := filterWallpapers(doc.Wallpapers, f)
	byID := make(map[string]*Wallpaper, len(scoped))
	for i := range scoped {
		byID[scoped[i].ID] = &scoped[i]
	}

	var feed []ActivityEntry
	if kind == ActivityAll || kind == ActivityDownloads {
		for _, d := range doc.Downloads {
			// Dangling events are filtered, never an error.
			w, ok := byID[d.WallpaperID]
			if !ok {
				continue
			}
			feed = append(feed, ActivityEntry{
				Type:     "download",
				Title:    w.Title,
				Filename: w.Filename,
				Date:     d.Timestamp,
			})
		}
	}
	if kind == ActivityAll || kind == ActivityUploads {
		for i := range scoped {
			w := &scoped[i]
			if w.UploadDate == "" {
				continue
			}
			feed = append(feed, ActivityEntry{
				Type:     "upload",
				Title:    w.Title,
				Filename: w.Filename,
				Date:     w.UploadDate,
			})
		}
	}

	slices.SortStableFunc(feed, func(a, b ActivityEntry) int {
		ta, _ := ParseTimestamp(a.Date)
		tb, _ := ParseTimestamp(b.Date)
		return tb.Compare(ta)
	})
	return truncate(feed, limit), nil
}

// Stats aggregates analytics over the filtered record set.
func (s *JSONStore) Stats(ctx context.Context, f Filter) (*Stats, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}

	scoped := filterWallpapers(doc.Wallpapers, f)
	byID := make(map[string]*Wallpaper, len(scoped))
	for i := range scoped {
		byID[scoped[i].ID] = &scoped[i]
	}

	stats := &Stats{TotalWallpapers: len(scoped)}
	cutoff := time.Now().Add(-24 * time.Hour)

	counts := make(map[string]int)
	var order []string // first-encountered category order for stable ties
	for _, d := range doc.Downloads {
		w, ok := byID[d.WallpaperID]
		if !ok {
			continue
		}
		stats.TotalDownloads++
		if t, ok := ParseTimestamp(d.Timestamp); ok && !t.Before(cutoff) {
			stats.Downloads24h++
		}
		if _, seen := counts[w.Category]; !seen {
			order = append(order, w.Category)
		}
		counts[w.Category]++
	}

	slices.SortStableFunc(order, func(a, b string) int {
		return counts[b] - counts[a]
	})
	for _, cat := range truncate(order, 5) {
		stats.PopularCategories = append(stats.PopularCategories, CategoryCount{
			Category:  cat,
			Downloads: counts[cat],
		})
	}
	return stats, nil
}

// Ping verifies the document is readable.
func (s *JSONStore) Ping(ctx context.Context) error {
	_, err := s.load()
	return err
}

// Close is a no-op for the file-backed store.
func (s *JSONStore) Close() {}

func filterWallpapers(ws []Wallpaper, f Filter) []Wallpaper {
	var out []Wallpaper
	for i := range ws {
		if matches(&ws[i], f) {
			out = append(out, ws[i])
		}
	}
	return out
}

func truncate[T any](s []T, n int) []T {
	if n >= 0 && len(s) > n {
		return s[:n]
	}
	return s
}
