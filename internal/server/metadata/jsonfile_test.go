package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *JSONStore {
	t.Helper()
	return NewJSONStore(filepath.Join(t.TempDir(), "database.json"))
}

func mustInsert(t *testing.T, s *JSONStore, w Wallpaper) Wallpaper {
	t.Helper()
	stored, err := s.Insert(context.Background(), &w)
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	return *stored
}

func seedGallery(t *testing.T, s *JSONStore) (dark1, neon, dark2 Wallpaper) {
	t.Helper()
	dark1 = mustInsert(t, s, Wallpaper{
		Title: "Midnight City", Category: "Dark", DeviceType: "mobile",
		Filename: "aaa.png", AssetLocation: "mobile/aaa.png",
		UploadDate: "2024-03-01T10:00:00Z",
	})
	neon = mustInsert(t, s, Wallpaper{
		Title: "Neon Rain", Category: "Neon", DeviceType: "pc",
		Filename: "bbb.jpg", AssetLocation: "pc/bbb.jpg",
		UploadDate: "2024-03-02T10:00:00Z",
	})
	dark2 = mustInsert(t, s, Wallpaper{
		Title: "Dark Forest", Category: "Dark", DeviceType: "pc",
		Filename: "ccc.webp", AssetLocation: "pc/ccc.webp",
		UploadDate: "2024-03-03T10:00:00Z",
	})
	return dark1, neon, dark2
}

func TestJSONStore_List(t *testing.T) {
	ctx := context.Background()

	t.Run("no filter returns everything in insertion order", func(t *testing.T) {
		s := newTestStore(t)
		seedGallery(t, s)

		got, err := s.List(ctx, Filter{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("expected 3 wallpapers, got %d", len(got))
		}
		if got[0].Title != "Midnight City" || got[2].Title != "Dark Forest" {
			t.Errorf("insertion order not preserved: %v", got)
		}
	})

	t.Run("device filter matches exactly", func(t *testing.T) {
		s := newTestStore(t)
		seedGallery(t, s)

		for device, want := range map[string]int{DeviceMobile: 1, DevicePC: 2} {
			got, err := s.List(ctx, Filter{Device: device})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != want {
				t.Errorf("device %s: expected %d, got %d", device, want, len(got))
			}
			for _, w := range got {
				if w.Device() != device {
					t.Errorf("device %s filter returned %s record", device, w.Device())
				}
			}
		}
	})

	t.Run("invalid device value means no device filter", func(t *testing.T) {
		s := newTestStore(t)
		seedGallery(t, s)

		got, err := s.List(ctx, Filter{Device: "tablet"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 3 {
			t.Errorf("expected full set for unknown device, got %d", len(got))
		}
	})

	t.Run("legacy record without device type counts as mobile", func(t *testing.T) {
		s := newTestStore(t)
		mustInsert(t, s, Wallpaper{Title: "Old", Category: "Retro", Filename: "old.png"})

		got, err := s.List(ctx, Filter{Device: DeviceMobile})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 1 {
			t.Errorf("expected legacy record under mobile, got %d records", len(got))
		}
	})

	t.Run("category filter is case-insensitive", func(t *testing.T) {
		s := newTestStore(t)
		seedGallery(t, s)

		upper, err := s.List(ctx, Filter{Category: "Dark"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		lower, err := s.List(ctx, Filter{Category: "dark"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(upper) != 2 || len(lower) != 2 {
			t.Fatalf("expected 2 matches for both spellings, got %d and %d", len(upper), len(lower))
		}
		for i := range upper {
			if upper[i].ID != lower[i].ID {
				t.Errorf("case variants returned different sets")
			}
		}
	})

	t.Run("search matches title or category as substring", func(t *testing.T) {
		s := newTestStore(t)
		seedGallery(t, s)

		byTitle, err := s.List(ctx, Filter{Search: "forest"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(byTitle) != 1 || byTitle[0].Title != "Dark Forest" {
			t.Errorf("title search failed: %v", byTitle)
		}

		byCategory, err := s.List(ctx, Filter{Search: "NEO"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(byCategory) != 1 || byCategory[0].Category != "Neon" {
			t.Errorf("category search failed: %v", byCategory)
		}
	})

	t.Run("filters combine with AND", func(t *testing.T) {
		s := newTestStore(t)
		seedGallery(t, s)

		got, err := s.List(ctx, Filter{Device: DevicePC, Category: "dark"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 1 || got[0].Title != "Dark Forest" {
			t.Errorf("expected only the pc Dark record, got %v", got)
		}
	})

	t.Run("missing document reads as empty gallery", func(t *testing.T) {
		s := newTestStore(t)
		got, err := s.List(ctx, Filter{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("expected empty result, got %d", len(got))
		}
	})
}

func TestJSONStore_Latest(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedGallery(t, s)
	mustInsert(t, s, Wallpaper{Title: "Undated", Category: "Misc", Filename: "ddd.png"})

	t.Run("newest first", func(t *testing.T) {
		got, err := s.Latest(ctx, Filter{}, 2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2, got %d", len(got))
		}
		if got[0].Title != "Undated" {
			// Insert stamps records without a date, making it newest.
			t.Errorf("expected freshly stamped record first, got %q", got[0].Title)
		}
		if got[1].Title != "Dark Forest" {
			t.Errorf("expected Dark Forest second, got %q", got[1].Title)
		}
	})

	t.Run("record with unparseable date sorts last", func(t *testing.T) {
		broken := mustInsert(t, s, Wallpaper{
			Title: "Broken", Category: "Misc", Filename: "eee.png",
			UploadDate: "not-a-date",
		})
		got, err := s.Latest(ctx, Filter{}, 10)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got[len(got)-1].ID != broken.ID {
			t.Errorf("expected undated record last, got %q", got[len(got)-1].Title)
		}
	})
}

func TestJSONStore_MostPopular(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	dark1, neon, dark2 := seedGallery(t, s)

	for i := 0; i < 3; i++ {
		if err := s.RecordDownload(ctx, neon.ID, "10.0.0.1"); err != nil {
			t.Fatalf("record download failed: %v", err)
		}
	}
	if err := s.RecordDownload(ctx, dark2.ID, "10.0.0.2"); err != nil {
		t.Fatalf("record download failed: %v", err)
	}

	t.Run("sorted by download count descending", func(t *testing.T) {
		got, err := s.MostPopular(ctx, Filter{}, 6)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("expected 3, got %d", len(got))
		}
		if got[0].ID != neon.ID || got[1].ID != dark2.ID || got[2].ID != dark1.ID {
			t.Errorf("wrong order: %q, %q, %q", got[0].Title, got[1].Title, got[2].Title)
		}
	})

	t.Run("ties keep insertion order and repeated calls agree", func(t *testing.T) {
		first, err := s.MostPopular(ctx, Filter{}, 6)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for i := 0; i < 5; i++ {
			again, err := s.MostPopular(ctx, Filter{}, 6)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for j := range first {
				if again[j].ID != first[j].ID {
					t.Fatalf("ordering changed between calls without writes")
				}
			}
		}
	})
}

func TestJSONStore_Insert(t *testing.T) {
	ctx := context.Background()

	t.Run("assigns id and upload date", func(t *testing.T) {
		s := newTestStore(t)
		stored := mustInsert(t, s, Wallpaper{Title: "New", Category: "Misc", Filename: "f.png"})
		if stored.ID == "" {
			t.Error("expected generated id")
		}
		if stored.UploadDate == "" {
			t.Error("expected stamped upload date")
		}
	})

	t.Run("persists across store instances", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "database.json")
		mustInsert(t, NewJSONStore(path), Wallpaper{Title: "Kept", Category: "Misc", Filename: "g.png"})

		got, err := NewJSONStore(path).List(ctx, Filter{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 1 || got[0].Title != "Kept" {
			t.Errorf("record did not survive reload: %v", got)
		}
	})

	t.Run("duplicate id conflicts", func(t *testing.T) {
		s := newTestStore(t)
		mustInsert(t, s, Wallpaper{ID: "fixed", Title: "One", Category: "Misc", Filename: "h.png"})

		_, err := s.Insert(ctx, &Wallpaper{ID: "fixed", Title: "Two", Category: "Misc", Filename: "i.png"})
		if !errors.Is(err, ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}
	})
}

func TestJSONStore_RecordDownload(t *testing.T) {
	ctx := context.Background()

	t.Run("increments count and appends one event", func(t *testing.T) {
		s := newTestStore(t)
		dark1, _, _ := seedGallery(t, s)

		if err := s.RecordDownload(ctx, dark1.ID, "192.168.1.5"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		got, err := s.GetByFilename(ctx, dark1.Filename)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.DownloadCount != 1 {
			t.Errorf("expected count 1, got %d", got.DownloadCount)
		}

		doc, err := s.load()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(doc.Downloads) != 1 {
			t.Fatalf("expected 1 event, got %d", len(doc.Downloads))
		}
		e := doc.Downloads[0]
		if e.WallpaperID != dark1.ID || e.SourceAddr != "192.168.1.5" || e.Timestamp == "" {
			t.Errorf("event not recorded correctly: %+v", e)
		}
	})

	t.Run("unknown id fails without mutation", func(t *testing.T) {
		s := newTestStore(t)
		seedGallery(t, s)

		err := s.RecordDownload(ctx, "no-such-id", "10.0.0.1")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}

		doc, err := s.load()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(doc.Downloads) != 0 {
			t.Errorf("expected no events after failed tracking, got %d", len(doc.Downloads))
		}
	})

	t.Run("concurrent downloads all land", func(t *testing.T) {
		s := newTestStore(t)
		dark1, _, _ := seedGallery(t, s)

		const n = 10
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := s.RecordDownload(ctx, dark1.ID, "10.0.0.9"); err != nil {
					t.Errorf("record download failed: %v", err)
				}
			}()
		}
		wg.Wait()

		got, err := s.GetByFilename(ctx, dark1.Filename)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		// The document lock serializes the read-modify-write cycles,
		// so no increment may be lost.
		if got.DownloadCount != n {
			t.Errorf("expected count %d, got %d", n, got.DownloadCount)
		}
	})
}

func TestJSONStore_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("removes record, events, and returns the record", func(t *testing.T) {
		s := newTestStore(t)
		dark1, _, _ := seedGallery(t, s)
		if err := s.RecordDownload(ctx, dark1.ID, "10.0.0.1"); err != nil {
			t.Fatalf("record download failed: %v", err)
		}

		removed, err := s.Delete(ctx, dark1.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if removed.AssetLocation != dark1.AssetLocation {
			t.Errorf("expected removed record with asset location, got %+v", removed)
		}

		all, err := s.List(ctx, Filter{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, w := range all {
			if w.ID == dark1.ID {
				t.Error("deleted record still listed")
			}
		}

		feed, err := s.Activity(ctx, ActivityDownloads, Filter{}, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(feed) != 0 {
			t.Errorf("expected no download activity after cascade, got %d entries", len(feed))
		}
	})

	t.Run("second delete fails with not found", func(t *testing.T) {
		s := newTestStore(t)
		dark1, _, _ := seedGallery(t, s)

		if _, err := s.Delete(ctx, dark1.ID); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := s.Delete(ctx, dark1.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestJSONStore_Activity(t *testing.T) {
	ctx := context.Background()

	t.Run("merges uploads and downloads newest first", func(t *testing.T) {
		s := newTestStore(t)
		dark1, _, _ := seedGallery(t, s)
		if err := s.RecordDownload(ctx, dark1.ID, "10.0.0.1"); err != nil {
			t.Fatalf("record download failed: %v", err)
		}

		feed, err := s.Activity(ctx, ActivityAll, Filter{}, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(feed) != 4 {
			t.Fatalf("expected 4 entries, got %d", len(feed))
		}
		if feed[0].Type != "download" {
			// The tracked download is the most recent event.
			t.Errorf("expected download first, got %s", feed[0].Type)
		}
		for i := 1; i < len(feed); i++ {
			prev, _ := ParseTimestamp(feed[i-1].Date)
			cur, _ := ParseTimestamp(feed[i].Date)
			if cur.After(prev) {
				t.Errorf("feed not sorted descending at index %d", i)
			}
		}
	})

	t.Run("kind restricts entry types", func(t *testing.T) {
		s := newTestStore(t)
		dark1, _, _ := seedGallery(t, s)
		if err := s.RecordDownload(ctx, dark1.ID, "10.0.0.1"); err != nil {
			t.Fatalf("record download failed: %v", err)
		}

		uploads, err := s.Activity(ctx, ActivityUploads, Filter{}, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, e := range uploads {
			if e.Type != "upload" {
				t.Errorf("uploads feed contains %s entry", e.Type)
			}
		}

		downloads, err := s.Activity(ctx, ActivityDownloads, Filter{}, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(downloads) != 1 || downloads[0].Type != "download" {
			t.Errorf("downloads feed wrong: %v", downloads)
		}
	})

	t.Run("dangling events are filtered silently", func(t *testing.T) {
		s := newTestStore(t)
		dark1, _, _ := seedGallery(t, s)

		writeDocument(t, s, func(doc *document) {
			doc.Downloads = append(doc.Downloads, DownloadEvent{
				WallpaperID: "ghost",
				Timestamp:   FormatTimestamp(time.Now()),
			})
			doc.Downloads = append(doc.Downloads, DownloadEvent{
				WallpaperID: dark1.ID,
				Timestamp:   FormatTimestamp(time.Now()),
			})
		})

		feed, err := s.Activity(ctx, ActivityDownloads, Filter{}, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(feed) != 1 {
			t.Errorf("expected dangling event dropped, got %d entries", len(feed))
		}
	})

	t.Run("respects the limit", func(t *testing.T) {
		s := newTestStore(t)
		dark1, _, _ := seedGallery(t, s)
		for i := 0; i < 5; i++ {
			if err := s.RecordDownload(ctx, dark1.ID, "10.0.0.1"); err != nil {
				t.Fatalf("record download failed: %v", err)
			}
		}

		feed, err := s.Activity(ctx, ActivityAll, Filter{}, 3)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(feed) != 3 {
			t.Errorf("expected 3 entries, got %d", len(feed))
		}
	})
}

func TestJSONStore_Stats(t *testing.T) {
	ctx := context.Background()

	t.Run("counts downloads per category", func(t *testing.T) {
		s := newTestStore(t)
		dark1, neon, _ := seedGallery(t, s)

		for i := 0; i < 2; i++ {
			if err := s.RecordDownload(ctx, dark1.ID, "10.0.0.1"); err != nil {
				t.Fatalf("record download failed: %v", err)
			}
		}
		if err := s.RecordDownload(ctx, neon.ID, "10.0.0.2"); err != nil {
			t.Fatalf("record download failed: %v", err)
		}

		stats, err := s.Stats(ctx, Filter{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if stats.TotalWallpapers != 3 {
			t.Errorf("expected 3 wallpapers, got %d", stats.TotalWallpapers)
		}
		if stats.TotalDownloads != 3 {
			t.Errorf("expected 3 downloads, got %d", stats.TotalDownloads)
		}
		if stats.Downloads24h != 3 {
			t.Errorf("expected 3 downloads in 24h, got %d", stats.Downloads24h)
		}
		want := []CategoryCount{{"Dark", 2}, {"Neon", 1}}
		if len(stats.PopularCategories) != len(want) {
			t.Fatalf("expected %d categories, got %d", len(want), len(stats.PopularCategories))
		}
		for i, cc := range want {
			if stats.PopularCategories[i] != cc {
				t.Errorf("category %d: expected %+v, got %+v", i, cc, stats.PopularCategories[i])
			}
		}
	})

	t.Run("old events fall out of the 24h window", func(t *testing.T) {
		s := newTestStore(t)
		dark1, _, _ := seedGallery(t, s)

		writeDocument(t, s, func(doc *document) {
			doc.Downloads = append(doc.Downloads, DownloadEvent{
				WallpaperID: dark1.ID,
				Timestamp:   FormatTimestamp(time.Now().Add(-48 * time.Hour)),
			})
		})

		stats, err := s.Stats(ctx, Filter{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if stats.TotalDownloads != 1 {
			t.Errorf("expected 1 total download, got %d", stats.TotalDownloads)
		}
		if stats.Downloads24h != 0 {
			t.Errorf("expected 0 downloads in 24h, got %d", stats.Downloads24h)
		}
	})

	t.Run("device scope narrows every figure", func(t *testing.T) {
		s := newTestStore(t)
		dark1, neon, _ := seedGallery(t, s)

		if err := s.RecordDownload(ctx, dark1.ID, "10.0.0.1"); err != nil { // mobile
			t.Fatalf("record download failed: %v", err)
		}
		if err := s.RecordDownload(ctx, neon.ID, "10.0.0.2"); err != nil { // pc
			t.Fatalf("record download failed: %v", err)
		}

		stats, err := s.Stats(ctx, Filter{Device: DeviceMobile})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if stats.TotalWallpapers != 1 || stats.TotalDownloads != 1 {
			t.Errorf("mobile scope wrong: %+v", stats)
		}
	})
}

func TestJSONStore_LegacyDocument(t *testing.T) {
	// A document written by earlier versions: naive isoformat dates,
	// no downloads collection, no device_type on one record.
	legacy := `{
	  "wallpapers": [
	    {
	      "id": "w1",
	      "title": "Sunset",
	      "category": "Nature",
	      "filename": "abc123.jpg",
	      "upload_date": "2023-06-15T08:30:00.123456",
	      "download_count": 7
	    },
	    {
	      "id": "w2",
	      "title": "Skyline",
	      "category": "City",
	      "device_type": "pc",
	      "filename": "def456.png",
	      "upload_date": "2023-07-01T12:00:00",
	      "download_count": 2
	    }
	  ]
	}`

	path := filepath.Join(t.TempDir(), "database.json")
	if err := os.WriteFile(path, []byte(legacy), 0644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	s := NewJSONStore(path)
	ctx := context.Background()

	got, err := s.List(ctx, Filter{Device: DeviceMobile})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "w1" {
		t.Errorf("legacy mobile default not honored: %v", got)
	}

	latest, err := s.Latest(ctx, Filter{}, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if latest[0].ID != "w2" {
		t.Errorf("naive isoformat dates not ordered, got %q first", latest[0].ID)
	}
}

func TestJSONStore_GetByFilename(t *testing.T) {
	s := newTestStore(t)
	_, neon, _ := seedGallery(t, s)
	ctx := context.Background()

	got, err := s.GetByFilename(ctx, neon.Filename)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != neon.ID {
		t.Errorf("wrong record: %+v", got)
	}

	if _, err := s.GetByFilename(ctx, "nope.png"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestJSONStore_Categories(t *testing.T) {
	s := newTestStore(t)
	seedGallery(t, s)
	mustInsert(t, s, Wallpaper{Title: "x", Category: "dark", DeviceType: "pc", Filename: "x.png"})
	ctx := context.Background()

	got, err := s.Categories(ctx, Filter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// "dark" dedupes against "Dark" case-insensitively.
	want := []string{"Dark", "Neon"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
		}
	}
}

// writeDocument mutates the raw document under the store's lock, for
// fixtures the public API can't produce (dangling events, old dates).
func writeDocument(t *testing.T, s *JSONStore, mutate func(*document)) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		t.Fatalf("failed to load document: %v", err)
	}
	mutate(doc)
	if err := s.save(doc); err != nil {
		t.Fatalf("failed to save document: %v", err)
	}
}

func TestJSONStore_DocumentFormat(t *testing.T) {
	s := newTestStore(t)
	mustInsert(t, s, Wallpaper{Title: "One", Category: "Misc", Filename: "a.png"})

	data, err := os.ReadFile(s.path)
	if err != nil {
		t.Fatalf("failed to read document: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("document is not valid JSON: %v", err)
	}
	if _, ok := raw["wallpapers"]; !ok {
		t.Error("document missing wallpapers collection")
	}
	if _, ok := raw["downloads"]; !ok {
		t.Error("document missing downloads collection")
	}
}
