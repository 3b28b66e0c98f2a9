package core

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFixture(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
}

func TestCollectImages(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, filepath.Join(dir, "b.png"))
	writeFixture(t, filepath.Join(dir, "a.jpg"))
	writeFixture(t, filepath.Join(dir, "notes.txt"))
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0755); err != nil {
		t.Fatalf("failed to create subdirectory: %v", err)
	}
	writeFixture(t, filepath.Join(dir, "nested", "deep.png"))

	t.Run("expands a directory one level deep, sorted", func(t *testing.T) {
		got, err := CollectImages([]string{dir})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := []string{filepath.Join(dir, "a.jpg"), filepath.Join(dir, "b.png")}
		if len(got) != len(want) {
			t.Fatalf("expected %v, got %v", want, got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("expected %v, got %v", want, got)
			}
		}
	})

	t.Run("accepts explicit image files", func(t *testing.T) {
		p := filepath.Join(dir, "b.png")
		got, err := CollectImages([]string{p})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 1 || got[0] != p {
			t.Errorf("expected [%s], got %v", p, got)
		}
	})

	t.Run("rejects an explicit non-image file", func(t *testing.T) {
		_, err := CollectImages([]string{filepath.Join(dir, "notes.txt")})
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})

	t.Run("rejects a missing path", func(t *testing.T) {
		_, err := CollectImages([]string{filepath.Join(dir, "missing.png")})
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})

	t.Run("rejects a directory with no images", func(t *testing.T) {
		empty := t.TempDir()
		_, err := CollectImages([]string{empty})
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})

	t.Run("rejects empty arguments", func(t *testing.T) {
		if _, err := CollectImages(nil); err == nil {
			t.Fatal("expected error for no arguments")
		}
	})
}
