package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

type ValidationError struct {
	Arg   string
	Cause string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Arg, e.Cause)
}

// CollectImages expands the CLI's file and directory arguments into a
// flat, sorted list of image paths. Directories are scanned one level
// deep; non-image files inside a directory are skipped silently, but a
// file named explicitly must be an accepted image.
func CollectImages(args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, &ValidationError{Arg: "<files>", Cause: "no files provided"}
	}

	var out []string
	for _, raw := range args {
		p := filepath.Clean(raw)
		info, err := os.Stat(p)
		if err != nil {
			return nil, &ValidationError{Arg: raw, Cause: "not found or not accessible"}
		}

		if !info.IsDir() {
			if !AllowedFile(p) {
				return nil, &ValidationError{Arg: raw, Cause: "not an accepted image type (png, jpg, jpeg, webp)"}
			}
			out = append(out, p)
			continue
		}

		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, &ValidationError{Arg: raw, Cause: "failed to read directory"}
		}
		found := 0
		for _, entry := range entries {
			if entry.IsDir() || !AllowedFile(entry.Name()) {
				continue
			}
			out = append(out, filepath.Join(p, entry.Name()))
			found++
		}
		if found == 0 {
			return nil, &ValidationError{Arg: raw, Cause: "directory contains no accepted images"}
		}
	}

	sort.Strings(out)
	return out, nil
}
