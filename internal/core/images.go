package core

import (
	"path/filepath"
	"strconv"
	"strings"
)

// allowedExtensions are the image types the gallery accepts.
var allowedExtensions = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
	"webp": true,
}

// Ext returns the lowercase extension of name without the dot, or ""
// when name has none.
func Ext(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// AllowedFile reports whether name carries an accepted image extension.
func AllowedFile(name string) bool {
	return allowedExtensions[Ext(name)]
}

// DownloadName builds the presentation filename handed to downloaders:
// the wallpaper's category plus the configured suffix, keeping the
// stored file's extension. The stored name itself is never exposed.
func DownloadName(category, suffix, storedName string) string {
	if category == "" {
		category = "wallpaper"
	}
	name := category
	if suffix != "" {
		name += "-" + suffix
	}
	if ext := Ext(storedName); ext != "" {
		name += "." + ext
	}
	return name
}

// SeriesTitle numbers the titles of a multi-file upload batch so each
// record stays independently addressable. Single uploads keep the bare
// title.
func SeriesTitle(base string, index, total int) string {
	if total <= 1 {
		return base
	}
	return base + " #" + strconv.Itoa(index+1)
}
