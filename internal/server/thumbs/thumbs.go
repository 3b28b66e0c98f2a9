// Package thumbs renders small JPEG previews of uploaded wallpapers so
// gallery pages don't pull full-size images.
package thumbs

import (
	"bytes"
	"fmt"
	"io"

	"github.com/disintegration/imaging"
)

// DefaultWidth is the pixel width of gallery preview thumbnails.
const DefaultWidth = 400

// Render decodes an image and returns a JPEG thumbnail scaled down to
// maxWidth, preserving aspect ratio. Images already narrower than
// maxWidth are re-encoded unscaled. Formats the decoder doesn't know
// (webp) fail here; callers treat thumbnailing as best-effort.
func Render(r io.Reader, maxWidth int) ([]byte, error) {
	img, err := imaging.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	if img.Bounds().Dx() > maxWidth {
		img = imaging.Resize(img, maxWidth, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
