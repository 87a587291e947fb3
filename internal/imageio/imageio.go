// Package imageio loads star-field frames from disk for identification.
package imageio

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// ErrUnsupported is returned when no decoder accepts the file.
var ErrUnsupported = errors.New("unsupported image format")

// Extensions the native decoders handle.
var nativeExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".tif": true, ".tiff": true, ".bmp": true,
}

// Extensions only ImageMagick can read.
var magickExtensions = map[string]bool{
	".fits": true, ".fit": true, ".fts": true,
	".cr2": true, ".nef": true, ".arw": true, ".dng": true, ".raf": true, ".orf": true,
	".webp": true, ".pgm": true, ".ppm": true,
}

// Decoder decodes image files with the Go decoders and, when UseMagick is
// set, falls back to ImageMagick for everything else.
type Decoder struct {
	UseMagick bool
}

// IsPNG reports whether path can be handed to the engine as-is.
func IsPNG(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".png")
}

// Supported reports whether d can decode path, judged by its extension.
func (d Decoder) Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return nativeExtensions[ext] || (d.UseMagick && magickExtensions[ext])
}

// Decode reads the image at path.
func (d Decoder) Decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err == nil {
		return img, nil
	}
	if !errors.Is(err, image.ErrFormat) {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if !d.UseMagick {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, path)
	}
	img, err = decodeMagick(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsupported, path, err)
	}
	return img, nil
}
