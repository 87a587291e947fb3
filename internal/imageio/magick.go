package imageio

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"sync"

	"gopkg.in/gographics/imagick.v3/imagick"
)

var magickOnce sync.Once

// decodeMagick converts path to PNG in memory with ImageMagick and decodes it.
func decodeMagick(path string) (image.Image, error) {
	magickOnce.Do(imagick.Initialize)

	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	if err := mw.ReadImage(path); err != nil {
		return nil, fmt.Errorf("imagick read: %w", err)
	}
	// star fields are single-channel; drop colour and metadata
	if err := mw.StripImage(); err != nil {
		return nil, fmt.Errorf("imagick strip: %w", err)
	}
	if err := mw.TransformImageColorspace(imagick.COLORSPACE_GRAY); err != nil {
		return nil, fmt.Errorf("imagick colorspace: %w", err)
	}
	if err := mw.SetImageFormat("PNG"); err != nil {
		return nil, fmt.Errorf("imagick format: %w", err)
	}
	blob, err := mw.GetImageBlob()
	if err != nil {
		return nil, fmt.Errorf("imagick blob: %w", err)
	}
	return png.Decode(bytes.NewReader(blob))
}
