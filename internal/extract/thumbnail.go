package extract

import (
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"
)

// Thumbnailer renders the first page of a PDF to a small PNG.
// vips.Startup must have been called by the process.
type Thumbnailer struct {
	Width  int
	Height int
}

// NewThumbnailer returns a Thumbnailer bounded by width x height pixels.
func NewThumbnailer(width, height int) *Thumbnailer {
	if width <= 0 {
		width = 400
	}
	if height <= 0 {
		height = 400
	}
	return &Thumbnailer{Width: width, Height: height}
}

// PDFThumbnail returns PNG bytes for the first page of the document.
func (t *Thumbnailer) PDFThumbnail(data []byte) ([]byte, error) {
	image, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode pdf: %w", err)
	}
	defer image.Close()

	scale := thumbnailScale(image.Width(), image.Height(), t.Width, t.Height)
	if err := image.Resize(scale, vips.KernelLanczos3); err != nil {
		return nil, fmt.Errorf("failed to resize page: %w", err)
	}

	png, _, err := image.ExportPng(&vips.PngExportParams{Compression: 6})
	if err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return png, nil
}

// thumbnailScale returns the factor that fits src within max without upscaling.
func thumbnailScale(srcWidth, srcHeight, maxWidth, maxHeight int) float64 {
	if srcWidth <= 0 || srcHeight <= 0 {
		return 1.0
	}

	scale := float64(maxWidth) / float64(srcWidth)
	if s := float64(maxHeight) / float64(srcHeight); s < scale {
		scale = s
	}
	if scale > 1.0 {
		scale = 1.0
	}
	return scale
}
