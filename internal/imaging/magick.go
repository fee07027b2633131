package imaging

import (
	"context"
	"fmt"
	"image"
	"sync"

	"gopkg.in/gographics/imagick.v3/imagick"
)

// Magick decodes through ImageMagick's MagickWand API. It handles every
// format the local ImageMagick build supports, including RAW via delegates.
type Magick struct {
	closeOnce sync.Once
}

// NewMagick initializes ImageMagick. Call Close when done.
func NewMagick() *Magick {
	imagick.Initialize()
	return &Magick{}
}

// Close releases ImageMagick.
func (m *Magick) Close() error {
	m.closeOnce.Do(imagick.Terminate)
	return nil
}

// DecodeGray reads path, converts it to the gray colorspace and exports
// 8-bit intensities.
func (m *Magick) DecodeGray(ctx context.Context, path string) (*image.Gray, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	wand := imagick.NewMagickWand()
	defer wand.Destroy()

	if err := wand.ReadImage(path); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := wand.TransformImageColorspace(imagick.COLORSPACE_GRAY); err != nil {
		return nil, fmt.Errorf("grayscale %s: %w", path, err)
	}

	width := wand.GetImageWidth()
	height := wand.GetImageHeight()
	pixels, err := wand.ExportImagePixels(0, 0, width, height, "I", imagick.PIXEL_CHAR)
	if err != nil {
		return nil, fmt.Errorf("export pixels %s: %w", path, err)
	}
	buf, ok := pixels.([]byte)
	if !ok || len(buf) != int(width*height) {
		return nil, fmt.Errorf("export pixels %s: unexpected buffer %T", path, pixels)
	}

	gray := image.NewGray(image.Rect(0, 0, int(width), int(height)))
	copy(gray.Pix, buf)
	return gray, nil
}
