// Package imaging decodes photos into grayscale pixel grids.
package imaging

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Backends selectable from configuration.
const (
	BackendNative  = "native"
	BackendImagick = "imagick"
	BackendOpenCV  = "opencv"
)

// Decoder turns an image reference into grayscale pixels.
type Decoder interface {
	DecodeGray(ctx context.Context, path string) (*image.Gray, error)
}

// New returns the decoder for backend. Decoders that hold native resources
// also implement io.Closer.
func New(backend string) (Decoder, error) {
	switch strings.ToLower(backend) {
	case "", BackendNative:
		return Native{}, nil
	case BackendImagick:
		return NewMagick(), nil
	case BackendOpenCV:
		return OpenCV{}, nil
	default:
		return nil, fmt.Errorf("unknown image decoder: %s", backend)
	}
}

// Native decodes with the Go image packages (JPEG, PNG, TIFF, BMP, WebP).
type Native struct{}

// DecodeGray decodes path and converts it to luma.
func (Native) DecodeGray(ctx context.Context, path string) (*image.Gray, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return ToGray(img), nil
}

// ToGray converts img to an 8-bit grayscale image using ITU-R BT.601 luma
// weights. Gray inputs are returned as is.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	gray := image.NewGray(b)
	draw.Draw(gray, b, img, b.Min, draw.Src)
	return gray
}
