package metadata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rwcarlsen/goexif/exif"
)

// GoExif reads metadata in-process with github.com/rwcarlsen/goexif.
type GoExif struct{}

// Read decodes the EXIF block of path.
func (g *GoExif) Read(ctx context.Context, path string) (Fields, error) {
	if err := ctx.Err(); err != nil {
		return Fields{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return Fields{}, err
	}
	defer f.Close()
	return decodeExif(f)
}

func decodeExif(r io.Reader) (Fields, error) {
	x, err := exif.Decode(r)
	if err != nil {
		if errors.Is(err, io.EOF) || exif.IsCriticalError(err) {
			return Fields{}, fmt.Errorf("%w: %v", ErrNoMetadata, err)
		}
		if x == nil {
			return Fields{}, err
		}
	}

	var fields Fields
	if lat, lon, err := x.LatLong(); err == nil {
		fields.HasGPS = true
		fields.Latitude = lat
		fields.Longitude = lon
	}
	if tag, err := x.Get(exif.DateTimeOriginal); err == nil {
		if s, err := tag.StringVal(); err == nil {
			fields.CaptureTime = s
		}
	}
	if tag, err := x.Get(exif.ExposureTime); err == nil {
		if num, den, err := tag.Rat2(0); err == nil && den != 0 {
			fields.ShutterSpeed = float64(num) / float64(den)
		}
	}
	return fields, nil
}
