// Package sharpness classifies photos as blurry from the edge response of
// their corners.
//
// Each corner crop is filtered with the 3x3 Laplacian kernel
//
//	0  1  0
//	1 -4  1
//	0  1  0
//
// using reflect-101 borders inside the crop. The absolute response is
// saturated to 8 bits and the maximum per corner is kept. The four maxima are
// summed; a sum below the threshold means the photo is blurry.
package sharpness

import (
	"context"
	"errors"
	"fmt"
	"image"

	"gonum.org/v1/gonum/stat"

	"blurscan/internal/photo"
)

// ErrDecode wraps failures to obtain pixels for a record.
var ErrDecode = errors.New("decode failure")

// Corner identifies one of the four sampled crops.
type Corner int

const (
	TopLeft Corner = iota
	TopRight
	BottomRight
	BottomLeft
)

var cornerNames = [...]string{"top_left", "top_right", "bottom_right", "bottom_left"}

func (c Corner) String() string {
	if c < TopLeft || c > BottomLeft {
		return fmt.Sprintf("corner(%d)", int(c))
	}
	return cornerNames[c]
}

// Crop sizes a corner crop as a percentage of the image height and width.
type Crop struct {
	HeightPercent float64
	WidthPercent  float64
}

// Config holds the tuned constants of the scorer.
type Config struct {
	Threshold int
	Crops     [4]Crop
}

// DefaultConfig returns the reference tuning: top corners 2% x 5%, bottom
// corners 2% x 2%, threshold 330.
func DefaultConfig() Config {
	return Config{
		Threshold: 330,
		Crops: [4]Crop{
			TopLeft:     {HeightPercent: 2, WidthPercent: 5},
			TopRight:    {HeightPercent: 2, WidthPercent: 5},
			BottomRight: {HeightPercent: 2, WidthPercent: 2},
			BottomLeft:  {HeightPercent: 2, WidthPercent: 2},
		},
	}
}

// Result is the verdict for one image plus its diagnostics.
type Result struct {
	CornerMax      [4]int
	CornerVariance [4]float64
	Sum            int
	Blurry         bool
	// ShutterSpeed is reported only; it does not take part in the verdict.
	ShutterSpeed float64
}

// Score classifies img. It is a pure function of its inputs.
func Score(img *image.Gray, shutterSpeed float64, cfg Config) Result {
	res := Result{ShutterSpeed: shutterSpeed}
	for c := TopLeft; c <= BottomLeft; c++ {
		rect := CropRect(img.Bounds(), c, cfg.Crops[c])
		resp := laplacian(img, rect)
		res.CornerMax[c] = maxAbsSaturated(resp)
		res.CornerVariance[c] = variance(resp)
		res.Sum += res.CornerMax[c]
	}
	res.Blurry = res.Sum < cfg.Threshold
	return res
}

// CropRect returns the pixel rectangle of corner c within bounds. Sizes are
// truncated like an integer percentage and never drop below one pixel.
func CropRect(bounds image.Rectangle, c Corner, crop Crop) image.Rectangle {
	w, h := bounds.Dx(), bounds.Dy()
	ch := clampSize(int(float64(h)*crop.HeightPercent/100), h)
	cw := clampSize(int(float64(w)*crop.WidthPercent/100), w)

	var r image.Rectangle
	switch c {
	case TopLeft:
		r = image.Rect(0, 0, cw, ch)
	case TopRight:
		r = image.Rect(w-cw, 0, w, ch)
	case BottomRight:
		r = image.Rect(w-cw, h-ch, w, h)
	case BottomLeft:
		r = image.Rect(0, h-ch, cw, h)
	}
	return r.Add(bounds.Min)
}

func clampSize(n, limit int) int {
	if n < 1 {
		n = 1
	}
	if n > limit {
		n = limit
	}
	return n
}

// laplacian returns the signed 3x3 Laplacian response of every pixel of r,
// treating r as an isolated image with reflect-101 borders.
func laplacian(img *image.Gray, r image.Rectangle) []int {
	w, h := r.Dx(), r.Dy()
	if w <= 0 || h <= 0 {
		return nil
	}
	at := func(x, y int) int {
		x = reflect101(x, w)
		y = reflect101(y, h)
		return int(img.Pix[img.PixOffset(r.Min.X+x, r.Min.Y+y)])
	}
	out := make([]int, 0, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out = append(out, at(x, y-1)+at(x, y+1)+at(x-1, y)+at(x+1, y)-4*at(x, y))
		}
	}
	return out
}

// reflect101 maps an out-of-range index the way gfedcb|abcdefgh|gfedcba does.
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return i
}

func maxAbsSaturated(vals []int) int {
	max := 0
	for _, v := range vals {
		if v < 0 {
			v = -v
		}
		if v > 255 {
			v = 255
		}
		if v > max {
			max = v
		}
	}
	return max
}

func variance(vals []int) float64 {
	if len(vals) == 0 {
		return 0
	}
	f := make([]float64, len(vals))
	for i, v := range vals {
		f[i] = float64(v)
	}
	return stat.PopVariance(f, nil)
}

// Decoder turns an image reference into grayscale pixels.
type Decoder interface {
	DecodeGray(ctx context.Context, path string) (*image.Gray, error)
}

// Scorer binds a decoder to a configuration.
type Scorer struct {
	cfg     Config
	decoder Decoder
}

// NewScorer returns a Scorer using decoder.
func NewScorer(cfg Config, decoder Decoder) *Scorer {
	return &Scorer{cfg: cfg, decoder: decoder}
}

// Config returns the scorer's configuration.
func (s *Scorer) Config() Config { return s.cfg }

// ScoreRecord decodes the record's image and scores it. Decode errors wrap
// ErrDecode and leave the record without a verdict.
func (s *Scorer) ScoreRecord(ctx context.Context, rec *photo.Record) (Result, error) {
	img, err := s.decoder.DecodeGray(ctx, rec.Path)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrDecode, rec.Path, err)
	}
	return Score(img, rec.ShutterSpeed, s.cfg), nil
}

// Apply copies a verdict onto the record.
func Apply(rec *photo.Record, res Result, err error) {
	rec.ScoreErr = err
	if err != nil {
		rec.Scored = false
		rec.Blurry = false
		rec.Sharpness = 0
		return
	}
	rec.Scored = true
	rec.Blurry = res.Blurry
	rec.Sharpness = res.Sum
}
