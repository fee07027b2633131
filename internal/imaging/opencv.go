package imaging

import (
	"context"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// OpenCV decodes in color with imread and converts with cvtColor BGR2GRAY,
// the conversion the sharpness threshold was tuned on.
type OpenCV struct{}

// DecodeGray reads path as a single-channel 8-bit image.
func (OpenCV) DecodeGray(ctx context.Context, path string) (*image.Gray, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mat := gocv.IMRead(path, gocv.IMReadColor)
	defer mat.Close()
	if mat.Empty() {
		return nil, fmt.Errorf("imread %s: empty image", path)
	}
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)
	img, err := gray.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert %s: %w", path, err)
	}
	return ToGray(img), nil
}
