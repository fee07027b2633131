package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ExifTool reads metadata by running `exiftool -json -n -G`.
type ExifTool struct{}

// Read runs exiftool against path.
func (e *ExifTool) Read(ctx context.Context, path string) (Fields, error) {
	cmd := exec.CommandContext(ctx, "exiftool", "-json", "-n", "-G", path)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Fields{}, fmt.Errorf("exiftool %s: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}
	return parseExifToolJSON(out.Bytes())
}

// parseExifToolJSON extracts Fields from grouped, numeric exiftool output.
func parseExifToolJSON(data []byte) (Fields, error) {
	var parsed []map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Fields{}, fmt.Errorf("decode exiftool output: %w", err)
	}
	if len(parsed) == 0 {
		return Fields{}, ErrNoMetadata
	}
	m := parsed[0]

	var f Fields
	lat, okLat := number(m, "Composite:GPSLatitude", "EXIF:GPSLatitude")
	lon, okLon := number(m, "Composite:GPSLongitude", "EXIF:GPSLongitude")
	if okLat && okLon {
		f.HasGPS = true
		f.Latitude = lat
		f.Longitude = lon
	}
	for _, key := range []string{"EXIF:DateTimeOriginal", "Composite:DateTimeOriginal", "EXIF:CreateDate"} {
		if v, ok := m[key].(string); ok && v != "" {
			f.CaptureTime = v
			break
		}
	}
	if v, ok := number(m, "Composite:ShutterSpeed", "EXIF:ExposureTime"); ok {
		f.ShutterSpeed = v
	}
	return f, nil
}

func number(m map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		switch v := m[key].(type) {
		case float64:
			return v, true
		case string:
			if f, ok := parseFraction(v); ok {
				return f, true
			}
		}
	}
	return 0, false
}

// parseFraction accepts "0.002", "1/500" or "500" style values.
func parseFraction(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if num, den, found := strings.Cut(s, "/"); found {
		n, err1 := strconv.ParseFloat(strings.TrimSpace(num), 64)
		d, err2 := strconv.ParseFloat(strings.TrimSpace(den), 64)
		if err1 != nil || err2 != nil || d == 0 {
			return 0, false
		}
		return n / d, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
