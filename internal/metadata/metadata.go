package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"blurscan/internal/logging"
)

// CaptureTimeLayout is the EXIF DateTimeOriginal format (YYYY:MM:DD HH:MM:SS).
const CaptureTimeLayout = "2006:01:02 15:04:05"

// Backends selectable from configuration.
const (
	BackendAuto     = "auto"
	BackendExifTool = "exiftool"
	BackendGoExif   = "goexif"
)

// ErrNoMetadata is returned when a file carries no readable EXIF block.
var ErrNoMetadata = errors.New("no metadata")

// Fields holds the subset of image metadata the scanner needs. Any field may
// be absent; callers check HasGPS and an empty CaptureTime.
type Fields struct {
	HasGPS      bool
	Latitude    float64
	Longitude   float64
	CaptureTime string
	// ShutterSpeed is the exposure duration in seconds, 0 when unknown.
	ShutterSpeed float64
}

// Provider reads metadata for one image.
type Provider interface {
	Read(ctx context.Context, path string) (Fields, error)
}

// New returns the provider for backend. "auto" prefers exiftool when it is on
// PATH and falls back to the pure-Go EXIF reader.
func New(backend string, log *slog.Logger) (Provider, error) {
	switch strings.ToLower(backend) {
	case "", BackendAuto:
		path, err := exec.LookPath("exiftool")
		if log != nil {
			logging.LogToolStatus(log, "exiftool", err == nil, "", path, err)
		}
		if err == nil {
			return &ExifTool{}, nil
		}
		return &GoExif{}, nil
	case BackendExifTool:
		if !commandExists("exiftool") {
			return nil, fmt.Errorf("exiftool not found in PATH")
		}
		return &ExifTool{}, nil
	case BackendGoExif:
		return &GoExif{}, nil
	default:
		return nil, fmt.Errorf("unknown metadata backend: %s", backend)
	}
}

// ParseCaptureTime parses an EXIF capture-time string in local time.
func ParseCaptureTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(strings.TrimRight(s, "\x00"))
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(CaptureTimeLayout, s, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// commandExists checks presence of an executable in PATH.
func commandExists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
