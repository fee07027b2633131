package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const (
	defaultConfigPath = "~/.config/blurscan/config.json"
	defaultWorkers    = 4
	// DefaultPattern matches common JPEG extensions.
	DefaultPattern = `.*(jpg|jpeg|JPEG|JPG)`
)

// Merge policies for the final verdict.
const (
	MergeSharpness = "sharpness"
	MergeAny       = "any"
)

// Config holds user-editable settings for a scan.
type Config struct {
	Processing Processing `json:"processing" toml:"processing"`
	Logging    Logging    `json:"logging" toml:"logging"`
	Paths      Paths      `json:"paths" toml:"paths"`
	Trajectory Trajectory `json:"trajectory" toml:"trajectory"`
	Sharpness  Sharpness  `json:"sharpness" toml:"sharpness"`
	Metadata   Metadata   `json:"metadata" toml:"metadata"`
	Output     Output     `json:"output" toml:"output"`
}

// Processing captures execution preferences.
type Processing struct {
	Workers int `json:"workers" toml:"workers"` // parallel sharpness scorers
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level" toml:"level"`             // debug, info, warn, error
	Format     string `json:"format" toml:"format"`           // text, json
	FileOutput bool   `json:"file_output" toml:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir" toml:"log_dir"`         // Directory for log files
}

// Paths configures default locations.
type Paths struct {
	DatabasePath string `json:"database_path" toml:"database_path"` // empty disables run history
}

// Trajectory holds the GPS anomaly thresholds.
type Trajectory struct {
	BearingOffset     float64 `json:"bearing_offset" toml:"bearing_offset"`         // degrees
	DistanceDeviation float64 `json:"distance_deviation" toml:"distance_deviation"` // percent
	TimeGapSeconds    float64 `json:"time_gap_seconds" toml:"time_gap_seconds"`
	Distance          string  `json:"distance" toml:"distance"` // geodesic, spherical
}

// Crop is a corner crop size in percent of the image height and width.
type Crop struct {
	HeightPercent float64 `json:"height_percent" toml:"height_percent"`
	WidthPercent  float64 `json:"width_percent" toml:"width_percent"`
}

// Sharpness configures the corner Laplacian scorer.
type Sharpness struct {
	Threshold   int    `json:"threshold" toml:"threshold"`
	Decoder     string `json:"decoder" toml:"decoder"` // native, imagick, opencv
	TopLeft     Crop   `json:"top_left" toml:"top_left"`
	TopRight    Crop   `json:"top_right" toml:"top_right"`
	BottomRight Crop   `json:"bottom_right" toml:"bottom_right"`
	BottomLeft  Crop   `json:"bottom_left" toml:"bottom_left"`
}

// Metadata selects the EXIF reader.
type Metadata struct {
	Backend string `json:"backend" toml:"backend"` // auto, exiftool, goexif
}

// Output controls the final verdict and the directory filter.
type Output struct {
	Merge   string `json:"merge" toml:"merge"`     // sharpness, any
	Pattern string `json:"pattern" toml:"pattern"` // default directory filter
}

// Path returns the configuration file that Load reads.
func Path() string {
	if p := os.Getenv("BLURSCAN_CONFIG"); p != "" {
		return p
	}
	return defaultConfigPath
}

// Load reads configuration from disk, falling back to sensible defaults.
// A .env file in the working directory is loaded first.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	expanded, err := expandUser(Path())
	if err != nil {
		return nil, err
	}
	if err := cfg.loadFile(expanded); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.NewDecoder(f).Decode(c); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		return nil
	}
	if err := json.NewDecoder(f).Decode(c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("BLURSCAN_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("BLURSCAN_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BLURSCAN_WORKERS: %w", err)
		}
		c.Processing.Workers = n
	}
	if v, ok := os.LookupEnv("BLURSCAN_DB"); ok {
		c.Paths.DatabasePath = v
	}
	return nil
}

// Validate rejects settings the scanner cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Processing.Workers < 1 {
		errs = append(errs, fmt.Errorf("processing.workers must be positive, got %d", c.Processing.Workers))
	}
	if c.Sharpness.Threshold <= 0 {
		errs = append(errs, fmt.Errorf("sharpness.threshold must be positive, got %d", c.Sharpness.Threshold))
	}
	crops := c.Sharpness.Crops()
	for _, name := range CropNames {
		crop := crops[name]
		if crop.HeightPercent <= 0 || crop.HeightPercent > 50 || crop.WidthPercent <= 0 || crop.WidthPercent > 50 {
			errs = append(errs, fmt.Errorf("sharpness.%s must be within (0, 50] percent, got %gx%g", name, crop.HeightPercent, crop.WidthPercent))
		}
	}
	if c.Trajectory.BearingOffset < 0 || c.Trajectory.DistanceDeviation < 0 || c.Trajectory.TimeGapSeconds <= 0 {
		errs = append(errs, errors.New("trajectory thresholds must be non-negative and the time gap positive"))
	}
	switch strings.ToLower(c.Trajectory.Distance) {
	case "geodesic", "vincenty", "spherical":
	default:
		errs = append(errs, fmt.Errorf("unknown trajectory.distance %q", c.Trajectory.Distance))
	}
	switch strings.ToLower(c.Sharpness.Decoder) {
	case "native", "imagick", "opencv":
	default:
		errs = append(errs, fmt.Errorf("unknown sharpness.decoder %q", c.Sharpness.Decoder))
	}
	switch strings.ToLower(c.Metadata.Backend) {
	case "auto", "exiftool", "goexif":
	default:
		errs = append(errs, fmt.Errorf("unknown metadata.backend %q", c.Metadata.Backend))
	}
	switch strings.ToLower(c.Output.Merge) {
	case MergeSharpness, MergeAny:
	default:
		errs = append(errs, fmt.Errorf("unknown output.merge %q", c.Output.Merge))
	}
	return errors.Join(errs...)
}

// CropNames lists the corner crops in scoring order.
var CropNames = []string{"top_left", "top_right", "bottom_right", "bottom_left"}

// Crops returns the four corner crops keyed by name.
func (s Sharpness) Crops() map[string]Crop {
	return map[string]Crop{
		"top_left":     s.TopLeft,
		"top_right":    s.TopRight,
		"bottom_right": s.BottomRight,
		"bottom_left":  s.BottomLeft,
	}
}

// Default returns the reference tuning.
func Default() *Config {
	return &Config{
		Processing: Processing{
			Workers: defaultWorkers,
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: false,
			LogDir:     "./logs",
		},
		Paths: Paths{
			DatabasePath: filepath.Join(os.TempDir(), "blurscan.db"),
		},
		Trajectory: Trajectory{
			BearingOffset:     40,
			DistanceDeviation: 20,
			TimeGapSeconds:    30,
			Distance:          "geodesic",
		},
		Sharpness: Sharpness{
			Threshold:   330,
			Decoder:     "native",
			TopLeft:     Crop{HeightPercent: 2, WidthPercent: 5},
			TopRight:    Crop{HeightPercent: 2, WidthPercent: 5},
			BottomRight: Crop{HeightPercent: 2, WidthPercent: 2},
			BottomLeft:  Crop{HeightPercent: 2, WidthPercent: 2},
		},
		Metadata: Metadata{
			Backend: "auto",
		},
		Output: Output{
			Merge:   MergeSharpness,
			Pattern: DefaultPattern,
		},
	}
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
