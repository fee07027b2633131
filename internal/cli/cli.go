package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"blurscan/internal/config"
	"blurscan/internal/geo"
	"blurscan/internal/imaging"
	"blurscan/internal/metadata"
	"blurscan/internal/report"
	"blurscan/internal/scan"
	"blurscan/internal/sharpness"
	"blurscan/internal/storage"
	"blurscan/internal/trajectory"
)

type metadataFactory func(backend string, log *slog.Logger) (metadata.Provider, error)

type decoderFactory func(backend string) (imaging.Decoder, error)

// Root wires CLI commands to the scanner.
type Root struct {
	cfg            *config.Config
	log            *slog.Logger
	store          *storage.Store
	out            io.Writer
	metaFactory    metadataFactory
	decoderFactory decoderFactory
}

// NewRoot constructs the CLI root.
func NewRoot(cfg *config.Config, logger *slog.Logger, store *storage.Store) *Root {
	if logger == nil {
		logger = slog.Default()
	}
	return &Root{
		cfg:            cfg,
		log:            logger,
		store:          store,
		out:            os.Stdout,
		metaFactory:    metadata.New,
		decoderFactory: imaging.New,
	}
}

// scanSettings are the per-invocation overrides of the configuration.
type scanSettings struct {
	merge     string
	workers   int
	threshold int
	decoder   string
	metadata  string
	distance  string
}

func (r *Root) defaults() scanSettings {
	return scanSettings{
		merge:     r.cfg.Output.Merge,
		workers:   r.cfg.Processing.Workers,
		threshold: r.cfg.Sharpness.Threshold,
		decoder:   r.cfg.Sharpness.Decoder,
		metadata:  r.cfg.Metadata.Backend,
		distance:  r.cfg.Trajectory.Distance,
	}
}

// newScanner builds a scanner and returns a release func for native decoder
// resources.
func (r *Root) newScanner(s scanSettings) (*scan.Scanner, func(), error) {
	s.merge = strings.ToLower(strings.TrimSpace(s.merge))
	switch s.merge {
	case config.MergeSharpness, config.MergeAny:
	default:
		return nil, nil, fmt.Errorf("unknown merge policy %q (sharpness|any)", s.merge)
	}
	if s.threshold <= 0 {
		return nil, nil, fmt.Errorf("threshold must be positive, got %d", s.threshold)
	}

	provider, err := r.metaFactory(s.metadata, r.log)
	if err != nil {
		return nil, nil, fmt.Errorf("metadata backend: %w", err)
	}
	decoder, err := r.decoderFactory(s.decoder)
	if err != nil {
		return nil, nil, fmt.Errorf("image decoder: %w", err)
	}
	release := func() {
		if c, ok := decoder.(io.Closer); ok {
			c.Close()
		}
	}
	distance, err := geo.ByName(s.distance)
	if err != nil {
		release()
		return nil, nil, err
	}

	return &scan.Scanner{
		Metadata:   provider,
		Scorer:     sharpness.NewScorer(r.sharpnessConfig(s.threshold), decoder),
		Trajectory: r.trajectoryConfig(),
		Distance:   distance,
		Store:      r.store,
		Log:        r.log,
		Workers:    s.workers,
		Merge:      s.merge,
	}, release, nil
}

func (r *Root) sharpnessConfig(threshold int) sharpness.Config {
	crop := func(c config.Crop) sharpness.Crop {
		return sharpness.Crop{HeightPercent: c.HeightPercent, WidthPercent: c.WidthPercent}
	}
	sc := r.cfg.Sharpness
	return sharpness.Config{
		Threshold: threshold,
		Crops: [4]sharpness.Crop{
			sharpness.TopLeft:     crop(sc.TopLeft),
			sharpness.TopRight:    crop(sc.TopRight),
			sharpness.BottomRight: crop(sc.BottomRight),
			sharpness.BottomLeft:  crop(sc.BottomLeft),
		},
	}
}

func (r *Root) trajectoryConfig() trajectory.Config {
	tc := r.cfg.Trajectory
	return trajectory.Config{
		BearingOffset:     tc.BearingOffset,
		DistanceDeviation: tc.DistanceDeviation,
		TimeGap:           time.Duration(tc.TimeGapSeconds * float64(time.Second)),
	}
}

func (r *Root) runScan(ctx context.Context, opts scan.Options, s scanSettings, showTrajectory bool) (*scan.Report, error) {
	scanner, release, err := r.newScanner(s)
	if err != nil {
		return nil, err
	}
	defer release()

	if opts.InputFile != "" {
		fmt.Fprintf(r.out, "Using input file %s\n", opts.InputFile)
	} else if opts.PhotosDir != "" {
		fmt.Fprintf(r.out, "Using photo directory %s\n", opts.PhotosDir)
	}
	rep, err := scanner.Run(ctx, opts)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(r.out, "%d images scanned\n", len(rep.Records))
	if showTrajectory && rep.TrajectoryErr == nil {
		if err := reportTrajectory(r.out, rep); err != nil {
			return nil, err
		}
	}
	if rep.Failed > 0 {
		fmt.Fprintf(r.out, "%d images could not be decoded\n", rep.Failed)
	}
	return rep, nil
}

func (r *Root) runTrajectory(ctx context.Context, opts scan.Options, distance string) error {
	s := r.defaults()
	s.distance = distance
	scanner, release, err := r.newScanner(s)
	if err != nil {
		return err
	}
	defer release()

	rep, err := scanner.Analyze(ctx, opts)
	if err != nil {
		return err
	}
	return reportTrajectory(r.out, rep)
}

func reportTrajectory(w io.Writer, rep *scan.Report) error {
	return report.Trajectory(w, rep.Records, rep.AverageDistance, rep.Located)
}
