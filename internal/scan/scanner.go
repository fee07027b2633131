// Package scan resolves a batch of drone photos, runs the trajectory and
// sharpness passes over it, and writes the blurry verdicts.
package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"blurscan/internal/config"
	"blurscan/internal/geo"
	"blurscan/internal/logging"
	"blurscan/internal/metadata"
	"blurscan/internal/photo"
	"blurscan/internal/pipeline"
	"blurscan/internal/sharpness"
	"blurscan/internal/storage"
	"blurscan/internal/trajectory"
)

// VerdictBlurry is the only verdict written to the output file.
const VerdictBlurry = "BLURRY"

// Input modes.
const (
	ModeDirectory = "directory"
	ModeTable     = "table"
)

// Options describe one scan invocation.
type Options struct {
	PhotosDir  string
	InputFile  string
	Pattern    string
	OutputFile string
	// Trajectory forces the trajectory pass even when the merge policy
	// does not use it.
	Trajectory bool
}

// Row is one output line.
type Row struct {
	ID      string
	Verdict string
}

// Report summarizes a finished scan.
type Report struct {
	RunID           string
	Mode            string
	Records         []*photo.Record
	Rows            []Row
	SharpnessBlurry int
	Failed          int
	AverageDistance float64
	Located         int
	TrajectoryRan   bool
	TrajectoryErr   error
	Duration        time.Duration
}

// Summary is the closing line printed after a scan.
func (r *Report) Summary() string {
	return fmt.Sprintf("%d images may be blurry with laplacian test", r.SharpnessBlurry)
}

// Scanner wires the metadata reader, analyzers and run store together.
type Scanner struct {
	Metadata   metadata.Provider
	Scorer     *sharpness.Scorer
	Trajectory trajectory.Config
	Distance   geo.DistanceFunc
	Store      *storage.Store
	Log        *slog.Logger
	Workers    int
	Merge      string
}

func (s *Scanner) logger() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}

func (s *Scanner) analyzer() *trajectory.Analyzer {
	return trajectory.New(s.Trajectory, s.Distance, s.logger())
}

// Resolve validates the input of opts and lists its entries. The input
// table wins when both inputs are set.
func Resolve(opts Options) (mode string, input string, entries []Entry, err error) {
	switch {
	case opts.InputFile != "":
		if err := ValidateInputPath(opts.InputFile); err != nil {
			return "", "", nil, err
		}
		entries, err = ReadTable(opts.InputFile)
		return ModeTable, opts.InputFile, entries, err
	case opts.PhotosDir != "":
		if err := ValidateInputPath(opts.PhotosDir); err != nil {
			return "", "", nil, err
		}
		pattern := opts.Pattern
		if pattern == "" {
			pattern = config.DefaultPattern
		}
		entries, err = ListDirectory(opts.PhotosDir, pattern)
		return ModeDirectory, opts.PhotosDir, entries, err
	default:
		return "", "", nil, ErrNoInput
	}
}

// Run scans the batch described by opts and writes its output file. Input
// errors abort before anything is written.
func (s *Scanner) Run(ctx context.Context, opts Options) (*Report, error) {
	log := s.logger()
	mode, input, entries, err := Resolve(opts)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	report := &Report{RunID: uuid.NewString(), Mode: mode}
	options := map[string]any{
		"pattern":    opts.Pattern,
		"trajectory": opts.Trajectory,
		"merge":      s.Merge,
		"workers":    s.Workers,
		"threshold":  s.Scorer.Config().Threshold,
	}
	optsJSON, err := json.Marshal(options)
	if err != nil {
		return nil, fmt.Errorf("encode options: %w", err)
	}
	s.storeErr(s.Store.RecordRunQueued(storage.RunRecord{
		ID:          report.RunID,
		Mode:        mode,
		Status:      "queued",
		InputPath:   input,
		OutputPath:  opts.OutputFile,
		OptionsJSON: string(optsJSON),
	}))
	logging.LogRunStart(log, report.RunID, mode, input, opts.OutputFile, options)
	s.storeErr(s.Store.RecordRunStart(report.RunID))

	report.Records = Ingest(ctx, s.Metadata, entries, log)

	if opts.Trajectory || s.Merge == config.MergeAny {
		a := s.analyzer()
		report.TrajectoryRan = true
		report.TrajectoryErr = a.Analyze(report.Records)
		report.AverageDistance = a.AverageDistance()
		report.Located = a.Located()
		if report.TrajectoryErr != nil {
			log.Warn("trajectory analysis skipped", "id", report.RunID, "error", report.TrajectoryErr)
		}
	}

	s.score(ctx, report)
	if err := ctx.Err(); err != nil {
		return nil, s.fail(report, start, err)
	}

	report.Rows = Verdicts(report.Records, s.Merge)
	if err := WriteOutput(opts.OutputFile, report.Rows); err != nil {
		return nil, s.fail(report, start, err)
	}
	report.Duration = time.Since(start)

	s.persist(report)
	result := report.meta()
	s.storeErr(s.Store.RecordRunResult(report.RunID, "completed", report.counts(), result, ""))
	logging.LogRunComplete(log, report.RunID, report.Duration, result)
	return report, nil
}

// Analyze runs only the trajectory pass. Unlike Run, a sequence without GPS
// fixes is an error.
func (s *Scanner) Analyze(ctx context.Context, opts Options) (*Report, error) {
	mode, _, entries, err := Resolve(opts)
	if err != nil {
		return nil, err
	}
	report := &Report{Mode: mode, TrajectoryRan: true}
	report.Records = Ingest(ctx, s.Metadata, entries, s.logger())
	a := s.analyzer()
	if err := a.Analyze(report.Records); err != nil {
		return nil, err
	}
	report.AverageDistance = a.AverageDistance()
	report.Located = a.Located()
	return report, nil
}

func (s *Scanner) score(ctx context.Context, report *Report) {
	log := s.logger()
	p := pipeline.New(s.Workers, pipeline.ScoreProcessor{Scorer: s.Scorer}, log)
	progress, unsub := p.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		n := 0
		for res := range progress {
			n++
			log.Debug("scan progress", "id", res.Job.Record.ID, "done", n, "total", len(report.Records))
		}
	}()

	results := p.Run(ctx, report.Records)
	unsub()
	<-done

	for _, res := range results {
		switch {
		case res.Error != nil:
			report.Failed++
		case res.Score.Blurry:
			report.SharpnessBlurry++
		}
	}
}

// Verdicts returns the output rows for records in input order. With
// MergeAny a trajectory anomaly also marks a record blurry.
func Verdicts(records []*photo.Record, merge string) []Row {
	var rows []Row
	for _, rec := range records {
		if Blurry(rec, merge) {
			rows = append(rows, Row{ID: rec.ID, Verdict: VerdictBlurry})
		}
	}
	return rows
}

// Blurry is the final verdict of rec under merge.
func Blurry(rec *photo.Record, merge string) bool {
	if rec.Scored && rec.Blurry {
		return true
	}
	return merge == config.MergeAny && rec.TrajectoryAnomaly()
}

func (s *Scanner) fail(report *Report, start time.Time, err error) error {
	duration := time.Since(start)
	logging.LogRunError(s.logger(), report.RunID, duration, err, map[string]any{
		"mode":    report.Mode,
		"records": len(report.Records),
	})
	s.storeErr(s.Store.RecordRunResult(report.RunID, "failed", report.counts(), report.meta(), err.Error()))
	return err
}

func (s *Scanner) persist(report *Report) {
	if s.Store == nil {
		return
	}
	photos := make([]storage.PhotoResult, len(report.Records))
	for i, rec := range report.Records {
		photos[i] = storage.PhotoResult{
			RunID:            report.RunID,
			Seq:              i,
			PhotoID:          rec.ID,
			FilePath:         rec.Path,
			Distance:         rec.Distance,
			Bearing:          rec.Bearing,
			PercentDeviation: rec.PercentDeviation,
			BearingDelta:     rec.BearingDelta,
			SequenceStart:    rec.SequenceStart,
			DistanceAnomaly:  rec.DistanceAnomaly,
			BearingAnomaly:   rec.BearingAnomaly,
			Sharpness:        rec.Sharpness,
			Scored:           rec.Scored,
			Blurry:           Blurry(rec, s.Merge),
		}
		if rec.ScoreErr != nil {
			photos[i].Error = rec.ScoreErr.Error()
		}
		s.storeErr(s.Store.RecordImageMetadata(imageMetadata(rec)))
	}
	s.storeErr(s.Store.RecordPhotoResults(photos))
}

func imageMetadata(rec *photo.Record) storage.ImageMetadata {
	meta := storage.ImageMetadata{FilePath: rec.Path, ShutterSpeed: rec.ShutterSpeed}
	if rec.Location != nil {
		meta.HasGPS = true
		meta.GPSLat = rec.Location.Lat
		meta.GPSLon = rec.Location.Lon
	}
	if rec.CapturedAt != nil {
		meta.Timestamp = rec.CapturedAt.Format(metadata.CaptureTimeLayout)
	}
	return meta
}

// storeErr logs history write failures; run history never fails a scan.
func (s *Scanner) storeErr(err error) {
	if err != nil {
		s.logger().Warn("run history not recorded", "error", err)
	}
}

func (r *Report) counts() storage.RunCounts {
	return storage.RunCounts{Photos: len(r.Records), Blurry: len(r.Rows), Failed: r.Failed}
}

func (r *Report) meta() map[string]any {
	meta := map[string]any{
		"sharpness_blurry": r.SharpnessBlurry,
		"decode_failures":  r.Failed,
		"output_rows":      len(r.Rows),
	}
	if r.TrajectoryRan {
		meta["average_distance"] = r.AverageDistance
		meta["located"] = r.Located
		if r.TrajectoryErr != nil {
			meta["trajectory_error"] = r.TrajectoryErr.Error()
		}
	}
	return meta
}

// IsInputError reports whether err comes from resolving the batch rather
// than from processing it.
func IsInputError(err error) bool {
	return errors.Is(err, ErrInvalidInputPath) || errors.Is(err, ErrEmptyBatch) || errors.Is(err, ErrNoInput)
}
