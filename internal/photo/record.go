package photo

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"blurscan/internal/geo"
	"blurscan/internal/metadata"
)

// BearingUndefined marks a record with no defined direction of travel: it is
// either unlocated or the last located record of the sequence.
const BearingUndefined = 999.0

// Record is one photo of a batch. Identity and metadata are fixed at Load;
// the trajectory and sharpness fields are written by their analysis passes.
type Record struct {
	ID   string
	Path string

	Location     *geo.Point
	CapturedAt   *time.Time
	ShutterSpeed float64 // seconds, 0 when unknown

	// Trajectory pass.
	Distance         float64 // meters from the previous located record
	Bearing          float64 // degrees [0,360) toward the next located record
	PercentDeviation float64
	DeviationDefined bool
	BearingDelta     float64
	SequenceStart    bool
	DistanceAnomaly  bool
	BearingAnomaly   bool

	// Sharpness pass.
	Scored    bool
	Blurry    bool
	Sharpness int
	ScoreErr  error
}

// New returns a record with every derived field at its default.
func New(id, path string) *Record {
	return &Record{ID: id, Path: path, Bearing: BearingUndefined}
}

// Load builds a record from the metadata of path. Missing or unreadable
// metadata degrades the record instead of failing it.
func Load(ctx context.Context, provider metadata.Provider, id, path string, log *slog.Logger) *Record {
	rec := New(id, path)
	fields, err := provider.Read(ctx, path)
	if err != nil {
		log.Warn("metadata unavailable", "id", id, "path", path, "error", err)
		return rec
	}
	rec.ShutterSpeed = fields.ShutterSpeed
	if fields.HasGPS {
		rec.Location = &geo.Point{Lat: fields.Latitude, Lon: fields.Longitude}
	}
	if t, ok := metadata.ParseCaptureTime(fields.CaptureTime); ok {
		rec.CapturedAt = &t
	}
	if rec.Location == nil || rec.CapturedAt == nil {
		log.Warn("image does not have GPS coordinates or capture time",
			"id", id,
			"has_gps", rec.Location != nil,
			"has_time", rec.CapturedAt != nil,
		)
	}
	return rec
}

// HasLocation reports whether the record takes part in trajectory analysis.
func (r *Record) HasLocation() bool { return r.Location != nil }

// TrajectoryAnomaly reports whether either trajectory flag is set.
func (r *Record) TrajectoryAnomaly() bool { return r.DistanceAnomaly || r.BearingAnomaly }

// ResetTrajectory clears everything the trajectory pass writes.
func (r *Record) ResetTrajectory() {
	r.Distance = 0
	r.Bearing = BearingUndefined
	r.PercentDeviation = 0
	r.DeviationDefined = false
	r.BearingDelta = 0
	r.SequenceStart = false
	r.DistanceAnomaly = false
	r.BearingAnomaly = false
}

// Elapsed returns the time between prev and r. ok is false when either
// capture time is missing.
func (r *Record) Elapsed(prev *Record) (d time.Duration, ok bool) {
	if r.CapturedAt == nil || prev.CapturedAt == nil {
		return 0, false
	}
	return r.CapturedAt.Sub(*prev.CapturedAt), true
}

// SpeedLabel renders the shutter speed the way cameras print it ("1/500").
func (r *Record) SpeedLabel() string {
	return SpeedLabel(r.ShutterSpeed)
}

// SpeedLabel renders an exposure duration in seconds as "1/N" or "Ns".
func SpeedLabel(seconds float64) string {
	switch {
	case seconds <= 0:
		return "unknown"
	case seconds >= 1:
		return fmt.Sprintf("%gs", seconds)
	default:
		return fmt.Sprintf("1/%d", int(math.Round(1/seconds)))
	}
}
