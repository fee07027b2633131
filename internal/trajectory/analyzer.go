// Package trajectory flags photos whose spacing or heading breaks from the
// flight path implied by their GPS fixes.
package trajectory

import (
	"errors"
	"log/slog"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"blurscan/internal/geo"
	"blurscan/internal/photo"
)

// ErrEmptySequence is returned when no record of the sequence has a location.
var ErrEmptySequence = errors.New("trajectory: no record has GPS coordinates")

var errNotComputed = errors.New("trajectory: distances not computed")

// Config holds the anomaly thresholds.
type Config struct {
	// BearingOffset is the largest heading change, in degrees, tolerated
	// between consecutive records.
	BearingOffset float64
	// DistanceDeviation is the largest shortfall, in percent of the average
	// spacing, tolerated before a record is flagged.
	DistanceDeviation float64
	// TimeGap splits the flight into independent segments.
	TimeGap time.Duration
}

// DefaultConfig returns the empirically tuned thresholds.
func DefaultConfig() Config {
	return Config{
		BearingOffset:     40,
		DistanceDeviation: 20,
		TimeGap:           30 * time.Second,
	}
}

// Analyzer runs the two trajectory passes over an ordered record sequence.
// It never reorders records.
type Analyzer struct {
	cfg      Config
	distance geo.DistanceFunc
	log      *slog.Logger

	computed        bool
	averageDistance float64
	located         int
}

// New returns an analyzer. A nil distance function selects the WGS-84 geodesic.
func New(cfg Config, distance geo.DistanceFunc, log *slog.Logger) *Analyzer {
	if distance == nil {
		distance = geo.Geodesic
	}
	if log == nil {
		log = slog.Default()
	}
	return &Analyzer{cfg: cfg, distance: distance, log: log}
}

// AverageDistance is the mean spacing of located records after ComputeData.
func (a *Analyzer) AverageDistance() float64 { return a.averageDistance }

// Located is the number of records that took part in the last ComputeData.
func (a *Analyzer) Located() int { return a.located }

// Analyze runs ComputeData followed by CheckChanges.
func (a *Analyzer) Analyze(records []*photo.Record) error {
	if err := a.ComputeData(records); err != nil {
		return err
	}
	return a.CheckChanges(records)
}

// ComputeData sets each located record's distance from the previous located
// record and the heading of the hop leaving it. The last located record keeps
// the undefined bearing.
func (a *Analyzer) ComputeData(records []*photo.Record) error {
	a.computed = false
	var (
		prev      *photo.Record
		distances []float64
	)
	for _, rec := range records {
		rec.ResetTrajectory()
		if !rec.HasLocation() {
			continue
		}
		if prev == nil {
			rec.Distance = 0
			rec.Bearing = 0
			rec.SequenceStart = true
		} else {
			rec.Distance = a.distance(*prev.Location, *rec.Location)
			prev.Bearing = geo.Bearing(*prev.Location, *rec.Location)
		}
		distances = append(distances, rec.Distance)
		prev = rec
	}

	a.located = len(distances)
	if a.located == 0 {
		a.averageDistance = 0
		return ErrEmptySequence
	}
	a.averageDistance = stat.Mean(distances, nil)
	a.computed = true
	a.log.Debug("trajectory distances computed",
		"located", a.located,
		"records", len(records),
		"average_distance", a.averageDistance,
	)
	return nil
}

// CheckChanges flags distance and bearing anomalies. It must follow
// ComputeData on the same sequence.
func (a *Analyzer) CheckChanges(records []*photo.Record) error {
	if !a.computed {
		return errNotComputed
	}
	avg := a.averageDistance

	var prev *photo.Record
	for _, rec := range records {
		if !rec.HasLocation() {
			continue
		}
		rec.DistanceAnomaly = false
		rec.BearingAnomaly = false
		rec.DeviationDefined = avg != 0
		if rec.DeviationDefined {
			rec.PercentDeviation = 100 * (rec.Distance - avg) / avg
		}

		if prev == nil {
			rec.SequenceStart = true
			prev = rec
			continue
		}

		defined := rec.Bearing != photo.BearingUndefined
		if defined && prev.Bearing != photo.BearingUndefined {
			rec.BearingDelta = geo.AngleDelta(prev.Bearing, rec.Bearing)
		}
		if defined && rec.DeviationDefined &&
			rec.PercentDeviation < 0 && math.Abs(rec.PercentDeviation) > a.cfg.DistanceDeviation {
			rec.DistanceAnomaly = true
		}
		if defined && math.Abs(rec.BearingDelta) > a.cfg.BearingOffset {
			rec.BearingAnomaly = true
		}

		if elapsed, ok := rec.Elapsed(prev); ok && absDuration(elapsed) > a.cfg.TimeGap {
			prev.DistanceAnomaly = false
			prev.BearingAnomaly = false
			rec.DistanceAnomaly = false
			rec.BearingAnomaly = false
			rec.SequenceStart = true
			a.log.Debug("trajectory restarted after time gap", "id", rec.ID, "gap", elapsed)
		}

		// the drone is still accelerating right after a start
		if prev.SequenceStart {
			rec.DistanceAnomaly = false
			rec.BearingAnomaly = false
		}

		prev = rec
	}
	return nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
