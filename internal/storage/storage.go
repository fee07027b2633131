package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps SQLite-backed persistence for scan runs and their photos.
type Store struct {
	DB *sql.DB // Export for direct database access
}

// New opens (or creates) the database at path and ensures schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS scan_runs (
            id TEXT PRIMARY KEY,
            mode TEXT NOT NULL,
            status TEXT NOT NULL,
            input_path TEXT,
            output_path TEXT,
            options_json TEXT,
            photo_count INTEGER DEFAULT 0,
            blurry_count INTEGER DEFAULT 0,
            failed_count INTEGER DEFAULT 0,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            started_at TIMESTAMP,
            completed_at TIMESTAMP,
            error_message TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS run_results (
            run_id TEXT,
            meta_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS photo_results (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            run_id TEXT NOT NULL,
            seq INTEGER NOT NULL,
            photo_id TEXT NOT NULL,
            file_path TEXT NOT NULL,
            distance REAL,
            bearing REAL,
            percent_deviation REAL,
            bearing_delta REAL,
            sequence_start BOOLEAN DEFAULT FALSE,
            distance_anomaly BOOLEAN DEFAULT FALSE,
            bearing_anomaly BOOLEAN DEFAULT FALSE,
            sharpness INTEGER,
            scored BOOLEAN DEFAULT FALSE,
            blurry BOOLEAN DEFAULT FALSE,
            error_message TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS image_metadata (
            file_path TEXT PRIMARY KEY,
            has_gps BOOLEAN DEFAULT FALSE,
            gps_lat REAL,
            gps_lon REAL,
            timestamp TEXT,
            shutter_speed REAL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_photo_results_run_id ON photo_results(run_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// RunRecord captures persisted run info.
type RunRecord struct {
	ID          string
	Mode        string
	Status      string
	InputPath   string
	OutputPath  string
	OptionsJSON string
	PhotoCount  int
	BlurryCount int
	FailedCount int
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// PhotoResult is one analyzed photo of a run.
type PhotoResult struct {
	RunID            string
	Seq              int
	PhotoID          string
	FilePath         string
	Distance         float64
	Bearing          float64
	PercentDeviation float64
	BearingDelta     float64
	SequenceStart    bool
	DistanceAnomaly  bool
	BearingAnomaly   bool
	Sharpness        int
	Scored           bool
	Blurry           bool
	Error            string
}

// ImageMetadata captures the EXIF fields a scan relies on.
type ImageMetadata struct {
	FilePath     string
	HasGPS       bool
	GPSLat       float64
	GPSLon       float64
	Timestamp    string
	ShutterSpeed float64
}

// RunCounts summarizes a finished run.
type RunCounts struct {
	Photos int
	Blurry int
	Failed int
}

// RecordRunQueued inserts a pending run.
func (s *Store) RecordRunQueued(rec RunRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO scan_runs (id, mode, status, input_path, output_path, options_json) VALUES (?, ?, ?, ?, ?, ?);`,
		rec.ID, rec.Mode, rec.Status, rec.InputPath, rec.OutputPath, rec.OptionsJSON)
	return err
}

// RecordRunStart marks a run as running.
func (s *Store) RecordRunStart(id string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE scan_runs SET status='running', started_at=CURRENT_TIMESTAMP WHERE id=?;`, id)
	return err
}

// RecordRunResult finalizes a run with status, counts and meta.
func (s *Store) RecordRunResult(id string, status string, counts RunCounts, meta map[string]any, errMsg string) error {
	if s == nil {
		return nil
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	_, err = s.DB.Exec(`UPDATE scan_runs SET status=?, photo_count=?, blurry_count=?, failed_count=?, completed_at=CURRENT_TIMESTAMP, error_message=? WHERE id=?;`,
		status, counts.Photos, counts.Blurry, counts.Failed, errMsg, id)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(`INSERT INTO run_results (run_id, meta_json) VALUES (?, ?);`, id, string(metaJSON))
	return err
}

// RecordPhotoResults stores every photo of a run in one transaction.
func (s *Store) RecordPhotoResults(results []PhotoResult) error {
	if s == nil || len(results) == 0 {
		return nil
	}
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO photo_results (run_id, seq, photo_id, file_path, distance, bearing, percent_deviation, bearing_delta,
        sequence_start, distance_anomaly, bearing_anomaly, sharpness, scored, blurry, error_message)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, r := range results {
		if _, err := stmt.Exec(r.RunID, r.Seq, r.PhotoID, r.FilePath, r.Distance, r.Bearing, r.PercentDeviation, r.BearingDelta,
			r.SequenceStart, r.DistanceAnomaly, r.BearingAnomaly, r.Sharpness, r.Scored, r.Blurry, r.Error); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert %s: %w", r.PhotoID, err)
		}
	}
	return tx.Commit()
}

// RecentRuns returns the latest runs up to limit.
func (s *Store) RecentRuns(limit int) ([]RunRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, mode, status, input_path, output_path, options_json, photo_count, blurry_count, failed_count,
        created_at, started_at, completed_at, error_message FROM scan_runs ORDER BY created_at DESC, rowid DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []RunRecord
	for rows.Next() {
		var rec RunRecord
		var created time.Time
		var started, completed sql.NullTime
		var errorMsg sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Mode, &rec.Status, &rec.InputPath, &rec.OutputPath, &rec.OptionsJSON,
			&rec.PhotoCount, &rec.BlurryCount, &rec.FailedCount, &created, &started, &completed, &errorMsg); err != nil {
			return nil, err
		}
		rec.CreatedAt = created
		if started.Valid {
			rec.StartedAt = &started.Time
		}
		if completed.Valid {
			rec.CompletedAt = &completed.Time
		}
		if errorMsg.Valid {
			rec.Error = errorMsg.String
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// RunPhotos returns the photos of a run in input order. blurryOnly limits
// the result to photos with a blurry verdict.
func (s *Store) RunPhotos(runID string, blurryOnly bool) ([]PhotoResult, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	query := `SELECT run_id, seq, photo_id, file_path, distance, bearing, percent_deviation, bearing_delta,
        sequence_start, distance_anomaly, bearing_anomaly, sharpness, scored, blurry, error_message
        FROM photo_results WHERE run_id=?`
	if blurryOnly {
		query += ` AND blurry=1`
	}
	query += ` ORDER BY seq;`

	rows, err := s.DB.Query(query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PhotoResult
	for rows.Next() {
		var r PhotoResult
		var errMsg sql.NullString
		if err := rows.Scan(&r.RunID, &r.Seq, &r.PhotoID, &r.FilePath, &r.Distance, &r.Bearing, &r.PercentDeviation, &r.BearingDelta,
			&r.SequenceStart, &r.DistanceAnomaly, &r.BearingAnomaly, &r.Sharpness, &r.Scored, &r.Blurry, &errMsg); err != nil {
			return nil, err
		}
		r.Error = errMsg.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// RunMeta fetches the last meta blob for a run.
func (s *Store) RunMeta(id string) (map[string]any, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	var metaJSON string
	err := s.DB.QueryRow(`SELECT meta_json FROM run_results WHERE run_id=? ORDER BY created_at DESC LIMIT 1;`, id).Scan(&metaJSON)
	if err != nil {
		return nil, err
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal meta: %w", err)
	}
	return meta, nil
}

// RecordImageMetadata stores EXIF/GPS details.
func (s *Store) RecordImageMetadata(meta ImageMetadata) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO image_metadata (file_path, has_gps, gps_lat, gps_lon, timestamp, shutter_speed)
        VALUES (?, ?, ?, ?, ?, ?);`,
		meta.FilePath, meta.HasGPS, meta.GPSLat, meta.GPSLon, meta.Timestamp, meta.ShutterSpeed)
	return err
}
