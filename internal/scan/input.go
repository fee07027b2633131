package scan

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"blurscan/internal/fsutil"
	"blurscan/internal/metadata"
	"blurscan/internal/photo"
)

var (
	// ErrInvalidInputPath reports a relative or missing input path.
	ErrInvalidInputPath = errors.New("invalid input path")
	// ErrEmptyBatch reports an input that resolves to no photos.
	ErrEmptyBatch = errors.New("empty batch")
	// ErrNoInput reports that neither a directory nor a table was given.
	ErrNoInput = errors.New("please pass either a photos directory or an input file")
)

// Entry is one photo reference before metadata is read.
type Entry struct {
	ID   string
	Path string
}

// ValidateInputPath requires an absolute path that exists.
func ValidateInputPath(path string) error {
	if !filepath.IsAbs(path) {
		return fmt.Errorf("%w: %s is not an absolute path", ErrInvalidInputPath, path)
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s does not exist", ErrInvalidInputPath, path)
		}
		return fmt.Errorf("%w: %v", ErrInvalidInputPath, err)
	}
	return nil
}

// ListDirectory returns the visible entries of dir whose name matches
// pattern, sorted by name. The filename is the entry id.
func ListDirectory(dir, pattern string) ([]Entry, error) {
	re, err := fsutil.CompilePattern(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}
	names, err := fsutil.VisibleEntries(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: directory %s is empty", ErrEmptyBatch, dir)
	}
	matched := fsutil.Filter(names, re)
	if len(matched) == 0 {
		return nil, fmt.Errorf("%w: %s does not contain images matching %s", ErrEmptyBatch, dir, pattern)
	}
	entries := make([]Entry, len(matched))
	for i, name := range matched {
		entries[i] = Entry{ID: name, Path: filepath.Join(dir, name)}
	}
	return entries, nil
}

// ReadTable reads [id, path] rows from a headerless comma separated file,
// preserving row order. Extra columns are ignored.
func ReadTable(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseTable(f, path)
}

func parseTable(r io.Reader, name string) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	var entries []Entry
	for line := 1; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		if len(row) < 2 {
			return nil, fmt.Errorf("read %s: row %d has %d columns, want id and path", name, line, len(row))
		}
		entries = append(entries, Entry{ID: row[0], Path: row[1]})
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: input file %s has no rows", ErrEmptyBatch, name)
	}
	return entries, nil
}

// Ingest reads the metadata of every entry. Records keep the entry order and
// are never dropped for missing metadata.
func Ingest(ctx context.Context, provider metadata.Provider, entries []Entry, log *slog.Logger) []*photo.Record {
	records := make([]*photo.Record, 0, len(entries))
	for _, e := range entries {
		if !fsutil.IsImageFile(e.Path) {
			log.Debug("unrecognized image extension", "id", e.ID, "path", e.Path)
		}
		records = append(records, photo.Load(ctx, provider, e.ID, e.Path, log))
	}
	return records
}

// WriteOutput writes one [id, "BLURRY"] row per flagged record, in order.
// The file is created even when no record is flagged.
func WriteOutput(path string, rows []Row) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	w := csv.NewWriter(f)
	for _, row := range rows {
		if err := w.Write([]string{row.ID, row.Verdict}); err != nil {
			f.Close()
			return fmt.Errorf("write output: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("write output: %w", err)
	}
	return f.Close()
}
