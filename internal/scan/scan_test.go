package scan

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"blurscan/internal/config"
	"blurscan/internal/imaging"
	"blurscan/internal/metadata"
	"blurscan/internal/photo"
	"blurscan/internal/sharpness"
	"blurscan/internal/storage"
	"blurscan/internal/trajectory"
)

type stubMetadata struct {
	fields map[string]metadata.Fields
}

func (s stubMetadata) Read(ctx context.Context, path string) (metadata.Fields, error) {
	if f, ok := s.fields[filepath.Base(path)]; ok {
		return f, nil
	}
	return metadata.Fields{}, metadata.ErrNoMetadata
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeImage(t *testing.T, path string, edges bool) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 200, 200))
	for y := 0; y < 200; y++ {
		for x := 0; x < 200; x++ {
			v := uint8(120)
			if edges && (x+y)%2 == 0 {
				v = 255
			} else if edges {
				v = 0
			}
			img.Pix[y*img.Stride+x] = v
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func newScanner(t *testing.T, md metadata.Provider, merge string) *Scanner {
	t.Helper()
	return &Scanner{
		Metadata:   md,
		Scorer:     sharpness.NewScorer(sharpness.DefaultConfig(), imaging.Native{}),
		Trajectory: trajectory.DefaultConfig(),
		Log:        quietLogger(),
		Workers:    3,
		Merge:      merge,
	}
}

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	return rows
}

func TestDirectoryModeFlagsFlatImages(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, filepath.Join(dir, "img01.png"), false)
	writeImage(t, filepath.Join(dir, "img02.png"), true)
	writeImage(t, filepath.Join(dir, "img03.png"), false)
	writeImage(t, filepath.Join(dir, ".hidden.png"), false)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(t.TempDir(), "out.csv")

	s := newScanner(t, stubMetadata{}, config.MergeSharpness)
	report, err := s.Run(context.Background(), Options{PhotosDir: dir, Pattern: `.*png`, OutputFile: out})
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	want := [][]string{{"img01.png", "BLURRY"}, {"img03.png", "BLURRY"}}
	if got := readRows(t, out); !reflect.DeepEqual(got, want) {
		t.Fatalf("got rows %v, want %v", got, want)
	}
	if len(report.Records) != 3 || report.Mode != ModeDirectory {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Summary() != "2 images may be blurry with laplacian test" {
		t.Fatalf("unexpected summary %q", report.Summary())
	}
	if report.TrajectoryRan {
		t.Fatalf("trajectory pass must not run by default")
	}
}

func TestTableModeCorrelatesExternalIDs(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.png")
	b := filepath.Join(dir, "b.png")
	writeImage(t, a, false)
	writeImage(t, b, false)
	table := filepath.Join(dir, "input.csv")
	if err := os.WriteFile(table, []byte(fmt.Sprintf("101,%s\n102,%s\n", a, b)), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "out.csv")

	report, err := newScanner(t, stubMetadata{}, config.MergeSharpness).Run(context.Background(), Options{InputFile: table, OutputFile: out})
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	want := [][]string{{"101", "BLURRY"}, {"102", "BLURRY"}}
	if got := readRows(t, out); !reflect.DeepEqual(got, want) {
		t.Fatalf("got rows %v, want %v", got, want)
	}
	if report.Mode != ModeTable {
		t.Fatalf("expected table mode, got %s", report.Mode)
	}
}

func TestAllSharpWritesEmptyFile(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 3; i++ {
		writeImage(t, filepath.Join(dir, fmt.Sprintf("img%02d.png", i)), true)
	}
	out := filepath.Join(t.TempDir(), "out.csv")
	if _, err := newScanner(t, stubMetadata{}, config.MergeSharpness).Run(context.Background(), Options{PhotosDir: dir, Pattern: "png$", OutputFile: out}); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(out)
	if err != nil {
		t.Fatalf("output file must exist: %v", err)
	}
	if info.Size() != 0 {
		t.Fatalf("expected empty output, got %d bytes", info.Size())
	}
}

func TestAllBlurryKeepsInputOrder(t *testing.T) {
	dir := t.TempDir()
	var want [][]string
	for i := 0; i < 9; i++ {
		name := fmt.Sprintf("img%02d.png", i)
		writeImage(t, filepath.Join(dir, name), false)
		want = append(want, []string{name, "BLURRY"})
	}
	out := filepath.Join(t.TempDir(), "out.csv")
	if _, err := newScanner(t, stubMetadata{}, config.MergeSharpness).Run(context.Background(), Options{PhotosDir: dir, Pattern: "png$", OutputFile: out}); err != nil {
		t.Fatal(err)
	}
	if got := readRows(t, out); !reflect.DeepEqual(got, want) {
		t.Fatalf("got rows %v, want %v", got, want)
	}
}

func TestDecodeFailureProducesNoRow(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, filepath.Join(dir, "a.png"), false)
	if err := os.WriteFile(filepath.Join(dir, "b.png"), []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "out.csv")
	report, err := newScanner(t, stubMetadata{}, config.MergeSharpness).Run(context.Background(), Options{PhotosDir: dir, Pattern: "png$", OutputFile: out})
	if err != nil {
		t.Fatal(err)
	}
	if report.Failed != 1 || !errors.Is(report.Records[1].ScoreErr, sharpness.ErrDecode) {
		t.Fatalf("expected one decode failure, got %+v", report)
	}
	if got := readRows(t, out); !reflect.DeepEqual(got, [][]string{{"a.png", "BLURRY"}}) {
		t.Fatalf("unexpected rows %v", got)
	}
}

func flightMetadata() stubMetadata {
	lats := []float64{45.0, 45.001, 45.002, 45.0022, 45.0032}
	fields := map[string]metadata.Fields{}
	for i, lat := range lats {
		fields[fmt.Sprintf("img%02d.png", i)] = metadata.Fields{HasGPS: true, Latitude: lat, Longitude: 5.0}
	}
	return stubMetadata{fields: fields}
}

func TestMergeAnyAddsTrajectoryAnomalies(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 5; i++ {
		writeImage(t, filepath.Join(dir, fmt.Sprintf("img%02d.png", i)), true)
	}
	out := filepath.Join(t.TempDir(), "out.csv")

	report, err := newScanner(t, flightMetadata(), config.MergeAny).Run(context.Background(), Options{PhotosDir: dir, Pattern: "png$", OutputFile: out})
	if err != nil {
		t.Fatal(err)
	}
	if !report.TrajectoryRan || report.AverageDistance <= 0 {
		t.Fatalf("trajectory pass must run under merge any: %+v", report)
	}
	if got := readRows(t, out); !reflect.DeepEqual(got, [][]string{{"img03.png", "BLURRY"}}) {
		t.Fatalf("unexpected rows %v", got)
	}
	if report.SharpnessBlurry != 0 {
		t.Fatalf("edge-rich images must be sharp")
	}
}

func TestTrajectoryWithoutMergeKeepsSharpnessOutput(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 5; i++ {
		writeImage(t, filepath.Join(dir, fmt.Sprintf("img%02d.png", i)), true)
	}
	out := filepath.Join(t.TempDir(), "out.csv")

	report, err := newScanner(t, flightMetadata(), config.MergeSharpness).Run(context.Background(),
		Options{PhotosDir: dir, Pattern: "png$", OutputFile: out, Trajectory: true})
	if err != nil {
		t.Fatal(err)
	}
	if !report.Records[3].DistanceAnomaly {
		t.Fatalf("expected short hop flagged on img03")
	}
	if len(readRows(t, out)) != 0 {
		t.Fatalf("trajectory anomalies must not reach the output under merge sharpness")
	}
}

func TestTrajectoryWithoutGPSIsNotFatalForScan(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, filepath.Join(dir, "a.png"), false)
	out := filepath.Join(dir, "out.csv")
	report, err := newScanner(t, stubMetadata{}, config.MergeAny).Run(context.Background(), Options{PhotosDir: dir, Pattern: "png$", OutputFile: out})
	if err != nil {
		t.Fatal(err)
	}
	if !errors.Is(report.TrajectoryErr, trajectory.ErrEmptySequence) {
		t.Fatalf("expected empty sequence warning, got %v", report.TrajectoryErr)
	}

	if _, err := newScanner(t, stubMetadata{}, config.MergeAny).Analyze(context.Background(), Options{PhotosDir: dir, Pattern: "png$"}); !errors.Is(err, trajectory.ErrEmptySequence) {
		t.Fatalf("trajectory command must fail without GPS, got %v", err)
	}
}

func TestInputErrors(t *testing.T) {
	dir := t.TempDir()
	empty := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	emptyTable := filepath.Join(dir, "empty.csv")
	if err := os.WriteFile(emptyTable, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name string
		opts Options
		want error
	}{
		{"no input", Options{}, ErrNoInput},
		{"relative directory", Options{PhotosDir: "photos"}, ErrInvalidInputPath},
		{"missing directory", Options{PhotosDir: filepath.Join(dir, "absent")}, ErrInvalidInputPath},
		{"relative table", Options{InputFile: "input.csv"}, ErrInvalidInputPath},
		{"empty directory", Options{PhotosDir: empty}, ErrEmptyBatch},
		{"no match", Options{PhotosDir: dir, Pattern: "jpg$"}, ErrEmptyBatch},
		{"empty table", Options{InputFile: emptyTable}, ErrEmptyBatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.opts.OutputFile = filepath.Join(t.TempDir(), "out.csv")
			_, err := newScanner(t, stubMetadata{}, config.MergeSharpness).Run(context.Background(), tc.opts)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if !IsInputError(err) {
				t.Fatalf("expected input error classification")
			}
			if _, statErr := os.Stat(tc.opts.OutputFile); !errors.Is(statErr, os.ErrNotExist) {
				t.Fatalf("no output may be written on input errors")
			}
		})
	}
}

func TestParseTableRejectsShortRows(t *testing.T) {
	_, err := parseTable(strings.NewReader("101,/a.jpg\n102\n"), "input.csv")
	if err == nil || !strings.Contains(err.Error(), "row 2") {
		t.Fatalf("expected row error, got %v", err)
	}
	entries, err := parseTable(strings.NewReader("101,/a.jpg,extra\n"), "input.csv")
	if err != nil || len(entries) != 1 || entries[0] != (Entry{ID: "101", Path: "/a.jpg"}) {
		t.Fatalf("unexpected entries %v %v", entries, err)
	}
}

func TestRunIsRecordedInHistory(t *testing.T) {
	store, err := storage.New(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	dir := t.TempDir()
	writeImage(t, filepath.Join(dir, "img00.png"), false)
	writeImage(t, filepath.Join(dir, "img01.png"), true)
	s := newScanner(t, stubMetadata{}, config.MergeSharpness)
	s.Store = store
	report, err := s.Run(context.Background(), Options{PhotosDir: dir, Pattern: "png$", OutputFile: filepath.Join(dir, "out.csv")})
	if err != nil {
		t.Fatal(err)
	}

	runs, err := store.RecentRuns(5)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != report.RunID || runs[0].Status != "completed" || runs[0].PhotoCount != 2 || runs[0].BlurryCount != 1 {
		t.Fatalf("unexpected history %+v", runs)
	}
	blurry, err := store.RunPhotos(report.RunID, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(blurry) != 1 || blurry[0].PhotoID != "img00.png" {
		t.Fatalf("unexpected blurry photos %+v", blurry)
	}
}

func TestMergeAnyHistoryMatchesOutput(t *testing.T) {
	store, err := storage.New(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	dir := t.TempDir()
	for i := 0; i < 5; i++ {
		writeImage(t, filepath.Join(dir, fmt.Sprintf("img%02d.png", i)), true)
	}
	out := filepath.Join(t.TempDir(), "out.csv")
	s := newScanner(t, flightMetadata(), config.MergeAny)
	s.Store = store
	report, err := s.Run(context.Background(), Options{PhotosDir: dir, Pattern: "png$", OutputFile: out})
	if err != nil {
		t.Fatal(err)
	}
	if report.Located != 5 {
		t.Fatalf("expected 5 located records, got %d", report.Located)
	}

	rows := readRows(t, out)
	runs, err := store.RecentRuns(1)
	if err != nil || len(runs) != 1 {
		t.Fatalf("expected one run, got %v %v", runs, err)
	}
	blurry, err := store.RunPhotos(report.RunID, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(blurry) != len(rows) || runs[0].BlurryCount != len(rows) {
		t.Fatalf("history disagrees with output: %d stored, count %d, %d rows", len(blurry), runs[0].BlurryCount, len(rows))
	}
	if len(blurry) != 1 || blurry[0].PhotoID != "img03.png" || !blurry[0].DistanceAnomaly {
		t.Fatalf("unexpected stored blurry photos %+v", blurry)
	}
}

func TestBlurryVerdictPolicies(t *testing.T) {
	sharpAnomaly := photo.New("a", "/a.jpg")
	sharpAnomaly.Scored = true
	sharpAnomaly.BearingAnomaly = true
	unscoredAnomaly := photo.New("b", "/b.jpg")
	unscoredAnomaly.DistanceAnomaly = true
	blurry := photo.New("c", "/c.jpg")
	blurry.Scored = true
	blurry.Blurry = true

	cases := []struct {
		rec   *photo.Record
		merge string
		want  bool
	}{
		{sharpAnomaly, config.MergeSharpness, false},
		{sharpAnomaly, config.MergeAny, true},
		{unscoredAnomaly, config.MergeSharpness, false},
		{unscoredAnomaly, config.MergeAny, true},
		{blurry, config.MergeSharpness, true},
		{blurry, config.MergeAny, true},
	}
	for _, tc := range cases {
		if got := Blurry(tc.rec, tc.merge); got != tc.want {
			t.Fatalf("Blurry(%s, %s) = %v, want %v", tc.rec.ID, tc.merge, got, tc.want)
		}
	}
}
