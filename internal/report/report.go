// Package report renders scan results as terminal tables.
package report

import (
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"blurscan/internal/photo"
	"blurscan/internal/storage"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

const timeLayout = "2006-01-02 15:04:05"

// Trajectory renders the per-record trajectory fields of records. located is
// the number of records with a GPS fix.
func Trajectory(w io.Writer, records []*photo.Record, averageDistance float64, located int) error {
	headers := []string{"file", "distance", "%_dist_diff", "direction", "dir_diff", "chg_dist", "chg_dir", "speed"}
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		if !rec.HasLocation() {
			rows = append(rows, []string{rec.ID, "-", "-", "-", "-", "", "", rec.SpeedLabel()})
			continue
		}
		deviation := "-"
		if rec.DeviationDefined {
			deviation = formatFloat(rec.PercentDeviation)
		}
		direction := "-"
		if rec.Bearing != photo.BearingUndefined {
			direction = formatFloat(rec.Bearing)
		}
		rows = append(rows, []string{
			rec.ID,
			formatFloat(rec.Distance),
			deviation,
			direction,
			formatFloat(rec.BearingDelta),
			flag(rec.DistanceAnomaly),
			flag(rec.BearingAnomaly),
			rec.SpeedLabel(),
		})
	}
	aligns := []columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft, alignLeft, alignRight}
	if _, err := fmt.Fprintln(w, renderTable(headers, rows, aligns)); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "average distance: %.2f m (%d of %d images located)\n", averageDistance, located, len(records))
	return err
}

// RunMeta renders the summary stored with a run, keys sorted.
func RunMeta(w io.Writer, meta map[string]any) error {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := meta[k]
		if f, ok := v.(float64); ok {
			if f == math.Trunc(f) {
				v = strconv.FormatFloat(f, 'f', -1, 64)
			} else {
				v = formatFloat(f)
			}
		}
		if _, err := fmt.Fprintf(w, "%s: %v\n", k, v); err != nil {
			return err
		}
	}
	return nil
}

// Runs renders recent scan runs.
func Runs(w io.Writer, runs []storage.RunRecord) error {
	headers := []string{"id", "mode", "status", "photos", "blurry", "failed", "created", "input"}
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.ID,
			r.Mode,
			r.Status,
			strconv.Itoa(r.PhotoCount),
			strconv.Itoa(r.BlurryCount),
			strconv.Itoa(r.FailedCount),
			r.CreatedAt.Local().Format(timeLayout),
			r.InputPath,
		})
	}
	aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft, alignLeft}
	_, err := fmt.Fprintln(w, renderTable(headers, rows, aligns))
	return err
}

// Photos renders the stored photos of one run.
func Photos(w io.Writer, photos []storage.PhotoResult) error {
	headers := []string{"#", "id", "sharpness", "verdict", "chg_dist", "chg_dir", "error"}
	rows := make([][]string, 0, len(photos))
	for _, p := range photos {
		verdict := "sharp"
		switch {
		case p.Blurry:
			verdict = "BLURRY"
		case !p.Scored:
			verdict = "unscored"
		}
		rows = append(rows, []string{
			strconv.Itoa(p.Seq + 1),
			p.PhotoID,
			strconv.Itoa(p.Sharpness),
			verdict,
			flag(p.DistanceAnomaly),
			flag(p.BearingAnomaly),
			p.Error,
		})
	}
	aligns := []columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignLeft, alignLeft, alignLeft}
	_, err := fmt.Fprintln(w, renderTable(headers, rows, aligns))
	return err
}

// Summary prints the closing line of a scan, highlighted on terminals when
// anything was flagged.
func Summary(w io.Writer, line string, flagged bool) error {
	if flagged && shouldColorize(w) {
		line = text.Colors{text.FgYellow, text.Bold}.Sprint(line)
	}
	_, err := fmt.Fprintln(w, line)
	return err
}

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.Style().Format.Header = text.FormatDefault

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func flag(v bool) string {
	if v {
		return "x"
	}
	return ""
}
