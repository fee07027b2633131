package logging

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"blurscan/internal/config"
)

// level is shared by every handler built by Setup so the CLI can raise
// verbosity after configuration is loaded.
var level = new(slog.LevelVar)

// Setup configures global logging with optional dated file output.
func Setup(cfg *config.Config) (*slog.Logger, error) {
	level.Set(ParseLevel(cfg.Logging.Level))

	writers := []io.Writer{os.Stdout}

	if cfg.Logging.FileOutput {
		if err := os.MkdirAll(cfg.Logging.LogDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %v", err)
		}
		logFile := filepath.Join(cfg.Logging.LogDir, fmt.Sprintf("blurscan-%s.log",
			time.Now().Format("2006-01-02")))

		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %v", err)
		}
		writers = append(writers, file)

		currentLogPath := filepath.Join(cfg.Logging.LogDir, "blurscan-current.log")
		os.Remove(currentLogPath)
		_ = os.Symlink(filepath.Base(logFile), currentLogPath) // not critical
	}

	var slogLogger *slog.Logger
	if strings.ToLower(cfg.Logging.Format) == "json" {
		slogLogger = slog.New(slog.NewJSONHandler(io.MultiWriter(writers...), &slog.HandlerOptions{Level: level}))
	} else {
		slogLogger = slog.New(NewTraditionalHandler(io.MultiWriter(writers...), level))
	}
	slog.SetDefault(slogLogger)

	slogLogger.Debug("blurscan logging initialized",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"file_output", cfg.Logging.FileOutput,
		"log_dir", cfg.Logging.LogDir,
	)
	return slogLogger, nil
}

// SetLevel changes the level of loggers built by Setup.
func SetLevel(lvl string) {
	level.Set(ParseLevel(lvl))
}

// TraditionalHandler implements slog.Handler with "[LEVEL] message [k=v ...]" lines.
type TraditionalHandler struct {
	logger *log.Logger
	level  slog.Leveler
	attrs  []slog.Attr
}

// NewTraditionalHandler writes to w with the standard log date prefix.
func NewTraditionalHandler(w io.Writer, level slog.Leveler) *TraditionalHandler {
	return &TraditionalHandler{logger: log.New(w, "", log.LstdFlags), level: level}
}

func (h *TraditionalHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *TraditionalHandler) Handle(ctx context.Context, r slog.Record) error {
	msg := r.Message
	attrs := make([]string, 0, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs = append(attrs, fmt.Sprintf("%s=%v", a.Key, a.Value))
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, fmt.Sprintf("%s=%v", a.Key, a.Value))
		return true
	})

	if len(attrs) > 0 {
		msg = fmt.Sprintf("%s [%s]", msg, strings.Join(attrs, " "))
	}

	h.logger.Printf("[%s] %s", strings.ToUpper(r.Level.String()), msg)
	return nil
}

func (h *TraditionalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &next
}

func (h *TraditionalHandler) WithGroup(name string) slog.Handler {
	// groups are flattened
	return h
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(lvl string) slog.Level {
	switch strings.ToLower(lvl) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogRunStart logs the beginning of a scan run.
func LogRunStart(logger *slog.Logger, runID, mode, input, output string, options map[string]any) {
	logger.Info("scan started",
		"id", runID,
		"mode", mode,
		"input", input,
		"output", output,
		"options", options,
	)
}

// LogRunComplete logs successful run completion.
func LogRunComplete(logger *slog.Logger, runID string, duration time.Duration, result map[string]any) {
	logger.Info("scan completed successfully",
		"id", runID,
		"duration_ms", duration.Milliseconds(),
		"duration_human", duration.String(),
		"result", result,
	)
}

// LogRunError logs run failures.
func LogRunError(logger *slog.Logger, runID string, duration time.Duration, err error, context map[string]any) {
	logger.Error("scan failed",
		"id", runID,
		"duration_ms", duration.Milliseconds(),
		"error", err.Error(),
		"context", context,
	)
}

// LogToolStatus logs tool detection and status.
func LogToolStatus(logger *slog.Logger, tool string, available bool, version, path string, err error) {
	if available {
		logger.Debug("tool detected",
			"tool", tool,
			"version", version,
			"path", path,
		)
	} else {
		logger.Debug("tool not available",
			"tool", tool,
			"error", err,
		)
	}
}

// LogVerdict logs the sharpness diagnostics of one record.
func LogVerdict(logger *slog.Logger, id, path string, blurry bool, sum int, variances [4]float64, speed string, duration time.Duration) {
	lvl := slog.LevelDebug
	verdict := "sharp"
	if blurry {
		lvl = slog.LevelInfo
		verdict = "blurry"
	}
	logger.Log(context.Background(), lvl, "sharpness scored",
		"id", id,
		"path", path,
		"fm_crop", fmt.Sprintf("%.0f %.0f %.0f %.0f", variances[0], variances[1], variances[2], variances[3]),
		"convert_scale_abs", sum,
		"speed", speed,
		"verdict", verdict,
		"duration_ms", duration.Milliseconds(),
	)
}
