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

	"lostctl/internal/config"
	"lostctl/internal/engine"
)

// New returns a slog.Logger writing to stderr with the provided level string
// (info, debug, warn, error). format may be "json" or "text".
func New(level string, format string) *slog.Logger {
	return slog.New(newHandler(os.Stderr, parseLevel(level), format))
}

// Setup configures global logging. Logs go to stderr, which keeps stdout free
// for command results, and optionally to a dated file in the log directory.
func Setup(cfg *config.Config) (*slog.Logger, error) {
	level := parseLevel(cfg.Logging.Level)

	writers := []io.Writer{os.Stderr}
	if cfg.Logging.FileOutput {
		if err := os.MkdirAll(cfg.Logging.LogDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		logFile := filepath.Join(cfg.Logging.LogDir, fmt.Sprintf("lostctl-%s.log",
			time.Now().Format("2006-01-02")))

		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, file)

		// best effort
		currentLogPath := filepath.Join(cfg.Logging.LogDir, "lostctl-current.log")
		_ = os.Remove(currentLogPath)
		_ = os.Symlink(filepath.Base(logFile), currentLogPath)
	}

	slogLogger := slog.New(newHandler(io.MultiWriter(writers...), level, cfg.Logging.Format))
	slog.SetDefault(slogLogger)

	slogLogger.Debug("lostctl logging initialized",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"file_output", cfg.Logging.FileOutput,
		"log_dir", cfg.Logging.LogDir,
	)

	return slogLogger, nil
}

func newHandler(w io.Writer, level slog.Level, format string) slog.Handler {
	switch strings.ToLower(format) {
	case "json":
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	case "traditional":
		return &TraditionalHandler{logger: log.New(w, "", log.LstdFlags), level: level}
	default:
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}
}

// TraditionalHandler writes "[LEVEL] message [k=v ...]" lines through a
// standard library logger.
type TraditionalHandler struct {
	logger *log.Logger
	level  slog.Level
	attrs  []string
	group  string
}

func (h *TraditionalHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *TraditionalHandler) Handle(ctx context.Context, r slog.Record) error {
	msg := r.Message
	attrs := append([]string(nil), h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, h.format(a))
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
	next.attrs = append([]string(nil), h.attrs...)
	for _, a := range attrs {
		next.attrs = append(next.attrs, h.format(a))
	}
	return &next
}

func (h *TraditionalHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	if next.group != "" {
		name = next.group + "." + name
	}
	next.group = name
	return &next
}

func (h *TraditionalHandler) format(a slog.Attr) string {
	key := a.Key
	if h.group != "" {
		key = h.group + "." + key
	}
	return fmt.Sprintf("%s=%v", key, a.Value)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// LogJobStart logs the beginning of a batch or watch job.
func LogJobStart(logger *slog.Logger, jobType, jobID, inputPath string, options map[string]any) {
	logger.Info("job started",
		"type", jobType,
		"id", jobID,
		"input", inputPath,
		"options", options,
	)
}

// LogJobComplete logs successful job completion.
func LogJobComplete(logger *slog.Logger, jobType, jobID string, duration time.Duration, resultInfo map[string]any) {
	logger.Info("job completed successfully",
		"type", jobType,
		"id", jobID,
		"duration_ms", duration.Milliseconds(),
		"result", resultInfo,
	)
}

// LogJobError logs job failures.
func LogJobError(logger *slog.Logger, jobType, jobID string, duration time.Duration, err error, context map[string]any) {
	logger.Error("job failed",
		"type", jobType,
		"id", jobID,
		"duration_ms", duration.Milliseconds(),
		"error", err.Error(),
		"context", context,
	)
}

// LogInvocationComplete logs a successful engine run.
func LogInvocationComplete(logger *slog.Logger, op, id string, duration time.Duration, result map[string]any) {
	logger.Info("engine invocation completed",
		"operation", op,
		"id", id,
		"duration_ms", duration.Milliseconds(),
		"duration_human", duration.String(),
		"result", result,
	)
}

// LogInvocationError logs a failed engine run.
func LogInvocationError(logger *slog.Logger, op, id string, duration time.Duration, err error, context map[string]any) {
	logger.Error("engine invocation failed",
		"operation", op,
		"id", id,
		"duration_ms", duration.Milliseconds(),
		"error", err.Error(),
		"context", context,
	)
}

// LogEngineStatus logs engine detection results.
func LogEngineStatus(logger *slog.Logger, status engine.Status) {
	if status.Available {
		logger.Debug("engine detected",
			"path", status.Path,
			"version", status.Version,
		)
	} else {
		logger.Warn("engine not available",
			"path", status.Path,
			"error", status.Error,
		)
	}
}

// Observer returns an engine.Observer that logs every finished invocation.
func Observer(logger *slog.Logger) engine.Observer {
	return engine.ObserverFunc(func(rec engine.Record) {
		if rec.Err != nil {
			LogInvocationError(logger, string(rec.Operation), rec.ID, rec.Duration, rec.Err, map[string]any{
				"exit_code": rec.Status.Code,
				"args":      strings.Join(rec.Args, " "),
			})
			return
		}
		LogInvocationComplete(logger, string(rec.Operation), rec.ID, rec.Duration, map[string]any{
			"exit_code": rec.Status.Code,
		})
	})
}
