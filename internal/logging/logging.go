package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"relaybot/internal/config"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	maxLogSizeMB  = 10
	maxLogBackups = 5
	maxLogAgeDays = 14
)

// New builds the process logger. Logs always go to stderr; when general.logFile
// is set they are also written to a rotated file. The returned closer releases
// the file and is never nil.
func New(cfg config.GeneralConfig) (*slog.Logger, io.Closer, error) {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.LogLevel)}

	path := strings.TrimSpace(cfg.LogFile)
	if path == "" {
		return slog.New(newHandler(cfg.LogFormat, os.Stderr, opts)), nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return slog.New(newHandler(cfg.LogFormat, os.Stderr, opts)), nopCloser{}, err
	}
	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxLogSizeMB,
		MaxBackups: maxLogBackups,
		MaxAge:     maxLogAgeDays,
		Compress:   true,
	}
	out := io.MultiWriter(os.Stderr, rotator)
	return slog.New(newHandler(cfg.LogFormat, out, opts)), rotator, nil
}

// ParseLevel maps a config string to a slog level; unknown values mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

func newHandler(format string, out io.Writer, opts *slog.HandlerOptions) slog.Handler {
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return slog.NewJSONHandler(out, opts)
	}
	return slog.NewTextHandler(out, opts)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
