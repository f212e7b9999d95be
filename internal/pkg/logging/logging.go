// Package logging настраивает глобальный slog-логгер сервиса.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	FormatText = "text"
	FormatJSON = "json"

	OutputStderr = "stderr"
	OutputFile   = "file"
)

type Config struct {
	Level      string
	Format     string
	Output     string
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Setup installs the configured handler as the slog default. The returned
// function closes the log file, if any.
func Setup(cfg Config) func() error {
	w, closeFn := newWriter(cfg)
	slog.SetDefault(slog.New(NewHandler(cfg, w)))
	return closeFn
}

func NewHandler(cfg Config, w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, FormatJSON) {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func newWriter(cfg Config) (io.Writer, func() error) {
	nop := func() error { return nil }

	switch cfg.Output {
	case OutputStderr, "":
		return os.Stderr, nop
	case OutputFile:
	default:
		_, _ = os.Stderr.WriteString("WARNING: unknown logging output " + cfg.Output + ", falling back to stderr\n")
		return os.Stderr, nop
	}

	if cfg.FilePath == "" {
		_, _ = os.Stderr.WriteString("WARNING: logging output=file but file_path is empty, falling back to stderr\n")
		return os.Stderr, nop
	}
	if dir := filepath.Dir(cfg.FilePath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			_, _ = os.Stderr.WriteString("WARNING: cannot create log dir " + dir + ": " + err.Error() + ", falling back to stderr\n")
			return os.Stderr, nop
		}
	}

	lj := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    orDefault(cfg.MaxSizeMB, 100),
		MaxBackups: orDefault(cfg.MaxBackups, 3),
		MaxAge:     orDefault(cfg.MaxAgeDays, 7),
		Compress:   cfg.Compress,
	}
	return lj, lj.Close
}

// ParseLevel maps debug/info/warn/error; anything else is info.
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

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
