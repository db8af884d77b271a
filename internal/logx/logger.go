package logx

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls the process-wide logger. Populated from the environment
// by FromEnv; every field has a usable default.
type Options struct {
	Level   slog.Level
	Format  string // "json" or "text"
	Output  string // "stdout", "file", or "stdout,file"
	File    FileOptions
	Service string
}

// FileOptions configures the rotated log file used when Output includes
// "file".
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// FromEnv reads LOG_LEVEL, LOG_FORMAT, LOG_OUTPUT and the LOG_FILE_*
// variables, falling back to info-level JSON on stdout.
func FromEnv(service string) Options {
	return Options{
		Level:   parseLevel(envOr("LOG_LEVEL", "info")),
		Format:  parseFormat(envOr("LOG_FORMAT", "json")),
		Output:  parseOutput(envOr("LOG_OUTPUT", "stdout")),
		Service: service,
		File: FileOptions{
			Path:       envOr("LOG_FILE_PATH", "./logs/rvm-server.log"),
			MaxSizeMB:  envOrInt("LOG_FILE_MAX_SIZE_MB", 100),
			MaxBackups: envOrInt("LOG_FILE_MAX_BACKUPS", 7),
			MaxAgeDays: envOrInt("LOG_FILE_MAX_AGE_DAYS", 7),
		},
	}
}

// Init builds the logger from the environment, installs it as the slog
// default, and returns it together with a close function for any file
// writers.
func Init(service string) (*slog.Logger, func() error, error) {
	return InitWith(FromEnv(service))
}

// InitWith is Init with explicit options, mainly for tests.
func InitWith(opts Options) (*slog.Logger, func() error, error) {
	writer, closeFn, err := openWriter(opts)
	if err != nil {
		return nil, nil, err
	}

	hopts := &slog.HandlerOptions{Level: opts.Level}
	var handler slog.Handler
	if opts.Format == "text" {
		handler = slog.NewTextHandler(writer, hopts)
	} else {
		handler = slog.NewJSONHandler(writer, hopts)
	}

	logger := slog.New(handler).With("service", opts.Service)
	slog.SetDefault(logger)
	return logger, closeFn, nil
}

func openWriter(opts Options) (io.Writer, func() error, error) {
	var writers []io.Writer
	var rotator *lumberjack.Logger

	if strings.Contains(opts.Output, "stdout") {
		writers = append(writers, os.Stdout)
	}
	if strings.Contains(opts.Output, "file") {
		if err := os.MkdirAll(filepath.Dir(opts.File.Path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		rotator = &lumberjack.Logger{
			Filename:   opts.File.Path,
			MaxSize:    opts.File.MaxSizeMB,
			MaxBackups: opts.File.MaxBackups,
			MaxAge:     opts.File.MaxAgeDays,
			Compress:   true,
		}
		writers = append(writers, rotator)
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	closeFn := func() error {
		if rotator != nil {
			return rotator.Close()
		}
		return nil
	}
	if len(writers) == 1 {
		return writers[0], closeFn, nil
	}
	return io.MultiWriter(writers...), closeFn, nil
}

func parseFormat(v string) string {
	if strings.EqualFold(strings.TrimSpace(v), "text") {
		return "text"
	}
	return "json"
}

func parseOutput(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "file":
		return "file"
	case "stdout,file", "file,stdout":
		return "stdout,file"
	default:
		return "stdout"
	}
}

func parseLevel(v string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(v)) {
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

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
