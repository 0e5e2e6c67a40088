package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes where captured job output is mirrored.
// Files are Dir/<name>.stdout.log and Dir/<name>.stderr.log.
// Rotation parameters follow lumberjack semantics.
type Config struct {
	Dir        string // base directory for job logs; empty disables mirroring
	MaxSizeMB  int    // megabytes before rotation (default 10)
	MaxBackups int    // number of backups to keep (default 3)
	MaxAgeDays int    // days to keep (default 7)
	Compress   bool   // Gzip rotated files
}

// Enabled reports whether job output should be written to files.
func (c Config) Enabled() bool { return strings.TrimSpace(c.Dir) != "" }

// JobLogs hands out rotating stdout and stderr writers per job name. Writers
// are shared by every job with the same name and stay open until Close, since
// each lumberjack.Logger owns a mill goroutine that Close does not stop.
type JobLogs struct {
	cfg   Config
	mu    sync.Mutex
	files map[string]*lj.Logger
}

// NewJobLogs returns nil when cfg has no directory, which disables mirroring.
func NewJobLogs(cfg Config) *JobLogs {
	if !cfg.Enabled() {
		return nil
	}
	return &JobLogs{cfg: cfg, files: make(map[string]*lj.Logger)}
}

// Writers returns the stdout and stderr writers for name, files
// Dir/<name>.stdout.log and Dir/<name>.stderr.log.
func (j *JobLogs) Writers(name string) (io.Writer, io.Writer, error) {
	if j == nil {
		return nil, nil, fmt.Errorf("job log dir not configured")
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.files) == 0 {
		if err := os.MkdirAll(j.cfg.Dir, 0o750); err != nil {
			return nil, nil, fmt.Errorf("create job log dir: %w", err)
		}
	}
	return j.fileLocked(name + ".stdout.log"), j.fileLocked(name + ".stderr.log"), nil
}

func (j *JobLogs) fileLocked(base string) *lj.Logger {
	path := filepath.Join(j.cfg.Dir, base)
	if l, ok := j.files[path]; ok {
		return l
	}
	l := j.cfg.rotating(path)
	j.files[path] = l
	return l
}

// Len is the number of distinct files opened so far.
func (j *JobLogs) Len() int {
	if j == nil {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.files)
}

// Close closes every file. A later write reopens its file.
func (j *JobLogs) Close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	var errs []error
	for _, l := range j.files {
		errs = append(errs, l.Close())
	}
	return errors.Join(errs...)
}

func (c Config) rotating(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

// Format selects the slog handler.
type Format string

const (
	FormatText  Format = "text"
	FormatJSON  Format = "json"
	FormatColor Format = "color"
)

// Options configures the service logger.
type Options struct {
	Level      string // debug, info, warn, error
	Format     Format
	File       string // optional log file, rotated with lumberjack
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// New builds the service logger. When File is set, records go to the rotated
// file instead of w. The returned closer releases the file and is never nil.
func New(opts Options, w io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}
	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o750); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		f := &lj.Logger{
			Filename:   opts.File,
			MaxSize:    valOr(opts.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(opts.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(opts.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   opts.Compress,
		}
		w, closer = f, f
	}
	hopts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch opts.Format {
	case FormatJSON:
		h = slog.NewJSONHandler(w, hopts)
	case FormatColor:
		h = NewColorTextHandler(w, hopts, true)
	case FormatText, "":
		h = slog.NewTextHandler(w, hopts)
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", opts.Format)
	}
	return slog.New(h), closer, nil
}

// ParseLevel maps a level name to slog.Level; empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
