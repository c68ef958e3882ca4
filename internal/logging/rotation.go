package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// RotationConfig bounds a log file written by a long-running command.
type RotationConfig struct {
	// MaxSize is the size at which the file is rotated, e.g. "10MB" or "64MiB".
	MaxSize string `yaml:"max_size"`
	// MaxBackups is how many rotated files are kept.
	MaxBackups int `yaml:"max_backups"`
	// MaxAge removes rotated files older than this; 0 keeps them.
	MaxAge time.Duration `yaml:"max_age"`
}

// DefaultRotationConfig returns the rotation defaults for file output.
func DefaultRotationConfig() *RotationConfig {
	return &RotationConfig{
		MaxSize:    "10MB",
		MaxBackups: 3,
		MaxAge:     7 * 24 * time.Hour,
	}
}

const backupTimeFormat = "20060102-150405.000"

// rotatingWriter appends to a log file and renames it to
// <name>.<timestamp><ext> once it would grow past maxSize.
type rotatingWriter struct {
	path       string
	maxSize    int64
	maxBackups int
	maxAge     time.Duration
	now        func() time.Time

	mu   sync.Mutex
	file *os.File
	size int64
}

func newRotatingWriter(path string, cfg *RotationConfig) (*rotatingWriter, error) {
	def := DefaultRotationConfig()
	if cfg == nil {
		cfg = def
	}

	sizeSpec := cfg.MaxSize
	if sizeSpec == "" {
		sizeSpec = def.MaxSize
	}
	maxSize, err := humanize.ParseBytes(sizeSpec)
	if err != nil || maxSize == 0 {
		return nil, fmt.Errorf("invalid log max_size %q", cfg.MaxSize)
	}
	backups := cfg.MaxBackups
	if backups <= 0 {
		backups = def.MaxBackups
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	w := &rotatingWriter{
		path:       path,
		maxSize:    int64(maxSize),
		maxBackups: backups,
		maxAge:     cfg.MaxAge,
		now:        time.Now,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	w.prune()
	return w, nil
}

func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		if err := w.open(); err != nil {
			return 0, err
		}
	}
	// A single record larger than maxSize still goes into a fresh file.
	if w.size > 0 && w.size+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the current file.
func (w *rotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *rotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	w.file = f
	w.size = info.Size()
	return nil
}

func (w *rotatingWriter) rotate() error {
	_ = w.file.Close()
	w.file = nil

	if err := os.Rename(w.path, w.backupName(w.now())); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}
	if err := w.open(); err != nil {
		return err
	}
	w.prune()
	return nil
}

func (w *rotatingWriter) backupName(t time.Time) string {
	ext := filepath.Ext(w.path)
	return strings.TrimSuffix(w.path, ext) + "." + t.Format(backupTimeFormat) + ext
}

// backups returns the rotated files of w, oldest first. The timestamp in the
// name sorts chronologically.
func (w *rotatingWriter) backups() []string {
	dir := filepath.Dir(w.path)
	ext := filepath.Ext(w.path)
	prefix := strings.TrimSuffix(filepath.Base(w.path), ext) + "."

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ext) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ext)
		if _, err := time.Parse(backupTimeFormat, stamp); err != nil {
			continue
		}
		names = append(names, filepath.Join(dir, name))
	}
	slices.Sort(names)
	return names
}

// prune drops backups beyond maxBackups and those older than maxAge.
func (w *rotatingWriter) prune() {
	names := w.backups()
	for len(names) > w.maxBackups {
		_ = os.Remove(names[0])
		names = names[1:]
	}
	if w.maxAge <= 0 {
		return
	}
	cutoff := w.now().Add(-w.maxAge)
	for _, name := range names {
		if info, err := os.Stat(name); err == nil && info.ModTime().Before(cutoff) {
			_ = os.Remove(name)
		}
	}
}
