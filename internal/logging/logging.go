// Package logging sets up the process-wide zerolog logger: JSON or console
// output on stderr picked by format (or terminal detection), with optional
// rolling file output capped by size and age.
package logging

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
	"golang.org/x/term"
)

const (
	bytesPerMB        int64 = 1024 * 1024
	defaultMaxSizeMB        = 100
	defaultMaxAgeDays       = 30

	logFilePerm os.FileMode = 0o600
	logDirPerm  os.FileMode = 0o700

	rotatedStamp = "20060102-150405"
)

// Config controls logger initialization.
type Config struct {
	Format     string // "json", "console", or "auto"
	Level      string // "debug", "info", "warn", "error"
	Component  string // optional component name
	FilePath   string // optional log file path
	MaxSizeMB  int    // rotate after this size (MB)
	MaxAgeDays int    // keep rotated logs for this many days
	Compress   bool   // gzip rotated logs
}

var (
	mu         sync.Mutex
	fileCloser io.Closer

	defaultTimeFmt = time.RFC3339
)

func init() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// Init configures zerolog globals and establishes the package baseline logger.
func Init(cfg Config) zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()

	previousFileCloser := fileCloser
	fileCloser = nil

	zerolog.TimeFieldFormat = defaultTimeFmt
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	writer := selectWriter(cfg.Format)

	if fileWriter, err := newRollingFileWriter(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "logging: file output disabled: %v\n", err)
	} else if fileWriter != nil {
		writer = io.MultiWriter(writer, fileWriter)
		if closer, ok := fileWriter.(io.Closer); ok {
			fileCloser = closer
		}
	}

	contextBuilder := zerolog.New(writer).With().Timestamp()
	if component := strings.TrimSpace(cfg.Component); component != "" {
		contextBuilder = contextBuilder.Str("component", component)
	}

	log.Logger = contextBuilder.Logger()

	if previousFileCloser != nil {
		if err := previousFileCloser.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "logging: close previous log file: %v\n", err)
		}
	}

	return log.Logger
}

// Shutdown closes logging resources held by the package.
func Shutdown() {
	mu.Lock()
	defer mu.Unlock()

	if fileCloser != nil {
		if err := fileCloser.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "logging: close log file: %v\n", err)
		}
		fileCloser = nil
	}
}

// IsLevelEnabled reports whether the provided level is enabled for logging.
func IsLevelEnabled(level zerolog.Level) bool {
	return level >= zerolog.GlobalLevel()
}

func parseLevel(level string) zerolog.Level {
	normalized := strings.ToLower(strings.TrimSpace(level))
	switch normalized {
	case "", "info":
		return zerolog.InfoLevel
	case "debug":
		return zerolog.DebugLevel
	case "trace":
		return zerolog.TraceLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	case "disabled":
		return zerolog.Disabled
	default:
		fmt.Fprintf(os.Stderr, "logging: unknown level %q, using info\n", normalized)
		return zerolog.InfoLevel
	}
}

func selectWriter(format string) io.Writer {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "console":
		return newConsoleWriter(os.Stderr)
	case "json":
		return os.Stderr
	case "auto", "":
		if isTerminal(os.Stderr) {
			return newConsoleWriter(os.Stderr)
		}
		return os.Stderr
	default:
		fmt.Fprintf(os.Stderr, "logging: unknown format %q, using json\n", format)
		return os.Stderr
	}
}

func newConsoleWriter(out io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: defaultTimeFmt,
	}
}

func isTerminal(file *os.File) bool {
	return file != nil && term.IsTerminal(int(file.Fd()))
}

// rollingFileWriter appends to one log file and renames it aside with a
// timestamp suffix once the next write would push it past maxBytes. Rotated
// siblings older than maxAge are pruned at rotation time.
type rollingFileWriter struct {
	mu          sync.Mutex
	path        string
	file        *os.File
	currentSize int64
	maxBytes    int64
	maxAge      time.Duration
	compress    bool
}

// newRollingFileWriter returns nil when no file path is configured.
func newRollingFileWriter(cfg Config) (io.Writer, error) {
	path := strings.TrimSpace(cfg.FilePath)
	if path == "" {
		return nil, nil
	}
	path = filepath.Clean(path)

	if err := os.MkdirAll(filepath.Dir(path), logDirPerm); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	w := &rollingFileWriter{
		path:     path,
		maxBytes: int64(cfg.MaxSizeMB) * bytesPerMB,
		maxAge:   time.Duration(cfg.MaxAgeDays) * 24 * time.Hour,
		compress: cfg.Compress,
	}
	if cfg.MaxSizeMB <= 0 {
		w.maxBytes = defaultMaxSizeMB * bytesPerMB
	}
	if cfg.MaxAgeDays < 0 {
		w.maxAge = defaultMaxAgeDays * 24 * time.Hour
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensureOpen(); err != nil {
		return nil, err
	}
	w.cleanupOldFiles()
	return w, nil
}

func (w *rollingFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureOpen(); err != nil {
		return 0, err
	}
	if w.maxBytes > 0 && w.currentSize+int64(len(p)) > w.maxBytes {
		if err := w.rotate(); err != nil {
			return 0, fmt.Errorf("rotate %s: %w", w.path, err)
		}
	}

	n, err := w.file.Write(p)
	w.currentSize += int64(n)
	if err != nil {
		return n, fmt.Errorf("append to %s: %w", w.path, err)
	}
	return n, nil
}

func (w *rollingFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeFile()
}

// ensureOpen opens the log file for append when no handle is held. Callers
// hold mu.
func (w *rollingFileWriter) ensureOpen() error {
	if w.file != nil {
		return nil
	}
	if err := refuseIrregular(w.path); err != nil {
		return err
	}

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, logFilePerm)
	if err != nil {
		return fmt.Errorf("open %s: %w", w.path, err)
	}
	if err := f.Chmod(logFilePerm); err != nil {
		_ = f.Close()
		return fmt.Errorf("tighten permissions on %s: %w", w.path, err)
	}

	w.file = f
	w.currentSize = 0
	if info, err := f.Stat(); err == nil {
		w.currentSize = info.Size()
	} else {
		fmt.Fprintf(os.Stderr, "logging: stat %s: %v\n", w.path, err)
	}
	return nil
}

// rotate renames the current file aside and reopens a fresh one. Callers
// hold mu.
func (w *rollingFileWriter) rotate() error {
	if err := w.closeFile(); err != nil {
		return err
	}

	aside := w.path + "." + time.Now().Format(rotatedStamp)
	switch _, err := os.Stat(w.path); {
	case err == nil:
		if err := os.Rename(w.path, aside); err != nil {
			fmt.Fprintf(os.Stderr, "logging: rename %s to %s: %v\n", w.path, aside, err)
		} else if w.compress {
			go gzipRotated(aside)
		}
	case !errors.Is(err, os.ErrNotExist):
		fmt.Fprintf(os.Stderr, "logging: stat %s: %v\n", w.path, err)
	}

	w.cleanupOldFiles()
	return w.ensureOpen()
}

// closeFile drops the current handle. Callers hold mu.
func (w *rollingFileWriter) closeFile() error {
	if w.file == nil {
		return nil
	}
	f := w.file
	w.file = nil
	w.currentSize = 0
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", w.path, err)
	}
	return nil
}

// cleanupOldFiles prunes rotated siblings past the age cap. A zero maxAge
// keeps everything.
func (w *rollingFileWriter) cleanupOldFiles() {
	if w.maxAge <= 0 {
		return
	}

	dir := filepath.Dir(w.path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: scan %s for rotated logs: %v\n", dir, err)
		return
	}

	prefix := filepath.Base(w.path) + "."
	cutoff := time.Now().Add(-w.maxAge)
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		stale := filepath.Join(dir, e.Name())
		if err := os.Remove(stale); err != nil {
			fmt.Fprintf(os.Stderr, "logging: prune %s: %v\n", stale, err)
		}
	}
}

// gzipRotated compresses one rotated log and removes the original.
func gzipRotated(path string) {
	if refuseIrregular(path) != nil {
		return
	}
	in, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: open rotated log %s: %v\n", path, err)
		return
	}
	defer in.Close()

	outPath := path + ".gz"
	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, logFilePerm)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: create %s: %v\n", outPath, err)
		return
	}

	gw := gzip.NewWriter(out)
	_, copyErr := io.Copy(gw, in)
	if err := gw.Close(); copyErr == nil {
		copyErr = err
	}
	if err := out.Close(); copyErr == nil {
		copyErr = err
	}
	if copyErr != nil {
		fmt.Fprintf(os.Stderr, "logging: compress %s: %v\n", path, copyErr)
		return
	}
	if err := os.Remove(path); err != nil {
		fmt.Fprintf(os.Stderr, "logging: remove %s after compression: %v\n", path, err)
	}
}

// refuseIrregular rejects paths that exist as anything but a plain file.
// Symlinked log paths are not followed.
func refuseIrregular(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			return nil
		}
		return fmt.Errorf("inspect log path %s: %w", path, err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("log path %s is a symlink", path)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("log path %s is not a regular file", path)
	}
	return nil
}
