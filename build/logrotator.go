package build

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jrick/logrotate/rotator"
	"github.com/klauspost/compress/zstd"
)

const (
	// Gzip is the default compressor.
	Gzip = "gzip"

	// Zstd compresses rolled files better than Gzip, in less time.
	Zstd = "zstd"
)

// logCompressors maps each supported compressor to the extension of the
// rolled files.
var logCompressors = map[string]string{
	Gzip: "gz",
	Zstd: "zst",
}

// SupportedLogCompressor returns whether or not logCompressor is a supported
// compression algorithm for log files.
func SupportedLogCompressor(logCompressor string) bool {
	_, ok := logCompressors[logCompressor]

	return ok
}

// newCompressor returns the rotator compressor named by name.
func newCompressor(name string) (rotator.Compressor, error) {
	switch name {
	case Gzip:
		return gzip.NewWriter(nil), nil

	case Zstd:
		c, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("unable to create zstd "+
				"compressor: %w", err)
		}

		return c, nil

	default:
		return nil, fmt.Errorf("unknown log compressor: %v", name)
	}
}

// RotatingLogWriter is the daemon's root log writer. Every subsystem logger
// it generates writes to the console and, after InitLogRotator, to a
// rotated log file.
type RotatingLogWriter struct {
	// GenSubLogger generates and tracks the subsystem loggers.
	GenSubLogger *SubLoggerManager

	writer *LogWriter

	rotator *rotator.Rotator
	pipe    *io.PipeWriter
}

// NewRotatingLogWriter creates a root writer logging to the console only.
func NewRotatingLogWriter() *RotatingLogWriter {
	writer := NewLogWriter()

	return &RotatingLogWriter{
		GenSubLogger: NewSubLoggerManager(writer),
		writer:       writer,
	}
}

// DisableConsole stops printing log lines to stdout.
func (r *RotatingLogWriter) DisableConsole() {
	r.writer.SetConsole(nil)
}

// InitLogRotator starts writing to logFile, rolling it by size into
// compressed files in the same directory. It must be closed on shutdown by
// calling Close.
func (r *RotatingLogWriter) InitLogRotator(cfg *FileLoggerConfig,
	logFile string) error {

	compressor, err := newCompressor(cfg.Compressor)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(logFile), 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	r.rotator, err = rotator.New(
		logFile, int64(cfg.MaxLogFileSize*1024), false, cfg.MaxLogFiles,
	)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}
	r.rotator.SetCompressor(compressor, logCompressors[cfg.Compressor])

	pr, pw := io.Pipe()
	go func() {
		if err := r.rotator.Run(pr); err != nil {
			_, _ = fmt.Fprintf(os.Stderr,
				"failed to run file rotator: %v\n", err)
		}
	}()

	r.pipe = pw
	r.writer.setFile(pw)

	return nil
}

// Close stops writing to the log file.
func (r *RotatingLogWriter) Close() error {
	if r.rotator == nil {
		return nil
	}

	r.writer.setFile(nil)
	_ = r.pipe.Close()

	return r.rotator.Close()
}
