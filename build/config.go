package build

import "fmt"

const (
	// DefaultMaxLogFiles is the default maximum number of log files to
	// keep.
	DefaultMaxLogFiles = 3

	// DefaultMaxLogFileSize is the default maximum log file size in MB.
	DefaultMaxLogFileSize = 10
)

// ConsoleLoggerConfig holds the options of the stdout logger.
//
//nolint:lll
type ConsoleLoggerConfig struct {
	Disable bool `long:"disable" description:"Do not print logs to stdout."`
}

// FileLoggerConfig holds the options of the rotating log file.
//
//nolint:lll
type FileLoggerConfig struct {
	Disable        bool   `long:"disable" description:"Disable the log file."`
	Compressor     string `long:"compressor" description:"Compression algorithm to use when rotating logs." choice:"gzip" choice:"zstd"`
	MaxLogFiles    int    `long:"max-files" description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize int    `long:"max-file-size" description:"Maximum logfile size in MB"`
}

// LogConfig holds logging configuration options.
//
//nolint:lll
type LogConfig struct {
	Console *ConsoleLoggerConfig `group:"console" namespace:"console" description:"The logger writing to stdout."`
	File    *FileLoggerConfig    `group:"file" namespace:"file" description:"The logger writing to the daemon's log file."`
}

// DefaultLogConfig returns the default logging config options.
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Console: &ConsoleLoggerConfig{},
		File: &FileLoggerConfig{
			Compressor:     Gzip,
			MaxLogFiles:    DefaultMaxLogFiles,
			MaxLogFileSize: DefaultMaxLogFileSize,
		},
	}
}

// Validate validates the LogConfig struct values.
func (c *LogConfig) Validate() error {
	if c.File.Disable {
		return nil
	}

	if !SupportedLogCompressor(c.File.Compressor) {
		return fmt.Errorf("invalid log compressor: %v",
			c.File.Compressor)
	}

	if c.File.MaxLogFileSize <= 0 {
		return fmt.Errorf("max log file size must be positive, got %d",
			c.File.MaxLogFileSize)
	}

	return nil
}
