package build

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/btcsuite/btclog"
)

// ErrInvalidDebugLevel is returned for a malformed debug level string.
var ErrInvalidDebugLevel = errors.New("invalid debug level")

// LogWriter fans every log line out to the console and, once the rotator
// runs, to the log file.
type LogWriter struct {
	mu      sync.Mutex
	console io.Writer
	file    io.Writer
}

// NewLogWriter returns a writer printing to stdout.
func NewLogWriter() *LogWriter {
	return &LogWriter{console: os.Stdout}
}

// Write implements io.Writer. Errors of a single sink are ignored so a full
// disk never silences the console.
func (w *LogWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.console != nil {
		_, _ = w.console.Write(b)
	}
	if w.file != nil {
		_, _ = w.file.Write(b)
	}

	return len(b), nil
}

// SetConsole replaces the console sink. Nil mutes the console.
func (w *LogWriter) SetConsole(console io.Writer) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.console = console
}

func (w *LogWriter) setFile(file io.Writer) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.file = file
}

// NewSubLogger returns the logger of subsystem. With genSubLogger set, the
// logger comes from the daemon's root writer. Without it, dev builds log to
// stdout and other builds stay silent until UseLogger is called.
func NewSubLogger(subsystem string,
	genSubLogger func(string) btclog.Logger) btclog.Logger {

	if genSubLogger != nil {
		return genSubLogger(subsystem)
	}

	if !stdoutLogging {
		return btclog.Disabled
	}

	logger := btclog.NewBackend(os.Stdout).Logger(subsystem)
	level, _ := btclog.LevelFromString(TestLogLevel)
	logger.SetLevel(level)

	return logger
}

// SubLoggers is a type that holds a map of subsystem loggers keyed by their
// subsystem name.
type SubLoggers map[string]btclog.Logger

// LeveledSubLogger provides the ability to retrieve the subsystem loggers of
// a logger and set their log levels individually or all at once.
type LeveledSubLogger interface {
	// SubLoggers returns the registered subsystem loggers.
	SubLoggers() SubLoggers

	// SupportedSubsystems returns the sorted names of the registered
	// subsystems.
	SupportedSubsystems() []string

	// SetLogLevel assigns an individual subsystem logger a new log level.
	SetLogLevel(subsystemID string, logLevel string)

	// SetLogLevels assigns all subsystem loggers the same new log level.
	SetLogLevels(logLevel string)
}

// SubLoggerManager is a LeveledSubLogger backed by a single btclog backend.
type SubLoggerManager struct {
	backend *btclog.Backend

	mu      sync.RWMutex
	loggers SubLoggers
}

// A compile-time check to ensure SubLoggerManager implements
// LeveledSubLogger.
var _ LeveledSubLogger = (*SubLoggerManager)(nil)

// NewSubLoggerManager creates a manager whose loggers write to w.
func NewSubLoggerManager(w io.Writer) *SubLoggerManager {
	return &SubLoggerManager{
		backend: btclog.NewBackend(w),
		loggers: make(SubLoggers),
	}
}

// GenSubLogger creates the logger of subsystem on the shared backend and
// registers it.
func (m *SubLoggerManager) GenSubLogger(subsystem string) btclog.Logger {
	logger := m.backend.Logger(subsystem)
	m.Register(subsystem, logger)

	return logger
}

// Register makes logger the one whose level is managed for subsystem.
func (m *SubLoggerManager) Register(subsystem string, logger btclog.Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.loggers[subsystem] = logger
}

// SubLoggers returns a copy of the registered subsystem loggers.
//
// NOTE: This is part of the LeveledSubLogger interface.
func (m *SubLoggerManager) SubLoggers() SubLoggers {
	m.mu.RLock()
	defer m.mu.RUnlock()

	loggers := make(SubLoggers, len(m.loggers))
	for subsystem, logger := range m.loggers {
		loggers[subsystem] = logger
	}

	return loggers
}

// SupportedSubsystems returns the sorted subsystem names.
//
// NOTE: This is part of the LeveledSubLogger interface.
func (m *SubLoggerManager) SupportedSubsystems() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	subsystems := make([]string, 0, len(m.loggers))
	for subsystem := range m.loggers {
		subsystems = append(subsystems, subsystem)
	}
	sort.Strings(subsystems)

	return subsystems
}

// Levels returns the current level of every subsystem.
func (m *SubLoggerManager) Levels() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	levels := make(map[string]string, len(m.loggers))
	for subsystem, logger := range m.loggers {
		levels[subsystem] = logger.Level().String()
	}

	return levels
}

// SetLogLevel sets the level of one subsystem. Unknown subsystems are
// ignored.
//
// NOTE: This is part of the LeveledSubLogger interface.
func (m *SubLoggerManager) SetLogLevel(subsystemID string, logLevel string) {
	m.mu.RLock()
	logger, ok := m.loggers[subsystemID]
	m.mu.RUnlock()

	if !ok {
		return
	}

	level, _ := btclog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// SetLogLevels sets every subsystem to logLevel.
//
// NOTE: This is part of the LeveledSubLogger interface.
func (m *SubLoggerManager) SetLogLevels(logLevel string) {
	for _, subsystem := range m.SupportedSubsystems() {
		m.SetLogLevel(subsystem, logLevel)
	}
}

// ParseAndSetDebugLevels applies a debug level string of the form
// <global-level>,<subsystem>=<level>,... to logger. The global level is
// optional. Nothing is changed unless the whole string is valid.
func ParseAndSetDebugLevels(level string, logger LeveledSubLogger) error {
	if level == "" {
		return fmt.Errorf("%w: empty", ErrInvalidDebugLevel)
	}

	var (
		global string
		pairs  = strings.Split(level, ",")
		known  = logger.SubLoggers()
		levels = make(map[string]string, len(pairs))
	)
	if !strings.Contains(pairs[0], "=") {
		global = pairs[0]
		if !validLogLevel(global) {
			return fmt.Errorf("%w: %q", ErrInvalidDebugLevel, global)
		}
		pairs = pairs[1:]
	}

	for _, pair := range pairs {
		subsystem, subLevel, ok := strings.Cut(pair, "=")
		switch {
		case !ok || strings.Contains(subLevel, "="):
			return fmt.Errorf("%w: pair %q is not subsystem=level",
				ErrInvalidDebugLevel, pair)

		case known[subsystem] == nil:
			return fmt.Errorf("%w: unknown subsystem %q, "+
				"supported subsystems are %v",
				ErrInvalidDebugLevel, subsystem,
				logger.SupportedSubsystems())

		case !validLogLevel(subLevel):
			return fmt.Errorf("%w: %q", ErrInvalidDebugLevel,
				subLevel)
		}

		levels[subsystem] = subLevel
	}

	if global != "" {
		logger.SetLogLevels(global)
	}
	for subsystem, subLevel := range levels {
		logger.SetLogLevel(subsystem, subLevel)
	}

	return nil
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	switch logLevel {
	case "trace", "debug", "info", "warn", "error", "critical", "off":
		return true
	}

	return false
}
