package build

import (
	"github.com/btcsuite/btclog"
)

// ShutdownLogger requests a daemon shutdown after logging at the critical
// level. A critical line from the wallet host means key material or the
// vault is in a state it must not keep serving from.
type ShutdownLogger struct {
	btclog.Logger
	shutdown func()
}

// NewShutdownLogger wraps logger so critical lines call shutdown.
func NewShutdownLogger(logger btclog.Logger, shutdown func()) *ShutdownLogger {
	return &ShutdownLogger{
		Logger:   logger,
		shutdown: shutdown,
	}
}

func (s *ShutdownLogger) requestShutdown() {
	s.Logger.Info("Sending request for shutdown")
	s.shutdown()
}

// Criticalf logs at the critical level, then requests shutdown.
//
// NOTE: This is part of the btclog.Logger interface.
func (s *ShutdownLogger) Criticalf(format string, params ...interface{}) {
	s.Logger.Criticalf(format, params...)
	s.requestShutdown()
}

// Critical logs at the critical level, then requests shutdown.
//
// NOTE: This is part of the btclog.Logger interface.
func (s *ShutdownLogger) Critical(v ...interface{}) {
	s.Logger.Critical(v...)
	s.requestShutdown()
}
