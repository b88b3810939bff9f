package satchel

import (
	"github.com/btcsuite/btclog"
	"github.com/satchelwallet/satchel/approval"
	"github.com/satchelwallet/satchel/build"
	"github.com/satchelwallet/satchel/chain/btcwallet"
	"github.com/satchelwallet/satchel/chain/esplora"
	"github.com/satchelwallet/satchel/chain/evmwallet"
	"github.com/satchelwallet/satchel/challenge"
	"github.com/satchelwallet/satchel/dispatch"
	"github.com/satchelwallet/satchel/gate"
	"github.com/satchelwallet/satchel/kvstore"
	"github.com/satchelwallet/satchel/monitoring"
	"github.com/satchelwallet/satchel/relay"
	"github.com/satchelwallet/satchel/signal"
	"github.com/satchelwallet/satchel/vault"
	"github.com/satchelwallet/satchel/walletcache"
)

// Loggers per subsystem. A single backend logger is created and all subsystem
// loggers created from it will write to the backend. When adding new
// subsystems, add the subsystem logger variable here and to SetupLoggers.
//
// Loggers can not be used before the log rotator has been initialized with a
// log file. This must be performed early during application startup by
// calling InitLogRotator on the RotatingLogWriter.
var (
	// satlPkgLoggers is a list of all satchel package level loggers that
	// are registered. They are tracked here so they can be replaced once
	// the SetupLoggers function is called with the final root logger.
	satlPkgLoggers []*replaceableLogger

	// addSatlPkgLogger is a helper function that creates a new replaceable
	// main package level logger and adds it to the list of loggers that
	// are replaced again later, once the final root logger is ready.
	addSatlPkgLogger = func(subsystem string) *replaceableLogger {
		l := &replaceableLogger{
			Logger:    build.NewSubLogger(subsystem, nil),
			subsystem: subsystem,
		}
		satlPkgLoggers = append(satlPkgLoggers, l)
		return l
	}

	// Loggers that need to be accessible from the satchel package can be
	// placed here. Loggers that are only used in sub modules can be added
	// directly by the SetupLoggers function.
	satlLog = addSatlPkgLogger("SATL")
	rpcsLog = addSatlPkgLogger("RPCS")
	dappLog = addSatlPkgLogger("DAPP")
)

// replaceableLogger is a thin wrapper around a logger that is used so the
// logger can be replaced easily without some black pointer magic.
type replaceableLogger struct {
	btclog.Logger
	subsystem string
}

// SetupLoggers initializes all package-global logger variables.
func SetupLoggers(root *build.RotatingLogWriter,
	interceptor signal.Interceptor) {

	genLogger := root.GenSubLogger.GenSubLogger

	// Now that we have the proper root logger, we can replace the
	// placeholder satchel package loggers.
	for _, l := range satlPkgLoggers {
		l.Logger = build.NewSubLogger(l.subsystem, genLogger)
		SetSubLogger(root, l.subsystem, l.Logger)
	}

	// The root logger requests a shutdown on critical errors.
	satlLog.Logger = build.NewShutdownLogger(
		satlLog.Logger, interceptor.RequestShutdown,
	)

	AddSubLogger(root, "SGNL", genLogger, signal.UseLogger)
	AddSubLogger(root, kvstore.Subsystem, genLogger, kvstore.UseLogger)
	AddSubLogger(root, vault.Subsystem, genLogger, vault.UseLogger)
	AddSubLogger(root, challenge.Subsystem, genLogger, challenge.UseLogger)
	AddSubLogger(root, relay.Subsystem, genLogger, relay.UseLogger)
	AddSubLogger(root, dispatch.Subsystem, genLogger, dispatch.UseLogger)
	AddSubLogger(root, gate.Subsystem, genLogger, gate.UseLogger)
	AddSubLogger(root, approval.Subsystem, genLogger, approval.UseLogger)
	AddSubLogger(
		root, walletcache.Subsystem, genLogger, walletcache.UseLogger,
	)
	AddSubLogger(root, btcwallet.Subsystem, genLogger, btcwallet.UseLogger)
	AddSubLogger(root, evmwallet.Subsystem, genLogger, evmwallet.UseLogger)
	AddSubLogger(root, esplora.Subsystem, genLogger, esplora.UseLogger)
	AddSubLogger(
		root, monitoring.Subsystem, genLogger, monitoring.UseLogger,
	)
}

// AddSubLogger is a helper method to conveniently create and register the
// logger of one or more sub systems.
func AddSubLogger(root *build.RotatingLogWriter, subsystem string,
	genLogger func(string) btclog.Logger,
	useLoggers ...func(btclog.Logger)) {

	// Create and register just a single logger to prevent them from
	// overwriting each other internally.
	logger := build.NewSubLogger(subsystem, genLogger)
	SetSubLogger(root, subsystem, logger, useLoggers...)
}

// SetSubLogger is a helper method to conveniently register the logger of a
// sub system that was created outside of AddSubLogger.
func SetSubLogger(root *build.RotatingLogWriter, subsystem string,
	logger btclog.Logger, useLoggers ...func(btclog.Logger)) {

	root.GenSubLogger.Register(subsystem, logger)

	for _, useLogger := range useLoggers {
		useLogger(logger)
	}
}
