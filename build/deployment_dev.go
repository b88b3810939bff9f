//go:build dev

package build

// stdoutLogging hands unregistered subsystems a stdout logger so unit tests
// of a single package print their logs.
const stdoutLogging = true

// TestLogLevel is the level of the stdout loggers handed out to tests.
const TestLogLevel = "debug"
