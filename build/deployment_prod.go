//go:build !dev

package build

// stdoutLogging is off outside dev builds: a subsystem logs only once the
// daemon hooked it to its root writer.
const stdoutLogging = false

// TestLogLevel is unused outside dev builds.
const TestLogLevel = "info"
