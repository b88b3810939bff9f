package build

import (
	"fmt"
	"runtime"
)

// Release of satcheld and satchelcli.
const (
	AppMajor uint = 0
	AppMinor uint = 1
	AppPatch uint = 0

	// AppPreRelease is appended to the version after a dash when set.
	AppPreRelease = "alpha"
)

// Commit is the git description of the build, set with -ldflags.
var Commit string

// Version returns the semantic version of the binary.
func Version() string {
	version := fmt.Sprintf("%d.%d.%d", AppMajor, AppMinor, AppPatch)
	if AppPreRelease != "" {
		version += "-" + AppPreRelease
	}

	return version
}

// VersionInfo returns the version, commit and Go runtime on one line.
func VersionInfo() string {
	commit := Commit
	if commit == "" {
		commit = "unknown"
	}

	return fmt.Sprintf("%s commit=%s go=%s", Version(), commit,
		runtime.Version())
}
