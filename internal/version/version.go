package version

import "runtime"

// These variables are set at build time using -ldflags
var (
	// Version is the release version of fanlog
	Version = "dev"

	// Commit is the git commit hash the binary was built from
	Commit = "none"

	// Date is the build date
	Date = "unknown"
)

// Info returns the multi-line text printed by --version.
func Info() string {
	return "fanlog\n" +
		"Version:    " + Version + "\n" +
		"Commit:     " + Commit + "\n" +
		"Built:      " + Date + "\n" +
		"Go:         " + runtime.Version() + "\n"
}

// ShortInfo returns a one-line version string for log attributes.
func ShortInfo() string {
	return "fanlog " + Version + " (" + Commit + ")"
}
