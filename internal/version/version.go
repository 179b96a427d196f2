// Package version reports the mnstatus build. The values are injected with
// -ldflags "-X github.com/datadavev/mnstatus/internal/version.Version=...".
package version

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String formats the build for the version command.
func String() string {
	return "mnstatus " + Version + " (commit " + Commit + ", built " + Date + ")"
}
