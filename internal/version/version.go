package version

// Version is the version of the backtest engine. It is stamped into every metrics report and
// checked against the engine_version of configuration files.
// Set at build time with:
// -ldflags "-X github.com/rxtech-lab/argo-backtest/internal/version.Version=1.2.3"
// The value "main" marks a development build.
var Version = "v1.0.0"

// GetVersion returns the current engine version.
func GetVersion() string {
	return Version
}
