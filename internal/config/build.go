package config

// Set at link time:
//
//	go build -ldflags "-X safetyalert/internal/config.version=1.4.0 \
//	    -X safetyalert/internal/config.commit=$(git rev-parse --short HEAD) \
//	    -X safetyalert/internal/config.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo returns the linker-injected build metadata.
func NewBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}
}

// String renders the build for startup logs and the User-Agent header.
func (b BuildInfo) String() string {
	return b.Version + "+" + b.Commit
}
