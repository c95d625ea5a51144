// Package version exposes build information injected with -ldflags.
package version

import (
	"fmt"
	"runtime"
)

// Service names this binary in version reports and broker client names.
const Service = "questtracker-notifications"

// Set with -ldflags "-X .../version.Version=v1.2.3" and friends.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

type Info struct {
	Service   string `json:"service"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

func Get() Info {
	return Info{
		Service:   Service,
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}

// String renders "service version (commit)" for log lines.
func (i Info) String() string {
	return fmt.Sprintf("%s %s (%s)", i.Service, i.Version, i.Commit)
}
