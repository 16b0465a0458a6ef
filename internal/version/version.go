// Package version holds build-time version information for the kbqa binary.
// The variables in this package are populated at build time via -ldflags:
//
//	go build -ldflags="-X github.com/54b3r/kbqa-go/internal/version.Version=v1.2.3 \
//	                    -X github.com/54b3r/kbqa-go/internal/version.Commit=abc1234 \
//	                    -X github.com/54b3r/kbqa-go/internal/version.BuildDate=2025-01-01"
//
// Without ldflags the values fall back to "dev" and "unknown".
package version

import (
	"fmt"
	"runtime"
)

// Version is the semantic version of the binary (e.g. "v1.2.3").
var Version = "dev"

// Commit is the short git SHA of the commit the binary was built from.
var Commit = "unknown"

// BuildDate is the UTC date the binary was built (RFC3339 format).
var BuildDate = "unknown"

// Info is the machine-readable form printed by `kbqa version --json`.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// Get returns the build information of the running binary.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
	}
}

// String renders the information on one line.
func (i Info) String() string {
	return fmt.Sprintf("kbqa %s (commit %s, built %s, %s)", i.Version, i.Commit, i.BuildDate, i.GoVersion)
}
