// Package version holds build-time version information for the ragent
// binary. The variables are set via -ldflags:
//
//	go build -ldflags="-X github.com/54b3r/ragent-go/internal/version.Version=v0.3.0 \
//	                    -X github.com/54b3r/ragent-go/internal/version.Commit=abc1234 \
//	                    -X github.com/54b3r/ragent-go/internal/version.BuildDate=2026-01-01"
//
// Local builds fall back to readable defaults.
package version

import (
	"fmt"
	"runtime"
)

// Version is the semantic version of the binary. Defaults to "dev".
var Version = "dev"

// Commit is the short git SHA. Defaults to "unknown".
var Commit = "unknown"

// BuildDate is the UTC build date. Defaults to "unknown".
var BuildDate = "unknown"

// String renders the one-line banner printed by `ragent version`.
func String() string {
	return fmt.Sprintf("ragent %s (commit %s, built %s, %s)", Version, Commit, BuildDate, runtime.Version())
}
