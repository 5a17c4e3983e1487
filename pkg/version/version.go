// Package version carries build metadata set with -ldflags.
package version

import (
	"fmt"
	"runtime"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// AgentVersion is reported to the LiveKit server when the worker registers.
func AgentVersion() string {
	return Version
}

func GetVersionInfo() string {
	return fmt.Sprintf("livekit-voice-agent %s (commit: %s, built: %s, go: %s)",
		Version, GitCommit, BuildTime, runtime.Version())
}
