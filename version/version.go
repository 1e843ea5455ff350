// Package version exposes build information set at link time:
//
//	go build -ldflags "-X github.com/Nadiam75/snappify/version.GitRelease=v1.2.0 ..."
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	// GitRelease is the release tag, "dev" for local builds.
	GitRelease = "dev"
	// GitCommit is the commit hash.
	GitCommit = ""
	// GitCommitDate is the commit timestamp.
	GitCommitDate = ""
	// GoInfo describes the toolchain and platform.
	GoInfo = fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)
)

func init() {
	if GitCommit != "" {
		return
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			GitCommit = s.Value
		case "vcs.time":
			GitCommitDate = s.Value
		}
	}
}
