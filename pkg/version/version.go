// Package version carries build metadata injected with -ldflags.
package version

import (
	"fmt"
	"runtime"
	"strings"
)

// Set at build time, e.g.
// -ldflags "-X github.com/zsiec/splitter/pkg/version.Version=1.2.0".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
	OS        = runtime.GOOS
	Arch      = runtime.GOARCH
)

type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

func GetInfo() Info {
	return Info{Version, GitCommit, BuildTime, GoVersion, OS, Arch}
}

func (i Info) String() string {
	return fmt.Sprintf("Splitter %s (commit: %s, built: %s, go: %s, os/arch: %s/%s)",
		i.Version, i.GitCommit, i.BuildTime, i.GoVersion, i.OS, i.Arch)
}

func (i Info) Short() string {
	return "Splitter " + i.Version
}

// UserAgent returns the User-Agent a tool named product sends, e.g.
// "splitterctl/1.2.0 (abc1234; linux/amd64)".
func (i Info) UserAgent(product string) string {
	commit := i.GitCommit
	if len(commit) > 7 {
		commit = commit[:7]
	}
	return fmt.Sprintf("%s/%s (%s; %s/%s)", product, strings.TrimPrefix(i.Version, "v"), commit, i.OS, i.Arch)
}
