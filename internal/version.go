package internal

import (
	"runtime"
	"runtime/debug"
)

// Version is the release version, overridden at build time with
// -ldflags "-X tubechat/internal.Version=v0.2.0".
var Version = "dev"

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string `json:"version"`
	Revision  string `json:"revision,omitempty"`
	GoVersion string `json:"go"`
	Platform  string `json:"platform"`
}

// CurrentBuild reports the version plus the VCS revision stamped by the Go
// toolchain, when available.
func CurrentBuild() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range bi.Settings {
			if setting.Key == "vcs.revision" {
				info.Revision = setting.Value
				if len(info.Revision) > 12 {
					info.Revision = info.Revision[:12]
				}
			}
		}
	}
	return info
}
