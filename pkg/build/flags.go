// SPDX-License-Identifier: MIT

// Package build carries build metadata (name, version, commit, timestamp)
// injected at compile time via -ldflags. During development the values fall
// back to "dev" so binaries built with a plain `go build` still report
// something sensible.
package build

type Flags struct {
	Name    string
	Time    string
	Commit  string
	Version string
}

// Populated by -ldflags at release time, e.g.
//
//	-ldflags "-X wavecore/pkg/build.buildVersion=v1.2.0"
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string

	buildFlags = &Flags{
		Name:    "wavecore",
		Time:    "dev",
		Commit:  "dev",
		Version: "dev",
	}
)

// Initialize copies any ldflags-provided values over the development
// defaults. It must run before GetBuildFlags is first consulted.
func Initialize() {
	if buildName != "" {
		buildFlags.Name = buildName
	}
	if buildTime != "" {
		buildFlags.Time = buildTime
	}
	if buildCommit != "" {
		buildFlags.Commit = buildCommit
	}
	if buildVersion != "" {
		buildFlags.Version = buildVersion
	}
}

// GetBuildFlags returns the current build information.
func GetBuildFlags() *Flags {
	return buildFlags
}
