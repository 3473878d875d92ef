// Package common provides shared utilities for Folio
package common

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"

	"gopkg.in/yaml.v3"
)

const (
	defaultVersion = "dev"
	unknown        = "unknown"
)

// Version variables injected at build time via ldflags:
//
//	-X github.com/bobmcallan/folio/internal/common.Version=1.4.0
var (
	Version   = defaultVersion
	Build     = unknown
	GitCommit = unknown
)

// BuildInfo describes the running binary for the banner, the version
// endpoint and folio-cron version.
type BuildInfo struct {
	Version   string `json:"version"`
	Build     string `json:"build"`
	Commit    string `json:"commit"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"goVersion"`
}

func (b BuildInfo) String() string {
	commit := b.Commit
	if b.Modified {
		commit += "+dirty"
	}
	return fmt.Sprintf("%s (build: %s, commit: %s, %s)", b.Version, b.Build, commit, b.GoVersion)
}

// GetBuildInfo merges the ldflags values with the VCS stamp the Go toolchain
// embeds. ldflags take precedence.
func GetBuildInfo() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		Build:     Build,
		Commit:    GitCommit,
		GoVersion: runtime.Version(),
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == unknown && s.Value != "" {
				info.Commit = shortCommit(s.Value)
			}
		case "vcs.time":
			if info.Build == unknown && s.Value != "" {
				info.Build = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
	return info
}

func shortCommit(rev string) string {
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}

// GetVersion returns the semantic version string
func GetVersion() string {
	return Version
}

// versionFile is the .version file written by the release script:
//
//	version: 1.4.0
//	build: 2025-03-10T09:12:00Z
//	commit: 3f9c2ab
type versionFile struct {
	Version string `yaml:"version"`
	Build   string `yaml:"build"`
	Commit  string `yaml:"commit"`
}

// LoadVersionFromFile reads .version next to the binary. A missing file is
// not an error.
func LoadVersionFromFile() {
	exe, err := os.Executable()
	if err != nil {
		return
	}
	_ = LoadVersionFile(filepath.Join(filepath.Dir(exe), ".version"))
}

// LoadVersionFile fills version values still at their defaults from path.
// Values set through ldflags are never replaced.
func LoadVersionFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var vf versionFile
	if err := yaml.Unmarshal(data, &vf); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if Version == defaultVersion && vf.Version != "" {
		Version = vf.Version
	}
	if Build == unknown && vf.Build != "" {
		Build = vf.Build
	}
	if GitCommit == unknown && vf.Commit != "" {
		GitCommit = vf.Commit
	}
	return nil
}
