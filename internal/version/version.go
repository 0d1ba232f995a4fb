package version

import (
	"runtime/debug"
	"strings"
)

var (
	// Version is overridden at release time with -ldflags.
	Version = "0.3.0"
	Commit  = ""
)

// Resolve returns the version string. Builds that are not stamped with a
// commit fall back to the VCS revision recorded by the Go toolchain.
func Resolve() string {
	return resolveVersion(Version, Commit, readBuildSettings)
}

func resolveVersion(base, commit string, settings func() map[string]string) string {
	if base == "" {
		base = "0.0.0"
	}

	if commit != "" {
		return base + "+" + shortRevision(commit)
	}

	values := settings()
	revision := values["vcs.revision"]
	if revision == "" {
		return base
	}

	suffix := shortRevision(revision)
	if values["vcs.modified"] == "true" {
		suffix += "-dirty"
	}
	return base + "+" + suffix
}

func shortRevision(revision string) string {
	revision = strings.TrimSpace(revision)
	if len(revision) > 7 {
		return revision[:7]
	}
	return revision
}

func readBuildSettings() map[string]string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return nil
	}

	values := make(map[string]string, len(info.Settings))
	for _, setting := range info.Settings {
		values[setting.Key] = setting.Value
	}
	return values
}
