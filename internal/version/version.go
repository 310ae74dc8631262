// Package version reports the assetforge build, from -ldflags when set and
// from the module's embedded VCS settings otherwise.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string    `json:"version" yaml:"version"`
	GitCommit string    `json:"git_commit" yaml:"git_commit"`
	BuildTime time.Time `json:"build_time" yaml:"build_time"`
	GoVersion string    `json:"go_version" yaml:"go_version"`
	Platform  string    `json:"platform" yaml:"platform"`
	Dirty     bool      `json:"dirty,omitempty" yaml:"dirty,omitempty"`
}

// Set at build time with -ldflags "-X ...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// readSettings is replaced in tests.
var readSettings = func() map[string]string {
	settings := make(map[string]string)
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return settings
	}
	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		settings["main.version"] = info.Main.Version
	}
	for _, s := range info.Settings {
		settings[s.Key] = s.Value
	}
	return settings
}

// Info returns the full build information.
func Info() BuildInfo {
	settings := readSettings()
	return BuildInfo{
		Version:   resolveVersion(settings),
		GitCommit: resolveCommit(settings),
		BuildTime: parseTime(BuildTime),
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Dirty:     settings["vcs.modified"] == "true",
	}
}

func resolveVersion(settings map[string]string) string {
	if Version != "" && Version != "dev" {
		return Version
	}
	if v := settings["main.version"]; v != "" {
		return v
	}
	if rev := settings["vcs.revision"]; len(rev) >= 7 {
		return "dev-" + rev[:7]
	}
	return "dev"
}

func resolveCommit(settings map[string]string) string {
	if GitCommit != "" && GitCommit != "unknown" {
		return GitCommit
	}
	if rev := settings["vcs.revision"]; rev != "" {
		return rev
	}
	return "unknown"
}

// Short returns a one-word version such as "v1.2.0 (abc1234)".
func Short() string {
	info := Info()
	if info.GitCommit == "unknown" || len(info.GitCommit) < 7 {
		return info.Version
	}
	if strings.HasPrefix(info.Version, "dev") {
		return "dev-" + info.GitCommit[:7]
	}
	return fmt.Sprintf("%s (%s)", info.Version, info.GitCommit[:7])
}

// Detailed returns one "Key: value" line per known field.
func Detailed() string {
	info := Info()
	lines := []string{"Version: " + info.Version}
	if info.GitCommit != "unknown" {
		commit := info.GitCommit
		if info.Dirty {
			commit += " (dirty)"
		}
		lines = append(lines, "Commit: "+commit)
	}
	if !info.BuildTime.IsZero() {
		lines = append(lines, "Built: "+info.BuildTime.Format(time.RFC3339))
	}
	lines = append(lines, "Go: "+info.GoVersion, "Platform: "+info.Platform)
	return strings.Join(lines, "\n")
}

// IsRelease reports whether this binary was built from a tagged version.
func IsRelease() bool {
	v := Info().Version
	return v != "dev" && !strings.HasPrefix(v, "dev-")
}

func parseTime(s string) time.Time {
	if s == "" || s == "unknown" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
