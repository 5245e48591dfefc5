// Package version reports the cyclone build. The version is validated as a semantic version
// and can be injected at link time.
package version

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Build information that can be set at compile time via -ldflags
var (
	// Version is the semantic version of the application
	Version = "0.1.0"

	// GitCommit is the git commit hash when the binary was built
	GitCommit = "unknown"

	// BuildDate is the date when the binary was built
	BuildDate = "unknown"
)

// codenames names each minor release after a stronger wind
var codenames = map[string]string{
	"0.1.0": "Breeze",
	"0.2.0": "Gust",
	"0.3.0": "Squall",
	"0.4.0": "Gale",
	"0.5.0": "Tempest",
	"1.0.0": "Cyclone",
}

// Info describes the running build.
type Info struct {
	Version    string `json:"version" yaml:"version"`
	Codename   string `json:"codename,omitempty" yaml:"codename,omitempty"`
	GitCommit  string `json:"git_commit" yaml:"git_commit"`
	BuildDate  string `json:"build_date" yaml:"build_date"`
	GoVersion  string `json:"go_version" yaml:"go_version"`
	Platform   string `json:"platform" yaml:"platform"`
	Metadata   string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Prerelease bool   `json:"prerelease" yaml:"prerelease"`
}

// Codename returns the codename for version. Patch releases share their minor release's name.
func Codename(version string) string {
	if name, ok := codenames[version]; ok {
		return name
	}
	sv, err := semver.NewVersion(version)
	if err != nil {
		return ""
	}
	return codenames[fmt.Sprintf("%d.%d.0", sv.Major(), sv.Minor())]
}

// GetInfo returns the build information, or an error if Version is not a semantic version.
func GetInfo() (*Info, error) {
	sv, err := semver.NewVersion(Version)
	if err != nil {
		return nil, fmt.Errorf("invalid semantic version '%s': %w", Version, err)
	}

	return &Info{
		Version:    Version,
		Codename:   Codename(Version),
		GitCommit:  GitCommit,
		BuildDate:  BuildDate,
		GoVersion:  runtime.Version(),
		Platform:   fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		Metadata:   sv.Metadata(),
		Prerelease: sv.Prerelease() != "",
	}, nil
}

// GetFormattedVersion returns a one line description of the build.
func GetFormattedVersion() string {
	info, err := GetInfo()
	if err != nil {
		return fmt.Sprintf("cyclone v%s (invalid version)", Version)
	}

	var parts []string
	if info.Codename != "" {
		parts = append(parts, fmt.Sprintf("cyclone v%s '%s'", info.Version, info.Codename))
	} else {
		parts = append(parts, fmt.Sprintf("cyclone v%s", info.Version))
	}

	if !IsDevelopment() {
		shortCommit := info.GitCommit
		if len(shortCommit) > 7 {
			shortCommit = shortCommit[:7]
		}
		parts = append(parts, fmt.Sprintf("commit %s", shortCommit), fmt.Sprintf("built %s", info.BuildDate))
	}

	return strings.Join(parts, ", ")
}

// GetDetailedVersion returns multi-line build information.
func GetDetailedVersion() string {
	info, err := GetInfo()
	if err != nil {
		return fmt.Sprintf("cyclone v%s (error: %v)", Version, err)
	}

	lines := []string{
		GetFormattedVersion(),
		fmt.Sprintf("Git Commit: %s", info.GitCommit),
		fmt.Sprintf("Build Date: %s", info.BuildDate),
	}
	if info.Metadata != "" {
		lines = append(lines, fmt.Sprintf("Build Metadata: %s", info.Metadata))
	}
	lines = append(lines,
		fmt.Sprintf("Go Version: %s", info.GoVersion),
		fmt.Sprintf("Platform: %s", info.Platform),
	)
	return strings.Join(lines, "\n")
}

// IsDevelopment returns true if this appears to be a development build
func IsDevelopment() bool {
	return GitCommit == "unknown" || GitCommit == "" || BuildDate == "unknown" || BuildDate == ""
}

// CompareVersions compares two version strings and returns:
// -1 if v1 < v2, 0 if v1 == v2, 1 if v1 > v2
func CompareVersions(v1, v2 string) (int, error) {
	sv1, err := semver.NewVersion(v1)
	if err != nil {
		return 0, fmt.Errorf("invalid version v1 '%s': %w", v1, err)
	}

	sv2, err := semver.NewVersion(v2)
	if err != nil {
		return 0, fmt.Errorf("invalid version v2 '%s': %w", v2, err)
	}

	return sv1.Compare(sv2), nil
}

// SetBuildInfo sets build information (used for testing)
func SetBuildInfo(version, gitCommit, buildDate string) {
	Version = version
	GitCommit = gitCommit
	BuildDate = buildDate
}
