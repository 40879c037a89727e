// Package version reports which quasar build is running. The value feeds the
// HTTP Server header, the startup log line and `quasar version`.
package version

import (
	"fmt"
	"runtime/debug"
	"strings"
	"time"
)

const (
	defaultModule = "pkt.systems/quasar"
	productName   = "quasar"
	unknown       = "v0.0.0-unknown"
	dirtySuffix   = "+dirty"
)

// buildVersion is stamped by release builds:
//
//	go build -ldflags "-X pkt.systems/quasar/internal/version.buildVersion=v1.4.0" ./cmd/quasar
var buildVersion = ""

// Build describes the running binary.
type Build struct {
	Module    string
	Version   string
	Revision  string
	Modified  bool
	GoVersion string
}

// Read collects build metadata. A stamped buildVersion wins over the module
// version, which wins over a pseudo version derived from vcs settings.
func Read() Build {
	info, _ := debug.ReadBuildInfo()
	return fromBuildInfo(info, buildVersion)
}

// String renders the build the way `quasar version` prints it.
func (b Build) String() string {
	out := b.Module + " " + b.Version
	var extra []string
	if b.Revision != "" {
		extra = append(extra, "rev "+shortRevision(b.Revision))
	}
	if b.GoVersion != "" {
		extra = append(extra, b.GoVersion)
	}
	if len(extra) > 0 {
		out += fmt.Sprintf(" (%s)", strings.Join(extra, ", "))
	}
	return out
}

// Clean returns the version without the dirty marker.
func (b Build) Clean() string {
	return strings.TrimSuffix(b.Version, dirtySuffix)
}

// Current returns the version without the dirty marker.
func Current() string { return Read().Clean() }

// CurrentWithDirty keeps the dirty marker of builds from a modified tree.
func CurrentWithDirty() string { return Read().Version }

// Product is the Server header token, e.g. quasar/v1.4.0.
func Product() string {
	return productName + "/" + Current()
}

// Module returns the main module path.
func Module() string { return Read().Module }

func fromBuildInfo(info *debug.BuildInfo, stamped string) Build {
	b := Build{Module: defaultModule, Version: unknown}
	if info != nil {
		if path := strings.TrimSpace(info.Main.Path); path != "" {
			b.Module = path
		}
		b.GoVersion = info.GoVersion
		b.Revision, b.Modified = vcsState(info)
	}
	switch {
	case strings.TrimSpace(stamped) != "":
		b.Version = strings.TrimSpace(stamped)
	case info != nil && info.Main.Version != "" && info.Main.Version != "(devel)":
		b.Version = strings.TrimSpace(info.Main.Version)
	default:
		if pseudo := pseudoVersion(info); pseudo != "" {
			b.Version = pseudo
		}
	}
	return b
}

func vcsState(info *debug.BuildInfo) (revision string, modified bool) {
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			modified = setting.Value == "true"
		}
	}
	return revision, modified
}

// pseudoVersion mirrors the go command's v0.0.0-<time>-<rev> form for
// unreleased builds, adding +dirty for a modified tree.
func pseudoVersion(info *debug.BuildInfo) string {
	if info == nil {
		return ""
	}
	revision, modified := vcsState(info)
	var stamp string
	for _, setting := range info.Settings {
		if setting.Key == "vcs.time" {
			stamp = setting.Value
		}
	}
	if revision == "" || stamp == "" {
		return ""
	}
	at, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		return ""
	}
	v := "v0.0.0-" + at.UTC().Format("20060102150405") + "-" + shortRevision(revision)
	if modified {
		v += dirtySuffix
	}
	return v
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
