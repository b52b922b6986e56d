// Package version resolves the routeguard build version.
package version

import (
	"runtime/debug"
	"strings"
)

// Set at build time, e.g.
//
//	-ldflags "-X github.com/tis24dev/routeguard/internal/version.Version=v1.4.0"
var (
	Version = ""
	Commit  = ""
)

const placeholder = "0.0.0-dev"

var readBuildInfo = debug.ReadBuildInfo

// String returns the injected version, else the main module version from
// the build info, else a development placeholder. A leading "v" is dropped.
func String() string {
	v := strings.TrimSpace(Version)
	if v == "" {
		if info, ok := readBuildInfo(); ok && info != nil {
			if mv := strings.TrimSpace(info.Main.Version); mv != "" && mv != "(devel)" {
				v = mv
			}
		}
	}
	if v == "" {
		v = placeholder
	}
	return strings.TrimPrefix(v, "v")
}

// Revision returns the short VCS revision: the injected Commit, else the
// vcs.revision build setting, else "".
func Revision() string {
	rev := strings.TrimSpace(Commit)
	if rev == "" {
		if info, ok := readBuildInfo(); ok && info != nil {
			for _, s := range info.Settings {
				if s.Key == "vcs.revision" {
					rev = s.Value
					break
				}
			}
		}
	}
	if len(rev) > 7 {
		rev = rev[:7]
	}
	return rev
}

// Full is String plus the revision when one is known, as recorded in run
// journals and metrics.
func Full() string {
	if rev := Revision(); rev != "" {
		return String() + "+" + rev
	}
	return String()
}
