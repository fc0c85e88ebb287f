package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Version represents the current version of heapview.
type Version struct {
	Major    string
	Minor    string
	Patch    string
	Metadata string
	Build    string
}

// HeapviewVersion is the current version of heapview.
var HeapviewVersion = Version{
	Major: "0", Minor: "3", Patch: "0", Metadata: "",
	Build: "$Id$",
}

// Semver returns the version without build information.
func (v Version) Semver() string {
	s := v.Major + "." + v.Minor + "." + v.Patch
	if v.Metadata != "" {
		s += "-" + v.Metadata
	}
	return s
}

func (v Version) String() string {
	fixBuild(&v)
	return fmt.Sprintf("Version: %s\nBuild: %s", v.Semver(), v.Build)
}

var buildInfo = func() string {
	return ""
}

// BuildInfo returns the Go version and the module dependencies of the binary.
func BuildInfo() string {
	return fmt.Sprintf("%s\n%s", runtime.Version(), buildInfo())
}

// revisionKeys are the build settings holding the VCS revision, newest first.
var revisionKeys = []string{"vcs.revision", "gitrevision"}

// fixBuild replaces an unexpanded $Id$ keyword with the VCS revision
// recorded by the go command.
func fixBuild(v *Version) {
	if !strings.HasPrefix(v.Build, "$Id$") {
		return
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, key := range revisionKeys {
		for _, setting := range info.Settings {
			if setting.Key == key {
				v.Build = setting.Value
				return
			}
		}
	}
}
