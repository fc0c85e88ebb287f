package version

import (
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionString(t *testing.T) {
	v := Version{Major: "1", Minor: "2", Patch: "3", Metadata: "rc1", Build: "abcdef"}
	assert.Equal(t, "Version: 1.2.3-rc1\nBuild: abcdef", v.String())

	v.Metadata = ""
	assert.Equal(t, "Version: 1.2.3\nBuild: abcdef", v.String())
}

func TestFixBuildKeepsExplicitBuild(t *testing.T) {
	v := Version{Build: "0123456"}
	fixBuild(&v)
	assert.Equal(t, "0123456", v.Build)
}

func TestBuildInfo(t *testing.T) {
	assert.True(t, strings.HasPrefix(BuildInfo(), runtime.Version()))
}

func TestSemver(t *testing.T) {
	assert.Equal(t, "0.3.0", Version{Major: "0", Minor: "3", Patch: "0"}.Semver())
	assert.Equal(t, "1.0.0-beta", Version{Major: "1", Minor: "0", Patch: "0", Metadata: "beta"}.Semver())
}
