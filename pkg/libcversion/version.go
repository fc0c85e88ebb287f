// Package libcversion describes the version of the GNU C library loaded by a
// target and the allocator features that depend on it.
package libcversion

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Version represents the version of glibc
// mapped into the target process.
type Version struct {
	Major int
	Minor int
}

var (
	// TcacheIntroduced is the first version whose per-thread cache is
	// walked.
	TcacheIntroduced = Version{2, 27}
	// TcacheKey is the first version whose cache entries carry a key
	// field pointing back to the cache control block.
	TcacheKey = Version{2, 29}
	// TcacheCounts16 is the first version storing cache counts as
	// 16-bit integers instead of bytes.
	TcacheCounts16 = Version{2, 30}
	// SafeLinking is the first version mangling the next pointers of
	// singly linked free lists.
	SafeLinking = Version{2, 32}
	// TcacheRandomKey is the first version where the cache entry key
	// is a random cookie rather than a pointer to the control block.
	TcacheRandomKey = Version{2, 34}
)

// Parse parses a version string of the form "2.35", optionally followed by
// a patch number or a distribution suffix ("2.31-0ubuntu9").
func Parse(ver string) (Version, bool) {
	ver = strings.TrimSpace(ver)
	if i := strings.IndexAny(ver, "-+ "); i >= 0 {
		ver = ver[:i]
	}
	v := strings.SplitN(ver, ".", 3)
	if len(v) < 2 {
		return Version{}, false
	}
	major, err1 := strconv.Atoi(v[0])
	minor, err2 := strconv.Atoi(v[1])
	if err1 != nil || err2 != nil || major <= 0 || minor < 0 {
		return Version{}, false
	}
	return Version{major, minor}, true
}

var pathRe = regexp.MustCompile(`^libc(?:-|\.so\.6-)?(\d+\.\d+)(?:\.so)?$`)

// FromPath extracts the version from the file name of a mapped C library,
// for example "/lib/x86_64-linux-gnu/libc-2.31.so". Modern distributions
// map "libc.so.6" without a version in its name; ok is false in that case.
func FromPath(path string) (Version, bool) {
	m := pathRe.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return Version{}, false
	}
	return Parse(m[1])
}

var bannerRe = regexp.MustCompile(`GNU C Library [^\n]*? version (\d+\.\d+)`)

// FromBanner extracts the version from the banner string embedded in every
// libc image ("GNU C Library (Ubuntu GLIBC 2.35-0ubuntu3) stable release
// version 2.35.").
func FromBanner(banner []byte) (Version, bool) {
	m := bannerRe.FindSubmatch(banner)
	if m == nil {
		return Version{}, false
	}
	return Parse(string(m[1]))
}

// IsLibc reports whether path names a C library image.
func IsLibc(path string) bool {
	base := filepath.Base(path)
	return base == "libc.so.6" || pathRe.MatchString(base)
}

// AfterOrEqual returns whether one Version is after or
// equal to the other.
func (v Version) AfterOrEqual(b Version) bool {
	if v.Major != b.Major {
		return v.Major > b.Major
	}
	return v.Minor >= b.Minor
}

// Before returns whether v precedes b.
func (v Version) Before(b Version) bool {
	return !v.AfterOrEqual(b)
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}
