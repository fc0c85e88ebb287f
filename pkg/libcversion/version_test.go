package libcversion

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Version
		ok   bool
	}{
		{"2.35", Version{2, 35}, true},
		{"2.31-0ubuntu9.9", Version{2, 31}, true},
		{"2.17.1", Version{2, 17}, true},
		{" 2.27 ", Version{2, 27}, true},
		{"2", Version{}, false},
		{"two.three", Version{}, false},
		{"", Version{}, false},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, ok := Parse(tc.in)
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestFromPath(t *testing.T) {
	v, ok := FromPath("/lib/x86_64-linux-gnu/libc-2.31.so")
	require.True(t, ok)
	require.Equal(t, Version{2, 31}, v)

	_, ok = FromPath("/lib/x86_64-linux-gnu/libc.so.6")
	require.False(t, ok)
	require.True(t, IsLibc("/lib/x86_64-linux-gnu/libc.so.6"))
	require.True(t, IsLibc("/lib/libc-2.27.so"))
	require.False(t, IsLibc("/lib/libcrypt.so.1"))
}

func TestFromBanner(t *testing.T) {
	banner := []byte("\x00GNU C Library (Ubuntu GLIBC 2.35-0ubuntu3.1) stable release version 2.35.\nCopyright")
	v, ok := FromBanner(banner)
	require.True(t, ok)
	require.Equal(t, Version{2, 35}, v)

	_, ok = FromBanner([]byte("nothing here"))
	require.False(t, ok)
}

func TestAfterOrEqual(t *testing.T) {
	require.True(t, Version{2, 35}.AfterOrEqual(SafeLinking))
	require.True(t, Version{2, 27}.AfterOrEqual(TcacheIntroduced))
	require.False(t, Version{2, 26}.AfterOrEqual(TcacheIntroduced))
	require.True(t, Version{3, 0}.AfterOrEqual(Version{2, 99}))
	require.True(t, Version{2, 29}.Before(TcacheCounts16))
	require.Equal(t, "2.31", Version{2, 31}.String())
}
