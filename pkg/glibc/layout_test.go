package glibc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-delve/heapview/pkg/libcversion"
	"github.com/go-delve/heapview/pkg/proc"
)

func TestLayoutFor(t *testing.T) {
	for _, tc := range []struct {
		arch        *proc.Arch
		version     string
		cache       bool
		cacheSize   uint64
		keyCheck    bool
		safeLinking bool
		top         uint64
		bins        uint64
	}{
		{proc.AMD64Arch(), "", false, 0, false, false, 0x58, 0x68},
		{proc.AMD64Arch(), "2.23", false, 0, false, false, 0x58, 0x68},
		{proc.AMD64Arch(), "2.27", true, 0x240, false, false, 0x60, 0x70},
		{proc.AMD64Arch(), "2.29", true, 0x240, true, false, 0x60, 0x70},
		{proc.AMD64Arch(), "2.31", true, 0x280, true, false, 0x60, 0x70},
		{proc.AMD64Arch(), "2.32", true, 0x280, true, true, 0x60, 0x70},
		{proc.AMD64Arch(), "2.35", true, 0x280, false, true, 0x60, 0x70},
		{proc.I386Arch(), "2.23", false, 0, false, false, 0x30, 0x38},
		{proc.I386Arch(), "2.31", true, 0x180, true, false, 0x34, 0x3c},
	} {
		t.Run(tc.arch.Name+"/"+tc.version, func(t *testing.T) {
			v, known := libcversion.Parse(tc.version)
			l := LayoutFor(tc.arch, v, known)
			cl, ok := l.Cache()
			require.Equal(t, tc.cache, ok)
			if ok {
				require.Equal(t, tc.cacheSize, cl.Size)
				require.Equal(t, tc.keyCheck, cl.KeyCheck)
			}
			require.Equal(t, tc.safeLinking, l.SafeLinking())
			require.Equal(t, tc.top, l.State().Top)
			require.Equal(t, tc.bins, l.State().Bins)
			gotV, gotKnown := l.Version()
			require.Equal(t, known, gotKnown)
			require.Equal(t, v, gotV)
		})
	}
}

func TestBinSentinel(t *testing.T) {
	l := LayoutFor(proc.AMD64Arch(), libcversion.Version{Major: 2, Minor: 35}, true)
	// the fd field of the sentinel of bin 1 is bins[0]
	require.Equal(t, uint64(0x1000+0x70-0x10), binSentinel(l, 0x1000, 1))
	require.Equal(t, uint64(0x1000+0x70), binSentinel(l, 0x1000, 2))
	require.Equal(t, "unsorted", BinName(1))
	require.Equal(t, "small", BinName(63))
	require.Equal(t, "large", BinName(64))
	require.Equal(t, "invalid", BinName(127))
}

func TestSizeClasses(t *testing.T) {
	amd64, i386 := proc.AMD64Arch(), proc.I386Arch()
	require.Equal(t, uint64(0x20), CacheSlotSize(amd64, 0))
	require.Equal(t, uint64(0x410), CacheSlotSize(amd64, 63))
	require.Equal(t, uint64(0x10), CacheSlotSize(i386, 0))
	require.Equal(t, 0, FastbinIndex(amd64, 0x20))
	require.Equal(t, 6, FastbinIndex(amd64, 0x80))
	require.Equal(t, 0, FastbinIndex(i386, 0x10))
	require.Equal(t, 1, FastbinIndex(i386, 0x18))
}

func TestReveal(t *testing.T) {
	pos := uint64(0x55555555a2a0)
	ptr := uint64(0x55555555a2c0)
	require.Equal(t, ptr, reveal(pos, (pos>>12)^ptr))
	require.Equal(t, uint64(0), reveal(pos, pos>>12))
}
