package glibc

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestBuildIndex(t *testing.T) {
	rec := &Reconstruction{
		Cache: []Entry{{Kind: CacheList, Slot: 1, Addr: 0x5300}},
		Fast:  []Entry{{Kind: FastList, Slot: 0, Addr: 0x5100}, {Kind: FastList, Slot: 0, Position: 1, Addr: 0x5200}},
		Bins:  []Entry{{Kind: BinList, Slot: 1, Addr: 0x5400}},
	}
	idx := BuildIndex(rec)
	require.Equal(t, 4, idx.Len())
	require.Equal(t, []uint64{0x5100, 0x5200, 0x5300, 0x5400}, idx.Addresses())
	l, ok := idx.Lookup(0x5200)
	require.True(t, ok)
	require.Equal(t, "fastlist[0/1]", l)
	_, ok = idx.Lookup(0x5210)
	require.False(t, ok)
	require.Empty(t, idx.Conflicts())

	// several reconstructions merge in order
	other := &Reconstruction{Fast: []Entry{{Kind: FastList, Slot: 2, Addr: 0x5300}}}
	idx = BuildIndex(rec, other)
	l, _ = idx.Lookup(0x5300)
	require.Equal(t, "fastlist[2/0]", l)
	require.Len(t, idx.Conflicts(), 1)
}

func TestNilIndex(t *testing.T) {
	var idx *Index
	_, ok := idx.Lookup(0x5000)
	require.False(t, ok)
	require.Zero(t, idx.Len())
	require.Empty(t, idx.Addresses())
	require.Empty(t, idx.Map())
}

func TestIndexCache(t *testing.T) {
	c, err := NewIndexCache(2)
	require.NoError(t, err)

	builds := 0
	build := func() (*Snapshot, error) {
		builds++
		return &Snapshot{Index: BuildIndex(&Reconstruction{})}, nil
	}

	s1, err := c.Get(0x5000, 0x7f0040, build)
	require.NoError(t, err)
	s2, err := c.Get(0x5000, 0x7f0040, build)
	require.NoError(t, err)
	require.Same(t, s1, s2)
	require.Equal(t, 1, builds)

	_, err = c.Get(0x5000, 0x7f8000, build)
	require.NoError(t, err)
	require.Equal(t, 2, builds)

	c.Invalidate()
	require.Equal(t, uint64(1), c.Stop())
	s3, err := c.Get(0x5000, 0x7f0040, build)
	require.NoError(t, err)
	require.NotSame(t, s1, s3)
	require.Equal(t, 3, builds)

	fail := errors.New("boom")
	_, err = c.Get(0x6000, 0x7f0040, func() (*Snapshot, error) { return nil, fail })
	require.ErrorIs(t, err, fail)
	_, err = c.Get(0x6000, 0x7f0040, build)
	require.NoError(t, err)
	require.Equal(t, 4, builds)
}
