package glibc

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestReportTwoChunks(t *testing.T) {
	f := twoChunkHeap(t)
	rep, err := f.session().Report()
	require.NoError(t, err)
	require.Empty(t, rep.Warnings)

	require.Len(t, rep.Chunks, 2)
	for i, g := range rep.Chunks {
		base := uint64(fixtureHeap + 0x20*i)
		require.Equal(t, i, g.Index)
		require.Equal(t, base, g.Chunk.Base)
		require.Len(t, g.Words, 4)
		for j, w := range g.Words {
			require.Equal(t, base+uint64(8*j), w.Addr)
			require.Empty(t, w.Known)
			require.Empty(t, w.Target)
		}
		require.Equal(t, uint64(0x21), g.Words[1].Value)
	}

	require.NotNil(t, rep.Top)
	require.Equal(t, uint64(0x5040), rep.Top.Chunk.Base)
	require.Equal(t, uint64(0x5048), rep.Top.SizeField.Addr)
	require.Equal(t, uint64(0xfc1), rep.Top.SizeField.Value)
	require.Equal(t, uint64(0x5050), rep.Top.FirstWord.Addr)
}

func TestReportFastListEntry(t *testing.T) {
	f := twoChunkHeap(t)
	f.setFastbin(0, 0x5020)
	f.setFd(0x5020, 0)
	s := f.session()

	rec, err := s.Reconstruct()
	require.NoError(t, err)
	require.Equal(t, map[uint64]string{0x5030: "fastlist[0/0]"}, labels(rec))

	again, err := s.Reconstruct()
	require.NoError(t, err)
	require.Same(t, rec, again)

	report, err := s.Report()
	require.NoError(t, err)
	var known []WordRecord
	for _, g := range report.Chunks {
		for _, w := range g.Words {
			if w.Known != "" {
				known = append(known, w)
			}
		}
	}
	require.Len(t, known, 1)
	require.Equal(t, uint64(0x5030), known[0].Addr)
	require.Equal(t, "fastlist[0/0]", known[0].Known)
}

func TestReportAnnotations(t *testing.T) {
	f := twoChunkHeap(t)
	f.setFastbin(0, 0x5020)
	f.setFd(0x5020, 0)
	f.word(0x5010, 0x5030)
	f.word(0x5018, fixtureLibc+8)
	f.img.WriteBytes(0x5038, []byte("ABCDEFG\x00"))

	rep, err := f.session().Report()
	require.NoError(t, err)
	w := rep.Chunks[0].Words[2]
	require.Equal(t, "fastlist[0/0]", w.Target)
	require.Equal(t, "[heap]", w.Region.Name)
	w = rep.Chunks[0].Words[3]
	require.Equal(t, "libc-2.26.so", w.Region.Name)
	require.Empty(t, w.Target)
	require.Equal(t, "ABCDEFG.", rep.Chunks[1].Words[3].ASCII)
	require.Equal(t, "!.......", rep.Chunks[1].Words[1].ASCII)
	require.False(t, rep.Chunks[1].Words[0].Region.Mapped())
}

func TestReportTruncated(t *testing.T) {
	f := twoChunkHeap(t)
	f.chunk(0x5020, 0)

	rep, err := f.session().Report()
	require.Error(t, err)
	require.NotNil(t, rep)
	require.True(t, errors.Is(err, ErrCorruptedHeap))
	require.True(t, errors.Is(err, ErrInvalidChunkSize))
	require.Equal(t, err, rep.Err)
	require.Len(t, rep.Chunks, 1)
	require.Nil(t, rep.Top)
}

func TestSessionInvalidate(t *testing.T) {
	f := twoChunkHeap(t)
	s := f.session()
	before, err := s.KnownValues()
	require.NoError(t, err)
	require.Zero(t, before.Len())

	f.chunk(0x5020, 0x21)
	f.setFastbin(0, 0x5020)
	f.setFd(0x5020, 0)
	stale, err := s.KnownValues()
	require.NoError(t, err)
	require.Same(t, before, stale)

	s.Invalidate()
	after, err := s.KnownValues()
	require.NoError(t, err)
	require.Equal(t, 1, after.Len())
}

func TestSessionVersion(t *testing.T) {
	t.Run("unknown", func(t *testing.T) {
		f := newHeapFixture(t, "")
		f.setTop(0x5000, 0x1001)
		rec, err := f.session().Reconstruct()
		require.NoError(t, err)
		require.Len(t, rec.Warnings, 1)
		require.True(t, errors.Is(rec.Warnings[0], ErrUnsupportedAllocatorVersion))
	})

	t.Run("override", func(t *testing.T) {
		f := newHeapFixture(t, "2.26")
		s, err := NewSession(f.img, Options{HeapBase: fixtureHeap, Arena: fixtureArena, LibcVersion: "2.35"})
		require.NoError(t, err)
		_, ok := s.Layout().Cache()
		require.True(t, ok)

		_, err = NewSession(f.img, Options{HeapBase: fixtureHeap, Arena: fixtureArena, LibcVersion: "glibc"})
		require.Error(t, err)
	})

	t.Run("cache", func(t *testing.T) {
		f := cacheFixture(t, "2.31")
		f.setTop(0x5290, 0xd71)
		rec, err := f.session().Reconstruct()
		require.NoError(t, err)
		require.Empty(t, rec.Warnings)
		require.Equal(t, map[uint64]string{0x52a0: "cache[0/0]", 0x52c0: "cache[0/1]"}, labels(rec))
	})
}

func TestSessionDiscovery(t *testing.T) {
	f := twoChunkHeap(t)
	s, err := NewSession(f.img, Options{})
	require.NoError(t, err)
	require.Equal(t, uint64(fixtureHeap), s.HeapBase())
	require.Equal(t, uint64(fixtureArena), s.ArenaAddr())

	_, err = NewSession(f.img, Options{HeapBase: 0x9000})
	require.Error(t, err)
}
