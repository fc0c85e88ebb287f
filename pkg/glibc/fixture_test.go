package glibc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-delve/heapview/pkg/libcversion"
	"github.com/go-delve/heapview/pkg/proc"
	"github.com/go-delve/heapview/pkg/proc/memimage"
)

const (
	fixtureHeap     = 0x5000
	fixtureHeapSize = 0x1000
	fixtureLibc     = 0x7f0000
	fixtureArena    = fixtureLibc + 0x40
)

// heapFixture is a synthetic amd64 process with a heap mapping at 0x5000
// and a writable libc data mapping holding an initialized main arena.
type heapFixture struct {
	t      *testing.T
	img    *memimage.Image
	arch   *proc.Arch
	layout ArenaLayout
}

// newHeapFixture builds a fixture for the given glibc version; an empty
// version leaves it unknown.
func newHeapFixture(t *testing.T, version string) *heapFixture {
	arch := proc.AMD64Arch()
	img := memimage.New(arch)
	img.Map(fixtureHeap, fixtureHeapSize, "[heap]")
	libc := "/usr/lib/x86_64-linux-gnu/libc.so.6"
	if version != "" {
		libc = "/usr/lib/x86_64-linux-gnu/libc-" + version + ".so"
	}
	img.Map(fixtureLibc, 0x1000, libc)
	v, known := libcversion.Parse(version)
	f := &heapFixture{t: t, img: img, arch: arch, layout: LayoutFor(arch, v, known)}
	for i := 1; i <= LastBin; i++ {
		s := binSentinel(f.layout, fixtureArena, i)
		f.setBin(i, s, s)
	}
	return f
}

func (f *heapFixture) word(addr, v uint64) {
	f.img.WriteWord(addr, v)
}

func (f *heapFixture) readWord(addr uint64) uint64 {
	v, err := proc.ReadWord(f.img, f.arch, addr)
	require.NoError(f.t, err)
	return v
}

// chunk writes the size field of the chunk at base.
func (f *heapFixture) chunk(base, size uint64) {
	f.word(base+8, size)
}

func (f *heapFixture) setTop(top, size uint64) {
	f.chunk(top, size)
	f.word(fixtureArena+f.layout.State().Top, top)
}

func (f *heapFixture) setFastbin(i int, head uint64) {
	f.word(fixtureArena+f.layout.State().Fastbins+uint64(i)*8, head)
}

func (f *heapFixture) setBin(i int, fd, bk uint64) {
	off := fixtureArena + f.layout.State().Bins + uint64(i-1)*16
	f.word(off, fd)
	f.word(off+8, bk)
}

// setFd stores the forward pointer of a free chunk, mangled when the
// layout uses safe-linking.
func (f *heapFixture) setFd(chunk, next uint64) {
	pos := chunk + 16
	if f.layout.SafeLinking() {
		next = (pos >> 12) ^ next
	}
	f.word(pos, next)
}

func (f *heapFixture) arena() *Arena {
	a, err := ReadArena(f.img, f.layout, fixtureArena)
	require.NoError(f.t, err)
	return a
}

func (f *heapFixture) session() *Session {
	s, err := NewSession(f.img, Options{HeapBase: fixtureHeap, Arena: fixtureArena})
	require.NoError(f.t, err)
	return s
}

// twoChunkHeap lays out two in-use 0x20 byte chunks at 0x5000 and 0x5020
// followed by the top chunk.
func twoChunkHeap(t *testing.T) *heapFixture {
	f := newHeapFixture(t, "2.26")
	f.chunk(0x5000, 0x21)
	f.chunk(0x5020, 0x21)
	f.setTop(0x5040, 0xfc1)
	return f
}
