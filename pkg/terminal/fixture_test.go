package terminal

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-delve/heapview/pkg/config"
	"github.com/go-delve/heapview/pkg/glibc"
	"github.com/go-delve/heapview/pkg/libcversion"
	"github.com/go-delve/heapview/pkg/proc"
	"github.com/go-delve/heapview/pkg/proc/memimage"
)

const (
	testHeap  = 0x5000
	testLibc  = 0x7f0000
	testArena = testLibc + 0x40
	libcPath  = "/usr/lib/x86_64-linux-gnu/libc-2.26.so"
)

// testHeapImage is an amd64 process image with a glibc 2.26 main arena
// in a libc data mapping and a one page heap at 0x5000.
type testHeapImage struct {
	t     *testing.T
	img   *memimage.Image
	state *glibc.StateLayout
}

func newTestHeap(t *testing.T) *testHeapImage {
	arch := proc.AMD64Arch()
	img := memimage.New(arch)
	img.Map(testHeap, 0x1000, "[heap]")
	img.Map(testLibc, 0x1000, libcPath)
	v, known := libcversion.Parse("2.26")
	h := &testHeapImage{t: t, img: img, state: glibc.LayoutFor(arch, v, known).State()}
	for i := 1; i <= glibc.LastBin; i++ {
		fd := testArena + h.state.Bins + uint64(i-1)*16
		img.WriteWord(fd, fd-16)
		img.WriteWord(fd+8, fd-16)
	}
	return h
}

func (h *testHeapImage) chunk(base, size uint64) {
	h.img.WriteWord(base+8, size)
}

func (h *testHeapImage) top(base, size uint64) {
	h.chunk(base, size)
	h.img.WriteWord(testArena+h.state.Top, base)
}

func (h *testHeapImage) fastbin(i int, head uint64) {
	h.img.WriteWord(testArena+h.state.Fastbins+uint64(i)*8, head)
}

// twoChunks lays out two 0x20 byte chunks, the second one on fast list 0,
// followed by the top chunk. The first chunk holds a pointer into libc
// and a pointer to the free payload.
func twoChunks(t *testing.T) *testHeapImage {
	h := newTestHeap(t)
	h.chunk(0x5000, 0x21)
	h.chunk(0x5020, 0x21)
	h.top(0x5040, 0xfc1)
	h.fastbin(0, 0x5020)
	h.img.WriteWord(0x5010, testLibc+0x100)
	h.img.WriteWord(0x5018, 0x5030)
	h.img.WriteWord(0x5058, testLibc+8)
	return h
}

// zeroChunk lays out one 0x60 byte chunk whose payload is all zeros.
func zeroChunk(t *testing.T) *testHeapImage {
	h := newTestHeap(t)
	h.chunk(0x5000, 0x61)
	h.top(0x5060, 0xfa1)
	return h
}

func (h *testHeapImage) term(conf *config.Config) (*Term, *bytes.Buffer) {
	s, err := glibc.NewSession(h.img, glibc.Options{HeapBase: testHeap, Arena: testArena})
	require.NoError(h.t, err)
	var buf bytes.Buffer
	term, err := New(s, conf, Options{Color: ColorNever, Stdout: &buf})
	require.NoError(h.t, err)
	h.t.Cleanup(term.Close)
	return term, &buf
}

// mustExec runs cmdstr and returns its output.
func mustExec(t *testing.T, term *Term, buf *bytes.Buffer, cmdstr string) string {
	t.Helper()
	buf.Reset()
	require.NoError(t, term.RunCommands([]string{cmdstr}))
	return buf.String()
}
