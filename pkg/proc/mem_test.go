package proc

import (
	"encoding/binary"
	"fmt"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

var (
	littleEndian binary.ByteOrder = binary.LittleEndian
	bigEndian    binary.ByteOrder = binary.BigEndian
)

type countingReader struct {
	base  uint64
	data  []byte
	reads int
}

func (r *countingReader) ReadMemory(buf []byte, addr uint64) (int, error) {
	r.reads++
	if addr < r.base || addr+uint64(len(buf)) > r.base+uint64(len(r.data)) {
		return 0, fmt.Errorf("out of range %#x", addr)
	}
	return copy(buf, r.data[addr-r.base:]), nil
}

func TestReadWordByteOrder(t *testing.T) {
	mem := &countingReader{base: 0x100, data: []byte{1, 0, 0, 0, 0, 0, 0, 0}}

	v, err := ReadWord(mem, AMD64Arch(), 0x100)
	require.NoError(t, err)
	require.Equal(t, uint64(1), v)

	big, err := ArchFor(4, bigEndian)
	require.NoError(t, err)
	v, err = ReadWord(mem, big, 0x100)
	require.NoError(t, err)
	require.Equal(t, uint64(0x01000000), v)

	_, err = ReadWord(mem, AMD64Arch(), 0x104)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrUnreadableMemory))
	var uerr *UnreadableError
	require.True(t, errors.As(err, &uerr))
	require.Equal(t, uint64(0x104), uerr.Addr)
}

func TestReadUint(t *testing.T) {
	mem := &countingReader{base: 0, data: []byte{0x34, 0x12, 0x78, 0x56}}
	arch := AMD64Arch()
	v, err := ReadUint(mem, arch, 0, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(0x34), v)
	v, err = ReadUint(mem, arch, 0, 2)
	require.NoError(t, err)
	require.Equal(t, uint64(0x1234), v)
	v, err = ReadUint(mem, arch, 0, 4)
	require.NoError(t, err)
	require.Equal(t, uint64(0x56781234), v)
}

func TestCacheMemory(t *testing.T) {
	data := make([]byte, 64)
	for i := range data {
		data[i] = byte(i)
	}
	mem := &countingReader{base: 0x1000, data: data}

	cached := CacheMemory(mem, 0x1000, 32)
	require.Equal(t, 1, mem.reads)

	buf := make([]byte, 8)
	for off := uint64(0); off < 32; off += 8 {
		_, err := cached.ReadMemory(buf, 0x1000+off)
		require.NoError(t, err)
		require.Equal(t, byte(off), buf[0])
	}
	require.Equal(t, 1, mem.reads)

	// outside the cached range the reader falls through
	_, err := cached.ReadMemory(buf, 0x1020)
	require.NoError(t, err)
	require.Equal(t, 2, mem.reads)

	// a failing bulk read returns the original reader
	require.Same(t, mem, CacheMemory(mem, 0x2000, 8).(*countingReader))
}

func TestArchFor(t *testing.T) {
	a, err := ArchFor(8, littleEndian)
	require.NoError(t, err)
	require.Equal(t, "amd64", a.Name)
	require.Equal(t, uint64(0x1000), a.AlignDown(0x1007))

	_, err = ArchFor(2, littleEndian)
	require.Error(t, err)
}

func TestParseMaps(t *testing.T) {
	const maps = `555555554000-555555556000 r--p 00000000 08:01 1048602                    /usr/bin/cat
555555559000-55555557a000 rw-p 00000000 00:00 0                          [heap]
7ffff7d80000-7ffff7da8000 r--p 00000000 08:01 1054236                    /usr/lib/x86_64-linux-gnu/libc.so.6
7ffff7f9e000-7ffff7fa0000 rw-p 0021b000 08:01 1054236                    /usr/lib/x86_64-linux-gnu/libc.so.6
7ffff7fa0000-7ffff7fad000 rw-p 00000000 00:00 0 
7ffffffde000-7ffffffff000 rw-p 00000000 00:00 0                          [stack]
`
	ents, err := ParseMaps(strings.NewReader(maps))
	require.NoError(t, err)
	require.Len(t, ents, 6)

	require.Equal(t, uint64(0x555555559000), ents[1].Addr)
	require.Equal(t, uint64(0x21000), ents[1].Size)
	require.Equal(t, "[heap]", ents[1].Label())
	require.Equal(t, "rw-", ents[1].Perms())
	require.True(t, ents[1].IsSpecial())

	require.Equal(t, "libc.so.6", ents[3].Label())
	require.Equal(t, uint64(0x21b000), ents[3].Offset)
	require.Equal(t, "[anonymous]", ents[4].Label())
	require.True(t, ents[0].Contains(0x555555555fff))
	require.False(t, ents[0].Contains(0x555555556000))

	_, err = ParseMaps(strings.NewReader("zz-10 r--p 0 00:00 0\n"))
	require.Error(t, err)
}
