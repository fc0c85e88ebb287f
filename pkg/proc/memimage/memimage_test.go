package memimage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-delve/heapview/pkg/libcversion"
	"github.com/go-delve/heapview/pkg/proc"
)

func TestReadWrite(t *testing.T) {
	img := New(proc.AMD64Arch())
	img.Map(0x1000, 0x100, "[heap]")
	img.Map(0x3000, 0x10, "/lib/libc-2.31.so")

	img.WriteWord(0x1008, 0xdeadbeef)
	v, err := proc.ReadWord(img, img.Arch(), 0x1008)
	require.NoError(t, err)
	require.Equal(t, uint64(0xdeadbeef), v)

	_, err = proc.ReadWord(img, img.Arch(), 0x2000)
	require.True(t, errors.Is(err, proc.ErrUnreadableMemory))

	_, err = proc.ReadBytes(img, 0x10f8, 0x10)
	require.True(t, errors.Is(err, proc.ErrUnreadableMemory))

	ver, ok := img.LibcVersion()
	require.True(t, ok)
	require.Equal(t, libcversion.Version{Major: 2, Minor: 31}, ver)

	maps, err := img.MemoryMap()
	require.NoError(t, err)
	require.Len(t, maps, 2)
	require.Equal(t, uint64(0x1000), maps[0].Addr)
}

func TestParseDumpSpec(t *testing.T) {
	ds, err := ParseDumpSpec("heap.bin@0x555555559000:[heap]")
	require.NoError(t, err)
	require.Equal(t, DumpSpec{Path: "heap.bin", Addr: 0x555555559000, Name: "[heap]"}, ds)

	ds, err = ParseDumpSpec("libc.data@4096")
	require.NoError(t, err)
	require.Equal(t, DumpSpec{Path: "libc.data", Addr: 4096, Name: "libc.data"}, ds)

	_, err = ParseDumpSpec("nothing")
	require.Error(t, err)
	_, err = ParseDumpSpec("f@zz")
	require.Error(t, err)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "heap.bin")
	require.NoError(t, os.WriteFile(p, []byte{1, 2, 3, 4, 5, 6, 7, 8}, 0600))

	img, err := Load(proc.AMD64Arch(), []DumpSpec{{Path: p, Addr: 0x5000, Name: "[heap]"}})
	require.NoError(t, err)
	v, err := proc.ReadWord(img, img.Arch(), 0x5000)
	require.NoError(t, err)
	require.Equal(t, uint64(0x0807060504030201), v)

	_, err = Load(proc.AMD64Arch(), []DumpSpec{{Path: p, Addr: 0x5000}, {Path: p, Addr: 0x5004}})
	require.Error(t, err)
}
