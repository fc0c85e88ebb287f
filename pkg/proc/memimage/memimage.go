// Package memimage implements a proc.Target over a set of byte slices
// placed at fixed addresses. It backs the raw dump loader and the
// synthetic heaps used by tests.
package memimage

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/go-delve/heapview/pkg/libcversion"
	"github.com/go-delve/heapview/pkg/logflags"
	"github.com/go-delve/heapview/pkg/proc"
)

type segment struct {
	entry proc.MemoryMapEntry
	data  []byte
}

// Image is a sparse address space.
type Image struct {
	arch     *proc.Arch
	segments []*segment
	version  libcversion.Version
	versOK   bool
}

var _ proc.Target = &Image{}

// New returns an empty image for arch.
func New(arch *proc.Arch) *Image {
	return &Image{arch: arch}
}

// SetLibcVersion sets the allocator version reported by the image.
func (img *Image) SetLibcVersion(v libcversion.Version) {
	img.version = v
	img.versOK = true
}

// Map adds a zero-filled, readable and writable mapping of size bytes at
// addr and returns its backing slice. Mappings must not overlap.
func (img *Image) Map(addr, size uint64, name string) []byte {
	data := make([]byte, size)
	img.Add(proc.MemoryMapEntry{Addr: addr, Size: size, Read: true, Write: true, Filename: name}, data)
	return data
}

// Add adds a mapping described by entry and backed by data. If data is
// shorter than entry.Size the rest of the mapping is unreadable, the way a
// truncated dump would be.
func (img *Image) Add(entry proc.MemoryMapEntry, data []byte) {
	i := slices.IndexFunc(img.segments, func(s *segment) bool { return s.entry.Addr > entry.Addr })
	if i < 0 {
		i = len(img.segments)
	}
	img.segments = slices.Insert(img.segments, i, &segment{entry: entry, data: data})
}

func (img *Image) find(addr uint64) *segment {
	i := slices.IndexFunc(img.segments, func(s *segment) bool { return s.entry.End() > addr })
	if i >= 0 && img.segments[i].entry.Contains(addr) {
		return img.segments[i]
	}
	return nil
}

// ReadMemory implements proc.MemoryReader. Reads may not cross the end
// of a mapping.
func (img *Image) ReadMemory(buf []byte, addr uint64) (int, error) {
	seg := img.find(addr)
	if seg == nil {
		return 0, fmt.Errorf("address %#x is not mapped", addr)
	}
	off := addr - seg.entry.Addr
	if off >= uint64(len(seg.data)) {
		return 0, fmt.Errorf("address %#x is not backed by data", addr)
	}
	n := copy(buf, seg.data[off:])
	if n < len(buf) {
		return n, fmt.Errorf("read of %d bytes at %#x crosses the end of the mapping", len(buf), addr)
	}
	return n, nil
}

// WriteWord stores v as one machine word at addr.
func (img *Image) WriteWord(addr, v uint64) {
	seg := img.find(addr)
	if seg == nil {
		panic(fmt.Sprintf("address %#x is not mapped", addr))
	}
	img.arch.PutUint(seg.data[addr-seg.entry.Addr:], v)
}

// WriteBytes copies b at addr.
func (img *Image) WriteBytes(addr uint64, b []byte) {
	seg := img.find(addr)
	if seg == nil {
		panic(fmt.Sprintf("address %#x is not mapped", addr))
	}
	copy(seg.data[addr-seg.entry.Addr:], b)
}

// Memory implements proc.Target.
func (img *Image) Memory() proc.MemoryReader { return img }

// MemoryMap implements proc.Target.
func (img *Image) MemoryMap() ([]proc.MemoryMapEntry, error) {
	r := make([]proc.MemoryMapEntry, 0, len(img.segments))
	for _, seg := range img.segments {
		r = append(r, seg.entry)
	}
	return r, nil
}

// Arch implements proc.Target.
func (img *Image) Arch() *proc.Arch { return img.arch }

// LibcVersion implements proc.Target.
func (img *Image) LibcVersion() (libcversion.Version, bool) {
	if img.versOK {
		return img.version, true
	}
	maps, _ := img.MemoryMap()
	return proc.DetectLibcVersion(img, maps)
}

// Close implements proc.Target.
func (img *Image) Close() error { return nil }

// DumpSpec describes one raw dump file to load: its path, the address it
// was dumped from and an optional mapping name.
type DumpSpec struct {
	Path string
	Addr uint64
	Name string
}

// ParseDumpSpec parses "path@address[:name]", e.g.
// "heap.bin@0x555555559000:[heap]".
func ParseDumpSpec(s string) (DumpSpec, error) {
	at := strings.LastIndex(s, "@")
	if at <= 0 {
		return DumpSpec{}, fmt.Errorf("malformed dump %q: expected path@address[:name]", s)
	}
	ds := DumpSpec{Path: s[:at]}
	rest := s[at+1:]
	if colon := strings.Index(rest, ":"); colon >= 0 {
		ds.Name = rest[colon+1:]
		rest = rest[:colon]
	}
	addr, err := strconv.ParseUint(rest, 0, 64)
	if err != nil {
		return DumpSpec{}, fmt.Errorf("malformed dump %q: %v", s, err)
	}
	ds.Addr = addr
	if ds.Name == "" {
		ds.Name = ds.Path
	}
	return ds, nil
}

// Load builds an image out of raw memory dumps, such as the ones written
// by gdb's "dump memory" command.
func Load(arch *proc.Arch, dumps []DumpSpec) (*Image, error) {
	logger := logflags.TargetLogger()
	img := New(arch)
	for _, d := range dumps {
		data, err := os.ReadFile(d.Path)
		if err != nil {
			return nil, err
		}
		for _, seg := range img.segments {
			if d.Addr < seg.entry.End() && seg.entry.Addr < d.Addr+uint64(len(data)) {
				return nil, fmt.Errorf("dump %s at %#x overlaps %s", d.Path, d.Addr, seg.entry.Filename)
			}
		}
		logger.Debugf("loaded %s at %#x (%d bytes)", d.Path, d.Addr, len(data))
		img.Add(proc.MemoryMapEntry{Addr: d.Addr, Size: uint64(len(data)), Read: true, Write: true, Filename: d.Name}, data)
	}
	return img, nil
}
