package glibc

import (
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/go-delve/heapview/pkg/proc"
)

// ChunkFlags are the three low bits of a chunk size field.
type ChunkFlags uint8

const (
	PrevInUse    ChunkFlags = 1 << iota // previous chunk is allocated
	IsMMapped                           // chunk was obtained with mmap
	NonMainArena                        // chunk belongs to a secondary arena
)

// String returns the flags in the order malloc.h defines them from the
// highest bit down, e.g. "NON_MAIN_ARENA|PREV_INUSE".
func (f ChunkFlags) String() string {
	var names []string
	if f&NonMainArena != 0 {
		names = append(names, "NON_MAIN_ARENA")
	}
	if f&IsMMapped != 0 {
		names = append(names, "IS_MMAPED")
	}
	if f&PrevInUse != 0 {
		names = append(names, "PREV_INUSE")
	}
	return strings.Join(names, "|")
}

// Chunk is one decoded chunk header.
type Chunk struct {
	Base     uint64
	PrevSize uint64
	// Size is the chunk size with the flag bits masked out.
	Size  uint64
	Flags ChunkFlags

	headerSize uint64
}

// DataAddress returns the address of the payload of the chunk.
func (c Chunk) DataAddress() uint64 {
	return c.Base + c.headerSize
}

// End returns the base of the chunk that follows c.
func (c Chunk) End() uint64 {
	return c.Base + c.Size
}

// RawSize returns the size field as stored in memory.
func (c Chunk) RawSize() uint64 {
	return c.Size | uint64(c.Flags)
}

// Decoder decodes chunk headers out of target memory.
type Decoder struct {
	mem  proc.MemoryReader
	arch *proc.Arch
}

// NewDecoder returns a decoder reading from mem.
func NewDecoder(mem proc.MemoryReader, arch *proc.Arch) *Decoder {
	return &Decoder{mem: mem, arch: arch}
}

// HeaderSize is the size of the prev_size and size fields.
func (d *Decoder) HeaderSize() uint64 { return 2 * uint64(d.arch.PtrSize()) }

// Alignment is MALLOC_ALIGNMENT.
func (d *Decoder) Alignment() uint64 { return 2 * uint64(d.arch.PtrSize()) }

// MinChunkSize is MINSIZE.
func (d *Decoder) MinChunkSize() uint64 { return 4 * uint64(d.arch.PtrSize()) }

// Decode reads the chunk header at addr and validates its size.
func (d *Decoder) Decode(addr uint64) (Chunk, error) {
	c, err := d.header(addr)
	if err != nil {
		return c, err
	}
	switch {
	case c.Size == 0:
		return c, errors.Wrapf(ErrInvalidChunkSize, "chunk at %#x has size 0", addr)
	case c.Size%d.Alignment() != 0:
		return c, errors.Wrapf(ErrInvalidChunkSize, "chunk at %#x has misaligned size %#x", addr, c.Size)
	case c.Size < d.MinChunkSize():
		return c, errors.Wrapf(ErrInvalidChunkSize, "chunk at %#x has size %#x below minimum %#x", addr, c.Size, d.MinChunkSize())
	}
	return c, nil
}

// header reads the chunk header at addr without validating it.
func (d *Decoder) header(addr uint64) (Chunk, error) {
	ptr := d.arch.PtrSize()
	buf, err := proc.ReadBytes(d.mem, addr, 2*ptr)
	if err != nil {
		return Chunk{Base: addr}, errors.Wrapf(err, "reading chunk header at %#x", addr)
	}
	raw := d.arch.Uint(buf[ptr:])
	return Chunk{
		Base:       addr,
		PrevSize:   d.arch.Uint(buf),
		Size:       raw &^ flagBits,
		Flags:      ChunkFlags(raw & flagBits),
		headerSize: d.HeaderSize(),
	}, nil
}
