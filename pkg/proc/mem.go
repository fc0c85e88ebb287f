package proc

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

const cacheEnabled = true

// MemoryReader is like io.ReaderAt, but the offset is a uint64 so that it
// can address all of 64-bit memory.
type MemoryReader interface {
	// ReadMemory is just like io.ReaderAt.ReadAt.
	ReadMemory(buf []byte, addr uint64) (n int, err error)
}

// ErrUnreadableMemory is the category of every failed or short read
// against a target.
var ErrUnreadableMemory = errors.New("unreadable memory")

// UnreadableError is returned when a read against addr could not be
// completed, either because the address is not mapped in the target or
// because the backing store (e.g. a core file) does not contain it.
type UnreadableError struct {
	Addr uint64
	Len  int
	Err  error
}

func (e *UnreadableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("could not read %d bytes at %#x: %v", e.Len, e.Addr, e.Err)
	}
	return fmt.Sprintf("could not read %d bytes at %#x", e.Len, e.Addr)
}

func (e *UnreadableError) Unwrap() error { return e.Err }

// Is makes every UnreadableError match ErrUnreadableMemory.
func (e *UnreadableError) Is(target error) bool {
	return target == ErrUnreadableMemory
}

// ReadBytes reads exactly n bytes at addr.
func ReadBytes(mem MemoryReader, addr uint64, n int) ([]byte, error) {
	buf := make([]byte, n)
	read, err := mem.ReadMemory(buf, addr)
	if err != nil {
		return nil, errors.Mark(&UnreadableError{Addr: addr, Len: n, Err: err}, ErrUnreadableMemory)
	}
	if read != n {
		return nil, errors.Mark(&UnreadableError{Addr: addr, Len: n, Err: errors.Newf("short read (%d bytes)", read)}, ErrUnreadableMemory)
	}
	return buf, nil
}

// ReadWord reads one machine word at addr.
func ReadWord(mem MemoryReader, arch *Arch, addr uint64) (uint64, error) {
	buf, err := ReadBytes(mem, addr, arch.PtrSize())
	if err != nil {
		return 0, err
	}
	return arch.Uint(buf), nil
}

// ReadUint reads an unsigned integer of the given size (1, 2, 4 or 8) at addr.
func ReadUint(mem MemoryReader, arch *Arch, addr uint64, size int) (uint64, error) {
	buf, err := ReadBytes(mem, addr, size)
	if err != nil {
		return 0, err
	}
	switch size {
	case 1:
		return uint64(buf[0]), nil
	case 2:
		return uint64(arch.ByteOrder.Uint16(buf)), nil
	case 4:
		return uint64(arch.ByteOrder.Uint32(buf)), nil
	case 8:
		return arch.ByteOrder.Uint64(buf), nil
	}
	return 0, errors.AssertionFailedf("unsupported integer size %d", size)
}

type memCache struct {
	cacheAddr uint64
	cache     []byte
	mem       MemoryReader
}

func (m *memCache) contains(addr uint64, size int) bool {
	end := addr + uint64(size)
	return addr >= m.cacheAddr && end >= addr && end <= m.cacheAddr+uint64(len(m.cache))
}

func (m *memCache) ReadMemory(data []byte, addr uint64) (n int, err error) {
	if m.contains(addr, len(data)) {
		copy(data, m.cache[addr-m.cacheAddr:])
		return len(data), nil
	}

	return m.mem.ReadMemory(data, addr)
}

// CacheMemory reads size bytes at addr in a single request and returns a
// MemoryReader that serves reads inside that range from the copy. Reads
// outside the range, or all reads if the bulk read fails, go to mem.
func CacheMemory(mem MemoryReader, addr uint64, size int) MemoryReader {
	if !cacheEnabled {
		return mem
	}
	if size <= 0 {
		return mem
	}
	if cacheMem, isCache := mem.(*memCache); isCache {
		if cacheMem.contains(addr, size) {
			return mem
		}
		mem = cacheMem.mem
	}
	cache := make([]byte, size)
	n, err := mem.ReadMemory(cache, addr)
	if err != nil || n != size {
		return mem
	}
	return &memCache{addr, cache, mem}
}
