package glibc

import (
	"github.com/cockroachdb/errors"

	"github.com/go-delve/heapview/pkg/proc"
)

// BinHead is the fd/bk pair of one bin as stored in the arena.
type BinHead struct {
	Index    int
	Sentinel uint64
	Fd, Bk   uint64
}

// Empty reports whether the bin links back to its own sentinel.
func (b BinHead) Empty() bool {
	return b.Fd == b.Sentinel && b.Bk == b.Sentinel
}

// Uninitialized reports whether the bin was never set up by
// malloc_init_state.
func (b BinHead) Uninitialized() bool {
	return b.Fd == 0 && b.Bk == 0
}

// Arena is a snapshot of the malloc_state fields used for reconstruction.
type Arena struct {
	Addr          uint64
	Top           uint64
	LastRemainder uint64
	Fastbins      [NumFastbins]uint64
	// Bins is indexed by bin number; Bins[0] is unused.
	Bins      [LastBin + 1]BinHead
	Next      uint64
	SystemMem uint64
}

// ReadArena reads the malloc_state at addr with a single bulk read.
func ReadArena(mem proc.MemoryReader, l ArenaLayout, addr uint64) (*Arena, error) {
	arch := l.Arch()
	st := l.State()
	buf, err := proc.ReadBytes(mem, addr, int(st.Size))
	if err != nil {
		return nil, errors.Wrapf(err, "reading arena at %#x", addr)
	}
	ptr := uint64(arch.PtrSize())
	word := func(off uint64) uint64 { return arch.Uint(buf[off:]) }

	a := &Arena{
		Addr:          addr,
		Top:           word(st.Top),
		LastRemainder: word(st.LastRemainder),
		Next:          word(st.Next),
		SystemMem:     word(st.SystemMem),
	}
	for i := range a.Fastbins {
		a.Fastbins[i] = word(st.Fastbins + uint64(i)*ptr)
	}
	for i := 1; i <= LastBin; i++ {
		off := st.Bins + uint64(i-1)*2*ptr
		a.Bins[i] = BinHead{
			Index:    i,
			Sentinel: binSentinel(l, addr, i),
			Fd:       word(off),
			Bk:       word(off + ptr),
		}
	}
	return a, nil
}

// PerThreadCache is a snapshot of a tcache_perthread_struct.
type PerThreadCache struct {
	Addr   uint64
	Counts [NumCacheSlots]uint64
	// Heads point at the payload of the first entry of each slot.
	Heads [NumCacheSlots]uint64
}

// ReadPerThreadCache reads the per-thread cache control block at addr.
func ReadPerThreadCache(mem proc.MemoryReader, l ArenaLayout, addr uint64) (*PerThreadCache, error) {
	cl, ok := l.Cache()
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedAllocatorVersion, "layout %s has no per-thread cache", l.Name())
	}
	arch := l.Arch()
	buf, err := proc.ReadBytes(mem, addr, int(cl.Size))
	if err != nil {
		return nil, errors.Wrapf(err, "reading per-thread cache at %#x", addr)
	}
	ptr := uint64(arch.PtrSize())
	pc := &PerThreadCache{Addr: addr}
	for i := 0; i < cl.Slots; i++ {
		off := cl.Counts + uint64(i*cl.CountSize)
		if cl.CountSize == 1 {
			pc.Counts[i] = uint64(buf[off])
		} else {
			pc.Counts[i] = uint64(arch.ByteOrder.Uint16(buf[off:]))
		}
		pc.Heads[i] = arch.Uint(buf[cl.Entries+uint64(i)*ptr:])
	}
	return pc, nil
}

// CacheSlotSize returns the chunk size served by per-thread cache slot i.
func CacheSlotSize(arch *proc.Arch, i int) uint64 {
	return uint64(i+2) * 2 * uint64(arch.PtrSize())
}

// FastbinIndex returns the fastbinsY slot serving chunks of size sz.
func FastbinIndex(arch *proc.Arch, sz uint64) int {
	return int(sz/(2*uint64(arch.PtrSize()))) - 2
}
