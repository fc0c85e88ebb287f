package glibc

import (
	"github.com/cockroachdb/errors"

	"github.com/go-delve/heapview/pkg/libcversion"
	"github.com/go-delve/heapview/pkg/logflags"
	"github.com/go-delve/heapview/pkg/proc"
)

// ErrArenaNotFound is returned by LocateMainArena when no candidate
// address looks like a main arena.
var ErrArenaNotFound = errors.New("main arena not found")

// arenaCandidates returns the mappings that may hold main_arena: the
// writable mappings of the C library and the anonymous mapping that
// directly follows them (its .bss).
func arenaCandidates(c *Classifier) []proc.MemoryMapEntry {
	var r []proc.MemoryMapEntry
	regions := c.Regions()
	for i := range regions {
		e := regions[i]
		if !libcversion.IsLibc(e.Filename) {
			continue
		}
		if e.Write {
			r = append(r, e)
		}
		if i+1 < len(regions) {
			next := regions[i+1]
			if next.Filename == "" && next.Write && next.Addr == e.End() {
				r = append(r, next)
			}
		}
	}
	return r
}

// LocateMainArena scans the writable data of the C library for a
// malloc_state whose top chunk lies in heap and whose bins are all either
// empty (linked to their own sentinel) or point into heap.
func LocateMainArena(mem proc.MemoryReader, l ArenaLayout, c *Classifier, heap *proc.MemoryMapEntry) (uint64, error) {
	log := logflags.HeapLogger()
	arch := l.Arch()
	ptr := uint64(arch.PtrSize())
	size := l.State().Size
	for _, region := range arenaCandidates(c) {
		if region.Size < size {
			continue
		}
		buf, err := proc.ReadBytes(mem, region.Addr, int(region.Size))
		if err != nil {
			log.Debugf("skipping %s at %#x: %v", region.Label(), region.Addr, err)
			continue
		}
		for off := uint64(0); off+size <= region.Size; off += ptr {
			if looksLikeArena(l, buf[off:off+size], region.Addr+off, heap) {
				log.Debugf("main arena at %#x in %s", region.Addr+off, region.Label())
				return region.Addr + off, nil
			}
		}
	}
	return 0, errors.Wrapf(ErrArenaNotFound, "no malloc_state with top in %#x-%#x", heap.Addr, heap.End())
}

func looksLikeArena(l ArenaLayout, buf []byte, addr uint64, heap *proc.MemoryMapEntry) bool {
	arch := l.Arch()
	st := l.State()
	ptr := uint64(arch.PtrSize())
	top := arch.Uint(buf[st.Top:])
	if !heap.Contains(top) {
		return false
	}
	for i := 1; i <= LastBin; i++ {
		off := st.Bins + uint64(i-1)*2*ptr
		fd, bk := arch.Uint(buf[off:]), arch.Uint(buf[off+ptr:])
		sentinel := binSentinel(l, addr, i)
		switch {
		case fd == sentinel && bk == sentinel:
		case heap.Contains(fd) && heap.Contains(bk):
		default:
			return false
		}
	}
	return true
}
