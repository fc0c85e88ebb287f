package glibc

import (
	"fmt"

	"github.com/go-delve/heapview/pkg/libcversion"
	"github.com/go-delve/heapview/pkg/proc"
)

const (
	// NumFastbins is the number of fastbinsY slots in malloc_state.
	NumFastbins = 10
	// NumBins is NBINS; bins[] holds 2*NumBins-2 pointers.
	NumBins = 128
	// LastBin is the highest bin index that is walked.
	LastBin = 126
	// NumCacheSlots is TCACHE_MAX_BINS.
	NumCacheSlots = 64

	binmapSize = 4 * 4
	flagBits   = 7
)

// StateLayout holds the offsets of the malloc_state fields read by the
// reconstructor, relative to the start of the arena.
type StateLayout struct {
	Fastbins      uint64
	Top           uint64
	LastRemainder uint64
	Bins          uint64
	Binmap        uint64
	Next          uint64
	NextFree      uint64
	SystemMem     uint64
	Size          uint64
}

// CacheLayout describes tcache_perthread_struct.
type CacheLayout struct {
	Slots     int
	CountSize int
	Counts    uint64
	Entries   uint64
	Size      uint64
	// KeyCheck is true when the key field of a cache entry must point
	// back to the control block.
	KeyCheck bool
}

// ArenaLayout is the shape of the allocator metadata for one glibc
// version. It is chosen once per session by LayoutFor and is either a
// classic layout (no per-thread cache) or a tcache layout.
type ArenaLayout interface {
	Name() string
	Arch() *proc.Arch
	Version() (libcversion.Version, bool)
	State() *StateLayout
	// Cache returns the per-thread cache shape, if the allocator has one.
	Cache() (*CacheLayout, bool)
	// SafeLinking reports whether singly linked next pointers are mangled.
	SafeLinking() bool

	arenaLayout()
}

type classicLayout struct {
	arch    *proc.Arch
	version libcversion.Version
	known   bool
	state   StateLayout
}

type tcacheLayout struct {
	classicLayout
	cache       CacheLayout
	safeLinking bool
}

// LayoutFor selects the layout for a target with the given architecture
// and allocator version. Unknown versions get the classic layout.
func LayoutFor(arch *proc.Arch, v libcversion.Version, known bool) ArenaLayout {
	if !known || v.Before(libcversion.TcacheIntroduced) {
		return &classicLayout{arch: arch, version: v, known: known, state: stateLayout(arch, false)}
	}
	return &tcacheLayout{
		classicLayout: classicLayout{arch: arch, version: v, known: known, state: stateLayout(arch, true)},
		cache:         cacheLayout(arch, v),
		safeLinking:   v.AfterOrEqual(libcversion.SafeLinking),
	}
}

// stateLayout computes the malloc_state offsets. haveFastchunks is set for
// versions that store have_fastchunks as its own int after flags.
func stateLayout(arch *proc.Arch, haveFastchunks bool) StateLayout {
	ptr := uint64(arch.PtrSize())
	var s StateLayout
	s.Fastbins = 8 // mutex, flags
	if haveFastchunks {
		s.Fastbins += 4
		if rem := s.Fastbins % ptr; rem != 0 {
			s.Fastbins += ptr - rem
		}
	}
	s.Top = s.Fastbins + NumFastbins*ptr
	s.LastRemainder = s.Top + ptr
	s.Bins = s.LastRemainder + ptr
	s.Binmap = s.Bins + (2*NumBins-2)*ptr
	s.Next = s.Binmap + binmapSize
	s.NextFree = s.Next + ptr
	// attached_threads, system_mem, max_system_mem
	s.SystemMem = s.NextFree + 2*ptr
	s.Size = s.SystemMem + 2*ptr
	return s
}

func cacheLayout(arch *proc.Arch, v libcversion.Version) CacheLayout {
	ptr := uint64(arch.PtrSize())
	c := CacheLayout{Slots: NumCacheSlots, CountSize: 1}
	if v.AfterOrEqual(libcversion.TcacheCounts16) {
		c.CountSize = 2
	}
	c.Entries = uint64(c.Slots * c.CountSize)
	if rem := c.Entries % ptr; rem != 0 {
		c.Entries += ptr - rem
	}
	c.Size = c.Entries + uint64(c.Slots)*ptr
	c.KeyCheck = v.AfterOrEqual(libcversion.TcacheKey) && v.Before(libcversion.TcacheRandomKey)
	return c
}

func (l *classicLayout) arenaLayout() {}

func (l *classicLayout) Name() string {
	if !l.known {
		return "classic (unknown glibc)"
	}
	return fmt.Sprintf("classic (glibc %s)", l.version)
}

func (l *classicLayout) Arch() *proc.Arch { return l.arch }

func (l *classicLayout) Version() (libcversion.Version, bool) { return l.version, l.known }

func (l *classicLayout) State() *StateLayout { return &l.state }

func (l *classicLayout) Cache() (*CacheLayout, bool) { return nil, false }

func (l *classicLayout) SafeLinking() bool { return false }

func (l *tcacheLayout) Name() string {
	return fmt.Sprintf("tcache (glibc %s)", l.version)
}

func (l *tcacheLayout) Cache() (*CacheLayout, bool) { return &l.cache, true }

func (l *tcacheLayout) SafeLinking() bool { return l.safeLinking }

// BinName returns the class of bin i: unsorted, small or large.
func BinName(i int) string {
	switch {
	case i == 1:
		return "unsorted"
	case i >= 2 && i < 64:
		return "small"
	case i >= 64 && i <= LastBin:
		return "large"
	}
	return "invalid"
}

// binSentinel returns the address of the fake chunk whose fd/bk fields
// overlap bins[2*(i-1)] and bins[2*(i-1)+1] of the arena at arena.
func binSentinel(l ArenaLayout, arena uint64, i int) uint64 {
	ptr := uint64(l.Arch().PtrSize())
	return arena + l.State().Bins + uint64(i-1)*2*ptr - 2*ptr
}

// reveal undoes safe-linking for a pointer stored at pos.
func reveal(pos, stored uint64) uint64 {
	return (pos >> 12) ^ stored
}
