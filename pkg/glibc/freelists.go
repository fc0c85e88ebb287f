package glibc

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/go-delve/heapview/pkg/logflags"
	"github.com/go-delve/heapview/pkg/proc"
)

// DefaultMaxListLength bounds the walk of a single fast list or bin.
const DefaultMaxListLength = 10000

// ListKind is one of the three free list families.
type ListKind uint8

const (
	CacheList ListKind = iota
	FastList
	BinList
)

func (k ListKind) String() string {
	switch k {
	case CacheList:
		return "cache"
	case FastList:
		return "fastlist"
	case BinList:
		return "bin"
	}
	return fmt.Sprintf("ListKind(%d)", uint8(k))
}

// Entry is one chunk found on a free list.
type Entry struct {
	Kind ListKind
	Slot int
	// Position is the distance from the list head, starting at 0.
	Position int
	// Chunk is the base of the chunk, Addr the address of its payload.
	Chunk uint64
	Addr  uint64
	// Size is the size read from the chunk header, or the slot size for
	// per-thread cache entries.
	Size uint64
}

// Label returns the annotation used for the entry in reports.
func (e Entry) Label() string {
	if e.Kind == BinList {
		return fmt.Sprintf("bin[%s/%d/%d]", BinName(e.Slot), e.Slot, e.Position)
	}
	return fmt.Sprintf("%s[%d/%d]", e.Kind, e.Slot, e.Position)
}

// Reconstruction is the result of walking every free list of an arena.
type Reconstruction struct {
	Cache []Entry
	Fast  []Entry
	Bins  []Entry
	// Warnings holds a *ListWarning for every list that was cut short or
	// looked inconsistent, plus a note when the per-thread cache could not
	// be walked.
	Warnings []error
}

// Entries returns all entries in walk order: cache, fast lists, bins.
func (r *Reconstruction) Entries() []Entry {
	out := make([]Entry, 0, len(r.Cache)+len(r.Fast)+len(r.Bins))
	out = append(out, r.Cache...)
	out = append(out, r.Fast...)
	return append(out, r.Bins...)
}

// Reconstructor walks the free lists of an arena.
type Reconstructor struct {
	mem    proc.MemoryReader
	layout ArenaLayout
	maxLen int
	log    logflags.Logger
}

// NewReconstructor returns a reconstructor. maxLen caps the length of a
// fast list or bin; values <= 0 select DefaultMaxListLength.
func NewReconstructor(mem proc.MemoryReader, l ArenaLayout, maxLen int) *Reconstructor {
	if maxLen <= 0 {
		maxLen = DefaultMaxListLength
	}
	return &Reconstructor{mem: mem, layout: l, maxLen: maxLen, log: logflags.HeapLogger()}
}

// Reconstruct walks the per-thread cache (when tc is not nil), the fast
// lists and the bins of arena. A failure on one list only drops that
// list and is recorded in Warnings.
func (r *Reconstructor) Reconstruct(arena *Arena, tc *PerThreadCache) *Reconstruction {
	rec := &Reconstruction{}
	if tc != nil {
		r.walkCache(rec, tc)
	}
	r.walkFast(rec, arena)
	r.walkBins(rec, arena)
	return rec
}

type listWalk struct {
	r    *Reconstructor
	rec  *Reconstruction
	kind ListKind
	slot int
	// seen holds chunk bases already visited on this list.
	seen    map[uint64]struct{}
	entries []Entry
}

func (r *Reconstructor) list(rec *Reconstruction, kind ListKind, slot int) *listWalk {
	return &listWalk{r: r, rec: rec, kind: kind, slot: slot, seen: map[uint64]struct{}{}}
}

func (w *listWalk) add(chunk, size uint64) {
	hdr := 2 * uint64(w.r.layout.Arch().PtrSize())
	w.seen[chunk] = struct{}{}
	w.entries = append(w.entries, Entry{
		Kind:     w.kind,
		Slot:     w.slot,
		Position: len(w.entries),
		Chunk:    chunk,
		Addr:     chunk + hdr,
		Size:     size,
	})
}

func (w *listWalk) visited(chunk uint64) bool {
	_, ok := w.seen[chunk]
	return ok
}

// warn records a problem that does not invalidate the list.
func (w *listWalk) warn(format string, args ...interface{}) {
	lw := &ListWarning{Kind: w.kind, Slot: w.slot, Err: errors.Newf(format, args...)}
	w.r.log.Warnf("%v", lw)
	w.rec.Warnings = append(w.rec.Warnings, lw)
}

// abort drops every entry of the list.
func (w *listWalk) abort(err error) {
	lw := &ListWarning{Kind: w.kind, Slot: w.slot, Aborted: true, Err: errors.Mark(err, ErrListCorruption)}
	w.r.log.Warnf("%v", lw)
	w.rec.Warnings = append(w.rec.Warnings, lw)
	w.entries = nil
}

func (w *listWalk) commit(dst *[]Entry) {
	*dst = append(*dst, w.entries...)
}

func (r *Reconstructor) word(addr uint64) (uint64, error) {
	return proc.ReadWord(r.mem, r.layout.Arch(), addr)
}

func (r *Reconstructor) walkCache(rec *Reconstruction, tc *PerThreadCache) {
	cl, ok := r.layout.Cache()
	if !ok {
		return
	}
	arch := r.layout.Arch()
	ptr := uint64(arch.PtrSize())
	align := 2 * ptr
	for i := 0; i < cl.Slots; i++ {
		count, head := tc.Counts[i], tc.Heads[i]
		if head == 0 {
			if count != 0 {
				w := r.list(rec, CacheList, i)
				w.warn("count is %d but the slot is empty", count)
			}
			continue
		}
		w := r.list(rec, CacheList, i)
		if count == 0 {
			w.warn("slot has a head at %#x but its count is 0", head)
			continue
		}
		size := CacheSlotSize(arch, i)
		cur := head
		aborted := false
		for uint64(len(w.entries)) < count && cur != 0 {
			if cur%align != 0 {
				w.abort(errors.Newf("misaligned entry %#x at position %d", cur, len(w.entries)))
				aborted = true
				break
			}
			chunk := cur - 2*ptr
			if w.visited(chunk) {
				w.abort(errors.Newf("entry %#x at position %d was already visited", cur, len(w.entries)))
				aborted = true
				break
			}
			stored, err := r.word(cur)
			if err != nil {
				w.abort(err)
				aborted = true
				break
			}
			if cl.KeyCheck {
				if key, err := r.word(cur + ptr); err == nil && key != tc.Addr {
					w.warn("entry %#x has key %#x, expected %#x", cur, key, tc.Addr)
				}
			}
			w.add(chunk, size)
			next := stored
			if r.layout.SafeLinking() {
				next = reveal(cur, stored)
			}
			if next == cur {
				w.warn("entry %#x points to itself", cur)
				break
			}
			cur = next
		}
		if aborted {
			continue
		}
		if uint64(len(w.entries)) < count && cur == 0 {
			w.warn("count is %d but the list has %d entries", count, len(w.entries))
		}
		w.commit(&rec.Cache)
	}
}

func (r *Reconstructor) walkFast(rec *Reconstruction, arena *Arena) {
	arch := r.layout.Arch()
	ptr := uint64(arch.PtrSize())
	align := 2 * ptr
	for i, head := range arena.Fastbins {
		if head == 0 {
			continue
		}
		w := r.list(rec, FastList, i)
		cur := head
		aborted := false
		for cur != 0 {
			pos := len(w.entries)
			if pos >= r.maxLen {
				w.abort(errors.Newf("list is longer than %d entries", r.maxLen))
				aborted = true
				break
			}
			if cur%align != 0 {
				w.abort(errors.Newf("misaligned chunk %#x at position %d", cur, pos))
				aborted = true
				break
			}
			if w.visited(cur) {
				w.abort(errors.Newf("chunk %#x at position %d was already visited", cur, pos))
				aborted = true
				break
			}
			buf, err := proc.ReadBytes(r.mem, cur+ptr, int(2*ptr))
			if err != nil {
				w.abort(err)
				aborted = true
				break
			}
			size := arch.Uint(buf) &^ flagBits
			if FastbinIndex(arch, size) != i {
				w.warn("chunk %#x has size %#x which does not belong to this slot", cur, size)
			}
			w.add(cur, size)
			fdAddr := cur + 2*ptr
			next := arch.Uint(buf[ptr:])
			if r.layout.SafeLinking() {
				next = reveal(fdAddr, next)
			}
			cur = next
		}
		if !aborted {
			w.commit(&rec.Fast)
		}
	}
}

func (r *Reconstructor) walkBins(rec *Reconstruction, arena *Arena) {
	arch := r.layout.Arch()
	ptr := uint64(arch.PtrSize())
	for i := 1; i <= LastBin; i++ {
		b := arena.Bins[i]
		if b.Uninitialized() || b.Empty() {
			continue
		}
		w := r.list(rec, BinList, i)
		if b.Fd == b.Sentinel || b.Bk == b.Sentinel {
			w.warn("half empty: fd %#x bk %#x sentinel %#x", b.Fd, b.Bk, b.Sentinel)
		}
		prev := b.Sentinel
		cur := b.Fd
		aborted := false
		for cur != b.Sentinel {
			pos := len(w.entries)
			if cur == 0 {
				w.abort(errors.Newf("null forward pointer at position %d", pos))
				aborted = true
				break
			}
			if pos >= r.maxLen {
				w.abort(errors.Newf("list does not return to its head within %d entries", r.maxLen))
				aborted = true
				break
			}
			if w.visited(cur) {
				w.abort(errors.Newf("chunk %#x at position %d was already visited", cur, pos))
				aborted = true
				break
			}
			buf, err := proc.ReadBytes(r.mem, cur+ptr, int(3*ptr))
			if err != nil {
				w.abort(err)
				aborted = true
				break
			}
			size := arch.Uint(buf) &^ flagBits
			fd, bk := arch.Uint(buf[ptr:]), arch.Uint(buf[2*ptr:])
			if bk != prev {
				w.warn("chunk %#x has bk %#x, expected %#x", cur, bk, prev)
			}
			w.add(cur, size)
			prev = cur
			cur = fd
		}
		if aborted {
			continue
		}
		if b.Bk != prev {
			w.warn("bin bk is %#x but the last chunk is %#x", b.Bk, prev)
		}
		w.commit(&rec.Bins)
	}
}
