package glibc

import (
	"github.com/cockroachdb/errors"

	"github.com/go-delve/heapview/pkg/logflags"
	"github.com/go-delve/heapview/pkg/proc"
)

// TopChunk is the wilderness chunk that ends the chunk stream. Its size is
// reported as found, without validation.
type TopChunk struct {
	Chunk
}

// ChunkIterator walks the chunk stream of a heap segment, from the heap
// base up to the top chunk of its arena. Every call to Next reads memory
// afresh.
//
//	it := Walk(dec, heapBase, arena.Top, region)
//	for it.Next() {
//		c := it.Chunk()
//	}
//	if err := it.Err(); err != nil { ... }
type ChunkIterator struct {
	dec    *Decoder
	next   uint64
	top    uint64
	budget int

	n      int
	cur    Chunk
	topc   TopChunk
	hasTop bool
	err    error
	done   bool

	log logflags.Logger
}

// Walk returns an iterator over the chunks between heapBase and top.
// region is the mapping holding the heap; when it is nil the walk is
// bounded by the distance between heapBase and top instead.
func Walk(dec *Decoder, heapBase, top uint64, region *proc.MemoryMapEntry) *ChunkIterator {
	it := &ChunkIterator{dec: dec, next: heapBase, top: top, log: logflags.WalkerLogger()}
	switch {
	case top <= heapBase:
		it.fail(corruption(0, heapBase, errors.Newf("top chunk %#x does not follow heap base %#x", top, heapBase)))
		return it
	case region != nil && !region.Contains(top):
		it.fail(corruption(0, heapBase, errors.Newf("top chunk %#x is outside the heap mapping %#x-%#x", top, region.Addr, region.End())))
		return it
	}
	span := top - heapBase
	if region != nil && region.Contains(heapBase) {
		span = region.End() - heapBase
	}
	it.budget = int(span/dec.MinChunkSize()) + 1
	return it
}

func (it *ChunkIterator) fail(err error) {
	it.err = err
	it.done = true
	it.log.Debugf("walk stopped: %v", err)
}

// Next advances to the next chunk. It returns false when the top chunk is
// reached or the walk fails; Err distinguishes the two.
func (it *ChunkIterator) Next() bool {
	if it.done {
		return false
	}
	if it.next == it.top {
		top, err := it.dec.header(it.top)
		if err != nil {
			it.fail(corruption(it.n, it.top, err))
			return false
		}
		it.topc = TopChunk{top}
		it.hasTop = true
		it.done = true
		return false
	}
	if it.next > it.top {
		it.fail(corruption(it.n, it.next, errors.Newf("chunk stream passed the top chunk at %#x", it.top)))
		return false
	}
	if it.n >= it.budget {
		it.fail(corruption(it.n, it.next, errors.Newf("more than %d chunks in heap", it.budget)))
		return false
	}
	c, err := it.dec.Decode(it.next)
	if err != nil {
		it.fail(corruption(it.n, it.next, err))
		return false
	}
	if c.End() <= c.Base {
		it.fail(corruption(it.n, c.Base, errors.Newf("size %#x wraps the address space", c.Size)))
		return false
	}
	if c.End() > it.top {
		it.fail(corruption(it.n, c.Base, errors.Wrapf(ErrInvalidChunkSize, "chunk at %#x with size %#x overlaps the top chunk at %#x", c.Base, c.Size, it.top)))
		return false
	}
	if logflags.Walker() {
		it.log.Debugf("chunk %d at %#x size %#x flags %s", it.n, c.Base, c.Size, c.Flags)
	}
	// mmapped chunks have their own mapping and never appear in an arena
	// heap; they are reported as found and the walk strides over them.
	it.cur = c
	it.next = c.End()
	it.n++
	return true
}

// Chunk returns the current chunk.
func (it *ChunkIterator) Chunk() Chunk {
	return it.cur
}

// Index returns the position of the current chunk in the stream.
func (it *ChunkIterator) Index() int {
	return it.n - 1
}

// Top returns the top chunk once the iterator has reached it.
func (it *ChunkIterator) Top() (TopChunk, bool) {
	return it.topc, it.hasTop
}

// Err returns the error that stopped the walk, if any. It is always marked
// as ErrCorruptedHeap.
func (it *ChunkIterator) Err() error {
	return it.err
}
