package glibc

import (
	"github.com/cockroachdb/errors"

	"github.com/go-delve/heapview/pkg/proc"
)

// WordRecord is one machine word of the heap, annotated.
type WordRecord struct {
	Addr  uint64
	Value uint64
	// ASCII shows the printable bytes of the word, '.' elsewhere.
	ASCII string
	// Region is the mapping Value points into, if any.
	Region Region
	// Known is the free list label of the payload starting at Addr.
	Known string
	// Target is the free list label of the payload Value points to.
	Target string
}

// ChunkGroup holds the words of one chunk, header included.
type ChunkGroup struct {
	Index int
	Chunk Chunk
	Words []WordRecord
}

// TopRecord describes the top chunk with two words: its size field and
// the first word of its payload.
type TopRecord struct {
	Chunk     TopChunk
	SizeField WordRecord
	FirstWord WordRecord
}

// Report is the annotated dump of a heap segment. When Err is set the
// report is truncated at the point of failure and Top is nil.
type Report struct {
	HeapBase uint64
	Arena    *Arena
	Layout   ArenaLayout
	Chunks   []ChunkGroup
	Top      *TopRecord
	Err      error
	Warnings []error
}

// Assembler builds reports out of the chunk stream and a known-value
// index.
type Assembler struct {
	mem        proc.MemoryReader
	layout     ArenaLayout
	dec        *Decoder
	classifier *Classifier
}

// NewAssembler returns an assembler reading from mem.
func NewAssembler(mem proc.MemoryReader, l ArenaLayout, classifier *Classifier) *Assembler {
	return &Assembler{mem: mem, layout: l, dec: NewDecoder(mem, l.Arch()), classifier: classifier}
}

// Assemble walks the heap starting at heapBase and annotates every word
// of every chunk. Walk failures end the report early and are stored in
// its Err field.
func (a *Assembler) Assemble(heapBase uint64, arena *Arena, idx *Index) *Report {
	rep := &Report{HeapBase: heapBase, Arena: arena, Layout: a.layout}
	region, _ := a.classifier.Lookup(heapBase)
	it := Walk(a.dec, heapBase, arena.Top, region)
	for it.Next() {
		c := it.Chunk()
		g := ChunkGroup{Index: it.Index(), Chunk: c}
		mem := proc.CacheMemory(a.mem, c.Base, int(c.Size))
		ptr := uint64(a.layout.Arch().PtrSize())
		for off := uint64(0); off < c.Size; off += ptr {
			w, err := a.word(mem, c.Base+off, idx)
			if err != nil {
				rep.Chunks = append(rep.Chunks, g)
				rep.Err = errors.Mark(&CorruptionError{Index: g.Index, Addr: c.Base, Err: err}, ErrCorruptedHeap)
				return rep
			}
			g.Words = append(g.Words, w)
		}
		rep.Chunks = append(rep.Chunks, g)
	}
	if err := it.Err(); err != nil {
		rep.Err = err
		return rep
	}
	top, _ := it.Top()
	ptr := uint64(a.layout.Arch().PtrSize())
	sizeField, err := a.word(a.mem, top.Base+ptr, idx)
	if err != nil {
		rep.Err = err
		return rep
	}
	first, err := a.word(a.mem, top.DataAddress(), idx)
	if err != nil {
		rep.Err = err
		return rep
	}
	rep.Top = &TopRecord{Chunk: top, SizeField: sizeField, FirstWord: first}
	return rep
}

// Word reads and annotates the word at addr.
func (a *Assembler) Word(addr uint64, idx *Index) (WordRecord, error) {
	return a.word(a.mem, addr, idx)
}

func (a *Assembler) word(mem proc.MemoryReader, addr uint64, idx *Index) (WordRecord, error) {
	arch := a.layout.Arch()
	buf, err := proc.ReadBytes(mem, addr, arch.PtrSize())
	if err != nil {
		return WordRecord{}, err
	}
	w := WordRecord{Addr: addr, Value: arch.Uint(buf), ASCII: printable(buf)}
	if w.Value != 0 {
		w.Region = a.classifier.Classify(w.Value)
		w.Target, _ = idx.Lookup(w.Value)
	}
	w.Known, _ = idx.Lookup(addr)
	return w, nil
}

func printable(buf []byte) string {
	out := make([]byte, len(buf))
	for i, b := range buf {
		if b >= 0x20 && b < 0x7f {
			out[i] = b
		} else {
			out[i] = '.'
		}
	}
	return string(out)
}
