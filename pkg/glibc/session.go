package glibc

import (
	"github.com/cockroachdb/errors"

	"github.com/go-delve/heapview/pkg/config"
	"github.com/go-delve/heapview/pkg/libcversion"
	"github.com/go-delve/heapview/pkg/logflags"
	"github.com/go-delve/heapview/pkg/proc"
)

// Options configures a Session. Zero values select automatic discovery.
type Options struct {
	HeapBase uint64
	Arena    uint64
	// LibcVersion overrides the version reported by the target.
	LibcVersion    string
	MaxListLength  int
	IndexCacheSize int
}

// OptionsFromConfig fills the tunables of Options from a configuration
// file.
func OptionsFromConfig(conf *config.Config) Options {
	opts := Options{
		MaxListLength:  conf.GetMaxListLength(),
		IndexCacheSize: conf.GetIndexCacheSize(),
	}
	if conf != nil {
		opts.LibcVersion = conf.LibcVersion
	}
	return opts
}

// Session inspects the main heap of one target. Snapshots of the free
// lists are cached until Invalidate is called.
type Session struct {
	target     proc.Target
	layout     ArenaLayout
	classifier *Classifier
	heapBase   uint64
	arena      uint64
	maxLen     int
	cache      *IndexCache
	log        logflags.Logger
}

// NewSession prepares a session over t.
func NewSession(t proc.Target, opts Options) (*Session, error) {
	maps, err := t.MemoryMap()
	if err != nil {
		return nil, errors.Wrap(err, "reading memory map")
	}
	s := &Session{
		target:     t,
		classifier: NewClassifier(maps),
		maxLen:     opts.MaxListLength,
		log:        logflags.HeapLogger(),
	}

	v, known := t.LibcVersion()
	if opts.LibcVersion != "" {
		if v, known = libcversion.Parse(opts.LibcVersion); !known {
			return nil, errors.Newf("invalid glibc version %q", opts.LibcVersion)
		}
	}
	s.layout = LayoutFor(t.Arch(), v, known)
	s.log.Debugf("using %s layout", s.layout.Name())

	s.heapBase = opts.HeapBase
	if s.heapBase == 0 {
		heap, ok := s.classifier.Named("[heap]")
		if !ok {
			return nil, errors.New("no [heap] mapping in target, the heap base must be given explicitly")
		}
		s.heapBase = heap.Addr
	}
	if !s.classifier.MarkHeap(s.heapBase) {
		return nil, errors.Newf("heap base %#x is not mapped", s.heapBase)
	}

	s.arena = opts.Arena
	if s.arena == 0 {
		heap, _ := s.classifier.Lookup(s.heapBase)
		s.arena, err = LocateMainArena(t.Memory(), s.layout, s.classifier, heap)
		if err != nil {
			return nil, errors.Wrap(err, "the arena address must be given explicitly")
		}
	}

	size := opts.IndexCacheSize
	if size <= 0 {
		size = config.DefaultIndexCacheSize
	}
	if s.cache, err = NewIndexCache(size); err != nil {
		return nil, err
	}
	return s, nil
}

// Target returns the inspected target.
func (s *Session) Target() proc.Target { return s.target }

// Layout returns the allocator layout in use.
func (s *Session) Layout() ArenaLayout { return s.layout }

// Classifier returns the region classifier of the target.
func (s *Session) Classifier() *Classifier { return s.classifier }

// HeapBase returns the address of the first chunk of the heap.
func (s *Session) HeapBase() uint64 { return s.heapBase }

// ArenaAddr returns the address of the arena.
func (s *Session) ArenaAddr() uint64 { return s.arena }

// Arena reads the arena from the target.
func (s *Session) Arena() (*Arena, error) {
	return ReadArena(s.target.Memory(), s.layout, s.arena)
}

// PerThreadCache reads the per-thread cache of the main thread, which
// lives in the payload of the first chunk of the heap.
func (s *Session) PerThreadCache() (*PerThreadCache, error) {
	return ReadPerThreadCache(s.target.Memory(), s.layout, s.heapBase+2*uint64(s.target.Arch().PtrSize()))
}

// Walk returns an iterator over the chunks of the heap.
func (s *Session) Walk() (*ChunkIterator, error) {
	arena, err := s.Arena()
	if err != nil {
		return nil, err
	}
	region, _ := s.classifier.Lookup(s.heapBase)
	return Walk(NewDecoder(s.target.Memory(), s.target.Arch()), s.heapBase, arena.Top, region), nil
}

// Snapshot returns the free lists of the arena and their index, reusing
// the last one unless the session was invalidated since.
func (s *Session) Snapshot() (*Snapshot, error) {
	return s.cache.Get(s.heapBase, s.arena, s.snapshot)
}

func (s *Session) snapshot() (*Snapshot, error) {
	arena, err := s.Arena()
	if err != nil {
		return nil, err
	}
	var warnings []error
	var tc *PerThreadCache
	if _, ok := s.layout.Cache(); ok {
		tc, err = s.PerThreadCache()
		if err != nil {
			warnings = append(warnings, &ListWarning{Kind: CacheList, Slot: -1, Aborted: true, Err: errors.Mark(err, ErrListCorruption)})
		}
	} else if _, known := s.layout.Version(); !known {
		warnings = append(warnings, errors.Wrap(ErrUnsupportedAllocatorVersion, "glibc version unknown, per-thread cache not walked"))
	}
	rec := NewReconstructor(s.target.Memory(), s.layout, s.maxLen).Reconstruct(arena, tc)
	rec.Warnings = append(warnings, rec.Warnings...)
	idx := BuildIndex(rec)
	for _, c := range idx.Conflicts() {
		rec.Warnings = append(rec.Warnings, errors.Newf("%#x is on both %s and %s", c.Addr, c.Previous, c.Label))
	}
	s.log.Debugf("reconstructed %d free chunks, %d warnings", idx.Len(), len(rec.Warnings))
	return &Snapshot{HeapBase: s.heapBase, Arena: arena, Rec: rec, Index: idx}, nil
}

// Reconstruct returns the free lists of the arena.
func (s *Session) Reconstruct() (*Reconstruction, error) {
	snap, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	return snap.Rec, nil
}

// KnownValues returns the index of free chunk payloads.
func (s *Session) KnownValues() (*Index, error) {
	snap, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	return snap.Index, nil
}

// Report produces the annotated dump of the heap. The report is returned
// even when err is not nil, truncated where the walk stopped.
func (s *Session) Report() (*Report, error) {
	snap, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	rep := NewAssembler(s.target.Memory(), s.layout, s.classifier).Assemble(s.heapBase, snap.Arena, snap.Index)
	rep.Warnings = snap.Rec.Warnings
	return rep, rep.Err
}

// Invalidate drops cached snapshots. It must be called whenever the
// target has run.
func (s *Session) Invalidate() {
	s.cache.Invalidate()
}

// Close closes the target.
func (s *Session) Close() error {
	return s.target.Close()
}
