package glibc

import (
	"github.com/dolthub/swiss"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/exp/slices"

	"github.com/go-delve/heapview/pkg/logflags"
)

// Conflict records a payload address found on more than one free list.
// Label replaced Previous in the index.
type Conflict struct {
	Addr     uint64
	Previous string
	Label    string
}

// Index maps the payload address of every chunk found on a free list to
// its label.
type Index struct {
	m         *swiss.Map[uint64, string]
	conflicts []Conflict
}

// BuildIndex merges reconstructions into one index. Entries are applied in
// walk order (cache, fast lists, bins) and a later label for the same
// address replaces an earlier one.
func BuildIndex(recs ...*Reconstruction) *Index {
	n := 0
	for _, rec := range recs {
		n += len(rec.Cache) + len(rec.Fast) + len(rec.Bins)
	}
	idx := &Index{m: swiss.NewMap[uint64, string](uint32(n))}
	for _, rec := range recs {
		for _, e := range rec.Entries() {
			label := e.Label()
			if prev, ok := idx.m.Get(e.Addr); ok && prev != label {
				idx.conflicts = append(idx.conflicts, Conflict{Addr: e.Addr, Previous: prev, Label: label})
			}
			idx.m.Put(e.Addr, label)
		}
	}
	return idx
}

// Lookup returns the label of addr.
func (idx *Index) Lookup(addr uint64) (string, bool) {
	if idx == nil {
		return "", false
	}
	return idx.m.Get(addr)
}

// Len returns the number of labelled addresses.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return idx.m.Count()
}

// Addresses returns the labelled addresses in ascending order.
func (idx *Index) Addresses() []uint64 {
	if idx == nil {
		return nil
	}
	addrs := make([]uint64, 0, idx.m.Count())
	idx.m.Iter(func(k uint64, _ string) bool {
		addrs = append(addrs, k)
		return false
	})
	slices.Sort(addrs)
	return addrs
}

// Map returns a copy of the index as a Go map.
func (idx *Index) Map() map[uint64]string {
	r := map[uint64]string{}
	if idx == nil {
		return r
	}
	idx.m.Iter(func(k uint64, v string) bool {
		r[k] = v
		return false
	})
	return r
}

// Conflicts returns the addresses that were relabelled during the merge.
func (idx *Index) Conflicts() []Conflict {
	if idx == nil {
		return nil
	}
	return idx.conflicts
}

// Snapshot is the reconstruction of one arena at one stop of the target,
// together with its index.
type Snapshot struct {
	HeapBase uint64
	Arena    *Arena
	Rec      *Reconstruction
	Index    *Index
}

type snapshotKey struct {
	heapBase, arena uint64
	stop            uint64
}

// IndexCache memoizes snapshots while the target stays stopped.
// Invalidate must be called whenever the target runs.
type IndexCache struct {
	cache *lru.Cache
	stop  uint64
}

// NewIndexCache returns a cache holding up to size snapshots.
func NewIndexCache(size int) (*IndexCache, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &IndexCache{cache: c}, nil
}

// Get returns the snapshot for (heapBase, arena) at the current stop,
// calling build to produce it on a miss. Failed builds are not cached.
func (c *IndexCache) Get(heapBase, arena uint64, build func() (*Snapshot, error)) (*Snapshot, error) {
	key := snapshotKey{heapBase: heapBase, arena: arena, stop: c.stop}
	if v, ok := c.cache.Get(key); ok {
		return v.(*Snapshot), nil
	}
	s, err := build()
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, s)
	return s, nil
}

// Invalidate discards every snapshot.
func (c *IndexCache) Invalidate() {
	c.stop++
	c.cache.Purge()
	logflags.HeapLogger().Debugf("index cache invalidated (stop %d)", c.stop)
}

// Stop returns the number of invalidations so far.
func (c *IndexCache) Stop() uint64 {
	return c.stop
}
