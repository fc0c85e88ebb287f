package glibc

import (
	"sort"

	"golang.org/x/exp/slices"

	"github.com/go-delve/heapview/pkg/proc"
)

// Region is the classification of an address. The zero value is
// Unmapped.
type Region struct {
	Name  string
	Entry *proc.MemoryMapEntry
}

// Unmapped is returned for addresses outside every mapping. Values
// classified as Unmapped must not be dereferenced.
var Unmapped = Region{}

// Mapped reports whether the address belongs to a mapping.
func (r Region) Mapped() bool {
	return r.Entry != nil
}

// Classifier resolves addresses to the mapping that contains them.
type Classifier struct {
	regions []proc.MemoryMapEntry
}

// NewClassifier returns a classifier over a copy of maps.
func NewClassifier(maps []proc.MemoryMapEntry) *Classifier {
	regions := slices.Clone(maps)
	sort.Slice(regions, func(i, j int) bool { return regions[i].Addr < regions[j].Addr })
	return &Classifier{regions: regions}
}

func (c *Classifier) find(addr uint64) int {
	i := sort.Search(len(c.regions), func(i int) bool {
		return c.regions[i].End() > addr
	})
	if i < len(c.regions) && c.regions[i].Contains(addr) {
		return i
	}
	return -1
}

// Classify returns the region containing addr, or Unmapped.
func (c *Classifier) Classify(addr uint64) Region {
	i := c.find(addr)
	if i < 0 {
		return Unmapped
	}
	e := &c.regions[i]
	return Region{Name: e.Label(), Entry: e}
}

// Lookup returns the mapping containing addr.
func (c *Classifier) Lookup(addr uint64) (*proc.MemoryMapEntry, bool) {
	i := c.find(addr)
	if i < 0 {
		return nil, false
	}
	return &c.regions[i], true
}

// Regions returns the mappings known to the classifier, sorted by address.
func (c *Classifier) Regions() []proc.MemoryMapEntry {
	return c.regions
}

// MarkHeap names the anonymous mapping containing addr "[heap]". Core
// files and raw dumps do not carry the kernel's tags, so the mapping
// holding the heap base is identified this way.
func (c *Classifier) MarkHeap(addr uint64) bool {
	i := c.find(addr)
	if i < 0 {
		return false
	}
	if c.regions[i].Filename == "" {
		c.regions[i].Filename = "[heap]"
	}
	return true
}

// Named returns the first mapping whose label is name.
func (c *Classifier) Named(name string) (*proc.MemoryMapEntry, bool) {
	for i := range c.regions {
		if c.regions[i].Label() == name {
			return &c.regions[i], true
		}
	}
	return nil, false
}

// Span is the address range covered by all the mappings sharing a label.
type Span struct {
	Name       string
	Start, End uint64
}

// Spans merges the mappings of every backing file (or special tag) into
// one range per label. Anonymous mappings are left out.
func (c *Classifier) Spans() []Span {
	var spans []Span
	pos := map[string]int{}
	for i := range c.regions {
		e := &c.regions[i]
		if e.Filename == "" {
			continue
		}
		name := e.Label()
		if j, ok := pos[name]; ok {
			if e.Addr < spans[j].Start {
				spans[j].Start = e.Addr
			}
			if e.End() > spans[j].End {
				spans[j].End = e.End()
			}
			continue
		}
		pos[name] = len(spans)
		spans = append(spans, Span{Name: name, Start: e.Addr, End: e.End()})
	}
	return spans
}
