package terminal

import (
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/go-delve/heapview/pkg/glibc"
	"github.com/go-delve/heapview/pkg/proc"
)

const pageSize = 0x1000

// Pointer is a word holding the address of another mapping.
type Pointer struct {
	Addr   uint64
	Value  uint64
	Region glibc.Region
}

// PeekPointers scans memory one page at a time from start, which must be
// page aligned, until the first unreadable page. It returns the words
// pointing into a mapping other than the one holding start and accepted by
// filter: "" or "all" accept every mapping, "heap" and "stack" the
// corresponding special mappings, anything else the mappings whose backing
// path contains it. Only the first pointer into each mapping is returned
// unless all is set.
func PeekPointers(mem proc.MemoryReader, arch *proc.Arch, c *glibc.Classifier, start uint64, filter string, all bool) ([]Pointer, error) {
	if start%pageSize != 0 {
		return nil, errors.Newf("starting address %#x must be aligned to a page", start)
	}
	origin, ok := c.Lookup(start)
	if !ok {
		return nil, errors.Newf("starting address %#x is not mapped", start)
	}
	filter = strings.ToLower(filter)

	ptr := uint64(arch.PtrSize())
	seen := map[string]bool{}
	var found []Pointer
	for page := start; page >= start; page += pageSize {
		buf, err := proc.ReadBytes(mem, page, pageSize)
		if err != nil {
			if errors.Is(err, proc.ErrUnreadableMemory) {
				break
			}
			return found, err
		}
		for off := uint64(0); off < pageSize; off += ptr {
			v := arch.Uint(buf[off:])
			r := c.Classify(v)
			if !r.Mapped() || r.Name == origin.Label() || !matchRegion(filter, r.Entry) {
				continue
			}
			if !all && seen[r.Name] {
				continue
			}
			seen[r.Name] = true
			found = append(found, Pointer{Addr: page + off, Value: v, Region: r})
		}
	}
	return found, nil
}

func matchRegion(filter string, e *proc.MemoryMapEntry) bool {
	switch filter {
	case "", "all":
		return true
	case "heap", "stack":
		return e.Filename == "["+filter+"]"
	}
	return strings.Contains(strings.ToLower(e.Filename), filter)
}
