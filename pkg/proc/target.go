package proc

import (
	"github.com/go-delve/heapview/pkg/libcversion"
)

// Target is the narrow view of a stopped process (live or post-mortem)
// that heap inspection needs.
type Target interface {
	// Memory returns a reader over the address space of the target.
	Memory() MemoryReader
	// MemoryMap returns the mappings of the target, sorted by address.
	MemoryMap() ([]MemoryMapEntry, error)
	// Arch returns the architecture of the target.
	Arch() *Arch
	// LibcVersion returns the version of the C library mapped by the
	// target, if it could be determined.
	LibcVersion() (libcversion.Version, bool)
	// Close releases resources held by the target.
	Close() error
}

// DetectLibcVersion determines the glibc version of a target from its
// memory map: first from the library file name, then from the version
// banner embedded in the read-only data of the library.
func DetectLibcVersion(mem MemoryReader, maps []MemoryMapEntry) (libcversion.Version, bool) {
	for i := range maps {
		if v, ok := libcversion.FromPath(maps[i].Filename); ok {
			return v, true
		}
	}
	const chunk = 64 * 1024
	for i := range maps {
		m := &maps[i]
		if !m.Read || m.Write || !libcversion.IsLibc(m.Filename) {
			continue
		}
		for addr := m.Addr; addr < m.End(); addr += chunk {
			n := uint64(chunk + 128)
			if addr+n > m.End() {
				n = m.End() - addr
			}
			buf := make([]byte, n)
			if _, err := mem.ReadMemory(buf, addr); err != nil {
				break
			}
			if v, ok := libcversion.FromBanner(buf); ok {
				return v, true
			}
		}
	}
	return libcversion.Version{}, false
}
