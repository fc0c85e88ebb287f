package proc

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
)

// MemoryMapEntry represent a memory mapping in the target process.
type MemoryMapEntry struct {
	Addr uint64
	Size uint64

	Read, Write, Exec bool

	// Filename is the backing file of the mapping, a special tag such as
	// "[heap]" or "[stack]", or empty for anonymous memory.
	Filename string
	Offset   uint64
}

// End returns the first address past the mapping.
func (e *MemoryMapEntry) End() uint64 {
	return e.Addr + e.Size
}

// Contains reports whether addr lies inside the mapping.
func (e *MemoryMapEntry) Contains(addr uint64) bool {
	return addr >= e.Addr && addr < e.End()
}

// Perms returns the permissions of the mapping in the rwx- notation used by
// /proc/pid/maps.
func (e *MemoryMapEntry) Perms() string {
	b := []byte("---")
	if e.Read {
		b[0] = 'r'
	}
	if e.Write {
		b[1] = 'w'
	}
	if e.Exec {
		b[2] = 'x'
	}
	return string(b)
}

// IsSpecial reports whether the mapping is one of the kernel's named
// anonymous mappings ("[heap]", "[stack]", "[vdso]", ...).
func (e *MemoryMapEntry) IsSpecial() bool {
	return strings.HasPrefix(e.Filename, "[") && strings.HasSuffix(e.Filename, "]")
}

// Label returns a short human readable name for the mapping: the base name
// of the backing file, the special tag of named anonymous mappings, or
// "[anonymous]".
func (e *MemoryMapEntry) Label() string {
	switch {
	case e.Filename == "":
		return "[anonymous]"
	case e.IsSpecial():
		return e.Filename
	}
	return filepath.Base(e.Filename)
}

// ParseMaps parses the contents of a /proc/pid/maps file.
func ParseMaps(r io.Reader) ([]MemoryMapEntry, error) {
	var ents []MemoryMapEntry
	scanner := bufio.NewScanner(r)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := scanner.Text()
		if line == "" {
			continue
		}
		start, end, perm, offset, dev, filename, err := parseMapsLine(lineno, line)
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(dev, "00:") && !strings.HasPrefix(filename, "/") {
			offset = 0
		}
		ents = append(ents, MemoryMapEntry{
			Addr: start,
			Size: end - start,

			Read:  perm[0] == 'r',
			Write: perm[1] == 'w',
			Exec:  perm[2] == 'x',

			Filename: filename,
			Offset:   offset,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return ents, nil
}

func parseMapsLine(lineno int, in string) (start, end uint64, perm string, offset uint64, dev, filename string, err error) {
	fields := strings.Fields(in)
	if len(fields) < 5 {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (wrong number of fields)", lineno, in)
		return
	}

	v := strings.Split(fields[0], "-")
	if len(v) != 2 {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (bad first field)", lineno, in)
		return
	}
	start, err = strconv.ParseUint(v[0], 16, 64)
	if err != nil {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (%v)", lineno, in, err)
		return
	}
	end, err = strconv.ParseUint(v[1], 16, 64)
	if err != nil {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (%v)", lineno, in, err)
		return
	}
	if end < start {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (end before start)", lineno, in)
		return
	}

	perm = fields[1]
	if len(perm) < 4 {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (permissions column too short)", lineno, in)
		return
	}

	offset, err = strconv.ParseUint(fields[2], 16, 64)
	if err != nil {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (%v)", lineno, in, err)
		return
	}

	dev = fields[3]

	// fields[4] -> inode

	if len(fields) > 5 {
		filename = strings.Join(fields[5:], " ")
	}
	return
}
