package core

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/go-delve/heapview/pkg/logflags"
	"github.com/go-delve/heapview/pkg/proc"
)

// NT_FILE is file mapping information, e.g. program text mappings. Desc is a LinuxNTFile.
const _NT_FILE elf.NType = 0x46494c45 // "FILE".

const elfErrorBadMagicNumber = "bad magic number"

// readLinuxCore reads a core file from corePath. For details on the Linux
// ELF core format, see:
// http://www.gabriel.urdhr.fr/2015/05/29/core-file/,
// elf_core_dump in http://lxr.free-electrons.com/source/fs/binfmt_elf.c,
// and, if absolutely desperate, readelf.c from the binutils source.
func readLinuxCore(corePath string) (*process, error) {
	logger := logflags.TargetLogger()

	coreFile, err := elf.Open(corePath)
	if err != nil {
		if _, isfmterr := err.(*elf.FormatError); isfmterr && (strings.Contains(err.Error(), elfErrorBadMagicNumber) || strings.Contains(err.Error(), " at offset 0x0: too short")) {
			return nil, ErrUnrecognizedFormat
		}
		return nil, err
	}
	if coreFile.Type != elf.ET_CORE {
		coreFile.Close()
		return nil, fmt.Errorf("%s is not a core file", corePath)
	}

	arch, err := coreArch(coreFile)
	if err != nil {
		coreFile.Close()
		return nil, err
	}

	notes, err := readNotes(coreFile, arch)
	if err != nil {
		coreFile.Close()
		return nil, err
	}

	p := &process{arch: arch, closers: []io.Closer{coreFile}}
	var fileNote *linuxNTFile
	for _, note := range notes {
		switch note.Type {
		case _NT_FILE:
			fileNote = note.Desc.(*linuxNTFile)
		case elf.NT_PRPSINFO:
			if pid, ok := note.Desc.(int); ok {
				p.pid = pid
			}
		}
	}

	p.mem = buildMemory(coreFile, fileNote, p)
	p.maps = buildMemoryMap(coreFile, fileNote)
	logger.Debugf("opened core %s: %d mappings, arch %s", corePath, len(p.maps), arch.Name)
	return p, nil
}

func coreArch(f *elf.File) (*proc.Arch, error) {
	switch f.Machine {
	case elf.EM_X86_64:
		return proc.AMD64Arch(), nil
	case elf.EM_386:
		return proc.I386Arch(), nil
	case elf.EM_AARCH64:
		return proc.ARM64Arch(), nil
	case elf.EM_ARM:
		return proc.ARMArch(), nil
	}
	ptrSize := 8
	if f.Class == elf.ELFCLASS32 {
		ptrSize = 4
	}
	return proc.ArchFor(ptrSize, f.ByteOrder)
}

// Note is a note from the PT_NOTE prog.
// Relevant types:
// - NT_FILE: File mapping information, e.g. program text mappings. Desc is a LinuxNTFile.
// - NT_PRPSINFO: Information about a process, including PID. Desc is the pid.
type note struct {
	Type elf.NType
	Name string
	Desc interface{} // Decoded Desc from the
}

// readNotes reads all the notes from the notes prog in core.
func readNotes(core *elf.File, arch *proc.Arch) ([]*note, error) {
	var notesProg *elf.Prog
	for _, prog := range core.Progs {
		if prog.Type == elf.PT_NOTE {
			notesProg = prog
			break
		}
	}
	if notesProg == nil {
		return nil, nil
	}

	r := notesProg.Open()
	notes := []*note{}
	for {
		note, err := readNote(r, arch)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		notes = append(notes, note)
	}

	return notes, nil
}

// readNote reads a single note from r, decoding the descriptor if possible.
func readNote(r io.ReadSeeker, arch *proc.Arch) (*note, error) {
	// Notes are laid out as described in the SysV ABI:
	// http://www.sco.com/developers/gabi/latest/ch5.pheader.html#note_section
	note := &note{}
	hdr := &elfNotesHdr{}

	err := binary.Read(r, arch.ByteOrder, hdr)
	if err != nil {
		return nil, err // don't wrap so readNotes sees EOF.
	}
	note.Type = elf.NType(hdr.Type)

	name := make([]byte, hdr.Namesz)
	if _, err := io.ReadFull(r, name); err != nil {
		return nil, fmt.Errorf("reading name: %v", err)
	}
	note.Name = string(name)
	if err := skipPadding(r, 4); err != nil {
		return nil, fmt.Errorf("aligning after name: %v", err)
	}
	desc := make([]byte, hdr.Descsz)
	if _, err := io.ReadFull(r, desc); err != nil {
		return nil, fmt.Errorf("reading desc: %v", err)
	}
	switch note.Type {
	case _NT_FILE:
		data, err := decodeNTFile(desc, arch)
		if err != nil {
			return nil, err
		}
		note.Desc = data
	case elf.NT_PRPSINFO:
		note.Desc = prpsinfoPid(desc, arch)
	}
	if err := skipPadding(r, 4); err != nil {
		return nil, fmt.Errorf("aligning after desc: %v", err)
	}
	return note, nil
}

// decodeNTFile decodes the NT_FILE descriptor: a header with the entry
// count and page size, that many (start, end, file offset in pages)
// triples, then the null-delimited file name of each entry. All integers
// are machine words.
func decodeNTFile(desc []byte, arch *proc.Arch) (*linuxNTFile, error) {
	ws := arch.PtrSize()
	word := func(i int) (uint64, error) {
		if (i+1)*ws > len(desc) {
			return 0, fmt.Errorf("reading NT_FILE: descriptor truncated at word %d", i)
		}
		return arch.Uint(desc[i*ws:]), nil
	}
	count, err := word(0)
	if err != nil {
		return nil, err
	}
	pageSize, err := word(1)
	if err != nil {
		return nil, err
	}
	if count > uint64(len(desc)/(3*ws)) {
		return nil, fmt.Errorf("reading NT_FILE: bad entry count %d", count)
	}
	data := &linuxNTFile{linuxNTFileHdr: linuxNTFileHdr{Count: count, PageSize: pageSize}}
	for i := 0; i < int(count); i++ {
		var e linuxNTFileEntry
		if e.Start, err = word(2 + 3*i); err != nil {
			return nil, err
		}
		if e.End, err = word(3 + 3*i); err != nil {
			return nil, err
		}
		if e.FileOfs, err = word(4 + 3*i); err != nil {
			return nil, err
		}
		data.entries = append(data.entries, &e)
	}
	names := bytes.Split(desc[(2+3*int(count))*ws:], []byte{0})
	for i := range data.entries {
		if i < len(names) {
			data.entries[i].Name = string(names[i])
		}
	}
	return data, nil
}

// prpsinfoPid extracts pr_pid from an elf_prpsinfo descriptor.
func prpsinfoPid(desc []byte, arch *proc.Arch) int {
	// state, sname, zomb, nice, (pad), flag, uid, gid, pid
	off := 4 + arch.PtrSize()
	if arch.PtrSize() == 8 {
		off += 4 // padding before pr_flag
		off += 8 // 32-bit uid and gid
	} else {
		off += 4 // 16-bit uid and gid
	}
	if off+4 > len(desc) {
		return 0
	}
	return int(int32(arch.ByteOrder.Uint32(desc[off:])))
}

// skipPadding moves r to the next multiple of pad.
func skipPadding(r io.ReadSeeker, pad int64) error {
	pos, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if pos%pad == 0 {
		return nil
	}
	if _, err := r.Seek(pad-(pos%pad), io.SeekCurrent); err != nil {
		return err
	}
	return nil
}

func buildMemory(core *elf.File, fileNote *linuxNTFile, p *process) proc.MemoryReader {
	logger := logflags.TargetLogger()
	memory := &splicedMemory{}

	// File mappings first, from whatever copy of the mapped files exists
	// on this machine.
	if fileNote != nil {
		opened := map[string]*os.File{}
		for _, entry := range fileNote.entries {
			f, ok := opened[entry.Name]
			if !ok {
				var err error
				f, err = os.Open(entry.Name)
				if err != nil {
					logger.Debugf("mapped file %s not available: %v", entry.Name, err)
					f = nil
				} else {
					p.closers = append(p.closers, f)
				}
				opened[entry.Name] = f
			}
			if f == nil {
				continue
			}
			r := &offsetReaderAt{
				reader: f,
				offset: entry.Start - (entry.FileOfs * fileNote.PageSize),
			}
			memory.Add(r, entry.Start, entry.End-entry.Start)
		}
	}

	// Then the memory segments from the core file, allowing the corefile
	// to overwrite previously loaded segments.
	for _, prog := range core.Progs {
		if prog.Type == elf.PT_LOAD {
			if prog.Filesz == 0 {
				continue
			}
			r := &offsetReaderAt{
				reader: prog.ReaderAt,
				offset: prog.Vaddr,
			}
			memory.Add(r, prog.Vaddr, prog.Filesz)
		}
	}
	return memory
}

// buildMemoryMap derives the memory map of the process from the PT_LOAD
// program headers, naming each one after the NT_FILE entry starting at the
// same address.
func buildMemoryMap(core *elf.File, fileNote *linuxNTFile) []proc.MemoryMapEntry {
	names := map[uint64]*linuxNTFileEntry{}
	if fileNote != nil {
		for _, e := range fileNote.entries {
			names[e.Start] = e
		}
	}
	var r []proc.MemoryMapEntry
	for _, prog := range core.Progs {
		if prog.Type != elf.PT_LOAD || prog.Memsz == 0 {
			continue
		}
		ent := proc.MemoryMapEntry{
			Addr:  prog.Vaddr,
			Size:  prog.Memsz,
			Read:  prog.Flags&elf.PF_R != 0,
			Write: prog.Flags&elf.PF_W != 0,
			Exec:  prog.Flags&elf.PF_X != 0,
		}
		if e, ok := names[prog.Vaddr]; ok {
			ent.Filename = e.Name
			ent.Offset = e.FileOfs * fileNote.PageSize
		}
		r = append(r, ent)
	}
	sort.Slice(r, func(i, j int) bool { return r[i].Addr < r[j].Addr })
	return r
}

type linuxNTFile struct {
	linuxNTFileHdr
	entries []*linuxNTFileEntry
}

// LinuxNTFileHdr is a header struct for NTFile.
type linuxNTFileHdr struct {
	Count    uint64
	PageSize uint64
}

// LinuxNTFileEntry is an entry of an NT_FILE note.
type linuxNTFileEntry struct {
	Start   uint64
	End     uint64
	FileOfs uint64
	Name    string
}

// elfNotesHdr is the ELF Notes header.
// Same size on 64 and 32-bit machines.
type elfNotesHdr struct {
	Namesz uint32
	Descsz uint32
	Type   uint32
}
