package proc

import (
	"encoding/binary"
	"fmt"
)

// Arch describes the parts of a CPU architecture that matter when decoding
// raw memory: the size of a machine word and its byte order.
type Arch struct {
	Name      string
	ptrSize   int
	ByteOrder binary.ByteOrder
}

// AMD64Arch returns the x86-64 architecture.
func AMD64Arch() *Arch {
	return &Arch{Name: "amd64", ptrSize: 8, ByteOrder: binary.LittleEndian}
}

// I386Arch returns the 32-bit x86 architecture.
func I386Arch() *Arch {
	return &Arch{Name: "386", ptrSize: 4, ByteOrder: binary.LittleEndian}
}

// ARM64Arch returns the aarch64 architecture.
func ARM64Arch() *Arch {
	return &Arch{Name: "arm64", ptrSize: 8, ByteOrder: binary.LittleEndian}
}

// ARMArch returns the 32-bit ARM architecture.
func ARMArch() *Arch {
	return &Arch{Name: "arm", ptrSize: 4, ByteOrder: binary.LittleEndian}
}

// ArchFor returns an architecture with the given word size and byte order,
// used when the target only tells us those two facts (e.g. ELF class and
// data encoding of a core file).
func ArchFor(ptrSize int, order binary.ByteOrder) (*Arch, error) {
	if ptrSize != 4 && ptrSize != 8 {
		return nil, fmt.Errorf("unsupported pointer size %d", ptrSize)
	}
	if order == nil {
		return nil, fmt.Errorf("byte order cannot be nil")
	}
	switch {
	case ptrSize == 8 && order == binary.LittleEndian:
		return AMD64Arch(), nil
	case ptrSize == 4 && order == binary.LittleEndian:
		return I386Arch(), nil
	}
	return &Arch{Name: fmt.Sprintf("%s%d", order, ptrSize*8), ptrSize: ptrSize, ByteOrder: order}, nil
}

// PtrSize returns the size of a pointer
// on this architecture.
func (a *Arch) PtrSize() int {
	return a.ptrSize
}

// Uint decodes one machine word from the beginning of buf.
func (a *Arch) Uint(buf []byte) uint64 {
	if a.ptrSize == 4 {
		return uint64(a.ByteOrder.Uint32(buf))
	}
	return a.ByteOrder.Uint64(buf)
}

// PutUint encodes v as one machine word at the beginning of buf.
func (a *Arch) PutUint(buf []byte, v uint64) {
	if a.ptrSize == 4 {
		a.ByteOrder.PutUint32(buf, uint32(v))
		return
	}
	a.ByteOrder.PutUint64(buf, v)
}

// AlignDown rounds addr down to a multiple of the word size.
func (a *Arch) AlignDown(addr uint64) uint64 {
	return addr &^ uint64(a.ptrSize-1)
}
