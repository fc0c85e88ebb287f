package glibc

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/go-delve/heapview/pkg/proc"
)

var (
	// ErrUnreadableMemory is the category of failed reads against the
	// target.
	ErrUnreadableMemory = proc.ErrUnreadableMemory

	// ErrInvalidChunkSize is returned by the chunk decoder when the size
	// field of a chunk is zero, misaligned or below the minimum chunk size.
	ErrInvalidChunkSize = errors.New("invalid chunk size")

	// ErrCorruptedHeap marks every failure that stops the chunk walk.
	ErrCorruptedHeap = errors.New("corrupted heap")

	// ErrListCorruption marks problems found while following one free
	// list.
	ErrListCorruption = errors.New("free list corruption")

	// ErrUnsupportedAllocatorVersion is reported when the per-thread cache
	// cannot be walked because the allocator version predates it or is
	// unknown.
	ErrUnsupportedAllocatorVersion = errors.New("unsupported allocator version")
)

// CorruptionError describes where the chunk walk stopped. Index is the
// position the offending chunk would have had in the chunk stream.
type CorruptionError struct {
	Index int
	Addr  uint64
	Err   error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("chunk %d at %#x: %v", e.Index, e.Addr, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

func corruption(index int, addr uint64, err error) error {
	return errors.Mark(&CorruptionError{Index: index, Addr: addr, Err: err}, ErrCorruptedHeap)
}

// ListWarning is a non-fatal problem found on one free list. When Aborted
// is true the list contributed no entries to the reconstruction.
type ListWarning struct {
	Kind    ListKind
	Slot    int
	Aborted bool
	Err     error
}

func (w *ListWarning) Error() string {
	var slot string
	switch {
	case w.Slot < 0:
		slot = w.Kind.String()
	case w.Kind == BinList:
		slot = fmt.Sprintf("bin %d (%s)", w.Slot, BinName(w.Slot))
	default:
		slot = fmt.Sprintf("%s slot %d", w.Kind, w.Slot)
	}
	if w.Aborted {
		return fmt.Sprintf("%s: %v (list skipped)", slot, w.Err)
	}
	return fmt.Sprintf("%s: %v", slot, w.Err)
}

func (w *ListWarning) Unwrap() error { return w.Err }
