//go:build !unix

package alloc

import (
	"unsafe"

	"github.com/wippyai/narrow/errors"
)

// Mmap is unavailable on this platform.
type Mmap struct{}

// NewMmap reports that anonymous mappings are not supported here.
func NewMmap(cfg *Config) (*Mmap, error) {
	return nil, errors.Unsupported(errors.PhaseAlloc, "mmap allocator requires a unix platform")
}

func (m *Mmap) Alloc(size, align uintptr) (unsafe.Pointer, error) {
	return nil, errors.Unsupported(errors.PhaseAlloc, "mmap allocator requires a unix platform")
}

func (m *Mmap) Free(p unsafe.Pointer, size, align uintptr) error {
	return errors.Unsupported(errors.PhaseFree, "mmap allocator requires a unix platform")
}

func (m *Mmap) Stats() Stats { return Stats{} }

func (m *Mmap) Owns(p unsafe.Pointer) bool { return false }

func (m *Mmap) Mapped() uintptr { return 0 }

func (m *Mmap) Close() error { return nil }
