//go:build unix

package alloc

import (
	"fmt"
	"sync"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/wippyai/narrow"
	"github.com/wippyai/narrow/errors"
	"github.com/wippyai/narrow/layout"
)

const minClass = 16

// Mmap allocates blocks from anonymous private mappings outside the Go heap.
type Mmap struct {
	tracker  *Tracker
	classes  map[uintptr]*sizeClass
	direct   map[uintptr][]byte
	chunks   [][]byte
	cfg      Config
	pageSize uintptr
	chunk    uintptr
	mu       sync.Mutex
	closed   bool
}

// sizeClass carves fixed-size blocks out of chunk mappings.
type sizeClass struct {
	cur  []byte
	free []unsafe.Pointer
	size uintptr
	off  uintptr
}

// NewMmap creates an mmap allocator. A nil cfg uses defaults.
func NewMmap(cfg *Config) (*Mmap, error) {
	page := uintptr(unix.Getpagesize())
	m := &Mmap{
		tracker:  NewTracker(),
		classes:  make(map[uintptr]*sizeClass),
		direct:   make(map[uintptr][]byte),
		pageSize: page,
		chunk:    layout.AlignUp(cfg.chunkSize(), page),
	}
	if cfg != nil {
		m.cfg = *cfg
	}
	return m, nil
}

func classFor(size, align uintptr) uintptr {
	c := uintptr(minClass)
	for c < size || c < align {
		c <<= 1
	}
	return c
}

func (m *Mmap) small(size, align uintptr) (uintptr, bool) {
	class := classFor(size, align)
	return class, class <= m.chunk/4 && align <= m.pageSize
}

// Alloc returns a zeroed block of size bytes aligned to align.
func (m *Mmap) Alloc(size, align uintptr) (unsafe.Pointer, error) {
	if err := validate(errors.PhaseAlloc, size, align); err != nil {
		m.tracker.Failed()
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errors.Closed(errors.PhaseAlloc, "mmap allocator")
	}

	var (
		p   unsafe.Pointer
		err error
	)
	if class, ok := m.small(size, align); ok {
		p, err = m.allocSmall(class)
	} else {
		p, err = m.allocDirect(size, align)
	}
	if err != nil {
		m.tracker.Failed()
		return nil, errors.Wrap(errors.PhaseAlloc, errors.KindAllocation, err,
			fmt.Sprintf("failed to allocate %d bytes (align %d)", size, align))
	}

	m.tracker.Add(p, size, align, nil)
	return p, nil
}

func (m *Mmap) allocSmall(class uintptr) (unsafe.Pointer, error) {
	sc := m.classes[class]
	if sc == nil {
		sc = &sizeClass{size: class}
		m.classes[class] = sc
	}

	if n := len(sc.free); n > 0 {
		p := sc.free[n-1]
		sc.free = sc.free[:n-1]
		clear(unsafe.Slice((*byte)(p), class))
		return p, nil
	}

	if sc.cur == nil || sc.off+class > uintptr(len(sc.cur)) {
		mem, err := unix.Mmap(-1, 0, int(m.chunk), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
		if err != nil {
			return nil, fmt.Errorf("mmap chunk: %w", err)
		}
		m.chunks = append(m.chunks, mem)
		sc.cur = mem
		sc.off = 0

		narrow.Logger().Debug("mmap chunk mapped",
			zap.Uintptr("class", class),
			zap.Uintptr("chunk", m.chunk),
			zap.Int("chunks", len(m.chunks)))
	}

	p := unsafe.Pointer(&sc.cur[sc.off])
	sc.off += class
	return p, nil
}

func (m *Mmap) allocDirect(size, align uintptr) (unsafe.Pointer, error) {
	// One spare byte keeps the end-of-block address inside the mapping.
	length := layout.AlignUp(size+1, m.pageSize)
	if align > m.pageSize {
		length += align - m.pageSize
	}

	mem, err := unix.Mmap(-1, 0, int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("mmap block: %w", err)
	}

	base := uintptr(unsafe.Pointer(unsafe.SliceData(mem)))
	off := layout.AlignUp(base, align) - base
	p := unsafe.Pointer(&mem[off])
	m.direct[uintptr(p)] = mem

	narrow.Logger().Debug("mmap direct block mapped",
		zap.Uintptr("size", size),
		zap.Uintptr("align", align),
		zap.Uintptr("mapping", length))
	return p, nil
}

// Free releases a block returned by Alloc.
func (m *Mmap) Free(p unsafe.Pointer, size, align uintptr) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.Closed(errors.PhaseFree, "mmap allocator")
	}
	if _, err := m.tracker.Remove(p, size, align); err != nil {
		narrow.Logger().Warn("mmap free rejected",
			zap.Uintptr("ptr", uintptr(p)),
			zap.Uintptr("size", size),
			zap.Error(err))
		return err
	}

	if class, ok := m.small(size, align); ok {
		if m.cfg.Poison {
			fill(unsafe.Slice((*byte)(p), class), poisonByte)
		}
		sc := m.classes[class]
		sc.free = append(sc.free, p)
		return nil
	}

	mem := m.direct[uintptr(p)]
	delete(m.direct, uintptr(p))
	if err := unix.Munmap(mem); err != nil {
		return errors.Wrap(errors.PhaseFree, errors.KindAllocation, err, "munmap block")
	}
	return nil
}

// Stats returns allocation counters.
func (m *Mmap) Stats() Stats {
	return m.tracker.Stats()
}

// Owns reports whether p is a live block of this allocator.
func (m *Mmap) Owns(p unsafe.Pointer) bool {
	return m.tracker.Contains(p)
}

// Mapped returns the number of bytes currently mapped.
func (m *Mmap) Mapped() uintptr {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := uintptr(len(m.chunks)) * m.chunk
	for _, mem := range m.direct {
		total += uintptr(len(mem))
	}
	return total
}

// Close unmaps all memory. Blocks still live become invalid.
func (m *Mmap) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	if live := m.tracker.Live(); len(live) > 0 {
		narrow.Logger().Warn("mmap allocator closed with live blocks",
			zap.Int("live", len(live)))
	}

	var firstErr error
	for _, mem := range m.chunks {
		if err := unix.Munmap(mem); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, mem := range m.direct {
		if err := unix.Munmap(mem); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.chunks = nil
	m.direct = nil
	m.classes = nil
	m.tracker.Reset()

	if firstErr != nil {
		return errors.Wrap(errors.PhaseFree, errors.KindAllocation, firstErr, "munmap")
	}
	return nil
}
