package alloc

import (
	"sync"
	"unsafe"

	"github.com/wippyai/narrow/errors"
)

// Stats is a snapshot of allocator activity.
type Stats struct {
	Allocs    uint64
	Frees     uint64
	Failures  uint64
	LiveBytes uintptr
	PeakBytes uintptr
	Live      int
}

// Allocation describes one live block.
type Allocation struct {
	Ptr   uintptr
	Size  uintptr
	Align uintptr
}

type record struct {
	pin   []byte
	size  uintptr
	align uintptr
}

// Tracker records live blocks for an allocator.
type Tracker struct {
	live  map[uintptr]record
	stats Stats
	mu    sync.Mutex
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{live: make(map[uintptr]record, 64)}
}

// Add records a block handed out at p. pin, if non-nil, is kept reachable
// until the block is removed.
func (t *Tracker) Add(p unsafe.Pointer, size, align uintptr, pin []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.live[uintptr(p)] = record{pin: pin, size: size, align: align}
	t.stats.Allocs++
	t.stats.LiveBytes += size
	if t.stats.LiveBytes > t.stats.PeakBytes {
		t.stats.PeakBytes = t.stats.LiveBytes
	}
}

// Remove forgets the block at p and returns its pin. It fails if p is not
// live or was allocated with a different size or alignment.
func (t *Tracker) Remove(p unsafe.Pointer, size, align uintptr) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	addr := uintptr(p)
	r, ok := t.live[addr]
	if !ok {
		return nil, errors.DoubleFree(errors.PhaseFree, addr)
	}
	if r.size != size || r.align != align {
		return nil, errors.New(errors.PhaseFree, errors.KindInvalidInput).
			Value(addr).
			Detail("block %#x allocated as size %d align %d, freed as size %d align %d",
				addr, r.size, r.align, size, align).
			Build()
	}
	delete(t.live, addr)
	t.stats.Frees++
	t.stats.LiveBytes -= size
	return r.pin, nil
}

// Failed counts an allocation failure.
func (t *Tracker) Failed() {
	t.mu.Lock()
	t.stats.Failures++
	t.mu.Unlock()
}

// Contains reports whether p is a live block.
func (t *Tracker) Contains(p unsafe.Pointer) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.live[uintptr(p)]
	return ok
}

// Stats returns a snapshot of the counters.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stats
	s.Live = len(t.live)
	return s
}

// Live returns the blocks that have not been freed.
func (t *Tracker) Live() []Allocation {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Allocation, 0, len(t.live))
	for addr, r := range t.live {
		out = append(out, Allocation{Ptr: addr, Size: r.size, Align: r.align})
	}
	return out
}

// Reset forgets every live block.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.live)
	t.stats.LiveBytes = 0
}
