package alloc

import (
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"

	"github.com/wippyai/narrow"
	"github.com/wippyai/narrow/errors"
	"github.com/wippyai/narrow/layout"
)

// Heap allocates blocks from Go heap byte slices. Each block is pinned by the
// tracker until freed, so the collector never reclaims it early and never
// scans its contents.
type Heap struct {
	tracker *Tracker
	cfg     Config
	closed  atomic.Bool
}

// NewHeap creates a heap allocator with default configuration.
func NewHeap() *Heap {
	return NewHeapWithConfig(nil)
}

// NewHeapWithConfig creates a heap allocator.
func NewHeapWithConfig(cfg *Config) *Heap {
	h := &Heap{tracker: NewTracker()}
	if cfg != nil {
		h.cfg = *cfg
	}
	return h
}

// Alloc returns a zeroed block of size bytes aligned to align.
func (h *Heap) Alloc(size, align uintptr) (unsafe.Pointer, error) {
	if h.closed.Load() {
		return nil, errors.Closed(errors.PhaseAlloc, "heap allocator")
	}
	if err := validate(errors.PhaseAlloc, size, align); err != nil {
		h.tracker.Failed()
		return nil, err
	}

	// The slack keeps an aligned start inside the slice and leaves at least
	// one byte past the block, so an end-of-block address stays within it.
	buf := make([]byte, size+align)
	base := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
	off := layout.AlignUp(base, align) - base
	p := unsafe.Pointer(&buf[off])

	h.tracker.Add(p, size, align, buf)
	return p, nil
}

// Free releases a block returned by Alloc.
func (h *Heap) Free(p unsafe.Pointer, size, align uintptr) error {
	if _, err := h.tracker.Remove(p, size, align); err != nil {
		narrow.Logger().Warn("heap free rejected",
			zap.Uintptr("ptr", uintptr(p)),
			zap.Uintptr("size", size),
			zap.Error(err))
		return err
	}
	if h.cfg.Poison && size > 0 {
		fill(unsafe.Slice((*byte)(p), size), poisonByte)
	}
	return nil
}

// Stats returns allocation counters.
func (h *Heap) Stats() Stats {
	return h.tracker.Stats()
}

// Owns reports whether p is a live block of this allocator.
func (h *Heap) Owns(p unsafe.Pointer) bool {
	return h.tracker.Contains(p)
}

// Close drops every pin. Blocks still live become unreachable.
func (h *Heap) Close() error {
	if h.closed.Swap(true) {
		return nil
	}
	if live := h.tracker.Live(); len(live) > 0 {
		narrow.Logger().Warn("heap allocator closed with live blocks",
			zap.Int("live", len(live)))
	}
	h.tracker.Reset()
	return nil
}
