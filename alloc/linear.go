package alloc

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"unsafe"

	"fortio.org/safecast"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/narrow"
	"github.com/wippyai/narrow/errors"
)

// linearReserved keeps offset 0 unused so that no block address equals the
// memory base, matching the null convention of linear memory guests.
const linearReserved = 16

// maxLinearPages keeps the memory size representable as a uint32 byte count.
const maxLinearPages = 65535

// Linear allocates blocks inside a wazero linear memory.
//
// The memory is created with its capacity equal to its maximum, so growing it
// never moves the backing buffer and block addresses stay valid.
type Linear struct {
	runtime wazero.Runtime
	mem     api.Memory
	tracker *Tracker
	base    unsafe.Pointer
	free    []span
	cfg     Config
	limit   uint32
	mu      sync.Mutex
	closed  bool
}

// span is a free range of linear memory.
type span struct {
	off  uint32
	size uint32
}

// NewLinear creates a linear-memory allocator. A nil cfg uses defaults.
func NewLinear(ctx context.Context, cfg *Config) (*Linear, error) {
	maxPages := cfg.maxPages()
	if maxPages > maxLinearPages {
		return nil, errors.InvalidInput(errors.PhaseAlloc,
			fmt.Sprintf("linear memory limit %d pages exceeds %d", maxPages, maxLinearPages))
	}

	rtCfg := wazero.NewRuntimeConfigInterpreter().
		WithMemoryLimitPages(maxPages).
		WithMemoryCapacityFromMax(true)
	rt := wazero.NewRuntimeWithConfig(ctx, rtCfg)

	mod, err := rt.Instantiate(ctx, memoryModule(1, maxPages))
	if err != nil {
		_ = rt.Close(ctx)
		return nil, errors.Wrap(errors.PhaseAlloc, errors.KindAllocation, err, "instantiate linear memory")
	}
	mem := mod.ExportedMemory("memory")
	if mem == nil {
		_ = rt.Close(ctx)
		return nil, errors.New(errors.PhaseAlloc, errors.KindNotFound).
			Detail("linear memory export missing").
			Build()
	}

	l := &Linear{
		runtime: rt,
		mem:     mem,
		tracker: NewTracker(),
		limit:   maxPages,
	}
	if cfg != nil {
		l.cfg = *cfg
	}

	buf, ok := mem.Read(0, mem.Size())
	if !ok || len(buf) == 0 {
		_ = rt.Close(ctx)
		return nil, errors.New(errors.PhaseAlloc, errors.KindAllocation).
			Detail("linear memory is empty").
			Build()
	}
	l.base = unsafe.Pointer(unsafe.SliceData(buf))
	l.free = []span{{off: linearReserved, size: mem.Size() - linearReserved}}
	return l, nil
}

// Alloc returns a zeroed block of size bytes aligned to align.
func (l *Linear) Alloc(size, align uintptr) (unsafe.Pointer, error) {
	if err := validate(errors.PhaseAlloc, size, align); err != nil {
		l.tracker.Failed()
		return nil, err
	}
	sz, err := safecast.Conv[uint32](size)
	if err != nil {
		l.tracker.Failed()
		return nil, errors.Wrap(errors.PhaseAlloc, errors.KindAllocation, err, "block exceeds linear address space")
	}
	al, err := safecast.Conv[uint32](align)
	if err != nil {
		l.tracker.Failed()
		return nil, errors.Wrap(errors.PhaseAlloc, errors.KindAllocation, err, "alignment exceeds linear address space")
	}
	if sz == 0 {
		// Distinct live blocks need distinct addresses.
		sz = 1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, errors.Closed(errors.PhaseAlloc, "linear allocator")
	}

	off, ok := l.take(sz, al)
	for !ok {
		if !l.grow(uint64(sz) + uint64(al)) {
			l.tracker.Failed()
			return nil, errors.AllocationFailed(errors.PhaseAlloc, size, align)
		}
		off, ok = l.take(sz, al)
	}

	p := unsafe.Add(l.base, off)
	clear(unsafe.Slice((*byte)(p), sz))
	l.tracker.Add(p, size, align, nil)
	return p, nil
}

// take carves an aligned range out of the first span that fits.
func (l *Linear) take(size, align uint32) (uint32, bool) {
	for i, s := range l.free {
		aligned := alignUp64(uint64(s.off), uint64(align))
		end := aligned + uint64(size)
		if end > uint64(s.off)+uint64(s.size) || end > math.MaxUint32 {
			continue
		}
		start := uint32(aligned)
		head := span{off: s.off, size: start - s.off}
		tail := span{off: uint32(end), size: s.off + s.size - uint32(end)}

		rest := make([]span, 0, 2)
		if head.size > 0 {
			rest = append(rest, head)
		}
		if tail.size > 0 {
			rest = append(rest, tail)
		}
		l.free = append(l.free[:i], append(rest, l.free[i+1:]...)...)
		return start, true
	}
	return 0, false
}

func alignUp64(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}

// grow adds enough pages for need bytes. The buffer does not move because its
// capacity was reserved at the maximum.
func (l *Linear) grow(need uint64) bool {
	pages := (need + wasmPageSize - 1) / wasmPageSize
	if pages == 0 {
		pages = 1
	}
	current := l.mem.Size() / wasmPageSize
	if uint64(current)+pages > uint64(l.limit) {
		return false
	}
	prev, ok := l.mem.Grow(uint32(pages))
	if !ok {
		return false
	}
	l.release(prev*wasmPageSize, uint32(pages)*wasmPageSize)

	narrow.Logger().Debug("linear memory grown",
		zap.Uint32("from_pages", prev),
		zap.Uint64("added_pages", pages))
	return true
}

// Free releases a block returned by Alloc.
func (l *Linear) Free(p unsafe.Pointer, size, align uintptr) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return errors.Closed(errors.PhaseFree, "linear allocator")
	}
	if _, err := l.tracker.Remove(p, size, align); err != nil {
		narrow.Logger().Warn("linear free rejected",
			zap.Uintptr("ptr", uintptr(p)),
			zap.Uintptr("size", size),
			zap.Error(err))
		return err
	}

	off := uint32(uintptr(p) - uintptr(l.base))
	sz := uint32(size)
	if sz == 0 {
		sz = 1
	}
	if l.cfg.Poison {
		fill(unsafe.Slice((*byte)(p), sz), poisonByte)
	}
	l.release(off, sz)
	return nil
}

// release returns a range to the free list, merging adjacent spans.
func (l *Linear) release(off, size uint32) {
	i := sort.Search(len(l.free), func(i int) bool { return l.free[i].off >= off })
	l.free = append(l.free, span{})
	copy(l.free[i+1:], l.free[i:])
	l.free[i] = span{off: off, size: size}

	if i+1 < len(l.free) && l.free[i].off+l.free[i].size == l.free[i+1].off {
		l.free[i].size += l.free[i+1].size
		l.free = append(l.free[:i+1], l.free[i+2:]...)
	}
	if i > 0 && l.free[i-1].off+l.free[i-1].size == l.free[i].off {
		l.free[i-1].size += l.free[i].size
		l.free = append(l.free[:i], l.free[i+1:]...)
	}
}

// Stats returns allocation counters.
func (l *Linear) Stats() Stats {
	return l.tracker.Stats()
}

// Owns reports whether p is a live block of this allocator.
func (l *Linear) Owns(p unsafe.Pointer) bool {
	return l.tracker.Contains(p)
}

// Pages returns the current linear memory size in 64KB pages.
func (l *Linear) Pages() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0
	}
	return l.mem.Size() / wasmPageSize
}

// FreeBytes returns the number of bytes available without growing.
func (l *Linear) FreeBytes() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total uint64
	for _, s := range l.free {
		total += uint64(s.size)
	}
	return total
}

// Close releases the wazero runtime and its memory.
func (l *Linear) Close() error {
	return l.CloseContext(context.Background())
}

// CloseContext releases the wazero runtime and its memory.
func (l *Linear) CloseContext(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if live := l.tracker.Live(); len(live) > 0 {
		narrow.Logger().Warn("linear allocator closed with live blocks",
			zap.Int("live", len(live)))
	}
	l.tracker.Reset()
	l.free = nil
	l.base = nil
	return l.runtime.Close(ctx)
}

// memoryModule encodes a core module that only exports one memory:
//
//	(module (memory (export "memory") min max))
func memoryModule(minPages, maxPages uint32) []byte {
	var limits bytes.Buffer
	limits.WriteByte(1) // one memory
	limits.WriteByte(1) // limits flag: min and max present
	writeLEB128u(&limits, minPages)
	writeLEB128u(&limits, maxPages)

	var exports bytes.Buffer
	exports.WriteByte(1) // one export
	writeLEB128u(&exports, uint32(len("memory")))
	exports.WriteString("memory")
	exports.WriteByte(0x02) // memory
	exports.WriteByte(0)    // index

	var out bytes.Buffer
	out.Write([]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00})
	writeSection(&out, 5, limits.Bytes())
	writeSection(&out, 7, exports.Bytes())
	return out.Bytes()
}

func writeSection(w *bytes.Buffer, id byte, payload []byte) {
	w.WriteByte(id)
	writeLEB128u(w, uint32(len(payload)))
	w.Write(payload)
}

func writeLEB128u(w *bytes.Buffer, v uint32) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.WriteByte(b)
		if v == 0 {
			break
		}
	}
}
