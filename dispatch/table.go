package dispatch

import (
	"unsafe"

	"github.com/wippyai/narrow/layout"
)

// Table is the dispatch table of concrete type T viewed as interface I.
// The type parameter T is erased; the table only keeps what handles need.
type Table[I any] struct {
	view        func(unsafe.Pointer) I
	drop        func(unsafe.Pointer)
	name        string
	iface       string
	layout      layout.Layout
	size        uintptr
	align       uintptr
	natural     uintptr
	seq         uint64
	pointerFree bool
}

// Name returns the concrete type name.
func (t *Table[I]) Name() string { return t.name }

// Interface returns the interface type name.
func (t *Table[I]) Interface() string { return t.iface }

// Size returns the payload size in bytes.
func (t *Table[I]) Size() uintptr { return t.size }

// Align returns the payload alignment, including any declared over-alignment.
func (t *Table[I]) Align() uintptr { return t.align }

// NaturalAlign returns the alignment Go assigns to the payload type.
func (t *Table[I]) NaturalAlign() uintptr { return t.natural }

// Overaligned reports whether the payload declared a stricter alignment than
// its natural one.
func (t *Table[I]) Overaligned() bool { return t.align > t.natural }

// Layout returns the combined block layout for this payload.
func (t *Table[I]) Layout() layout.Layout { return t.layout }

// NeedsDrop reports whether the payload implements narrow.Dropper.
func (t *Table[I]) NeedsDrop() bool { return t.drop != nil }

// PointerFree reports whether the payload holds no Go pointers and can live
// in memory the collector does not scan.
func (t *Table[I]) PointerFree() bool { return t.pointerFree }

// Seq returns the registration order of the table, starting at 1.
func (t *Table[I]) Seq() uint64 { return t.seq }

// View rebuilds the interface value for the payload at p.
func (t *Table[I]) View(p unsafe.Pointer) I { return t.view(p) }

// Drop runs the payload's drop hook, if any.
func (t *Table[I]) Drop(p unsafe.Pointer) {
	if t.drop != nil {
		t.drop(p)
	}
}

// Load reads the table pointer stored in a dispatch slot.
func Load[I any](slot unsafe.Pointer) *Table[I] {
	return (*Table[I])(*(*unsafe.Pointer)(slot))
}

// Lookup reads a dispatch slot that may hold stale or foreign bytes. It only
// returns a table when the word is the address of a registered table for I.
func Lookup[I any](slot unsafe.Pointer) (*Table[I], bool) {
	addr := *(*uintptr)(slot)
	if addr == 0 {
		return nil, false
	}
	v, ok := known.Load(addr)
	if !ok {
		return nil, false
	}
	kt := v.(knownTable)
	if kt.iface != any((*I)(nil)) {
		return nil, false
	}
	t, ok := kt.table.(*Table[I])
	return t, ok
}

// Store writes the table pointer into a dispatch slot.
//
// The slot may live in memory that the collector does not scan and that held
// arbitrary bytes before, so the word is written as an integer. Tables are
// immortal, which keeps the stored address valid.
func Store[I any](slot unsafe.Pointer, t *Table[I]) {
	*(*uintptr)(slot) = uintptr(unsafe.Pointer(t))
}

// Clear zeroes a dispatch slot.
func Clear(slot unsafe.Pointer) {
	*(*uintptr)(slot) = 0
}
