package layout

import (
	"fmt"
	"unsafe"
)

// WordSize is the size of the dispatch slot: one machine word.
const WordSize = unsafe.Sizeof(uintptr(0))

// Region is a size and alignment pair.
type Region struct {
	Size  uintptr
	Align uintptr
}

// Word returns the region of the dispatch slot.
func Word() Region {
	return Region{Size: WordSize, Align: WordSize}
}

// RegionOf returns the natural region of T.
func RegionOf[T any]() Region {
	var zero T
	return Region{Size: unsafe.Sizeof(zero), Align: unsafe.Alignof(zero)}
}

// MaxSize bounds payload sizes and alignments so that block arithmetic
// cannot overflow.
const MaxSize = uintptr(1) << (8*WordSize - 2)

// Check validates a size and alignment pair.
func Check(size, align uintptr) error {
	if !IsPowerOfTwo(align) {
		return fmt.Errorf("alignment %d is not a power of two", align)
	}
	if size > MaxSize || align > MaxSize {
		return fmt.Errorf("size %d with alignment %d overflows", size, align)
	}
	return nil
}

// IsPowerOfTwo reports whether n is a non-zero power of two.
func IsPowerOfTwo(n uintptr) bool {
	return n != 0 && n&(n-1) == 0
}

// AlignUp rounds n up to a multiple of align. align must be a power of two.
func AlignUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}

// Extend appends next after r and returns the combined region together with
// the offset at which next begins. The combined size is not padded to the
// combined alignment.
func (r Region) Extend(next Region) (Region, uintptr) {
	offset := AlignUp(r.Size, next.Align)
	align := r.Align
	if next.Align > align {
		align = next.Align
	}
	return Region{Size: offset + next.Size, Align: align}, offset
}

// Layout is the geometry of a combined block.
type Layout struct {
	Size          uintptr
	Align         uintptr
	PayloadOffset uintptr
}

// Plan computes the combined block layout for a payload of the given size and
// alignment. It panics if align is not a power of two.
func Plan(payloadSize, payloadAlign uintptr) Layout {
	if err := Check(payloadSize, payloadAlign); err != nil {
		panic("layout: " + err.Error())
	}
	combined, offset := Word().Extend(Region{Size: payloadSize, Align: payloadAlign})

	// Alignments are powers of two and WordSize is one of them, so either no
	// padding was added or the padding is a whole number of words.
	if offset%WordSize != 0 || offset < WordSize {
		panic(fmt.Sprintf("layout: payload offset %d is not word aligned", offset))
	}
	return Layout{
		Size:          combined.Size,
		Align:         combined.Align,
		PayloadOffset: offset,
	}
}

// PlanOf computes the combined block layout for a payload of type T.
func PlanOf[T any]() Layout {
	r := RegionOf[T]()
	return Plan(r.Size, r.Align)
}

// PayloadSize returns the number of payload bytes in the block.
func (l Layout) PayloadSize() uintptr {
	return l.Size - l.PayloadOffset
}

// DispatchOffset returns the offset of the dispatch slot from the block base.
func (l Layout) DispatchOffset() uintptr {
	return l.PayloadOffset - WordSize
}

// Padding returns the number of unused bytes before the dispatch slot.
func (l Layout) Padding() uintptr {
	return l.DispatchOffset()
}

// Base returns the block base given the payload address.
func (l Layout) Base(payload unsafe.Pointer) unsafe.Pointer {
	return unsafe.Add(payload, -int(l.PayloadOffset))
}

// PayloadAt returns the payload address given the block base.
func (l Layout) PayloadAt(base unsafe.Pointer) unsafe.Pointer {
	return unsafe.Add(base, l.PayloadOffset)
}

// DispatchSlot returns the address of the dispatch slot that precedes payload.
func DispatchSlot(payload unsafe.Pointer) unsafe.Pointer {
	return unsafe.Add(payload, -int(WordSize))
}

// String renders the layout for diagnostics.
func (l Layout) String() string {
	return fmt.Sprintf("size=%d align=%d pad=%d dispatch@%d payload@%d",
		l.Size, l.Align, l.Padding(), l.DispatchOffset(), l.PayloadOffset)
}
