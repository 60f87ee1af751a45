// Package layout computes the geometry of combined narrow-handle blocks.
//
// A combined block holds one machine word (the dispatch slot) followed by the
// payload. The dispatch slot always sits directly before the payload, so a
// handle only needs the payload address: the slot is found at
// payload - WordSize.
//
// # Layout Rules
//
//   - Alignments are powers of two.
//   - The block alignment is max(WordSize, payload alignment).
//   - If the payload alignment is at most WordSize no padding is inserted and
//     the payload starts at WordSize.
//   - Otherwise the payload starts at its own alignment and the padding before
//     the dispatch slot is a whole number of words.
//   - The block size is not rounded up: a zero-sized payload ends the block and
//     its address equals the block end.
//
// # Usage
//
//	l := layout.Plan(unsafe.Sizeof(v), unsafe.Alignof(v))
//	base, _ := a.Alloc(l.Size, l.Align)
//	payload := l.PayloadAt(base)
//	slot := layout.DispatchSlot(payload)
package layout
