// Package dispatch provides dispatch tables for narrow handles.
//
// A Table describes one concrete type viewed through one interface: its
// payload size and alignment, the combined block layout, a function that
// rebuilds the interface value from a payload address, and the optional drop
// hook. Tables are created on first use by Of, never removed, and never
// moved, so the table pointer is a stable identity for the (interface,
// concrete type) pair.
//
// # Identity Without an Instance
//
// Of needs no live value. It upcasts a nil *T to the interface to prove the
// method set, the same way the runtime would derive an itab, and then looks
// the pair up in the registry:
//
//	tbl, err := dispatch.Of[Shape, Square]()
//
// # Downcast
//
// Downcasting compares table pointers. There is no content-based type tag:
//
//	if dispatch.Matches(stored, tbl) {
//	    sq := (*Square)(payload)
//	}
//
// Cast wraps the comparison for a recovered Ref.
package dispatch
