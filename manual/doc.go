// Package manual implements narrow handles whose blocks are allocated and
// released explicitly through a narrow.Allocator.
//
// A handle is one word: the address of the payload. The dispatch table
// pointer sits in the word immediately before it, so the full interface
// value is rebuilt with a single load.
//
//	base                          payload (handle)
//	 |                               |
//	 v                               v
//	[ padding ][ *dispatch.Table[I] ][ T ... ]
//
// Blocks live in memory the Go collector does not scan, so payload types
// must not contain Go pointers. Construction rejects such types.
//
// # Usage
//
//	h, err := manual.New[Shape](Square{Side: 2})
//	if err != nil {
//	    return err
//	}
//	defer h.Destroy()
//
//	area := h.Deref().Area()
//	if sq, ok := manual.Downcast[Square](h); ok {
//	    sq.Side = 3
//	}
//
// Handles have a single owner. Copying a handle copies the word, not the
// block, so only one copy may be destroyed. Use With to tie a handle's
// lifetime to a function call.
package manual
