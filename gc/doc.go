// Package gc implements narrow handles whose blocks are owned by the Go
// garbage collector.
//
// New allocates a single Go object holding the dispatch header followed by
// the payload. The handle is the address of the header, so it keeps the whole
// block reachable and the payload is found at a fixed offset.
//
//	handle
//	 |
//	 v
//	[ Header[I] ][ T ... ]
//
// Payloads that implement narrow.Dropper get a finalizer that runs Drop when
// the block becomes unreachable. Destroy runs Drop immediately and disarms
// the finalizer. Payloads without Drop get no finalizer at all.
//
// # Union embedding
//
// Inline places the header and payload inside a caller-owned object, with no
// separate allocation:
//
//	type node struct {
//	    id    int
//	    shape gc.Inline[Shape, Square]
//	}
//
//	n := &node{id: 1}
//	gc.MustEmbed(&n.shape, Square{Side: 2})
//	h := n.shape.Handle()
//
// Inline payloads must not need more than word alignment, and no finalizer
// is registered: the owner of the enclosing object decides when Drop runs.
//
// Handles can be shared between goroutines for reading. Destroy and payload
// mutation need external synchronization.
package gc
