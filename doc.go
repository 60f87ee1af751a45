// Package narrow packs interface values into single-word handles.
//
// A Go interface value occupies two words: the dispatch (itab) word and the
// data word. A narrow handle stores the dispatch-table pointer in one word
// directly before the payload inside a single combined block, so the handle
// itself only needs one address. The table pointer is recovered with a
// fixed-offset read.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	narrow/        Root package with Allocator, Dropper, Aligner and Backend
//	├── layout/    Combined block geometry (size, alignment, payload offset)
//	├── dispatch/  Dispatch tables, identity downcast, polymorphic references
//	├── alloc/     Manual allocators: Go heap, mmap pages, wazero linear memory
//	├── manual/    Handles over explicitly allocated and freed blocks
//	├── gc/        Handles over collector-owned blocks and inline embedding
//	├── table/     Dense ID table of narrow handles with lifecycle observers
//	├── errors/    Structured error types
//	└── cmd/       narrowctl layout inspector and backend demo
//
// # Quick Start
//
//	type Shape interface{ Area() float64 }
//
//	type Square struct{ Side float64 }
//
//	func (s *Square) Area() float64 { return s.Side * s.Side }
//
//	h, err := manual.New[Shape](Square{Side: 2})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer h.Destroy()
//
//	fmt.Println(h.Deref().Area()) // 4
//	sq, ok := manual.Downcast[Square](h)
//
// # Backends
//
// Three backends share the same dispatch tables and downcast rules:
//
//   - manual: blocks come from an Allocator and are released by Destroy.
//     Payloads must be pointer-free because allocator memory is not scanned.
//   - tracing-gc: blocks are Go heap objects; a finalizer runs Drop only for
//     payload types that implement Dropper.
//   - tracing-gc-union: the payload is embedded inline after a one-word
//     header in a caller-owned object, with no extra allocation.
//
// # Thread Safety
//
// Allocators, the dispatch registry and table.Table are safe for concurrent
// use. A manual handle has exactly one owner. Collector handles may be read
// from several goroutines, but payload mutation needs caller synchronization.
package narrow
