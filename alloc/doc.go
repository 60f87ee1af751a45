// Package alloc provides allocators for the manual narrow-handle backend.
//
// Every allocator implements narrow.Allocator and records live blocks in a
// Tracker, so releasing a block twice or with the wrong size is reported as
// an error instead of corrupting memory.
//
// # Allocators
//
//	Heap    Go heap byte chunks, pinned until freed. Portable default.
//	Mmap    Anonymous private mappings (unix only). Small blocks are carved
//	        from per-size-class chunks; large or page-aligned blocks get their
//	        own mapping.
//	Linear  A wazero linear memory with a first-fit free list. Capacity is
//	        fixed up front, so block addresses never move.
//
// None of these regions are scanned by the Go collector. Blocks must not be
// the only place a Go pointer is kept.
//
// # Usage
//
//	a, err := alloc.NewMmap(nil)
//	if err != nil {
//	    return err
//	}
//	defer a.Close()
//
//	p, err := a.Alloc(48, 16)
//	...
//	err = a.Free(p, 48, 16)
package alloc
