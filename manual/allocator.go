package manual

import (
	"sync"

	"github.com/wippyai/narrow"
	"github.com/wippyai/narrow/alloc"
)

var (
	allocMu sync.RWMutex
	current narrow.Allocator
)

// Allocator returns the process-wide allocator used by New and Destroy.
// It defaults to a Go heap allocator.
func Allocator() narrow.Allocator {
	allocMu.RLock()
	a := current
	allocMu.RUnlock()
	if a != nil {
		return a
	}

	allocMu.Lock()
	defer allocMu.Unlock()
	if current == nil {
		current = alloc.NewHeap()
	}
	return current
}

// SetAllocator replaces the process-wide allocator and returns the previous
// one. Handles created with the previous allocator must be destroyed with
// DestroyIn. Passing nil restores the default heap allocator.
func SetAllocator(a narrow.Allocator) narrow.Allocator {
	prev := Allocator()

	allocMu.Lock()
	defer allocMu.Unlock()
	if a == nil {
		a = alloc.NewHeap()
	}
	current = a
	return prev
}
