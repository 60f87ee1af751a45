package narrow

import (
	"fmt"
	"strings"
	"unsafe"
)

// Allocator hands out raw blocks for the manual backend.
//
// Blocks returned by Alloc must be aligned to align and stay valid until the
// matching Free. Free receives the same size and alignment that were passed
// to Alloc. Memory handed out by an Allocator is not scanned by the Go
// collector, so it must never be the only reference to a Go heap object.
type Allocator interface {
	Alloc(size, align uintptr) (unsafe.Pointer, error)
	Free(p unsafe.Pointer, size, align uintptr) error
}

// Closer is implemented by allocators that own mappings or runtimes.
type Closer interface {
	Close() error
}

// Dropper is optionally implemented by payload types that hold resources
// needing release when the handle is destroyed. The pointer receiver form is
// the one consulted, so Drop may mutate the payload in place.
type Dropper interface {
	Drop()
}

// Aligner is optionally implemented by payload types that need a stricter
// alignment than Go gives them, such as cache-line or page aligned buffers.
// Alignment is called on the zero value and must return a power of two.
type Aligner interface {
	Alignment() uintptr
}

// Backend names a handle storage strategy.
type Backend uint8

const (
	// BackendManual stores blocks in allocator memory with explicit release.
	BackendManual Backend = iota
	// BackendTracingGC stores blocks on the Go heap.
	BackendTracingGC
	// BackendTracingGCUnion embeds the payload inline in a caller-owned object.
	BackendTracingGCUnion
)

var backendNames = [...]string{
	BackendManual:         "manual",
	BackendTracingGC:      "tracing-gc",
	BackendTracingGCUnion: "tracing-gc-union",
}

func (b Backend) String() string {
	if int(b) < len(backendNames) {
		return backendNames[b]
	}
	return fmt.Sprintf("backend(%d)", uint8(b))
}

// ParseBackend parses a backend name as printed by Backend.String.
// "gc" and "union" are accepted as short forms.
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "manual":
		return BackendManual, nil
	case "tracing-gc", "gc":
		return BackendTracingGC, nil
	case "tracing-gc-union", "union", "gc-union":
		return BackendTracingGCUnion, nil
	}
	return 0, fmt.Errorf("unknown backend %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (b Backend) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *Backend) UnmarshalText(text []byte) error {
	v, err := ParseBackend(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}
