package dispatch

import "unsafe"

// Ref is the recovered two-word form of a narrow handle: the payload address
// and its dispatch table. It is rebuilt on every use and never stored inside
// a block.
type Ref[I any] struct {
	data  unsafe.Pointer
	table *Table[I]
}

// NewRef pairs a payload address with its table.
func NewRef[I any](data unsafe.Pointer, table *Table[I]) Ref[I] {
	return Ref[I]{data: data, table: table}
}

// Value returns the payload as an interface value. The interface shares the
// payload memory; it does not copy it.
func (r Ref[I]) Value() I {
	return r.table.view(r.data)
}

// Data returns the payload address.
func (r Ref[I]) Data() unsafe.Pointer { return r.data }

// Table returns the dispatch table.
func (r Ref[I]) Table() *Table[I] { return r.table }

// Size returns the size of the stored object as recorded by its table.
func (r Ref[I]) Size() uintptr { return r.table.size }

// Align returns the alignment of the stored object as recorded by its table.
func (r Ref[I]) Align() uintptr { return r.table.align }

// TypeName returns the concrete type name of the stored object.
func (r Ref[I]) TypeName() string { return r.table.name }

// Drop runs the stored object's drop hook, if any.
func (r Ref[I]) Drop() { r.table.Drop(r.data) }

// IsZero reports whether r refers to nothing.
func (r Ref[I]) IsZero() bool { return r.table == nil }

// Matches reports whether stored is the target table. Identity is the only
// criterion: each (interface, type) pair has exactly one table.
func Matches[I any](stored, target *Table[I]) bool {
	return stored != nil && stored == target
}

// Cast returns the payload as *T if r holds a T.
func Cast[T any, I any](r Ref[I]) (*T, bool) {
	if r.table == nil {
		return nil, false
	}
	target, err := Of[I, T]()
	if err != nil || !Matches(r.table, target) {
		return nil, false
	}
	return (*T)(r.data), true
}
