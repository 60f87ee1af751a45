// Package table provides a dense, ID-addressed table of manual narrow
// handles.
//
// Each slot stores one word per object instead of a two-word interface
// value. IDs are small integers suitable for passing across boundaries that
// cannot carry Go pointers; ID 0 is reserved and always invalid.
//
// # Lifecycle
//
//	t := table.New[Shape](nil)
//	defer t.Close()
//
//	id, err := table.Insert(t, Square{Side: 2})
//	shape, ok := t.Get(id)
//	sq, ok := table.Downcast[Square](t, id)
//	err = t.Remove(id) // runs Drop and frees the block
//
// Removed IDs are reused by later inserts. Observers receive EventCreated
// and EventDropped notifications after the table lock is released.
//
// # Thread Safety
//
// Table is safe for concurrent use. Values returned by Get share memory
// with the stored block and are valid until the ID is removed.
package table
