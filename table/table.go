package table

import (
	"reflect"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/narrow"
	"github.com/wippyai/narrow/errors"
	"github.com/wippyai/narrow/manual"
)

// Table stores manual handles of interface I under dense IDs.
type Table[I any] struct {
	alloc     narrow.Allocator
	entries   []entry[I]
	freeList  []ID
	observers []Observer
	mu        sync.RWMutex
	obsMu     sync.RWMutex
	live      int
	closed    bool
}

type entry[I any] struct {
	handle manual.Handle[I]
	name   string
	valid  bool
}

// New creates a table whose blocks come from a. A nil allocator means the
// process-wide manual allocator at the time of the call.
func New[I any](a narrow.Allocator) *Table[I] {
	if a == nil {
		a = manual.Allocator()
	}
	return &Table[I]{
		alloc:    a,
		entries:  make([]entry[I], 0, 64),
		freeList: make([]ID, 0, 16),
	}
}

// Insert moves v into a new block owned by t and returns its ID.
func Insert[I any, T any](t *Table[I], v T) (ID, error) {
	h, err := manual.NewIn[I](t.alloc, v)
	if err != nil {
		return 0, err
	}
	id, err := t.Adopt(h)
	if err != nil {
		_ = h.DestroyIn(t.alloc)
		return 0, err
	}
	return id, nil
}

// Adopt takes ownership of h, which must have been allocated from the
// table's allocator.
func (t *Table[I]) Adopt(h manual.Handle[I]) (ID, error) {
	if h.IsNil() || h.Destroyed() {
		return 0, errors.NilHandle(errors.PhaseTable)
	}
	name := h.Ref().TypeName()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, errors.Closed(errors.PhaseTable, "handle table")
	}

	e := entry[I]{handle: h, name: name, valid: true}
	var id ID
	if n := len(t.freeList); n > 0 {
		id = t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
		t.entries[id-1] = e
	} else {
		t.entries = append(t.entries, e)
		id = ID(len(t.entries))
	}
	t.live++
	t.mu.Unlock()

	t.notify(Event{Type: EventCreated, ID: id, TypeName: name})
	return id, nil
}

// lookup returns the entry for id. Callers hold t.mu.
func (t *Table[I]) lookup(id ID) (*entry[I], bool) {
	if id == 0 || int(id) > len(t.entries) {
		return nil, false
	}
	e := &t.entries[id-1]
	if !e.valid {
		return nil, false
	}
	return e, true
}

// Get returns the object stored under id.
func (t *Table[I]) Get(id ID) (I, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.lookup(id)
	if !ok {
		var zero I
		return zero, false
	}
	return e.handle.Deref(), true
}

// Handle returns the handle stored under id. The table keeps ownership.
func (t *Table[I]) Handle(id ID) (manual.Handle[I], bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.lookup(id)
	if !ok {
		return manual.Handle[I]{}, false
	}
	return e.handle, true
}

// TypeName returns the concrete type name of the object stored under id.
func (t *Table[I]) TypeName(id ID) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.lookup(id)
	if !ok {
		return "", false
	}
	return e.name, true
}

// Downcast returns the object stored under id as *T if it is a T.
func Downcast[T any, I any](t *Table[I], id ID) (*T, bool) {
	h, ok := t.Handle(id)
	if !ok {
		return nil, false
	}
	return manual.Downcast[T](h)
}

// detach clears the slot for id and returns its entry.
func (t *Table[I]) detach(id ID) (entry[I], error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.lookup(id)
	if !ok {
		return entry[I]{}, errors.NotFound(errors.PhaseTable, "handle", id)
	}
	out := *e
	*e = entry[I]{}
	t.freeList = append(t.freeList, id)
	t.live--
	return out, nil
}

// Remove destroys the object stored under id and releases the ID.
func (t *Table[I]) Remove(id ID) error {
	e, err := t.detach(id)
	if err != nil {
		return err
	}
	err = e.handle.DestroyIn(t.alloc)
	t.notify(Event{Type: EventDropped, ID: id, TypeName: e.name})
	return err
}

// Take removes the handle stored under id without destroying it. The caller
// becomes its owner.
func (t *Table[I]) Take(id ID) (manual.Handle[I], error) {
	e, err := t.detach(id)
	if err != nil {
		return manual.Handle[I]{}, err
	}
	t.notify(Event{Type: EventTaken, ID: id, TypeName: e.name})
	return e.handle, nil
}

// Len returns the number of live entries.
func (t *Table[I]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.live
}

// Each calls fn for every live entry in ID order until fn returns false.
// fn must not modify the table.
func (t *Table[I]) Each(fn func(ID, I) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for i := range t.entries {
		e := &t.entries[i]
		if !e.valid {
			continue
		}
		if !fn(ID(i+1), e.handle.Deref()) {
			break
		}
	}
}

// Subscribe adds an observer for lifecycle events.
func (t *Table[I]) Subscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

// Unsubscribe removes an observer. Observers whose dynamic type is not
// comparable, such as ObserverFunc, cannot be matched and stay subscribed
// until the table is closed.
func (t *Table[I]) Unsubscribe(o Observer) {
	if o == nil || !reflect.TypeOf(o).Comparable() {
		return
	}
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	for i, obs := range t.observers {
		if obs == o {
			t.observers = append(t.observers[:i], t.observers[i+1:]...)
			return
		}
	}
}

// Clear destroys every live entry. It returns the first destroy error.
func (t *Table[I]) Clear() error {
	// Collect IDs first to avoid holding the lock during Remove
	var ids []ID
	t.mu.RLock()
	for i := range t.entries {
		if t.entries[i].valid {
			ids = append(ids, ID(i+1))
		}
	}
	t.mu.RUnlock()

	var firstErr error
	for _, id := range ids {
		if err := t.Remove(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close destroys every live entry and stops accepting inserts.
func (t *Table[I]) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	err := t.Clear()
	if err != nil {
		narrow.Logger().Warn("handle table closed with destroy errors", zap.Error(err))
	}

	t.mu.Lock()
	t.entries = nil
	t.freeList = nil
	t.mu.Unlock()
	return err
}

func (t *Table[I]) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnHandleEvent(e)
	}
}
