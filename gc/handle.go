package gc

import (
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"

	"github.com/wippyai/narrow"
	"github.com/wippyai/narrow/dispatch"
	"github.com/wippyai/narrow/errors"
	"github.com/wippyai/narrow/layout"
)

// Header is the dispatch word placed immediately before a payload.
type Header[I any] struct {
	table *dispatch.Table[I]
}

// Handle is a one-word reference to a collector-owned payload viewed as I.
type Handle[I any] struct {
	h *Header[I]
}

type block[I any, T any] struct {
	Header[I]
	value T
}

var (
	// armed holds the header addresses of blocks with a pending finalizer.
	armed   sync.Map
	pending atomic.Int64
)

// New moves v into a new collector-owned block.
func New[I any, T any](v T) (Handle[I], error) {
	t, err := dispatch.Of[I, T]()
	if err != nil {
		return Handle[I]{}, err
	}
	if t.Overaligned() {
		return Handle[I]{}, errors.Alignment(errors.PhaseConstruct, t.Name(), t.Align(), t.NaturalAlign())
	}

	b := &block[I, T]{Header: Header[I]{table: t}, value: v}
	arm(b, t)
	return Handle[I]{h: &b.Header}, nil
}

// NewFunc allocates a zeroed block and lets build fill the payload in place.
// The pointer passed to build is the block's own payload and keeps it alive.
func NewFunc[I any, T any](build func(*T)) (Handle[I], error) {
	if build == nil {
		return Handle[I]{}, errors.InvalidInput(errors.PhaseConstruct, "nil build function")
	}
	t, err := dispatch.Of[I, T]()
	if err != nil {
		return Handle[I]{}, err
	}
	if t.Overaligned() {
		return Handle[I]{}, errors.Alignment(errors.PhaseConstruct, t.Name(), t.Align(), t.NaturalAlign())
	}

	b := &block[I, T]{Header: Header[I]{table: t}}
	build(&b.value)
	arm(b, t)
	return Handle[I]{h: &b.Header}, nil
}

func arm[I any, T any](b *block[I, T], t *dispatch.Table[I]) {
	if !t.NeedsDrop() {
		return
	}
	armed.Store(uintptr(unsafe.Pointer(b)), struct{}{})
	pending.Add(1)
	runtime.SetFinalizer(b, finalize[I, T])
}

// MustNew is like New but panics on error.
func MustNew[I any, T any](v T) Handle[I] {
	h, err := New[I](v)
	if err != nil {
		panic(err)
	}
	return h
}

func finalize[I any, T any](b *block[I, T]) {
	if _, ok := armed.LoadAndDelete(uintptr(unsafe.Pointer(b))); ok {
		pending.Add(-1)
	}
	t := b.table
	if t == nil {
		return
	}
	b.table = nil
	t.Drop(unsafe.Pointer(&b.value))

	narrow.Logger().Debug("gc block finalized",
		zap.String("type", t.Name()))
}

// IsNil reports whether h is the zero handle.
func (h Handle[I]) IsNil() bool { return h.h == nil }

// Destroyed reports whether h's payload was released by Destroy.
func (h Handle[I]) Destroyed() bool { return h.h != nil && h.h.table == nil }

func (h Handle[I]) payload(t *dispatch.Table[I]) unsafe.Pointer {
	return unsafe.Add(unsafe.Pointer(h.h), t.Layout().PayloadOffset)
}

// Ref returns the two-word form of h. It panics on a zero or destroyed handle.
func (h Handle[I]) Ref() dispatch.Ref[I] {
	if h.h == nil {
		panic(errors.NilHandle(errors.PhaseDeref))
	}
	t := h.h.table
	if t == nil {
		panic(errors.Destroyed(errors.PhaseDeref, ""))
	}
	return dispatch.NewRef(h.payload(t), t)
}

// Deref returns the payload as I.
func (h Handle[I]) Deref() I {
	return h.Ref().Value()
}

// DerefMut returns the payload as I for calls that mutate it.
func (h Handle[I]) DerefMut() I {
	return h.Ref().Value()
}

// AsInterface returns the payload as a collector-owned interface value. It
// stays valid after every handle to the block is gone.
func (h Handle[I]) AsInterface() I {
	return h.Ref().Value()
}

// Downcast returns the payload as *T if h holds a T. The pointer keeps the
// block alive.
func Downcast[T any, I any](h Handle[I]) (*T, bool) {
	if h.h == nil || h.h.table == nil {
		return nil, false
	}
	return dispatch.Cast[T](h.Ref())
}

// Destroy runs the payload's Drop now and disarms its finalizer. The block
// memory stays with the collector; further dereferences panic and a second
// Destroy reports errors.KindDestroyed. Destroying the zero handle does
// nothing.
func (h Handle[I]) Destroy() error {
	if h.h == nil {
		return nil
	}
	t := h.h.table
	if t == nil {
		return errors.Destroyed(errors.PhaseDestroy, "")
	}

	if _, ok := armed.LoadAndDelete(uintptr(unsafe.Pointer(h.h))); ok {
		pending.Add(-1)
		runtime.SetFinalizer(h.h, nil)
	}
	h.h.table = nil
	t.Drop(h.payload(t))
	return nil
}

// Recover converts a pointer obtained from Downcast back into a handle.
// It panics with errors.KindForeignReference if p does not sit right after a
// header for T.
func Recover[I any, T any](p *T) Handle[I] {
	if p == nil {
		panic(errors.NilHandle(errors.PhaseRecover))
	}
	want, err := dispatch.Of[I, T]()
	if err != nil {
		panic(err)
	}

	slot := layout.DispatchSlot(unsafe.Pointer(p))
	if *(*uintptr)(slot) == 0 {
		panic(errors.Destroyed(errors.PhaseRecover, want.Name()))
	}
	got, ok := dispatch.Lookup[I](slot)
	if !ok || !dispatch.Matches(got, want) {
		panic(errors.New(errors.PhaseRecover, errors.KindForeignReference).
			GoType(want.Name()).
			Value(uintptr(unsafe.Pointer(p))).
			Detail("pointer does not follow a %s header", want.Interface()).
			Build())
	}
	return Handle[I]{h: (*Header[I])(slot)}
}

// Pending returns the number of blocks whose finalizer has not run or been
// disarmed yet.
func Pending() int {
	return int(pending.Load())
}
