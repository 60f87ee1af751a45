package manual

import (
	stderrors "errors"
	"unsafe"

	"go.uber.org/zap"

	"github.com/wippyai/narrow"
	"github.com/wippyai/narrow/dispatch"
	"github.com/wippyai/narrow/errors"
	"github.com/wippyai/narrow/layout"
)

// Handle is a one-word owning reference to a payload viewed as I.
type Handle[I any] struct {
	p unsafe.Pointer
}

// tombstone marks a handle that has been destroyed.
var tombstone = unsafe.Pointer(new(byte))

// owner is implemented by allocators that track live blocks.
type owner interface {
	Owns(p unsafe.Pointer) bool
}

// New moves v into a block from the process-wide allocator.
func New[I any, T any](v T) (Handle[I], error) {
	return NewIn[I](Allocator(), v)
}

// MustNew is like New but panics on error.
func MustNew[I any, T any](v T) Handle[I] {
	h, err := New[I](v)
	if err != nil {
		panic(err)
	}
	return h
}

// NewIn moves v into a block from a. The handle must later be destroyed with
// DestroyIn using the same allocator.
func NewIn[I any, T any](a narrow.Allocator, v T) (Handle[I], error) {
	t, err := dispatch.Of[I, T]()
	if err != nil {
		return Handle[I]{}, err
	}
	if !t.PointerFree() {
		return Handle[I]{}, errors.New(errors.PhaseConstruct, errors.KindUnsupported).
			GoType(t.Name()).
			Detail("payload contains Go pointers and cannot live in unscanned memory").
			Build()
	}

	l := t.Layout()
	base, err := a.Alloc(l.Size, l.Align)
	if err != nil {
		return Handle[I]{}, errors.New(errors.PhaseConstruct, errors.KindAllocation).
			GoType(t.Name()).
			Cause(err).
			Detail("allocate %s", l).
			Build()
	}

	payload := l.PayloadAt(base)
	dispatch.Store(layout.DispatchSlot(payload), t)
	if t.Size() > 0 {
		*(*T)(payload) = v
	}
	return Handle[I]{p: payload}, nil
}

// IsNil reports whether h is the zero handle.
func (h Handle[I]) IsNil() bool { return h.p == nil }

// Destroyed reports whether h was released by Destroy.
func (h Handle[I]) Destroyed() bool { return h.p == tombstone }

// Ref returns the two-word form of h. It panics on a zero or destroyed handle.
func (h Handle[I]) Ref() dispatch.Ref[I] {
	switch h.p {
	case nil:
		panic(errors.NilHandle(errors.PhaseDeref))
	case tombstone:
		panic(errors.Destroyed(errors.PhaseDeref, ""))
	}
	return dispatch.NewRef(h.p, dispatch.Load[I](layout.DispatchSlot(h.p)))
}

// Deref returns the payload as I. The interface value shares the block.
func (h Handle[I]) Deref() I {
	return h.Ref().Value()
}

// DerefMut returns the payload as I for calls that mutate it. Mutations
// through pointer-receiver methods are visible to later Deref calls.
func (h Handle[I]) DerefMut() I {
	return h.Ref().Value()
}

// Downcast returns the payload as *T if h holds a T. The pointer is valid
// until h is destroyed.
func Downcast[T any, I any](h Handle[I]) (*T, bool) {
	if h.p == nil || h.p == tombstone {
		return nil, false
	}
	return dispatch.Cast[T](h.Ref())
}

// Destroy drops the payload and returns its block to the process-wide
// allocator.
func (h *Handle[I]) Destroy() error {
	return h.DestroyIn(Allocator())
}

// DestroyIn drops the payload and returns its block to a. The handle becomes
// destroyed; a second call reports errors.KindDestroyed. Destroying the zero
// handle does nothing.
func (h *Handle[I]) DestroyIn(a narrow.Allocator) error {
	switch h.p {
	case nil:
		return nil
	case tombstone:
		return errors.Destroyed(errors.PhaseDestroy, "")
	}

	t, ok := dispatch.Lookup[I](layout.DispatchSlot(h.p))
	if !ok {
		return errors.New(errors.PhaseDestroy, errors.KindDoubleFree).
			Value(uintptr(h.p)).
			Detail("payload %#x has no dispatch table; block already released", uintptr(h.p)).
			Build()
	}
	base := t.Layout().Base(h.p)
	if o, ok := a.(owner); ok && !o.Owns(base) {
		return errors.New(errors.PhaseDestroy, errors.KindDoubleFree).
			GoType(t.Name()).
			Value(uintptr(base)).
			Detail("block %#x is not live in this allocator", uintptr(base)).
			Build()
	}

	r := dispatch.NewRef(h.p, t)
	size, align := r.Size(), r.Align()
	r.Drop()

	// Stale copies must fail Lookup from here on, whether or not Free succeeds.
	dispatch.Clear(layout.DispatchSlot(h.p))
	h.p = tombstone

	l := layout.Plan(size, align)
	if err := a.Free(base, l.Size, l.Align); err != nil {
		narrow.Logger().Warn("manual destroy: free failed",
			zap.String("type", r.TypeName()),
			zap.Uintptr("base", uintptr(base)),
			zap.Error(err))
		return errors.New(errors.PhaseDestroy, kindOf(err)).
			GoType(r.TypeName()).
			Cause(err).
			Detail("release %s", l).
			Build()
	}
	return nil
}

// With constructs a handle for v, passes it to fn and destroys it when fn
// returns or panics.
func With[I any, T any](v T, fn func(Handle[I]) error) (err error) {
	a := Allocator()
	h, err := NewIn[I](a, v)
	if err != nil {
		return err
	}
	defer func() {
		if derr := h.DestroyIn(a); derr != nil && err == nil {
			err = derr
		}
	}()
	return fn(h)
}

func kindOf(err error) errors.Kind {
	var e *errors.Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return errors.KindAllocation
}
