package manual

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"unsafe"

	"github.com/wippyai/narrow"
	"github.com/wippyai/narrow/alloc"
	"github.com/wippyai/narrow/errors"
	"github.com/wippyai/narrow/layout"
)

type shape interface {
	Area() int
	Grow(n int)
}

type point struct{}

func (point) Area() int   { return 0 }
func (*point) Grow(n int) {}

type square struct {
	side int
}

func (s square) Area() int   { return s.side * s.side }
func (s *square) Grow(n int) { s.side += n }

type rect struct {
	w, h int32
	tag  uint8
}

func (r rect) Area() int { return int(r.w) * int(r.h) }
func (r *rect) Grow(n int) {
	r.w += int32(n)
	r.h += int32(n)
}

type page struct {
	words [4]uint64
}

func (p page) Area() int   { return int(p.words[0]) }
func (p *page) Grow(n int) { p.words[0] += uint64(n) }
func (page) Alignment() uintptr {
	return 1024
}

var dropped atomic.Int64

type tracked struct {
	id int
}

func (t tracked) Area() int   { return t.id }
func (t *tracked) Grow(n int) { t.id += n }
func (t *tracked) Drop()      { dropped.Add(1) }

type named struct {
	name string
}

func (n named) Area() int { return len(n.name) }
func (n *named) Grow(int) {}

func errKind(err error) errors.Kind {
	var e *errors.Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// useHeap installs a fresh heap allocator for the duration of the test.
func useHeap(t *testing.T) *alloc.Heap {
	t.Helper()
	h := alloc.NewHeap()
	prev := SetAllocator(h)
	t.Cleanup(func() { SetAllocator(prev) })
	return h
}

// allocators returns every allocator available on this platform.
func allocators(t *testing.T) map[string]narrow.Allocator {
	t.Helper()
	out := map[string]narrow.Allocator{"heap": alloc.NewHeap()}

	if m, err := alloc.NewMmap(nil); err == nil {
		t.Cleanup(func() { m.Close() })
		out["mmap"] = m
	}

	l, err := alloc.NewLinear(context.Background(), nil)
	if err != nil {
		t.Fatalf("NewLinear failed: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	out["linear"] = l
	return out
}

func TestHandleSize(t *testing.T) {
	if got := unsafe.Sizeof(Handle[shape]{}); got != layout.WordSize {
		t.Errorf("got handle size %d, want %d", got, layout.WordSize)
	}
}

func TestNew_Deref(t *testing.T) {
	useHeap(t)

	tests := []struct {
		name string
		make func() (Handle[shape], error)
		want int
	}{
		{"zero sized", func() (Handle[shape], error) { return New[shape](point{}) }, 0},
		{"word sized", func() (Handle[shape], error) { return New[shape](square{side: 7}) }, 49},
		{"multi field", func() (Handle[shape], error) { return New[shape](rect{w: 3, h: 5, tag: 1}) }, 15},
		{"over-aligned", func() (Handle[shape], error) { return New[shape](page{words: [4]uint64{42}}) }, 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := tt.make()
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			defer h.Destroy()

			if h.IsNil() {
				t.Fatal("expected non-nil handle")
			}
			for i := 0; i < 3; i++ {
				if got := h.Deref().Area(); got != tt.want {
					t.Errorf("Deref #%d: got area %d, want %d", i, got, tt.want)
				}
			}
		})
	}
}

func TestDowncast(t *testing.T) {
	useHeap(t)

	h := MustNew[shape](rect{w: 2, h: 9, tag: 4})
	defer h.Destroy()

	r, ok := Downcast[rect](h)
	if !ok {
		t.Fatal("Downcast[rect] failed")
	}
	if r.w != 2 || r.h != 9 || r.tag != 4 {
		t.Errorf("got %+v, want {w:2 h:9 tag:4}", *r)
	}
	if _, ok := Downcast[square](h); ok {
		t.Error("Downcast[square] succeeded on a rect")
	}
	if _, ok := Downcast[int](h); ok {
		t.Error("Downcast[int] succeeded")
	}
	if uintptr(unsafe.Pointer(r)) != uintptr(h.p) {
		t.Error("downcast pointer does not address the payload")
	}
}

func TestDerefMut(t *testing.T) {
	useHeap(t)

	h := MustNew[shape](square{side: 2})
	defer h.Destroy()

	h.DerefMut().Grow(3)
	if got := h.Deref().Area(); got != 25 {
		t.Errorf("got area %d, want 25", got)
	}
	sq, _ := Downcast[square](h)
	sq.side = 10
	if got := h.Deref().Area(); got != 100 {
		t.Errorf("got area %d after downcast write, want 100", got)
	}
}

func TestOverAligned_EveryAllocator(t *testing.T) {
	for name, a := range allocators(t) {
		t.Run(name, func(t *testing.T) {
			h, err := NewIn[shape](a, page{words: [4]uint64{1, 2, 3, 4}})
			if err != nil {
				t.Fatalf("NewIn failed: %v", err)
			}

			p, ok := Downcast[page](h)
			if !ok {
				t.Fatal("Downcast[page] failed")
			}
			if addr := uintptr(unsafe.Pointer(p)); addr%1024 != 0 {
				t.Errorf("payload %#x not aligned to 1024", addr)
			}
			if p.words != [4]uint64{1, 2, 3, 4} {
				t.Errorf("got %v, want [1 2 3 4]", p.words)
			}
			if got := h.Deref().Area(); got != 1 {
				t.Errorf("got area %d, want 1", got)
			}
			if err := h.DestroyIn(a); err != nil {
				t.Fatalf("DestroyIn failed: %v", err)
			}
		})
	}
}

func TestDrop_Count(t *testing.T) {
	for name, a := range allocators(t) {
		t.Run(name, func(t *testing.T) {
			const n = 64
			start := dropped.Load()

			handles := make([]Handle[shape], 0, n)
			for i := 0; i < n; i++ {
				h, err := NewIn[shape](a, tracked{id: i})
				if err != nil {
					t.Fatalf("NewIn #%d failed: %v", i, err)
				}
				handles = append(handles, h)
			}
			for i, h := range handles {
				if got := h.Deref().Area(); got != i {
					t.Errorf("handle %d: got %d", i, got)
				}
			}
			for i := range handles {
				if err := handles[i].DestroyIn(a); err != nil {
					t.Fatalf("DestroyIn #%d failed: %v", i, err)
				}
			}

			if got := dropped.Load() - start; got != n {
				t.Errorf("got %d drops, want %d", got, n)
			}
		})
	}
}

func TestDestroy_Twice(t *testing.T) {
	useHeap(t)

	h := MustNew[shape](square{side: 1})
	if err := h.Destroy(); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if !h.Destroyed() {
		t.Error("expected Destroyed after Destroy")
	}
	err := h.Destroy()
	if got := errKind(err); got != errors.KindDestroyed {
		t.Errorf("got kind %q, want %q", got, errors.KindDestroyed)
	}
	if _, ok := Downcast[square](h); ok {
		t.Error("Downcast succeeded on destroyed handle")
	}
}

func TestDestroy_Copy(t *testing.T) {
	useHeap(t)
	start := dropped.Load()

	h := MustNew[shape](tracked{id: 1})
	c := h
	if err := h.Destroy(); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	err := c.Destroy()
	if got := errKind(err); got != errors.KindDoubleFree {
		t.Errorf("got kind %q, want %q", got, errors.KindDoubleFree)
	}
	if got := dropped.Load() - start; got != 1 {
		t.Errorf("got %d drops, want 1", got)
	}
}

func TestDestroy_Nil(t *testing.T) {
	var h Handle[shape]
	if err := h.Destroy(); err != nil {
		t.Errorf("got %v, want nil", err)
	}
	if !h.IsNil() || h.Destroyed() {
		t.Error("zero handle changed state on Destroy")
	}
}

// plainAlloc hides Owns so destruction cannot rely on it.
type plainAlloc struct {
	heap *alloc.Heap
}

func (p plainAlloc) Alloc(size, align uintptr) (unsafe.Pointer, error) {
	return p.heap.Alloc(size, align)
}

func (p plainAlloc) Free(ptr unsafe.Pointer, size, align uintptr) error {
	return p.heap.Free(ptr, size, align)
}

func TestDestroy_CopyWithoutOwns(t *testing.T) {
	a := plainAlloc{heap: alloc.NewHeap()}
	start := dropped.Load()

	h, err := NewIn[shape](a, tracked{id: 2})
	if err != nil {
		t.Fatal(err)
	}
	c := h
	if err := h.DestroyIn(a); err != nil {
		t.Fatalf("DestroyIn failed: %v", err)
	}
	err = c.DestroyIn(a)
	if got := errKind(err); got != errors.KindDoubleFree {
		t.Errorf("got kind %q, want %q", got, errors.KindDoubleFree)
	}
	if got := dropped.Load() - start; got != 1 {
		t.Errorf("got %d drops, want 1", got)
	}
}

// failingFree accepts blocks but refuses to release them.
type failingFree struct {
	heap *alloc.Heap
}

func (f failingFree) Alloc(size, align uintptr) (unsafe.Pointer, error) {
	return f.heap.Alloc(size, align)
}

func (f failingFree) Free(unsafe.Pointer, uintptr, uintptr) error {
	return errors.New(errors.PhaseFree, errors.KindAllocation).Detail("refused").Build()
}

func TestDestroy_FreeFailureDropsOnce(t *testing.T) {
	a := failingFree{heap: alloc.NewHeap()}
	start := dropped.Load()

	h, err := NewIn[shape](a, tracked{id: 3})
	if err != nil {
		t.Fatal(err)
	}
	if got := errKind(h.DestroyIn(a)); got != errors.KindAllocation {
		t.Errorf("got kind %q, want %q", got, errors.KindAllocation)
	}
	if !h.Destroyed() {
		t.Error("handle must be destroyed after a failed free")
	}
	if got := errKind(h.DestroyIn(a)); got != errors.KindDestroyed {
		t.Errorf("got kind %q, want %q", got, errors.KindDestroyed)
	}
	if got := dropped.Load() - start; got != 1 {
		t.Errorf("got %d drops, want 1", got)
	}
}

func TestDeref_NilPanics(t *testing.T) {
	defer func() {
		r := recover()
		err, ok := r.(*errors.Error)
		if !ok || err.Kind != errors.KindNilHandle {
			t.Errorf("got panic %v, want nil handle error", r)
		}
	}()
	var h Handle[shape]
	h.Deref()
}

func TestNew_RejectsPointers(t *testing.T) {
	useHeap(t)

	_, err := New[shape](named{name: "x"})
	if got := errKind(err); got != errors.KindUnsupported {
		t.Errorf("got kind %q, want %q", got, errors.KindUnsupported)
	}
}

func TestNew_AllocationFailure(t *testing.T) {
	l, err := alloc.NewLinear(context.Background(), &alloc.Config{MaxPages: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	_, err = NewIn[shape](l, big{})
	if got := errKind(err); got != errors.KindAllocation {
		t.Errorf("got kind %q, want %q", got, errors.KindAllocation)
	}
}

type big struct {
	data [1 << 17]byte
}

func (big) Area() int { return 0 }
func (*big) Grow(int) {}

func TestWith(t *testing.T) {
	a := useHeap(t)
	start := dropped.Load()

	err := With[shape](tracked{id: 5}, func(h Handle[shape]) error {
		if got := h.Deref().Area(); got != 5 {
			t.Errorf("got area %d, want 5", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("With failed: %v", err)
	}
	if got := dropped.Load() - start; got != 1 {
		t.Errorf("got %d drops, want 1", got)
	}
	if st := a.Stats(); st.Live != 0 {
		t.Errorf("got %d live blocks, want 0", st.Live)
	}
}

func TestWith_Panic(t *testing.T) {
	a := useHeap(t)
	start := dropped.Load()

	func() {
		defer func() {
			if r := recover(); r != "boom" {
				t.Errorf("got panic %v, want boom", r)
			}
		}()
		_ = With[shape](tracked{id: 1}, func(h Handle[shape]) error {
			panic("boom")
		})
	}()

	if got := dropped.Load() - start; got != 1 {
		t.Errorf("got %d drops, want 1", got)
	}
	if st := a.Stats(); st.Live != 0 {
		t.Errorf("got %d live blocks, want 0", st.Live)
	}
}

func TestWith_PropagatesError(t *testing.T) {
	useHeap(t)
	want := stderrors.New("callback failed")

	err := With[shape](square{side: 1}, func(Handle[shape]) error { return want })
	if !stderrors.Is(err, want) {
		t.Errorf("got %v, want %v", err, want)
	}
}

func TestSetAllocator(t *testing.T) {
	h := alloc.NewHeap()
	prev := SetAllocator(h)
	defer SetAllocator(prev)

	if Allocator() != narrow.Allocator(h) {
		t.Error("Allocator did not return the installed allocator")
	}
	if got := SetAllocator(prev); got != narrow.Allocator(h) {
		t.Error("SetAllocator did not return the previous allocator")
	}
}
