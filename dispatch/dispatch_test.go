package dispatch

import (
	"errors"
	"sync"
	"testing"
	"unsafe"

	nerrors "github.com/wippyai/narrow/errors"
	"github.com/wippyai/narrow/layout"
)

type counter interface {
	Get() int
}

type unit struct{}

func (unit) Get() int { return 1 }

type word struct{ x int }

func (w *word) Get() int { return w.x }

type wide struct {
	a uint8
	b int64
	c [3]uint16
}

func (w wide) Get() int { return int(w.a) + int(w.b) + int(w.c[2]) }

type lined struct{ v int32 }

func (l *lined) Get() int         { return int(l.v) }
func (*lined) Alignment() uintptr { return 64 }

type badAlign struct{}

func (badAlign) Get() int            { return 0 }
func (*badAlign) Alignment() uintptr { return 24 }

type dropping struct{ n *int }

func (d *dropping) Get() int { return *d.n }
func (d *dropping) Drop()    { *d.n++ }

type stranger struct{}

func TestOfIdentity(t *testing.T) {
	a := MustOf[counter, word]()
	b := MustOf[counter, word]()
	if a != b {
		t.Fatal("Of should return the same table for the same pair")
	}
	c := MustOf[counter, unit]()
	if a == c {
		t.Fatal("distinct types must have distinct tables")
	}
	if !Matches(a, b) || Matches(a, c) || Matches(nil, a) {
		t.Error("Matches must compare by identity")
	}
}

func TestOfConcurrentRegistration(t *testing.T) {
	type racer struct{ unit }

	var wg sync.WaitGroup
	got := make([]*Table[counter], 16)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = MustOf[counter, racer]()
		}(i)
	}
	wg.Wait()
	for i := 1; i < len(got); i++ {
		if got[i] != got[0] {
			t.Fatalf("goroutine %d observed a different table", i)
		}
	}
}

func TestTableMetadata(t *testing.T) {
	tests := []struct {
		name        string
		table       func() *Table[counter]
		size        uintptr
		align       uintptr
		overaligned bool
		needsDrop   bool
		pointerFree bool
	}{
		{"zero_sized", MustOf[counter, unit], 0, 1, false, false, true},
		{"word", MustOf[counter, word], unsafe.Sizeof(word{}), unsafe.Alignof(word{}), false, false, true},
		{"multi_field", MustOf[counter, wide], unsafe.Sizeof(wide{}), unsafe.Alignof(wide{}), false, false, true},
		{"overaligned", MustOf[counter, lined], 4, 64, true, false, true},
		{"dropping", MustOf[counter, dropping], unsafe.Sizeof(dropping{}), unsafe.Alignof(dropping{}), false, true, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tbl := tc.table()
			if tbl.Size() != tc.size {
				t.Errorf("size: got %d, want %d", tbl.Size(), tc.size)
			}
			if tbl.Align() != tc.align {
				t.Errorf("align: got %d, want %d", tbl.Align(), tc.align)
			}
			if tbl.Overaligned() != tc.overaligned {
				t.Errorf("overaligned: got %v, want %v", tbl.Overaligned(), tc.overaligned)
			}
			if tbl.NeedsDrop() != tc.needsDrop {
				t.Errorf("needs drop: got %v, want %v", tbl.NeedsDrop(), tc.needsDrop)
			}
			if tbl.PointerFree() != tc.pointerFree {
				t.Errorf("pointer free: got %v, want %v", tbl.PointerFree(), tc.pointerFree)
			}
			if tbl.Layout() != layout.Plan(tc.size, tc.align) {
				t.Errorf("layout: got %v", tbl.Layout())
			}
			if tbl.Interface() != "dispatch.counter" {
				t.Errorf("interface name: got %q", tbl.Interface())
			}
		})
	}
}

func TestOfErrors(t *testing.T) {
	_, err := Of[counter, stranger]()
	if !errors.Is(err, &nerrors.Error{Phase: nerrors.PhaseRegister, Kind: nerrors.KindTypeMismatch}) {
		t.Errorf("non-implementing type: got %v", err)
	}

	_, err = Of[word, word]()
	if !errors.Is(err, &nerrors.Error{Phase: nerrors.PhaseRegister, Kind: nerrors.KindInvalidInput}) {
		t.Errorf("non-interface target: got %v", err)
	}

	_, err = Of[counter, badAlign]()
	if !errors.Is(err, &nerrors.Error{Phase: nerrors.PhaseRegister, Kind: nerrors.KindAlignment}) {
		t.Errorf("bad declared alignment: got %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Error("MustOf should panic on error")
		}
	}()
	MustOf[counter, stranger]()
}

func TestRefDispatch(t *testing.T) {
	w := &word{x: 42}
	r := NewRef(unsafe.Pointer(w), MustOf[counter, word]())

	if r.Value().Get() != 42 {
		t.Errorf("Get: got %d, want 42", r.Value().Get())
	}
	w.x = 7
	if r.Value().Get() != 7 {
		t.Error("Value must share payload memory")
	}
	if r.Size() != unsafe.Sizeof(word{}) || r.Align() != unsafe.Alignof(word{}) {
		t.Errorf("size/align: got %d/%d", r.Size(), r.Align())
	}
	if r.TypeName() != "dispatch.word" {
		t.Errorf("type name: got %q", r.TypeName())
	}
	if r.IsZero() {
		t.Error("IsZero on populated ref")
	}
	if !(Ref[counter]{}).IsZero() {
		t.Error("zero Ref should report IsZero")
	}
}

func TestCast(t *testing.T) {
	w := &wide{a: 1, b: 2, c: [3]uint16{0, 0, 3}}
	r := NewRef(unsafe.Pointer(w), MustOf[counter, wide]())

	got, ok := Cast[wide](r)
	if !ok || got != w {
		t.Fatalf("Cast[wide]: got %v, %v", got, ok)
	}
	if _, ok := Cast[word](r); ok {
		t.Error("Cast[word] should fail for a wide payload")
	}
	if _, ok := Cast[stranger](r); ok {
		t.Error("Cast to a non-implementing type should fail")
	}
	if _, ok := Cast[wide](Ref[counter]{}); ok {
		t.Error("Cast on a zero Ref should fail")
	}
}

func TestDrop(t *testing.T) {
	n := 0
	d := &dropping{n: &n}
	r := NewRef(unsafe.Pointer(d), MustOf[counter, dropping]())
	r.Drop()
	r.Drop()
	if n != 2 {
		t.Errorf("drop count: got %d, want 2", n)
	}

	// Types without Drop are a no-op.
	NewRef(unsafe.Pointer(&word{}), MustOf[counter, word]()).Drop()
}

func TestSlotRoundTrip(t *testing.T) {
	var slot uintptr = 0xdeadbeef
	tbl := MustOf[counter, word]()

	Store(unsafe.Pointer(&slot), tbl)
	if Load[counter](unsafe.Pointer(&slot)) != tbl {
		t.Fatal("Load did not return the stored table")
	}
	Clear(unsafe.Pointer(&slot))
	if slot != 0 || Load[counter](unsafe.Pointer(&slot)) != nil {
		t.Error("Clear should zero the slot")
	}
}

func TestRegistered(t *testing.T) {
	type fresh struct{ unit }
	before := Registered()
	MustOf[counter, fresh]()
	MustOf[counter, fresh]()
	if Registered() != before+1 {
		t.Errorf("registered: got %d, want %d", Registered(), before+1)
	}
	if MustOf[counter, fresh]().Seq() == 0 {
		t.Error("Seq should start at 1")
	}
}

type other interface {
	Get() int
}

func TestLookup(t *testing.T) {
	tbl := MustOf[counter, word]()

	var slot uintptr
	p := unsafe.Pointer(&slot)

	if _, ok := Lookup[counter](p); ok {
		t.Error("Lookup succeeded on an empty slot")
	}

	Store(p, tbl)
	got, ok := Lookup[counter](p)
	if !ok || got != tbl {
		t.Errorf("got %p, %v, want %p", got, ok, tbl)
	}

	// The same address registered for another interface is not a match.
	if _, ok := Lookup[other](p); ok {
		t.Error("Lookup matched a table of a different interface")
	}

	slot = 0xdddddddd
	if _, ok := Lookup[counter](p); ok {
		t.Error("Lookup accepted garbage")
	}

	Clear(p)
	if slot != 0 {
		t.Errorf("got slot %#x after Clear, want 0", slot)
	}
}
