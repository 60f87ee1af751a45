package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"sync/atomic"
	"unsafe"

	"github.com/wippyai/narrow"
	"github.com/wippyai/narrow/alloc"
	"github.com/wippyai/narrow/gc"
	"github.com/wippyai/narrow/manual"
	"github.com/wippyai/narrow/table"
)

// Shape is the interface every demo payload is viewed through.
type Shape interface {
	Area() float64
	Scale(f float64)
}

type Circle struct {
	R float64
}

func (c Circle) Area() float64    { return math.Pi * c.R * c.R }
func (c *Circle) Scale(f float64) { c.R *= f }
func (c Circle) String() string   { return fmt.Sprintf("circle(r=%g)", c.R) }

type Rect struct {
	W, H float64
}

func (r Rect) Area() float64    { return r.W * r.H }
func (r *Rect) Scale(f float64) { r.W *= f; r.H *= f }

var drops atomic.Int64

// Sprite counts its drops so the demo can show destruction.
type Sprite struct {
	ID   uint32
	W, H uint16
}

func (s Sprite) Area() float64 { return float64(s.W) * float64(s.H) }
func (s *Sprite) Scale(f float64) {
	s.W = uint16(float64(s.W) * f)
	s.H = uint16(float64(s.H) * f)
}
func (s *Sprite) Drop() { drops.Add(1) }

func newAllocator(name string, cfg *alloc.Config) (narrow.Allocator, func() error, error) {
	switch name {
	case "heap":
		h := alloc.NewHeapWithConfig(cfg)
		return h, h.Close, nil
	case "mmap":
		m, err := alloc.NewMmap(cfg)
		if err != nil {
			return nil, nil, err
		}
		return m, m.Close, nil
	case "linear":
		l, err := alloc.NewLinear(context.Background(), cfg)
		if err != nil {
			return nil, nil, err
		}
		return l, l.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown allocator %q", name)
}

func demo(w io.Writer, cfg runConfig) error {
	fmt.Fprintf(w, "backend: %s\n", cfg.Backend)
	start := drops.Load()
	n := cfg.Count

	var err error
	switch cfg.Backend {
	case narrow.BackendManual:
		err = demoManual(w, cfg.Allocator, &cfg.Alloc, n)
	case narrow.BackendTracingGC:
		err = demoGC(w, n)
	case narrow.BackendTracingGCUnion:
		err = demoUnion(w, n)
	default:
		err = fmt.Errorf("unsupported backend %s", cfg.Backend)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "drops: %d\n", drops.Load()-start)
	return nil
}

// payload returns the i-th demo object, cycling through the payload types.
func payload(i int) any {
	switch i % 3 {
	case 0:
		return Circle{R: float64(i + 1)}
	case 1:
		return Rect{W: float64(i + 1), H: 2}
	default:
		return Sprite{ID: uint32(i), W: 4, H: 4}
	}
}

func demoManual(w io.Writer, allocName string, cfg *alloc.Config, n int) error {
	a, closeAlloc, err := newAllocator(allocName, cfg)
	if err != nil {
		return err
	}
	defer closeAlloc()

	fmt.Fprintf(w, "allocator: %s\n", allocName)
	fmt.Fprintf(w, "handle size: %d bytes\n", unsafe.Sizeof(manual.Handle[Shape]{}))

	tbl := table.New[Shape](a)
	tbl.Subscribe(table.ObserverFunc(func(e table.Event) {
		fmt.Fprintf(w, "  event %-7s id=%d %s\n", e.Type, e.ID, e.TypeName)
	}))

	for i := 0; i < n; i++ {
		var id table.ID
		switch v := payload(i).(type) {
		case Circle:
			id, err = table.Insert(tbl, v)
		case Rect:
			id, err = table.Insert(tbl, v)
		case Sprite:
			id, err = table.Insert(tbl, v)
		}
		if err != nil {
			return fmt.Errorf("insert %d: %w", i, err)
		}

		s, _ := tbl.Get(id)
		fmt.Fprintf(w, "  id=%d area=%.2f", id, s.Area())
		s.Scale(2)
		if c, ok := table.Downcast[Circle](tbl, id); ok {
			fmt.Fprintf(w, " downcast=%s", c)
		}
		fmt.Fprintf(w, " scaled=%.2f\n", s.Area())
	}

	if st, ok := a.(interface{ Stats() alloc.Stats }); ok {
		printStats(w, st.Stats())
	}
	if err := tbl.Close(); err != nil {
		return fmt.Errorf("close table: %w", err)
	}
	if st, ok := a.(interface{ Stats() alloc.Stats }); ok {
		printStats(w, st.Stats())
	}
	return nil
}

func newGC(v any) (gc.Handle[Shape], error) {
	switch v := v.(type) {
	case Circle:
		return gc.New[Shape](v)
	case Rect:
		return gc.New[Shape](v)
	case Sprite:
		return gc.New[Shape](v)
	}
	return gc.Handle[Shape]{}, fmt.Errorf("unexpected payload %T", v)
}

func demoGC(w io.Writer, n int) error {
	fmt.Fprintf(w, "handle size: %d bytes\n", unsafe.Sizeof(gc.Handle[Shape]{}))

	handles := make([]gc.Handle[Shape], 0, n)
	for i := 0; i < n; i++ {
		h, err := newGC(payload(i))
		if err != nil {
			return err
		}
		handles = append(handles, h)

		fmt.Fprintf(w, "  #%d area=%.2f", i, h.Deref().Area())
		if c, ok := gc.Downcast[Circle](h); ok {
			fmt.Fprintf(w, " downcast=%s", c)
			if gc.Recover[Shape](c) != h {
				return fmt.Errorf("recover returned a different handle")
			}
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "pending finalizers: %d\n", gc.Pending())

	for _, h := range handles {
		if err := h.Destroy(); err != nil {
			return err
		}
	}
	fmt.Fprintf(w, "pending finalizers after destroy: %d\n", gc.Pending())
	return nil
}

// entity embeds its shape inline instead of pointing at a separate block.
type entity struct {
	name   string
	circle gc.Inline[Shape, Circle]
	sprite gc.Inline[Shape, Sprite]
}

func demoUnion(w io.Writer, n int) error {
	fmt.Fprintf(w, "inline header size: %d bytes\n", unsafe.Sizeof(gc.Header[Shape]{}))

	entities := make([]*entity, n)
	for i := range entities {
		e := &entity{name: fmt.Sprintf("entity-%d", i)}
		if err := gc.Embed(&e.circle, Circle{R: float64(i + 1)}); err != nil {
			return err
		}
		if err := gc.Embed(&e.sprite, Sprite{ID: uint32(i), W: 2, H: 3}); err != nil {
			return err
		}
		entities[i] = e

		shapes := []gc.Handle[Shape]{e.circle.Handle(), e.sprite.Handle()}
		total := 0.0
		for _, h := range shapes {
			total += h.Deref().Area()
		}
		fmt.Fprintf(w, "  %s total area=%.2f\n", e.name, total)
	}

	for _, e := range entities {
		if err := e.sprite.Handle().Destroy(); err != nil {
			return err
		}
	}
	return nil
}

func printStats(w io.Writer, s alloc.Stats) {
	fmt.Fprintf(w, "stats: allocs=%d frees=%d live=%d live_bytes=%d peak_bytes=%d\n",
		s.Allocs, s.Frees, s.Live, s.LiveBytes, s.PeakBytes)
}
