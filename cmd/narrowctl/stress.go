package main

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/narrow"
	"github.com/wippyai/narrow/alloc"
	"github.com/wippyai/narrow/gc"
	"github.com/wippyai/narrow/manual"
)

// stress constructs, uses and destroys cfg.Count objects spread across
// cfg.Workers goroutines, then checks that every object was dropped once.
func stress(ctx context.Context, w, progress io.Writer, cfg runConfig) error {
	if cfg.Count <= 0 {
		return fmt.Errorf("count must be positive")
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	var (
		a          narrow.Allocator
		closeAlloc = func() error { return nil }
	)
	if cfg.Backend == narrow.BackendManual {
		var err error
		a, closeAlloc, err = newAllocator(cfg.Allocator, &cfg.Alloc)
		if err != nil {
			return err
		}
	}
	defer closeAlloc()

	bar := progressbar.NewOptions(cfg.Count,
		progressbar.OptionSetWriter(progress),
		progressbar.OptionSetDescription(fmt.Sprintf("%s x%d", cfg.Backend, workers)),
		progressbar.OptionShowCount(),
	)
	defer bar.Close()

	start := drops.Load()
	var next atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	for worker := 0; worker < workers; worker++ {
		g.Go(func() error {
			for {
				if err := ctx.Err(); err != nil {
					return err
				}
				i := next.Add(1) - 1
				if i >= int64(cfg.Count) {
					return nil
				}
				if err := cycle(cfg.Backend, a, uint32(i)); err != nil {
					return fmt.Errorf("object %d: %w", i, err)
				}
				_ = bar.Add(1)
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	got := drops.Load() - start
	fmt.Fprintf(w, "\n%s: %d objects, %d drops\n", cfg.Backend, cfg.Count, got)
	if st, ok := a.(interface{ Stats() alloc.Stats }); ok {
		printStats(w, st.Stats())
	}
	if got != int64(cfg.Count) {
		return fmt.Errorf("got %d drops, want %d", got, cfg.Count)
	}
	return nil
}

// cycle runs one construct, deref, downcast and destroy round.
func cycle(backend narrow.Backend, a narrow.Allocator, id uint32) error {
	v := Sprite{ID: id, W: 3, H: 3}

	switch backend {
	case narrow.BackendManual:
		h, err := manual.NewIn[Shape](a, v)
		if err != nil {
			return err
		}
		sp, ok := manual.Downcast[Sprite](h)
		if err := check(h.Deref(), sp, ok); err != nil {
			return err
		}
		return h.DestroyIn(a)

	case narrow.BackendTracingGC:
		h, err := gc.New[Shape](v)
		if err != nil {
			return err
		}
		sp, ok := gc.Downcast[Sprite](h)
		if err := check(h.Deref(), sp, ok); err != nil {
			return err
		}
		return h.Destroy()

	case narrow.BackendTracingGCUnion:
		e := &struct {
			id     uint32
			sprite gc.Inline[Shape, Sprite]
		}{id: id}
		if err := gc.Embed(&e.sprite, v); err != nil {
			return err
		}
		h := e.sprite.Handle()
		sp, ok := gc.Downcast[Sprite](h)
		if err := check(h.Deref(), sp, ok); err != nil {
			return err
		}
		return h.Destroy()
	}
	return fmt.Errorf("unsupported backend %s", backend)
}

func check(s Shape, sp *Sprite, ok bool) error {
	if !ok {
		return fmt.Errorf("downcast to Sprite failed")
	}
	if s.Area() != 9 || sp.W != 3 {
		return fmt.Errorf("payload corrupted: area=%g sprite=%+v", s.Area(), *sp)
	}
	return nil
}
