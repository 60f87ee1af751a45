package alloc

import (
	"bytes"
	"context"
	"math"
	"testing"

	"github.com/wippyai/narrow/errors"
)

func newLinear(t *testing.T, cfg *Config) *Linear {
	t.Helper()
	l, err := NewLinear(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewLinear failed: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLinear(t *testing.T) {
	exerciseAllocator(t, newLinear(t, nil))
}

func TestLinear_ReuseAfterCoalesce(t *testing.T) {
	l := newLinear(t, &Config{MaxPages: 2})

	a, err := l.Alloc(32, 8)
	if err != nil {
		t.Fatal(err)
	}
	b, err := l.Alloc(32, 8)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Free(a, 32, 8); err != nil {
		t.Fatal(err)
	}
	if err := l.Free(b, 32, 8); err != nil {
		t.Fatal(err)
	}

	c, err := l.Alloc(64, 8)
	if err != nil {
		t.Fatal(err)
	}
	if c != a {
		t.Errorf("got %p, want coalesced block at %p", c, a)
	}
	if err := l.Free(c, 64, 8); err != nil {
		t.Fatal(err)
	}
	if got, want := l.FreeBytes(), uint64(l.Pages())*wasmPageSize-linearReserved; got != want {
		t.Errorf("got %d free bytes, want %d", got, want)
	}
}

func TestLinear_Grow(t *testing.T) {
	l := newLinear(t, &Config{MaxPages: 4})
	if got := l.Pages(); got != 1 {
		t.Fatalf("got %d initial pages, want 1", got)
	}

	p, err := l.Alloc(100_000, 8)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	if got := l.Pages(); got < 2 {
		t.Errorf("got %d pages, want growth", got)
	}
	if err := l.Free(p, 100_000, 8); err != nil {
		t.Fatal(err)
	}
}

func TestLinear_Exhausted(t *testing.T) {
	l := newLinear(t, &Config{MaxPages: 2})

	_, err := l.Alloc(3*wasmPageSize, 8)
	if got := kindOf(err); got != errors.KindAllocation {
		t.Errorf("got kind %q, want %q", got, errors.KindAllocation)
	}
	if st := l.Stats(); st.Failures != 1 {
		t.Errorf("got %d failures, want 1", st.Failures)
	}
}

func TestLinear_InvalidLimit(t *testing.T) {
	_, err := NewLinear(context.Background(), &Config{MaxPages: maxLinearPages + 1})
	if got := kindOf(err); got != errors.KindInvalidInput {
		t.Errorf("got kind %q, want %q", got, errors.KindInvalidInput)
	}
}

func TestLinear_Closed(t *testing.T) {
	l, err := NewLinear(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	_, err = l.Alloc(8, 8)
	if got := kindOf(err); got != errors.KindClosed {
		t.Errorf("got kind %q, want %q", got, errors.KindClosed)
	}
	if err := l.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestLinear_TakeHighAlignment(t *testing.T) {
	tests := []struct {
		name   string
		free   span
		size   uint32
		align  uint32
		want   uint32
		wantOK bool
	}{
		{"fits at 2GB", span{off: 16, size: math.MaxUint32 - 16}, 16, 1 << 31, 1 << 31, true},
		{"aligned start past 4GB", span{off: 1<<31 + 16, size: 1<<31 - 17}, 16, 1 << 31, 0, false},
		{"exact end", span{off: 0, size: 64}, 64, 64, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &Linear{free: []span{tt.free}}
			got, ok := l.take(tt.size, tt.align)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("got %d, %v, want %d, %v", got, ok, tt.want, tt.wantOK)
			}
			if !ok && (len(l.free) != 1 || l.free[0] != tt.free) {
				t.Errorf("free list changed on failure: %+v", l.free)
			}
			for _, s := range l.free {
				if uint64(s.off)+uint64(s.size) > math.MaxUint32 {
					t.Errorf("span %+v runs past the address space", s)
				}
			}
		})
	}
}

func TestMemoryModule(t *testing.T) {
	got := memoryModule(1, 2)
	want := []byte{
		0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
		0x05, 0x04, 0x01, 0x01, 0x01, 0x02,
		0x07, 0x0a, 0x01, 0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
	}
	if !bytes.Equal(got, want) {
		t.Errorf("got % x, want % x", got, want)
	}
}

func TestWriteLEB128u(t *testing.T) {
	tests := []struct {
		v    uint32
		want []byte
	}{
		{0, []byte{0x00}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{624485, []byte{0xe5, 0x8e, 0x26}},
		{65535, []byte{0xff, 0xff, 0x03}},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		writeLEB128u(&buf, tt.v)
		if !bytes.Equal(buf.Bytes(), tt.want) {
			t.Errorf("writeLEB128u(%d) = % x, want % x", tt.v, buf.Bytes(), tt.want)
		}
	}
}
