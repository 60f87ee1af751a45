package gc

import (
	"github.com/wippyai/narrow/dispatch"
	"github.com/wippyai/narrow/errors"
	"github.com/wippyai/narrow/layout"
)

// Inline holds a header and a payload in place, for embedding in a larger
// collector-owned object.
type Inline[I any, T any] struct {
	Header[I]
	Value T
}

// Embed writes the header and v into dst without allocating. T must not need
// more than word alignment.
func Embed[I any, T any](dst *Inline[I, T], v T) error {
	if dst == nil {
		return errors.NilHandle(errors.PhaseEmbed)
	}
	t, err := dispatch.Of[I, T]()
	if err != nil {
		return err
	}
	if t.Align() > layout.WordSize {
		return errors.Alignment(errors.PhaseEmbed, t.Name(), t.Align(), layout.WordSize)
	}
	dst.Value = v
	dst.table = t
	return nil
}

// MustEmbed is like Embed but panics on error.
func MustEmbed[I any, T any](dst *Inline[I, T], v T) {
	if err := Embed(dst, v); err != nil {
		panic(err)
	}
}

// Handle returns a handle to the embedded payload. It keeps the enclosing
// object alive.
func (in *Inline[I, T]) Handle() Handle[I] {
	return Handle[I]{h: &in.Header}
}

// Embedded reports whether Embed has initialized in and it was not destroyed.
func (in *Inline[I, T]) Embedded() bool {
	return in.table != nil
}
