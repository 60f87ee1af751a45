package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wippyai/narrow/layout"
)

type planSpec struct {
	size  uintptr
	align uintptr
}

// parsePlanSpec parses "size:align" or a bare size with alignment 1.
func parsePlanSpec(s string) (planSpec, error) {
	sizeStr, alignStr, found := strings.Cut(s, ":")
	size, err := strconv.ParseUint(sizeStr, 0, 64)
	if err != nil {
		return planSpec{}, fmt.Errorf("invalid size %q: %w", sizeStr, err)
	}
	align := uint64(1)
	if found {
		align, err = strconv.ParseUint(alignStr, 0, 64)
		if err != nil {
			return planSpec{}, fmt.Errorf("invalid alignment %q: %w", alignStr, err)
		}
	}
	return planSpec{size: uintptr(size), align: uintptr(align)}, nil
}

// renderPlan returns a plain-text description of the combined block for a
// payload.
func renderPlan(size, align uintptr) (string, error) {
	if err := layout.Check(size, align); err != nil {
		return "", err
	}
	l := layout.Plan(size, align)

	var b strings.Builder
	fmt.Fprintf(&b, "payload size=%d align=%d\n", size, align)
	fmt.Fprintf(&b, "  block    %s\n", l)
	fmt.Fprintf(&b, "  diagram  %s\n", diagram(l))
	fmt.Fprintf(&b, "  union    %s\n", unionVerdict(align))
	return b.String(), nil
}

// diagram draws the block as [pad][dispatch][payload] segments.
func diagram(l layout.Layout) string {
	var parts []string
	if pad := l.Padding(); pad > 0 {
		parts = append(parts, fmt.Sprintf("[pad %d]", pad))
	}
	parts = append(parts, fmt.Sprintf("[dispatch %d]", layout.WordSize))
	parts = append(parts, fmt.Sprintf("[payload %d]", l.PayloadSize()))
	return strings.Join(parts, "")
}

func unionVerdict(align uintptr) string {
	if align > layout.WordSize {
		return fmt.Sprintf("rejected (align %d > word %d)", align, layout.WordSize)
	}
	return "ok"
}
