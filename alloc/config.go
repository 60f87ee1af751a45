package alloc

import (
	"github.com/wippyai/narrow/errors"
	"github.com/wippyai/narrow/layout"
)

const (
	defaultChunkSize = 64 << 10
	defaultMaxPages  = 256 // 16MB
	wasmPageSize     = 64 << 10
	poisonByte       = 0xdd
)

// Config holds allocator configuration. A nil *Config means defaults.
type Config struct {
	// ChunkSize is the size of each slab mapping in the mmap allocator.
	// It is rounded up to the page size. 0 means 64KB.
	ChunkSize uintptr `yaml:"chunk_size"`

	// MaxPages caps the linear memory in 64KB pages and is allocated up front.
	// 0 means 256 pages (16MB). The limit is 65535 pages.
	MaxPages uint32 `yaml:"max_pages"`

	// Poison fills released blocks with 0xdd so stale reads are visible.
	Poison bool `yaml:"poison"`
}

func (c *Config) chunkSize() uintptr {
	if c == nil || c.ChunkSize == 0 {
		return defaultChunkSize
	}
	return c.ChunkSize
}

func (c *Config) maxPages() uint32 {
	if c == nil || c.MaxPages == 0 {
		return defaultMaxPages
	}
	return c.MaxPages
}

func validate(phase errors.Phase, size, align uintptr) error {
	if err := layout.Check(size, align); err != nil {
		return errors.Wrap(phase, errors.KindInvalidInput, err, "invalid block geometry")
	}
	return nil
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}
