package relay

import (
	"context"
	"sync"
)

// MemoryCursor keeps the position in process memory.
type MemoryCursor struct {
	mu  sync.Mutex
	seq uint64
}

// NewMemoryCursor starts at seq.
func NewMemoryCursor(seq uint64) *MemoryCursor {
	return &MemoryCursor{seq: seq}
}

func (c *MemoryCursor) Load(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq, nil
}

func (c *MemoryCursor) Save(_ context.Context, seq uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = seq
	return nil
}
