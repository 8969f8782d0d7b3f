package journal

import (
	"context"
	"sync"

	"github.com/idregistry/idregistry/internal/registry"
)

type inMemoryJournal struct {
	mu     sync.RWMutex
	events []registry.Event
}

// NewInMemory creates a concurrency-safe in-memory journal for development
// and tests.
func NewInMemory() Journal {
	return &inMemoryJournal{}
}

func (j *inMemoryJournal) Append(_ context.Context, events ...registry.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := checkBatch(uint64(len(j.events)), events); err != nil {
		return err
	}
	j.events = append(j.events, events...)
	return nil
}

func (j *inMemoryJournal) Load(_ context.Context, after uint64) ([]registry.Event, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if after >= uint64(len(j.events)) {
		return nil, nil
	}
	return append([]registry.Event(nil), j.events[after:]...), nil
}

func (j *inMemoryJournal) LastSeq(_ context.Context) (uint64, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return uint64(len(j.events)), nil
}
