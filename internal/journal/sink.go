package journal

import (
	"context"
	"errors"
	"sync"

	"github.com/idregistry/idregistry/internal/registry"
)

// Sink feeds relay batches into a Journal. It doubles as the relay cursor:
// the journal's last sequence is the position to resume from. It also tracks
// that position as the durable watermark readers may be served up to.
type Sink struct {
	journal Journal

	mu      sync.RWMutex
	durable uint64
	changed chan struct{}
}

// NewSink wraps j.
func NewSink(j Journal) *Sink {
	return &Sink{journal: j, changed: make(chan struct{})}
}

func (s *Sink) Name() string { return "journal" }

// Handle appends the batch. Events another writer already stored are skipped.
func (s *Sink) Handle(ctx context.Context, events []registry.Event) error {
	if err := s.append(ctx, events); err != nil {
		return err
	}
	if len(events) > 0 {
		s.advance(events[len(events)-1].Seq)
	}
	return nil
}

func (s *Sink) append(ctx context.Context, events []registry.Event) error {
	err := s.journal.Append(ctx, events...)
	if !errors.Is(err, ErrDuplicateEvent) {
		return err
	}

	last, err := s.journal.LastSeq(ctx)
	if err != nil {
		return err
	}
	for i, ev := range events {
		if ev.Seq > last {
			return s.journal.Append(ctx, events[i:]...)
		}
	}
	return nil
}

// Load returns the journal's last sequence and raises the watermark to it.
func (s *Sink) Load(ctx context.Context) (uint64, error) {
	seq, err := s.journal.LastSeq(ctx)
	if err != nil {
		return 0, err
	}
	s.advance(seq)
	return seq, nil
}

// Save is a no-op; Handle already made the position durable.
func (s *Sink) Save(context.Context, uint64) error {
	return nil
}

// Durable returns the highest sequence known to be stored.
func (s *Sink) Durable() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.durable
}

// WaitDurable blocks until the watermark passes after or ctx is done.
func (s *Sink) WaitDurable(ctx context.Context, after uint64) (uint64, error) {
	for {
		s.mu.RLock()
		durable, changed := s.durable, s.changed
		s.mu.RUnlock()
		if durable > after {
			return durable, nil
		}
		select {
		case <-ctx.Done():
			return durable, ctx.Err()
		case <-changed:
		}
	}
}

func (s *Sink) advance(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.durable {
		return
	}
	s.durable = seq
	close(s.changed)
	s.changed = make(chan struct{})
}
