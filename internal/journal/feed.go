package journal

import (
	"context"

	"github.com/idregistry/idregistry/internal/registry"
)

// Feed serves the registry log only up to the journal's durable watermark.
// Events past it may vanish in a crash and be reissued under the same
// sequence numbers after a restore, so subscribers must not see them.
type Feed struct {
	log  *registry.Log
	sink *Sink
}

// NewFeed gates log behind sink.
func NewFeed(log *registry.Log, sink *Sink) *Feed {
	return &Feed{log: log, sink: sink}
}

// Since returns up to limit durable events after the given sequence.
func (f *Feed) Since(after uint64, limit int) []registry.Event {
	return confirmed(f.log.Since(after, limit), f.sink.Durable())
}

// Wait blocks until durable events after the given sequence exist.
func (f *Feed) Wait(ctx context.Context, after uint64, limit int) ([]registry.Event, error) {
	for {
		durable, err := f.sink.WaitDurable(ctx, after)
		if err != nil {
			return nil, err
		}
		if events := confirmed(f.log.Since(after, limit), durable); len(events) > 0 {
			return events, nil
		}
		// The journal is ahead of this log; only possible before a restore
		// caught up. Park on the log instead of spinning.
		if _, err := f.log.Wait(ctx, after, 1); err != nil {
			return nil, err
		}
	}
}

// Durable is the last sequence subscribers may see.
func (f *Feed) Durable() uint64 {
	return f.sink.Durable()
}

func confirmed(events []registry.Event, durable uint64) []registry.Event {
	for i, ev := range events {
		if ev.Seq > durable {
			return events[:i]
		}
	}
	return events
}
