// Package journal persists the registry event stream so a registry can be
// restored after a restart. The journal mirrors the in-memory log: strictly
// sequential, append-only, never rewritten.
package journal

import (
	"context"
	"errors"
	"fmt"

	"github.com/idregistry/idregistry/internal/registry"
)

var (
	// ErrDuplicateEvent indicates at least one event of the batch is already
	// stored. Nothing from the batch was written.
	ErrDuplicateEvent = errors.New("duplicate event")

	// ErrSequenceGap indicates the batch does not continue the stored
	// sequence.
	ErrSequenceGap = errors.New("event sequence gap")
)

// Journal defines the contract implemented by journal backends.
type Journal interface {
	Append(ctx context.Context, events ...registry.Event) error
	Load(ctx context.Context, after uint64) ([]registry.Event, error)
	LastSeq(ctx context.Context) (uint64, error)
}

// checkBatch validates that events continue last without holes.
func checkBatch(last uint64, events []registry.Event) error {
	for i, ev := range events {
		want := last + uint64(i) + 1
		switch {
		case ev.Seq <= last:
			return fmt.Errorf("%w: seq %d already stored (last %d)", ErrDuplicateEvent, ev.Seq, last)
		case ev.Seq != want:
			return fmt.Errorf("%w: got seq %d, want %d", ErrSequenceGap, ev.Seq, want)
		}
	}
	return nil
}
