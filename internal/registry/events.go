package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/idregistry/idregistry/internal/account"
)

// Kind names a registry event.
type Kind string

const (
	KindVerified Kind = "verified"
	KindRevoked  Kind = "revoked"
)

// Event is one committed transition. Seq starts at 1 and follows commit order.
// IdentityHash is empty for revocations.
type Event struct {
	Seq          uint64          `json:"seq"`
	Kind         Kind            `json:"kind"`
	Subject      account.Address `json:"subject"`
	IdentityHash string          `json:"identity_hash,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Log is the append-only event stream of a Registry. Appends never block on
// subscribers; subscribers poll with Since or park in Wait.
type Log struct {
	mu      sync.RWMutex
	events  []Event
	changed chan struct{}
}

func newLog() *Log {
	return &Log{changed: make(chan struct{})}
}

func (l *Log) append(ev Event) Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	ev.Seq = uint64(len(l.events)) + 1
	l.events = append(l.events, ev)

	close(l.changed)
	l.changed = make(chan struct{})
	return ev
}

// Len returns the number of committed events, which is also the last Seq.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Since returns up to limit events with Seq greater than after. A limit of
// zero or less returns everything.
func (l *Log) Since(after uint64, limit int) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sinceLocked(after, limit)
}

// Wait blocks until events after the given sequence exist or ctx is done.
func (l *Log) Wait(ctx context.Context, after uint64, limit int) ([]Event, error) {
	for {
		l.mu.RLock()
		events := l.sinceLocked(after, limit)
		changed := l.changed
		l.mu.RUnlock()

		if len(events) > 0 {
			return events, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-changed:
		}
	}
}

func (l *Log) sinceLocked(after uint64, limit int) []Event {
	if after >= uint64(len(l.events)) {
		return nil
	}
	tail := l.events[after:]
	if limit > 0 && len(tail) > limit {
		tail = tail[:limit]
	}
	return append([]Event(nil), tail...)
}

func corrupt(ev Event, format string, args ...any) error {
	return fmt.Errorf("%w: event %d (%s %s): %s", ErrCorruptJournal, ev.Seq, ev.Kind, ev.Subject, fmt.Sprintf(format, args...))
}
