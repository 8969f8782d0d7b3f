// Package registry holds the authoritative identity-verification state: one
// record per account, a count of verified records, the enumeration of
// submitters, and the ordered log of Verified/Revoked events.
//
// All mutations pass through a single write lock so a reader never observes a
// record update without the matching counter change and event.
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/idregistry/idregistry/internal/account"
)

var (
	// ErrEmptyHash rejects a submission without an identity commitment.
	ErrEmptyHash = errors.New("identity hash must not be empty")

	// ErrAlreadyVerified rejects a submission for an account whose record is
	// currently verified. Revoke first to re-submit.
	ErrAlreadyVerified = errors.New("identity already verified")

	// ErrUnauthorized rejects a revoke from anyone but the owner.
	ErrUnauthorized = errors.New("caller is not the registry owner")

	// ErrNotVerified rejects a revoke for an unset or already revoked record.
	ErrNotVerified = errors.New("identity not verified")

	// ErrCorruptJournal is returned by Restore when a persisted event stream
	// cannot be replayed through the transition rules.
	ErrCorruptJournal = errors.New("corrupt event journal")
)

// Status is the derived lifecycle state of a record.
type Status string

const (
	StatusUnset    Status = "unset"
	StatusVerified Status = "verified"
	StatusRevoked  Status = "revoked"
)

// Record is the per-account verification state. The zero value is the answer
// for an account that never submitted.
type Record struct {
	IdentityHash string
	Timestamp    time.Time
	Verified     bool
	SubmittedBy  account.Address
}

// Status collapses a record into Unset, Verified or Revoked. Submission only
// looks at Verified, so Unset and Revoked behave the same for it.
func (r Record) Status() Status {
	switch {
	case r.Verified:
		return StatusVerified
	case r.IdentityHash != "":
		return StatusRevoked
	default:
		return StatusUnset
	}
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithEnumerateResubmissions appends the subject to the enumeration on every
// successful submit, re-verifications included. Enumerating callers must then
// de-duplicate. Without it an account is listed once, on first submission.
func WithEnumerateResubmissions() Option {
	return func(r *Registry) {
		r.enumerateResubmissions = true
	}
}

// Registry is the single-writer verification state machine.
type Registry struct {
	owner                  account.Address
	now                    func() time.Time
	enumerateResubmissions bool

	mu            sync.RWMutex
	records       map[account.Address]Record
	accounts      []account.Address
	seen          map[account.Address]struct{}
	totalVerified int
	log           *Log
}

// New creates an empty registry administered by owner. The owner is fixed for
// the lifetime of the registry.
func New(owner account.Address, opts ...Option) *Registry {
	r := &Registry{
		owner:   owner,
		now:     time.Now,
		records: make(map[account.Address]Record),
		seen:    make(map[account.Address]struct{}),
		log:     newLog(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Restore rebuilds a registry by replaying events in sequence order through
// the same transition rules used by Submit and Revoke.
func Restore(owner account.Address, events []Event, opts ...Option) (*Registry, error) {
	r := New(owner, opts...)
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ev := range events {
		if err := r.replayLocked(ev); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Owner returns the identity allowed to revoke.
func (r *Registry) Owner() account.Address {
	return r.owner
}

// IsOwner reports whether id is the registry owner.
func (r *Registry) IsOwner(id account.Address) bool {
	return id == r.owner
}

// Submit marks the caller verified with the given identity hash. Accounts
// only ever submit for themselves.
func (r *Registry) Submit(caller account.Address, identityHash string) (Event, error) {
	if identityHash == "" {
		return Event{}, ErrEmptyHash
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.records[caller].Verified {
		return Event{}, ErrAlreadyVerified
	}

	return r.commitLocked(Event{
		Kind:         KindVerified,
		Subject:      caller,
		IdentityHash: identityHash,
		Timestamp:    r.timestamp(),
	}), nil
}

// Revoke clears the verified flag of subject. The record, its hash and the
// enumeration entry stay in place.
func (r *Registry) Revoke(caller, subject account.Address) (Event, error) {
	if !r.IsOwner(caller) {
		return Event{}, ErrUnauthorized
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.records[subject].Verified {
		return Event{}, ErrNotVerified
	}

	return r.commitLocked(Event{
		Kind:      KindRevoked,
		Subject:   subject,
		Timestamp: r.timestamp(),
	}), nil
}

// Query returns the record for subject, or the zero Record if it never
// submitted.
func (r *Registry) Query(subject account.Address) Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.records[subject]
}

// Check reports whether subject is currently verified.
func (r *Registry) Check(subject account.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.records[subject].Verified
}

// TotalVerified returns the number of currently verified records.
func (r *Registry) TotalVerified() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.totalVerified
}

// Accounts returns the enumeration of submitters in submission order. This is
// the slow path and copies the whole list.
func (r *Registry) Accounts() []account.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]account.Address(nil), r.accounts...)
}

// AccountCount returns the length of the enumeration without copying it.
func (r *Registry) AccountCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.accounts)
}

// Events exposes the append-only event log for subscribers.
func (r *Registry) Events() *Log {
	return r.log
}

func (r *Registry) timestamp() time.Time {
	return r.now().UTC().Truncate(time.Microsecond)
}

// commitLocked applies a validated transition. Callers hold the write lock.
func (r *Registry) commitLocked(ev Event) Event {
	switch ev.Kind {
	case KindVerified:
		r.records[ev.Subject] = Record{
			IdentityHash: ev.IdentityHash,
			Timestamp:    ev.Timestamp,
			Verified:     true,
			SubmittedBy:  ev.Subject,
		}
		r.totalVerified++
		if _, ok := r.seen[ev.Subject]; !ok || r.enumerateResubmissions {
			r.accounts = append(r.accounts, ev.Subject)
		}
		r.seen[ev.Subject] = struct{}{}
	case KindRevoked:
		rec := r.records[ev.Subject]
		rec.Verified = false
		r.records[ev.Subject] = rec
		r.totalVerified--
	}
	return r.log.append(ev)
}

func (r *Registry) replayLocked(ev Event) error {
	if want := uint64(r.log.Len()) + 1; ev.Seq != want {
		return corrupt(ev, "expected sequence %d", want)
	}
	current := r.records[ev.Subject]
	switch ev.Kind {
	case KindVerified:
		if ev.IdentityHash == "" {
			return corrupt(ev, "verified event without identity hash")
		}
		if current.Verified {
			return corrupt(ev, "subject already verified")
		}
	case KindRevoked:
		if !current.Verified {
			return corrupt(ev, "subject not verified")
		}
	default:
		return corrupt(ev, "unknown kind %q", ev.Kind)
	}
	r.commitLocked(ev)
	return nil
}
