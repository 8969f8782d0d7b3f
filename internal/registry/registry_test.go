package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idregistry/idregistry/internal/account"
)

var (
	owner = account.MustParse("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	alice = account.MustParse("0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359")
	bob   = account.MustParse("0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB")
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestRegistry(opts ...Option) (*Registry, *fakeClock) {
	clock := newFakeClock()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return New(owner, opts...), clock
}

// countVerified walks every known record; used to cross-check the counter.
func countVerified(r *Registry) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, rec := range r.records {
		if rec.Verified {
			n++
		}
	}
	return n
}

func TestQueryNeverSubmitted(t *testing.T) {
	r, _ := newTestRegistry()

	rec := r.Query(alice)
	assert.Equal(t, Record{}, rec)
	assert.Equal(t, "", rec.IdentityHash)
	assert.True(t, rec.Timestamp.IsZero())
	assert.False(t, rec.Verified)
	assert.Equal(t, StatusUnset, rec.Status())
	assert.False(t, r.Check(alice))
	assert.Zero(t, r.TotalVerified())
}

func TestSubmitVerifies(t *testing.T) {
	r, _ := newTestRegistry()

	ev, err := r.Submit(alice, "h1")
	require.NoError(t, err)

	assert.Equal(t, uint64(1), ev.Seq)
	assert.Equal(t, KindVerified, ev.Kind)
	assert.Equal(t, alice, ev.Subject)
	assert.Equal(t, "h1", ev.IdentityHash)

	rec := r.Query(alice)
	assert.True(t, r.Check(alice))
	assert.Equal(t, Record{IdentityHash: "h1", Timestamp: ev.Timestamp, Verified: true, SubmittedBy: alice}, rec)
	assert.Equal(t, StatusVerified, rec.Status())
	assert.Equal(t, 1, r.TotalVerified())
}

func TestSubmitAlreadyVerifiedLeavesRecord(t *testing.T) {
	r, _ := newTestRegistry()
	_, err := r.Submit(alice, "h1")
	require.NoError(t, err)
	before := r.Query(alice)

	_, err = r.Submit(alice, "h2")
	assert.ErrorIs(t, err, ErrAlreadyVerified)

	assert.Equal(t, before, r.Query(alice))
	assert.Equal(t, 1, r.TotalVerified())
	assert.Equal(t, 1, r.Events().Len())
	assert.Len(t, r.Accounts(), 1)
}

func TestSubmitEmptyHash(t *testing.T) {
	r, _ := newTestRegistry()

	_, err := r.Submit(alice, "")
	assert.ErrorIs(t, err, ErrEmptyHash)
	assert.False(t, r.Check(alice))
	assert.Zero(t, r.Events().Len())

	// Regardless of prior state.
	_, err = r.Submit(alice, "h1")
	require.NoError(t, err)
	_, err = r.Submit(alice, "")
	assert.ErrorIs(t, err, ErrEmptyHash)

	_, err = r.Revoke(owner, alice)
	require.NoError(t, err)
	_, err = r.Submit(alice, "")
	assert.ErrorIs(t, err, ErrEmptyHash)
	assert.Equal(t, 2, r.Events().Len())
}

func TestRevoke(t *testing.T) {
	r, _ := newTestRegistry()
	submitted, err := r.Submit(alice, "h1")
	require.NoError(t, err)

	ev, err := r.Revoke(owner, alice)
	require.NoError(t, err)

	assert.Equal(t, KindRevoked, ev.Kind)
	assert.Equal(t, alice, ev.Subject)
	assert.Empty(t, ev.IdentityHash)
	assert.False(t, r.Check(alice))
	assert.Zero(t, r.TotalVerified())

	rec := r.Query(alice)
	assert.Equal(t, "h1", rec.IdentityHash, "revocation keeps the hash")
	assert.Equal(t, submitted.Timestamp, rec.Timestamp, "timestamp is the last verification time")
	assert.Equal(t, StatusRevoked, rec.Status())
	assert.Equal(t, []account.Address{alice}, r.Accounts())
}

func TestRevokeNonOwnerAlwaysUnauthorized(t *testing.T) {
	r, _ := newTestRegistry()

	_, err := r.Revoke(alice, bob)
	assert.ErrorIs(t, err, ErrUnauthorized, "unset subject")

	_, err = r.Submit(bob, "hb")
	require.NoError(t, err)
	_, err = r.Revoke(alice, bob)
	assert.ErrorIs(t, err, ErrUnauthorized, "verified subject")
	_, err = r.Revoke(bob, bob)
	assert.ErrorIs(t, err, ErrUnauthorized, "self revoke")
	assert.True(t, r.Check(bob))

	_, err = r.Revoke(owner, bob)
	require.NoError(t, err)
	_, err = r.Revoke(alice, bob)
	assert.ErrorIs(t, err, ErrUnauthorized, "revoked subject")
}

func TestRevokeNotVerified(t *testing.T) {
	r, _ := newTestRegistry()

	_, err := r.Revoke(owner, bob)
	assert.ErrorIs(t, err, ErrNotVerified, "never submitted")

	_, err = r.Submit(bob, "hb")
	require.NoError(t, err)
	_, err = r.Revoke(owner, bob)
	require.NoError(t, err)

	_, err = r.Revoke(owner, bob)
	assert.ErrorIs(t, err, ErrNotVerified, "already revoked")
	assert.Equal(t, 2, r.Events().Len())
	assert.Zero(t, r.TotalVerified())
}

func TestLifecycleScenario(t *testing.T) {
	r, _ := newTestRegistry()

	_, err := r.Submit(alice, "h1")
	require.NoError(t, err)
	assert.True(t, r.Check(alice))
	assert.Equal(t, 1, r.TotalVerified())

	_, err = r.Submit(alice, "h2")
	assert.ErrorIs(t, err, ErrAlreadyVerified)
	assert.True(t, r.Check(alice))
	assert.Equal(t, "h1", r.Query(alice).IdentityHash)

	_, err = r.Revoke(owner, alice)
	require.NoError(t, err)
	assert.False(t, r.Check(alice))
	assert.Zero(t, r.TotalVerified())

	ev, err := r.Submit(alice, "h2")
	require.NoError(t, err)
	assert.True(t, r.Check(alice))
	assert.Equal(t, "h2", r.Query(alice).IdentityHash)
	assert.Equal(t, ev.Timestamp, r.Query(alice).Timestamp)
	assert.Equal(t, 1, r.TotalVerified())

	kinds := []Kind{}
	for _, e := range r.Events().Since(0, 0) {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []Kind{KindVerified, KindRevoked, KindVerified}, kinds)
}

func TestEnumeration(t *testing.T) {
	cycle := func(r *Registry) {
		_, err := r.Submit(alice, "h1")
		require.NoError(t, err)
		_, err = r.Submit(bob, "hb")
		require.NoError(t, err)
		_, err = r.Revoke(owner, alice)
		require.NoError(t, err)
		_, err = r.Submit(alice, "h2")
		require.NoError(t, err)
	}

	t.Run("first submission only", func(t *testing.T) {
		r, _ := newTestRegistry()
		cycle(r)
		assert.Equal(t, []account.Address{alice, bob}, r.Accounts())
		assert.Equal(t, 2, r.AccountCount())
	})

	t.Run("every submission", func(t *testing.T) {
		r, _ := newTestRegistry(WithEnumerateResubmissions())
		cycle(r)
		assert.Equal(t, []account.Address{alice, bob, alice}, r.Accounts())
		assert.Equal(t, 3, r.AccountCount())
	})
}

func TestAccountCountEmpty(t *testing.T) {
	r, _ := newTestRegistry()
	assert.Zero(t, r.AccountCount())

	_, err := r.Submit(alice, "h1")
	require.NoError(t, err)
	_, err = r.Submit(alice, "h1")
	require.ErrorIs(t, err, ErrAlreadyVerified)
	assert.Equal(t, 1, r.AccountCount())
}

func TestOwner(t *testing.T) {
	r, _ := newTestRegistry()
	assert.Equal(t, owner, r.Owner())
	assert.True(t, r.IsOwner(owner))
	assert.False(t, r.IsOwner(alice))
}

func TestConcurrentSubmitSingleWinner(t *testing.T) {
	r, _ := newTestRegistry()

	const workers = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.Submit(alice, fmt.Sprintf("h%d", i))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case assert.ErrorIs(t, err, ErrAlreadyVerified):
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, conflicts)
	assert.Equal(t, 1, r.TotalVerified())
	assert.Equal(t, 1, r.Events().Len())
}

func TestConcurrentCounterInvariant(t *testing.T) {
	r, _ := newTestRegistry()

	subjects := make([]account.Address, 16)
	for i := range subjects {
		subjects[i][19] = byte(i + 1)
	}

	var wg sync.WaitGroup
	for round := 0; round < 20; round++ {
		for i, s := range subjects {
			wg.Add(2)
			go func(s account.Address, h string) {
				defer wg.Done()
				_, _ = r.Submit(s, h)
			}(s, fmt.Sprintf("h%d-%d", round, i))
			go func(s account.Address) {
				defer wg.Done()
				_, _ = r.Revoke(owner, s)
			}(s)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.mu.RLock()
			defer r.mu.RUnlock()
			n := 0
			for _, rec := range r.records {
				if rec.Verified {
					n++
				}
			}
			assert.Equal(t, n, r.totalVerified)
		}()
	}
	wg.Wait()

	assert.Equal(t, countVerified(r), r.TotalVerified())

	// Replaying the log must land on the same state.
	restored, err := Restore(owner, r.Events().Since(0, 0))
	require.NoError(t, err)
	assert.Equal(t, r.TotalVerified(), restored.TotalVerified())
	for _, s := range subjects {
		assert.Equal(t, r.Query(s), restored.Query(s))
	}
}
