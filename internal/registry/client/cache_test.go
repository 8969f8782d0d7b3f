package client

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idregistry/idregistry/internal/account"
	"github.com/idregistry/idregistry/internal/metrics"
	"github.com/idregistry/idregistry/internal/registry"
)

// countingReader records how often Check reaches the registry.
type countingReader struct {
	registry.Reader
	checks int
}

func (r *countingReader) Check(ctx context.Context, subject account.Address) (bool, error) {
	r.checks++
	return r.Reader.Check(ctx, subject)
}

func newCache(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestCachedReaderServesRepeatChecksFromRedis(t *testing.T) {
	mr, rdb := newCache(t)
	reg := registry.New(owner)
	_, err := reg.Submit(alice, "h1")
	require.NoError(t, err)

	next := &countingReader{Reader: registry.NewLocal(reg)}
	m := metrics.New(prometheus.NewRegistry())
	cached := NewCachedReader(next, rdb, time.Minute, nil, m)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		verified, err := cached.Check(ctx, alice)
		require.NoError(t, err)
		assert.True(t, verified)
	}
	assert.Equal(t, 1, next.checks)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CheckCache.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CheckCache.WithLabelValues("miss")))

	value, err := mr.Get(checkKey(alice))
	require.NoError(t, err)
	assert.Equal(t, "1", value)
	assert.Equal(t, time.Minute, mr.TTL(checkKey(alice)))

	verified, err := cached.Check(ctx, bob)
	require.NoError(t, err)
	assert.False(t, verified)
	value, err = mr.Get(checkKey(bob))
	require.NoError(t, err)
	assert.Equal(t, "0", value)
}

func TestCachedReaderExpiresEntries(t *testing.T) {
	mr, rdb := newCache(t)
	reg := registry.New(owner)
	next := &countingReader{Reader: registry.NewLocal(reg)}
	cached := NewCachedReader(next, rdb, 30*time.Second, nil, nil)
	ctx := context.Background()

	verified, err := cached.Check(ctx, alice)
	require.NoError(t, err)
	assert.False(t, verified)

	_, err = reg.Submit(alice, "h1")
	require.NoError(t, err)
	verified, _ = cached.Check(ctx, alice)
	assert.False(t, verified, "stale until expiry or invalidation")

	mr.FastForward(31 * time.Second)
	verified, err = cached.Check(ctx, alice)
	require.NoError(t, err)
	assert.True(t, verified)
	assert.Equal(t, 2, next.checks)
}

func TestCachedReaderFallsThroughWhenRedisIsDown(t *testing.T) {
	mr, rdb := newCache(t)
	reg := registry.New(owner)
	_, err := reg.Submit(alice, "h1")
	require.NoError(t, err)
	cached := NewCachedReader(registry.NewLocal(reg), rdb, time.Minute, nil, nil)

	mr.Close()
	verified, err := cached.Check(context.Background(), alice)
	require.NoError(t, err)
	assert.True(t, verified)
}

func TestInvalidatorDropsRelayedSubjects(t *testing.T) {
	mr, rdb := newCache(t)
	require.NoError(t, mr.Set(checkKey(alice), "1"))
	require.NoError(t, mr.Set(checkKey(bob), "0"))

	inv := NewInvalidator(rdb)
	assert.Equal(t, "check-cache", inv.Name())

	err := inv.Handle(context.Background(), []registry.Event{
		{Seq: 4, Kind: registry.KindRevoked, Subject: alice},
		{Seq: 5, Kind: registry.KindVerified, Subject: alice, IdentityHash: "h2"},
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists(checkKey(alice)))
	assert.True(t, mr.Exists(checkKey(bob)))

	require.NoError(t, inv.Handle(context.Background(), nil))
}

// racingReader answers from a snapshot and lets an invalidation land before
// the answer reaches the cache, like a relay delivering a revocation while
// the check is in flight.
type racingReader struct {
	registry.Reader
	during func()
}

func (r *racingReader) Check(ctx context.Context, subject account.Address) (bool, error) {
	verified, err := r.Reader.Check(ctx, subject)
	r.during()
	return verified, err
}

func TestCachedReaderDropsAnswerInvalidatedInFlight(t *testing.T) {
	mr, rdb := newCache(t)
	reg := registry.New(owner)
	inv := NewInvalidator(rdb)
	ctx := context.Background()

	next := &racingReader{Reader: registry.NewLocal(reg), during: func() {
		_, err := reg.Submit(alice, "h1")
		require.NoError(t, err)
		require.NoError(t, inv.Handle(ctx, []registry.Event{{Seq: 1, Kind: registry.KindVerified, Subject: alice}}))
	}}
	cached := NewCachedReader(next, rdb, time.Minute, nil, nil)

	verified, err := cached.Check(ctx, alice)
	require.NoError(t, err)
	assert.False(t, verified, "the in-flight answer is still returned")
	assert.False(t, mr.Exists(checkKey(alice)), "but it must not be cached")

	next.during = func() {}
	verified, err = cached.Check(ctx, alice)
	require.NoError(t, err)
	assert.True(t, verified)
	value, err := mr.Get(checkKey(alice))
	require.NoError(t, err)
	assert.Equal(t, "1", value)
}

func TestInvalidatorBumpsGeneration(t *testing.T) {
	mr, rdb := newCache(t)
	inv := NewInvalidator(rdb)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, inv.Handle(ctx, []registry.Event{{Seq: uint64(i + 1), Subject: alice}}))
	}
	gen, err := mr.Get(generationKey(alice))
	require.NoError(t, err)
	assert.Equal(t, "2", gen)
	assert.Equal(t, generationTTL, mr.TTL(generationKey(alice)))
}

func TestInvalidatingWriterDropsSubmitterCheck(t *testing.T) {
	mr, rdb := newCache(t)
	reg := registry.New(owner)
	local := registry.NewLocal(reg)
	cached := NewCachedReader(local, rdb, time.Minute, nil, nil)
	writer := NewInvalidatingWriter(local, NewInvalidator(rdb), nil)
	ctx := context.Background()

	verified, err := cached.Check(ctx, alice)
	require.NoError(t, err)
	require.False(t, verified)
	require.True(t, mr.Exists(checkKey(alice)))

	ev, err := writer.Submit(ctx, alice, "h1")
	require.NoError(t, err)
	assert.Equal(t, alice, ev.Subject)
	assert.False(t, mr.Exists(checkKey(alice)))

	verified, err = cached.Check(ctx, alice)
	require.NoError(t, err)
	assert.True(t, verified)

	_, err = writer.Submit(ctx, alice, "h2")
	assert.ErrorIs(t, err, registry.ErrAlreadyVerified)
	assert.True(t, mr.Exists(checkKey(alice)), "failed submissions leave the cache alone")
}
