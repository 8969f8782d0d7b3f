package client

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/idregistry/idregistry/internal/account"
	"github.com/idregistry/idregistry/internal/logging"
	"github.com/idregistry/idregistry/internal/metrics"
	"github.com/idregistry/idregistry/internal/registry"
)

const (
	checkKeyPrefix = "registry:check:v1:"
	generationTTL  = time.Hour
)

func checkKey(subject account.Address) string {
	return checkKeyPrefix + subject.Hex()
}

// generationKey counts invalidations of a subject. A miss only stores its
// answer if no invalidation happened while the registry was being asked.
func generationKey(subject account.Address) string {
	return checkKey(subject) + ":gen"
}

// CachedReader answers Check from Redis and falls through to the wrapped
// reader on a miss. Redis failures are treated as misses.
type CachedReader struct {
	registry.Reader
	cache   *redis.Client
	ttl     time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewCachedReader wraps next. Entries expire after ttl even without an
// invalidation.
func NewCachedReader(next registry.Reader, cache *redis.Client, ttl time.Duration, logger *slog.Logger, m *metrics.Metrics) *CachedReader {
	if logger == nil {
		logger = logging.Discard()
	}
	return &CachedReader{Reader: next, cache: cache, ttl: ttl, logger: logger, metrics: m}
}

func (r *CachedReader) Check(ctx context.Context, subject account.Address) (bool, error) {
	key := checkKey(subject)
	cached, err := r.cache.Get(ctx, key).Result()
	if err == nil {
		r.metrics.ObserveCheckCache(true)
		return cached == "1", nil
	}
	if !errors.Is(err, redis.Nil) {
		r.logger.Warn("check cache lookup failed", slog.String("address", subject.String()), slog.Any("error", err))
	}
	r.metrics.ObserveCheckCache(false)

	gen, genErr := r.generation(ctx, subject)

	verified, err := r.Reader.Check(ctx, subject)
	if err != nil {
		return false, err
	}
	if genErr != nil {
		return verified, nil
	}
	value := "0"
	if verified {
		value = "1"
	}
	if err := r.store(ctx, subject, gen, value); err != nil {
		r.logger.Warn("check cache store failed", slog.String("address", subject.String()), slog.Any("error", err))
	}
	return verified, nil
}

func (r *CachedReader) generation(ctx context.Context, subject account.Address) (string, error) {
	gen, err := r.cache.Get(ctx, generationKey(subject)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return gen, err
}

// store writes value unless the subject was invalidated since gen was read.
func (r *CachedReader) store(ctx context.Context, subject account.Address, gen, value string) error {
	genKey := generationKey(subject)
	err := r.cache.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, checkKey(subject), value, r.ttl)
			return nil
		})
		return err
	}, genKey)
	if errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

// Invalidator drops cached checks for the subjects of relayed events.
type Invalidator struct {
	cache *redis.Client
}

// NewInvalidator builds the relay sink for cache invalidation.
func NewInvalidator(cache *redis.Client) *Invalidator {
	return &Invalidator{cache: cache}
}

func (i *Invalidator) Name() string { return "check-cache" }

func (i *Invalidator) Handle(ctx context.Context, events []registry.Event) error {
	seen := make(map[account.Address]struct{}, len(events))
	subjects := make([]account.Address, 0, len(events))
	for _, ev := range events {
		if _, dup := seen[ev.Subject]; dup {
			continue
		}
		seen[ev.Subject] = struct{}{}
		subjects = append(subjects, ev.Subject)
	}
	if len(subjects) == 0 {
		return nil
	}
	_, err := i.cache.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, subject := range subjects {
			pipe.Incr(ctx, generationKey(subject))
			pipe.Expire(ctx, generationKey(subject), generationTTL)
			pipe.Del(ctx, checkKey(subject))
		}
		return nil
	})
	return err
}

// InvalidatingWriter drops the cached check of every subject it submits for,
// so the submitter's next check does not wait for the relay.
type InvalidatingWriter struct {
	registry.Writer
	invalidator *Invalidator
	logger      *slog.Logger
}

// NewInvalidatingWriter wraps next.
func NewInvalidatingWriter(next registry.Writer, inv *Invalidator, logger *slog.Logger) *InvalidatingWriter {
	if logger == nil {
		logger = logging.Discard()
	}
	return &InvalidatingWriter{Writer: next, invalidator: inv, logger: logger}
}

func (w *InvalidatingWriter) Submit(ctx context.Context, caller account.Address, identityHash string) (registry.Event, error) {
	ev, err := w.Writer.Submit(ctx, caller, identityHash)
	if err != nil {
		return ev, err
	}
	if err := w.invalidator.Handle(ctx, []registry.Event{ev}); err != nil {
		w.logger.Warn("check cache invalidation failed", slog.String("address", ev.Subject.String()), slog.Any("error", err))
	}
	return ev, nil
}
