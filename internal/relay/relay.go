// Package relay moves registry events out of a source log and into sinks.
//
// Required sinks are fail-closed: a batch is retried until every required
// sink accepted it, and the cursor only moves after that. Best-effort sinks
// see each batch once; their failures are logged and counted.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/idregistry/idregistry/internal/logging"
	"github.com/idregistry/idregistry/internal/metrics"
	"github.com/idregistry/idregistry/internal/registry"
)

const (
	defaultBatchSize  = 100
	defaultMinBackoff = 100 * time.Millisecond
	defaultMaxBackoff = 10 * time.Second
)

// Source yields events with Seq greater than after, blocking until at least
// one exists or ctx is done. *registry.Log satisfies it.
type Source interface {
	Wait(ctx context.Context, after uint64, limit int) ([]registry.Event, error)
}

// Cursor remembers the last sequence delivered to every required sink.
type Cursor interface {
	Load(ctx context.Context) (uint64, error)
	Save(ctx context.Context, seq uint64) error
}

// Sink consumes ordered batches of events. Handle must tolerate seeing a
// batch again after a crash or a failed sibling sink.
type Sink interface {
	Name() string
	Handle(ctx context.Context, events []registry.Event) error
}

// Worker drains a Source into sinks.
type Worker struct {
	source     Source
	cursor     Cursor
	required   []Sink
	bestEffort []Sink
	batchSize  int
	minBackoff time.Duration
	maxBackoff time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// Option configures a Worker.
type Option func(*Worker)

// WithSink adds a required sink. Required sinks run in registration order.
func WithSink(s Sink) Option {
	return func(w *Worker) { w.required = append(w.required, s) }
}

// WithBestEffortSink adds a sink whose failures do not hold the cursor back.
func WithBestEffortSink(s Sink) Option {
	return func(w *Worker) { w.bestEffort = append(w.bestEffort, s) }
}

// WithBatchSize caps the number of events per batch.
func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithBackoff sets the retry delay bounds for required sinks and the source.
func WithBackoff(min, max time.Duration) Option {
	return func(w *Worker) {
		if min > 0 {
			w.minBackoff = min
		}
		if max >= w.minBackoff {
			w.maxBackoff = max
		}
	}
}

// WithMetrics records deliveries and failures.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// New builds a worker reading from source and tracking progress in cursor.
func New(source Source, cursor Cursor, logger *slog.Logger, opts ...Option) *Worker {
	w := &Worker{
		source:     source,
		cursor:     cursor,
		batchSize:  defaultBatchSize,
		minBackoff: defaultMinBackoff,
		maxBackoff: defaultMaxBackoff,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logging.Discard()
	}
	return w
}

// Run delivers events until ctx is cancelled. It returns nil on cancellation
// and an error only when the cursor cannot be loaded or saved.
func (w *Worker) Run(ctx context.Context) error {
	after, err := w.cursor.Load(ctx)
	if err != nil {
		return fmt.Errorf("load relay cursor: %w", err)
	}
	w.metrics.SetRelayCursor(after)
	w.logger.Info("relay started", slog.Uint64("after", after), slog.Int("sinks", len(w.required)+len(w.bestEffort)))

	backoff := w.minBackoff
	for {
		events, err := w.source.Wait(ctx, after, w.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Warn("relay source failed", slog.Any("error", err), slog.Duration("retry_in", backoff))
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff = w.next(backoff)
			continue
		}
		backoff = w.minBackoff

		events = trim(events, after)
		if len(events) == 0 {
			continue
		}

		if err := w.Deliver(ctx, events); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		after = events[len(events)-1].Seq
		if err := w.cursor.Save(ctx, after); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("save relay cursor: %w", err)
		}
		w.metrics.SetRelayCursor(after)
	}
}

// Deliver hands one batch to every sink. It blocks until each required sink
// succeeded or ctx is done.
func (w *Worker) Deliver(ctx context.Context, events []registry.Event) error {
	for _, s := range w.required {
		if err := w.deliverRequired(ctx, s, events); err != nil {
			return err
		}
	}

	if len(w.bestEffort) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range w.bestEffort {
		g.Go(func() error {
			if err := s.Handle(gctx, events); err != nil {
				w.metrics.IncRelayFailure(s.Name())
				w.logger.Warn("best-effort sink failed",
					slog.String("sink", s.Name()),
					slog.Uint64("first_seq", events[0].Seq),
					slog.Int("events", len(events)),
					slog.Any("error", err),
				)
				return nil
			}
			w.metrics.AddRelayed(s.Name(), len(events))
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) deliverRequired(ctx context.Context, s Sink, events []registry.Event) error {
	backoff := w.minBackoff
	for {
		err := s.Handle(ctx, events)
		if err == nil {
			w.metrics.AddRelayed(s.Name(), len(events))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		w.metrics.IncRelayFailure(s.Name())
		w.logger.Error("sink failed, retrying",
			slog.String("sink", s.Name()),
			slog.Uint64("first_seq", events[0].Seq),
			slog.Duration("retry_in", backoff),
			slog.Any("error", err),
		)
		if !sleep(ctx, backoff) {
			return ctx.Err()
		}
		backoff = w.next(backoff)
	}
}

func (w *Worker) next(d time.Duration) time.Duration {
	d *= 2
	if d > w.maxBackoff {
		return w.maxBackoff
	}
	return d
}

// trim drops events a source replayed at or below the cursor.
func trim(events []registry.Event, after uint64) []registry.Event {
	for i, ev := range events {
		if ev.Seq > after {
			return events[i:]
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
