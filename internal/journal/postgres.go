package journal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/idregistry/idregistry/internal/account"
	"github.com/idregistry/idregistry/internal/registry"
)

// appendLockKey serialises writers across processes sharing one database.
const appendLockKey = 0x1d7e6157

// PostgresJournal stores registry events in the registry_events table.
type PostgresJournal struct {
	db *pgxpool.Pool
}

// NewPostgresJournal constructs a Postgres-backed journal.
func NewPostgresJournal(db *pgxpool.Pool) *PostgresJournal {
	return &PostgresJournal{db: db}
}

// Append writes the batch in one transaction after checking it continues the
// stored sequence.
func (j *PostgresJournal) Append(ctx context.Context, events ...registry.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := j.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, appendLockKey); err != nil {
		return fmt.Errorf("lock journal: %w", err)
	}

	last, err := lastSeq(ctx, tx)
	if err != nil {
		return err
	}
	if err := checkBatch(last, events); err != nil {
		return err
	}

	const insert = `INSERT INTO registry_events (seq, kind, subject, identity_hash, occurred_at)
        VALUES ($1, $2, $3, $4, $5)`
	for _, ev := range events {
		if _, err := tx.Exec(ctx, insert, int64(ev.Seq), string(ev.Kind), ev.Subject.Hex(), ev.IdentityHash, ev.Timestamp.UTC()); err != nil {
			return fmt.Errorf("insert event %d: %w", ev.Seq, err)
		}
	}

	return tx.Commit(ctx)
}

// Load returns every event with a sequence greater than after, in order.
func (j *PostgresJournal) Load(ctx context.Context, after uint64) ([]registry.Event, error) {
	rows, err := j.db.Query(ctx, `SELECT seq, kind, subject, identity_hash, occurred_at
        FROM registry_events WHERE seq > $1 ORDER BY seq`, int64(after))
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []registry.Event
	for rows.Next() {
		var (
			seq     int64
			kind    string
			subject string
			ev      registry.Event
		)
		if err := rows.Scan(&seq, &kind, &subject, &ev.IdentityHash, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		addr, err := account.Parse(subject)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", seq, err)
		}
		ev.Seq = uint64(seq)
		ev.Kind = registry.Kind(kind)
		ev.Subject = addr
		ev.Timestamp = ev.Timestamp.UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// LastSeq returns the highest stored sequence, zero when empty.
func (j *PostgresJournal) LastSeq(ctx context.Context) (uint64, error) {
	return lastSeq(ctx, j.db)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func lastSeq(ctx context.Context, q queryRower) (uint64, error) {
	var last int64
	if err := q.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM registry_events`).Scan(&last); err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return uint64(last), nil
}
