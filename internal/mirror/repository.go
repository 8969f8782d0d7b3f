package mirror

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/idregistry/idregistry/internal/account"
	"github.com/idregistry/idregistry/internal/sentinel"
)

const uniqueViolation = "23505"

// ErrDuplicate rejects a second mirror entry for an address.
var ErrDuplicate = fmt.Errorf("verification already recorded: %w", sentinel.ErrConflict)

// Repository persists mirror entries and projection cursors.
type Repository interface {
	Create(ctx context.Context, v Verification) error
	Get(ctx context.Context, address account.Address) (Verification, error)
	List(ctx context.Context, limit, offset int) ([]Verification, error)
	// Update replaces the metadata and state of an existing entry.
	Update(ctx context.Context, v Verification) error
	// SetVerified updates an existing entry; at is the registry event time and
	// becomes the entry's update time. Revocations keep the hash and
	// verification time. Missing entries yield sentinel.ErrNotFound.
	SetVerified(ctx context.Context, address account.Address, verified bool, identityHash string, at time.Time) error
	LoadCursor(ctx context.Context, name string) (uint64, error)
	SaveCursor(ctx context.Context, name string, seq uint64) error
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed mirror repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new entry.
func (r *PostgresRepository) Create(ctx context.Context, v Verification) error {
	id, err := uuid.Parse(v.ID)
	if err != nil {
		return fmt.Errorf("entry id: %w", err)
	}
	_, err = r.db.Exec(ctx, `INSERT INTO verifications
        (id, address, identity_hash, proof_ref, document_type, nationality, verified, verified_at, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		id, v.Address.Hex(), v.IdentityHash, v.ProofRef, v.DocumentType, v.Nationality,
		v.Verified, v.VerifiedAt.UTC(), v.CreatedAt.UTC(), v.UpdatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}

const selectColumns = `SELECT id, address, identity_hash, proof_ref, document_type, nationality, verified, verified_at, created_at, updated_at
        FROM verifications`

// Get fetches the entry of an address.
func (r *PostgresRepository) Get(ctx context.Context, address account.Address) (Verification, error) {
	row := r.db.QueryRow(ctx, selectColumns+` WHERE address = $1`, address.Hex())
	v, err := scanVerification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Verification{}, fmt.Errorf("verification %s: %w", address, sentinel.ErrNotFound)
	}
	return v, err
}

// List pages through entries oldest first.
func (r *PostgresRepository) List(ctx context.Context, limit, offset int) ([]Verification, error) {
	rows, err := r.db.Query(ctx, selectColumns+` ORDER BY created_at, address LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Verification
	for rows.Next() {
		v, err := scanVerification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Update rewrites an entry after a re-submission.
func (r *PostgresRepository) Update(ctx context.Context, v Verification) error {
	cmd, err := r.db.Exec(ctx, `UPDATE verifications
        SET identity_hash = $2, proof_ref = $3, document_type = $4, nationality = $5,
            verified = $6, verified_at = $7, updated_at = $8
        WHERE address = $1`,
		v.Address.Hex(), v.IdentityHash, v.ProofRef, v.DocumentType, v.Nationality,
		v.Verified, v.VerifiedAt.UTC(), v.UpdatedAt.UTC())
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("verification %s: %w", v.Address, sentinel.ErrNotFound)
	}
	return nil
}

// SetVerified applies a registry transition to an existing entry.
func (r *PostgresRepository) SetVerified(ctx context.Context, address account.Address, verified bool, identityHash string, at time.Time) error {
	var (
		cmd pgconn.CommandTag
		err error
	)
	if verified {
		cmd, err = r.db.Exec(ctx, `UPDATE verifications
            SET verified = TRUE, identity_hash = $2, verified_at = $3, updated_at = $3
            WHERE address = $1`, address.Hex(), identityHash, at.UTC())
	} else {
		cmd, err = r.db.Exec(ctx, `UPDATE verifications SET verified = FALSE, updated_at = $2 WHERE address = $1`, address.Hex(), at.UTC())
	}
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("verification %s: %w", address, sentinel.ErrNotFound)
	}
	return nil
}

// LoadCursor returns the stored position of a named projection, zero when unknown.
func (r *PostgresRepository) LoadCursor(ctx context.Context, name string) (uint64, error) {
	var seq int64
	err := r.db.QueryRow(ctx, `SELECT seq FROM projection_cursors WHERE name = $1`, name).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(seq), nil
}

// SaveCursor upserts the position of a named projection.
func (r *PostgresRepository) SaveCursor(ctx context.Context, name string, seq uint64) error {
	_, err := r.db.Exec(ctx, `INSERT INTO projection_cursors (name, seq, updated_at) VALUES ($1, $2, now())
        ON CONFLICT (name) DO UPDATE SET seq = EXCLUDED.seq, updated_at = EXCLUDED.updated_at`, name, int64(seq))
	return err
}

func scanVerification(row pgx.Row) (Verification, error) {
	var (
		id      uuid.UUID
		address string
		v       Verification
	)
	if err := row.Scan(&id, &address, &v.IdentityHash, &v.ProofRef, &v.DocumentType, &v.Nationality,
		&v.Verified, &v.VerifiedAt, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return Verification{}, err
	}
	addr, err := account.Parse(address)
	if err != nil {
		return Verification{}, err
	}
	v.ID = id.String()
	v.Address = addr
	v.VerifiedAt = v.VerifiedAt.UTC()
	v.CreatedAt = v.CreatedAt.UTC()
	v.UpdatedAt = v.UpdatedAt.UTC()
	return v, nil
}
