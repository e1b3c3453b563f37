package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sqlc-dev/pqtype"

	"docflow/internal/model"
)

// Postgres keeps the full job document in a JSONB column and mirrors the
// fields used for filtering into their own columns.
type Postgres struct {
	DB  *sql.DB
	ttl time.Duration
	now Clock
}

// NewPostgres creates a Postgres store on a shared *sql.DB with pooling.
func NewPostgres(database *sql.DB, ttl time.Duration, now Clock) *Postgres {
	return &Postgres{DB: database, ttl: ttl, now: clockOrDefault(now)}
}

// withTx runs fn in a transaction and commits when it returns nil.
func (p *Postgres) withTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func metadataColumn(job *model.Job) (pqtype.NullRawMessage, error) {
	if job.Metadata == nil {
		return pqtype.NullRawMessage{}, nil
	}
	raw, err := json.Marshal(job.Metadata)
	if err != nil {
		return pqtype.NullRawMessage{}, err
	}
	return pqtype.NullRawMessage{RawMessage: raw, Valid: true}, nil
}

func (p *Postgres) Create(ctx context.Context, job *model.Job) error {
	state, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	meta, err := metadataColumn(job)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = p.DB.ExecContext(ctx, `
INSERT INTO jobs (id, kind, status, collection_name, state, metadata, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		job.ID, string(job.Kind), string(job.Status), job.CollectionName, state, meta, job.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrAlreadyExists
	}
	return err
}

func (p *Postgres) Get(ctx context.Context, id string) (*model.Job, error) {
	var raw []byte
	err := p.DB.QueryRowContext(ctx, `SELECT state FROM jobs WHERE id = $1`, id).Scan(&raw)
	return p.decodeRow(raw, err)
}

func (p *Postgres) decodeRow(raw []byte, err error) (*model.Job, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var job model.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	if job.Expired(p.ttl, p.now()) {
		return nil, ErrNotFound
	}
	return &job, nil
}

// Update locks the row with SELECT ... FOR UPDATE so concurrent writers
// serialize on the record.
func (p *Postgres) Update(ctx context.Context, id string, fn func(*model.Job) error) (*model.Job, error) {
	var out *model.Job
	err := p.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var raw []byte
		err := tx.QueryRowContext(ctx, `SELECT state FROM jobs WHERE id = $1 FOR UPDATE`, id).Scan(&raw)
		job, err := p.decodeRow(raw, err)
		if err != nil {
			return err
		}
		if err := fn(job); err != nil {
			return err
		}
		state, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("marshal job: %w", err)
		}
		meta, err := metadataColumn(job)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		var completedAt sql.NullTime
		if job.CompletedAt != nil {
			completedAt = sql.NullTime{Time: *job.CompletedAt, Valid: true}
		}
		_, err = tx.ExecContext(ctx, `
UPDATE jobs
SET status = $2, state = $3, metadata = $4, completed_at = $5, updated_at = now()
WHERE id = $1`,
			id, string(job.Status), state, meta, completedAt)
		if err != nil {
			return err
		}
		out = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Postgres) Delete(ctx context.Context, id string) error {
	_, err := p.DB.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	return err
}

func (p *Postgres) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := p.DB.ExecContext(ctx, `DELETE FROM jobs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.DB.PingContext(ctx)
}
