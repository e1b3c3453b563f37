package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Postgres stores chunks with their embeddings as JSONB arrays and ranks
// them in process. It suits collections of a few hundred thousand chunks.
type Postgres struct {
	DB *sql.DB
}

func NewPostgres(database *sql.DB) *Postgres {
	return &Postgres{DB: database}
}

func (p *Postgres) EnsureCollection(ctx context.Context, name string) error {
	_, err := p.DB.ExecContext(ctx, `INSERT INTO collections (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name)
	return err
}

func (p *Postgres) exists(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, name string) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM collections WHERE name = $1`, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrCollectionNotFound
	}
	return err
}

func (p *Postgres) Store(ctx context.Context, collection string, chunks []Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return ErrLengthMismatch
	}
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := p.exists(ctx, tx, collection); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO chunks (id, collection, job_id, source, chunk_index, content, embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE
SET content = EXCLUDED.content, embedding = EXCLUDED.embedding`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, c := range chunks {
		emb, err := json.Marshal(vectors[i])
		if err != nil {
			return fmt.Errorf("marshal embedding: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, c.ID, collection, c.JobID, c.Source, c.Index, c.Content, emb); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

func (p *Postgres) Query(ctx context.Context, collection string, vector []float32, topK int) ([]Match, error) {
	if err := p.exists(ctx, p.DB, collection); err != nil {
		return nil, err
	}
	rows, err := p.DB.QueryContext(ctx, `
SELECT id, job_id, source, chunk_index, content, embedding
FROM chunks WHERE collection = $1 ORDER BY id`, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cands []scored
	for rows.Next() {
		var (
			c   Chunk
			raw []byte
		)
		if err := rows.Scan(&c.ID, &c.JobID, &c.Source, &c.Index, &c.Content, &raw); err != nil {
			return nil, err
		}
		var v []float32
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode embedding for %s: %w", c.ID, err)
		}
		cands = append(cands, scored{chunk: c, vector: v})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rank(cands, vector, topK), nil
}

func (p *Postgres) ListCollections(ctx context.Context) ([]Collection, error) {
	rows, err := p.DB.QueryContext(ctx, `
SELECT c.name, COUNT(ch.id)
FROM collections c LEFT JOIN chunks ch ON ch.collection = c.name
GROUP BY c.name ORDER BY c.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Collection
	for rows.Next() {
		var col Collection
		if err := rows.Scan(&col.Name, &col.Chunks); err != nil {
			return nil, err
		}
		out = append(out, col)
	}
	return out, rows.Err()
}
