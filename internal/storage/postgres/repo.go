// Package postgres implements storage.Repository on pgx.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"scoutetl/internal/storage"
)

func init() {
	storage.Register("postgres", New)
}

// Repo is a pooled Postgres repository.
type Repo struct {
	pool *pgxpool.Pool
}

// New connects a pgx pool for cfg.DSN.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() { r.pool.Close() }

// EnsureSchema creates the target tables. Idempotent; safe on every run.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	for _, ddl := range schemaDDL {
		if _, err := r.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("postgres: ensure schema: %w", err)
		}
	}
	return nil
}

// UpsertEntities performs a single-round-trip upsert per chunk:
//
//	INSERT ... ON CONFLICT (key) DO UPDATE ... RETURNING key, id
//
// The DO UPDATE arm always fires (falling back to a key self-assignment when
// no attributes are mutable) so RETURNING yields the surrogate id for
// conflicting rows too. This is what keeps concurrent loader instances safe:
// the database arbitrates the conflict, there is no read-after-write window.
func (r *Repo) UpsertEntities(ctx context.Context, spec storage.EntitySpec, rows [][]any) (map[string]int64, error) {
	out := make(map[string]int64, len(rows))
	if len(rows) == 0 {
		return out, nil
	}

	for start := 0; start < len(rows); start += upsertChunkRows {
		end := min(start+upsertChunkRows, len(rows))

		sql, args := buildUpsertSQL(spec, rows[start:end])
		if err := scanKeyIDs(ctx, r.pool, sql, args, out); err != nil {
			return nil, fmt.Errorf("postgres: upsert %s: %w", spec.Table, err)
		}
	}
	return out, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanKeyIDs(ctx context.Context, q querier, sql string, args []any, out map[string]int64) error {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var k any
		var id int64
		if err := rows.Scan(&k, &id); err != nil {
			return err
		}
		out[storage.NormalizeKey(k)] = id
	}
	return rows.Err()
}

// Begin opens a unit of work backed by one pgx transaction.
func (r *Repo) Begin(ctx context.Context) (storage.UnitOfWork, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &unitOfWork{tx: tx}, nil
}

// RefreshView refreshes one materialized view.
func (r *Repo) RefreshView(ctx context.Context, view string) error {
	_, err := r.pool.Exec(ctx, "REFRESH MATERIALIZED VIEW "+pgIdent(view))
	return err
}

type unitOfWork struct {
	tx   pgx.Tx
	done bool
}

func (u *unitOfWork) Insert(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns []string) (int64, error) {
	var total int64
	for start := 0; start < len(rows); start += insertChunkRows {
		end := min(start+insertChunkRows, len(rows))

		sql, args := buildInsertSQL(table, columns, rows[start:end], conflictColumns)
		cmd, err := u.tx.Exec(ctx, sql, args...)
		if err != nil {
			return total, err
		}
		total += cmd.RowsAffected()
	}
	return total, nil
}

func (u *unitOfWork) Commit(ctx context.Context) error {
	u.done = true
	return u.tx.Commit(ctx)
}

func (u *unitOfWork) Rollback(ctx context.Context) error {
	if u.done {
		return nil
	}
	return u.tx.Rollback(ctx)
}
