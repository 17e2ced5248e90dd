// Package mssql implements storage.Repository for Microsoft SQL Server.
//
// SQL Server cannot return surrogate ids from a single upsert across its
// update/insert split, so the resolver re-reads (key, id) by natural key
// inside the same transaction. MERGE is intentionally avoided; the
// update-then-anti-join-insert pattern has fewer concurrency surprises.
package mssql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/microsoft/go-mssqldb"

	"scoutetl/internal/storage"
)

func init() {
	storage.Register("mssql", New)
}

// Repo is a SQL Server-backed repository.
type Repo struct {
	db *sql.DB
}

// New connects using the "sqlserver" driver.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}

	// Conservative defaults for bursty batch loads.
	db.SetMaxOpenConns(64)
	db.SetMaxIdleConns(64)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

// Close releases the connection pool.
func (r *Repo) Close() { _ = r.db.Close() }

// EnsureSchema creates the target tables. Idempotent.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	for _, ddl := range schemaDDL {
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("mssql: ensure schema: %w", err)
		}
	}
	return nil
}

// upsertChunkRows keeps each statement well inside SQL Server's 2100
// bind-parameter limit for the widest entity table.
const upsertChunkRows = 100

// UpsertEntities updates existing rows, inserts missing ones via an
// anti-join, then resolves ids by key, all inside one transaction per call so
// concurrent loaders serialize on the row locks rather than racing.
func (r *Repo) UpsertEntities(ctx context.Context, spec storage.EntitySpec, rows [][]any) (map[string]int64, error) {
	out := make(map[string]int64, len(rows))
	if len(rows) == 0 {
		return out, nil
	}
	keyIx := spec.KeyIndex()
	if keyIx < 0 {
		return nil, fmt.Errorf("mssql: upsert %s: key column %s not in columns", spec.Table, spec.KeyColumn)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	for start := 0; start < len(rows); start += upsertChunkRows {
		end := min(start+upsertChunkRows, len(rows))
		chunk := rows[start:end]

		if len(spec.UpdateColumns) > 0 {
			query, args := buildUpdateSQL(spec, chunk, keyIx)
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return nil, fmt.Errorf("mssql: upsert %s: update: %w", spec.Table, err)
			}
		}

		query, args := buildAntiJoinInsertSQL(spec, chunk)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return nil, fmt.Errorf("mssql: upsert %s: insert: %w", spec.Table, err)
		}

		query, args = buildSelectIDsSQL(spec, chunk, keyIx)
		qrows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("mssql: upsert %s: resolve ids: %w", spec.Table, err)
		}
		for qrows.Next() {
			var k any
			var id int64
			if err := qrows.Scan(&k, &id); err != nil {
				qrows.Close()
				return nil, fmt.Errorf("mssql: upsert %s: scan: %w", spec.Table, err)
			}
			out[storage.NormalizeKey(k)] = id
		}
		if err := qrows.Err(); err != nil {
			qrows.Close()
			return nil, fmt.Errorf("mssql: upsert %s: rows: %w", spec.Table, err)
		}
		qrows.Close()
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

// Begin opens a unit of work backed by one SQL transaction.
func (r *Repo) Begin(ctx context.Context) (storage.UnitOfWork, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &unitOfWork{tx: tx}, nil
}

// RefreshView reports ErrViewsUnsupported; SQL Server's indexed views
// maintain themselves, so there is nothing to refresh.
func (r *Repo) RefreshView(ctx context.Context, view string) error {
	return fmt.Errorf("refresh %s: %w", view, storage.ErrViewsUnsupported)
}

type unitOfWork struct {
	tx   *sql.Tx
	done bool
}

func (u *unitOfWork) Insert(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns []string) (int64, error) {
	chunkRows := max(2000/len(columns), 1)

	var total int64
	for start := 0; start < len(rows); start += chunkRows {
		end := min(start+chunkRows, len(rows))

		query, args := buildFactInsertSQL(table, columns, rows[start:end], conflictColumns)
		res, err := u.tx.ExecContext(ctx, query, args...)
		if err != nil {
			return total, err
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		}
	}
	return total, nil
}

func (u *unitOfWork) Commit(ctx context.Context) error {
	u.done = true
	return u.tx.Commit()
}

func (u *unitOfWork) Rollback(ctx context.Context) error {
	if u.done {
		return nil
	}
	return u.tx.Rollback()
}
