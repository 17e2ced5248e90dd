// Package sqlite implements storage.Repository on modernc.org/sqlite.
//
// Besides being a lightweight deployment target, this backend is what the
// loader's integration tests run against: it honors the same upsert and
// transaction semantics as Postgres (ON CONFLICT, RETURNING, foreign keys)
// without needing a server.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"scoutetl/internal/storage"
)

func init() {
	storage.Register("sqlite", New)
}

// Repo is a SQLite-backed repository.
type Repo struct {
	db *sql.DB
}

// New opens (creating if needed) the database at cfg.DSN.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}

	// Single connection: SQLite serializes writers anyway, and it guarantees
	// the pragma below applies to every statement we run.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

// Close closes the database.
func (r *Repo) Close() { _ = r.db.Close() }

// EnsureSchema creates the target tables. Idempotent.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	for _, ddl := range schemaDDL {
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("sqlite: ensure schema: %w", err)
		}
	}
	return nil
}

// UpsertEntities upserts rows and resolves surrogate ids in one statement per
// chunk via ON CONFLICT ... DO UPDATE ... RETURNING, same shape as the
// Postgres backend.
func (r *Repo) UpsertEntities(ctx context.Context, spec storage.EntitySpec, rows [][]any) (map[string]int64, error) {
	out := make(map[string]int64, len(rows))
	if len(rows) == 0 {
		return out, nil
	}

	for start := 0; start < len(rows); start += upsertChunkRows {
		end := min(start+upsertChunkRows, len(rows))

		query, args := buildUpsertSQL(spec, rows[start:end])
		qrows, err := r.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("sqlite: upsert %s: %w", spec.Table, err)
		}
		for qrows.Next() {
			var k any
			var id int64
			if err := qrows.Scan(&k, &id); err != nil {
				qrows.Close()
				return nil, fmt.Errorf("sqlite: upsert %s: scan: %w", spec.Table, err)
			}
			out[storage.NormalizeKey(k)] = id
		}
		if err := qrows.Err(); err != nil {
			qrows.Close()
			return nil, fmt.Errorf("sqlite: upsert %s: %w", spec.Table, err)
		}
		qrows.Close()
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

// RefreshView reports ErrViewsUnsupported: SQLite has no materialized views,
// and the notifier treats that as a skip rather than a failure.
func (r *Repo) RefreshView(ctx context.Context, view string) error {
	return fmt.Errorf("refresh %s: %w", view, storage.ErrViewsUnsupported)
}

type unitOfWork struct {
	tx   *sql.Tx
	done bool
}

func (u *unitOfWork) Insert(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns []string) (int64, error) {
	var total int64
	for start := 0; start < len(rows); start += insertChunkRows {
		end := min(start+insertChunkRows, len(rows))

		query, args := buildInsertSQL(table, columns, rows[start:end], conflictColumns)
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

const (
	upsertChunkRows = 200
	insertChunkRows = 200
)

func buildUpsertSQL(spec storage.EntitySpec, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(spec.Table)
	b.WriteString(" (")
	for i, c := range spec.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(spec.Columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range spec.Columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString("?")
			args = append(args, row[j])
		}
		b.WriteString(")")
	}

	b.WriteString(" ON CONFLICT (")
	b.WriteString(sqlIdent(spec.KeyColumn))
	b.WriteString(") DO UPDATE SET ")

	update := spec.UpdateColumns
	if len(update) == 0 {
		update = []string{spec.KeyColumn}
	}
	for i, c := range update {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(c))
		b.WriteString(" = excluded.")
		b.WriteString(sqlIdent(c))
	}

	b.WriteString(" RETURNING ")
	b.WriteString(sqlIdent(spec.KeyColumn))
	b.WriteString(", ")
	b.WriteString(sqlIdent(spec.IDColumn))

	return b.String(), args
}

func buildInsertSQL(table string, columns []string, rows [][]any, conflictColumns []string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString("?")
			args = append(args, row[j])
		}
		b.WriteString(")")
	}

	// Targeted DO NOTHING rather than INSERT OR IGNORE: only the dedupe
	// conflict is forgiven, NOT NULL and FK violations still fail the batch.
	if len(conflictColumns) > 0 {
		b.WriteString(" ON CONFLICT (")
		for i, c := range conflictColumns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(sqlIdent(c))
		}
		b.WriteString(") DO NOTHING")
	}

	return b.String(), args
}

func sqlIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// SQLite stores booleans as INTEGER and timestamps as TEXT (the driver
// round-trips time.Time through RFC3339 strings).
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS brands (
		id INTEGER PRIMARY KEY,
		brand_name TEXT NOT NULL UNIQUE,
		is_tbwa_client INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE TABLE IF NOT EXISTS products (
		id INTEGER PRIMARY KEY,
		sku_id TEXT NOT NULL UNIQUE,
		brand_id INTEGER NOT NULL REFERENCES brands(id),
		product_name TEXT NOT NULL,
		product_category TEXT,
		product_subcat TEXT,
		msrp REAL
	);`,
	`CREATE TABLE IF NOT EXISTS stores (
		id INTEGER PRIMARY KEY,
		store_id TEXT NOT NULL UNIQUE,
		store_name TEXT,
		store_type TEXT,
		region TEXT,
		province TEXT,
		city_municipality TEXT,
		barangay TEXT,
		latitude REAL,
		longitude REAL,
		economic_class TEXT
	);`,
	`CREATE TABLE IF NOT EXISTS customers (
		id INTEGER PRIMARY KEY,
		external_id TEXT NOT NULL UNIQUE,
		gender TEXT,
		age_bracket TEXT,
		customer_type TEXT,
		loyalty_status TEXT,
		inferred_from TEXT
	);`,
	`CREATE TABLE IF NOT EXISTS campaigns (
		id INTEGER PRIMARY KEY,
		campaign_id TEXT NOT NULL UNIQUE,
		campaign_name TEXT,
		campaign_type TEXT
	);`,
	`CREATE TABLE IF NOT EXISTS transactions (
		transaction_id TEXT PRIMARY KEY,
		ts TEXT NOT NULL,
		store_id INTEGER NOT NULL REFERENCES stores(id),
		customer_id INTEGER REFERENCES customers(id),
		campaign_id INTEGER REFERENCES campaigns(id),
		transaction_value REAL,
		discount_amount REAL,
		final_amount REAL,
		payment_method TEXT,
		duration_seconds INTEGER,
		units_total INTEGER,
		unique_items INTEGER,
		weather TEXT,
		day_of_week TEXT,
		hour_of_day INTEGER,
		is_holiday INTEGER,
		is_payday INTEGER,
		influenced_by_campaign INTEGER
	);`,
	`CREATE TABLE IF NOT EXISTS transaction_items (
		id INTEGER PRIMARY KEY,
		transaction_id TEXT NOT NULL REFERENCES transactions(transaction_id),
		product_id INTEGER NOT NULL REFERENCES products(id),
		quantity INTEGER NOT NULL,
		unit_price REAL,
		total_price REAL,
		discount_applied REAL,
		was_substituted INTEGER NOT NULL,
		original_request TEXT,
		substitution_reason TEXT,
		is_promo INTEGER,
		promo_type TEXT,
		UNIQUE (transaction_id, product_id)
	);`,
	`CREATE TABLE IF NOT EXISTS audio_transcripts (
		id INTEGER PRIMARY KEY,
		transaction_id TEXT NOT NULL UNIQUE REFERENCES transactions(transaction_id),
		audio_language TEXT,
		audio_duration_seconds INTEGER,
		audio_quality TEXT,
		background_noise_level TEXT,
		full_transcript TEXT,
		transcription_confidence REAL,
		key_phrases TEXT,
		request_type TEXT,
		storeowner_influence TEXT,
		recommendation_given INTEGER,
		suggestion_accepted INTEGER,
		sentiment_score REAL,
		primary_intent TEXT,
		brand_mentions TEXT,
		product_mentions TEXT,
		price_mentioned INTEGER,
		promo_inquiry INTEGER
	);`,
	`CREATE TABLE IF NOT EXISTS video_signals (
		id INTEGER PRIMARY KEY,
		transaction_id TEXT NOT NULL UNIQUE REFERENCES transactions(transaction_id),
		objects_detected TEXT,
		people_count INTEGER,
		products_visible TEXT,
		shelf_visibility TEXT,
		browsing_duration_seconds INTEGER,
		products_touched INTEGER,
		decision_time_seconds INTEGER,
		lighting_quality TEXT,
		store_organization TEXT,
		queue_length INTEGER,
		looked_at_promo INTEGER
	);`,
}
