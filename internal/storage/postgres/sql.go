package postgres

import (
	"fmt"
	"strings"

	"scoutetl/internal/storage"
)

// Chunk sizes keep statements well below the 65535 bind-parameter limit even
// for the widest tables.
const (
	upsertChunkRows = 500
	insertChunkRows = 500
)

// buildUpsertSQL constructs one multi-row upsert returning (key, id).
//
// Pure and deterministic so placeholder numbering and the conflict clause can
// be unit tested without a database.
func buildUpsertSQL(spec storage.EntitySpec, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(spec.Table)
	b.WriteString(" (")
	for i, c := range spec.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(spec.Columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range spec.Columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	b.WriteString(" ON CONFLICT (")
	b.WriteString(pgIdent(spec.KeyColumn))
	b.WriteString(") DO UPDATE SET ")

	// With no mutable attributes the key self-assignment keeps the DO UPDATE
	// arm firing, which is what makes RETURNING cover conflicting rows.
	update := spec.UpdateColumns
	if len(update) == 0 {
		update = []string{spec.KeyColumn}
	}
	for i, c := range update {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
		b.WriteString(" = EXCLUDED.")
		b.WriteString(pgIdent(c))
	}

	b.WriteString(" RETURNING ")
	b.WriteString(pgIdent(spec.KeyColumn))
	b.WriteString(", ")
	b.WriteString(pgIdent(spec.IDColumn))

	return b.String(), args
}

// buildInsertSQL constructs one multi-row fact insert. A non-empty
// conflictColumns list appends ON CONFLICT (...) DO NOTHING, which is what
// makes reprocessing the same transactions idempotent.
func buildInsertSQL(table string, columns []string, rows [][]any, conflictColumns []string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	if len(conflictColumns) > 0 {
		b.WriteString(" ON CONFLICT (")
		for i, c := range conflictColumns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(pgIdent(c))
		}
		b.WriteString(") DO NOTHING")
	}

	return b.String(), args
}

// pgIdent quotes an identifier.
func pgIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// schemaDDL creates the full target schema. Surrogate ids are identity
// columns; natural keys carry the UNIQUE constraints the upserts conflict on.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS brands (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		brand_name TEXT NOT NULL UNIQUE,
		is_tbwa_client BOOLEAN NOT NULL DEFAULT FALSE
	);`,
	`CREATE TABLE IF NOT EXISTS products (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		sku_id TEXT NOT NULL UNIQUE,
		brand_id BIGINT NOT NULL REFERENCES brands(id),
		product_name TEXT NOT NULL,
		product_category TEXT,
		product_subcat TEXT,
		msrp NUMERIC(12,2)
	);`,
	`CREATE TABLE IF NOT EXISTS stores (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		store_id TEXT NOT NULL UNIQUE,
		store_name TEXT,
		store_type TEXT,
		region TEXT,
		province TEXT,
		city_municipality TEXT,
		barangay TEXT,
		latitude DOUBLE PRECISION,
		longitude DOUBLE PRECISION,
		economic_class TEXT
	);`,
	`CREATE TABLE IF NOT EXISTS customers (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		external_id TEXT NOT NULL UNIQUE,
		gender TEXT,
		age_bracket TEXT,
		customer_type TEXT,
		loyalty_status TEXT,
		inferred_from TEXT
	);`,
	`CREATE TABLE IF NOT EXISTS campaigns (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		campaign_id TEXT NOT NULL UNIQUE,
		campaign_name TEXT,
		campaign_type TEXT
	);`,
	`CREATE TABLE IF NOT EXISTS transactions (
		transaction_id TEXT PRIMARY KEY,
		ts TIMESTAMPTZ NOT NULL,
		store_id BIGINT NOT NULL REFERENCES stores(id),
		customer_id BIGINT REFERENCES customers(id),
		campaign_id BIGINT REFERENCES campaigns(id),
		transaction_value NUMERIC(14,2),
		discount_amount NUMERIC(14,2),
		final_amount NUMERIC(14,2),
		payment_method TEXT,
		duration_seconds INTEGER,
		units_total INTEGER,
		unique_items INTEGER,
		weather TEXT,
		day_of_week TEXT,
		hour_of_day INTEGER,
		is_holiday BOOLEAN,
		is_payday BOOLEAN,
		influenced_by_campaign BOOLEAN
	);`,
	`CREATE TABLE IF NOT EXISTS transaction_items (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		transaction_id TEXT NOT NULL REFERENCES transactions(transaction_id),
		product_id BIGINT NOT NULL REFERENCES products(id),
		quantity INTEGER NOT NULL,
		unit_price NUMERIC(12,2),
		total_price NUMERIC(14,2),
		discount_applied NUMERIC(12,2),
		was_substituted BOOLEAN NOT NULL,
		original_request TEXT,
		substitution_reason TEXT,
		is_promo BOOLEAN,
		promo_type TEXT,
		UNIQUE (transaction_id, product_id)
	);`,
	`CREATE TABLE IF NOT EXISTS audio_transcripts (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		transaction_id TEXT NOT NULL UNIQUE REFERENCES transactions(transaction_id),
		audio_language TEXT,
		audio_duration_seconds INTEGER,
		audio_quality TEXT,
		background_noise_level TEXT,
		full_transcript TEXT,
		transcription_confidence DOUBLE PRECISION,
		key_phrases TEXT,
		request_type TEXT,
		storeowner_influence TEXT,
		recommendation_given BOOLEAN,
		suggestion_accepted BOOLEAN,
		sentiment_score DOUBLE PRECISION,
		primary_intent TEXT,
		brand_mentions TEXT,
		product_mentions TEXT,
		price_mentioned BOOLEAN,
		promo_inquiry BOOLEAN
	);`,
	`CREATE TABLE IF NOT EXISTS video_signals (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
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
		looked_at_promo BOOLEAN
	);`,
}
