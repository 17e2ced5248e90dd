package mssql

import (
	"fmt"
	"strings"

	"scoutetl/internal/storage"
)

// buildUpdateSQL refreshes the mutable attributes of rows that already exist,
// joining the target table against an inline VALUES derived table on the
// natural key. One placeholder per key plus one per update column.
func buildUpdateSQL(spec storage.EntitySpec, rows [][]any, keyIx int) (string, []any) {
	updateIx := make([]int, len(spec.UpdateColumns))
	for i, c := range spec.UpdateColumns {
		for j, col := range spec.Columns {
			if col == c {
				updateIx[i] = j
			}
		}
	}

	var b strings.Builder
	b.WriteString("UPDATE t SET ")
	for i, c := range spec.UpdateColumns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("t.")
		b.WriteString(msIdent(c))
		b.WriteString(" = v.")
		b.WriteString(msIdent(c))
	}
	b.WriteString(" FROM ")
	b.WriteString(msIdent(spec.Table))
	b.WriteString(" AS t JOIN (VALUES ")

	args := make([]any, 0, len(rows)*(1+len(spec.UpdateColumns)))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		fmt.Fprintf(&b, "@p%d", p)
		args = append(args, row[keyIx])
		p++
		for _, ix := range updateIx {
			fmt.Fprintf(&b, ", @p%d", p)
			args = append(args, row[ix])
			p++
		}
		b.WriteString(")")
	}

	b.WriteString(") AS v (")
	b.WriteString(msIdent(spec.KeyColumn))
	for _, c := range spec.UpdateColumns {
		b.WriteString(", ")
		b.WriteString(msIdent(c))
	}
	b.WriteString(") ON t.")
	b.WriteString(msIdent(spec.KeyColumn))
	b.WriteString(" = v.")
	b.WriteString(msIdent(spec.KeyColumn))

	return b.String(), args
}

// buildAntiJoinInsertSQL inserts the rows whose natural key is not present
// yet. Rows that already exist fall out of the SELECT, so the statement is
// safe to replay.
func buildAntiJoinInsertSQL(spec storage.EntitySpec, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(msIdent(spec.Table))
	b.WriteString(" (")
	for i, c := range spec.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(msIdent(c))
	}
	b.WriteString(") SELECT ")
	for i, c := range spec.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("v.")
		b.WriteString(msIdent(c))
	}
	b.WriteString(" FROM (VALUES ")

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
			fmt.Fprintf(&b, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	b.WriteString(") AS v (")
	for i, c := range spec.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(msIdent(c))
	}
	b.WriteString(") WHERE NOT EXISTS (SELECT 1 FROM ")
	b.WriteString(msIdent(spec.Table))
	b.WriteString(" AS t WHERE t.")
	b.WriteString(msIdent(spec.KeyColumn))
	b.WriteString(" = v.")
	b.WriteString(msIdent(spec.KeyColumn))
	b.WriteString(")")

	return b.String(), args
}

// buildSelectIDsSQL resolves (key, id) for every row in the chunk.
func buildSelectIDsSQL(spec storage.EntitySpec, rows [][]any, keyIx int) (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(msIdent(spec.KeyColumn))
	b.WriteString(", ")
	b.WriteString(msIdent(spec.IDColumn))
	b.WriteString(" FROM ")
	b.WriteString(msIdent(spec.Table))
	b.WriteString(" WHERE ")
	b.WriteString(msIdent(spec.KeyColumn))
	b.WriteString(" IN (")

	args := make([]any, 0, len(rows))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "@p%d", i+1)
		args = append(args, row[keyIx])
	}
	b.WriteString(")")

	return b.String(), args
}

// buildFactInsertSQL inserts fact rows, skipping any whose dedupe key already
// exists. The NOT EXISTS guard plays the role ON CONFLICT DO NOTHING plays on
// the other backends.
func buildFactInsertSQL(table string, columns []string, rows [][]any, conflictColumns []string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(msIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(msIdent(c))
	}
	b.WriteString(") SELECT ")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("v.")
		b.WriteString(msIdent(c))
	}
	b.WriteString(" FROM (VALUES ")

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
			fmt.Fprintf(&b, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	b.WriteString(") AS v (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(msIdent(c))
	}
	b.WriteString(")")

	if len(conflictColumns) > 0 {
		b.WriteString(" WHERE NOT EXISTS (SELECT 1 FROM ")
		b.WriteString(msIdent(table))
		b.WriteString(" AS t WHERE ")
		for i, c := range conflictColumns {
			if i > 0 {
				b.WriteString(" AND ")
			}
			b.WriteString("t.")
			b.WriteString(msIdent(c))
			b.WriteString(" = v.")
			b.WriteString(msIdent(c))
		}
		b.WriteString(")")
	}

	return b.String(), args
}

// msIdent quotes an identifier with brackets.
func msIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// schemaDDL creates the full target schema, guarded so re-runs are no-ops.
// Key columns are bounded NVARCHARs so they can carry UNIQUE constraints;
// free text uses NVARCHAR(MAX).
var schemaDDL = []string{
	`IF OBJECT_ID(N'brands', N'U') IS NULL CREATE TABLE brands (
		id BIGINT IDENTITY(1,1) PRIMARY KEY,
		brand_name NVARCHAR(255) NOT NULL UNIQUE,
		is_tbwa_client BIT NOT NULL DEFAULT 0
	);`,
	`IF OBJECT_ID(N'products', N'U') IS NULL CREATE TABLE products (
		id BIGINT IDENTITY(1,1) PRIMARY KEY,
		sku_id NVARCHAR(255) NOT NULL UNIQUE,
		brand_id BIGINT NOT NULL REFERENCES brands(id),
		product_name NVARCHAR(512) NOT NULL,
		product_category NVARCHAR(255),
		product_subcat NVARCHAR(255),
		msrp DECIMAL(12,2)
	);`,
	`IF OBJECT_ID(N'stores', N'U') IS NULL CREATE TABLE stores (
		id BIGINT IDENTITY(1,1) PRIMARY KEY,
		store_id NVARCHAR(255) NOT NULL UNIQUE,
		store_name NVARCHAR(512),
		store_type NVARCHAR(255),
		region NVARCHAR(255),
		province NVARCHAR(255),
		city_municipality NVARCHAR(255),
		barangay NVARCHAR(255),
		latitude FLOAT,
		longitude FLOAT,
		economic_class NVARCHAR(64)
	);`,
	`IF OBJECT_ID(N'customers', N'U') IS NULL CREATE TABLE customers (
		id BIGINT IDENTITY(1,1) PRIMARY KEY,
		external_id NVARCHAR(255) NOT NULL UNIQUE,
		gender NVARCHAR(64),
		age_bracket NVARCHAR(64),
		customer_type NVARCHAR(64),
		loyalty_status NVARCHAR(64),
		inferred_from NVARCHAR(255)
	);`,
	`IF OBJECT_ID(N'campaigns', N'U') IS NULL CREATE TABLE campaigns (
		id BIGINT IDENTITY(1,1) PRIMARY KEY,
		campaign_id NVARCHAR(255) NOT NULL UNIQUE,
		campaign_name NVARCHAR(512),
		campaign_type NVARCHAR(255)
	);`,
	`IF OBJECT_ID(N'transactions', N'U') IS NULL CREATE TABLE transactions (
		transaction_id NVARCHAR(64) PRIMARY KEY,
		ts DATETIME2 NOT NULL,
		store_id BIGINT NOT NULL REFERENCES stores(id),
		customer_id BIGINT REFERENCES customers(id),
		campaign_id BIGINT REFERENCES campaigns(id),
		transaction_value DECIMAL(14,2),
		discount_amount DECIMAL(14,2),
		final_amount DECIMAL(14,2),
		payment_method NVARCHAR(64),
		duration_seconds INT,
		units_total INT,
		unique_items INT,
		weather NVARCHAR(64),
		day_of_week NVARCHAR(16),
		hour_of_day INT,
		is_holiday BIT,
		is_payday BIT,
		influenced_by_campaign BIT
	);`,
	`IF OBJECT_ID(N'transaction_items', N'U') IS NULL CREATE TABLE transaction_items (
		id BIGINT IDENTITY(1,1) PRIMARY KEY,
		transaction_id NVARCHAR(64) NOT NULL REFERENCES transactions(transaction_id),
		product_id BIGINT NOT NULL REFERENCES products(id),
		quantity INT NOT NULL,
		unit_price DECIMAL(12,2),
		total_price DECIMAL(14,2),
		discount_applied DECIMAL(12,2),
		was_substituted BIT NOT NULL,
		original_request NVARCHAR(512),
		substitution_reason NVARCHAR(255),
		is_promo BIT,
		promo_type NVARCHAR(255),
		CONSTRAINT uq_transaction_items UNIQUE (transaction_id, product_id)
	);`,
	`IF OBJECT_ID(N'audio_transcripts', N'U') IS NULL CREATE TABLE audio_transcripts (
		id BIGINT IDENTITY(1,1) PRIMARY KEY,
		transaction_id NVARCHAR(64) NOT NULL UNIQUE REFERENCES transactions(transaction_id),
		audio_language NVARCHAR(64),
		audio_duration_seconds INT,
		audio_quality NVARCHAR(64),
		background_noise_level NVARCHAR(64),
		full_transcript NVARCHAR(MAX),
		transcription_confidence FLOAT,
		key_phrases NVARCHAR(MAX),
		request_type NVARCHAR(64),
		storeowner_influence NVARCHAR(64),
		recommendation_given BIT,
		suggestion_accepted BIT,
		sentiment_score FLOAT,
		primary_intent NVARCHAR(64),
		brand_mentions NVARCHAR(MAX),
		product_mentions NVARCHAR(MAX),
		price_mentioned BIT,
		promo_inquiry BIT
	);`,
	`IF OBJECT_ID(N'video_signals', N'U') IS NULL CREATE TABLE video_signals (
		id BIGINT IDENTITY(1,1) PRIMARY KEY,
		transaction_id NVARCHAR(64) NOT NULL UNIQUE REFERENCES transactions(transaction_id),
		objects_detected NVARCHAR(MAX),
		people_count INT,
		products_visible NVARCHAR(MAX),
		shelf_visibility NVARCHAR(64),
		browsing_duration_seconds INT,
		products_touched INT,
		decision_time_seconds INT,
		lighting_quality NVARCHAR(64),
		store_organization NVARCHAR(64),
		queue_length INT,
		looked_at_promo BIT
	);`,
}
