package mssql

import (
	"reflect"
	"strings"
	"testing"

	"scoutetl/internal/storage"
)

var brandSpec = storage.EntitySpec{
	Table:         "brands",
	KeyColumn:     "brand_name",
	IDColumn:      "id",
	Columns:       []string{"brand_name", "is_tbwa_client"},
	UpdateColumns: []string{"is_tbwa_client"},
}

func TestBuildUpdateSQL(t *testing.T) {
	t.Parallel()

	rows := [][]any{{"Winston", true}, {"Mevius", false}}
	sql, args := buildUpdateSQL(brandSpec, rows, 0)

	want := `UPDATE t SET t.[is_tbwa_client] = v.[is_tbwa_client] FROM [brands] AS t` +
		` JOIN (VALUES (@p1, @p2), (@p3, @p4)) AS v ([brand_name], [is_tbwa_client])` +
		` ON t.[brand_name] = v.[brand_name]`
	if sql != want {
		t.Errorf("sql =\n%s\nwant\n%s", sql, want)
	}
	if !reflect.DeepEqual(args, []any{"Winston", true, "Mevius", false}) {
		t.Errorf("args = %v", args)
	}
}

func TestBuildAntiJoinInsertSQL(t *testing.T) {
	t.Parallel()

	sql, args := buildAntiJoinInsertSQL(brandSpec, [][]any{{"Winston", true}})

	want := `INSERT INTO [brands] ([brand_name], [is_tbwa_client])` +
		` SELECT v.[brand_name], v.[is_tbwa_client] FROM (VALUES (@p1, @p2))` +
		` AS v ([brand_name], [is_tbwa_client])` +
		` WHERE NOT EXISTS (SELECT 1 FROM [brands] AS t WHERE t.[brand_name] = v.[brand_name])`
	if sql != want {
		t.Errorf("sql =\n%s\nwant\n%s", sql, want)
	}
	if !reflect.DeepEqual(args, []any{"Winston", true}) {
		t.Errorf("args = %v", args)
	}
}

func TestBuildSelectIDsSQL(t *testing.T) {
	t.Parallel()

	sql, args := buildSelectIDsSQL(brandSpec, [][]any{{"Winston", true}, {"Mevius", false}}, 0)

	want := `SELECT [brand_name], [id] FROM [brands] WHERE [brand_name] IN (@p1, @p2)`
	if sql != want {
		t.Errorf("sql = %s", sql)
	}
	if !reflect.DeepEqual(args, []any{"Winston", "Mevius"}) {
		t.Errorf("args = %v", args)
	}
}

func TestBuildFactInsertSQLDedupe(t *testing.T) {
	t.Parallel()

	sql, args := buildFactInsertSQL(
		"transaction_items",
		[]string{"transaction_id", "product_id", "quantity"},
		[][]any{{"TXN1", int64(11), 2}},
		[]string{"transaction_id", "product_id"},
	)

	if !strings.Contains(sql, "WHERE NOT EXISTS (SELECT 1 FROM [transaction_items] AS t "+
		"WHERE t.[transaction_id] = v.[transaction_id] AND t.[product_id] = v.[product_id])") {
		t.Errorf("missing dedupe guard:\n%s", sql)
	}
	if len(args) != 3 {
		t.Errorf("args = %v", args)
	}
}

func TestBuildFactInsertSQLNoConflictColumns(t *testing.T) {
	t.Parallel()

	sql, _ := buildFactInsertSQL("t", []string{"a"}, [][]any{{1}}, nil)
	if strings.Contains(sql, "NOT EXISTS") {
		t.Errorf("unexpected dedupe guard:\n%s", sql)
	}
}

func TestMSIdentQuoting(t *testing.T) {
	t.Parallel()

	if got := msIdent("weird]col"); got != "[weird]]col]" {
		t.Errorf("msIdent = %s", got)
	}
}
