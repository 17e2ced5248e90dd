// Package storage defines the backend-agnostic contract the loader writes
// through. Backends (postgres, sqlite, mssql) register themselves under a
// kind string; nothing outside the backend packages imports a driver.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Config selects and connects a backend.
type Config struct {
	// Kind is a registered backend: "postgres", "sqlite", "mssql".
	Kind string
	// DSN is backend-specific (pgx DSN, sqlite path, sqlserver URL).
	DSN string
}

// EntitySpec describes one reference table for upserts.
//
// KeyColumn is the natural-key column used as the conflict target; IDColumn
// is the storage-assigned surrogate. Columns lists every insert column
// (including the key) in the order upsert rows are built. UpdateColumns are
// the mutable attributes rewritten on conflict; when empty, the upsert
// degrades to insert-if-absent but must still resolve ids for every key.
type EntitySpec struct {
	Table         string
	KeyColumn     string
	IDColumn      string
	Columns       []string
	UpdateColumns []string
}

// KeyIndex returns the position of KeyColumn within Columns.
func (s EntitySpec) KeyIndex() int {
	for i, c := range s.Columns {
		if c == s.KeyColumn {
			return i
		}
	}
	return -1
}

// ErrViewsUnsupported is returned by RefreshView on backends without
// materialized views. The caller treats it as "skipped", not a failure.
var ErrViewsUnsupported = errors.New("storage: materialized views unsupported")

// Repository is one storage target.
//
// UpsertEntities must be atomic per call with respect to concurrent loader
// instances: conflict resolution happens at the storage layer, never as
// check-then-insert. The returned map is NormalizeKey(natural key) ->
// surrogate id and must cover every input row.
type Repository interface {
	// EnsureSchema idempotently creates the target tables.
	EnsureSchema(ctx context.Context) error

	// UpsertEntities inserts-or-updates rows (aligned to spec.Columns) and
	// resolves their surrogate ids in as few round trips as the backend
	// allows.
	UpsertEntities(ctx context.Context, spec EntitySpec, rows [][]any) (map[string]int64, error)

	// Begin opens a unit of work for one fact batch.
	Begin(ctx context.Context) (UnitOfWork, error)

	// RefreshView refreshes one named materialized view.
	RefreshView(ctx context.Context, view string) error

	Close()
}

// UnitOfWork scopes a fact batch: every Insert happens inside one storage
// transaction, and Commit/Rollback are always paired with it regardless of
// exit path. Rollback after Commit is a no-op, so `defer uow.Rollback(ctx)`
// is safe.
type UnitOfWork interface {
	// Insert appends rows to table. When conflictColumns is non-empty the
	// insert is idempotent: rows colliding on those columns are ignored.
	Insert(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns []string) (int64, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	regMu     sync.RWMutex
	factories = map[string]factory{}
)

// Register installs a backend factory under kind. Backends call this from
// init(); duplicate registration panics.
func Register(kind string, fn func(ctx context.Context, cfg Config) (Repository, error)) {
	regMu.Lock()
	defer regMu.Unlock()
	if _, dup := factories[kind]; dup {
		panic("storage: duplicate backend " + kind)
	}
	factories[kind] = fn
}

// New dispatches to the registered backend for cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	regMu.RLock()
	fn, ok := factories[cfg.Kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage: unknown backend %q (registered: %s)", cfg.Kind, strings.Join(Kinds(), ", "))
	}
	return fn(ctx, cfg)
}

// Kinds lists registered backend kinds, sorted.
func Kinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// NormalizeKey produces the stable string form used for in-memory id maps.
// Scanned key columns can come back as string or []byte depending on the
// driver, so map lookups go through this on both sides.
func NormalizeKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return strings.TrimSpace(string(t))
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
