// Package engine executes the compiled statements of the schema, query,
// write, parts and shared packages against a MySQL-family database. The
// compilers are pure; the engine owns the connection pool, transactions
// and row-to-object conversion.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql" // MySQL driver for sqlx
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/strata-db/strata/internal/config"
	"github.com/strata-db/strata/internal/ddl"
	"github.com/strata-db/strata/internal/parts"
	"github.com/strata-db/strata/internal/query"
	"github.com/strata-db/strata/internal/schema"
	"github.com/strata-db/strata/internal/shared"
	"github.com/strata-db/strata/internal/stmt"
	"github.com/strata-db/strata/internal/write"
)

// Object is a domain object in its map form, mirroring its JSON document.
type Object = map[string]interface{}

// ErrNotFound is returned by FindOne when no row matches the spec.
var ErrNotFound = errors.New("object not found")

// Engine ties the compilers to a database connection.
type Engine struct {
	registry *schema.Registry
	db       *sqlx.DB
	logger   *zap.Logger
	session  uuid.UUID

	ddl      *ddl.Compiler
	queries  *query.Compiler
	writes   *write.Compiler
	parts    *parts.Compiler
	resolver *shared.Resolver

	defaultSetID int64
}

// New creates an engine over an existing connection. The registry must be
// finalized.
func New(registry *schema.Registry, db *sqlx.DB, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		registry: registry,
		db:       db,
		logger:   logger,
		session:  uuid.New(),
		ddl:      ddl.NewCompiler(registry),
		queries:  query.NewCompiler(registry),
		writes:   write.NewCompiler(registry),
		parts:    parts.NewCompiler(registry),
		resolver: shared.NewResolver(registry),
	}
}

// Open connects to the configured database and creates an engine over it.
func Open(cfg *config.Config, registry *schema.Registry, logger *zap.Logger) (*Engine, error) {
	db, err := sqlx.Open("mysql", cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	e := New(registry, db, logger)
	e.defaultSetID = cfg.Tenant.DefaultSetID
	return e, nil
}

// Close releases the connection pool.
func (e *Engine) Close() error {
	return e.db.Close()
}

// DB exposes the underlying connection, mainly for migrations and tests.
func (e *Engine) DB() *sqlx.DB {
	return e.db
}

// Session returns the engine's session id, recorded in audit metadata
// when the caller supplies none.
func (e *Engine) Session() uuid.UUID {
	return e.session
}

// CreateSchema compiles and applies the DDL for the named models, or for
// every registered model when none are named.
func (e *Engine) CreateSchema(ctx context.Context, models ...string) error {
	stmts, err := e.ddl.CreateSchema(models...)
	if err != nil {
		return err
	}
	for _, s := range stmts {
		if _, err := e.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	e.logger.Info("schema created",
		zap.Int("statements", len(stmts)),
		zap.String("session", e.session.String()))
	return nil
}

// NextID allocates the next prefixed string id from a model's sequence
// table. The insert and the id read run on one transaction so concurrent
// allocations never observe each other's LAST_INSERT_ID.
func (e *Engine) NextID(ctx context.Context, model string) (string, error) {
	m, err := e.registry.MustGet(model)
	if err != nil {
		return "", err
	}
	if m.SequencePrefix == "" {
		return "", fmt.Errorf("model %s has no sequence", model)
	}

	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning id allocation: %w", err)
	}
	defer tx.Rollback()

	insert, selectID := ddl.NextIDStatement(m)
	if _, err := tx.ExecContext(ctx, insert); err != nil {
		return "", fmt.Errorf("advancing sequence: %w", err)
	}

	var id string
	if err := tx.QueryRowxContext(ctx, selectID).Scan(&id); err != nil {
		return "", fmt.Errorf("reading sequence id: %w", err)
	}
	return id, tx.Commit()
}

// execNamed executes a compiled statement with its named arguments.
func execNamed(ctx context.Context, ext sqlx.ExtContext, st *stmt.Statement) (sql.Result, error) {
	q, args, err := sqlx.Named(st.SQL, st.Args)
	if err != nil {
		return nil, fmt.Errorf("binding statement: %w", err)
	}
	return ext.ExecContext(ctx, q, args...)
}

// queryNamed runs a compiled statement and returns its rows.
func queryNamed(ctx context.Context, ext sqlx.ExtContext, st *stmt.Statement) (*sqlx.Rows, error) {
	return sqlx.NamedQueryContext(ctx, ext, st.SQL, st.Args)
}

// scanMaps drains rows into column-keyed maps with driver byte slices
// normalized to strings.
func scanMaps(rows *sqlx.Rows) ([]map[string]interface{}, error) {
	defer rows.Close()

	var out []map[string]interface{}
	for rows.Next() {
		m := map[string]interface{}{}
		if err := rows.MapScan(m); err != nil {
			return nil, err
		}
		for k, v := range m {
			if b, ok := v.([]byte); ok {
				m[k] = string(b)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
