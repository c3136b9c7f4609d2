// Package db wraps the relational store behind a small driver-neutral interface.
package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
)

// DB is the relational store. Queries are written with '?' placeholders;
// drivers that need another style rebind them.
type DB interface {
	InitDB() error

	Get() *sql.DB
	Close() error
	Driver() string

	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) *sql.Row
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)

	// WithTx runs fn in a transaction, committing when fn returns nil.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the subset of DB available inside a transaction.
type Tx interface {
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) *sql.Row
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
}

var dbLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	dbLogger = l
}

// Open returns an unopened DB for the named driver. Call InitDB before use.
func Open(driver, dsn string) (DB, error) {
	switch driver {
	case "", DriverSQLite:
		return NewSQLite(dsn), nil
	case DriverPostgres:
		return NewPostgres(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

// conn holds what both drivers share: the pool and the placeholder rebinder.
type conn struct {
	db   *sql.DB
	bind func(string) string
}

func (c *conn) Get() *sql.DB {
	return c.db
}

func (c *conn) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *conn) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	dbLogger.Debug().Str("query", query).Msg("Query")
	return c.db.QueryContext(ctx, c.bind(query), args...)
}

func (c *conn) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	dbLogger.Debug().Str("query", query).Msg("QueryRow")
	return c.db.QueryRowContext(ctx, c.bind(query), args...)
}

func (c *conn) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	dbLogger.Debug().Str("query", query).Msg("Exec")
	return c.db.ExecContext(ctx, c.bind(query), args...)
}

func (c *conn) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(&tx{tx: sqlTx, bind: c.bind}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			dbLogger.Error().Err(rbErr).Msg("Rollback failed")
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type tx struct {
	tx   *sql.Tx
	bind func(string) string
}

func (t *tx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	dbLogger.Debug().Str("query", query).Msg("Tx query")
	return t.tx.QueryContext(ctx, t.bind(query), args...)
}

func (t *tx) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	dbLogger.Debug().Str("query", query).Msg("Tx query row")
	return t.tx.QueryRowContext(ctx, t.bind(query), args...)
}

func (t *tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	dbLogger.Debug().Str("query", query).Msg("Tx exec")
	return t.tx.ExecContext(ctx, t.bind(query), args...)
}

func noRebind(q string) string { return q }
