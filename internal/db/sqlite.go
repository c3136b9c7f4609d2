package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const DriverSQLite = "sqlite"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS drafts (
    token TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    scope_hint TEXT NOT NULL DEFAULT '',
    images TEXT NOT NULL DEFAULT '[]',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    committed_at INTEGER NOT NULL DEFAULT 0,
    version INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_drafts_updated_at ON drafts (updated_at, token);

CREATE TABLE IF NOT EXISTS posts (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL DEFAULT 'thread',
    parent_id TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL DEFAULT '',
    content TEXT NOT NULL DEFAULT '',
    content_hash TEXT NOT NULL DEFAULT '',
    user_id TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    modified_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_posts_owner_modified ON posts (user_id, modified_at);

CREATE TABLE IF NOT EXISTS post_revisions (
    id TEXT PRIMARY KEY,
    post_id TEXT NOT NULL,
    content BLOB NOT NULL,
    compression TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_post_revisions_post ON post_revisions (post_id, created_at);`

type SQLite struct {
	conn
	dsn string
}

func NewSQLite(dsn string) *SQLite {
	if dsn == "" {
		dsn = "./attachments.db"
	}
	return &SQLite{
		conn: conn{bind: noRebind},
		dsn:  dsn,
	}
}

func (s *SQLite) Driver() string {
	return DriverSQLite
}

func (s *SQLite) InitDB() error {
	var err error
	s.db, err = sql.Open("sqlite3", s.dsn)
	if err != nil {
		return err
	}

	// One connection serializes writers and keeps ":memory:" databases alive.
	s.db.SetMaxOpenConns(1)

	res, err := s.db.Exec(sqliteSchema)
	if err != nil {
		return fmt.Errorf("create sqlite schema: %w", err)
	}

	dbLogger.Info().Any("db_result", res).Str("dsn", s.dsn).Msg("Database initialized")
	return nil
}
