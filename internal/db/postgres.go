package db

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
)

const DriverPostgres = "postgres"

const postgresSchema = `
CREATE TABLE IF NOT EXISTS drafts (
    token TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    scope_hint TEXT NOT NULL DEFAULT '',
    images TEXT NOT NULL DEFAULT '[]',
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL,
    committed_at BIGINT NOT NULL DEFAULT 0,
    version BIGINT NOT NULL DEFAULT 0
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
    created_at BIGINT NOT NULL,
    modified_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_posts_owner_modified ON posts (user_id, modified_at);

CREATE TABLE IF NOT EXISTS post_revisions (
    id TEXT PRIMARY KEY,
    post_id TEXT NOT NULL,
    content BYTEA NOT NULL,
    compression TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    created_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_post_revisions_post ON post_revisions (post_id, created_at);`

type Postgres struct {
	conn
	dsn string
}

func NewPostgres(dsn string) *Postgres {
	return &Postgres{
		conn: conn{bind: rebindDollar},
		dsn:  dsn,
	}
}

func (p *Postgres) Driver() string {
	return DriverPostgres
}

func (p *Postgres) InitDB() error {
	var err error
	p.db, err = sql.Open("postgres", p.dsn)
	if err != nil {
		return err
	}

	if err := p.db.Ping(); err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}

	if _, err := p.db.Exec(postgresSchema); err != nil {
		return fmt.Errorf("create postgres schema: %w", err)
	}

	dbLogger.Info().Msg("Database initialized")
	return nil
}

// rebindDollar turns '?' placeholders into $1, $2, ... skipping quoted text.
func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch {
		case ch == '\'':
			inQuote = !inQuote
			b.WriteByte(ch)
		case ch == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}
