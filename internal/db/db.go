package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	DialectSQLite   = "sqlite3"
	DialectPostgres = "postgres"
)

// DB bundles the connection pool with the goqu dialect matching its driver.
type DB struct {
	*sql.DB
	Dialect string
}

// Goqu returns a query builder bound to the pool.
func (d *DB) Goqu() *goqu.Database {
	return goqu.New(d.Dialect, d.DB)
}

// Open connects to the database named by dsn and runs migrations.
// postgres:// URLs use lib/pq, libsql:// URLs use the Turso client, and
// anything else is treated as a local SQLite file.
func Open(ctx context.Context, dsn string) (*DB, error) {
	driver, dialect, source := resolveDriver(dsn)

	conn, err := sql.Open(driver, source)
	if err != nil {
		log.Error().Err(err).Str("driver", driver).Msg("failed to open database")
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if err := conn.PingContext(ctx); err != nil {
		log.Error().Err(err).Str("driver", driver).Msg("failed to ping database")
		conn.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	log.Debug().Str("driver", driver).Msg("database connection successful")

	if err := migrate(ctx, conn, dialect); err != nil {
		log.Error().Err(err).Msg("failed to run migrations")
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info().Str("driver", driver).Msg("migrations completed successfully")

	return &DB{DB: conn, Dialect: dialect}, nil
}

func resolveDriver(dsn string) (driver, dialect, source string) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres", DialectPostgres, dsn
	case strings.HasPrefix(dsn, "libsql://"), strings.HasPrefix(dsn, "wss://"):
		return "libsql", DialectSQLite, dsn
	default:
		return "sqlite", DialectSQLite, formatSQLitePath(dsn)
	}
}

func formatSQLitePath(path string) string {
	path = strings.TrimPrefix(path, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}

	// See: https://pkg.go.dev/modernc.org/sqlite#pkg-overview
	params := url.Values{}
	params.Set("mode", "rwc")
	params.Set("_time_format", "sqlite")
	params.Set("_txlock", "immediate")
	params.Set("_pragma", "foreign_keys(1)")
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "synchronous(NORMAL)")
	params.Add("_pragma", "busy_timeout(5000)")

	return "file:" + path + "?" + params.Encode()
}

// IsUniqueViolation reports whether err was raised by a UNIQUE constraint,
// whichever driver produced it.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	// libsql reports constraint failures as plain text
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func migrate(ctx context.Context, conn *sql.DB, dialect string) error {
	stmts := sqliteSchema
	if dialect == DialectPostgres {
		stmts = postgresSchema
	}

	for _, stmt := range stmts {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS links (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id INTEGER NOT NULL,
		short_code TEXT UNIQUE NOT NULL,
		target_url TEXT NOT NULL,
		click_count INTEGER NOT NULL DEFAULT 0 CHECK (click_count >= 0),
		created_at TEXT NOT NULL,
		expires_at TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		qr_path TEXT,
		qr_generated_at TEXT,
		CHECK ((qr_path IS NULL) = (qr_generated_at IS NULL)),
		FOREIGN KEY(owner_id) REFERENCES users(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS clicks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		link_id INTEGER NOT NULL,
		clicked_at TEXT NOT NULL,
		user_agent TEXT,
		ip_address TEXT,
		FOREIGN KEY(link_id) REFERENCES links(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_links_owner_id ON links(owner_id)`,
	`CREATE INDEX IF NOT EXISTS idx_clicks_link_id ON clicks(link_id)`,
	`CREATE INDEX IF NOT EXISTS idx_clicks_clicked_at ON clicks(clicked_at)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS links (
		id BIGSERIAL PRIMARY KEY,
		owner_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		short_code TEXT UNIQUE NOT NULL,
		target_url TEXT NOT NULL,
		click_count BIGINT NOT NULL DEFAULT 0 CHECK (click_count >= 0),
		created_at TEXT NOT NULL,
		expires_at TEXT,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		qr_path TEXT,
		qr_generated_at TEXT,
		CHECK ((qr_path IS NULL) = (qr_generated_at IS NULL))
	)`,
	`CREATE TABLE IF NOT EXISTS clicks (
		id BIGSERIAL PRIMARY KEY,
		link_id BIGINT NOT NULL REFERENCES links(id) ON DELETE CASCADE,
		clicked_at TEXT NOT NULL,
		user_agent TEXT,
		ip_address TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_links_owner_id ON links(owner_id)`,
	`CREATE INDEX IF NOT EXISTS idx_clicks_link_id ON clicks(link_id)`,
	`CREATE INDEX IF NOT EXISTS idx_clicks_clicked_at ON clicks(clicked_at)`,
}
