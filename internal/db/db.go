package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

type DB struct {
	conn    *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// DialectFor picks the backend for a DSN. Postgres URLs select Postgres,
// anything else is treated as a SQLite file path.
func DialectFor(dsn string) Dialect {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return DialectPostgres
	}
	return DialectSQLite
}

// Open connects to the database named by dsn and applies pending migrations.
// retries bounds the number of ping attempts made against a Postgres server.
func Open(ctx context.Context, dsn string, retries int, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var (
		d   *DB
		err error
	)
	switch DialectFor(dsn) {
	case DialectPostgres:
		d, err = openPostgres(ctx, dsn, retries, logger)
	default:
		d, err = openSQLite(ctx, dsn, logger)
	}
	if err != nil {
		return nil, err
	}

	if err := d.migrate(ctx); err != nil {
		d.conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return d, nil
}

func openSQLite(ctx context.Context, path string, logger *slog.Logger) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	return &DB{conn: conn, dialect: DialectSQLite, logger: logger}, nil
}

func openPostgres(ctx context.Context, dsn string, retries int, logger *slog.Logger) (*DB, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(10)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	if err := pingWithBackoff(ctx, conn, retries, logger); err != nil {
		conn.Close()
		return nil, err
	}
	return &DB{conn: conn, dialect: DialectPostgres, logger: logger}, nil
}

// pingWithBackoff waits for the server to accept connections, sleeping on a
// golden-ratio schedule between attempts.
func pingWithBackoff(ctx context.Context, conn *sql.DB, retries int, logger *slog.Logger) error {
	if retries < 1 {
		retries = 1
	}
	const phi = 1.61803398875

	var err error
	for i := range retries {
		if err = conn.PingContext(ctx); err == nil {
			return nil
		}

		sleep := time.Duration(float64(i)*phi) * time.Second
		logger.Warn("could not connect to database, retrying",
			"attempt", i+1,
			"retry_in", sleep.String(),
			"error", err,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
	return fmt.Errorf("could not connect to database after %d attempts: %w", retries, err)
}

func (d *DB) migrate(ctx context.Context) error {
	var (
		dialect goose.Dialect
		dir     string
	)
	switch d.dialect {
	case DialectPostgres:
		dialect, dir = goose.DialectPostgres, "migrations/postgres"
	default:
		dialect, dir = goose.DialectSQLite3, "migrations/sqlite"
	}

	sub, err := fs.Sub(migrationsFS, dir)
	if err != nil {
		return err
	}

	provider, err := goose.NewProvider(dialect, d.conn, sub)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return err
	}
	for _, r := range results {
		d.logger.Info("applied migration",
			"version", r.Source.Version,
			"path", r.Source.Path,
			"duration", r.Duration.String(),
		)
	}
	return nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) Conn() *sql.DB {
	return d.conn
}

func (d *DB) Dialect() Dialect {
	return d.dialect
}

// Rebind rewrites '?' placeholders into $1..$n for Postgres. Queries must not
// contain literal question marks.
func Rebind(dialect Dialect, query string) string {
	if dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
