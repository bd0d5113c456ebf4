package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	_ "github.com/tursodatabase/go-libsql"
)

// Options configures the embedded libsql thread database.
type Options struct {
	Path string // path to the .db file; parent directories are created
	WAL  bool   // open in write-ahead-log mode
}

// Open creates the database file if needed, opens it and checks the connection.
func Open(ctx context.Context, opts Options, logger zerolog.Logger) (*sql.DB, error) {
	path := strings.TrimSpace(strings.TrimPrefix(opts.Path, "file:"))
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("could not create database directory for %s: %w", path, err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Info().Str("path", path).Msg("thread database not found, creating a new one")
	}

	dsn := dataSourceName(path, opts)
	logger.Debug().Str("dsn", dsn).Msg("connecting to embedded libsql")

	conn, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open libsql connection: %w", err)
	}

	if err := ping(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func dataSourceName(path string, opts Options) string {
	q := url.Values{}
	q.Set("_foreign_keys", "1")
	if opts.WAL {
		q.Set("_journal_mode", "WAL")
		q.Set("_synchronous", "NORMAL")
	}
	return "file:" + path + "?" + q.Encode()
}

func ping(ctx context.Context, conn *sql.DB) error {
	var version string
	if err := conn.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&version); err != nil {
		return fmt.Errorf("thread database connectivity check failed: %w", err)
	}
	if version == "" {
		return fmt.Errorf("thread database connectivity check failed: empty version")
	}
	return nil
}
