package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const memoryPath = ":memory:"

// SQLite holds the SQLite database connection used by the domain modules
type SQLite struct {
	DB     *sql.DB
	Path   string
	Memory bool
	Logger *zap.SugaredLogger
}

// ParseURL extracts the database path from a sqlite URL.
// sqlite:///data/app.db is relative, sqlite:////var/app.db is absolute,
// and sqlite:///:memory: (or sqlite://:memory:) is an in-memory database.
func ParseURL(raw string) (string, error) {
	const scheme = "sqlite://"
	if !strings.HasPrefix(raw, scheme) {
		if i := strings.Index(raw, "://"); i > 0 {
			return "", fmt.Errorf("unsupported database scheme %q (only sqlite is supported)", raw[:i])
		}
		return "", fmt.Errorf("invalid database URL %q: expected sqlite:///path", raw)
	}

	rest := strings.TrimPrefix(raw, scheme)
	if rest == memoryPath {
		return memoryPath, nil
	}
	if !strings.HasPrefix(rest, "/") {
		return "", fmt.Errorf("invalid database URL %q: expected sqlite:///path", raw)
	}
	rest = rest[1:]
	if rest == "" {
		return "", fmt.Errorf("invalid database URL %q: missing path", raw)
	}
	if q := strings.IndexByte(rest, '?'); q >= 0 {
		rest = rest[:q]
	}
	return rest, nil
}

// validateDatabasePath rejects traversal and malformed paths
func validateDatabasePath(dbPath string) error {
	if dbPath == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if len(dbPath) > 512 {
		return fmt.Errorf("database path exceeds maximum length of 512 characters")
	}
	if dbPath == memoryPath {
		return nil
	}
	if strings.Contains(dbPath, "\x00") {
		return fmt.Errorf("null bytes not allowed in path")
	}
	for _, part := range strings.Split(filepath.ToSlash(dbPath), "/") {
		if part == ".." {
			return fmt.Errorf("path traversal not allowed (..): %s", dbPath)
		}
	}
	return nil
}

// dataSourceName builds the modernc DSN with connection pragmas applied to every pooled connection
func dataSourceName(dbPath string) string {
	params := url.Values{}
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", "busy_timeout(5000)")

	if dbPath == memoryPath {
		// Named shared-cache memory database so every pooled connection sees the same data
		params.Set("mode", "memory")
		params.Set("cache", "shared")
		return "file:heritage-" + uuid.NewString() + "?" + params.Encode()
	}

	params.Add("_pragma", "journal_mode(WAL)")
	return "file:" + dbPath + "?" + params.Encode()
}

// configureSQLiteConnection verifies the pragmas took effect
func configureSQLiteConnection(ctx context.Context, db *sql.DB, logger *zap.SugaredLogger, dbPath string) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	var fkEnabled int
	if err := db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fkEnabled); err != nil {
		return fmt.Errorf("failed to verify foreign keys: %w", err)
	}
	if fkEnabled != 1 {
		return fmt.Errorf("foreign keys not enabled (got: %d, expected: 1)", fkEnabled)
	}

	var journalMode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to query journal mode: %w", err)
	}
	// In-memory databases report "memory"
	if dbPath != memoryPath && journalMode != "wal" {
		return fmt.Errorf("WAL mode not enabled (got: %s, expected: wal)", journalMode)
	}
	logger.Debugf("SQLite journal mode verified: %s", journalMode)

	return nil
}

// NewSQLite opens the database named by a sqlite URL
func NewSQLite(ctx context.Context, rawURL string, maxOpenConns int, logger *zap.SugaredLogger) (*SQLite, error) {
	dbPath, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	if err := validateDatabasePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	memory := dbPath == memoryPath
	if !memory {
		dir := filepath.Dir(dbPath)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dataSourceName(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	if maxOpenConns <= 0 {
		maxOpenConns = 1
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)
	// Memory databases vanish when their last connection closes
	db.SetConnMaxLifetime(0)
	if !memory {
		db.SetConnMaxIdleTime(10 * time.Minute)
	}

	if err := configureSQLiteConnection(ctx, db, logger, dbPath); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Infow("SQLite database opened", "path", dbPath, "max_open_conns", maxOpenConns)

	return &SQLite{
		DB:     db,
		Path:   dbPath,
		Memory: memory,
		Logger: logger,
	}, nil
}

// WithTransaction runs fn in a transaction, rolling back on error or panic
func (s *SQLite) WithTransaction(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			err = fmt.Errorf("transaction panicked: %v", p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// HealthCheck pings the database
func (s *SQLite) HealthCheck(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.DB.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLite) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	s.Logger.Debugw("Closing SQLite database", "path", s.Path)
	return s.DB.Close()
}
