package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Migration is a schema change owned by one module
type Migration struct {
	Module      string              // Owning module (e.g. "users")
	Version     string              // Semantic version within the module (e.g. "1.0.0")
	Name        string              // Descriptive name (e.g. "create_users")
	Description string              // Human-readable description
	Up          func(*sql.Tx) error // Apply migration
	Down        func(*sql.Tx) error // Rollback migration (optional)
	Checksum    string              // Drift detection
}

// ID is the key recorded in schema_migrations
func (m Migration) ID() string {
	return m.Module + "@" + m.Version
}

// MigrationRecord represents a row in the schema_migrations table
type MigrationRecord struct {
	ID        int64
	Version   string
	Name      string
	Checksum  string
	AppliedAt time.Time
	Duration  int64 // milliseconds
}

// MigrationRunner applies registered migrations in module order, then version order
type MigrationRunner struct {
	db          *sql.DB
	logger      *zap.SugaredLogger
	migrations  []Migration
	moduleOrder map[string]int
}

// NewMigrationRunner creates a runner and ensures the bookkeeping table exists
func NewMigrationRunner(ctx context.Context, db *sql.DB, logger *zap.SugaredLogger) (*MigrationRunner, error) {
	runner := &MigrationRunner{
		db:          db,
		logger:      logger,
		moduleOrder: make(map[string]int),
	}

	if err := runner.ensureMigrationsTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	return runner, nil
}

func (r *MigrationRunner) ensureMigrationsTable(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		version TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		checksum TEXT NOT NULL,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		rolled_back_at DATETIME,
		rollback_reason TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_schema_migrations_applied_at ON schema_migrations(applied_at);
	`)
	return err
}

// Register adds a migration to the runner
func (r *MigrationRunner) Register(m Migration) error {
	if m.Module == "" || m.Version == "" {
		return fmt.Errorf("migration %q must name its module and version", m.Name)
	}
	if m.Up == nil {
		return fmt.Errorf("migration %s has no Up function", m.ID())
	}
	for _, existing := range r.migrations {
		if existing.ID() == m.ID() {
			return fmt.Errorf("migration %s registered twice", m.ID())
		}
	}
	if m.Checksum == "" {
		m.Checksum = checksum(m)
	}
	if _, ok := r.moduleOrder[m.Module]; !ok {
		r.moduleOrder[m.Module] = len(r.moduleOrder)
	}
	r.migrations = append(r.migrations, m)
	return nil
}

// checksum hashes identity fields since Up/Down cannot be hashed
func checksum(m Migration) string {
	hash := sha256.Sum256([]byte(m.ID() + ":" + m.Name))
	return hex.EncodeToString(hash[:8])
}

// Applied returns all migrations that are currently applied
func (r *MigrationRunner) Applied(ctx context.Context) ([]MigrationRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, version, name, checksum, applied_at, duration_ms
		FROM schema_migrations
		WHERE rolled_back_at IS NULL
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	var records []MigrationRecord
	for rows.Next() {
		var rec MigrationRecord
		if err := rows.Scan(&rec.ID, &rec.Version, &rec.Name, &rec.Checksum, &rec.AppliedAt, &rec.Duration); err != nil {
			return nil, fmt.Errorf("failed to scan migration record: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// IsApplied reports whether every migration of module is applied
func (r *MigrationRunner) IsApplied(ctx context.Context, module string) (bool, error) {
	pending, err := r.Pending(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range pending {
		if m.Module == module {
			return false, nil
		}
	}
	return true, nil
}

// Pending returns registered migrations that have not been applied
func (r *MigrationRunner) Pending(ctx context.Context) ([]Migration, error) {
	applied, err := r.Applied(ctx)
	if err != nil {
		return nil, err
	}

	done := make(map[string]bool, len(applied))
	for _, rec := range applied {
		done[rec.Version] = true
	}

	var pending []Migration
	for _, m := range r.migrations {
		if !done[m.ID()] {
			pending = append(pending, m)
		}
	}

	sort.SliceStable(pending, func(i, j int) bool {
		oi, oj := r.moduleOrder[pending[i].Module], r.moduleOrder[pending[j].Module]
		if oi != oj {
			return oi < oj
		}
		return compareVersions(pending[i].Version, pending[j].Version) < 0
	})

	return pending, nil
}

// Run applies all pending migrations and returns how many were applied
func (r *MigrationRunner) Run(ctx context.Context) (int, error) {
	pending, err := r.Pending(ctx)
	if err != nil {
		return 0, err
	}

	if len(pending) == 0 {
		r.logger.Debug("No pending migrations")
		return 0, nil
	}

	r.logger.Infof("Running %d pending migrations", len(pending))

	for i, m := range pending {
		if err := r.apply(ctx, m); err != nil {
			return i, fmt.Errorf("migration %s (%s) failed: %w", m.ID(), m.Name, err)
		}
	}

	return len(pending), nil
}

// apply runs one migration in a transaction; a panicking Up is returned as an error
func (r *MigrationRunner) apply(ctx context.Context, m Migration) (err error) {
	r.logger.Infof("Running migration %s: %s", m.ID(), m.Name)
	start := time.Now()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			if panicErr, ok := p.(error); ok {
				err = fmt.Errorf("migration panicked: %w", panicErr)
			} else {
				err = fmt.Errorf("migration panicked: %v", p)
			}
		}
	}()

	if err := m.Up(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("migration Up() failed: %w", err)
	}

	duration := time.Since(start).Milliseconds()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO schema_migrations (version, name, checksum, applied_at, duration_ms)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(version) DO UPDATE SET
			name = excluded.name,
			checksum = excluded.checksum,
			applied_at = excluded.applied_at,
			duration_ms = excluded.duration_ms,
			rolled_back_at = NULL,
			rollback_reason = NULL
	`, m.ID(), m.Name, m.Checksum, time.Now().UTC(), duration); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	r.logger.Debugf("Migration %s completed in %dms", m.ID(), duration)
	return nil
}

// Rollback reverts an applied migration identified by module@version
func (r *MigrationRunner) Rollback(ctx context.Context, id, reason string) (err error) {
	var migration *Migration
	for i := range r.migrations {
		if r.migrations[i].ID() == id {
			migration = &r.migrations[i]
			break
		}
	}
	if migration == nil {
		return fmt.Errorf("migration %s not found in registry", id)
	}
	if migration.Down == nil {
		return fmt.Errorf("migration %s does not support rollback (no Down function)", id)
	}

	var appliedAt sql.NullTime
	err = r.db.QueryRowContext(ctx, `
		SELECT applied_at FROM schema_migrations
		WHERE version = ? AND rolled_back_at IS NULL
	`, id).Scan(&appliedAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("migration %s has not been applied or was already rolled back", id)
	}
	if err != nil {
		return fmt.Errorf("failed to check migration status: %w", err)
	}

	r.logger.Infof("Rolling back migration %s: %s (reason: %s)", id, migration.Name, reason)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			err = fmt.Errorf("rollback panicked: %v", p)
		}
	}()

	if err := migration.Down(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("rollback Down() failed: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE schema_migrations
		SET rolled_back_at = ?, rollback_reason = ?
		WHERE version = ?
	`, time.Now().UTC(), reason, id); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to mark migration as rolled back: %w", err)
	}

	return tx.Commit()
}

// VerifyIntegrity reports applied migrations whose checksum drifted or that are no longer registered
func (r *MigrationRunner) VerifyIntegrity(ctx context.Context) ([]string, error) {
	applied, err := r.Applied(ctx)
	if err != nil {
		return nil, err
	}

	registered := make(map[string]Migration, len(r.migrations))
	for _, m := range r.migrations {
		registered[m.ID()] = m
	}

	var issues []string
	for _, rec := range applied {
		m, ok := registered[rec.Version]
		switch {
		case !ok:
			issues = append(issues, fmt.Sprintf("migration %s was applied but is not registered", rec.Version))
		case m.Checksum != rec.Checksum:
			issues = append(issues, fmt.Sprintf("migration %s checksum mismatch: applied=%s, registered=%s",
				rec.Version, rec.Checksum, m.Checksum))
		}
	}

	return issues, nil
}

// compareVersions compares dotted numeric versions.
// Returns -1 if a < b, 0 if a == b, 1 if a > b
func compareVersions(a, b string) int {
	partsA := strings.Split(a, ".")
	partsB := strings.Split(b, ".")

	n := len(partsA)
	if len(partsB) > n {
		n = len(partsB)
	}

	for i := 0; i < n; i++ {
		var numA, numB int
		if i < len(partsA) {
			fmt.Sscanf(partsA[i], "%d", &numA)
		}
		if i < len(partsB) {
			fmt.Sscanf(partsB[i], "%d", &numB)
		}
		if numA != numB {
			if numA < numB {
				return -1
			}
			return 1
		}
	}
	return 0
}
