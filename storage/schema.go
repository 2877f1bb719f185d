package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrSchemaNotApplied is returned when a module's declared schema has not been applied.
	ErrSchemaNotApplied = errors.New("schema not applied")

	// ErrSchemaDrift is returned when the applied migrations no longer match the declarations
	ErrSchemaDrift = errors.New("schema drift")
)

// SchemaRegistry collects schema declarations by owner before a database handle
// exists, then applies them in declaration order once one does.
type SchemaRegistry struct {
	owners   []string
	declared map[string][]Migration
	applied  map[string]bool
	ran      bool
}

// NewSchemaRegistry creates an empty registry
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{
		declared: make(map[string][]Migration),
		applied:  make(map[string]bool),
	}
}

// Declare records the migrations owner needs. Migrations without a Module are
// attributed to owner. Declaring after Apply is an error.
func (s *SchemaRegistry) Declare(owner string, migrations ...Migration) error {
	if s.ran {
		return fmt.Errorf("schema for %q declared after the schema was applied", owner)
	}
	if _, seen := s.declared[owner]; !seen {
		s.owners = append(s.owners, owner)
		s.declared[owner] = nil
	}
	for _, m := range migrations {
		if m.Module == "" {
			m.Module = owner
		}
		if m.Module != owner {
			return fmt.Errorf("module %q cannot declare migration %s owned by %q", owner, m.ID(), m.Module)
		}
		s.declared[owner] = append(s.declared[owner], m)
	}
	return nil
}

// Attach registers every declaration with runner without running anything
func (s *SchemaRegistry) Attach(runner *MigrationRunner) error {
	for _, owner := range s.owners {
		for _, m := range s.declared[owner] {
			if err := runner.Register(m); err != nil {
				return err
			}
		}
	}
	return nil
}

// Apply attaches the declarations to runner, refuses a database whose applied
// migrations drifted from them, and runs the pending migrations.
func (s *SchemaRegistry) Apply(ctx context.Context, runner *MigrationRunner) (int, error) {
	if err := s.Attach(runner); err != nil {
		return 0, err
	}

	issues, err := runner.VerifyIntegrity(ctx)
	if err != nil {
		return 0, err
	}
	if len(issues) > 0 {
		return 0, fmt.Errorf("%w: %s", ErrSchemaDrift, strings.Join(issues, "; "))
	}

	n, err := runner.Run(ctx)
	if err != nil {
		return n, err
	}
	s.ran = true

	for _, owner := range s.owners {
		ok, err := runner.IsApplied(ctx, owner)
		if err != nil {
			return n, err
		}
		s.applied[owner] = ok
	}
	return n, nil
}

// Require returns ErrSchemaNotApplied unless owner's schema has been applied.
// An owner that declared nothing is satisfied once Apply has run.
func (s *SchemaRegistry) Require(owner string) error {
	if !s.ran {
		return fmt.Errorf("%w: %s (schema has not been applied yet)", ErrSchemaNotApplied, owner)
	}
	if _, declared := s.declared[owner]; !declared {
		return nil
	}
	if !s.applied[owner] {
		return fmt.Errorf("%w: %s", ErrSchemaNotApplied, owner)
	}
	return nil
}

// Owners returns the owners that declared schema, sorted
func (s *SchemaRegistry) Owners() []string {
	out := append([]string(nil), s.owners...)
	sort.Strings(out)
	return out
}
