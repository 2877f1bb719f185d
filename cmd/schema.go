package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"heritage/bootstrap"
	"heritage/modules"
	"heritage/storage"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// schemaStatus is the JSON shape of 'schema status'
type schemaStatus struct {
	Profile  string          `json:"profile"`
	Database string          `json:"database"`
	Applied  []appliedRecord `json:"applied"`
	Pending  []string        `json:"pending"`
	Drift    []string        `json:"drift"`
}

type appliedRecord struct {
	Version   string    `json:"version"`
	Name      string    `json:"name"`
	AppliedAt time.Time `json:"applied_at"`
}

// newSchemaCmd creates the 'schema' subcommand
func newSchemaCmd() *cobra.Command {
	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect and repair the module schema of a profile's database",
		Long: `Inspect the migrations recorded in the database of the primary profile
(--profile or $HERITAGE_CONFIG), or roll one back after it drifted from its module.`,
	}

	schemaCmd.AddCommand(newSchemaStatusCmd())
	schemaCmd.AddCommand(newSchemaRollbackCmd())

	return schemaCmd
}

func cliLogger() (*zap.Logger, error) {
	if !debug {
		return zap.NewNop(), nil
	}
	l, _, err := bootstrap.InitLogger(true)
	return l, err
}

// openSchema opens the profile's database with every default module's schema attached
func openSchema(ctx context.Context, cmd *cobra.Command, logger *zap.SugaredLogger) (string, *storage.SQLite, *storage.MigrationRunner, error) {
	resolver, err := loadResolver()
	if err != nil {
		return "", nil, nil, err
	}
	name := resolveOptions(cmd).Primary
	p, err := resolver.Resolve(name)
	if err != nil {
		return "", nil, nil, err
	}

	db, err := storage.NewSQLite(ctx, p.Database.URL, 1, logger)
	if err != nil {
		return "", nil, nil, fmt.Errorf("failed to open database for profile %s: %w", name, err)
	}

	runner, err := storage.NewMigrationRunner(ctx, db.DB, logger)
	if err != nil {
		_ = db.Close()
		return "", nil, nil, err
	}

	schema := storage.NewSchemaRegistry()
	for _, m := range modules.Default() {
		if err := schema.Declare(m.Name(), m.Schema()...); err != nil {
			_ = db.Close()
			return "", nil, nil, err
		}
	}
	if err := schema.Attach(runner); err != nil {
		_ = db.Close()
		return "", nil, nil, err
	}
	return name, db, runner, nil
}

// newSchemaStatusCmd creates the 'schema status' subcommand
func newSchemaStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show applied, pending and drifted migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			logger, err := cliLogger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			name, db, runner, err := openSchema(ctx, cmd, logger.Sugar())
			if err != nil {
				return err
			}
			defer db.Close()

			status := schemaStatus{Profile: name, Database: db.Path}

			applied, err := runner.Applied(ctx)
			if err != nil {
				return err
			}
			for _, rec := range applied {
				status.Applied = append(status.Applied, appliedRecord{Version: rec.Version, Name: rec.Name, AppliedAt: rec.AppliedAt})
			}

			pending, err := runner.Pending(ctx)
			if err != nil {
				return err
			}
			for _, m := range pending {
				status.Pending = append(status.Pending, m.ID())
			}

			if status.Drift, err = runner.VerifyIntegrity(ctx); err != nil {
				return err
			}

			if outputJSON {
				return outputAsJSON(cmd.OutOrStdout(), status)
			}
			renderSchemaStatus(cmd.OutOrStdout(), status)
			return nil
		},
	}
}

// newSchemaRollbackCmd creates the 'schema rollback' subcommand
func newSchemaRollbackCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "rollback <module@version>",
		Short: "Revert one applied migration using its module's Down step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			logger, err := cliLogger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			name, db, runner, err := openSchema(ctx, cmd, logger.Sugar())
			if err != nil {
				return err
			}
			defer db.Close()

			if err := runner.Rollback(ctx, args[0], reason); err != nil {
				return err
			}

			if outputJSON {
				return outputAsJSON(cmd.OutOrStdout(), map[string]string{
					"profile":     name,
					"rolled_back": args[0],
				})
			}
			successColor.Fprintf(cmd.OutOrStdout(), "Rolled back %s on profile %s\n", args[0], name)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "manual rollback", "Reason recorded with the rollback")

	return cmd
}

// renderSchemaStatus displays a profile's migration state
func renderSchemaStatus(w io.Writer, s schemaStatus) {
	headerColor.Fprintf(w, "SCHEMA (%s: %s)\n", s.Profile, s.Database)
	headerColor.Fprintln(w, strings.Repeat("=", 100))
	fmt.Fprintf(w, "%-24s %-32s %s\n", "Migration", "Name", "Applied")
	fmt.Fprintln(w, strings.Repeat("-", 100))

	for _, rec := range s.Applied {
		fmt.Fprintf(w, "%-24s %-32s %s\n", rec.Version, truncate(rec.Name, 32), rec.AppliedAt.Format(time.RFC3339))
	}
	for _, id := range s.Pending {
		fmt.Fprintf(w, "%-24s %-32s %s\n", id, "-", warningColor.Sprint("pending"))
	}

	fmt.Fprintln(w, strings.Repeat("=", 100))
	if len(s.Drift) == 0 {
		successColor.Fprintln(w, "No drift detected")
		return
	}
	for _, issue := range s.Drift {
		errorColor.Fprintf(w, "Drift: %s\n", issue)
	}
}
