package cmd

import (
	"context"
	"fmt"

	"heritage/bootstrap"

	"github.com/spf13/cobra"
)

// newCheckCmd creates the 'check' subcommand
func newCheckCmd() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run the bootstrap chain once and report each attempt",
		Long: `Run every configured attempt exactly as serve would, print which profile was
selected and why earlier attempts failed, then release everything without serving.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			logger, err := cliLogger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			opts := resolveOptions(cmd)
			srv, report, err := bootstrap.Boot(ctx, opts, logger.Sugar())
			if err != nil {
				return err
			}
			if err := srv.Close(); err != nil {
				return fmt.Errorf("failed to release %s instance: %w", report.Selected, err)
			}

			if outputJSON {
				if err := outputAsJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
			} else {
				renderReport(cmd.OutOrStdout(), report)
			}

			if strict && report.Degraded {
				return fmt.Errorf("no configured profile could be bootstrapped")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero when only the stub could be started")

	return cmd
}
