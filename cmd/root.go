// Package cmd provides the command-line interface for heritage.
package cmd

import (
	"encoding/json"
	"io"
	"time"

	"heritage/bootstrap"
	"heritage/config"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// Global flags
var (
	outputJSON   bool
	noColor      bool
	debug        bool
	profilesFile string
	profileName  string
	fallbacks    []string
)

const defaultTimeout = 2 * time.Minute

// NewRootCmd creates the heritage command. Without a subcommand it serves.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "heritage",
		Short: "Heritage cultural portal service",
		Long: `Heritage serves the cultural portal.

On startup it tries the configured profile, then each fallback profile, and
finally a liveness-only stub so the process always comes up.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveOptions(cmd))
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.BoolVar(&outputJSON, "json", false, "Output in JSON format")
	flags.BoolVar(&noColor, "no-color", false, "Disable colored output")
	flags.BoolVar(&debug, "debug", false, "Enable debug logging")
	flags.StringVar(&profilesFile, "profiles", "", "Profiles file (default: profiles.yaml in . or ./config)")
	flags.StringVar(&profileName, "profile", "", "Primary profile (default: $"+config.EnvProfile+" or production)")
	flags.StringSliceVar(&fallbacks, "fallback", nil, "Fallback profiles in order (default: $"+config.EnvFallbacks+" or development)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newProfilesCmd())
	rootCmd.AddCommand(newSchemaCmd())

	return rootCmd
}

// resolveOptions reads the environment once and lets explicit flags override it
func resolveOptions(cmd *cobra.Command) bootstrap.Options {
	opts := bootstrap.OptionsFromEnv()
	opts.ProfilesFile = profilesFile
	opts.Debug = debug
	if f := cmd.Flags().Lookup("profile"); f != nil && f.Changed {
		opts.Primary = config.NormalizeName(profileName)
	}
	if f := cmd.Flags().Lookup("fallback"); f != nil && f.Changed {
		opts.Fallbacks = fallbacks
	}
	return opts
}

// outputAsJSON writes data as indented JSON.
func outputAsJSON(w io.Writer, data interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
