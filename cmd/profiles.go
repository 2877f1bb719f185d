package cmd

import (
	"fmt"

	"heritage/config"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// newProfilesCmd creates the 'profiles' subcommand
func newProfilesCmd() *cobra.Command {
	profilesCmd := &cobra.Command{
		Use:   "profiles",
		Short: "Inspect configuration profiles",
		Long:  "List the built-in and file-defined configuration profiles, or show one with secrets masked.",
	}

	profilesCmd.AddCommand(newProfilesListCmd())
	profilesCmd.AddCommand(newProfilesShowCmd())

	return profilesCmd
}

func loadResolver() (*config.Resolver, error) {
	profiles, err := config.LoadProfiles(config.LoadOptions{File: profilesFile})
	if err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}
	return config.NewResolver(profiles), nil
}

// newProfilesListCmd creates the 'profiles list' subcommand
func newProfilesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List known profiles",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver, err := loadResolver()
			if err != nil {
				return err
			}

			var profiles []config.Profile
			for _, name := range resolver.Names() {
				p, err := resolver.Resolve(name)
				if err != nil {
					return err
				}
				profiles = append(profiles, p.Redacted())
			}

			if outputJSON {
				return outputAsJSON(cmd.OutOrStdout(), profiles)
			}

			renderProfilesTable(cmd.OutOrStdout(), profiles, resolveOptions(cmd).Primary)
			return nil
		},
	}
}

// newProfilesShowCmd creates the 'profiles show' subcommand
func newProfilesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <profile>",
		Short: "Show a resolved profile with secrets masked",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver, err := loadResolver()
			if err != nil {
				return err
			}

			p, err := resolver.Resolve(args[0])
			if err != nil {
				return err
			}
			p = p.Redacted()

			if outputJSON {
				return outputAsJSON(cmd.OutOrStdout(), p)
			}

			data, err := yaml.Marshal(p)
			if err != nil {
				return fmt.Errorf("failed to encode profile: %w", err)
			}
			headerColor.Fprintf(cmd.OutOrStdout(), "# profile %s\n", p.Name)
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
