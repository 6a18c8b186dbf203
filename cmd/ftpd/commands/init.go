package commands

import (
	"fmt"
	"os"

	"github.com/gonzalop/ftpd/internal/config"
	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with default values",
		Long: `Write a configuration file with default values.

By default the file is created at $XDG_CONFIG_HOME/ftpd/config.yaml.
Use --config to choose another path.

Examples:
  ftpd init
  ftpd init --config /etc/ftpd/config.yaml --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgFile
			if path == "" {
				path = config.DefaultPath()
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
			}

			if err := config.Save(config.Default(), path); err != nil {
				return fmt.Errorf("failed to initialize config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration file created at: %s\n", path)
			fmt.Fprintln(out, "\nNext steps:")
			fmt.Fprintln(out, "  1. Set server.root to the directory you want to serve")
			fmt.Fprintf(out, "  2. Start the server with: ftpd serve --config %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}
