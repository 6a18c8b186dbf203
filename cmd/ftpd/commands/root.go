// Package commands implements the ftpd command line.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	cfgFile string
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ftpd",
		Short: "ftpd - a small RFC 959 FTP server",
		Long: `ftpd serves one directory tree over FTP.

Every client is confined to the configured root directory. Settings come from
a YAML file, FTPD_<SECTION>_<KEY> environment variables and built-in defaults.

Use "ftpd [command] --help" for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/ftpd/config.yaml)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())
	cmd.CompletionOptions.DisableDefaultCmd = true
	return cmd
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
