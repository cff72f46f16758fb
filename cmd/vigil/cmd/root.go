// Package cmd holds the vigil command line.
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"vigil/cmd/internal/envcfg"
)

var envFile string

// NewRootCommand builds the command tree. Tests build a fresh tree per case.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "vigil",
		Short: "Vigil manages login sessions and watches for hostile traffic",
		Long: `Vigil issues and refreshes access tokens for bounded login sessions and
correlates security events per source to raise brute force, scanning, and
data breach alerts.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", envcfg.DefaultDotEnv, "dotenv file consulted after the environment")

	root.AddCommand(newServeCommand(), newMigrateCommand(), newSecretCommand())
	return root
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func source() *envcfg.Source {
	return envcfg.Load(envFile)
}
