package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd(defaultBackend).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd(open backendFunc) *cobra.Command {
	opts := &rootOptions{open: open}
	rootCmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operator tooling for the micro-savings ledger",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL DSN (defaults to DATABASE_URL)")

	rootCmd.AddCommand(migrateCmd(opts))
	rootCmd.AddCommand(reconcileCmd(opts))
	rootCmd.AddCommand(pendingCmd(opts))
	rootCmd.AddCommand(resolveCmd(opts))
	return rootCmd
}
