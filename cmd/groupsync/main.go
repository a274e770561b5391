package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "groupsync",
		Short: "Synchronise directory group membership from nested source groups",
		Long: `groupsync flattens the transitive user membership of one or more source
groups and reconciles a destination group to match it, guarded by
percentage change thresholds.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("env", "settings.env", "Path to the dotenv configuration file")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	return rootCmd
}
