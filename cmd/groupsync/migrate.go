package main

import (
	"errors"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the Postgres snapshot tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.cfg.DSN == "" {
				return errors.New("GROUPSYNC_DSN is not set")
			}
			db, err := a.openDatabase(cmd.Context())
			if err != nil {
				return err
			}
			return db.EnsureSchema(cmd.Context())
		},
	}
}
