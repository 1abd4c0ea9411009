package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/db"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/logging"
)

func newMigrateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending transcript database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.Component(c.logger, "db")
			conn, err := db.Connect(cmd.Context(), c.cfg.Database.DSN, log)
			if err != nil {
				return err
			}
			defer conn.Close()

			applied, err := db.Migrate(cmd.Context(), conn, log)
			if err != nil {
				return err
			}
			version, err := db.Version(cmd.Context(), conn)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s), schema version %d\n", applied, version)
			return nil
		},
	}
}
