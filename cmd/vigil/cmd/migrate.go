package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"vigil/cmd/internal/dbmigrate"
)

func newMigrateCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the session schema in VIGIL_DATABASE_URL",
	}

	for _, dir := range []dbmigrate.Direction{dbmigrate.Up, dbmigrate.Down} {
		c.AddCommand(&cobra.Command{
			Use:   string(dir),
			Short: "Migrate " + string(dir),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := dbmigrate.Run(databaseURL(), dir); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "migrate %s: ok\n", dir)
				return nil
			},
		})
	}

	c.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, dirty, err := dbmigrate.Version(databaseURL())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", v, dirty)
			return nil
		},
	})
	return c
}

func databaseURL() string {
	return source().String("VIGIL_DATABASE_URL", "")
}
