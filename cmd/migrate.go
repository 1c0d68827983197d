package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, log, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer log.Sync()
		defer st.Close()

		v, err := st.Version(cmd.Context())
		if err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d (%s)\n", v, st.Dialect())
		return nil
	},
}
