package cmd

import (
	"github.com/spf13/cobra"
)

var restoreCmd = &cobra.Command{
	Use:   "restore <timestamp>",
	Short: "Restore the backup taken at timestamp",
	Long: `Restore the backup taken at timestamp (YYYY-MM-DD-HHMMSS, as shown by
"list"). The configured services are stopped while data is overwritten.
There is a 10 second pause before anything changes; interrupt to abort.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.Close()

		return s.manager.Restore(cmd.Context(), args[0])
	},
}
