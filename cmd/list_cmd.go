package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xtream1101/docker-backup-sidecar/internal/artifact"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"list-backups"},
	Short:   "List stored backups, newest first",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.Close()

		listings, err := s.manager.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(listings) == 0 {
			fmt.Println("No backups found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		if _, err := fmt.Fprintln(w, "TIMESTAMP\tENCRYPTED\tFILE\tLOCATIONS"); err != nil {
			return err
		}
		for _, l := range listings {
			if _, err := fmt.Fprintf(w, "%s\t%t\t%s\t%s\n",
				artifact.Timestamp(l.Timestamp), l.Encrypted, l.Filename, strings.Join(l.Locations, ", ")); err != nil {
				return err
			}
		}
		return w.Flush()
	},
}
