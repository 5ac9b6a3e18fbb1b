package cli

import (
	"fmt"

	"github.com/replicatedhq/bundlecheck/pkg/version"
	"github.com/spf13/cobra"
)

func VersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the current version and exit",
		Long:  `Print the current version and exit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := version.Version()
			if v == "" {
				v = "(devel)"
			}
			if sha := version.GitSHA(); sha != "" {
				v += " " + sha
			}
			fmt.Fprintf(cmd.OutOrStdout(), "bundlecheck %s\n", v)
			return nil
		},
	}
	return cmd
}
