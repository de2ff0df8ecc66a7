package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thianeswaran-G/DarkPatent/internal/version"
)

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		// Works even when the config file is broken.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(c.out, version.String())
			return nil
		},
	}
}
