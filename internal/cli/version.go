package cli

import (
	"fmt"

	"github.com/fmueller/voxnote/internal/platform"
	"github.com/fmueller/voxnote/internal/version"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Args:  cobra.NoArgs,
		// Printing the version needs neither config nor logger.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			v := version.Resolve()
			if short {
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			}
			rt := platform.CurrentRuntime()
			fmt.Fprintf(cmd.OutOrStdout(), "voxnote v%s (%s/%s)\n", v, rt.OS, rt.Arch)
			return nil
		},
	}
	cmd.Flags().BoolVar(&short, "short", false, "Print only the version number")
	return cmd
}
