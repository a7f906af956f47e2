package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/botcore/regtest/internal/scenario"
)

// MakeListCommand returns the command printing the built-in scenarios.
func MakeListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the built-in scenarios",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tBLOCKS\tCASES\tDESCRIPTION")
			for _, sc := range scenario.Builtin() {
				fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", sc.Name, sc.Blocks, len(sc.Cases), sc.Description)
			}
			return w.Flush()
		},
	}
}
