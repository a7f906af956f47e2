package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/botcore/regtest/version"
)

const versionCmdName = "version"

// MakeVersionCommand returns the command printing the runner version.
func MakeVersionCommand() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   versionCmdName,
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			if !verbose {
				fmt.Fprintln(cmd.OutOrStdout(), version.Version)
				return
			}
			values, _ := json.MarshalIndent(struct {
				Regtest  string `json:"regtest"`
				SocketIO int    `json:"socket_io"`
				EngineIO int    `json:"engine_io"`
			}{
				Regtest:  version.Version,
				SocketIO: version.SocketIOProtocol,
				EngineIO: version.EngineIOProtocol,
			}, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(values))
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show push protocol versions")
	return cmd
}
