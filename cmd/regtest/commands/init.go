package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/botcore/regtest/config"
	"github.com/botcore/regtest/libs/log"
	rtos "github.com/botcore/regtest/libs/os"
)

// MakeInitCommand returns the command writing a default config.toml into
// the home directory.
func MakeInitCommand(conf *config.Config, logger *log.Logger) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write config.toml with the current settings into the home directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := conf.ConfigFile()
			if rtos.FileExists(path) && !force {
				(*logger).Info("found config file", "path", path)
				return nil
			}
			if err := rtos.EnsureDir(conf.RootDir, 0o700); err != nil {
				return err
			}
			if err := config.WriteConfigFile(conf.RootDir, conf); err != nil {
				return err
			}
			(*logger).Info("generated config file", "path", path)
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

// MakeCleanupCommand returns the command removing every data directory a
// run creates.
func MakeCleanupCommand(conf *config.Config, logger *log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove the daemon and indexer data directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, dir := range dataDirs(conf) {
				if err := os.RemoveAll(dir); err != nil {
					return fmt.Errorf("could not remove %s: %w", dir, err)
				}
				(*logger).Info("removed data directory", "dir", dir)
			}
			return nil
		},
	}
}
