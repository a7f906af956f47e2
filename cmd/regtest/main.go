package main

import (
	"context"
	"fmt"
	"os"

	"github.com/botcore/regtest/cmd/regtest/commands"
	"github.com/botcore/regtest/config"
	"github.com/botcore/regtest/libs/cli"
	"github.com/botcore/regtest/libs/log"
)

func main() {
	conf := config.DefaultConfig()
	logger, err := log.NewDefaultLogger(log.LogFormatPlain, log.LogLevelInfo)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	rcmd := commands.RootCommand(conf, &logger)
	rcmd.AddCommand(
		commands.MakeInitCommand(conf, &logger),
		commands.MakeRunCommand(conf, &logger),
		commands.MakeCleanupCommand(conf, &logger),
		commands.MakeListCommand(),
		commands.MakeVersionCommand(),
	)

	os.Exit(cli.Execute(context.Background(), cli.PrepareMainCmd(rcmd), os.Stderr))
}
