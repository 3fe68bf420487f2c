package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")

	for _, c := range commands {
		commander.Register(c, "")
	}

	flag.StringVar(&globals.configPath, "config", "", "config file (defaults to $CONFIG_PATH or configs/config.yaml)")
	flag.BoolVar(&globals.plain, "plain", false, "print raw markdown")
	flag.BoolVar(&globals.verbose, "v", false, "log at the configured level instead of warnings only")
	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
