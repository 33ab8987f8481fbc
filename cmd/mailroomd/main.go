// Command mailroomd runs the mailroom HTTP API, push endpoint and trash
// janitor.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

const version = "0.1.0"

func main() {
	app := &cli.App{
		Name:    "mailroomd",
		Usage:   "Internal mail service with threads, drafts, trash and live push",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE` (default ./mailroom.toml if present)",
				EnvVars: []string{"MAILROOM_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			purgeTrashCommand(),
			configCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
