package main

import (
	"fmt"

	"github.com/rbaliyan/mailroom/internal/config"
	"github.com/urfave/cli/v2"
)

func purgeTrashCommand() *cli.Command {
	return &cli.Command{
		Name:  "purge-trash",
		Usage: "Permanently delete trashed messages older than mailbox.trash_retention, once",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			log, slogger := newLoggers(cfg.Log)

			deps, err := build(c.Context, cfg, slogger, false)
			if err != nil {
				return err
			}
			defer deps.Close(c.Context)

			res, err := deps.svc.CleanupTrash(c.Context)
			if err != nil {
				return err
			}
			log.Info().Int64("deleted", res.DeletedCount).Time("cutoff", res.Cutoff).Msg("trash purged")
			fmt.Printf("Deleted %d messages trashed before %s\n", res.DeletedCount, res.Cutoff.Format("2006-01-02 15:04:05"))
			return nil
		},
	}
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage the configuration file",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Write a sample configuration file",
				Action: func(c *cli.Context) error {
					path := c.String("config")
					if path == "" {
						path = config.DefaultPath
					}
					if err := config.InitConfig(path); err != nil {
						return err
					}
					fmt.Printf("Wrote sample configuration to %s\n", path)
					return nil
				},
			},
			{
				Name:  "check",
				Usage: "Load and validate the configuration",
				Action: func(c *cli.Context) error {
					cfg, err := loadConfig(c)
					if err != nil {
						return err
					}
					fmt.Printf("Configuration OK (store=%s directory=%s redis=%t)\n",
						cfg.Store.Driver, cfg.Directory.Driver, cfg.Redis.Enabled)
					return nil
				},
			},
		},
	}
}
