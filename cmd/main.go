package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pelusa-v/chatsession/internal/config"
	"github.com/pelusa-v/chatsession/internal/logging"
)

const version = "0.1.0"

func main() {
	app := &cli.App{
		Name:    "chatsession",
		Usage:   "Real-time chat session: connection, unread counts and typing indicators",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
			},
		},
		Commands: []*cli.Command{
			clientCommand(),
			hubCommand(),
			configCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// load reads and validates the configuration and sets up logging.
func load(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, err
	}
	return cfg, nil
}
