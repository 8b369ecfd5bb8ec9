package main

import (
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/pelusa-v/chatsession/internal/hub"
)

func hubCommand() *cli.Command {
	return &cli.Command{
		Name:  "hub",
		Usage: "Run the development chat backend",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (overrides hub.addr)",
			},
		},
		Action: runHub,
	}
}

func runHub(c *cli.Context) error {
	cfg, err := load(c)
	if err != nil {
		return err
	}
	addr := cfg.Hub.Addr
	if c.String("addr") != "" {
		addr = c.String("addr")
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h := hub.New(hub.Config{
		FramesPerSecond: cfg.Hub.FramesPerSecond,
		SigningKey:      cfg.Hub.SigningKey,
	})
	go h.Run(ctx)

	app := hub.NewApp(h)
	go func() {
		<-ctx.Done()
		_ = app.Shutdown()
	}()

	log.Info().Str("addr", addr).Msg("hub listening")
	if err := app.Listen(addr); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
