package main

import (
	"errors"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/pelusa-v/chatsession/internal/chat"
	"github.com/pelusa-v/chatsession/internal/config"
	"github.com/pelusa-v/chatsession/internal/handlers"
	"github.com/pelusa-v/chatsession/internal/logging"
	"github.com/pelusa-v/chatsession/internal/services"
	"github.com/pelusa-v/chatsession/internal/transport"
)

func clientCommand() *cli.Command {
	return &cli.Command{
		Name:  "client",
		Usage: "Connect a chat session and serve it to local views",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Bearer token (overrides session.token)",
				EnvVars: []string{"CHATSESSION_TOKEN"},
			},
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Gateway listen address (overrides gateway.addr)",
			},
		},
		Action: runClient,
	}
}

func runClient(c *cli.Context) error {
	cfg, err := load(c)
	if err != nil {
		return err
	}
	token := cfg.Session.Token
	if c.String("token") != "" {
		token = c.String("token")
	}
	if token == "" {
		return errors.New("a bearer token is required (session.token or --token)")
	}
	addr := cfg.Gateway.Addr
	if c.String("addr") != "" {
		addr = c.String("addr")
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	coord, err := newCoordinator(cfg)
	if err != nil {
		return err
	}
	defer coord.Close()

	api, err := services.NewClient(services.ClientConfig{BaseURL: cfg.Server.APIURL, Token: token})
	if err != nil {
		return err
	}
	gw, err := handlers.NewGateway(coord, api, nil)
	if err != nil {
		return err
	}
	defer gw.Close()

	if err := coord.Start(ctx, token); err != nil {
		return err
	}

	app := gw.NewApp()
	go func() {
		<-ctx.Done()
		_ = app.Shutdown()
	}()

	log.Info().Str("addr", addr).Str("hub", cfg.Server.HubURL).Msg("gateway listening")
	if err := app.Listen(addr); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func newCoordinator(cfg *config.Config) (*chat.Coordinator, error) {
	sess, err := transport.NewSession(transport.Options{
		URL:              cfg.Server.HubURL,
		Dialer:           transport.NewWebsocketDialer(cfg.Transport.HandshakeTimeout),
		RetryDelay:       cfg.Transport.RetryDelay,
		KeepAlive:        cfg.Transport.KeepAlive,
		ServerTimeout:    cfg.Transport.ServerTimeout,
		HandshakeTimeout: cfg.Transport.HandshakeTimeout,
		SendBuffer:       cfg.Transport.SendBuffer,
	})
	if err != nil {
		return nil, err
	}

	var notifier chat.Notifier = chat.NotifierFunc(func(chat.Toast) {})
	if cfg.Notify.Toasts {
		notifier = chat.LogNotifier{Log: logging.Component("toast")}
	}
	return chat.NewCoordinator(chat.Options{
		Transport: sess,
		Notifier:  notifier,
		SelfID:    cfg.Session.UserID,
		Typing: chat.ThrottleConfig{
			Throttle:  cfg.Typing.Throttle,
			StopAfter: cfg.Typing.StopAfter,
		},
	})
}
