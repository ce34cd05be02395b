package main

import (
	"context"
	"errors"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"messenger-service/internal/client"
	"messenger-service/internal/config"
	"messenger-service/internal/identity"
	"messenger-service/internal/logger"
	"messenger-service/internal/models"
)

var watchCommand = &cli.Command{
	Name:  "watch",
	Usage: "Connect as a user and log the live conversation list",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "token", Usage: "Bearer token, see the token command", Required: true, EnvVars: []string{"CLIENT_TOKEN"}},
		&cli.StringFlag{Name: "base-url", Usage: "Server URL, defaults to CLIENT_BASE_URL"},
		&cli.IntFlag{Name: "peer", Usage: "Conversation to open, 0 for none"},
		&cli.DurationFlag{Name: "every", Usage: "View logging interval", Value: 5 * time.Second},
	},
	Action: cmdWatch,
}

func cmdWatch(cliCtx *cli.Context) error {
	cfg, err := config.NewClientConfig()
	if err != nil {
		return err
	}
	baseURL := cfg.BaseURL
	if u := cliCtx.String("base-url"); u != "" {
		baseURL = u
	}
	self, err := identity.Subject(cliCtx.String("token"))
	if err != nil {
		return err
	}
	log := logger.New("info", "development")

	ctx, stop := signal.NotifyContext(cliCtx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	remote := client.NewRemote(baseURL, cliCtx.String("token"))
	out := &liveSocket{}
	session := client.NewSession(self, remote, out, client.Options{
		TypingQuiet: cfg.TypingQuiet,
		SendTimeout: cfg.SendTimeout,
	}, log)

	go func() { _ = session.Run(ctx) }()
	go reportNotices(ctx, session, log)
	go reportViews(ctx, session, cliCtx.Duration("every"), log)

	if peer := cliCtx.Int("peer"); peer != 0 {
		session.Open(peer)
	}

	policy := client.NewReconnectPolicy()
	for {
		socket, err := client.Redial(ctx, remote.Connect, policy, func(err error, wait time.Duration) {
			log.Warn().Err(err).Dur("retry_in", wait).Msg("connect failed")
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		out.set(socket)
		session.Refresh()
		log.Info().Str("url", baseURL).Msg("connected")

		err = socket.Listen(ctx, session.Handle)
		out.set(nil)
		_ = socket.Close()
		if ctx.Err() != nil {
			return nil
		}
		log.Warn().Err(err).Msg("connection lost")
	}
}

// liveSocket forwards emits to the current connection.
type liveSocket struct {
	mu     sync.Mutex
	socket *client.Socket
}

var errOffline = errors.New("not connected")

func (l *liveSocket) set(s *client.Socket) {
	l.mu.Lock()
	l.socket = s
	l.mu.Unlock()
}

func (l *liveSocket) Emit(ev models.Event) error {
	l.mu.Lock()
	s := l.socket
	l.mu.Unlock()
	if s == nil {
		return errOffline
	}
	return s.Emit(ev)
}

func reportNotices(ctx context.Context, session *client.Session, log zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-session.Notices():
			log.Error().Err(n.Err).Str("action", n.Action).Msg("action failed")
		}
	}
}

func reportViews(ctx context.Context, session *client.Session, every time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		view, err := session.View(ctx)
		if err != nil {
			return
		}
		for _, p := range view.Peers {
			log.Info().
				Int("peer", p.User.ID).
				Str("name", p.User.Name).
				Int("unseen", p.Unseen).
				Bool("online", p.Online).
				Bool("typing", p.Typing).
				Str("last", p.Preview).
				Msg("conversation")
		}
		if view.Peer != 0 {
			log.Info().Int("peer", view.Peer).Int("messages", len(view.Entries)).Msg("open conversation")
		}
	}
}
