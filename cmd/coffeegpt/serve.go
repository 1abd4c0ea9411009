package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/logging"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/server"
)

const defaultShutdownTimeout = 15 * time.Second

func newServeCmd(c *cli) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if addr != "" {
				c.cfg.Server.Addr = addr
			}

			a, err := newApp(ctx, c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			// Per-session turn limiting; the harness keeps its own limiter for provider calls.
			limiter := a.factory.CreateRateLimiter()

			janitor, err := server.NewJanitor(c.cfg.Session.ReapSchedule, c.cfg.Session.IdleTimeout,
				a.sessions, limiter, logging.Component(c.logger, "janitor"))
			if err != nil {
				return err
			}
			janitor.Start()

			srv := server.New(c.cfg.Server, a.service, a.sessions, limiter, c.logger)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err = <-errCh:
			case <-ctx.Done():
			}

			timeout := c.cfg.Server.ShutdownTimeout
			if timeout <= 0 {
				timeout = defaultShutdownTimeout
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			janitor.Stop(shutdownCtx)
			if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil && err == nil {
				err = shutdownErr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
