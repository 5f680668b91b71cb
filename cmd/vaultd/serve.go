package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zeusync/vault/internal/config"
	"github.com/zeusync/vault/internal/core/observability/log"
	"github.com/zeusync/vault/internal/injector"
)

func newServeCmd(load func() (config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the vault and its RPC gateway until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	app, cleanup, err := injector.InitializeApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := app.Server.Start(ctx); err != nil {
		return err
	}
	app.Logger.Info("Vault ready",
		log.String("addr", app.Server.Addr().String()),
		log.String("mode", cfg.Persistence.Mode),
		log.String("driver", cfg.Storage.Driver))

	<-ctx.Done()

	app.Logger.Info("Shutting down")
	return app.Server.Close()
}
