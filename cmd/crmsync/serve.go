package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"crmsync/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the outbox dispatcher and the change listener",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx, stop := signalContext()
		defer stop()

		store, err := app.OpenStore(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Warn("[app][shutdown] close store", zap.Error(err))
			}
		}()

		a, err := app.New(cfg, store, logger)
		if err != nil {
			return err
		}
		logger.Info("[app][start] crmsync",
			zap.String("driver", cfg.Database.Driver),
			zap.Bool("chatwoot", cfg.ChatwootConfigured()))
		return a.Run(ctx)
	},
}
