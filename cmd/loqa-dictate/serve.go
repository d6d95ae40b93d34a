package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-dictate/internal/runtime"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dictation daemon with its HTTP and websocket API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := newLogger(os.Stdout, cfg.Telemetry.LogLevel, true)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rt := runtime.New(cfg, logger)
		if err := rt.Start(ctx); err != nil {
			logger.Error("runtime exited with error", slog.String("error", err.Error()))
			return err
		}
		logger.Info("shutdown complete")
		return nil
	},
}
