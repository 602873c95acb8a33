package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/parleyhq/relay-server/internal/app"
	"github.com/parleyhq/relay-server/internal/config"
	"github.com/parleyhq/relay-server/internal/log"
)

func main() {
	var (
		configPath string
		addr       string
	)

	root := &cobra.Command{
		Use:          "relay",
		Short:        "Real-time message relay for conversations",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Optional; environment variables win over the config file.
			_ = godotenv.Load()

			bootstrap := log.New("info")
			cfg, path, err := config.Load(bootstrap, configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if addr != "" {
				cfg.Addr = addr
			}

			logger := log.New(cfg.LogLevel)
			logger.Info().Str("config", path).Str("addr", cfg.Addr).Msg("starting relay server")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}

			if err := application.Run(ctx); err != nil {
				return fmt.Errorf("server exited: %w", err)
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}

	root.Flags().StringVar(&configPath, "config", "", "path to config file")
	root.Flags().StringVar(&addr, "addr", "", "HTTP listen address override")

	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
