package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/parleyhq/relay-server/internal/auth"
	"github.com/parleyhq/relay-server/internal/config"
	"github.com/parleyhq/relay-server/internal/relay"
	"github.com/parleyhq/relay-server/internal/store"
	"github.com/parleyhq/relay-server/internal/store/postgres"
	"github.com/parleyhq/relay-server/internal/store/sqlite"
	transporthttp "github.com/parleyhq/relay-server/internal/transport/http"
)

// App wires the store, relay, verifier and transport layers together.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	store           store.Store
	relay           relay.Relay
	log             *zerolog.Logger
}

// New constructs the application with the provided configuration.
func New(ctx context.Context, cfg config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := newStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	rly, err := newRelay(ctx, cfg, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init relay: %w", err)
	}

	verifier := newVerifier(cfg, logger)
	server := transporthttp.NewServer(st, rly, verifier, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		store:           st,
		relay:           rly,
		log:             logger,
	}, nil
}

func newStore(ctx context.Context, cfg config.Config, logger *zerolog.Logger) (store.Store, error) {
	if cfg.DatabaseURL != "" {
		st, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		logger.Info().Msg("postgres store initialized")
		return st, nil
	}

	st, err := sqlite.New(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("db_path", cfg.SQLitePath).Msg("sqlite store initialized")
	return st, nil
}

func newRelay(ctx context.Context, cfg config.Config, logger *zerolog.Logger) (relay.Relay, error) {
	if cfg.RedisURL != "" {
		rly, err := relay.NewRedis(ctx, cfg.RedisURL, logger)
		if err != nil {
			return nil, err
		}
		logger.Info().Msg("redis relay initialized")
		return rly, nil
	}

	logger.Info().Msg("in-process relay initialized; events will not cross server processes")
	return relay.NewMemory(logger), nil
}

func newVerifier(cfg config.Config, logger *zerolog.Logger) auth.TokenVerifier {
	if cfg.AuthBackendURL != "" {
		logger.Info().Str("backend", cfg.AuthBackendURL).Msg("strict token verification enabled")
		return auth.NewBackendVerifier(cfg.AuthBackendURL, cfg.JWTSecret)
	}
	return auth.NewHMACVerifier(cfg.JWTSecret)
}

// Run starts the HTTP server and blocks until context cancellation or a
// fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes the relay and store.
func (a *App) cleanup() {
	if a.relay != nil {
		if err := a.relay.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close relay")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
