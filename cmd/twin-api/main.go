package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PabloGalante/twin-relay/internal/bootstrap"
	"github.com/PabloGalante/twin-relay/internal/config"
	"github.com/PabloGalante/twin-relay/internal/observability"
)

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(runMain())
}

func runMain() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log := observability.Logger()
		log.Error().Err(err).Msg("twin api stopped with error")
		return 1
	}
	return 0
}

func run(ctx context.Context) error {
	// TWIN_CONFIG points at an optional YAML file; everything else comes from
	// TWIN_* variables.
	cfg, err := config.Load(getEnv("TWIN_CONFIG", ""))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := observability.Setup(cfg.Log.Level, cfg.Log.Pretty); err != nil {
		return fmt.Errorf("configuring logger: %w", err)
	}
	log := observability.Logger()

	app, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           app.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("storage", app.Store.Capabilities().Name).
			Str("llm", string(cfg.LLM.Provider)).
			Msg("twin api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down gracefully")

	// the signal context is already done, shutdown needs its own deadline
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
