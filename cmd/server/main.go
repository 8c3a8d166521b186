package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pilab-dev/oauthdirac/config"
	"github.com/pilab-dev/oauthdirac/log"
	"github.com/pilab-dev/oauthdirac/tracing"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		stdLog := zerolog.New(os.Stdout).With().Timestamp().Logger()
		stdLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logLevel, parseErr := zerolog.ParseLevel(cfg.Log.Level)
	if parseErr != nil {
		logLevel = zerolog.InfoLevel
	}
	appLogger := log.Setup(logLevel, cfg.Log.Pretty)
	if parseErr != nil {
		appLogger.Warn(context.Background(), "Invalid log level configured, defaulting to 'info'", log.Fields{
			"configured_log_level": cfg.Log.Level,
		})
	}
	appLogger.Info(context.Background(), "Starting oauthdirac server", log.Fields{
		"addr":            cfg.Server.Addr,
		"storage_backend": cfg.Storage.Backend,
		"directory":       cfg.Directory.Type,
		"providers":       len(cfg.Providers),
		"proxy_providers": len(cfg.ProxyProviders),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, appLogger); err != nil {
		appLogger.Fatal(context.Background(), "Server stopped with error", err)
	}
	appLogger.Info(context.Background(), "Server gracefully stopped.")
}

func run(ctx context.Context, cfg *config.Config, appLogger log.Logger) error {
	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracerProvider(cfg.Tracing.ServiceName)
		if err != nil {
			return err
		}
		defer func() {
			if err := tp.Shutdown(context.WithoutCancel(ctx)); err != nil {
				appLogger.Error(ctx, "TracerProvider shutdown error", err)
			}
		}()
		appLogger.Info(ctx, "TracerProvider initialized.")
	}

	app, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.close(context.WithoutCancel(ctx))

	httpServer := app.httpServer(cfg, appLogger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		appLogger.Info(gctx, "HTTP server listening", log.Fields{"addr": cfg.Server.Addr})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return app.manager.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info(context.Background(), "Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
