package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	echoapi "github.com/pilab-dev/oauthdirac/api/echo"
	"github.com/pilab-dev/oauthdirac/boltdb"
	"github.com/pilab-dev/oauthdirac/cache"
	cacheredis "github.com/pilab-dev/oauthdirac/cache/redis"
	"github.com/pilab-dev/oauthdirac/config"
	"github.com/pilab-dev/oauthdirac/domain"
	"github.com/pilab-dev/oauthdirac/internal/audit"
	"github.com/pilab-dev/oauthdirac/internal/directory"
	"github.com/pilab-dev/oauthdirac/internal/federation"
	"github.com/pilab-dev/oauthdirac/internal/metrics"
	"github.com/pilab-dev/oauthdirac/internal/notify"
	"github.com/pilab-dev/oauthdirac/internal/proxyprovider"
	"github.com/pilab-dev/oauthdirac/internal/server"
	"github.com/pilab-dev/oauthdirac/internal/sessionmanager"
	"github.com/pilab-dev/oauthdirac/internal/store"
	"github.com/pilab-dev/oauthdirac/log"
	"github.com/pilab-dev/oauthdirac/middleware"
	"github.com/pilab-dev/oauthdirac/mongodb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	zlog "github.com/rs/zerolog/log"
)

// application holds the wired components and what has to be released on
// shutdown.
type application struct {
	manager   *sessionmanager.Manager
	directory domain.UserDirectory
	registry  *prometheus.Registry
	closers   []func(context.Context)
}

func build(ctx context.Context, cfg *config.Config) (*application, error) {
	app := &application{registry: prometheus.NewRegistry()}
	app.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.InitCustomMetrics(app.registry)

	repo, err := app.sessionRepository(ctx, cfg.Storage)
	if err != nil {
		app.close(ctx)
		return nil, err
	}

	dir, err := newDirectory(cfg.Directory)
	if err != nil {
		app.close(ctx)
		return nil, err
	}
	app.directory = dir

	var notifier notify.Notifier
	if cfg.SMTP.Host != "" {
		smtpNotifier, err := notify.NewSMTPNotifier(cfg.SMTP, nil)
		if err != nil {
			app.close(ctx)
			return nil, err
		}
		notifier = smtpNotifier
	}

	registry := federation.NewRegistry(cfg.IdentityProviders())
	proxies, err := app.proxyCache(cfg.Redis)
	if err != nil {
		app.close(ctx)
		return nil, err
	}

	opts := []sessionmanager.Option{
		sessionmanager.WithConfig(cfg.Manager),
		sessionmanager.WithAuditLog(audit.Stdout()),
	}
	for _, ppCfg := range cfg.ProxyProviders {
		pp, err := proxyprovider.New(ppCfg, registry, proxies,
			proxyprovider.WithFreshnessThreshold(cfg.Proxy.FreshnessThreshold))
		if err != nil {
			app.close(ctx)
			return nil, fmt.Errorf("proxy provider %q: %w", ppCfg.Name, err)
		}
		opts = append(opts, sessionmanager.WithProxyProvider(pp))
	}

	app.manager = sessionmanager.New(store.New(repo), registry, dir, notifier, opts...)
	app.closers = append(app.closers, func(context.Context) { app.manager.Close() })
	return app, nil
}

func (a *application) sessionRepository(ctx context.Context, cfg config.StorageConfig) (domain.SessionRepository, error) {
	switch cfg.Backend {
	case config.StorageTypeMongoDB:
		client, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		return mongodb.NewSessionRepositoryMongo(ctx, client.DB())
	case config.StorageTypeBolt:
		repo, err := boltdb.Open(cfg.BoltPath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) {
			if err := repo.Close(); err != nil {
				zlog.Error().Err(err).Msg("Error closing session database")
			}
		})
		return repo, nil
	default:
		zlog.Warn().Msg("Using the in-memory session store; sessions are lost on restart")
		return store.NewMemoryRepository(), nil
	}
}

func newDirectory(cfg config.DirectoryConfig) (domain.UserDirectory, error) {
	if cfg.Type == config.DirectoryTypeLDAP {
		return directory.NewLDAPDirectory(cfg.LDAP, nil)
	}
	return directory.NewFileDirectory(cfg.Path)
}

func (a *application) proxyCache(cfg config.RedisConfig) (cache.ProxyCache, error) {
	if cfg.Addr == "" {
		mem := cache.NewMemoryProxyCache()
		a.closers = append(a.closers, func(context.Context) { mem.Close() })
		return mem, nil
	}
	var opts []cacheredis.Option
	if cfg.EncryptionKey != "" {
		key, err := cacheredis.ParseKey(cfg.EncryptionKey)
		if err != nil {
			return nil, err
		}
		opts = append(opts, cacheredis.WithEncryptionKey(key))
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	a.closers = append(a.closers, func(context.Context) {
		if err := client.Close(); err != nil {
			zlog.Error().Err(err).Msg("Error closing Redis client")
		}
	})
	return cacheredis.NewProxyCache(client, cfg.Prefix, opts...), nil
}

func (a *application) callerMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	return middleware.Caller(a.directory, cfg.TrustedHosts)
}

func (a *application) httpServer(cfg *config.Config, appLogger log.Logger) *http.Server {
	api := echoapi.NewSessionAPI(a.manager)
	return server.NewHTTPServer(cfg.Server, appLogger, api, a.callerMiddleware(cfg), a.registry)
}

// close releases resources in reverse order of acquisition.
func (a *application) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
	a.closers = nil
}
