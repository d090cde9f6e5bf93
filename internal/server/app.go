// Package server wires configuration, storage, the session services and the
// HTTP surface into a runnable application with graceful shutdown.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/cryptox"
	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/auth"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/config"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/httpapi"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/services"
)

// redisRetention keeps revoked and expired token hashes inspectable for a
// day past their expiry.
const redisRetention = 24 * time.Hour

type App struct {
	config  *config.Config
	logger  logging.Logger
	repos   repomanager.RepositoryManager
	limiter *httpapi.RateLimiter
	server  *httpapi.Server
}

// NewApp opens storage, runs migrations and builds the HTTP server.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.New(c.LogLevel, c.LogFormat)

	repos, err := repomanager.New(ctx, repomanager.Options{
		DatabaseDSN:    c.DatabaseDSN,
		TokenStore:     c.TokenStore,
		RedisAddr:      c.RedisAddr,
		RedisPassword:  c.RedisPassword,
		RedisDB:        c.RedisDB,
		RedisRetention: redisRetention,
	})
	if err != nil {
		return nil, fmt.Errorf("storage init error: %w", err)
	}

	if err := repos.RunMigrations(ctx); err != nil {
		_ = repos.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	return newApp(c, logger, repos, cryptox.DefaultParams), nil
}

func newApp(c *config.Config, logger logging.Logger, repos repomanager.RepositoryManager, hashParams cryptox.Params) *App {
	prom := metrics.NewPrometheus()
	store := repos.RefreshTokens()

	issuer := services.NewTokenIssuer(store, c.RefreshTokenValidityDuration, prom)
	revocation := services.NewRevocationService(store, logger, prom)
	validator := services.NewSessionValidator(repos.Owners(), store, issuer, services.ValidatorConfig{
		SessionWindow: c.SessionWindow,
		RenewalWindow: c.RenewalWindow,
	}, logger, prom)
	authService := services.NewAuthService(repos.Owners(), store, issuer, revocation, c.SessionWindow, hashParams, logger)

	codec := auth.NewSessionCodec([]byte(c.SecretKey))
	limiter := httpapi.NewRateLimiter(c.RateLimitRPS, c.RateLimitBurst)

	handler := httpapi.NewHandler(httpapi.Deps{
		Auth:      authService,
		Validator: validator,
		Codec:     codec,
		Gateway: httpapi.NewGateway(codec, httpapi.CookieConfig{
			Secure:         c.CookieSecure,
			Domain:         c.CookieDomain,
			RefreshHorizon: c.RefreshTokenValidityDuration,
		}),
		Logger:   logger,
		Limiter:  limiter,
		Requests: prom,
		Metrics:  prom.Handler(),
		Ping:     repos.Ping,
	})

	return &App{
		config:  c,
		logger:  logger,
		repos:   repos,
		limiter: limiter,
		server:  httpapi.NewServer(c.EndpointAddrHTTP, handler.Router(), logger, c.ShutdownTimeout),
	}
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run serves until ctx is cancelled or a termination signal arrives, then
// shuts the server down and closes storage.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "token_store", app.config.TokenStore)

	app.initSignalHandler(cancelFunc)

	var (
		wg     sync.WaitGroup
		runErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.limiter.RunSweeper(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := app.server.Run(ctx); err != nil {
			app.logger.Error(ctx, "http server error", "error", err)
			runErr = err
		}
		cancelFunc()
	}()

	wg.Wait()

	if err := app.repos.Close(); err != nil {
		app.logger.Error(ctx, "closing storage", "error", err)
	}
	app.logger.Info(ctx, "App stopped")
	return runErr
}
