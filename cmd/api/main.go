package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"aanmelden/internal/api"
	"aanmelden/internal/app"
	"aanmelden/internal/auth"
	"aanmelden/internal/config"
	"aanmelden/internal/httpmiddleware"
	"aanmelden/internal/idp"
	"aanmelden/internal/logging"
	"aanmelden/internal/observability"
)

func main() {
	cfg := config.Load()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	lg, err := logging.Init(cfg.LogLevel, cfg.IsProduction())
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer lg.Closer()

	flush, err := observability.InitSentry(cfg.SentryDSN, cfg.Env, cfg.Release)
	if err != nil {
		lg.Base.Warn("sentry disabled", zap.Error(err))
	}
	defer flush()

	if err := runHTTP(cfg, lg); err != nil {
		lg.Base.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, lg *logging.Log) error {
	logger := lg.Component("api")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	go b.Fanout.Run(ctx)
	if cfg.QueueBackend == "memory" {
		// No separate worker can reach an in-process queue.
		go func() {
			if err := b.Dispatcher(lg.Component("worker")).Run(ctx, b.Queue); err != nil {
				logger.Error("inline worker stopped", zap.Error(err))
			}
		}()
	}

	provider := idp.New(idp.Config{
		ClientID:                  cfg.IDP.ClientID,
		ClientSecret:              cfg.IDP.ClientSecret,
		RedirectURL:               cfg.IDP.RedirectURL,
		AuthorizeURL:              cfg.IDP.AuthorizeURL,
		TokenURL:                  cfg.IDP.TokenURL,
		APIURL:                    cfg.IDP.APIURL,
		DiscoveryURL:              cfg.IDP.DiscoveryURL,
		IntrospectionURL:          cfg.IDP.IntrospectionURL,
		IntrospectionClientID:     cfg.IDP.IntrospectionClientID,
		IntrospectionClientSecret: cfg.IDP.IntrospectionClientSecret,
		Scopes:                    cfg.IDP.Scopes,
		DiscoveryTTL:              cfg.IDP.DiscoveryTTL,
		Timeout:                   cfg.IDP.Timeout,
	})

	health := map[string]api.HealthCheck{}
	if b.DB != nil {
		health["db"] = func(ctx context.Context) bool { return b.DB.Ping(ctx) == nil }
	}
	if b.Redis != nil {
		health["redis"] = b.Redis.Healthy
	}

	r := api.NewRouter(api.Deps{
		Service:      b.Service,
		Queue:        b.Queue,
		Login:        provider,
		Introspector: auth.NewCachedIntrospector(provider, cfg.IntrospectionCache, cfg.IntrospectionTTL),
		Allowlist:    cfg.APIClientAllowlist,
		CORSOrigins:  cfg.CORSOrigins,
		JWTIssuer:    cfg.JWTIssuer,
		JWTKey:       cfg.JWTSigningKey,
		SessionTTL:   cfg.SessionTTL,
		LogoutURL:    cfg.IDP.LogoutURL,
		MacLimiter:   httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin),
		Health:       health,
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", zap.Error(err))
	}
	logger.Info("server exited")
	return nil
}
