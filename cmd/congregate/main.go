package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/congregate/congregate/internal/accounts"
	"github.com/congregate/congregate/internal/app"
	"github.com/congregate/congregate/internal/auth"
	"github.com/congregate/congregate/internal/identity"
	"github.com/congregate/congregate/internal/observability"
	"github.com/congregate/congregate/internal/platform/cache"
	"github.com/congregate/congregate/internal/platform/db"
	"github.com/congregate/congregate/internal/rbac"
	"github.com/congregate/congregate/internal/session"
	"github.com/congregate/congregate/internal/shared"
	"github.com/congregate/congregate/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}
	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		os.Exit(runJobsCommand(os.Args[2:]))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	verifier, err := identity.NewTokenVerifier(cfg.IdentityJWTSecret, cfg.IdentityJWTAudience)
	if err != nil {
		logger.Error("init token verifier", slog.Any("error", err))
		os.Exit(1)
	}
	identityClient, err := identity.NewClient(identity.ClientConfig{
		BaseURL:    cfg.IdentityURL,
		AnonKey:    cfg.IdentityAnonKey,
		ServiceKey: cfg.IdentityServiceKey,
		Timeout:    cfg.IdentityTimeout,
		Logger:     logger,
	}, verifier)
	if err != nil {
		logger.Error("init identity client", slog.Any("error", err))
		os.Exit(1)
	}
	if !identityClient.AdminEnabled() {
		logger.Warn("identity service key missing; login accounts will not follow member changes")
	}

	metrics := observability.NewMetrics()
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	revocations := session.NewRevocations(redisClient, cfg.RevocationTTL)
	resolver := session.NewResolver(identityClient, revocations, cfg.AuthCookieName)

	rbacRepo := rbac.NewRepository(dbpool)
	roleStore := rbac.NewRoleStore(rbacRepo, logger)
	catalog := rbac.NewCatalog(rbacRepo, auditLogger, logger)
	if err := catalog.Seed(ctx, shared.CoreScopes()); err != nil {
		logger.Error("seed permission catalog", slog.Any("error", err))
		os.Exit(1)
	}
	gateway := rbac.Gateway{
		Sessions:  resolver,
		Members:   roleStore,
		Evaluator: rbac.NewEvaluator(catalog),
		CSRF:      csrfManager,
		Logger:    logger,
		Metrics:   metrics,
	}
	rbacHandler := rbac.NewHandler(logger, catalog, roleStore, gateway, auditLogger)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	var idp accounts.IdentityAdmin
	if identityClient.AdminEnabled() {
		idp = identityClient
	}
	accountService := accounts.NewService(accounts.NewRepository(dbpool), idp, jobClient, auditLogger, idempotencyStore, logger)
	accountsHandler := accounts.NewHandler(logger, accountService, gateway)

	authService := auth.NewService(identityClient, roleStore, accountService, revocations, logger)
	authHandler := auth.NewHandler(logger, authService, resolver, csrfManager, auth.CookieConfig{
		Name:   cfg.AuthCookieName,
		Secure: cfg.IsProduction(),
	})

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, gateway, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		AuthHandler:     authHandler,
		AccountsHandler: accountsHandler,
		RBACHandler:     rbacHandler,
		JobHandler:      jobHandler,
		Metrics:         metrics,
		Health: func(r *http.Request) error {
			return dbpool.Ping(r.Context())
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
