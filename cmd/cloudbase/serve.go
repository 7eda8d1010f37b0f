package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cloudbase/internal/config"
	"cloudbase/internal/db"
	"cloudbase/internal/files"
	"cloudbase/internal/server"
	"cloudbase/internal/session"
	"cloudbase/internal/storage"
	"cloudbase/internal/users"
)

const (
	breakerMaxFailures = 5
	breakerCoolDown    = 30 * time.Second
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			for _, w := range cfg.Warnings() {
				log.Warn("config_warning", zap.String("warning", w))
			}
			return serve(cmd.Context(), cfg, log)
		},
	}
}

// serve connects every backing service, starts the HTTP server and blocks
// until ctx is cancelled or the server fails.
func serve(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() { _ = conn.Close() }()

	log.Info("running_migrations")
	schema, err := db.RunMigrations(conn)
	if err != nil {
		return err
	}
	log.Info("migrations_complete", zap.Uint("version", schema))

	rdb, err := session.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() { _ = rdb.Close() }()

	client, err := storage.NewMinioClient(ctx, storage.ClientConfig{
		Endpoint:     cfg.S3.Endpoint,
		AccessKey:    cfg.S3.AccessKey,
		SecretKey:    cfg.S3.SecretKey,
		Bucket:       cfg.S3.Bucket,
		CreateBucket: cfg.S3.CreateBucket,
	})
	if err != nil {
		return fmt.Errorf("connect object store: %w", err)
	}

	metrics := server.NewMetrics()
	breaker := storage.NewCircuitBreaker(breakerMaxFailures, breakerCoolDown, log.Named("storage"))
	breaker.OnStateChange = metrics.SetBreakerState
	repo := storage.NewRepository(client, cfg.S3.Bucket, breaker)

	sessions := session.NewStore(rdb, cfg.Session.Secret, cfg.Session.IdleTimeout)
	srv := server.New(ctx, server.Config{
		Addr:                  cfg.Addr,
		Version:               cfg.Version,
		CookieName:            cfg.Session.CookieName,
		SecureCookie:          cfg.Session.SecureCookie,
		MaxUploadBytes:        cfg.Limits.MaxUploadBytes,
		RateLimitPerMin:       cfg.Limits.RateLimitPerMin,
		AuthRateLimitPerMin:   cfg.Limits.AuthRateLimitPerMin,
		UploadRateLimitPerMin: cfg.Limits.UploadRateLimitPerMin,
		TrustedProxies:        cfg.Limits.TrustedProxies,
		LockoutAttempts:       cfg.Limits.LockoutAttempts,
		LockoutDuration:       cfg.Limits.LockoutDuration,
		LockoutWindow:         cfg.Limits.LockoutWindow,
		StaticDir:             cfg.StaticDir,
	}, server.Deps{
		Log:      log,
		Users:    users.NewService(users.NewRepository(conn), cfg.Session.BcryptCost, log.Named("users")),
		Sessions: sessions,
		Files: files.NewService(repo, files.Options{
			MoveConcurrency: cfg.Limits.MoveConcurrency,
			Log:             log.Named("files"),
		}),
		Audit:   server.NewAuditLog(conn, log.Named("audit")),
		Metrics: metrics,
		Checks:  healthChecks(conn, rdb, repo),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting",
			zap.String("addr", cfg.Addr),
			zap.String("version", cfg.Version),
			zap.String("commit", cfg.Commit),
			zap.String("env", cfg.Env))
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting_down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Limits.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		log.Info("shutdown_complete")
		return nil
	})
	return g.Wait()
}

func healthChecks(conn *sql.DB, rdb *redis.Client, repo *storage.Repository) map[string]server.HealthCheck {
	return map[string]server.HealthCheck{
		"db": conn.PingContext,
		"redis": func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		},
		"minio": repo.Ping,
	}
}
