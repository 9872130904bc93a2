package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/healthdash/backend/internal/auth"
	"github.com/healthdash/backend/internal/config"
	"github.com/healthdash/backend/internal/db"
	apphttp "github.com/healthdash/backend/internal/http"
	"github.com/healthdash/backend/internal/http/handlers"
	"github.com/healthdash/backend/internal/metrics"
	"github.com/healthdash/backend/internal/repositories"
	"github.com/healthdash/backend/internal/services"
	"github.com/healthdash/backend/migrations"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, migrations.FS, log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis (rate limiting only; the API keeps no session state)
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	// Repositories
	userRepo := repositories.NewUserRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Services
	authService := services.NewAuthService(userRepo, auth.NewBcryptHasher(cfg.BcryptCost), log)

	// Handlers
	h := apphttp.Handlers{
		Auth:    handlers.NewAuthHandler(authService, auditRepo, collector, cfg, log),
		Session: handlers.NewSessionHandler(auditRepo, log),
		Pages:   handlers.NewPageHandler(),
	}

	app := apphttp.NewApp()
	apphttp.SetupRouter(app, cfg, log, rdb, reg, collector, h)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
