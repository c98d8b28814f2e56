package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/communitydesk/casetrack/internal/cases"
	caseapi "github.com/communitydesk/casetrack/internal/cases/api"
	caseinfra "github.com/communitydesk/casetrack/internal/cases/infrastructure"
	"github.com/communitydesk/casetrack/internal/comments"
	"github.com/communitydesk/casetrack/internal/directory"
	"github.com/communitydesk/casetrack/internal/history"
	"github.com/communitydesk/casetrack/internal/notify"
	"github.com/communitydesk/casetrack/internal/shared/auth"
	"github.com/communitydesk/casetrack/internal/shared/config"
	"github.com/communitydesk/casetrack/internal/shared/database"
	"github.com/communitydesk/casetrack/internal/shared/logger"
	"github.com/communitydesk/casetrack/internal/shared/metrics"
	secmiddleware "github.com/communitydesk/casetrack/internal/shared/middleware"
	"github.com/communitydesk/casetrack/internal/tasks"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// App holds the wired application dependencies
type App struct {
	Config *config.Config
	DB     *database.DB
	Runner *tasks.Runner
	Logger *zap.Logger
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		log.Fatal("database not available", zap.Error(err))
	}
	defer db.Close()

	if err := database.Migrate(ctx, db.Pool); err != nil {
		log.Fatal("migration failed", zap.Error(err))
	}

	runner := tasks.NewRunner(tasks.Config{
		Workers:    cfg.Tasks.Workers,
		BufferSize: cfg.Tasks.BufferSize,
		Timeout:    cfg.Tasks.Timeout,
	}, logger.WithModule(log, "tasks"))
	if err := runner.Start(); err != nil {
		log.Fatal("task runner failed to start", zap.Error(err))
	}
	defer runner.Stop()

	app := &App{Config: cfg, DB: db, Runner: runner, Logger: log}

	// Directory lookup, optionally fronted by Redis.
	var dir directory.Lookup = directory.NewPostgresLookup(db.Pool)
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		dir = directory.NewCache(dir, rdb, cfg.Redis.TTL, logger.WithModule(log, "directory"))
		log.Info("directory cache enabled", zap.String("addr", cfg.Redis.Addr))
	}

	// Delivery channel: Resend when configured, otherwise a no-op.
	var sender notify.Sender = notify.NoopSender{}
	if cfg.Mail.ResendAPIKey != "" {
		sender = notify.NewResendSender(cfg.Mail.ResendAPIKey, cfg.Mail.FromName, cfg.Mail.FromEmail)
		log.Info("email delivery enabled", zap.String("from", cfg.Mail.FromEmail))
	}

	historyRepo := history.NewPostgresRepository(db)
	recorder := history.NewRecorder(historyRepo, logger.WithModule(log, "history"))

	notifRepo := notify.NewPostgresRepository(db)
	dispatcher := notify.NewDispatcher(notifRepo, dir, sender, runner, logger.WithModule(log, "notify"))

	caseStore := caseinfra.NewPostgresStore(db)
	caseSvc := cases.NewService(caseStore, recorder, dispatcher, runner, logger.WithModule(log, "cases"))

	commentRepo := comments.NewPostgresRepository(db)
	commentSvc := comments.NewService(commentRepo, caseSvc, recorder, dispatcher, runner, logger.WithModule(log, "comments"))

	caseHandler := caseapi.NewHandler(caseSvc, commentSvc, historyRepo)
	notifHandler := notify.NewHandler(notifRepo)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(metrics.Middleware)

	limiter := secmiddleware.NewIPRateLimiter(100, 200)
	r.Use(limiter.Middleware)

	// Health checks (unauthenticated)
	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Server.Env == "production" {
			r.Use(auth.Middleware(cfg.Auth))
		}

		r.Mount("/cases", caseHandler.Routes())
		r.Mount("/notifications", notifHandler.Routes())
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown error", zap.Error(err))
		}
		close(done)
	}()

	log.Info("casetrack started",
		zap.String("env", cfg.Server.Env),
		zap.Int("port", cfg.Server.Port),
		zap.Int("task_workers", cfg.Tasks.Workers))

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("server error", zap.Error(err))
	}

	<-done
	log.Info("server stopped")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func readyHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"server": "ready",
		}

		if err := app.DB.Health(r.Context()); err != nil {
			checks["database"] = "not ready: " + err.Error()
		} else {
			checks["database"] = "ready"
		}

		allReady := true
		for _, status := range checks {
			if status != "ready" {
				allReady = false
				break
			}
		}

		status := http.StatusOK
		if !allReady {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
			"checks": checks,
		})
	}
}
