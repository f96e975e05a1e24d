package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	// Executor adapters register themselves with the executor registry.
	_ "github.com/worklift/worklift/internal/adapter/agentexec"
	_ "github.com/worklift/worklift/internal/adapter/scriptexec"

	"github.com/worklift/worklift/internal/adapter/github"
	wlhttp "github.com/worklift/worklift/internal/adapter/http"
	wlnats "github.com/worklift/worklift/internal/adapter/nats"
	"github.com/worklift/worklift/internal/adapter/otel"
	"github.com/worklift/worklift/internal/adapter/postgres"
	"github.com/worklift/worklift/internal/adapter/ristretto"
	"github.com/worklift/worklift/internal/adapter/ws"
	"github.com/worklift/worklift/internal/config"
	"github.com/worklift/worklift/internal/git"
	"github.com/worklift/worklift/internal/logger"
	"github.com/worklift/worklift/internal/port/broadcast"
	"github.com/worklift/worklift/internal/port/executor"
	"github.com/worklift/worklift/internal/port/messagequeue"
	"github.com/worklift/worklift/internal/service"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(cfg.Logging)
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"worktree_base_dir", cfg.Worktree.BaseDir,
		"executors", executor.Available(),
	)

	ctx := context.Background()

	// --- Infrastructure ---

	tracerShutdown := otel.InitTracer(cfg.Logging.Service)
	defer func() {
		if err := tracerShutdown(context.Background()); err != nil {
			slog.Warn("tracer shutdown failed", "error", err)
		}
	}()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	queue, err := wlnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() {
		if err := queue.Drain(); err != nil {
			slog.Warn("nats drain failed", "error", err)
		}
		_ = queue.Close()
	}()

	statusCache, err := ristretto.New(cfg.Cache.MaxCostBytes)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	gitc := git.NewService(git.NewPool(cfg.Git.MaxConcurrent))
	host := github.New(cfg.GitHub.APIBaseURL, cfg.GitHub.Token)

	// --- Services ---

	resolve := func(name string) (executor.Executor, error) {
		if name == "" {
			name = cfg.Executor.Default
		}
		return executor.New(name, map[string]string{})
	}

	store := postgres.NewStore(pool)
	worktrees := service.NewWorktreeService(store, gitc, cfg.Worktree.BaseDir, log)
	logs := service.NewLogService(store, log)
	processes := service.NewProcessService(store, logs, gitc, worktrees, queue, metrics, resolve, log)
	retry := service.NewRetryService(store, processes, worktrees, metrics, log)
	status := service.NewBranchStatusService(store, gitc, statusCache,
		cfg.Cache.BranchStatusTTL, cfg.GitHub.Token != "", log)
	gitops := service.NewGitOpsService(store, gitc, worktrees, status, host, processes, log)
	attempts := service.NewAttemptService(store, worktrees, processes, gitc, log)

	// --- WebSocket ---

	hub := ws.NewHub(log)
	streams := ws.NewLogStreams(logs, log)
	diffs := ws.NewDiffStream(store, gitc, log)

	// Rebroadcast lifecycle events to connected event-stream clients.
	cancelEvents, err := bridgeEvents(ctx, queue, hub, "exec.>")
	if err != nil {
		return fmt.Errorf("event subscriber: %w", err)
	}
	defer cancelEvents()

	cancelMerges, err := bridgeEvents(ctx, queue, hub, "attempt.>")
	if err != nil {
		return fmt.Errorf("merge subscriber: %w", err)
	}
	defer cancelMerges()

	// --- HTTP ---

	handlers := &wlhttp.Handlers{
		Attempts:  attempts,
		Retry:     retry,
		Processes: processes,
		GitOps:    gitops,
		Status:    status,
		Logs:      logs,
		Store:     store,
		Logger:    log,
	}

	r := chi.NewRouter()

	r.Use(wlhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(wlhttp.RequestID)
	r.Use(wlhttp.Logger)
	r.Use(otel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	wlhttp.MountRoutes(r, handlers, streams, diffs, hub)

	addr := ":" + cfg.Server.Port

	// No Read/Write timeouts: log streams and the event hub hold their
	// connections open indefinitely.
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// bridgeEvents forwards queue messages matching the subject filter to the
// event-stream clients, with the payload passed through untouched.
func bridgeEvents(ctx context.Context, queue messagequeue.Queue, b broadcast.Broadcaster, filter string) (func(), error) {
	return queue.Subscribe(ctx, filter, func(ctx context.Context, subject string, data []byte) error {
		b.BroadcastEvent(ctx, subject, json.RawMessage(data))
		return nil
	})
}
