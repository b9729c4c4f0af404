package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Strob0t/ForgeFlow/internal/adapter/agentproc"
	"github.com/Strob0t/ForgeFlow/internal/adapter/gitcli"
	ffhttp "github.com/Strob0t/ForgeFlow/internal/adapter/http"
	ffnats "github.com/Strob0t/ForgeFlow/internal/adapter/nats"
	"github.com/Strob0t/ForgeFlow/internal/adapter/natskv"
	"github.com/Strob0t/ForgeFlow/internal/adapter/otel"
	"github.com/Strob0t/ForgeFlow/internal/adapter/postgres"
	"github.com/Strob0t/ForgeFlow/internal/adapter/ristretto"
	"github.com/Strob0t/ForgeFlow/internal/adapter/tiered"
	"github.com/Strob0t/ForgeFlow/internal/adapter/ws"
	"github.com/Strob0t/ForgeFlow/internal/config"
	"github.com/Strob0t/ForgeFlow/internal/git"
	"github.com/Strob0t/ForgeFlow/internal/logger"
	"github.com/Strob0t/ForgeFlow/internal/middleware"
	"github.com/Strob0t/ForgeFlow/internal/port/messagequeue"
	"github.com/Strob0t/ForgeFlow/internal/resilience"
	"github.com/Strob0t/ForgeFlow/internal/service"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

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

	// Structured JSON logging, decoupled from hot paths by the async handler.
	base := logger.New(cfg.Logging)
	async := logger.NewAsyncHandler(base.Handler(), 1024, 1)
	defer async.Close()
	slog.SetDefault(slog.New(async))

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"repo_dir", cfg.Worktree.RepoDir,
	)

	ctx := context.Background()

	// --- Telemetry ---
	shutdownOtel, err := otel.Setup(ctx, cfg.Logging.Service, cfg.Otel.Endpoint)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		if err := shutdownOtel(context.Background()); err != nil {
			slog.Error("otel shutdown", "error", err)
		}
	}()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	// PostgreSQL
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

	// NATS
	queue, err := ffnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() {
		if err := queue.Drain(); err != nil {
			slog.Error("nats drain", "error", err)
		}
	}()

	// Tiered cache: ristretto in-process L1, JetStream KV remote L2.
	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("l1 cache: %w", err)
	}
	defer l1.Close()

	kv, err := queue.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.TTL)
	if err != nil {
		return fmt.Errorf("l2 cache: %w", err)
	}
	statsCache := tiered.New(l1, natskv.New(kv), cfg.Cache.TTL)

	// Git CLI behind a concurrency-limited pool.
	gitPool := git.NewPool(cfg.Git.MaxConcurrent)
	gitClient := gitcli.NewClient(gitPool, metrics)

	runner := agentproc.NewLocalRunner(cfg.Agent.Command, cfg.Agent.Args)

	// --- Services ---
	hub := ws.NewHub()
	store := postgres.NewStore(pool)

	worktreeSvc := service.NewWorktreeService(store, gitClient, statsCache, hub, cfg.Worktree)
	lifecycleSvc := service.NewTaskLifecycleService(store, queue, runner, worktreeSvc, hub, metrics)
	monitor := service.NewHealthMonitor(store, runner, lifecycleSvc, hub, metrics, cfg.Health)
	stagingSvc := service.NewStagingService(store, gitClient, worktreeSvc, hub, metrics, cfg.Staging, cfg.Worktree.RepoDir)
	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	failoverSvc := service.NewFailoverService(store, queue, hub, metrics, breaker, cfg.Failover)

	// --- NATS subscribers ---
	subs := []struct {
		subject string
		handler messagequeue.Handler
	}{
		{messagequeue.SubjectTaskProgress, lifecycleSvc.HandleProgressMessage},
		{messagequeue.SubjectTaskOutput, lifecycleSvc.HandleOutputMessage},
		{messagequeue.SubjectAgentHeartbeat, monitor.HandleHeartbeat},
		{messagequeue.SubjectRateLimit, failoverSvc.HandleRateLimitMessage},
		{messagequeue.SubjectUsage, failoverSvc.HandleUsageMessage},
	}
	for _, sub := range subs {
		cancel, err := queue.Subscribe(ctx, sub.subject, sub.handler)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", sub.subject, err)
		}
		defer cancel()
	}

	// --- Background loops ---
	loopCtx, cancelLoops := context.WithCancel(ctx)
	defer cancelLoops()
	go monitor.Run(loopCtx)
	go worktreeSvc.RunStaleSweep(loopCtx, cfg.Health.CheckInterval)

	// --- HTTP ---
	handlers := &ffhttp.Handlers{
		Lifecycle: lifecycleSvc,
		Worktrees: worktreeSvc,
		Staging:   stagingSvc,
		Monitor:   monitor,
		Failover:  failoverSvc,
		Hub:       hub,
		Queue:     queue,
	}

	r := chi.NewRouter()

	r.Use(ffhttp.SecurityHeaders)
	r.Use(ffhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(middleware.RequestID)
	r.Use(ffhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(otel.HTTPMiddleware("forgeflow"))
	r.Use(chimw.Timeout(30 * time.Second))

	ffhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown
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

	cancelLoops()
	hub.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
