// Command docvault-server starts the DocVault HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/and161185/docvault/internal/audit"
	"github.com/and161185/docvault/internal/config"
	"github.com/and161185/docvault/internal/integrity"
	"github.com/and161185/docvault/internal/limiter"
	"github.com/and161185/docvault/internal/logging"
	"github.com/and161185/docvault/internal/migrate"
	"github.com/and161185/docvault/internal/notify"
	"github.com/and161185/docvault/internal/obs"
	"github.com/and161185/docvault/internal/repository/postgres"
	"github.com/and161185/docvault/internal/routing"
	"github.com/and161185/docvault/internal/server/httpserver"
	"github.com/and161185/docvault/internal/service"
	"github.com/and161185/docvault/internal/stepup"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// run wires dependencies and serves until a signal arrives.
func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
		zap.String("env", cfg.Env),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(ctx, cfg.DSN); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}

	db, err := postgres.New(ctx, cfg.DSN, postgres.PoolOptions{MaxConns: cfg.MaxConns})
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	obs.RegisterBuildInfo(reg, version, buildDate)
	metrics := obs.New(reg)

	// Repositories
	userRepo := postgres.NewUserRepo(db)
	orgRepo := postgres.NewOrgRepo(db)
	docRepo := postgres.NewDocumentRepo(db)
	auditRepo := postgres.NewAuditRepo(db)

	routes := routing.Default()
	if cfg.RoutingFile != "" {
		if routes, err = routing.Load(cfg.RoutingFile); err != nil {
			return fmt.Errorf("routing table: %w", err)
		}
	}

	var anchor integrity.Anchor = integrity.Noop{}
	if cfg.AnchorKey != "" {
		anchor = integrity.NewChain([]byte(cfg.AnchorKey))
	}
	var scorer integrity.Scorer = integrity.NoScore{}
	if cfg.Scorer == "heuristic" {
		scorer = integrity.Heuristic{Known: routes.Known}
	}

	recorder := audit.NewAsync(auditRepo, cfg.AuditQueue, logger, metrics)

	var notifier notify.Notifier = notify.NewLog(logger)
	if len(cfg.KafkaBrokers) > 0 {
		k := notify.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer func() { _ = k.Close() }()
		notifier = k
	}
	events := notify.NewDispatcher(notifier, logger, metrics)

	var used stepup.UsedStore = stepup.NewMemory()
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis url: %w", err)
		}
		rdb := redis.NewClient(opt)
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		used = stepup.NewRedis(rdb)
	}

	var lim limiter.Limiter = limiter.NewPG(db.Pool, cfg.LoginWindow, cfg.LoginMaxFails, cfg.LoginBlockFor)
	if cfg.Limiter == "memory" {
		lim = limiter.NewMemory(cfg.LoginWindow, cfg.LoginMaxFails, cfg.LoginBlockFor)
	}

	// Services
	deps := service.Deps{
		Users:   userRepo,
		Orgs:    orgRepo,
		Docs:    docRepo,
		Audit:   recorder,
		Events:  events,
		Routes:  routes,
		Anchor:  anchor,
		Scorer:  scorer,
		Metrics: metrics,
		Log:     logger,
	}
	key := []byte(cfg.JWTKey)
	api := httpserver.New(httpserver.Services{
		Auth:      service.NewAuthService(deps, key, cfg.AccessTTL, lim),
		Documents: service.NewDocumentService(deps),
		StepUp:    service.NewStepUpService(deps, stepup.NewTokens(key, cfg.StepUpTTL), used, lim),
		Directory: service.NewDirectoryService(deps),
	}, userRepo, logger, httpserver.Options{
		CORSOrigins: cfg.CORSOrigins,
		RateRPS:     cfg.RateRPS,
		RateBurst:   cfg.RateBurst,
		Metrics:     metrics,
		Ready:       db.Ping,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)

		// in-flight requests are done; flush their side effects
		events.Wait()
		if cerr := recorder.Close(shutdownCtx); cerr != nil {
			logger.Warn("audit queue not drained", zap.Error(cerr))
		}
		return err
	})
	return g.Wait()
}
