package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	wfsqlite "github.com/cschleiden/go-workflows/backend/sqlite"
	wfclient "github.com/cschleiden/go-workflows/client"
	"github.com/cschleiden/go-workflows/worker"
	"github.com/dbos-inc/dbos-transact-golang/dbos"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/canarygate/canarygate/internal/api"
	"github.com/canarygate/canarygate/internal/application"
	"github.com/canarygate/canarygate/internal/config"
	"github.com/canarygate/canarygate/internal/domain"
	"github.com/canarygate/canarygate/internal/infrastructure/dbosworkflows"
	"github.com/canarygate/canarygate/internal/infrastructure/goworkflows"
	"github.com/canarygate/canarygate/internal/infrastructure/metricshttp"
	"github.com/canarygate/canarygate/internal/infrastructure/routerhttp"
	"github.com/canarygate/canarygate/internal/infrastructure/sqlite"
	"github.com/canarygate/canarygate/internal/infrastructure/syncworkflow"
	"github.com/canarygate/canarygate/internal/logging"
	"github.com/canarygate/canarygate/internal/metrics"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting canarygate",
		slog.String("address", cfg.Server.Address),
		slog.String("engine", cfg.Workflow.Engine))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := sqlite.Open(cfg.Storage.Path)
	if err != nil {
		logger.Error("failed to open session database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()
	sessions := &sqlite.SessionRepo{DB: db}

	router := routerhttp.New(cfg.Router.BaseURL, cfg.Router.Timeout)
	metricsSource := metricshttp.New(cfg.Metrics.BaseURL, cfg.Metrics.Timeout)

	wf := &domain.RolloutWorkflow{
		Sessions:     sessions,
		Router:       router,
		Metrics:      metricsSource,
		Logger:       logger,
		ShiftTimeout: cfg.Router.Timeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, cleanup, err := buildRunner(ctx, cfg, wf)
	if err != nil {
		logger.Error("failed to start workflow engine", slog.Any("error", err))
		os.Exit(1)
	}
	defer cleanup()

	defaults := domain.DefaultRolloutConfig()
	defaults.FailureThreshold = cfg.Rollout.FailureThreshold
	defaults.CheckInterval = cfg.Rollout.CheckInterval
	defaults.WarmupPeriod = cfg.Rollout.WarmupPeriod

	rollouts := &application.RolloutService{
		Sessions: sessions,
		Baseline: &domain.BaselineCollector{
			Source:  metricsSource,
			Timeout: cfg.Metrics.Timeout,
		},
		Orchestration: &application.RolloutOrchestrator{Workflow: runner},
		Logger:        logger,
		Defaults:      &defaults,
	}

	server := api.NewServer(cfg.Server.Address, rollouts, logger)

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("http server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", slog.Any("error", err))
	}

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	logger.Info("canarygate stopped")
}

// buildRunner wires the configured workflow engine and returns its runner
// plus a cleanup function for engine resources.
func buildRunner(ctx context.Context, cfg *config.Config, wf *domain.RolloutWorkflow) (domain.RolloutRunner, func(), error) {
	switch cfg.Workflow.Engine {
	case "sync":
		engine := &syncworkflow.Engine{}
		runner, err := engine.RolloutRunner(wf)
		if err != nil {
			return nil, nil, err
		}
		return runner, func() {}, nil

	case "goworkflows":
		backend := wfsqlite.NewSqliteBackend(cfg.Workflow.StatePath)
		w := worker.New(backend, nil)
		c := wfclient.New(backend)

		engine := &goworkflows.Engine{Worker: w, Client: c}
		runner, err := engine.RolloutRunner(wf)
		if err != nil {
			return nil, nil, err
		}
		if err := w.Start(ctx); err != nil {
			return nil, nil, fmt.Errorf("start workflow worker: %w", err)
		}
		return runner, func() { _ = w.WaitForCompletion() }, nil

	case "dbos":
		dbosCtx, err := dbos.NewDBOSContext(ctx, dbos.Config{
			AppName:     "canarygate",
			DatabaseURL: cfg.Workflow.DatabaseURL,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create DBOS context: %w", err)
		}

		engine := &dbosworkflows.Engine{DBOSCtx: dbosCtx}
		runner, err := engine.RolloutRunner(wf)
		if err != nil {
			return nil, nil, err
		}
		if err := dbos.Launch(dbosCtx); err != nil {
			return nil, nil, fmt.Errorf("launch DBOS: %w", err)
		}
		return runner, func() { dbos.Shutdown(dbosCtx, 5*time.Second) }, nil

	default:
		return nil, nil, fmt.Errorf("unknown workflow engine %q", cfg.Workflow.Engine)
	}
}
