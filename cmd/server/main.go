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
	"golang.org/x/sync/errgroup"

	"github.com/baskaranangappan/gherkinscriptgenerator/internal/api"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/archive"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/broadcast"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/browser"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/config"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/generator"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/gherkin"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/llm"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/logging"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/pipeline"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/store"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/task"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		logging.New("server").Error("%v", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logging.SetLevel(logging.ParseLevel(cfg.Server.LogLevel))
	logger := logging.New("server")

	logger.Info("Starting gherkin generator on %s:%s", cfg.Server.Host, cfg.Server.Port)

	db, err := store.Open(cfg.Task.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("Task store opened at %s", cfg.Task.DBPath)

	defaults := task.DefaultParams()
	defaults.Headless = cfg.Browser.Headless
	defaults.TimeoutMillis = cfg.Browser.TimeoutMillis
	defaults.SlowMoMillis = cfg.Browser.SlowMoMillis

	taskManager, err := task.NewManager(db, task.Options{
		Catalog:         cfg.Catalog,
		DefaultProvider: cfg.LLM.DefaultProvider,
		Defaults:        defaults,
		ListLimit:       cfg.Task.DefaultListLimit,
		Logger:          logging.New("task"),
	})
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	broadcaster, err := broadcast.New(taskManager.Snapshot, broadcast.Options{
		Metrics: broadcast.MustNewMetrics(registry),
		Logger:  logging.New("broadcast"),
	})
	if err != nil {
		return err
	}
	taskManager.SetPublisher(broadcaster)

	for name, ok := range cfg.AvailableProviders() {
		if !ok {
			logger.Warn("No API key configured for provider %s", name)
		}
	}

	provisionCtx, cancelProvision := context.WithTimeout(context.Background(), shutdownTimeout)
	archiveCfg, err := archive.ResolveRemote(provisionCtx, cfg.Archive, logging.New("archive"))
	cancelProvision()
	if err != nil {
		return err
	}
	featureArchive, err := archive.Open(cfg.Task.OutputsDir, archiveCfg, logging.New("archive"))
	if err != nil {
		return err
	}
	logger.Info("Feature archive at %s", cfg.Task.OutputsDir)

	stages := pipeline.DefaultStages(pipeline.Dependencies{
		Navigator:  browser.NewNavigator(cfg.Browser.UserAgent, logging.New("browser")),
		Detector:   browser.NewDetector(cfg.Task.MaxHoverElements, cfg.Task.MaxPopupElements),
		Writer:     gherkin.NewWriter(logging.New("gherkin")),
		Clients:    llm.NewFactory(cfg.LLM),
		Recorder:   taskManager,
		Archive:    featureArchive,
		LLMTimeout: cfg.Task.LLMStageTimeout,
		Override:   cfg.Task.StageTimeout,
	})
	executor, err := pipeline.NewExecutor(taskManager, stages, pipeline.Options{
		Metrics: pipeline.MustNewMetrics(registry),
		Logger:  logging.New("pipeline"),
	})
	if err != nil {
		return err
	}

	gen := generator.NewGenerator(executor, taskManager, cfg.Task.MaxConcurrentTasks, logging.New("generator"))
	logger.Info("Generator initialized with %d concurrent tasks", cfg.Task.MaxConcurrentTasks)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if n, err := gen.RecoverInterrupted(ctx); err != nil {
		logger.Warn("Could not recover interrupted tasks: %v", err)
	} else if n > 0 {
		logger.Warn("Marked %d interrupted tasks as failed", n)
	}

	handler, err := api.NewHandler(api.Options{
		Config:      cfg,
		Tasks:       taskManager,
		Launcher:    gen,
		Broadcaster: broadcaster,
		Stages:      stages,
		Defaults:    defaults,
		Gatherer:    registry,
		Logger:      logging.New("api"),
	})
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.SetupRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // push streams stay open until their task finishes
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := gen.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Pipelines still running at shutdown: %v", err)
		}
		broadcaster.Shutdown()
		if err := featureArchive.Wait(shutdownCtx); err != nil {
			logger.Warn("%v", err)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Server forced to shutdown: %v", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}
