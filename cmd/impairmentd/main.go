package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/bibbank/impairment-engine/internal/application/usecase"
	"github.com/bibbank/impairment-engine/internal/domain/service"
	"github.com/bibbank/impairment-engine/internal/infrastructure/config"
	"github.com/bibbank/impairment-engine/internal/infrastructure/kafka"
	"github.com/bibbank/impairment-engine/internal/infrastructure/pdmodel"
	pgRepo "github.com/bibbank/impairment-engine/internal/infrastructure/postgres"
	"github.com/bibbank/impairment-engine/internal/presentation/consumer"
	"github.com/bibbank/impairment-engine/internal/presentation/rest"
	pkgkafka "github.com/bibbank/impairment-engine/pkg/kafka"
	"github.com/bibbank/impairment-engine/pkg/observability"
	pkgpostgres "github.com/bibbank/impairment-engine/pkg/postgres"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Load configuration.
	cfg := config.Load()

	logger := observability.InitLogger(observability.LogConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger.Info("starting impairment-engine",
		"http_port", cfg.HTTPPort,
		"request_topic", cfg.Kafka.RequestTopic,
		"page_size", cfg.Calculation.PageSize,
		"lgd_policy", cfg.Calculation.LGDPolicy,
	)

	// Initialize tracing.
	if cfg.OTLPEndpoint != "" {
		shutdown, err := observability.InitTracer(ctx, observability.TracingConfig{
			ServiceName: cfg.ServiceName,
			Endpoint:    cfg.OTLPEndpoint,
			Insecure:    true,
		})
		if err != nil {
			logger.Warn("failed to initialize tracer, continuing without tracing", "error", err)
		} else {
			defer func() { _ = shutdown(context.Background()) }() //nolint:errcheck // best-effort tracer shutdown
		}
	}

	// Initialize metrics.
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	meterProvider, metricsHandler, err := observability.InitMetrics(observability.MetricsConfig{
		ServiceName: cfg.ServiceName,
		Registry:    registry,
	})
	if err != nil {
		logger.Error("failed to initialize metrics", "error", err)
		os.Exit(1)
	}
	defer func() { _ = meterProvider.Shutdown(context.Background()) }() //nolint:errcheck

	// Database connection.
	dbCfg := pkgpostgres.Config{
		Host:            cfg.DB.Host,
		Port:            cfg.DB.Port,
		User:            cfg.DB.User,
		Password:        cfg.DB.Password,
		Database:        cfg.DB.Name,
		SSLMode:         cfg.DB.SSLMode,
		ApplicationName: cfg.ServiceName,
		MaxConns:        int32(cfg.DB.MaxConns),
	}
	dbCtx, dbCancel := context.WithTimeout(ctx, 10*time.Second)
	defer dbCancel()

	pool, err := pkgpostgres.NewPool(dbCtx, dbCfg)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("connected to database")

	schema, migErr := pkgpostgres.RunMigrations(dbCfg.DSN(), cfg.MigrationsPath)
	if migErr != nil {
		logger.Error("failed to run migrations", "error", migErr)
		os.Exit(1)
	}
	logger.Info("schema migrated", "version", schema.Version, "changed", schema.Changed)

	// Kafka producer for notifications and progress.
	kafkaCfg := pkgkafka.Config{
		Brokers:       cfg.Kafka.Brokers,
		ConsumerGroup: cfg.Kafka.ConsumerGroup,
		ClientID:      cfg.ServiceName,
		TLS:           cfg.Kafka.TLS,
		CAFile:        cfg.Kafka.CAFile,
		CertFile:      cfg.Kafka.CertFile,
		KeyFile:       cfg.Kafka.KeyFile,
		SASLEnabled:   cfg.Kafka.SASLMechanism != "",
		SASLMechanism: cfg.Kafka.SASLMechanism,
		SASLUsername:  cfg.Kafka.SASLUsername,
		SASLPassword:  cfg.Kafka.SASLPassword,
	}
	producer, err := pkgkafka.NewProducer(kafkaCfg)
	if err != nil {
		logger.Error("failed to create kafka producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	progress := kafka.NewProgressReporter(
		kafka.NewEventPublisher(producer, cfg.Kafka.ProgressTopic, logger),
		time.Duration(cfg.Kafka.ProgressIntervalMS)*time.Millisecond,
	)
	notifier := kafka.NewNotifier(kafka.NewEventPublisher(producer, cfg.Kafka.NotificationTopic, logger), progress)

	// PD model, loaded once and shared by every run.
	var pdLoader pdmodel.Loader
	if cfg.Calculation.PDModelPath != "" {
		pdLoader, err = pdmodel.NewLoader(ctx, cfg.Calculation.PDModelPath, cfg.Calculation.AWSRegion)
		if err != nil {
			logger.Error("invalid PD model location", "error", err)
			os.Exit(1)
		}
	}
	pd := pdmodel.NewHandle(pdLoader, logger)
	_ = pd.Warm(ctx) //nolint:errcheck // failure is logged and scoring falls back to the default PD

	lgd, err := service.LGDForPolicy(cfg.Calculation.LGDPolicy)
	if err != nil {
		logger.Error("invalid LGD policy", "error", err)
		os.Exit(1)
	}

	// Wire use case.
	runUC := usecase.NewRunCalculationUseCase(
		pgRepo.NewLoanRepo(pool),
		pgRepo.NewStagingConfigRepo(pool),
		pgRepo.NewResultStore(pool),
		notifier,
		progress,
		pd,
		lgd,
		logger,
		usecase.Options{
			Workers:       cfg.Calculation.Workers,
			PageSize:      cfg.Calculation.PageSize,
			NotifyTimeout: cfg.Calculation.NotifyTimeout,
		},
	)

	// Kafka consumer for calculation requests.
	handler := consumer.NewCalculationHandler(runUC, logger)
	requests, err := pkgkafka.NewConsumer(kafkaCfg, cfg.Kafka.RequestTopic, handler.Handle, logger)
	if err != nil {
		logger.Error("failed to create kafka consumer", "error", err)
		os.Exit(1)
	}
	defer requests.Close()

	// HTTP server (health checks and metrics).
	mux := http.NewServeMux()
	rest.NewHealthHandler(pool, pd, metricsHandler, logger).RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)

	go func() {
		if err := requests.Start(ctx); err != nil {
			errCh <- fmt.Errorf("request consumer error: %w", err)
		}
	}()

	go func() {
		logger.Info("HTTP server starting", "port", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Wait for shutdown signal.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("server error", "error", err)
		cancel()
	}

	// Graceful shutdown.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("impairment-engine stopped")
}
