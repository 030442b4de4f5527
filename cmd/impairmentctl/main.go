// Command impairmentctl runs one calculation synchronously against the
// configured database and prints the run summary as JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bibbank/impairment-engine/internal/application/dto"
	"github.com/bibbank/impairment-engine/internal/application/usecase"
	"github.com/bibbank/impairment-engine/internal/domain/model"
	"github.com/bibbank/impairment-engine/internal/domain/service"
	"github.com/bibbank/impairment-engine/internal/infrastructure/config"
	"github.com/bibbank/impairment-engine/internal/infrastructure/pdmodel"
	pgRepo "github.com/bibbank/impairment-engine/internal/infrastructure/postgres"
	"github.com/bibbank/impairment-engine/pkg/observability"
	pkgpostgres "github.com/bibbank/impairment-engine/pkg/postgres"
)

// logProgress reports committed pages to the log instead of Kafka.
type logProgress struct {
	logger *slog.Logger
}

func (p logProgress) ReportProgress(_ context.Context, pr model.RunProgress) error {
	p.logger.Info("page committed",
		"run_id", pr.RunID,
		"pages", pr.PagesCommitted,
		"loans", pr.LoansProcessed,
		"skipped", pr.LoansSkipped,
	)
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		portfolioID = flag.Int64("portfolio", 0, "portfolio id (required)")
		kind        = flag.String("kind", "ECL", "run kind: ECL_STAGING, LOCAL_STAGING, ECL or LOCAL_IMPAIRMENT")
		date        = flag.String("date", "", "reporting date, YYYY-MM-DD (required)")
		pageSize    = flag.Int("page-size", 0, "loans per page (default PAGE_SIZE)")
		workers     = flag.Int("workers", 0, "parallel workers (default WORKERS, then GOMAXPROCS-1)")
		resume      = flag.String("resume", "", "run id to resume from its last checkpoint")
		migrate     = flag.String("migrate", "", "\"up\" applies migrations before running; \"down\" rolls them all back and exits")
	)
	flag.Parse()

	cfg := config.Load()
	// Logs go to stderr so stdout carries only the JSON summary.
	logger := observability.InitLogger(observability.LogConfig{
		Output: os.Stderr,
		Level:  cfg.LogLevel,
		Format: "text",
	})

	dbCfg := pkgpostgres.Config{
		Host:            cfg.DB.Host,
		Port:            cfg.DB.Port,
		User:            cfg.DB.User,
		Password:        cfg.DB.Password,
		Database:        cfg.DB.Name,
		SSLMode:         cfg.DB.SSLMode,
		ApplicationName: "impairmentctl",
	}

	switch *migrate {
	case "", "up":
	case "down":
		schema, err := pkgpostgres.RunMigrationsDown(dbCfg.DSN(), cfg.MigrationsPath)
		if err != nil {
			logger.Error("failed to roll back migrations", "error", err)
			return 1
		}
		logger.Info("migrations rolled back", "version", schema.Version, "changed", schema.Changed)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "impairmentctl: -migrate must be up or down, got %q\n", *migrate)
		return 2
	}

	reportingDate, err := time.Parse(time.DateOnly, *date)
	if *portfolioID <= 0 || err != nil {
		fmt.Fprintln(os.Stderr, "impairmentctl: -portfolio and -date (YYYY-MM-DD) are required")
		flag.Usage()
		return 2
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := pkgpostgres.NewPool(ctx, dbCfg)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return 1
	}
	defer pool.Close()

	if *migrate == "up" {
		schema, err := pkgpostgres.RunMigrations(dbCfg.DSN(), cfg.MigrationsPath)
		if err != nil {
			logger.Error("failed to run migrations", "error", err)
			return 1
		}
		logger.Info("schema migrated", "version", schema.Version, "changed", schema.Changed)
	}

	var loader pdmodel.Loader
	if cfg.Calculation.PDModelPath != "" {
		if loader, err = pdmodel.NewLoader(ctx, cfg.Calculation.PDModelPath, cfg.Calculation.AWSRegion); err != nil {
			logger.Error("invalid PD model location", "error", err)
			return 1
		}
	}
	lgd, err := service.LGDForPolicy(cfg.Calculation.LGDPolicy)
	if err != nil {
		logger.Error("invalid LGD policy", "error", err)
		return 1
	}

	if *workers == 0 {
		*workers = cfg.Calculation.Workers
	}
	if *pageSize == 0 {
		*pageSize = cfg.Calculation.PageSize
	}

	uc := usecase.NewRunCalculationUseCase(
		pgRepo.NewLoanRepo(pool),
		pgRepo.NewStagingConfigRepo(pool),
		pgRepo.NewResultStore(pool),
		nil,
		logProgress{logger: logger},
		pdmodel.NewHandle(loader, logger),
		lgd,
		logger,
		usecase.Options{Workers: *workers, PageSize: *pageSize},
	)

	resp, runErr := uc.Execute(ctx, dto.RunCalculationRequest{
		PortfolioID:   *portfolioID,
		RunKind:       *kind,
		ReportingDate: reportingDate,
		ResumeRunID:   *resume,
	})

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		logger.Error("failed to write summary", "error", err)
		return 1
	}

	if runErr != nil {
		if errors.Is(runErr, usecase.ErrInvalidRequest) {
			return 2
		}
		return 1
	}
	return 0
}
