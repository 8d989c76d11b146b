package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mlboard-labs/mlboard-go/internal/artifacts"
	"github.com/mlboard-labs/mlboard-go/internal/inference"
	"github.com/mlboard-labs/mlboard-go/internal/lifecycle"
	repopg "github.com/mlboard-labs/mlboard-go/internal/repo/postgres"
	"github.com/mlboard-labs/mlboard-go/internal/reporting"
	"github.com/mlboard-labs/mlboard-go/internal/training"

	"github.com/mlboard-labs/mlboard-go/internal/platform/env"
	"github.com/mlboard-labs/mlboard-go/internal/platform/httpserver"
	"github.com/mlboard-labs/mlboard-go/internal/platform/objectstore"
	"github.com/mlboard-labs/mlboard-go/internal/platform/postgres"
)

func main() {
	// Local development convenience; production sets real env vars.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("MLBOARD_HTTP_ADDR", ":8080")
	shutdownTimeout, err := env.Duration("MLBOARD_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	runs := repopg.NewRunStore(db)
	ledger := repopg.NewDeploymentLedger(db)

	modelsDir := env.String("MLBOARD_MODELS_DIR", "models")
	activeDir := env.String("MLBOARD_ACTIVE_MODEL_DIR", "models/active")
	profilePath := env.String("MLBOARD_TRAINER_PROFILE", "")

	profile := training.DefaultProfile()
	if profilePath != "" {
		profile, err = training.LoadProfile(profilePath)
		if err != nil {
			logger.Error("invalid trainer profile", "error", err)
			os.Exit(2)
		}
	}

	modelStore, err := artifacts.NewStore(modelsDir, activeDir, profile.OutputPrefix)
	if err != nil {
		logger.Error("invalid artifact store config", "error", err)
		os.Exit(2)
	}

	recordRollbacks, err := env.Bool("MLBOARD_LEDGER_RECORD_ROLLBACKS", false)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	manager, err := lifecycle.New(logger, runs, ledger, modelStore, lifecycle.RecordRollbacks(recordRollbacks))
	if err != nil {
		logger.Error("lifecycle manager init failed", "error", err)
		os.Exit(2)
	}

	seedDemo, err := env.Bool("MLBOARD_SEED_DEMO", true)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	if seedDemo {
		if _, err := manager.SeedDemo(ctx); err != nil {
			logger.Error("demo seed failed", "error", err)
			os.Exit(1)
		}
	}

	runner, err := training.NewProcessRunner(logger, profile.TrainerBin, profile.TrainGrace)
	if err != nil {
		logger.Error("trainer init failed", "error", err)
		os.Exit(2)
	}

	coordOpts := []training.CoordinatorOption{}
	objectstoreEnabled, err := env.Bool("MLBOARD_OBJECTSTORE_ENABLED", false)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	if objectstoreEnabled {
		osCfg, err := objectstore.ConfigFromEnv()
		if err != nil {
			logger.Error("invalid object store config", "error", err)
			os.Exit(2)
		}
		client, err := objectstore.NewMinIOClient(osCfg)
		if err != nil {
			logger.Error("object store unavailable", "error", err)
			os.Exit(1)
		}
		if err := objectstore.EnsureBuckets(ctx, client, osCfg); err != nil {
			logger.Error("object store bucket setup failed", "error", err)
			os.Exit(1)
		}
		store, err := objectstore.NewMinioStore(client)
		if err != nil {
			logger.Error("object store init failed", "error", err)
			os.Exit(1)
		}
		archiver, err := artifacts.NewArchiver(store, osCfg.BucketModels)
		if err != nil {
			logger.Error("archiver init failed", "error", err)
			os.Exit(2)
		}
		coordOpts = append(coordOpts, training.WithArchiver(archiver))
	}

	coordinator, err := training.NewCoordinator(logger, profile, runner, training.SyntheticEvaluator{}, manager, modelsDir, coordOpts...)
	if err != nil {
		logger.Error("training coordinator init failed", "error", err)
		os.Exit(2)
	}

	stats, err := reporting.NewService(runs)
	if err != nil {
		logger.Error("reporting init failed", "error", err)
		os.Exit(2)
	}

	predictor, err := inference.NewLexiconPredictor(modelStore)
	if err != nil {
		logger.Error("predictor init failed", "error", err)
		os.Exit(2)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("dashboard"))
	mux.HandleFunc(
		"/readyz",
		httpserver.Readyz(
			"dashboard",
			httpserver.ReadinessCheck{
				Name: "postgres",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return db.PingContext(checkCtx)
				},
			},
		),
	)

	api := newDashboardAPI(logger, runs, ledger, manager, coordinator, stats, predictor)
	api.register(mux)

	cfg := httpserver.Config{
		Service:         "dashboard",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}

	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, "dashboard", mux)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
