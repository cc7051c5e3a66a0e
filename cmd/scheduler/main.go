// cmd/scheduler is the long-running process: it serves the /v1/tasks HTTP
// API and runs both scheduler loops against the same database, the same
// way the teacher's cmd/api/main.go serves /v1/ routes and starts its
// River client side by side in one process.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/inaiurai/mediatasks/internal/artifact"
	"github.com/inaiurai/mediatasks/internal/billing"
	"github.com/inaiurai/mediatasks/internal/config"
	"github.com/inaiurai/mediatasks/internal/executor"
	"github.com/inaiurai/mediatasks/internal/handler"
	"github.com/inaiurai/mediatasks/internal/httpapi"
	"github.com/inaiurai/mediatasks/internal/models"
	"github.com/inaiurai/mediatasks/internal/provider"
	"github.com/inaiurai/mediatasks/internal/scheduler"
	"github.com/inaiurai/mediatasks/internal/store"
	"github.com/inaiurai/mediatasks/internal/taskservice"
	"github.com/inaiurai/mediatasks/internal/validate"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("connected to database")

	// Repositories.
	accounts := store.NewAccountRepo(pool)
	pricing := store.NewPricingRepo(pool)
	transactions := store.NewTransactionRepo(pool)
	tasks := store.NewTaskRepo(pool)
	resources := store.NewResourceRepo(pool)
	logs := store.NewLogRepo(pool)
	txRunner := store.NewTxRunner(pool)

	billingSvc := billing.NewService(accounts, pricing, transactions)

	validator, err := validate.NewValidator(cfg.SchemaDir)
	if err != nil {
		logger.Warn("config schema validator init failed, config payloads will not be schema-checked", "error", err)
		validator = nil
	}

	var configValidator taskservice.ConfigValidator
	if validator != nil {
		configValidator = validator
	}
	taskSvc := taskservice.NewService(tasks, resources, logs, billingSvc, txRunner, configValidator)

	uploader, err := artifact.NewS3Store(ctx, artifact.S3Config{
		Bucket:   cfg.ArtifactBucket,
		Region:   cfg.AWSRegion,
		Endpoint: cfg.AWSEndpoint,
	}, logger)
	if err != nil {
		logger.Error("init artifact store", "error", err)
		os.Exit(1)
	}

	providerRegistry, err := provider.NewRegistry(buildProviders()...)
	if err != nil {
		logger.Error("build provider registry", "error", err)
		os.Exit(1)
	}

	handlerRegistry, err := handler.NewRegistry(buildHandlers(cfg, tasks, resources, logs, pricing, billingSvc, uploader, txRunner, logger)...)
	if err != nil {
		logger.Error("build handler registry", "error", err)
		os.Exit(1)
	}

	exec := executor.New(providerRegistry, handlerRegistry, resources, tasks, logger)

	sched := scheduler.New(scheduler.Config{
		MainInterval:      cfg.MainInterval,
		AsyncPollInterval: cfg.AsyncPollInterval,
		BatchSize:         cfg.BatchSize,
		MaxRetries:        cfg.MaxRetries,
		SyncTimeout:       cfg.SyncTimeout,
		AsyncTimeout:      cfg.AsyncTimeout,
	}, tasks, billingSvc, logs, txRunner, exec, logger)

	if cfg.SchedulerEnabled {
		sched.Start(ctx)
		logger.Info("scheduler loops started")
	} else {
		logger.Info("scheduler loops disabled via TASK_SCHEDULER_ENABLED=false")
	}

	mux := http.NewServeMux()
	httpapi.RegisterRoutes(mux, taskSvc, logger)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	go func() {
		addr := "0.0.0.0:" + cfg.MetricsPort
		logger.Info("starting metrics server", "addr", addr)
		if err := http.ListenAndServe(addr, metricsMux); err != nil {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}).Handler(mux)

	addr := "0.0.0.0:" + cfg.Port
	logger.Info("starting HTTP server", "addr", addr)
	if err := http.ListenAndServe(addr, corsHandler); err != nil {
		logger.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}

// buildProviders constructs one HTTPProvider per catalog task type, each
// pointed at PROVIDER_BASE_URL_<TASK_TYPE> (falling back to
// PROVIDER_BASE_URL), mirroring the teacher's one-registration-per-kind
// pattern in river.AddWorker.
func buildProviders() []provider.Provider {
	fallback := os.Getenv("PROVIDER_BASE_URL")
	providers := make([]provider.Provider, 0, len(models.AllTaskTypes()))
	for _, tt := range models.AllTaskTypes() {
		mode, _ := tt.Mode()
		envKey := "PROVIDER_BASE_URL_" + strings.ToUpper(string(tt))
		baseURL := os.Getenv(envKey)
		if baseURL == "" {
			baseURL = fallback
		}
		providers = append(providers, provider.NewHTTPProvider(tt, mode, baseURL, nil))
	}
	return providers
}

func buildHandlers(
	cfg *config.Config,
	tasks handler.TaskRepo,
	resources handler.ResourceRepo,
	logs handler.LogRepo,
	pricing handler.PricingRepo,
	billingSvc handler.Billing,
	uploader handler.Uploader,
	db handler.TxRunner,
	logger *slog.Logger,
) []handler.Handler {
	handlers := make([]handler.Handler, 0, len(models.AllTaskTypes()))
	for _, tt := range models.AllTaskTypes() {
		handlers = append(handlers, handler.NewDefaultHandler(tt, cfg.MaxRetries, tasks, resources, logs, pricing, billingSvc, uploader, db, logger))
	}
	return handlers
}
