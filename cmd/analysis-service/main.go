package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/telecheck/platform/pkg/analysis"
	"github.com/telecheck/platform/pkg/common/config"
	"github.com/telecheck/platform/pkg/common/database"
	"github.com/telecheck/platform/pkg/common/kafka"
	"github.com/telecheck/platform/pkg/common/logger"
	"github.com/telecheck/platform/pkg/eligibility"
	"github.com/telecheck/platform/pkg/identity"
	"github.com/telecheck/platform/pkg/ingestion"
	"github.com/telecheck/platform/pkg/report"
	"github.com/telecheck/platform/pkg/session"
)

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}

	profileRepo := identity.NewRepository(db)
	if err := profileRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate profile tables")
	}
	reportRepo := report.NewRepository(db)
	if err := reportRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate report tables")
	}

	var provider *identity.ProviderClient
	if cfg.IdentityProviderURL != "" && cfg.IdentityTokenURL != "" {
		provider = identity.NewProviderClient(cfg.IdentityProviderURL, cfg.IdentityTokenURL, cfg.IdentityClientID, cfg.IdentityClientSecret)
	}
	resolver := identity.NewResolver(profileRepo, provider, cfg.ProfileLookupRetries, cfg.ProfileLookupDelay)

	producer := kafka.NewProducer(cfg.KafkaTopic)
	defer producer.Close()

	thresholds, err := analysis.LoadThresholds(cfg.RiskThresholdsPath)
	if err != nil {
		logger.Log.WithError(err).Warn("failed to load risk thresholds, using defaults")
	}

	sessions := session.NewManager(
		session.NewRedisStore(database.GetRedis()),
		cfg.SessionDuration,
		cfg.MetricStaleness,
		cfg.SelectionHistoryCap,
	)

	parser := ingestion.NewParser(cfg.DatasetRecordCap)
	client := eligibility.NewHTTPClient(cfg.EligibilityBaseURL, cfg.EligibilityTimeout)

	analysisHandler := analysis.NewHandler(parser, sessions, client, analysis.Options{
		ChunkSize:      cfg.EligibilityChunkSize,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		Deadline:       cfg.AnalysisDeadline,
		Thresholds:     thresholds,
	}, producer)

	reportService := report.NewService(reportRepo, resolver, producer)
	reportHandler := report.NewHandler(reportService)

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	analysisHandler.Register(api)
	reportHandler.Register(api)

	address := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithField("addr", address).Info("Analysis service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start analysis service")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down analysis service...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("Analysis service forced to shutdown")
	}
	if err := database.CloseRedis(); err != nil {
		logger.Log.WithError(err).Error("failed to close redis client")
	}
	if err := database.ClosePostgres(); err != nil {
		logger.Log.WithError(err).Error("failed to close postgres connection")
	}
	logger.Log.Info("Analysis service stopped")
}
