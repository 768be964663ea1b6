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
	"github.com/synaptica-ai/pretriage/pkg/bootstrap"
	"github.com/synaptica-ai/pretriage/pkg/common/config"
	"github.com/synaptica-ai/pretriage/pkg/common/logger"
	"github.com/synaptica-ai/pretriage/pkg/httpapi"
	"github.com/synaptica-ai/pretriage/pkg/observability/metrics"
	"github.com/synaptica-ai/pretriage/pkg/preanalysis"
	"github.com/synaptica-ai/pretriage/pkg/precisionchat"
	"github.com/synaptica-ai/pretriage/pkg/report"
	"github.com/synaptica-ai/pretriage/pkg/timeline"
)

func main() {
	logger.Init()
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := bootstrap.New(ctx, cfg, "triage-service")
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to initialise components")
	}
	defer components.Close()

	if err := components.Migrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate tables")
	}

	router := mux.NewRouter()
	router.Use(httpapi.Logging)
	router.Use(httpapi.Recovery)
	router.Use(httpapi.CORS)
	router.Use(httpapi.BodyLimit(cfg.MaxRequestBody))
	router.Use(httpapi.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		sqlDB, err := components.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(r.Context())
		}
		if err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"not ready"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w)
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	preanalysis.NewHandler(components.Sessions).Register(api)
	precisionchat.NewHandler(precisionchat.NewOrchestrator(components.Sessions, components.Turns, components.Model)).Register(api)
	report.NewHandler(components.Retriever, components.Generator, report.RetrievalPolicy{
		MaxRetries: cfg.RetrievalMaxRetries,
		BaseDelay:  cfg.RetrievalBaseDelay,
	}).Register(api)
	timeline.NewHandler(components.Timeline).Register(api)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Triage Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Triage Service...")
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	logger.Log.Info("Triage Service stopped")
}
