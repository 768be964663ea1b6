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

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/pretriage/pkg/bootstrap"
	"github.com/synaptica-ai/pretriage/pkg/common/config"
	"github.com/synaptica-ai/pretriage/pkg/common/kafka"
	"github.com/synaptica-ai/pretriage/pkg/common/logger"
	"github.com/synaptica-ai/pretriage/pkg/observability/metrics"
	"github.com/synaptica-ai/pretriage/pkg/report"
)

func main() {
	logger.Init()
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := bootstrap.New(ctx, cfg, "report-worker")
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to initialise components")
	}
	defer components.Close()

	if err := components.Migrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate tables")
	}

	consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.SubmissionTopic, cfg.KafkaGroupID)
	defer consumer.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		err := consumer.Consume(ctx, report.SubmissionHandler(components.Generator))
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Log.WithError(err).Error("consumer stopped")
		}
	}()

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w)
	}).Methods(http.MethodGet)

	port := os.Getenv("WORKER_PORT")
	if port == "" {
		port = "8081"
	}
	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%s", cfg.ServerHost, port),
		Handler: router,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"topic": cfg.SubmissionTopic,
			"group": cfg.KafkaGroupID,
			"port":  port,
		}).Info("Report Worker started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Report Worker...")
	cancel()
	<-done

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	logger.Log.Info("Report Worker stopped")
}
