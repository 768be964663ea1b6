// Package bootstrap builds the process-scoped components shared by the
// triage service and the report worker. Every client is created once here
// and handed to constructors; nothing below looks up a global handle.
package bootstrap

import (
	"context"
	"time"

	"cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"github.com/synaptica-ai/pretriage/pkg/common/config"
	"github.com/synaptica-ai/pretriage/pkg/common/database"
	"github.com/synaptica-ai/pretriage/pkg/common/httpclient"
	"github.com/synaptica-ai/pretriage/pkg/common/kafka"
	"github.com/synaptica-ai/pretriage/pkg/common/logger"
	"github.com/synaptica-ai/pretriage/pkg/conversation"
	"github.com/synaptica-ai/pretriage/pkg/dlp"
	"github.com/synaptica-ai/pretriage/pkg/extraction"
	"github.com/synaptica-ai/pretriage/pkg/llm"
	"github.com/synaptica-ai/pretriage/pkg/preanalysis"
	"github.com/synaptica-ai/pretriage/pkg/report"
	"github.com/synaptica-ai/pretriage/pkg/timeline"
	"gorm.io/gorm"
)

type Components struct {
	DB    *gorm.DB
	Redis *redis.Client

	Sessions  *preanalysis.Service
	Repo      *preanalysis.Repository
	Turns     *conversation.Store
	Reports   *report.GormStore
	Timeline  *timeline.Recorder
	Model     llm.Model
	Generator *report.Generator
	Retriever *report.Retriever

	closers []func() error
}

// New connects to every backing service and assembles the pipeline.
// Redis and object storage are optional: without them the cache is empty
// and documents are fetched by URL only.
func New(ctx context.Context, cfg *config.Config, source string) (*Components, error) {
	db, err := database.NewPostgres(cfg)
	if err != nil {
		return nil, err
	}
	c := &Components{DB: db}
	c.closers = append(c.closers, func() error { return database.ClosePostgres(db) })

	c.Redis = database.NewRedis(cfg)
	c.closers = append(c.closers, func() error { return database.CloseRedis(c.Redis) })

	detector, err := newDetector(cfg.DLPRulesPath)
	if err != nil {
		c.Close()
		return nil, err
	}

	submissions := kafka.NewProducer(cfg.KafkaBrokers, cfg.SubmissionTopic)
	c.closers = append(c.closers, submissions.Close)
	var timelinePublisher kafka.Publisher
	if cfg.PublishTimelineToKafka {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.TimelineTopic)
		c.closers = append(c.closers, producer.Close)
		timelinePublisher = producer
	}

	c.Repo = preanalysis.NewRepository(db)
	c.Sessions = preanalysis.NewService(c.Repo, preanalysis.NewValidator(10, 10, 20000), submissions)
	c.Turns = conversation.NewStore(db)
	c.Reports = report.NewGormStore(db)
	c.Timeline = timeline.NewRecorder(db, timelinePublisher, detector)

	c.Model = llm.NewOpenAIModel(llm.Config{
		APIKey:      cfg.LLMAPIKey,
		BaseURL:     cfg.LLMBaseURL,
		ChatModel:   cfg.LLMChatModel,
		ReportModel: cfg.LLMReportModel,
		VisionModel: cfg.LLMVisionModel,
		Timeout:     cfg.LLMTimeout,
		MaxRetries:  cfg.LLMMaxRetries,
		Temperature: float32(cfg.LLMTemperature),
		Redact:      detector.RedactOutbound,
	})

	gcs := newStorageClient(ctx, cfg.GCSCredentialsFile)
	if gcs != nil {
		c.closers = append(c.closers, gcs.Close)
	}
	downloader := extraction.NewDownloader(gcs, httpclient.New(cfg.ExtractDownloadTimeout), cfg.ExtractMaxBytes).
		WithPublicBaseURL(cfg.GCSPublicBaseURL)
	extractor := extraction.NewExtractor(downloader, extraction.Timeouts{
		Download: cfg.ExtractDownloadTimeout,
		Parse:    cfg.ExtractParseTimeout,
		Page:     cfg.ExtractPageTimeout,
	})

	policy, err := report.LoadPolicy(cfg.PromptPolicyPath)
	if err != nil {
		logger.Log.WithError(err).Warn("prompt policy unreadable, using the embedded default")
	}

	cache := report.NewRedisCache(c.Redis, cfg.ReportCacheTTL)
	c.Generator = report.NewGenerator(report.Deps{
		Sessions:          c.Repo,
		Turns:             c.Turns,
		Documents:         extractor,
		Model:             c.Model,
		Persister:         report.NewPersister(c.Reports),
		Timeline:          c.Timeline,
		Cache:             cache,
		Policy:            policy,
		SideEffectTimeout: 10 * time.Second,
	})
	c.Retriever = report.NewRetriever(c.Reports, cache, c.Repo, c.Generator, cfg.RetrievalMaxDelay)

	logger.Log.WithField("source", source).Info("pipeline components ready")
	return c, nil
}

// Migrate creates or updates every table owned by the pipeline.
func (c *Components) Migrate() error {
	migrations := []func() error{
		c.Repo.AutoMigrate,
		c.Turns.AutoMigrate,
		c.Reports.AutoMigrate,
		c.Timeline.AutoMigrate,
	}
	for _, migrate := range migrations {
		if err := migrate(); err != nil {
			return err
		}
	}
	return nil
}

// Close waits for detached side effects, then releases clients in reverse order.
func (c *Components) Close() {
	if c.Generator != nil {
		c.Generator.Wait()
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			logger.Log.WithError(err).Warn("failed to close client")
		}
	}
}

func newDetector(rulesPath string) (*dlp.Detector, error) {
	rules, err := dlp.LoadRules(rulesPath)
	if err != nil {
		logger.Log.WithError(err).Warn("DLP rules unreadable, using built-in rules")
		rules = dlp.DefaultRules()
	}
	return dlp.NewDetector(rules)
}

func newStorageClient(ctx context.Context, credentialsFile string) *storage.Client {
	client, err := extraction.NewStorageClient(ctx, credentialsFile)
	if err != nil {
		logger.Log.WithError(err).Warn("object storage client unavailable, documents will be fetched by URL")
		return nil
	}
	return client
}
