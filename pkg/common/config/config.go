package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64
	RateLimitRPS   int
	RateLimitBurst int

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost      string
	RedisPort      string
	RedisPassword  string
	RedisDB        int
	ReportCacheTTL time.Duration

	// Kafka
	KafkaBrokers           []string
	KafkaGroupID           string
	TimelineTopic          string
	SubmissionTopic        string
	PublishTimelineToKafka bool

	// LLM
	LLMAPIKey      string
	LLMBaseURL     string
	LLMChatModel   string
	LLMReportModel string
	LLMVisionModel string
	LLMTimeout     time.Duration
	LLMMaxRetries  int
	LLMTemperature float64

	// Object storage
	GCSCredentialsFile string
	GCSPublicBaseURL   string

	// Document extraction
	ExtractDownloadTimeout time.Duration
	ExtractParseTimeout    time.Duration
	ExtractPageTimeout     time.Duration
	ExtractMaxBytes        int64

	// Report retrieval
	RetrievalMaxRetries int
	RetrievalBaseDelay  time.Duration
	RetrievalMaxDelay   time.Duration

	// Policy files
	PromptPolicyPath string
	DLPRulesPath     string
}

func Load() *Config {
	// A missing .env file is the normal case in containers.
	_ = godotenv.Load(getEnv("DOTENV_PATH", ".env"))

	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 120*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 4*1024*1024)),
		RateLimitRPS:   getIntEnv("RATE_LIMIT_RPS", 50),
		RateLimitBurst: getIntEnv("RATE_LIMIT_BURST", 100),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "pretriage"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "pretriage"),
		PostgresDB:       getEnv("POSTGRES_DB", "pretriage"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:      getEnv("REDIS_HOST", "localhost"),
		RedisPort:      getEnv("REDIS_PORT", "6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getIntEnv("REDIS_DB", 0),
		ReportCacheTTL: getDuration("REPORT_CACHE_TTL", 10*time.Minute),

		KafkaBrokers:           getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:           getEnv("KAFKA_GROUP_ID", "pretriage-report-worker"),
		TimelineTopic:          getEnv("KAFKA_TIMELINE_TOPIC", "triage.timeline"),
		SubmissionTopic:        getEnv("KAFKA_SUBMISSION_TOPIC", "triage.preanalysis.submitted"),
		PublishTimelineToKafka: getBoolEnv("KAFKA_PUBLISH_TIMELINE", true),

		LLMAPIKey:      getEnv("LLM_API_KEY", ""),
		LLMBaseURL:     getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMChatModel:   getEnv("LLM_CHAT_MODEL", "gpt-4o-mini"),
		LLMReportModel: getEnv("LLM_REPORT_MODEL", "gpt-4o"),
		LLMVisionModel: getEnv("LLM_VISION_MODEL", "gpt-4o"),
		LLMTimeout:     getDuration("LLM_TIMEOUT", 90*time.Second),
		LLMMaxRetries:  getIntEnv("LLM_MAX_RETRIES", 2),
		LLMTemperature: getFloatEnv("LLM_TEMPERATURE", 0.2),

		GCSCredentialsFile: getEnv("GCS_CREDENTIALS_FILE", ""),
		GCSPublicBaseURL:   getEnv("GCS_PUBLIC_BASE_URL", "https://storage.googleapis.com"),

		ExtractDownloadTimeout: getDuration("EXTRACT_DOWNLOAD_TIMEOUT", 30*time.Second),
		ExtractParseTimeout:    getDuration("EXTRACT_PARSE_TIMEOUT", 20*time.Second),
		ExtractPageTimeout:     getDuration("EXTRACT_PAGE_TIMEOUT", 5*time.Second),
		ExtractMaxBytes:        int64(getIntEnv("EXTRACT_MAX_BYTES", 25*1024*1024)),

		RetrievalMaxRetries: getIntEnv("REPORT_RETRIEVAL_MAX_RETRIES", 5),
		RetrievalBaseDelay:  getDuration("REPORT_RETRIEVAL_BASE_DELAY", 500*time.Millisecond),
		RetrievalMaxDelay:   getDuration("REPORT_RETRIEVAL_MAX_DELAY", 8*time.Second),

		PromptPolicyPath: getEnv("PROMPT_POLICY_PATH", ""),
		DLPRulesPath:     getEnv("DLP_RULES_PATH", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
