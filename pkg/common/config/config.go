package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	ServerPort   string
	ServerHost   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers []string
	KafkaTopic   string

	// Remote eligibility service
	EligibilityBaseURL   string
	EligibilityTimeout   time.Duration
	EligibilityChunkSize int
	RetryAttempts        int
	RetryBaseDelay       time.Duration
	AnalysisDeadline     time.Duration

	// Session cache
	SessionDuration     time.Duration
	MetricStaleness     time.Duration
	SelectionHistoryCap int
	DatasetRecordCap    int

	// Compliance risk thresholds
	RiskThresholdsPath string

	// Identity provider
	IdentityProviderURL  string
	IdentityTokenURL     string
	IdentityClientID     string
	IdentityClientSecret string
	ProfileLookupRetries int
	ProfileLookupDelay   time.Duration
}

func Load() *Config {
	return &Config{
		ServerPort:   getEnv("SERVER_PORT", "8080"),
		ServerHost:   getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:  getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout: getDuration("WRITE_TIMEOUT", 60*time.Second),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "telecheck"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "telecheck123"),
		PostgresDB:       getEnv("POSTGRES_DB", "telecheck"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers: getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "telecheck.analysis"),

		EligibilityBaseURL:   getEnv("ELIGIBILITY_BASE_URL", "http://localhost:8090"),
		EligibilityTimeout:   getDuration("ELIGIBILITY_TIMEOUT", 30*time.Second),
		EligibilityChunkSize: getIntEnv("ELIGIBILITY_CHUNK_SIZE", 1000),
		RetryAttempts:        getIntEnv("RETRY_ATTEMPTS", 3),
		RetryBaseDelay:       getDuration("RETRY_BASE_DELAY", 2*time.Second),
		AnalysisDeadline:     getDuration("ANALYSIS_DEADLINE", 2*time.Minute),

		SessionDuration:     getDuration("SESSION_DURATION", 30*time.Minute),
		MetricStaleness:     getDuration("METRIC_STALENESS", 10*time.Minute),
		SelectionHistoryCap: getIntEnv("SELECTION_HISTORY_CAP", 20),
		DatasetRecordCap:    getIntEnv("DATASET_RECORD_CAP", 50000),

		RiskThresholdsPath: getEnv("RISK_THRESHOLDS_PATH", ""),

		IdentityProviderURL:  getEnv("IDENTITY_PROVIDER_URL", ""),
		IdentityTokenURL:     getEnv("IDENTITY_TOKEN_URL", ""),
		IdentityClientID:     getEnv("IDENTITY_CLIENT_ID", ""),
		IdentityClientSecret: getEnv("IDENTITY_CLIENT_SECRET", ""),
		ProfileLookupRetries: getIntEnv("PROFILE_LOOKUP_RETRIES", 3),
		ProfileLookupDelay:   getDuration("PROFILE_LOOKUP_DELAY", 2*time.Second),
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

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
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
