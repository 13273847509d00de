// Package config loads process configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the environment-derived settings for the ingest core.
type Config struct {
	TenantID        string
	DefaultProject  string
	MaxPayloadBytes int64

	OpenAIAPIKey    string
	AnthropicAPIKey string
	EmbeddingProvider string
	EmbeddingModel    string
	EmbedDim          int

	InsightProvider string
	InsightModel    string
	InsightSkillDir string

	KVAddr     string
	VectorAddr string
	SignalAddr string
	KGAddr     string

	LogstoreRetentionDays int

	ClusterSimThreshold   float64
	ClusterGraphThreshold float64
	ClusterMaxSize        int

	StagingSizeThresholdBytes int64

	MinioEndpoint    string
	MinioAccessKey   string
	MinioSecretKey   string
	MinioBucket      string
	MinioStagePrefix string
	MinioUseSSL      bool

	RegistryDatabaseURL string

	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	OperationGRPCAddr string
	LogLevel          string
}

// Load reads configuration from the environment, applying the defaults
// documented by the wire-interface specification.
func Load() *Config {
	return &Config{
		TenantID:        getEnv("TENANT_ID", "dev"),
		DefaultProject:  getEnv("METADATA_DEFAULT_PROJECT", "global"),
		MaxPayloadBytes: getEnvInt64("UCL_MAX_PAYLOAD_BYTES", 500_000),

		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey:   getEnv("ANTHROPIC_API_KEY", ""),
		EmbeddingProvider: getEnv("EMBEDDING_PROVIDER", ""),
		EmbeddingModel:    getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbedDim:          getEnvInt("EMBED_DIM", 1536),

		InsightProvider: getEnv("INSIGHT_PROVIDER", ""),
		InsightModel:    getEnv("INSIGHT_MODEL", ""),
		InsightSkillDir: getEnv("INSIGHT_SKILL_DIR", ""),

		KVAddr:     getEnv("KV_GRPC_ADDR", "localhost:9099"),
		VectorAddr: getEnv("VECTOR_GRPC_ADDR", "localhost:9099"),
		SignalAddr: getEnv("SIGNAL_GRPC_ADDR", "localhost:9099"),
		KGAddr:     getEnv("KG_GRPC_ADDR", "localhost:9099"),

		LogstoreRetentionDays: getEnvInt("LOGSTORE_RETENTION_DAYS", 30),

		ClusterSimThreshold:   getEnvFloat("CLUSTER_SIM_THRESHOLD", 0.35),
		ClusterGraphThreshold: getEnvFloat("CLUSTER_GRAPH_THRESHOLD", 0.45),
		ClusterMaxSize:        getEnvInt("CLUSTER_MAX_SIZE", 5),

		StagingSizeThresholdBytes: getEnvInt64("UCL_STAGING_SIZE_THRESHOLD_BYTES", 2*1024*1024),

		MinioEndpoint:    getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey:   getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:   getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:      getEnv("MINIO_BUCKET", "ucl-staging"),
		MinioStagePrefix: getEnv("MINIO_STAGE_PREFIX", "staging"),
		MinioUseSSL:      getEnvBool("MINIO_USE_SSL", false),

		RegistryDatabaseURL: getEnv("REGISTRY_DATABASE_URL", ""),

		TemporalHost:      getEnv("UCL_TEMPORAL_HOST", "localhost:7233"),
		TemporalNamespace: getEnv("UCL_TEMPORAL_NAMESPACE", "ucl-dev"),
		TemporalTaskQueue: getEnv("UCL_TEMPORAL_TASK_QUEUE", "ucl-workers"),

		OperationGRPCAddr: getEnv("UCL_OPERATION_GRPC_ADDR", "0.0.0.0:50061"),
		LogLevel:          getEnv("UCL_LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
