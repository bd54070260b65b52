// Package config loads node configuration from the environment, optionally
// layered over a YAML profile file (WEFT_CONFIG). Environment always wins.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds node configuration.
type Config struct {
	ServiceName string
	Port        string
	HealthPort  string
	LogLevel    string

	// Backends. Empty values mean "not wired"; components constructed
	// without use-memory then fail with the platform contract error.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	DatabaseURL   string
	SQLitePath    string
	MongoURI      string
	MongoDatabase string
	DocstoreKind  string // postgres | sqlite | mongo | memory

	// Artifact payload storage (fs | s3 | gcs | memory).
	ArtifactStorageType string
	ArtifactStoragePath string
	ArtifactBucket      string
	ArtifactPrefix      string
	ArtifactS3Region    string

	// State surface TTLs for the hot tier.
	ExecutionTTL time.Duration
	SessionTTL   time.Duration
	FileTTL      time.Duration

	// WAL.
	WALMaxLen       int64
	WALReplayWindow int // days

	// Data steward quotas.
	TenantRatePerSec float64
	TenantBurst      int

	// Observability.
	OTLPEndpoint   string
	TracingEnabled bool

	// UseMemory opts every missing backend into in-memory fallbacks.
	// Intended for tests and local demos only.
	UseMemory bool
}

// Load reads configuration from environment variables with defaults, merged
// over the optional YAML profile named by WEFT_CONFIG.
func Load() *Config {
	cfg := defaults()

	if path := os.Getenv("WEFT_CONFIG"); path != "" {
		// A broken profile falls back to pure env config; the node logs
		// the load error at startup rather than refusing to boot.
		if p, err := LoadProfile(path); err == nil {
			p.apply(cfg)
		}
	}

	applyEnv(cfg)
	return cfg
}

func defaults() *Config {
	return &Config{
		ServiceName:         "weft-core",
		Port:                "8080",
		HealthPort:          "8081",
		LogLevel:            "INFO",
		RedisDB:             0,
		DocstoreKind:        "postgres",
		ArtifactStorageType: "fs",
		ArtifactStoragePath: "/var/lib/weft/artifacts",
		ExecutionTTL:        1 * time.Hour,
		SessionTTL:          24 * time.Hour,
		FileTTL:             24 * time.Hour,
		WALMaxLen:           10000,
		WALReplayWindow:     30,
		TenantRatePerSec:    20,
		TenantBurst:         40,
	}
}

func applyEnv(cfg *Config) {
	setString(&cfg.ServiceName, "WEFT_SERVICE_NAME")
	setString(&cfg.Port, "PORT")
	setString(&cfg.HealthPort, "HEALTH_PORT")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")
	setInt(&cfg.RedisDB, "REDIS_DB")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.SQLitePath, "SQLITE_PATH")
	setString(&cfg.MongoURI, "MONGO_URI")
	setString(&cfg.MongoDatabase, "MONGO_DATABASE")
	setString(&cfg.DocstoreKind, "DOCSTORE_KIND")
	setString(&cfg.ArtifactStorageType, "ARTIFACT_STORAGE_TYPE")
	setString(&cfg.ArtifactStoragePath, "ARTIFACT_STORAGE_PATH")
	setString(&cfg.ArtifactBucket, "ARTIFACT_BUCKET")
	setString(&cfg.ArtifactPrefix, "ARTIFACT_PREFIX")
	setString(&cfg.ArtifactS3Region, "ARTIFACT_S3_REGION")
	setDuration(&cfg.ExecutionTTL, "EXECUTION_TTL")
	setDuration(&cfg.SessionTTL, "SESSION_TTL")
	setDuration(&cfg.FileTTL, "FILE_TTL")
	setInt64(&cfg.WALMaxLen, "WAL_MAX_LEN")
	setInt(&cfg.WALReplayWindow, "WAL_REPLAY_WINDOW_DAYS")
	setFloat(&cfg.TenantRatePerSec, "TENANT_RATE_PER_SEC")
	setInt(&cfg.TenantBurst, "TENANT_BURST")
	setString(&cfg.OTLPEndpoint, "OTLP_ENDPOINT")
	setBool(&cfg.TracingEnabled, "TRACING_ENABLED")
	setBool(&cfg.UseMemory, "USE_MEMORY")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
