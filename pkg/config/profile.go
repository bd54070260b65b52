package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile is the YAML representation of node configuration. Zero values are
// "unset" and leave the corresponding Config field alone; the environment is
// applied after the profile and overrides it.
type Profile struct {
	ServiceName string `yaml:"service_name"`
	Port        string `yaml:"port"`
	HealthPort  string `yaml:"health_port"`
	LogLevel    string `yaml:"log_level"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Docstore struct {
		Kind        string `yaml:"kind"`
		DatabaseURL string `yaml:"database_url"`
		SQLitePath  string `yaml:"sqlite_path"`
		MongoURI    string `yaml:"mongo_uri"`
		MongoDB     string `yaml:"mongo_database"`
	} `yaml:"docstore"`

	Artifacts struct {
		StorageType string `yaml:"storage_type"`
		StoragePath string `yaml:"storage_path"`
		Bucket      string `yaml:"bucket"`
		Prefix      string `yaml:"prefix"`
	} `yaml:"artifacts"`

	TTL struct {
		Execution string `yaml:"execution"`
		Session   string `yaml:"session"`
		File      string `yaml:"file"`
	} `yaml:"ttl"`

	WAL struct {
		MaxLen           int64 `yaml:"max_len"`
		ReplayWindowDays int   `yaml:"replay_window_days"`
	} `yaml:"wal"`

	Quota struct {
		TenantRatePerSec float64 `yaml:"tenant_rate_per_sec"`
		TenantBurst      int     `yaml:"tenant_burst"`
	} `yaml:"quota"`

	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	TracingEnabled *bool  `yaml:"tracing_enabled"`
	UseMemory      *bool  `yaml:"use_memory"`
}

// LoadProfile parses the YAML profile at path.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", path, err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", path, err)
	}
	return &p, nil
}

func (p *Profile) apply(cfg *Config) {
	overlay(&cfg.ServiceName, p.ServiceName)
	overlay(&cfg.Port, p.Port)
	overlay(&cfg.HealthPort, p.HealthPort)
	overlay(&cfg.LogLevel, p.LogLevel)
	overlay(&cfg.RedisAddr, p.Redis.Addr)
	overlay(&cfg.RedisPassword, p.Redis.Password)
	if p.Redis.DB != 0 {
		cfg.RedisDB = p.Redis.DB
	}
	overlay(&cfg.DocstoreKind, p.Docstore.Kind)
	overlay(&cfg.DatabaseURL, p.Docstore.DatabaseURL)
	overlay(&cfg.SQLitePath, p.Docstore.SQLitePath)
	overlay(&cfg.MongoURI, p.Docstore.MongoURI)
	overlay(&cfg.MongoDatabase, p.Docstore.MongoDB)
	overlay(&cfg.ArtifactStorageType, p.Artifacts.StorageType)
	overlay(&cfg.ArtifactStoragePath, p.Artifacts.StoragePath)
	overlay(&cfg.ArtifactBucket, p.Artifacts.Bucket)
	overlay(&cfg.ArtifactPrefix, p.Artifacts.Prefix)
	overlayDuration(&cfg.ExecutionTTL, p.TTL.Execution)
	overlayDuration(&cfg.SessionTTL, p.TTL.Session)
	overlayDuration(&cfg.FileTTL, p.TTL.File)
	if p.WAL.MaxLen != 0 {
		cfg.WALMaxLen = p.WAL.MaxLen
	}
	if p.WAL.ReplayWindowDays != 0 {
		cfg.WALReplayWindow = p.WAL.ReplayWindowDays
	}
	if p.Quota.TenantRatePerSec != 0 {
		cfg.TenantRatePerSec = p.Quota.TenantRatePerSec
	}
	if p.Quota.TenantBurst != 0 {
		cfg.TenantBurst = p.Quota.TenantBurst
	}
	overlay(&cfg.OTLPEndpoint, p.OTLPEndpoint)
	if p.TracingEnabled != nil {
		cfg.TracingEnabled = *p.TracingEnabled
	}
	if p.UseMemory != nil {
		cfg.UseMemory = *p.UseMemory
	}
}

func overlay(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func overlayDuration(dst *time.Duration, v string) {
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}
