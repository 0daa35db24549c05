// Package config loads configuration from an optional YAML file and
// environment variables. Environment variables win over the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	// TLS (optional, if both set the server uses HTTPS)
	TLSCertFile string `yaml:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Snapshot sink ("file", "postgres" or "bolt")
	SnapshotBackend string `yaml:"snapshot_backend"`
	SnapshotPath    string `yaml:"snapshot_path"`
	DatabaseURL     string `yaml:"database_url"`
	BoltPath        string `yaml:"bolt_path"`

	// Content storage ("local" or "s3")
	StorageBackend   string `yaml:"storage_backend"`
	LocalStoragePath string `yaml:"local_storage_path"`
	S3Endpoint       string `yaml:"s3_endpoint"`
	S3Bucket         string `yaml:"s3_bucket"`
	S3AccessKey      string `yaml:"s3_access_key"`
	S3SecretKey      string `yaml:"s3_secret_key"`
	S3Region         string `yaml:"s3_region"`
	S3UseSSL         bool   `yaml:"s3_use_ssl"`

	// Content read cache (0 entries disables it)
	ContentCacheEntries   int           `yaml:"content_cache_entries"`
	ContentCacheTTL       time.Duration `yaml:"content_cache_ttl"`
	ContentCacheMaxObject int64         `yaml:"content_cache_max_object"`

	// Access control
	AllowedClients []string `yaml:"allowed_clients"`
	TokenSecret    string   `yaml:"token_secret"`

	// Limits
	MaxUploadSize          int64 `yaml:"max_upload_size"`
	WriteRequestsPerMinute int   `yaml:"write_requests_per_minute"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddr:            ":8080",
		MetricsAddr:           ":9090",
		LogLevel:              "info",
		LogFormat:             "json",
		SnapshotBackend:       "file",
		SnapshotPath:          "data/index.json",
		BoltPath:              "data/index.db",
		StorageBackend:        "local",
		LocalStoragePath:      "data/content",
		S3Endpoint:            "http://localhost:9000",
		S3Bucket:              "aftp",
		S3AccessKey:           "minioadmin",
		S3SecretKey:           "minioadmin",
		S3Region:              "us-east-1",
		ContentCacheEntries:   256,
		ContentCacheTTL:       5 * time.Minute,
		ContentCacheMaxObject: 1 << 20,
		MaxUploadSize:         100 * 1024 * 1024, // 100MB
	}
}

// Load reads CONFIG_FILE (if set) and then environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.ListenAddr = envOr("LISTEN_ADDR", c.ListenAddr)
	c.MetricsAddr = envOr("METRICS_ADDR", c.MetricsAddr)
	c.TLSCertFile = envOr("TLS_CERT_FILE", c.TLSCertFile)
	c.TLSKeyFile = envOr("TLS_KEY_FILE", c.TLSKeyFile)
	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOr("LOG_FORMAT", c.LogFormat)

	c.SnapshotBackend = envOr("SNAPSHOT_BACKEND", c.SnapshotBackend)
	c.SnapshotPath = envOr("SNAPSHOT_PATH", c.SnapshotPath)
	c.DatabaseURL = envOr("DATABASE_URL", c.DatabaseURL)
	c.BoltPath = envOr("BOLT_PATH", c.BoltPath)

	c.StorageBackend = envOr("STORAGE_BACKEND", c.StorageBackend)
	c.LocalStoragePath = envOr("LOCAL_STORAGE_PATH", c.LocalStoragePath)
	c.S3Endpoint = envOr("S3_ENDPOINT", c.S3Endpoint)
	c.S3Bucket = envOr("S3_BUCKET", c.S3Bucket)
	c.S3AccessKey = envOr("S3_ACCESS_KEY", c.S3AccessKey)
	c.S3SecretKey = envOr("S3_SECRET_KEY", c.S3SecretKey)
	c.S3Region = envOr("S3_REGION", c.S3Region)
	c.S3UseSSL = envBool("S3_USE_SSL", c.S3UseSSL)

	c.ContentCacheEntries = envInt("CONTENT_CACHE_ENTRIES", c.ContentCacheEntries)
	c.ContentCacheTTL = envDuration("CONTENT_CACHE_TTL", c.ContentCacheTTL)
	c.ContentCacheMaxObject = envInt64("CONTENT_CACHE_MAX_OBJECT", c.ContentCacheMaxObject)

	c.AllowedClients = envList("ALLOWED_CLIENTS", c.AllowedClients)
	c.TokenSecret = envOr("TOKEN_SECRET", c.TokenSecret)

	c.MaxUploadSize = envInt64("MAX_UPLOAD_SIZE", c.MaxUploadSize)
	c.WriteRequestsPerMinute = envInt("WRITE_REQUESTS_PER_MINUTE", c.WriteRequestsPerMinute)
}

// Validate checks backend names and the settings each backend needs.
func (c *Config) Validate() error {
	switch c.SnapshotBackend {
	case "file":
		if c.SnapshotPath == "" {
			return fmt.Errorf("SNAPSHOT_PATH is required for the file snapshot backend")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres snapshot backend")
		}
	case "bolt":
		if c.BoltPath == "" {
			return fmt.Errorf("BOLT_PATH is required for the bolt snapshot backend")
		}
	default:
		return fmt.Errorf("unknown SNAPSHOT_BACKEND %q", c.SnapshotBackend)
	}

	switch c.StorageBackend {
	case "local":
		if c.LocalStoragePath == "" {
			return fmt.Errorf("LOCAL_STORAGE_PATH is required for the local storage backend")
		}
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for the s3 storage backend")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}

	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be positive")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// envList splits a comma-separated variable, dropping blanks.
func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
