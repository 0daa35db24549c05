package config

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8080" || cfg.SnapshotBackend != "file" || cfg.StorageBackend != "local" {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if len(cfg.AllowedClients) != 0 {
		t.Errorf("AllowedClients = %q, want none", cfg.AllowedClients)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aftp.yaml")
	doc := `
listen_addr: ":7000"
snapshot_backend: bolt
bolt_path: /var/lib/aftp/index.db
allowed_clients: [alice, bob]
content_cache_ttl: 30s
write_requests_per_minute: 10
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("LISTEN_ADDR", ":7001")
	t.Setenv("ALLOWED_CLIENTS", " carol , ,dave")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":7001" {
		t.Errorf("ListenAddr = %q, env should win", cfg.ListenAddr)
	}
	if cfg.SnapshotBackend != "bolt" || cfg.BoltPath != "/var/lib/aftp/index.db" {
		t.Errorf("snapshot settings = %q %q", cfg.SnapshotBackend, cfg.BoltPath)
	}
	if !slices.Equal(cfg.AllowedClients, []string{"carol", "dave"}) {
		t.Errorf("AllowedClients = %q", cfg.AllowedClients)
	}
	if cfg.ContentCacheTTL != 30*time.Second {
		t.Errorf("ContentCacheTTL = %v", cfg.ContentCacheTTL)
	}
	if cfg.WriteRequestsPerMinute != 10 {
		t.Errorf("WriteRequestsPerMinute = %d", cfg.WriteRequestsPerMinute)
	}
}

func TestLoadBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("listen_addr: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	if _, err := Load(); err == nil {
		t.Error("expected parse error")
	}

	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Error("expected read error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"unknown snapshot backend", func(c *Config) { c.SnapshotBackend = "etcd" }, false},
		{"postgres without url", func(c *Config) { c.SnapshotBackend = "postgres" }, false},
		{"postgres with url", func(c *Config) {
			c.SnapshotBackend = "postgres"
			c.DatabaseURL = "postgres://localhost/aftp"
		}, true},
		{"unknown storage backend", func(c *Config) { c.StorageBackend = "smb" }, false},
		{"s3 without bucket", func(c *Config) {
			c.StorageBackend = "s3"
			c.S3Bucket = ""
		}, false},
		{"zero upload size", func(c *Config) { c.MaxUploadSize = 0 }, false},
	}
	for _, tt := range tests {
		cfg := Default()
		tt.mutate(cfg)
		err := cfg.Validate()
		if (err == nil) != tt.ok {
			t.Errorf("%s: Validate() = %v, want ok=%v", tt.name, err, tt.ok)
		}
	}
}

func TestEnvHelpersFallBack(t *testing.T) {
	t.Setenv("AFTP_TEST_INT", "nope")
	t.Setenv("AFTP_TEST_BOOL", "maybe")
	t.Setenv("AFTP_TEST_DUR", "soon")
	if got := envInt("AFTP_TEST_INT", 3); got != 3 {
		t.Errorf("envInt = %d, want fallback 3", got)
	}
	if got := envBool("AFTP_TEST_BOOL", true); !got {
		t.Error("envBool should fall back to true")
	}
	if got := envDuration("AFTP_TEST_DUR", time.Second); got != time.Second {
		t.Errorf("envDuration = %v, want 1s", got)
	}
}
