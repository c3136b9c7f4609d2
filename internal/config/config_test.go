package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestSetLogger(t *testing.T) {
	logger := zerolog.New(os.Stdout).Level(zerolog.InfoLevel)
	SetLogger(logger)

	// This test mainly ensures the function doesn't panic
}

func TestApplyDefaults(t *testing.T) {
	config := &Config{}
	applyDefaults(config)

	t.Run("Server defaults", func(t *testing.T) {
		if config.Server.Host != "0.0.0.0" {
			t.Errorf("Expected host '0.0.0.0', got %q", config.Server.Host)
		}
		if config.Server.Port != "12700" {
			t.Errorf("Expected port '12700', got %q", config.Server.Port)
		}
		if config.Server.ShutdownTimeout != 15*time.Second {
			t.Errorf("Expected shutdown timeout 15s, got %s", config.Server.ShutdownTimeout)
		}
	})

	t.Run("Attachment defaults", func(t *testing.T) {
		a := config.Attachments
		if a.TemporaryPrefix != "forum/tmp" {
			t.Errorf("Expected temporary prefix 'forum/tmp', got %q", a.TemporaryPrefix)
		}
		if a.PermanentPrefix != "forum/posts" {
			t.Errorf("Expected permanent prefix 'forum/posts', got %q", a.PermanentPrefix)
		}
		if a.DraftTTL != 24*time.Hour {
			t.Errorf("Expected draft TTL 24h, got %s", a.DraftTTL)
		}
		if a.SweepInterval != 10*time.Minute {
			t.Errorf("Expected sweep interval 10m, got %s", a.SweepInterval)
		}
		if a.SweepBatch != 100 {
			t.Errorf("Expected sweep batch 100, got %d", a.SweepBatch)
		}
		if a.MaxBytes != 10<<20 {
			t.Errorf("Expected max bytes %d, got %d", 10<<20, a.MaxBytes)
		}
		if len(a.Formats) != 4 || a.Formats[0] != "jpeg" || a.Formats[3] != "webp" {
			t.Errorf("Unexpected formats default: %v", a.Formats)
		}
		if len(a.LegacyPrefixes) != 1 || a.LegacyPrefixes[0] != "forum/images" {
			t.Errorf("Unexpected legacy prefixes default: %v", a.LegacyPrefixes)
		}
	})

	t.Run("Storage and auth defaults", func(t *testing.T) {
		if config.Storage.Backend != "local" {
			t.Errorf("Expected local backend, got %q", config.Storage.Backend)
		}
		if !config.Storage.UsePathStyle {
			t.Error("Expected path-style addressing by default")
		}
		if config.Storage.Hosts != nil {
			t.Errorf("Expected no extra hosts by default, got %v", config.Storage.Hosts)
		}
		if config.Auth.ActorHeader != "X-Actor-Id" {
			t.Errorf("Expected actor header 'X-Actor-Id', got %q", config.Auth.ActorHeader)
		}
		if !config.Metrics.Enabled {
			t.Error("Expected metrics to be enabled by default")
		}
	})

	t.Run("Existing slice values are kept", func(t *testing.T) {
		cfg := &Config{Attachments: AttachmentsConfig{Formats: []string{"png"}}}
		applyDefaults(cfg)
		if len(cfg.Attachments.Formats) != 1 || cfg.Attachments.Formats[0] != "png" {
			t.Errorf("Expected explicit formats to survive defaults, got %v", cfg.Attachments.Formats)
		}
	})
}

func TestPublicApplyDefaults(t *testing.T) {
	type nested struct {
		Timeout time.Duration `default:"90s"`
		Ratio   float64       `default:"0.5"`
		Count   int64         `default:"7"`
	}
	type outer struct {
		Name   string `default:"attachments"`
		Nested nested
	}

	cfg := &outer{}
	ApplyDefaults(cfg)

	if cfg.Name != "attachments" {
		t.Errorf("Expected name default, got %q", cfg.Name)
	}
	if cfg.Nested.Timeout != 90*time.Second {
		t.Errorf("Expected nested duration 90s, got %s", cfg.Nested.Timeout)
	}
	if cfg.Nested.Ratio != 0.5 {
		t.Errorf("Expected ratio 0.5, got %v", cfg.Nested.Ratio)
	}
	if cfg.Nested.Count != 7 {
		t.Errorf("Expected count 7, got %d", cfg.Nested.Count)
	}

	// Non-struct input must be ignored.
	var n int
	ApplyDefaults(&n)
}

func TestLoadConfig(t *testing.T) {
	SetLogger(zerolog.New(os.Stdout).Level(zerolog.ErrorLevel))

	t.Run("Load non-existent config file", func(t *testing.T) {
		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
		if err != nil {
			t.Fatalf("Expected no error for non-existent config file, got %v", err)
		}
		if cfg.Attachments.PermanentPrefix != "forum/posts" {
			t.Errorf("Expected default permanent prefix, got %q", cfg.Attachments.PermanentPrefix)
		}
	})

	t.Run("Load valid config file", func(t *testing.T) {
		configContent := `
server:
  port: "8080"
storage:
  backend: s3
  bucket: media
  public_base_url: https://cdn.example.com
  hosts:
    - media.s3.amazonaws.com
attachments:
  draft_ttl: 2h
  sweep_batch: 10
`
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte(configContent), 0o644); err != nil {
			t.Fatalf("Failed to write config content: %v", err)
		}

		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("Expected no error loading valid config, got %v", err)
		}

		if cfg.Server.Port != "8080" {
			t.Errorf("Expected port 8080, got %q", cfg.Server.Port)
		}
		if cfg.Storage.Backend != "s3" || cfg.Storage.Bucket != "media" {
			t.Errorf("Unexpected storage section: %+v", cfg.Storage)
		}
		if cfg.Attachments.DraftTTL != 2*time.Hour {
			t.Errorf("Expected TTL 2h, got %s", cfg.Attachments.DraftTTL)
		}
		if cfg.Attachments.SweepBatch != 10 {
			t.Errorf("Expected sweep batch 10, got %d", cfg.Attachments.SweepBatch)
		}
		// Untouched fields keep their defaults.
		if cfg.Attachments.TemporaryPrefix != "forum/tmp" {
			t.Errorf("Expected default temporary prefix, got %q", cfg.Attachments.TemporaryPrefix)
		}
		if len(cfg.Storage.Hosts) != 1 {
			t.Errorf("Expected one extra host, got %v", cfg.Storage.Hosts)
		}
	})

	t.Run("Invalid YAML", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "broken.yaml")
		if err := os.WriteFile(path, []byte("server: [unterminated"), 0o644); err != nil {
			t.Fatalf("Failed to write config content: %v", err)
		}
		if _, err := LoadConfig(path); err == nil {
			t.Error("Expected parse error for invalid YAML")
		}
	})

	t.Run("Environment overrides", func(t *testing.T) {
		t.Setenv(EnvS3SecretAccessKey, "from-env")
		t.Setenv(EnvDatabaseDSN, "postgres://localhost/forum")

		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
		if err != nil {
			t.Fatalf("LoadConfig returned error: %v", err)
		}
		if cfg.Storage.SecretAccessKey != "from-env" {
			t.Errorf("Expected secret from env, got %q", cfg.Storage.SecretAccessKey)
		}
		if cfg.Database.DSN != "postgres://localhost/forum" {
			t.Errorf("Expected DSN from env, got %q", cfg.Database.DSN)
		}
	})
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		ApplyDefaults(cfg)
		return cfg
	}

	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"empty temporary prefix", func(c *Config) { c.Attachments.TemporaryPrefix = "/" }, true},
		{"same prefixes", func(c *Config) { c.Attachments.PermanentPrefix = "forum/tmp" }, true},
		{"nested prefixes", func(c *Config) { c.Attachments.PermanentPrefix = "forum/tmp/keep" }, true},
		{"legacy overlaps temporary", func(c *Config) { c.Attachments.LegacyPrefixes = []string{"forum/tmp"} }, true},
		{"sibling prefixes", func(c *Config) { c.Attachments.PermanentPrefix = "forum/tmpfiles" }, false},
		{"zero ttl", func(c *Config) { c.Attachments.DraftTTL = 0 }, true},
		{"zero batch", func(c *Config) { c.Attachments.SweepBatch = 0 }, true},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, true},
		{"missing public url", func(c *Config) { c.Storage.PublicBaseURL = "" }, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
