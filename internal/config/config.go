package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

var configLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	configLogger = l
}

// Config represents the complete configuration structure
type Config struct {
	Version     string            `yaml:"version" default:"1"`
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Database    DatabaseConfig    `yaml:"database"`
	Storage     StorageConfig     `yaml:"storage"`
	Attachments AttachmentsConfig `yaml:"attachments"`
	Auth        AuthConfig        `yaml:"auth"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            string        `yaml:"port" default:"12700"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes" default:"12582912"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" default:"info"`
	Format string `yaml:"format" default:"console"`
}

type DatabaseConfig struct {
	Driver              string `yaml:"driver" default:"sqlite"`
	DSN                 string `yaml:"dsn" default:"./attachments.db"`
	RevisionCompression string `yaml:"revision_compression" default:"zstd"`
}

type StorageConfig struct {
	Backend         string   `yaml:"backend" default:"local"`
	Bucket          string   `yaml:"bucket" default:"forum-media"`
	Region          string   `yaml:"region" default:"auto"`
	Endpoint        string   `yaml:"endpoint" default:""`
	UsePathStyle    bool     `yaml:"use_path_style" default:"true"`
	AccessKeyID     string   `yaml:"access_key_id" default:""`
	SecretAccessKey string   `yaml:"secret_access_key" default:""`
	CredentialsFile string   `yaml:"credentials_file" default:""`
	LocalRoot       string   `yaml:"local_root" default:"./data/objects"`
	PublicBaseURL   string   `yaml:"public_base_url" default:"http://localhost:12700/media"`
	Hosts           []string `yaml:"hosts"`
}

type AttachmentsConfig struct {
	TemporaryPrefix    string        `yaml:"temporary_prefix" default:"forum/tmp"`
	PermanentPrefix    string        `yaml:"permanent_prefix" default:"forum/posts"`
	LegacyPrefixes     []string      `yaml:"legacy_prefixes" default:"forum/images"`
	DraftTTL           time.Duration `yaml:"draft_ttl" default:"24h"`
	SweepInterval      time.Duration `yaml:"sweep_interval" default:"10m"`
	SweepBatch         int           `yaml:"sweep_batch" default:"100"`
	MaxBytes           int64         `yaml:"max_bytes" default:"10485760"`
	MaxWidth           int           `yaml:"max_width" default:"8000"`
	MaxHeight          int           `yaml:"max_height" default:"8000"`
	Formats            []string      `yaml:"formats" default:"jpeg,png,gif,webp"`
	PromoteConcurrency int           `yaml:"promote_concurrency" default:"4"`
	TargetSearchWindow time.Duration `yaml:"target_search_window" default:"1h"`
	TargetSearchLimit  int           `yaml:"target_search_limit" default:"20"`
	ReferenceScopes    []string      `yaml:"reference_scopes" default:"posts"`
}

type AuthConfig struct {
	ActorHeader     string `yaml:"actor_header" default:"X-Actor-Id"`
	CanAttachHeader string `yaml:"can_attach_header" default:"X-Actor-Can-Attach"`
	SignatureHeader string `yaml:"signature_header" default:"X-Actor-Signature"`
	// PEM encoded ed25519 public key of the gateway. Empty trusts the headers as-is.
	GatewayPublicKey string `yaml:"gateway_public_key" default:""`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"/metrics"`
}

// Environment variables that override file values. Secrets should only ever
// come from here.
const (
	EnvConfigPath        = "ATTACH_CONFIG"
	EnvDatabaseDSN       = "ATTACH_DATABASE_DSN"
	EnvS3AccessKeyID     = "ATTACH_S3_ACCESS_KEY_ID"
	EnvS3SecretAccessKey = "ATTACH_S3_SECRET_ACCESS_KEY"
	EnvGCSCredentials    = "ATTACH_GCS_CREDENTIALS_FILE"
	EnvGatewayPublicKey  = "ATTACH_GATEWAY_PUBKEY"
	EnvLogLevel          = "ATTACH_LOG_LEVEL"
)

// LoadConfig reads the YAML file at path on top of the defaults, then applies
// environment overrides. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	config := &Config{}
	applyDefaults(config)

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		configLogger.Info().Str("path", path).Msg("Config file not found, using defaults")
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func applyEnv(config *Config) {
	overrides := []struct {
		env    string
		target *string
	}{
		{EnvDatabaseDSN, &config.Database.DSN},
		{EnvS3AccessKeyID, &config.Storage.AccessKeyID},
		{EnvS3SecretAccessKey, &config.Storage.SecretAccessKey},
		{EnvGCSCredentials, &config.Storage.CredentialsFile},
		{EnvGatewayPublicKey, &config.Auth.GatewayPublicKey},
		{EnvLogLevel, &config.Logging.Level},
	}
	for _, o := range overrides {
		if v, ok := os.LookupEnv(o.env); ok && v != "" {
			*o.target = v
		}
	}
}

// Validate rejects configurations the attachment subsystem cannot run safely with.
func (c *Config) Validate() error {
	a := c.Attachments
	prefixes := map[string]string{
		"temporary_prefix": strings.Trim(a.TemporaryPrefix, "/"),
		"permanent_prefix": strings.Trim(a.PermanentPrefix, "/"),
	}
	for name, p := range prefixes {
		if p == "" {
			return fmt.Errorf("attachments.%s must not be empty", name)
		}
	}
	tmp, perm := prefixes["temporary_prefix"], prefixes["permanent_prefix"]
	if tmp == perm || strings.HasPrefix(tmp+"/", perm+"/") || strings.HasPrefix(perm+"/", tmp+"/") {
		return fmt.Errorf("attachments.temporary_prefix %q and permanent_prefix %q must not overlap", tmp, perm)
	}
	for _, legacy := range a.LegacyPrefixes {
		l := strings.Trim(legacy, "/")
		if l == tmp || strings.HasPrefix(l+"/", tmp+"/") || strings.HasPrefix(tmp+"/", l+"/") {
			return fmt.Errorf("attachments.legacy_prefixes entry %q overlaps the temporary prefix", legacy)
		}
	}
	if a.DraftTTL <= 0 {
		return fmt.Errorf("attachments.draft_ttl must be positive")
	}
	if a.SweepInterval <= 0 {
		return fmt.Errorf("attachments.sweep_interval must be positive")
	}
	if a.SweepBatch <= 0 {
		return fmt.Errorf("attachments.sweep_batch must be positive")
	}
	if c.Storage.PublicBaseURL == "" {
		return fmt.Errorf("storage.public_base_url must be set")
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	return nil
}

func ApplyDefaults(config interface{}) {
	applyDefaults(config)
}

var durationType = reflect.TypeOf(time.Duration(0))

func applyDefaults(config interface{}) {
	v := reflect.ValueOf(config)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	if v.Kind() != reflect.Struct {
		return
	}

	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.IsValid() || !field.CanSet() {
			continue
		}

		// Recursively apply defaults to nested structs
		if field.Kind() == reflect.Struct {
			applyDefaults(field.Addr().Interface())
			continue
		}

		defaultValue := fieldType.Tag.Get("default")
		if defaultValue == "" {
			continue
		}

		if field.Type() == durationType {
			if d, err := time.ParseDuration(defaultValue); err == nil {
				field.SetInt(int64(d))
			}
			continue
		}

		switch field.Kind() {
		case reflect.String:
			field.SetString(defaultValue)
		case reflect.Bool:
			if val, err := strconv.ParseBool(defaultValue); err == nil {
				field.SetBool(val)
			}
		case reflect.Int, reflect.Int64:
			if val, err := strconv.ParseInt(defaultValue, 10, 64); err == nil {
				field.SetInt(val)
			}
		case reflect.Float64:
			if val, err := strconv.ParseFloat(defaultValue, 64); err == nil {
				field.SetFloat(val)
			}
		case reflect.Slice:
			if field.Len() == 0 && field.Type().Elem().Kind() == reflect.String {
				parts := strings.Split(defaultValue, ",")
				slice := reflect.MakeSlice(field.Type(), len(parts), len(parts))
				for j, part := range parts {
					slice.Index(j).SetString(strings.TrimSpace(part))
				}
				field.Set(slice)
			}
		default:
			configLogger.Warn().
				Str("field_name", fieldType.Name).
				Str("field_type", field.Kind().String()).
				Msg("Unsupported field type for default value")
		}
	}
}
