package config

import (
	"errors"
	"fmt"
	"time"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:        "8080",
		Environment: "development",
		Redis: RedisConfig{
			URL: "redis://localhost:6379/0",
		},
		Storage: StorageConfig{
			Type:            "memory",
			Region:          "us-east-1",
			PresignDuration: time.Hour,
		},
		Platform: PlatformConfig{
			PollInterval:      5 * time.Second,
			ProxyMaxWait:      30 * time.Minute,
			ThumbnailMaxWait:  5 * time.Minute,
			ProvisionAttempts: 5,
			ProvisionBackoff:  500 * time.Millisecond,
			ProvisionMaxDelay: 10 * time.Second,
			ReadyTimeout:      3 * time.Minute,
		},
		Tenants: TenantConfig{
			DefaultTenant: "default",
		},
		Auth: AuthConfig{
			TenantClaim: "tenant",
		},
		Pipeline: PipelineConfig{
			Workers:     4,
			QueueSize:   64,
			ProxyHeight: 720,
		},
	}
}

// ServerConfig represents server configuration for the simple-media service.
// Struct tags drive WithEnv.
type ServerConfig struct {
	Port        string `env:"PORT" env-default:"8080"`
	Environment string `env:"ENVIRONMENT" env-default:"development"` // development, production, testing

	Redis    RedisConfig
	Storage  StorageConfig
	Platform PlatformConfig
	Tenants  TenantConfig
	Auth     AuthConfig
	Pipeline PipelineConfig
}

// RedisConfig locates the metadata store of the static tenant.
type RedisConfig struct {
	URL       string `env:"REDIS_URL" env-default:"redis://localhost:6379/0"`
	KeyPrefix string `env:"REDIS_KEY_PREFIX"`
}

// StorageConfig selects the blob store.
type StorageConfig struct {
	Type          string `env:"STORAGE_TYPE" env-default:"memory"` // memory, s3
	MemoryBaseURL string `env:"STORAGE_MEMORY_BASE_URL"`

	Endpoint        string        `env:"AWS_S3_ENDPOINT"`
	Bucket          string        `env:"AWS_S3_BUCKET"`
	Region          string        `env:"AWS_S3_REGION" env-default:"us-east-1"`
	AccessKeyID     string        `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string        `env:"AWS_SECRET_ACCESS_KEY"`
	UsePathStyle    bool          `env:"AWS_S3_USE_PATH_STYLE" env-default:"false"`
	PresignDuration time.Duration `env:"AWS_S3_PRESIGN_DURATION" env-default:"1h"`
	CreateBucket    bool          `env:"AWS_S3_CREATE_BUCKET" env-default:"false"`
}

// PlatformConfig configures the transcoding job-control platform. An empty
// URL disables the derived-artifact pipeline and KV provisioning.
type PlatformConfig struct {
	URL               string        `env:"PLATFORM_URL"`
	Token             string        `env:"PLATFORM_TOKEN"`
	PollInterval      time.Duration `env:"PLATFORM_POLL_INTERVAL" env-default:"5s"`
	ProxyMaxWait      time.Duration `env:"PLATFORM_PROXY_MAX_WAIT" env-default:"30m"`
	ThumbnailMaxWait  time.Duration `env:"PLATFORM_THUMBNAIL_MAX_WAIT" env-default:"5m"`
	ProvisionAttempts int           `env:"PLATFORM_PROVISION_ATTEMPTS" env-default:"5"`
	ProvisionBackoff  time.Duration `env:"PLATFORM_PROVISION_BACKOFF" env-default:"500ms"`
	ProvisionMaxDelay time.Duration `env:"PLATFORM_PROVISION_MAX_DELAY" env-default:"10s"`
	ReadyTimeout      time.Duration `env:"PLATFORM_READY_TIMEOUT" env-default:"3m"`
}

// TenantConfig selects the tenant directory. With no DatabaseURL a single
// static tenant is served from Redis.URL.
type TenantConfig struct {
	DatabaseURL   string `env:"TENANT_DATABASE_URL"`
	DBSchema      string `env:"TENANT_DB_SCHEMA"`
	DefaultTenant string `env:"DEFAULT_TENANT" env-default:"default"`
	// EntitlementTTL is how long a directory lookup vouches for a tenant's
	// cached handles; zero checks on every request.
	EntitlementTTL time.Duration `env:"TENANT_ENTITLEMENT_TTL" env-default:"0s"`
}

// AuthConfig configures JWT sessions. The tenant claim names the caller's tenant.
type AuthConfig struct {
	JWTSecret   string `env:"JWT_SECRET"`
	TenantClaim string `env:"JWT_TENANT_CLAIM" env-default:"tenant"`
}

// PipelineConfig sizes the detached pipeline dispatcher.
type PipelineConfig struct {
	Workers     int `env:"PIPELINE_WORKERS" env-default:"4"`
	QueueSize   int `env:"PIPELINE_QUEUE_SIZE" env-default:"64"`
	ProxyHeight int `env:"PIPELINE_PROXY_HEIGHT" env-default:"720"`
}

// PlatformEnabled reports whether a job platform is configured.
func (c *ServerConfig) PlatformEnabled() bool {
	return c.Platform.URL != ""
}

// IsProduction reports whether the server runs in production.
func (c *ServerConfig) IsProduction() bool {
	return c.Environment == "production"
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	switch c.Environment {
	case "development", "production", "testing":
	default:
		return fmt.Errorf("environment must be 'development', 'production' or 'testing', got: %s", c.Environment)
	}

	switch c.Storage.Type {
	case "memory":
	case "s3":
		if c.Storage.Bucket == "" {
			return errors.New("s3 bucket is required when using s3 storage")
		}
	default:
		return fmt.Errorf("storage type must be 'memory' or 's3', got: %s", c.Storage.Type)
	}

	if c.Tenants.DatabaseURL == "" {
		if c.Tenants.DefaultTenant == "" {
			return errors.New("default tenant is required without a tenant database")
		}
		if c.Redis.URL == "" && !c.PlatformEnabled() {
			return errors.New("redis_url is required when no job platform can provision one")
		}
	}

	if c.Tenants.EntitlementTTL < 0 {
		return fmt.Errorf("tenant entitlement ttl cannot be negative, got: %s", c.Tenants.EntitlementTTL)
	}

	if c.IsProduction() && c.Auth.JWTSecret == "" {
		return errors.New("jwt secret is required in production")
	}
	if c.Auth.TenantClaim == "" {
		return errors.New("jwt tenant claim cannot be empty")
	}

	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline workers must be positive, got: %d", c.Pipeline.Workers)
	}
	if c.Pipeline.QueueSize < 1 {
		return fmt.Errorf("pipeline queue size must be positive, got: %d", c.Pipeline.QueueSize)
	}

	if c.PlatformEnabled() {
		if c.Platform.PollInterval <= 0 {
			return errors.New("platform poll interval must be positive")
		}
		if c.Platform.ProvisionAttempts < 1 {
			return fmt.Errorf("platform provision attempts must be at least 1, got: %d", c.Platform.ProvisionAttempts)
		}
	}

	return nil
}
