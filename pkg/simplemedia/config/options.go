package config

import (
	"fmt"
	"time"
)

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithRedis sets the static tenant's Redis URL and key prefix
func WithRedis(url, keyPrefix string) Option {
	return func(c *ServerConfig) error {
		c.Redis.URL = url
		c.Redis.KeyPrefix = keyPrefix
		return nil
	}
}

// WithMemoryStorage selects the in-memory blob store
func WithMemoryStorage(baseURL string) Option {
	return func(c *ServerConfig) error {
		c.Storage.Type = "memory"
		c.Storage.MemoryBaseURL = baseURL
		return nil
	}
}

// WithS3Storage selects S3-compatible blob storage
func WithS3Storage(endpoint, bucket, region string) Option {
	return func(c *ServerConfig) error {
		if bucket == "" {
			return fmt.Errorf("s3 bucket cannot be empty")
		}
		c.Storage.Type = "s3"
		c.Storage.Endpoint = endpoint
		c.Storage.Bucket = bucket
		if region != "" {
			c.Storage.Region = region
		}
		return nil
	}
}

// WithS3Credentials sets static S3 credentials
func WithS3Credentials(accessKeyID, secretAccessKey string) Option {
	return func(c *ServerConfig) error {
		c.Storage.AccessKeyID = accessKeyID
		c.Storage.SecretAccessKey = secretAccessKey
		return nil
	}
}

// WithPlatform enables the job platform at url
func WithPlatform(url, token string) Option {
	return func(c *ServerConfig) error {
		if url == "" {
			return fmt.Errorf("platform url cannot be empty")
		}
		c.Platform.URL = url
		c.Platform.Token = token
		return nil
	}
}

// WithPolling sets the job poll interval and the per-job wait bounds
func WithPolling(interval, proxyMaxWait, thumbnailMaxWait time.Duration) Option {
	return func(c *ServerConfig) error {
		if interval <= 0 {
			return fmt.Errorf("poll interval must be positive")
		}
		c.Platform.PollInterval = interval
		if proxyMaxWait > 0 {
			c.Platform.ProxyMaxWait = proxyMaxWait
		}
		if thumbnailMaxWait > 0 {
			c.Platform.ThumbnailMaxWait = thumbnailMaxWait
		}
		return nil
	}
}

// WithTenantDatabase reads tenants from Postgres instead of serving a single static tenant
func WithTenantDatabase(url, schema string) Option {
	return func(c *ServerConfig) error {
		if url == "" {
			return fmt.Errorf("tenant database url cannot be empty")
		}
		c.Tenants.DatabaseURL = url
		c.Tenants.DBSchema = schema
		return nil
	}
}

// WithDefaultTenant sets the static tenant id
func WithDefaultTenant(id string) Option {
	return func(c *ServerConfig) error {
		if id == "" {
			return fmt.Errorf("default tenant cannot be empty")
		}
		c.Tenants.DefaultTenant = id
		return nil
	}
}

// WithJWTSecret sets the HMAC secret used to verify session tokens
func WithJWTSecret(secret string) Option {
	return func(c *ServerConfig) error {
		c.Auth.JWTSecret = secret
		return nil
	}
}

// WithPipeline sizes the pipeline dispatcher
func WithPipeline(workers, queueSize int) Option {
	return func(c *ServerConfig) error {
		if workers < 1 || queueSize < 1 {
			return fmt.Errorf("pipeline workers and queue size must be positive")
		}
		c.Pipeline.Workers = workers
		c.Pipeline.QueueSize = queueSize
		return nil
	}
}
