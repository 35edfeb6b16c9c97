package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/jobs"
	"github.com/tendant/simple-media/pkg/simplemedia/jobs/platformhttp"
	memorystorage "github.com/tendant/simple-media/pkg/simplemedia/storage/memory"
	s3storage "github.com/tendant/simple-media/pkg/simplemedia/storage/s3"
	"github.com/tendant/simple-media/pkg/simplemedia/tenant"
)

// defaultThumbnailAt is the offset of the thumbnail frame.
const defaultThumbnailAt = time.Second

// BuildBlobStore creates the configured blob store and the credentials
// transcoding jobs use to reach it.
func (c *ServerConfig) BuildBlobStore(ctx context.Context) (simplemedia.BlobStore, simplemedia.Credentials, error) {
	switch c.Storage.Type {
	case "memory":
		return memorystorage.New(c.Storage.MemoryBaseURL), simplemedia.Credentials{}, nil

	case "s3":
		backend, err := s3storage.New(ctx, s3storage.Config{
			Region:                 c.Storage.Region,
			Bucket:                 c.Storage.Bucket,
			AccessKeyID:            c.Storage.AccessKeyID,
			SecretAccessKey:        c.Storage.SecretAccessKey,
			Endpoint:               c.Storage.Endpoint,
			UsePathStyle:           c.Storage.UsePathStyle,
			PresignDuration:        c.Storage.PresignDuration,
			CreateBucketIfNotExist: c.Storage.CreateBucket,
		})
		if err != nil {
			return nil, simplemedia.Credentials{}, fmt.Errorf("failed to create s3 storage: %w", err)
		}
		return backend, backend.Credentials(), nil

	default:
		return nil, simplemedia.Credentials{}, fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}
}

// BuildEngine creates the job engine, or returns nil when no platform is
// configured.
func (c *ServerConfig) BuildEngine(logger *slog.Logger) *jobs.Engine {
	if !c.PlatformEnabled() {
		return nil
	}
	client := platformhttp.New(c.Platform.URL,
		platformhttp.WithToken(c.Platform.Token),
		platformhttp.WithLogger(logger),
	)
	return jobs.NewEngine(client,
		jobs.WithEngineLogger(logger),
		jobs.WithPollInterval(c.Platform.PollInterval),
		jobs.WithProvisioning(c.Platform.ProvisionAttempts, c.Platform.ProvisionBackoff, c.Platform.ProvisionMaxDelay),
		jobs.WithReadyWait(0, c.Platform.ReadyTimeout),
	)
}

// BuildDirectory creates the tenant directory: Postgres when a tenant
// database is configured, otherwise a single static tenant on Redis.URL.
func (c *ServerConfig) BuildDirectory(ctx context.Context) (tenant.Directory, error) {
	if c.Tenants.DatabaseURL == "" {
		return tenant.NewStaticDirectory(tenant.Tenant{
			ID:         c.Tenants.DefaultTenant,
			KVEndpoint: c.Redis.URL,
			KeyPrefix:  c.Redis.KeyPrefix,
		}), nil
	}

	pool, err := tenant.OpenPostgres(ctx, c.Tenants.DatabaseURL, c.Tenants.DBSchema)
	if err != nil {
		return nil, err
	}
	dir := tenant.NewPostgresDirectory(pool)
	if err := dir.EnsureSchema(ctx); err != nil {
		_ = dir.Close()
		return nil, err
	}
	return dir, nil
}

// BuildRegistry wires the directory, blob store and job engine into a
// tenant registry.
func (c *ServerConfig) BuildRegistry(ctx context.Context, logger *slog.Logger) (*tenant.Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	blobs, creds, err := c.BuildBlobStore(ctx)
	if err != nil {
		return nil, err
	}

	dir, err := c.BuildDirectory(ctx)
	if err != nil {
		return nil, err
	}

	opts := []tenant.Option{
		tenant.WithLogger(logger),
		tenant.WithEntitlementTTL(c.Tenants.EntitlementTTL),
		tenant.WithPipelineOptions(
			jobs.WithCredentials(creds),
			jobs.WithMaxWait(c.Platform.ProxyMaxWait, c.Platform.ThumbnailMaxWait),
			jobs.WithCommands(jobs.FFmpegCommands{ProxyHeight: c.Pipeline.ProxyHeight, ThumbnailAt: defaultThumbnailAt}),
		),
	}
	if engine := c.BuildEngine(logger); engine != nil {
		opts = append(opts, tenant.WithEngine(engine))
	}

	return tenant.NewRegistry(dir, blobs, opts...), nil
}

// BuildDispatcher creates the detached pipeline dispatcher. The caller starts it.
func (c *ServerConfig) BuildDispatcher(logger *slog.Logger) *jobs.Dispatcher {
	return jobs.NewDispatcher(
		jobs.WithWorkers(c.Pipeline.Workers),
		jobs.WithQueueSize(c.Pipeline.QueueSize),
		jobs.WithDispatcherLogger(logger),
	)
}
