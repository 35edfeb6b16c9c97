package tenant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/jobs"
	"github.com/tendant/simple-media/pkg/simplemedia/objectkey"
	redisstore "github.com/tendant/simple-media/pkg/simplemedia/store/redis"
	"golang.org/x/sync/singleflight"
)

// InstanceKind is the platform instance kind provisioned for tenants
// without a KV endpoint.
const InstanceKind = "kv"

// Handles are the per-tenant collaborators a request needs.
type Handles struct {
	Tenant Tenant
	Store  *redisstore.Store
	Blobs  simplemedia.BlobStore
	Keys   objectkey.Layout
	// Pipeline is nil when no job platform is configured.
	Pipeline *jobs.Pipeline
}

// ClientFactory opens a Redis client for an endpoint URL.
type ClientFactory func(ctx context.Context, endpoint string) (goredis.UniversalClient, error)

// defaultResolveTimeout bounds one shared resolution, including KV
// provisioning and the readiness wait.
const defaultResolveTimeout = 5 * time.Minute

// Registry caches Handles for the lifetime of the process. Redis clients are
// shared per endpoint and are never evicted; the number of active tenants is
// expected to stay small. Entitlement is not cached beyond the entitlement
// TTL: a tenant the directory no longer returns loses its handles.
type Registry struct {
	directory      Directory
	blobs          simplemedia.BlobStore
	engine         *jobs.Engine
	newClient      ClientFactory
	storeOpts      []redisstore.Option
	pipelineOpts   []jobs.PipelineOption
	logger         *slog.Logger
	entitlementTTL time.Duration
	resolveTimeout time.Duration
	now            func() time.Time

	mu      sync.Mutex
	clients map[string]goredis.UniversalClient
	handles map[string]*entry
	group   singleflight.Group
}

type entry struct {
	handles *Handles
	checked time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithEngine enables the derived-artifact pipeline and KV provisioning.
func WithEngine(engine *jobs.Engine) Option {
	return func(r *Registry) {
		r.engine = engine
	}
}

func WithClientFactory(factory ClientFactory) Option {
	return func(r *Registry) {
		if factory != nil {
			r.newClient = factory
		}
	}
}

func WithStoreOptions(opts ...redisstore.Option) Option {
	return func(r *Registry) {
		r.storeOpts = append(r.storeOpts, opts...)
	}
}

func WithPipelineOptions(opts ...jobs.PipelineOption) Option {
	return func(r *Registry) {
		r.pipelineOpts = append(r.pipelineOpts, opts...)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithEntitlementTTL sets how long a successful directory lookup vouches for
// cached handles. Zero looks the tenant up on every call.
func WithEntitlementTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		if ttl >= 0 {
			r.entitlementTTL = ttl
		}
	}
}

// WithResolveTimeout bounds a first-use resolution. It runs detached from
// the requests waiting on it.
func WithResolveTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.resolveTimeout = d
		}
	}
}

// NewRegistry creates a registry resolving tenants through directory. All
// tenants share blobs; their keys are separated by objectkey.Layout.
func NewRegistry(directory Directory, blobs simplemedia.BlobStore, opts ...Option) *Registry {
	r := &Registry{
		directory: directory,
		blobs:     blobs,
		newClient: func(ctx context.Context, endpoint string) (goredis.UniversalClient, error) {
			return redisstore.NewClientFromURL(ctx, endpoint)
		},
		logger:         slog.Default(),
		resolveTimeout: defaultResolveTimeout,
		now:            time.Now,
		clients:        make(map[string]goredis.UniversalClient),
		handles:        make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handles returns the handles for tenantID, resolving them on first use.
// Cached handles are served only while the directory still lists the tenant
// with the same endpoint and key prefix. Concurrent first calls for one tenant
// share a single resolution, which outlives a caller whose ctx ends first.
func (r *Registry) Handles(ctx context.Context, tenantID string) (*Handles, error) {
	if tenantID == "" {
		return nil, simplemedia.ErrTenantNotFound
	}
	if h, fresh := r.cached(tenantID); h != nil {
		if fresh {
			return h, nil
		}
		ok, err := r.recheck(ctx, h)
		if err != nil {
			return nil, err
		}
		if ok {
			return h, nil
		}
	}

	ch := r.group.DoChan(tenantID, func() (any, error) {
		if h, _ := r.cached(tenantID); h != nil {
			return h, nil
		}
		resolveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.resolveTimeout)
		defer cancel()
		h, err := r.resolve(resolveCtx, tenantID)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.handles[tenantID] = &entry{handles: h, checked: r.now()}
		r.mu.Unlock()
		return h, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Handles), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// cached returns the handles for tenantID and whether their entitlement
// check is still within the TTL.
func (r *Registry) cached(tenantID string) (*Handles, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.handles[tenantID]
	if !ok {
		return nil, false
	}
	fresh := r.entitlementTTL > 0 && r.now().Sub(e.checked) < r.entitlementTTL
	return e.handles, fresh
}

// recheck looks the tenant up again. It drops the cached handles and returns
// false when the tenant moved, and returns ErrTenantNotFound when it is no
// longer entitled.
func (r *Registry) recheck(ctx context.Context, h *Handles) (bool, error) {
	id := h.Tenant.ID
	t, err := r.directory.Lookup(ctx, id)
	if errors.Is(err, simplemedia.ErrTenantNotFound) {
		r.Forget(id)
		r.logger.Info("Tenant no longer entitled", "tenant", id)
		return false, err
	}
	if err != nil {
		return false, err
	}
	if t.KVEndpoint != h.Tenant.KVEndpoint || t.KeyPrefix != h.Tenant.KeyPrefix {
		r.Forget(id)
		r.logger.Info("Tenant moved, resolving again", "tenant", id)
		return false, nil
	}

	r.mu.Lock()
	if e, ok := r.handles[id]; ok && e.handles == h {
		e.checked = r.now()
	}
	r.mu.Unlock()
	return true, nil
}

// Forget drops the cached handles for tenantID. The tenant's Redis client
// stays open since it is shared per endpoint.
func (r *Registry) Forget(tenantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, tenantID)
}

func (r *Registry) resolve(ctx context.Context, tenantID string) (*Handles, error) {
	t, err := r.directory.Lookup(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	endpoint := t.KVEndpoint
	if endpoint == "" {
		if r.engine == nil {
			return nil, &simplemedia.PlatformError{
				Op:   "provision",
				Name: tenantID,
				Err:  errors.New("tenant has no kv endpoint and no job platform is configured"),
			}
		}
		inst, err := r.engine.EnsureInstance(ctx, InstanceKind, tenantID)
		if err != nil {
			return nil, err
		}
		endpoint = inst.Endpoint
		r.logger.Info("Provisioned tenant kv instance", "tenant", tenantID, "endpoint", endpoint)
	}

	client, err := r.client(ctx, endpoint)
	if err != nil {
		return nil, &simplemedia.PlatformError{Op: "connect", Name: tenantID, Transient: true, Err: err}
	}

	logger := r.logger.With("tenant", tenantID)
	storeOpts := append([]redisstore.Option{
		redisstore.WithKeyPrefix(t.KeyPrefix),
		redisstore.WithLogger(logger),
	}, r.storeOpts...)
	store := redisstore.New(client, storeOpts...)
	keys := objectkey.New(t.ID)

	h := &Handles{
		Tenant: *t,
		Store:  store,
		Blobs:  r.blobs,
		Keys:   keys,
	}
	if r.engine != nil {
		pipelineOpts := append([]jobs.PipelineOption{jobs.WithPipelineLogger(logger)}, r.pipelineOpts...)
		h.Pipeline = jobs.NewPipeline(r.engine, store, keys, pipelineOpts...)
	}
	return h, nil
}

// client returns the shared client for endpoint, opening it when needed.
// Callers are serialized per tenant by the singleflight group, so two
// tenants on one new endpoint may race; the loser's client is closed.
func (r *Registry) client(ctx context.Context, endpoint string) (goredis.UniversalClient, error) {
	r.mu.Lock()
	c, ok := r.clients[endpoint]
	r.mu.Unlock()
	if ok {
		return c, nil
	}

	c, err := r.newClient(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("open kv endpoint: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.clients[endpoint]; ok {
		_ = c.Close()
		return existing, nil
	}
	r.clients[endpoint] = c
	return c, nil
}

// Tenants lists the ids with cached handles.
func (r *Registry) Tenants() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	return ids
}

// Close closes every cached client and the directory when it holds
// resources.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for endpoint, c := range r.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", endpoint, err))
		}
	}
	r.clients = make(map[string]goredis.UniversalClient)
	r.handles = make(map[string]*entry)

	if closer, ok := r.directory.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
