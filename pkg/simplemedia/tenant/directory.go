// Package tenant resolves callers' tenants to the store, blob and pipeline
// handles that serve them.
package tenant

import (
	"context"
	"sync"

	"github.com/tendant/simple-media/pkg/simplemedia"
)

// Tenant is one entitled tenant and where its metadata lives.
type Tenant struct {
	ID string
	// KVEndpoint is a redis:// URL. When empty, an instance is provisioned
	// on the job platform.
	KVEndpoint string
	KeyPrefix  string
}

// Directory looks tenants up by id.
type Directory interface {
	// Lookup returns ErrTenantNotFound for unknown or inactive tenants
	Lookup(ctx context.Context, tenantID string) (*Tenant, error)
}

// StaticDirectory is a fixed, in-memory Directory.
type StaticDirectory struct {
	mu      sync.RWMutex
	tenants map[string]Tenant
}

var _ Directory = (*StaticDirectory)(nil)

func NewStaticDirectory(tenants ...Tenant) *StaticDirectory {
	d := &StaticDirectory{tenants: make(map[string]Tenant, len(tenants))}
	for _, t := range tenants {
		d.tenants[t.ID] = t
	}
	return d
}

// Put adds or replaces a tenant.
func (d *StaticDirectory) Put(t Tenant) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tenants[t.ID] = t
}

// Remove drops a tenant; later lookups return ErrTenantNotFound.
func (d *StaticDirectory) Remove(tenantID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.tenants, tenantID)
}

func (d *StaticDirectory) Lookup(_ context.Context, tenantID string) (*Tenant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.tenants[tenantID]
	if !ok {
		return nil, simplemedia.ErrTenantNotFound
	}
	return &t, nil
}
