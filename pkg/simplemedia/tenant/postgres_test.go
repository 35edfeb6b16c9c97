package tenant_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/tenant"
)

func newPostgresDirectory(t *testing.T) *tenant.PostgresDirectory {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := tenant.OpenPostgres(ctx, dbURL, "")
	require.NoError(t, err)

	dir := tenant.NewPostgresDirectory(pool)
	t.Cleanup(func() { _ = dir.Close() })
	require.NoError(t, dir.EnsureSchema(ctx))
	return dir
}

func TestPostgresDirectory(t *testing.T) {
	dir := newPostgresDirectory(t)
	ctx := context.Background()
	id := "t" + uuid.NewString()[:8]

	t.Run("unknown tenant", func(t *testing.T) {
		_, err := dir.Lookup(ctx, id)
		assert.ErrorIs(t, err, simplemedia.ErrTenantNotFound)
	})

	t.Run("upsert and lookup", func(t *testing.T) {
		require.NoError(t, dir.Upsert(ctx, tenant.Tenant{ID: id, KVEndpoint: "redis://kv:6379/0", KeyPrefix: id + ":"}))

		got, err := dir.Lookup(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "redis://kv:6379/0", got.KVEndpoint)
		assert.Equal(t, id+":", got.KeyPrefix)

		require.NoError(t, dir.Upsert(ctx, tenant.Tenant{ID: id}))
		got, err = dir.Lookup(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, got.KVEndpoint)
	})

	t.Run("deactivated tenants are not found", func(t *testing.T) {
		require.NoError(t, dir.Deactivate(ctx, id))
		_, err := dir.Lookup(ctx, id)
		assert.ErrorIs(t, err, simplemedia.ErrTenantNotFound)
	})
}

func TestOpenPostgres_RequiresURL(t *testing.T) {
	_, err := tenant.OpenPostgres(context.Background(), "", "")
	assert.Error(t, err)
}

func TestStaticDirectory(t *testing.T) {
	ctx := context.Background()
	dir := tenant.NewStaticDirectory(tenant.Tenant{ID: "acme", KVEndpoint: "redis://a"})

	got, err := dir.Lookup(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "redis://a", got.KVEndpoint)

	dir.Put(tenant.Tenant{ID: "acme", KVEndpoint: "redis://b"})
	got, err = dir.Lookup(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "redis://b", got.KVEndpoint)

	_, err = dir.Lookup(ctx, "globex")
	assert.ErrorIs(t, err, simplemedia.ErrTenantNotFound)
}
