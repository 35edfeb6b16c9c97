package redis_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	redisstore "github.com/tendant/simple-media/pkg/simplemedia/store/redis"
)

func TestNewClientFromURL(t *testing.T) {
	ctx := context.Background()

	t.Run("connects and pings", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client, err := redisstore.NewClientFromURL(ctx, "redis://"+mr.Addr()+"/0")
		require.NoError(t, err)
		defer client.Close()

		require.NoError(t, client.Set(ctx, "k", "v", 0).Err())
		got, err := mr.Get("k")
		require.NoError(t, err)
		assert.Equal(t, "v", got)
	})

	t.Run("empty url", func(t *testing.T) {
		_, err := redisstore.NewClientFromURL(ctx, "")
		assert.Error(t, err)
	})

	t.Run("bad scheme", func(t *testing.T) {
		_, err := redisstore.NewClientFromURL(ctx, "http://localhost:6379")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse redis url")
	})

	t.Run("unreachable server", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		_, err := redisstore.NewClientFromURL(ctx, "redis://"+addr)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ping redis")
	})
}
