package memory_test

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-media/pkg/simplemedia"
	memorystorage "github.com/tendant/simple-media/pkg/simplemedia/storage/memory"
)

func TestMemoryBackend(t *testing.T) {
	backend := memorystorage.New("")
	ctx := context.Background()
	testKey := "tenants/t1/originals/a1/clip.mp4"
	testData := "Hello, World! This is test data."

	t.Run("Upload", func(t *testing.T) {
		err := backend.Upload(ctx, testKey, strings.NewReader(testData), "video/mp4")
		assert.NoError(t, err)
		mimeType, ok := backend.MimeType(testKey)
		assert.True(t, ok)
		assert.Equal(t, "video/mp4", mimeType)
	})

	t.Run("DefaultMimeType", func(t *testing.T) {
		require.NoError(t, backend.Upload(ctx, "misc/blob", strings.NewReader("x"), ""))
		mimeType, _ := backend.MimeType("misc/blob")
		assert.Equal(t, "application/octet-stream", mimeType)
	})

	t.Run("Download", func(t *testing.T) {
		reader, err := backend.Download(ctx, testKey)
		require.NoError(t, err)
		defer reader.Close()

		downloadedData, err := io.ReadAll(reader)
		assert.NoError(t, err)
		assert.Equal(t, testData, string(downloadedData))
	})

	t.Run("DownloadMissing", func(t *testing.T) {
		_, err := backend.Download(ctx, "missing")
		assert.ErrorIs(t, err, simplemedia.ErrObjectNotFound)
		assert.True(t, simplemedia.IsNotFound(err))
	})

	t.Run("URLs", func(t *testing.T) {
		up, err := backend.UploadURL(ctx, testKey, "video/mp4")
		require.NoError(t, err)
		assert.Equal(t, "memory://blobs/"+testKey+"?content_type=video%2Fmp4&op=put", up)

		down, err := backend.DownloadURL(ctx, testKey, "clip.mp4")
		require.NoError(t, err)
		assert.Equal(t, "memory://blobs/"+testKey+"?filename=clip.mp4&op=get", down)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, backend.Upload(ctx, "k3", strings.NewReader(testData), ""))
		require.NoError(t, backend.Delete(ctx, "k3"))
		_, err := backend.Download(ctx, "k3")
		assert.Error(t, err)
		// Deleting again is fine.
		assert.NoError(t, backend.Delete(ctx, "k3"))
	})
}

func TestMemoryBackend_ListPaging(t *testing.T) {
	backend := memorystorage.New("http://blobs.local/")
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("tenants/t1/originals/a%d/f", i)
		require.NoError(t, backend.Upload(ctx, key, strings.NewReader("abc"), ""))
	}
	require.NoError(t, backend.Upload(ctx, "tenants/t2/originals/b/f", strings.NewReader("z"), ""))

	var keys []string
	cursor := ""
	pages := 0
	for {
		page, err := backend.List(ctx, "tenants/t1/", cursor, 2)
		require.NoError(t, err)
		pages++
		for _, obj := range page.Objects {
			keys = append(keys, obj.Key)
			assert.Equal(t, int64(3), obj.Size)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	assert.Equal(t, 3, pages)
	assert.Len(t, keys, 5)
	assert.Equal(t, "tenants/t1/originals/a0/f", keys[0])

	url, err := backend.DownloadURL(ctx, keys[0], "")
	require.NoError(t, err)
	assert.Equal(t, "http://blobs.local/"+keys[0]+"?op=get", url)
}

func TestMemoryBackend_DeletePrefixAndUsage(t *testing.T) {
	backend := memorystorage.New("")
	ctx := context.Background()
	uploads := map[string]string{
		"tenants/t1/originals/a1/clip.mp4":   "0123456789",
		"tenants/t1/proxies/a1/proxy.mp4":    "01234",
		"tenants/t1/thumbnails/a1/thumb.jpg": "01",
		"tenants/t1/posters/a2/poster.jpg":   "0",
		"tenants/t1/loose.txt":               "abc",
	}
	for k, v := range uploads {
		require.NoError(t, backend.Upload(ctx, k, strings.NewReader(v), ""))
	}

	usage, err := backend.Usage(ctx, "tenants/t1/")
	require.NoError(t, err)
	assert.Equal(t, int64(5), usage.TotalObjects)
	assert.Equal(t, int64(21), usage.TotalBytes)
	assert.Equal(t, simplemedia.CategoryUsage{Objects: 1, Bytes: 10}, usage.Categories["originals"])
	assert.Equal(t, simplemedia.CategoryUsage{Objects: 1, Bytes: 3}, usage.Categories["other"])

	n, err := backend.DeletePrefix(ctx, "tenants/t1/proxies/a1/")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = backend.DeletePrefix(ctx, "")
	assert.Error(t, err)

	usage, err = backend.Usage(ctx, "tenants/t1/")
	require.NoError(t, err)
	_, hasProxies := usage.Categories["proxies"]
	assert.False(t, hasProxies)
}
