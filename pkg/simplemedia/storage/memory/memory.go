// Package memory is an in-process simplemedia.BlobStore for tests and local
// development.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/objectkey"
)

type object struct {
	data     []byte
	mimeType string
}

// Backend is an in-memory implementation of simplemedia.BlobStore
type Backend struct {
	mu      sync.RWMutex
	objects map[string]object
	baseURL string
}

var _ simplemedia.BlobStore = (*Backend)(nil)

// New creates a new in-memory storage backend. Issued URLs are rooted at
// baseURL, "memory://blobs" when empty; nothing serves them.
func New(baseURL string) *Backend {
	if baseURL == "" {
		baseURL = "memory://blobs"
	}
	return &Backend{
		objects: make(map[string]object),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (b *Backend) UploadURL(_ context.Context, key, mimeType string) (string, error) {
	q := url.Values{"op": {"put"}}
	if mimeType != "" {
		q.Set("content_type", mimeType)
	}
	return b.baseURL + "/" + key + "?" + q.Encode(), nil
}

func (b *Backend) DownloadURL(_ context.Context, key, downloadFilename string) (string, error) {
	q := url.Values{"op": {"get"}}
	if downloadFilename != "" {
		q.Set("filename", downloadFilename)
	}
	return b.baseURL + "/" + key + "?" + q.Encode(), nil
}

// Upload uploads content directly
func (b *Backend) Upload(_ context.Context, key string, reader io.Reader, mimeType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = object{data: data, mimeType: mimeType}
	return nil
}

// Download downloads content directly
func (b *Backend) Download(_ context.Context, key string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, exists := b.objects[key]
	if !exists {
		return nil, fmt.Errorf("%w: %s", simplemedia.ErrObjectNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// MimeType reports the stored content type of key.
func (b *Backend) MimeType(key string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	obj, ok := b.objects[key]
	return obj.mimeType, ok
}

// Delete deletes content. Deleting a missing key succeeds, as on S3.
func (b *Backend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

// keys returns the sorted keys under prefix. Callers hold the lock.
func (b *Backend) keys(prefix string) []string {
	keys := make([]string, 0)
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// List pages through keys in lexical order. The cursor is the last key of
// the previous page.
func (b *Backend) List(_ context.Context, prefix, cursor string, limit int) (*simplemedia.ObjectList, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := b.keys(prefix)
	start := 0
	if cursor != "" {
		start = sort.Search(len(keys), func(i int) bool { return keys[i] > cursor })
	}
	end := min(start+limit, len(keys))

	list := &simplemedia.ObjectList{Objects: make([]simplemedia.ObjectInfo, 0, end-start)}
	for _, k := range keys[start:end] {
		list.Objects = append(list.Objects, simplemedia.ObjectInfo{Key: k, Size: int64(len(b.objects[k].data))})
	}
	if end < len(keys) {
		list.NextCursor = keys[end-1]
	}
	return list, nil
}

func (b *Backend) DeletePrefix(_ context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, fmt.Errorf("refusing to delete an empty prefix")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := b.keys(prefix)
	for _, k := range keys {
		delete(b.objects, k)
	}
	return len(keys), nil
}

func (b *Backend) Usage(_ context.Context, prefix string) (*simplemedia.StorageUsage, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	usage := &simplemedia.StorageUsage{Categories: make(map[string]simplemedia.CategoryUsage)}
	for _, k := range b.keys(prefix) {
		category := objectkey.Category(k)
		if category == "" {
			category = "other"
		}
		usage.Add(category, int64(len(b.objects[k].data)))
	}
	return usage, nil
}
