// Package objectkey defines where an asset's blobs live in object storage.
//
// Structure:
//
//	tenants/{tenant}/originals/{assetID}/{filename}
//	tenants/{tenant}/proxies/{assetID}/proxy.mp4
//	tenants/{tenant}/thumbnails/{assetID}/thumb.jpg
//	tenants/{tenant}/posters/{assetID}/poster.jpg
package objectkey

import (
	"fmt"
	"strings"
)

// Storage categories, one per top-level directory under a tenant.
const (
	CategoryOriginals  = "originals"
	CategoryProxies    = "proxies"
	CategoryThumbnails = "thumbnails"
	CategoryPosters    = "posters"
)

// Categories lists every category in display order.
var Categories = []string{CategoryOriginals, CategoryProxies, CategoryThumbnails, CategoryPosters}

const (
	proxyFile     = "proxy.mp4"
	thumbnailFile = "thumb.jpg"
	posterFile    = "poster.jpg"
)

// Layout generates keys for one tenant.
type Layout struct {
	tenant string
}

// New returns the layout for tenant. An empty tenant maps to "default".
func New(tenant string) Layout {
	if tenant == "" {
		tenant = "default"
	}
	return Layout{tenant: sanitizePathComponent(tenant)}
}

// Prefix is the key prefix shared by every blob of the tenant.
func (l Layout) Prefix() string {
	return fmt.Sprintf("tenants/%s/", l.tenant)
}

// CategoryPrefix is the key prefix of one category.
func (l Layout) CategoryPrefix(category string) string {
	return l.Prefix() + category + "/"
}

// Original is the key of the uploaded file.
func (l Layout) Original(assetID, fileName string) string {
	if fileName == "" {
		fileName = "original"
	}
	return l.CategoryPrefix(CategoryOriginals) + assetID + "/" + sanitizeFilename(fileName)
}

func (l Layout) Proxy(assetID string) string {
	return l.CategoryPrefix(CategoryProxies) + assetID + "/" + proxyFile
}

func (l Layout) Thumbnail(assetID string) string {
	return l.CategoryPrefix(CategoryThumbnails) + assetID + "/" + thumbnailFile
}

func (l Layout) Poster(assetID string) string {
	return l.CategoryPrefix(CategoryPosters) + assetID + "/" + posterFile
}

// AssetPrefixes returns the per-asset directory in every category.
func (l Layout) AssetPrefixes(assetID string) []string {
	prefixes := make([]string, len(Categories))
	for i, c := range Categories {
		prefixes[i] = l.CategoryPrefix(c) + assetID + "/"
	}
	return prefixes
}

// Category reports the category of key, or "" when key is not laid out by
// this package.
func Category(key string) string {
	rest, ok := strings.CutPrefix(key, "tenants/")
	if !ok {
		return ""
	}
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) < 3 {
		return ""
	}
	for _, c := range Categories {
		if parts[1] == c {
			return c
		}
	}
	return ""
}

var filenameReplacer = strings.NewReplacer(
	"/", "_",
	"\\", "_",
	":", "_",
	"*", "_",
	"?", "_",
	"\"", "_",
	"<", "_",
	">", "_",
	"|", "_",
	" ", "_",
)

func sanitizeFilename(filename string) string {
	return filenameReplacer.Replace(filename)
}

func sanitizePathComponent(component string) string {
	return strings.ToLower(filenameReplacer.Replace(component))
}
