package simplemedia

import (
	"strings"
	"time"
)

// ProxyStatus is the lifecycle state of an asset's derived artifacts.
type ProxyStatus string

// Proxy status constants (typed).
const (
	ProxyStatusPending    ProxyStatus = "pending"
	ProxyStatusProcessing ProxyStatus = "processing"
	ProxyStatusReady      ProxyStatus = "ready"
	ProxyStatusFailed     ProxyStatus = "failed"
	ProxyStatusNone       ProxyStatus = "none"
)

// IsValid reports whether s is a known proxy status.
func (s ProxyStatus) IsValid() bool {
	switch s {
	case ProxyStatusPending, ProxyStatusProcessing, ProxyStatusReady, ProxyStatusFailed, ProxyStatusNone:
		return true
	}
	return false
}

// Asset is a managed media file and its metadata record.
type Asset struct {
	ID          string            `json:"id"`
	FileName    string            `json:"file_name"`
	MimeType    string            `json:"mime_type"`
	FileSize    int64             `json:"file_size"`
	Duration    *float64          `json:"duration,omitempty"`
	Resolution  string            `json:"resolution,omitempty"`
	Codec       string            `json:"codec,omitempty"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Tags        []string          `json:"tags"`
	Metadata    map[string]string `json:"metadata"`

	StorageKey   string      `json:"storage_key"`
	ProxyKey     string      `json:"proxy_key,omitempty"`
	ThumbnailKey string      `json:"thumbnail_key,omitempty"`
	PosterKey    string      `json:"poster_key,omitempty"`
	ProxyStatus  ProxyStatus `json:"proxy_status"`

	Collections []string  `json:"collections"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IsVideo reports whether the asset's MIME type is a video type.
func (a *Asset) IsVideo() bool {
	return strings.HasPrefix(strings.ToLower(a.MimeType), "video/")
}

// InCollection reports whether collectionID is in the asset's back-references.
func (a *Asset) InCollection(collectionID string) bool {
	for _, id := range a.Collections {
		if id == collectionID {
			return true
		}
	}
	return false
}

// Collection is a named grouping of assets. Membership itself is stored in
// the per-collection set; AssetCount is a denormalized copy of its size.
type Collection struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	CoverAssetID string    `json:"cover_asset_id,omitempty"`
	AssetCount   int64     `json:"asset_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewAsset holds the caller-supplied fields of an asset to create.
type NewAsset struct {
	FileName     string
	MimeType     string
	FileSize     int64
	Duration     *float64
	Resolution   string
	Codec        string
	Title        string
	Description  string
	Tags         []string
	Metadata     map[string]string
	StorageKey   string
	ProxyKey     string
	ThumbnailKey string
	PosterKey    string
	ProxyStatus  ProxyStatus
	Collections  []string
}

// AssetPatch is a partial update. Nil fields are left untouched.
type AssetPatch struct {
	FileName     *string
	MimeType     *string
	FileSize     *int64
	Duration     *float64
	Resolution   *string
	Codec        *string
	Title        *string
	Description  *string
	Tags         *[]string
	Metadata     map[string]string
	StorageKey   *string
	ProxyKey     *string
	ThumbnailKey *string
	PosterKey    *string
	ProxyStatus  *ProxyStatus
	Collections  *[]string
}

// Apply merges the patch over a copy of a and returns it. ID and CreatedAt
// are never changed; UpdatedAt is set to now.
func (p AssetPatch) Apply(a Asset, now time.Time) Asset {
	if p.FileName != nil {
		a.FileName = *p.FileName
	}
	if p.MimeType != nil {
		a.MimeType = *p.MimeType
	}
	if p.FileSize != nil {
		a.FileSize = *p.FileSize
	}
	if p.Duration != nil {
		d := *p.Duration
		a.Duration = &d
	}
	if p.Resolution != nil {
		a.Resolution = *p.Resolution
	}
	if p.Codec != nil {
		a.Codec = *p.Codec
	}
	if p.Title != nil {
		a.Title = *p.Title
	}
	if p.Description != nil {
		a.Description = *p.Description
	}
	if p.Tags != nil {
		a.Tags = append([]string(nil), (*p.Tags)...)
	}
	if p.Metadata != nil {
		a.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			a.Metadata[k] = v
		}
	}
	if p.StorageKey != nil {
		a.StorageKey = *p.StorageKey
	}
	if p.ProxyKey != nil {
		a.ProxyKey = *p.ProxyKey
	}
	if p.ThumbnailKey != nil {
		a.ThumbnailKey = *p.ThumbnailKey
	}
	if p.PosterKey != nil {
		a.PosterKey = *p.PosterKey
	}
	if p.ProxyStatus != nil {
		a.ProxyStatus = *p.ProxyStatus
	}
	if p.Collections != nil {
		a.Collections = append([]string(nil), (*p.Collections)...)
	}
	a.UpdatedAt = now
	return a
}

// NewCollection holds the caller-supplied fields of a collection to create.
type NewCollection struct {
	Name         string
	Description  string
	CoverAssetID string
}

// CollectionPatch is a partial collection update. Nil fields are left untouched.
type CollectionPatch struct {
	Name         *string
	Description  *string
	CoverAssetID *string
}

// Apply merges the patch over a copy of c.
func (p CollectionPatch) Apply(c Collection, now time.Time) Collection {
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Description != nil {
		c.Description = *p.Description
	}
	if p.CoverAssetID != nil {
		c.CoverAssetID = *p.CoverAssetID
	}
	c.UpdatedAt = now
	return c
}

// SortField names an asset listing sort key.
type SortField string

const (
	SortByCreatedAt SortField = "createdAt"
	SortByTitle     SortField = "title"
	SortByFileSize  SortField = "fileSize"
	SortByDuration  SortField = "duration"
)

// SortOrder is the direction of a listing.
type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

// ListAssetsRequest selects and orders a page of assets.
type ListAssetsRequest struct {
	Page         int
	Limit        int
	Sort         SortField
	Order        SortOrder
	TypeFilter   string // MIME type prefix, e.g. "video/"
	CollectionID string
}

// SearchAssetsRequest selects a page of full-text search results.
type SearchAssetsRequest struct {
	Query      string
	Page       int
	Limit      int
	TypeFilter string
}

// AssetPage is one page of a listing together with the filtered total.
type AssetPage struct {
	Assets []*Asset `json:"assets"`
	Total  int      `json:"total"`
	Page   int      `json:"page"`
	Limit  int      `json:"limit"`
}

// TagCount is a tag with the number of live assets carrying it.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int64  `json:"count"`
}
