package simplemedia

import (
	"context"
	"io"
)

// MetadataStore is the tenant-scoped Asset/Collection store. Every mutating
// call updates the derived indexes before it returns.
type MetadataStore interface {
	// Asset operations
	CreateAsset(ctx context.Context, fields NewAsset) (*Asset, error)
	// GetAsset returns (nil, nil) when the asset is absent or unreadable.
	GetAsset(ctx context.Context, id string) (*Asset, error)
	UpdateAsset(ctx context.Context, id string, patch AssetPatch) (*Asset, error)
	// DeleteAsset returns false when the asset did not exist.
	DeleteAsset(ctx context.Context, id string) (bool, error)
	ListAssets(ctx context.Context, req ListAssetsRequest) (*AssetPage, error)
	SearchAssets(ctx context.Context, req SearchAssetsRequest) (*AssetPage, error)

	// Collection operations
	CreateCollection(ctx context.Context, fields NewCollection) (*Collection, error)
	GetCollection(ctx context.Context, id string) (*Collection, error)
	UpdateCollection(ctx context.Context, id string, patch CollectionPatch) (*Collection, error)
	DeleteCollection(ctx context.Context, id string) (bool, error)
	ListCollections(ctx context.Context) ([]*Collection, error)

	// Membership operations
	AddAssetToCollection(ctx context.Context, assetID, collectionID string) error
	RemoveAssetFromCollection(ctx context.Context, assetID, collectionID string) error

	// Tag operations
	GetAllTags(ctx context.Context) ([]TagCount, error)
}

// BlobStore defines the object storage collaborator.
type BlobStore interface {
	// UploadURL returns a time-limited URL for uploading to key
	UploadURL(ctx context.Context, key, mimeType string) (string, error)

	// DownloadURL returns a time-limited URL for downloading key
	DownloadURL(ctx context.Context, key, downloadFilename string) (string, error)

	// Upload uploads content directly
	Upload(ctx context.Context, key string, reader io.Reader, mimeType string) error

	// Download downloads content directly
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete deletes one key
	Delete(ctx context.Context, key string) error

	// List returns one page of keys under prefix, starting after cursor
	List(ctx context.Context, prefix, cursor string, limit int) (*ObjectList, error)

	// DeletePrefix deletes every key under prefix and returns how many were removed
	DeletePrefix(ctx context.Context, prefix string) (int, error)

	// Usage aggregates object counts and bytes under prefix by category
	Usage(ctx context.Context, prefix string) (*StorageUsage, error)
}

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
}

// ObjectList is a page of keys. NextCursor is empty on the last page.
type ObjectList struct {
	Objects    []ObjectInfo `json:"objects"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

// CategoryUsage is the usage of one key category.
type CategoryUsage struct {
	Objects int64 `json:"objects"`
	Bytes   int64 `json:"bytes"`
}

// StorageUsage is aggregate usage keyed by category (originals, proxies, ...).
type StorageUsage struct {
	Categories   map[string]CategoryUsage `json:"categories"`
	TotalObjects int64                    `json:"total_objects"`
	TotalBytes   int64                    `json:"total_bytes"`
}

// Add records one object of size bytes under category.
func (u *StorageUsage) Add(category string, size int64) {
	if u.Categories == nil {
		u.Categories = make(map[string]CategoryUsage)
	}
	c := u.Categories[category]
	c.Objects++
	c.Bytes += size
	u.Categories[category] = c
	u.TotalObjects++
	u.TotalBytes += size
}

// JobState is the state of an ephemeral transcoding job.
type JobState string

const (
	JobStateCreated  JobState = "created"
	JobStateRunning  JobState = "running"
	JobStateComplete JobState = "complete"
	JobStateFailed   JobState = "failed"
	JobStateError    JobState = "error"
	JobStateTimeout  JobState = "timeout"
	JobStateUnknown  JobState = "unknown"
)

// IsTerminal reports whether polling should stop at this state.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateComplete, JobStateFailed, JobStateError, JobStateTimeout:
		return true
	}
	return false
}

// Instance is a provisioned per-tenant platform resource.
type Instance struct {
	Kind     string `json:"kind"`
	Name     string `json:"name"`
	Ready    bool   `json:"ready"`
	Endpoint string `json:"endpoint"`
	Token    string `json:"token,omitempty"`
}

// Credentials are handed to a job so it can read and write blobs.
type Credentials struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

// JobSpec describes a job submission.
type JobSpec struct {
	Name        string
	Command     string
	Credentials Credentials
}

// JobPlatform is the transcoding job-control platform.
type JobPlatform interface {
	// GetInstance returns (nil, nil) when no instance has that name
	GetInstance(ctx context.Context, kind, name string) (*Instance, error)

	// CreateInstance returns ErrInstanceExists when the name is already taken
	CreateInstance(ctx context.Context, kind, name string) (*Instance, error)

	// CreateJob submits a job and returns its initial state
	CreateJob(ctx context.Context, spec JobSpec) (JobState, error)

	// JobStatus queries a job's current state
	JobStatus(ctx context.Context, name string) (JobState, error)

	// DeleteJob removes a job and its container
	DeleteJob(ctx context.Context, name string) error
}
