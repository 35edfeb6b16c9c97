package simplemedia

import (
	"errors"
	"fmt"
)

// Error types
var (
	// ErrAssetNotFound indicates an asset was not found
	ErrAssetNotFound = errors.New("asset not found")

	// ErrCollectionNotFound indicates a collection was not found
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrInvalidJobName indicates a job name violates the platform naming rule
	ErrInvalidJobName = errors.New("invalid job name: must match ^[a-z0-9]+$")

	// ErrInstanceExists is returned by a platform when an instance name is taken
	ErrInstanceExists = errors.New("instance already exists")

	// ErrInstanceNotReady indicates an instance did not become ready in time
	ErrInstanceNotReady = errors.New("instance not ready")

	// ErrQueueFull indicates the background pipeline queue cannot accept work
	ErrQueueFull = errors.New("pipeline queue full")

	// ErrAssetBusy indicates the asset's derived artifacts are being produced
	ErrAssetBusy = errors.New("asset is already processing")

	// ErrTenantNotFound indicates the tenant is unknown or not entitled
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrInvalidInput indicates malformed caller input
	ErrInvalidInput = errors.New("invalid input")

	// ErrObjectNotFound indicates a blob key does not exist
	ErrObjectNotFound = errors.New("object not found")
)

// AssetError represents an error related to asset operations
type AssetError struct {
	AssetID string
	Op      string
	Err     error
}

func (e *AssetError) Error() string {
	return fmt.Sprintf("asset operation %s failed for asset %s: %v", e.Op, e.AssetID, e.Err)
}

func (e *AssetError) Unwrap() error {
	return e.Err
}

// CollectionError represents an error related to collection operations
type CollectionError struct {
	CollectionID string
	Op           string
	Err          error
}

func (e *CollectionError) Error() string {
	return fmt.Sprintf("collection operation %s failed for collection %s: %v", e.Op, e.CollectionID, e.Err)
}

func (e *CollectionError) Unwrap() error {
	return e.Err
}

// PlatformError represents a failure talking to the job-control platform.
// Transient errors are worth retrying.
type PlatformError struct {
	Op        string
	Name      string
	Transient bool
	Err       error
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("platform operation %s failed for %s: %v", e.Op, e.Name, e.Err)
}

func (e *PlatformError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a PlatformError marked transient.
func IsTransient(err error) bool {
	var pe *PlatformError
	return errors.As(err, &pe) && pe.Transient
}

// IsNotFound reports whether err is a not-found condition for any entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAssetNotFound) ||
		errors.Is(err, ErrCollectionNotFound) ||
		errors.Is(err, ErrTenantNotFound) ||
		errors.Is(err, ErrObjectNotFound)
}
