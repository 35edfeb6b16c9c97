package api

import (
	"net/http"

	"github.com/go-chi/render"
	"github.com/tendant/simple-media/pkg/simplemedia"
)

// StorageStatusResponse reports the tenant's blob usage by category
type StorageStatusResponse struct {
	OK     bool                      `json:"ok"`
	Tenant string                    `json:"tenant"`
	Usage  *simplemedia.StorageUsage `json:"usage"`
}

// GetStorageStatus aggregates usage under the tenant's key prefix
func GetStorageStatus(w http.ResponseWriter, r *http.Request) {
	th := handles(r)
	usage, err := th.Blobs.Usage(r.Context(), th.Keys.Prefix())
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, StorageStatusResponse{OK: true, Tenant: th.Tenant.ID, Usage: usage})
}
