package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/jobs"
)

// PipelineSubmitter queues an asset for detached derived-artifact generation.
type PipelineSubmitter interface {
	Submit(ctx context.Context, task jobs.Task) error
}

// AssetHandler serves asset CRUD, upload, download and search endpoints.
type AssetHandler struct {
	pipelines PipelineSubmitter
}

// NewAssetHandler creates an asset handler. pipelines may be nil, in which
// case video uploads cannot be completed.
func NewAssetHandler(pipelines PipelineSubmitter) *AssetHandler {
	return &AssetHandler{pipelines: pipelines}
}

// Routes returns the routes for assets
func (h *AssetHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListAssets)
	r.Post("/", h.CreateAsset)
	r.Get("/search", h.SearchAssets)
	r.Get("/{id}", h.GetAsset)
	r.Patch("/{id}", h.UpdateAsset)
	r.Delete("/{id}", h.DeleteAsset)
	r.Post("/{id}/complete", h.CompleteUpload)
	r.Get("/{id}/urls", h.GetURLs)

	return r
}

// CreateAssetRequest is the request body for creating an asset
type CreateAssetRequest struct {
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
	Collections []string          `json:"collections"`
}

// UpdateAssetRequest is a partial update; omitted fields are left unchanged.
type UpdateAssetRequest struct {
	FileName    *string           `json:"file_name"`
	Duration    *float64          `json:"duration"`
	Resolution  *string           `json:"resolution"`
	Codec       *string           `json:"codec"`
	Title       *string           `json:"title"`
	Description *string           `json:"description"`
	Tags        *[]string         `json:"tags"`
	Metadata    map[string]string `json:"metadata"`
	Collections *[]string         `json:"collections"`
}

// AssetResponse wraps one asset
type AssetResponse struct {
	OK        bool               `json:"ok"`
	Asset     *simplemedia.Asset `json:"asset"`
	UploadURL string             `json:"upload_url,omitempty"`
}

// AssetListResponse is one page of assets
type AssetListResponse struct {
	OK bool `json:"ok"`
	*simplemedia.AssetPage
}

// DeleteAssetResponse reports how many blobs went with the asset
type DeleteAssetResponse struct {
	OK             bool `json:"ok"`
	DeletedObjects int  `json:"deleted_objects"`
}

// CompleteUploadResponse reports what happens next to the asset
type CompleteUploadResponse struct {
	OK          bool                    `json:"ok"`
	AssetID     string                  `json:"asset_id"`
	ProxyStatus simplemedia.ProxyStatus `json:"proxy_status"`
	Queued      bool                    `json:"queued"`
}

// URLsResponse holds time-limited download URLs keyed by artifact
type URLsResponse struct {
	OK   bool              `json:"ok"`
	URLs map[string]string `json:"urls"`
}

// CreateAsset records a new asset and returns a presigned upload URL for
// its original.
func (h *AssetHandler) CreateAsset(w http.ResponseWriter, r *http.Request) {
	var req CreateAssetRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, invalidf("malformed body: %v", err))
		return
	}
	if strings.TrimSpace(req.FileName) == "" {
		writeError(w, r, invalidf("file_name is required"))
		return
	}
	if req.MimeType == "" {
		writeError(w, r, invalidf("mime_type is required"))
		return
	}
	if req.FileSize < 0 {
		writeError(w, r, invalidf("file_size cannot be negative"))
		return
	}
	title := req.Title
	if title == "" {
		title = req.FileName
	}

	th := handles(r)
	ctx := r.Context()
	asset, err := th.Store.CreateAsset(ctx, simplemedia.NewAsset{
		FileName:    req.FileName,
		MimeType:    req.MimeType,
		FileSize:    req.FileSize,
		Duration:    req.Duration,
		Resolution:  req.Resolution,
		Codec:       req.Codec,
		Title:       title,
		Description: req.Description,
		Tags:        req.Tags,
		Metadata:    req.Metadata,
		Collections: req.Collections,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	key := th.Keys.Original(asset.ID, asset.FileName)
	asset, err = th.Store.UpdateAsset(ctx, asset.ID, simplemedia.AssetPatch{StorageKey: &key})
	if err != nil {
		writeError(w, r, err)
		return
	}

	uploadURL, err := th.Blobs.UploadURL(ctx, key, asset.MimeType)
	if err != nil {
		slog.Error("Failed to issue upload URL", "asset_id", asset.ID, "error", err)
		writeError(w, r, err)
		return
	}

	slog.Info("Asset created", "tenant", th.Tenant.ID, "asset_id", asset.ID)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, AssetResponse{OK: true, Asset: asset, UploadURL: uploadURL})
}

// GetAsset returns one asset
func (h *AssetHandler) GetAsset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	asset, err := handles(r).Store.GetAsset(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if asset == nil {
		writeError(w, r, simplemedia.ErrAssetNotFound)
		return
	}
	render.JSON(w, r, AssetResponse{OK: true, Asset: asset})
}

// UpdateAsset applies a partial update
func (h *AssetHandler) UpdateAsset(w http.ResponseWriter, r *http.Request) {
	var req UpdateAssetRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, invalidf("malformed body: %v", err))
		return
	}
	if req.FileName != nil && strings.TrimSpace(*req.FileName) == "" {
		writeError(w, r, invalidf("file_name cannot be empty"))
		return
	}

	asset, err := handles(r).Store.UpdateAsset(r.Context(), chi.URLParam(r, "id"), simplemedia.AssetPatch{
		FileName:    req.FileName,
		Duration:    req.Duration,
		Resolution:  req.Resolution,
		Codec:       req.Codec,
		Title:       req.Title,
		Description: req.Description,
		Tags:        req.Tags,
		Metadata:    req.Metadata,
		Collections: req.Collections,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, AssetResponse{OK: true, Asset: asset})
}

// DeleteAsset removes the asset record, its index entries and its blobs.
// Blob removal is best effort.
func (h *AssetHandler) DeleteAsset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	th := handles(r)
	ctx := r.Context()

	deleted, err := th.Store.DeleteAsset(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !deleted {
		writeError(w, r, simplemedia.ErrAssetNotFound)
		return
	}

	removed := 0
	for _, prefix := range th.Keys.AssetPrefixes(id) {
		n, err := th.Blobs.DeletePrefix(ctx, prefix)
		removed += n
		if err != nil {
			slog.Warn("Failed to delete asset blobs", "asset_id", id, "prefix", prefix, "error", err)
		}
	}

	slog.Info("Asset deleted", "tenant", th.Tenant.ID, "asset_id", id, "objects", removed)
	render.JSON(w, r, DeleteAssetResponse{OK: true, DeletedObjects: removed})
}

// ListAssets lists a page of assets
func (h *AssetHandler) ListAssets(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page")
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	sort := simplemedia.SortField(q.Get("sort"))
	switch sort {
	case "", simplemedia.SortByCreatedAt, simplemedia.SortByTitle, simplemedia.SortByFileSize, simplemedia.SortByDuration:
	default:
		writeError(w, r, invalidf("unknown sort %q", sort))
		return
	}
	order := simplemedia.SortOrder(q.Get("order"))
	switch order {
	case "", simplemedia.OrderAsc, simplemedia.OrderDesc:
	default:
		writeError(w, r, invalidf("order must be asc or desc"))
		return
	}

	result, err := handles(r).Store.ListAssets(r.Context(), simplemedia.ListAssetsRequest{
		Page:         page,
		Limit:        limit,
		Sort:         sort,
		Order:        order,
		TypeFilter:   q.Get("type"),
		CollectionID: q.Get("collection"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, AssetListResponse{OK: true, AssetPage: result})
}

// SearchAssets runs a free-text AND search over titles, descriptions and tags
func (h *AssetHandler) SearchAssets(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page")
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	result, err := handles(r).Store.SearchAssets(r.Context(), simplemedia.SearchAssetsRequest{
		Query:      q.Get("q"),
		Page:       page,
		Limit:      limit,
		TypeFilter: q.Get("type"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, AssetListResponse{OK: true, AssetPage: result})
}

// CompleteUpload is called once the original is uploaded. Video assets are
// queued for proxy and thumbnail generation; the response does not wait for
// it.
func (h *AssetHandler) CompleteUpload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	th := handles(r)
	ctx := r.Context()

	asset, err := th.Store.GetAsset(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if asset == nil {
		writeError(w, r, simplemedia.ErrAssetNotFound)
		return
	}

	if !asset.IsVideo() {
		none := simplemedia.ProxyStatusNone
		if asset.ProxyStatus != none {
			if asset, err = th.Store.UpdateAsset(ctx, id, simplemedia.AssetPatch{ProxyStatus: &none}); err != nil {
				writeError(w, r, err)
				return
			}
		}
		render.JSON(w, r, CompleteUploadResponse{OK: true, AssetID: id, ProxyStatus: asset.ProxyStatus})
		return
	}

	if h.pipelines == nil || th.Pipeline == nil {
		writeMessage(w, r, http.StatusServiceUnavailable, "transcoding is not configured")
		return
	}
	if asset.ProxyStatus == simplemedia.ProxyStatusProcessing {
		writeError(w, r, simplemedia.ErrAssetBusy)
		return
	}
	if err := h.pipelines.Submit(ctx, jobs.Task{Pipeline: th.Pipeline, Asset: asset}); err != nil {
		writeError(w, r, err)
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, CompleteUploadResponse{OK: true, AssetID: id, ProxyStatus: asset.ProxyStatus, Queued: true})
}

// GetURLs issues download URLs for every artifact the asset has
func (h *AssetHandler) GetURLs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	th := handles(r)
	ctx := r.Context()

	asset, err := th.Store.GetAsset(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if asset == nil {
		writeError(w, r, simplemedia.ErrAssetNotFound)
		return
	}

	artifacts := []struct {
		name, key, filename string
	}{
		{"original", asset.StorageKey, asset.FileName},
		{"proxy", asset.ProxyKey, ""},
		{"thumbnail", asset.ThumbnailKey, ""},
		{"poster", asset.PosterKey, ""},
	}

	urls := make(map[string]string, len(artifacts))
	for _, a := range artifacts {
		if a.key == "" {
			continue
		}
		u, err := th.Blobs.DownloadURL(ctx, a.key, a.filename)
		if err != nil {
			writeError(w, r, err)
			return
		}
		urls[a.name] = u
	}
	render.JSON(w, r, URLsResponse{OK: true, URLs: urls})
}
