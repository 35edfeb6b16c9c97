package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/tendant/simple-media/pkg/simplemedia"
)

// CollectionHandler serves collection CRUD and membership endpoints.
type CollectionHandler struct{}

func NewCollectionHandler() *CollectionHandler {
	return &CollectionHandler{}
}

// Routes returns the routes for collections
func (h *CollectionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListCollections)
	r.Post("/", h.CreateCollection)
	r.Get("/{id}", h.GetCollection)
	r.Patch("/{id}", h.UpdateCollection)
	r.Delete("/{id}", h.DeleteCollection)

	r.Put("/{id}/assets/{asset_id}", h.AddAsset)
	r.Delete("/{id}/assets/{asset_id}", h.RemoveAsset)

	return r
}

// CollectionRequest is the body of create and update calls. On update,
// omitted fields are left unchanged.
type CollectionRequest struct {
	Name         *string `json:"name"`
	Description  *string `json:"description"`
	CoverAssetID *string `json:"cover_asset_id"`
}

// CollectionResponse wraps one collection
type CollectionResponse struct {
	OK         bool                    `json:"ok"`
	Collection *simplemedia.Collection `json:"collection"`
}

// CollectionListResponse lists every collection
type CollectionListResponse struct {
	OK          bool                      `json:"ok"`
	Collections []*simplemedia.Collection `json:"collections"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// CreateCollection creates a collection
func (h *CollectionHandler) CreateCollection(w http.ResponseWriter, r *http.Request) {
	var req CollectionRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, invalidf("malformed body: %v", err))
		return
	}
	if strings.TrimSpace(deref(req.Name)) == "" {
		writeError(w, r, invalidf("name is required"))
		return
	}

	c, err := handles(r).Store.CreateCollection(r.Context(), simplemedia.NewCollection{
		Name:         deref(req.Name),
		Description:  deref(req.Description),
		CoverAssetID: deref(req.CoverAssetID),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("Collection created", "collection_id", c.ID)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, CollectionResponse{OK: true, Collection: c})
}

// GetCollection returns one collection
func (h *CollectionHandler) GetCollection(w http.ResponseWriter, r *http.Request) {
	c, err := handles(r).Store.GetCollection(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if c == nil {
		writeError(w, r, simplemedia.ErrCollectionNotFound)
		return
	}
	render.JSON(w, r, CollectionResponse{OK: true, Collection: c})
}

// UpdateCollection applies a partial update
func (h *CollectionHandler) UpdateCollection(w http.ResponseWriter, r *http.Request) {
	var req CollectionRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, invalidf("malformed body: %v", err))
		return
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		writeError(w, r, invalidf("name cannot be empty"))
		return
	}

	c, err := handles(r).Store.UpdateCollection(r.Context(), chi.URLParam(r, "id"), simplemedia.CollectionPatch{
		Name:         req.Name,
		Description:  req.Description,
		CoverAssetID: req.CoverAssetID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, CollectionResponse{OK: true, Collection: c})
}

// DeleteCollection deletes a collection and drops it from its members
func (h *CollectionHandler) DeleteCollection(w http.ResponseWriter, r *http.Request) {
	deleted, err := handles(r).Store.DeleteCollection(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !deleted {
		writeError(w, r, simplemedia.ErrCollectionNotFound)
		return
	}
	render.JSON(w, r, OKResponse{OK: true})
}

// ListCollections lists every collection
func (h *CollectionHandler) ListCollections(w http.ResponseWriter, r *http.Request) {
	collections, err := handles(r).Store.ListCollections(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if collections == nil {
		collections = []*simplemedia.Collection{}
	}
	render.JSON(w, r, CollectionListResponse{OK: true, Collections: collections})
}

// AddAsset adds an asset to a collection. Repeating the call is a no-op.
func (h *CollectionHandler) AddAsset(w http.ResponseWriter, r *http.Request) {
	err := handles(r).Store.AddAssetToCollection(r.Context(), chi.URLParam(r, "asset_id"), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, OKResponse{OK: true})
}

// RemoveAsset removes an asset from a collection
func (h *CollectionHandler) RemoveAsset(w http.ResponseWriter, r *http.Request) {
	err := handles(r).Store.RemoveAssetFromCollection(r.Context(), chi.URLParam(r, "asset_id"), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, OKResponse{OK: true})
}
