// Package api exposes the media library over HTTP. Every route runs in the
// context of the caller's tenant; bodies are JSON with "ok": true on
// success and {"error": "..."} otherwise.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth"
	"github.com/go-chi/render"
	"github.com/tendant/simple-media/pkg/simplemedia"
)

// RouterConfig wires the route layer.
type RouterConfig struct {
	Tenants   TenantResolver
	Pipelines PipelineSubmitter

	// Auth verifies session tokens. When nil every request is served as
	// DefaultTenant.
	Auth          *jwtauth.JWTAuth
	TenantClaim   string
	DefaultTenant string
}

// NewRouter returns the tenant-scoped API router.
func NewRouter(cfg RouterConfig) chi.Router {
	claim := cfg.TenantClaim
	if claim == "" {
		claim = "tenant"
	}

	r := chi.NewRouter()
	r.Use(render.SetContentType(render.ContentTypeJSON))

	if cfg.Auth != nil {
		r.Use(jwtauth.Verifier(cfg.Auth))
		r.Use(SessionMiddleware(claim))
	} else {
		r.Use(StaticTenantMiddleware(cfg.DefaultTenant))
	}
	r.Use(TenantMiddleware(cfg.Tenants))

	r.Mount("/assets", NewAssetHandler(cfg.Pipelines).Routes())
	r.Mount("/collections", NewCollectionHandler().Routes())
	r.Get("/tags", GetTags)
	r.Get("/storage/status", GetStorageStatus)

	return r
}

// TagsResponse lists tags by descending usage
type TagsResponse struct {
	OK   bool                   `json:"ok"`
	Tags []simplemedia.TagCount `json:"tags"`
}

// GetTags lists every tag with its usage count
func GetTags(w http.ResponseWriter, r *http.Request) {
	tags, err := handles(r).Store.GetAllTags(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if tags == nil {
		tags = []simplemedia.TagCount{}
	}
	render.JSON(w, r, TagsResponse{OK: true, Tags: tags})
}
