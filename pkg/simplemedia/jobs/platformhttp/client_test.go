package platformhttp_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/jobs/platformhttp"
)

type fakeServer struct {
	mu        sync.Mutex
	instances map[string]simplemedia.Instance
	jobs      map[string]simplemedia.JobState
	env       map[string]map[string]string
	auth      []string
	failGets  int32 // number of leading 503s on GET /jobs/{name}
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	f := &fakeServer{
		instances: make(map[string]simplemedia.Instance),
		jobs:      make(map[string]simplemedia.JobState),
		env:       make(map[string]map[string]string),
	}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			f.mu.Lock()
			f.auth = append(f.auth, req.Header.Get("Authorization"))
			f.mu.Unlock()
			next.ServeHTTP(w, req)
		})
	})
	r.Get("/instances/{kind}/{name}", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		inst, ok := f.instances[chi.URLParam(req, "kind")+"/"+chi.URLParam(req, "name")]
		if !ok {
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, inst)
	})
	r.Post("/instances", func(w http.ResponseWriter, req *http.Request) {
		var body struct{ Kind, Name string }
		_ = json.NewDecoder(req.Body).Decode(&body)
		f.mu.Lock()
		defer f.mu.Unlock()
		key := body.Kind + "/" + body.Name
		if _, ok := f.instances[key]; ok {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "exists"})
			return
		}
		inst := simplemedia.Instance{Kind: body.Kind, Name: body.Name, Endpoint: "redis://" + body.Name}
		f.instances[key] = inst
		writeJSON(w, http.StatusCreated, inst)
	})
	r.Post("/jobs", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Name    string
			Command string
			Env     map[string]string
		}
		_ = json.NewDecoder(req.Body).Decode(&body)
		if body.Command == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "command required"})
			return
		}
		f.mu.Lock()
		f.jobs[body.Name] = simplemedia.JobStateCreated
		f.env[body.Name] = body.Env
		f.mu.Unlock()
		writeJSON(w, http.StatusCreated, map[string]string{"name": body.Name, "state": "created"})
	})
	r.Get("/jobs/{name}", func(w http.ResponseWriter, req *http.Request) {
		if atomic.AddInt32(&f.failGets, -1) >= 0 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "busy"})
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		state, ok := f.jobs[chi.URLParam(req, "name")]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no such job"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"name": chi.URLParam(req, "name"), "state": string(state)})
	})
	r.Delete("/jobs/{name}", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		name := chi.URLParam(req, "name")
		if _, ok := f.jobs[name]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(f.jobs, name)
		w.WriteHeader(http.StatusNoContent)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return f, srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newClient(srv *httptest.Server) *platformhttp.Client {
	return platformhttp.New(srv.URL+"/",
		platformhttp.WithToken("secret"),
		platformhttp.WithRetries(2, time.Millisecond, 5*time.Millisecond))
}

func TestClient_Instances(t *testing.T) {
	ctx := context.Background()
	f, srv := newFakeServer(t)
	c := newClient(srv)

	inst, err := c.GetInstance(ctx, "kv", "acme")
	require.NoError(t, err)
	assert.Nil(t, inst)

	inst, err = c.CreateInstance(ctx, "kv", "acme")
	require.NoError(t, err)
	assert.Equal(t, "redis://acme", inst.Endpoint)

	_, err = c.CreateInstance(ctx, "kv", "acme")
	assert.ErrorIs(t, err, simplemedia.ErrInstanceExists)
	assert.False(t, simplemedia.IsTransient(err))

	inst, err = c.GetInstance(ctx, "kv", "acme")
	require.NoError(t, err)
	require.NotNil(t, inst)
	assert.Equal(t, "acme", inst.Name)

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, h := range f.auth {
		assert.Equal(t, "Bearer secret", h)
	}
}

func TestClient_Jobs(t *testing.T) {
	ctx := context.Background()
	f, srv := newFakeServer(t)
	c := newClient(srv)

	state, err := c.CreateJob(ctx, simplemedia.JobSpec{
		Name:        "proxyabc",
		Command:     "ffmpeg",
		Credentials: simplemedia.Credentials{Bucket: "media", AccessKeyID: "AK"},
	})
	require.NoError(t, err)
	assert.Equal(t, simplemedia.JobStateCreated, state)
	assert.Equal(t, map[string]string{"S3_BUCKET": "media", "AWS_ACCESS_KEY_ID": "AK"}, f.env["proxyabc"])

	f.mu.Lock()
	f.jobs["proxyabc"] = simplemedia.JobStateComplete
	f.mu.Unlock()
	state, err = c.JobStatus(ctx, "proxyabc")
	require.NoError(t, err)
	assert.Equal(t, simplemedia.JobStateComplete, state)

	require.NoError(t, c.DeleteJob(ctx, "proxyabc"))
	// Deleting again is not an error.
	require.NoError(t, c.DeleteJob(ctx, "proxyabc"))

	_, err = c.JobStatus(ctx, "proxyabc")
	require.Error(t, err)
	assert.False(t, simplemedia.IsTransient(err))
	assert.Contains(t, err.Error(), "no such job")
}

func TestClient_CreateJobValidationError(t *testing.T) {
	_, srv := newFakeServer(t)
	c := newClient(srv)

	_, err := c.CreateJob(context.Background(), simplemedia.JobSpec{Name: "proxy1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command required")
	assert.False(t, simplemedia.IsTransient(err))
}

func TestClient_RetriesTransientStatus(t *testing.T) {
	ctx := context.Background()
	f, srv := newFakeServer(t)
	c := newClient(srv)
	f.jobs["thumb1"] = simplemedia.JobStateRunning

	atomic.StoreInt32(&f.failGets, 2)
	state, err := c.JobStatus(ctx, "thumb1")
	require.NoError(t, err)
	assert.Equal(t, simplemedia.JobStateRunning, state)

	atomic.StoreInt32(&f.failGets, 5)
	_, err = c.JobStatus(ctx, "thumb1")
	require.Error(t, err)
	assert.True(t, simplemedia.IsTransient(err))
}

func TestClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := platformhttp.New(srv.URL, platformhttp.WithRetries(0, time.Millisecond, time.Millisecond))

	_, err := c.GetInstance(context.Background(), "kv", "x")
	require.Error(t, err)
	assert.True(t, simplemedia.IsTransient(err))
}
