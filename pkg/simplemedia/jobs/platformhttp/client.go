// Package platformhttp is a REST client for the transcoding job-control
// platform.
//
//	GET    /instances/{kind}/{name}   200 Instance | 404
//	POST   /instances                 201 Instance | 409 already exists
//	POST   /jobs                      201 {"name","state"}
//	GET    /jobs/{name}               200 {"name","state"}
//	DELETE /jobs/{name}               204 | 404
package platformhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/tendant/simple-media/pkg/simplemedia"
)

// Client implements simplemedia.JobPlatform over HTTP. Reads and deletes are
// retried on transport errors, 5xx and 429; creates are sent once and left to
// the caller's retry policy.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger

	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	executor   failsafe.Executor[*http.Response]
}

var _ simplemedia.JobPlatform = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRetries sets the retry budget for idempotent requests.
func WithRetries(maxRetries int, baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		if maxRetries >= 0 {
			c.maxRetries = maxRetries
		}
		if baseDelay > 0 {
			c.baseDelay = baseDelay
		}
		if maxDelay > 0 {
			c.maxDelay = maxDelay
		}
	}
}

// New creates a client for the platform at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
		maxRetries: 3,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxDelay < c.baseDelay {
		c.maxDelay = c.baseDelay
	}
	c.executor = failsafe.With(c.retryPolicy())
	return c
}

// shouldRetry reports whether a response or error is worth another attempt.
func shouldRetry(resp *http.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}
	if resp == nil {
		return true
	}
	return isTransientStatus(resp.StatusCode)
}

func isTransientStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		http.StatusTooManyRequests:
		return true
	}
	return false
}

//nolint:bodyclose // *http.Response is the policy's result type parameter
func (c *Client) retryPolicy() retrypolicy.RetryPolicy[*http.Response] {
	return retrypolicy.NewBuilder[*http.Response]().
		HandleIf(shouldRetry).
		WithBackoff(c.baseDelay, c.maxDelay).
		WithMaxRetries(c.maxRetries).
		WithJitterFactor(0.1).
		ReturnLastFailure().
		OnRetry(func(e failsafe.ExecutionEvent[*http.Response]) {
			if resp := e.LastResult(); resp != nil {
				drain(resp)
			}
			c.logger.Debug("Retrying platform request", "attempt", e.Attempts(), "error", e.LastError())
		}).
		Build()
}

type instanceRequest struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
}

type jobRequest struct {
	Name    string            `json:"name"`
	Command string            `json:"command"`
	Env     map[string]string `json:"env,omitempty"`
}

type jobResponse struct {
	Name  string               `json:"name"`
	State simplemedia.JobState `json:"state"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (c *Client) GetInstance(ctx context.Context, kind, name string) (*simplemedia.Instance, error) {
	resp, err := c.do(ctx, http.MethodGet, "/instances/"+url.PathEscape(kind)+"/"+url.PathEscape(name), nil, true)
	if err != nil {
		return nil, transportError("get_instance", name, err)
	}
	defer drain(resp)
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("get_instance", name, resp)
	}
	var inst simplemedia.Instance
	if err := json.NewDecoder(resp.Body).Decode(&inst); err != nil {
		return nil, &simplemedia.PlatformError{Op: "get_instance", Name: name, Err: fmt.Errorf("decode instance: %w", err)}
	}
	return &inst, nil
}

func (c *Client) CreateInstance(ctx context.Context, kind, name string) (*simplemedia.Instance, error) {
	resp, err := c.do(ctx, http.MethodPost, "/instances", instanceRequest{Kind: kind, Name: name}, false)
	if err != nil {
		return nil, transportError("create_instance", name, err)
	}
	defer drain(resp)
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusConflict:
		return nil, &simplemedia.PlatformError{Op: "create_instance", Name: name, Err: simplemedia.ErrInstanceExists}
	default:
		return nil, statusError("create_instance", name, resp)
	}
	var inst simplemedia.Instance
	if err := json.NewDecoder(resp.Body).Decode(&inst); err != nil {
		return nil, &simplemedia.PlatformError{Op: "create_instance", Name: name, Err: fmt.Errorf("decode instance: %w", err)}
	}
	return &inst, nil
}

func (c *Client) CreateJob(ctx context.Context, spec simplemedia.JobSpec) (simplemedia.JobState, error) {
	body := jobRequest{Name: spec.Name, Command: spec.Command, Env: credentialEnv(spec.Credentials)}
	resp, err := c.do(ctx, http.MethodPost, "/jobs", body, false)
	if err != nil {
		return "", transportError("create_job", spec.Name, err)
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", statusError("create_job", spec.Name, resp)
	}
	var job jobResponse
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return "", &simplemedia.PlatformError{Op: "create_job", Name: spec.Name, Err: fmt.Errorf("decode job: %w", err)}
	}
	return job.State, nil
}

func (c *Client) JobStatus(ctx context.Context, name string) (simplemedia.JobState, error) {
	resp, err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(name), nil, true)
	if err != nil {
		return "", transportError("job_status", name, err)
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return "", statusError("job_status", name, resp)
	}
	var job jobResponse
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return "", &simplemedia.PlatformError{Op: "job_status", Name: name, Err: fmt.Errorf("decode job: %w", err)}
	}
	return job.State, nil
}

func (c *Client) DeleteJob(ctx context.Context, name string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/jobs/"+url.PathEscape(name), nil, true)
	if err != nil {
		return transportError("delete_job", name, err)
	}
	defer drain(resp)
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	}
	return statusError("delete_job", name, resp)
}

// do sends one request, through the retry executor when retry is set.
func (c *Client) do(ctx context.Context, method, path string, body any, retry bool) (*http.Response, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, err
		}
	}
	send := func() (*http.Response, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		return c.httpClient.Do(req)
	}
	if !retry {
		return send()
	}
	return c.executor.WithContext(ctx).Get(send)
}

func credentialEnv(creds simplemedia.Credentials) map[string]string {
	env := map[string]string{
		"S3_ENDPOINT":           creds.Endpoint,
		"S3_REGION":             creds.Region,
		"S3_BUCKET":             creds.Bucket,
		"AWS_ACCESS_KEY_ID":     creds.AccessKeyID,
		"AWS_SECRET_ACCESS_KEY": creds.SecretAccessKey,
	}
	for k, v := range env {
		if v == "" {
			delete(env, k)
		}
	}
	return env
}

func transportError(op, name string, err error) error {
	return &simplemedia.PlatformError{Op: op, Name: name, Transient: !errors.Is(err, context.Canceled), Err: err}
}

func statusError(op, name string, resp *http.Response) error {
	msg := resp.Status
	var body errorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil && body.Error != "" {
		msg = body.Error
	}
	return &simplemedia.PlatformError{
		Op:        op,
		Name:      name,
		Transient: isTransientStatus(resp.StatusCode),
		Err:       fmt.Errorf("platform returned %d: %s", resp.StatusCode, msg),
	}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
