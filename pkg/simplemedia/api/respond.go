package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/render"
	"github.com/tendant/simple-media/pkg/simplemedia"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// OKResponse is the body of a successful request with nothing else to say.
type OKResponse struct {
	OK bool `json:"ok"`
}

// statusFor maps an error to an HTTP status and a message safe to return.
func statusFor(err error) (int, string) {
	var pe *simplemedia.PlatformError
	switch {
	case errors.Is(err, simplemedia.ErrTenantNotFound):
		return http.StatusForbidden, "tenant is not entitled"
	case simplemedia.IsNotFound(err):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, simplemedia.ErrInvalidInput), errors.Is(err, simplemedia.ErrInvalidJobName):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, simplemedia.ErrAssetBusy):
		return http.StatusConflict, err.Error()
	case errors.Is(err, simplemedia.ErrQueueFull):
		return http.StatusServiceUnavailable, err.Error()
	case errors.As(err, &pe):
		return http.StatusServiceUnavailable, "media platform unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: msg})
}

func writeMessage(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: msg})
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalidf("%s must be an integer", name)
	}
	return n, nil
}
