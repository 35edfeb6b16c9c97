// Package jobs drives derived-artifact generation on the transcoding
// job-control platform. The platform never pushes notifications, so every
// job is submitted, polled at a fixed interval until it reaches a terminal
// state or a deadline, then removed.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/tendant/simple-media/pkg/simplemedia"
	"golang.org/x/sync/singleflight"
)

// Engine provisions per-tenant instances and runs jobs on a JobPlatform.
type Engine struct {
	platform simplemedia.JobPlatform
	logger   *slog.Logger

	pollInterval time.Duration

	provisionAttempts int
	provisionBackoff  time.Duration
	provisionMaxDelay time.Duration
	readyInterval     time.Duration
	readyTimeout      time.Duration

	provisioning singleflight.Group
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the engine logger.
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithPollInterval sets the fixed delay between job status queries.
func WithPollInterval(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.pollInterval = d
		}
	}
}

// WithProvisioning bounds instance creation retries: at most attempts calls,
// with exponential backoff starting at backoff and capped at maxDelay.
func WithProvisioning(attempts int, backoff, maxDelay time.Duration) EngineOption {
	return func(e *Engine) {
		if attempts > 0 {
			e.provisionAttempts = attempts
		}
		if backoff > 0 {
			e.provisionBackoff = backoff
		}
		if maxDelay >= e.provisionBackoff {
			e.provisionMaxDelay = maxDelay
		}
	}
}

// WithReadyWait sets how often and for how long EnsureInstance waits for a
// new instance to report ready.
func WithReadyWait(interval, timeout time.Duration) EngineOption {
	return func(e *Engine) {
		if interval > 0 {
			e.readyInterval = interval
		}
		if timeout > 0 {
			e.readyTimeout = timeout
		}
	}
}

// NewEngine creates an engine over platform.
func NewEngine(platform simplemedia.JobPlatform, opts ...EngineOption) *Engine {
	e := &Engine{
		platform:          platform,
		logger:            slog.Default(),
		pollInterval:      5 * time.Second,
		provisionAttempts: 5,
		provisionBackoff:  500 * time.Millisecond,
		provisionMaxDelay: 10 * time.Second,
		readyInterval:     2 * time.Second,
		readyTimeout:      3 * time.Minute,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.provisionMaxDelay < e.provisionBackoff {
		e.provisionMaxDelay = e.provisionBackoff
	}
	return e
}

// EnsureInstance returns the named instance, creating it if needed and
// waiting until it is ready. Concurrent calls for the same kind and name
// share one provisioning attempt; an "already exists" answer from the
// platform is treated as success. The shared attempt is not tied to any
// caller's ctx: a caller whose ctx ends gets a transient PlatformError while
// provisioning carries on under its own deadline.
func (e *Engine) EnsureInstance(ctx context.Context, kind, name string) (*simplemedia.Instance, error) {
	ch := e.provisioning.DoChan(kind+"/"+name, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.provisionDeadline())
		defer cancel()
		inst, err := e.ensureInstance(shared, kind, name)
		if err != nil {
			instanceProvisionsTotal.WithLabelValues(kind, "error").Inc()
			return nil, err
		}
		return inst, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*simplemedia.Instance), nil
	case <-ctx.Done():
		return nil, &simplemedia.PlatformError{Op: "provision", Name: name, Transient: true, Err: ctx.Err()}
	}
}

// provisionDeadline bounds one shared attempt: every creation retry at the
// maximum backoff, the readiness wait, and a minute for platform calls.
func (e *Engine) provisionDeadline() time.Duration {
	return time.Duration(e.provisionAttempts)*e.provisionMaxDelay + e.readyTimeout + time.Minute
}

func (e *Engine) ensureInstance(ctx context.Context, kind, name string) (*simplemedia.Instance, error) {
	inst, err := e.platform.GetInstance(ctx, kind, name)
	if err != nil {
		return nil, &simplemedia.PlatformError{Op: "get_instance", Name: name, Transient: simplemedia.IsTransient(err), Err: err}
	}
	if inst != nil {
		instanceProvisionsTotal.WithLabelValues(kind, "existing").Inc()
		if inst.Ready {
			return inst, nil
		}
		return e.waitReady(ctx, kind, name)
	}

	policy := retrypolicy.NewBuilder[*simplemedia.Instance]().
		HandleIf(func(_ *simplemedia.Instance, err error) bool {
			return retryableProvisionError(err)
		}).
		WithBackoff(e.provisionBackoff, e.provisionMaxDelay).
		WithMaxRetries(e.provisionAttempts - 1).
		WithJitterFactor(0.1).
		ReturnLastFailure().
		OnRetry(func(ev failsafe.ExecutionEvent[*simplemedia.Instance]) {
			e.logger.Warn("Retrying instance creation",
				"kind", kind, "name", name, "attempt", ev.Attempts(), "error", ev.LastError())
		}).
		Build()

	created, err := failsafe.With(policy).WithContext(ctx).Get(func() (*simplemedia.Instance, error) {
		return e.platform.CreateInstance(ctx, kind, name)
	})
	switch {
	case errors.Is(err, simplemedia.ErrInstanceExists):
		e.logger.Info("Instance created concurrently", "kind", kind, "name", name)
	case err != nil:
		return nil, &simplemedia.PlatformError{Op: "create_instance", Name: name, Transient: simplemedia.IsTransient(err), Err: err}
	default:
		instanceProvisionsTotal.WithLabelValues(kind, "created").Inc()
		e.logger.Info("Created instance", "kind", kind, "name", name)
		if created != nil && created.Ready {
			return created, nil
		}
	}
	return e.waitReady(ctx, kind, name)
}

// waitReady polls the instance until it reports ready or readyTimeout passes.
func (e *Engine) waitReady(ctx context.Context, kind, name string) (*simplemedia.Instance, error) {
	ctx, cancel := context.WithTimeout(ctx, e.readyTimeout)
	defer cancel()

	ticker := time.NewTicker(e.readyInterval)
	defer ticker.Stop()
	for {
		inst, err := e.platform.GetInstance(ctx, kind, name)
		switch {
		case err != nil:
			e.logger.Warn("Failed to query instance", "kind", kind, "name", name, "error", err)
		case inst != nil && inst.Ready:
			return inst, nil
		}

		select {
		case <-ctx.Done():
			return nil, &simplemedia.PlatformError{
				Op:        "wait_instance",
				Name:      name,
				Transient: true,
				Err:       fmt.Errorf("%w after %s", simplemedia.ErrInstanceNotReady, e.readyTimeout),
			}
		case <-ticker.C:
		}
	}
}

func retryableProvisionError(err error) bool {
	if err == nil || errors.Is(err, simplemedia.ErrInstanceExists) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pe *simplemedia.PlatformError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return true
}

// CreateJob submits a job after checking its name against the platform
// naming rule, and returns the job's initial state.
func (e *Engine) CreateJob(ctx context.Context, name, command string, creds simplemedia.Credentials) (simplemedia.JobState, error) {
	if !simplemedia.IsValidJobName(name) {
		return "", fmt.Errorf("%w: %q", simplemedia.ErrInvalidJobName, name)
	}
	state, err := e.platform.CreateJob(ctx, simplemedia.JobSpec{Name: name, Command: command, Credentials: creds})
	if err != nil {
		return "", &simplemedia.PlatformError{Op: "create_job", Name: name, Transient: simplemedia.IsTransient(err), Err: err}
	}
	jobsSubmittedTotal.Inc()
	e.logger.Debug("Submitted job", "job", name, "state", state)
	return state, nil
}

// PollUntilTerminal queries the job every poll interval until it reports
// complete, failed or error. It returns JobStateTimeout once maxWait has
// elapsed or ctx is done. Status query failures count as JobStateUnknown and
// polling continues.
func (e *Engine) PollUntilTerminal(ctx context.Context, name string, maxWait time.Duration) simplemedia.JobState {
	start := time.Now()
	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		state, err := e.platform.JobStatus(ctx, name)
		if err != nil {
			e.logger.Warn("Failed to query job status", "job", name, "error", err)
			state = simplemedia.JobStateUnknown
		}
		if state.IsTerminal() {
			e.observe(name, state, start)
			return state
		}

		select {
		case <-deadline.C:
			e.observe(name, simplemedia.JobStateTimeout, start)
			return simplemedia.JobStateTimeout
		case <-ctx.Done():
			e.observe(name, simplemedia.JobStateTimeout, start)
			return simplemedia.JobStateTimeout
		case <-ticker.C:
		}
	}
}

func (e *Engine) observe(name string, state simplemedia.JobState, start time.Time) {
	jobTerminalStatesTotal.WithLabelValues(string(state)).Inc()
	jobWaitDuration.Observe(time.Since(start).Seconds())
	e.logger.Info("Job finished polling", "job", name, "state", state, "elapsed", time.Since(start))
}

// RemoveJob deletes a job. Failures are logged and never returned.
func (e *Engine) RemoveJob(ctx context.Context, name string) {
	if err := e.platform.DeleteJob(ctx, name); err != nil {
		e.logger.Warn("Failed to remove job", "job", name, "error", err)
	}
}
