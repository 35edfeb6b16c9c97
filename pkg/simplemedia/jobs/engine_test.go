package jobs_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/jobs"
)

func newTestEngine(platform simplemedia.JobPlatform) *jobs.Engine {
	return jobs.NewEngine(platform,
		jobs.WithPollInterval(time.Millisecond),
		jobs.WithProvisioning(3, time.Millisecond, 5*time.Millisecond),
		jobs.WithReadyWait(time.Millisecond, 200*time.Millisecond),
	)
}

func transient(msg string) error {
	return &simplemedia.PlatformError{Op: "create_instance", Transient: true, Err: errors.New(msg)}
}

func TestEngine_EnsureInstance(t *testing.T) {
	ctx := context.Background()

	t.Run("ExistingReady", func(t *testing.T) {
		platform := newFakePlatform()
		platform.instances["kv/t1"] = &simplemedia.Instance{Kind: "kv", Name: "t1", Ready: true, Endpoint: "redis://x"}
		engine := newTestEngine(platform)

		inst, err := engine.EnsureInstance(ctx, "kv", "t1")
		require.NoError(t, err)
		assert.Equal(t, "redis://x", inst.Endpoint)
		assert.Zero(t, platform.creates())
	})

	t.Run("RetriesTransientFailures", func(t *testing.T) {
		platform := newFakePlatform()
		platform.createErrs = []error{transient("boom"), transient("boom again")}
		engine := newTestEngine(platform)

		inst, err := engine.EnsureInstance(ctx, "kv", "t2")
		require.NoError(t, err)
		assert.True(t, inst.Ready)
		assert.Equal(t, 3, platform.creates())
	})

	t.Run("GivesUpAfterBoundedAttempts", func(t *testing.T) {
		platform := newFakePlatform()
		platform.createErrs = []error{transient("1"), transient("2"), transient("3"), transient("4")}
		engine := newTestEngine(platform)

		_, err := engine.EnsureInstance(ctx, "kv", "t3")
		require.Error(t, err)
		assert.True(t, simplemedia.IsTransient(err))
		assert.Equal(t, 3, platform.creates())
	})

	t.Run("PermanentFailureNotRetried", func(t *testing.T) {
		platform := newFakePlatform()
		platform.createErrs = []error{&simplemedia.PlatformError{Op: "create_instance", Err: errors.New("quota exceeded")}}
		engine := newTestEngine(platform)

		_, err := engine.EnsureInstance(ctx, "kv", "t4")
		require.Error(t, err)
		assert.Equal(t, 1, platform.creates())
	})

	t.Run("AlreadyExistsIsSuccess", func(t *testing.T) {
		platform := newFakePlatform()
		platform.createErrs = []error{simplemedia.ErrInstanceExists}
		engine := newTestEngine(platform)
		// Another process won the race.
		go func() {
			platform.mu.Lock()
			platform.instances["kv/t5"] = &simplemedia.Instance{Kind: "kv", Name: "t5", Ready: true, Endpoint: "redis://t5"}
			platform.mu.Unlock()
		}()

		inst, err := engine.EnsureInstance(ctx, "kv", "t5")
		require.NoError(t, err)
		assert.Equal(t, "redis://t5", inst.Endpoint)
	})

	t.Run("WaitsUntilReady", func(t *testing.T) {
		platform := newFakePlatform()
		platform.readyAfterGets = 3
		engine := newTestEngine(platform)

		inst, err := engine.EnsureInstance(ctx, "kv", "t6")
		require.NoError(t, err)
		assert.True(t, inst.Ready)
	})

	t.Run("NeverReady", func(t *testing.T) {
		platform := newFakePlatform()
		platform.readyAfterGets = 1 << 30
		engine := jobs.NewEngine(platform,
			jobs.WithReadyWait(time.Millisecond, 20*time.Millisecond))

		_, err := engine.EnsureInstance(ctx, "kv", "t7")
		require.Error(t, err)
		assert.ErrorIs(t, err, simplemedia.ErrInstanceNotReady)
	})

	t.Run("ConcurrentCallsCreateOnce", func(t *testing.T) {
		platform := newFakePlatform()
		platform.createDelay = 10 * time.Millisecond
		engine := newTestEngine(platform)

		var wg sync.WaitGroup
		errs := make([]error, 10)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = engine.EnsureInstance(ctx, "kv", "shared")
			}(i)
		}
		wg.Wait()

		for _, err := range errs {
			assert.NoError(t, err)
		}
		assert.Equal(t, 1, platform.creates())
	})

	t.Run("CallerGivingUpDoesNotAbortProvisioning", func(t *testing.T) {
		platform := newFakePlatform()
		platform.createDelay = 50 * time.Millisecond
		engine := newTestEngine(platform)

		short, cancel := context.WithTimeout(ctx, 5*time.Millisecond)
		defer cancel()
		_, err := engine.EnsureInstance(short, "kv", "slow")
		require.Error(t, err)
		assert.True(t, simplemedia.IsTransient(err))
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		inst, err := engine.EnsureInstance(ctx, "kv", "slow")
		require.NoError(t, err)
		assert.True(t, inst.Ready)
		assert.Equal(t, 1, platform.creates())
	})
}

func TestEngine_CreateJob(t *testing.T) {
	ctx := context.Background()

	t.Run("RejectsInvalidName", func(t *testing.T) {
		platform := newFakePlatform()
		engine := newTestEngine(platform)

		for _, name := range []string{"", "Proxy1", "proxy-1", "proxy_1", "próxy"} {
			_, err := engine.CreateJob(ctx, name, "true", simplemedia.Credentials{})
			assert.ErrorIs(t, err, simplemedia.ErrInvalidJobName, name)
		}
		assert.Empty(t, platform.jobs)
	})

	t.Run("Submits", func(t *testing.T) {
		platform := newFakePlatform()
		engine := newTestEngine(platform)

		creds := simplemedia.Credentials{Bucket: "media", Region: "us-east-1"}
		state, err := engine.CreateJob(ctx, "proxyabc123", "ffmpeg -i in out", creds)
		require.NoError(t, err)
		assert.Equal(t, simplemedia.JobStateCreated, state)
		assert.Equal(t, simplemedia.JobSpec{Name: "proxyabc123", Command: "ffmpeg -i in out", Credentials: creds}, platform.jobs["proxyabc123"])
	})

	t.Run("PlatformError", func(t *testing.T) {
		platform := newFakePlatform()
		platform.createJobErr["proxy"] = errors.New("unavailable")
		engine := newTestEngine(platform)

		_, err := engine.CreateJob(ctx, "proxy1", "true", simplemedia.Credentials{})
		var pe *simplemedia.PlatformError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "create_job", pe.Op)
	})
}

func TestEngine_PollUntilTerminal(t *testing.T) {
	ctx := context.Background()

	t.Run("ReachesTerminalState", func(t *testing.T) {
		platform := newFakePlatform()
		platform.scripts["proxy"] = []simplemedia.JobState{
			simplemedia.JobStateCreated, simplemedia.JobStateRunning, simplemedia.JobStateComplete,
		}
		engine := newTestEngine(platform)

		state := engine.PollUntilTerminal(ctx, "proxy1", time.Second)
		assert.Equal(t, simplemedia.JobStateComplete, state)
		assert.Equal(t, 3, platform.polls["proxy1"])
	})

	t.Run("StatusErrorsKeepPolling", func(t *testing.T) {
		platform := newFakePlatform()
		platform.statusErrs["thumb"] = 2
		platform.scripts["thumb"] = []simplemedia.JobState{simplemedia.JobStateError}
		engine := newTestEngine(platform)

		state := engine.PollUntilTerminal(ctx, "thumb1", time.Second)
		assert.Equal(t, simplemedia.JobStateError, state)
	})

	t.Run("TimesOut", func(t *testing.T) {
		platform := newFakePlatform()
		engine := newTestEngine(platform)

		start := time.Now()
		state := engine.PollUntilTerminal(ctx, "proxy2", 20*time.Millisecond)
		assert.Equal(t, simplemedia.JobStateTimeout, state)
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	})

	t.Run("CancelledContextTimesOut", func(t *testing.T) {
		platform := newFakePlatform()
		engine := newTestEngine(platform)

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.Equal(t, simplemedia.JobStateTimeout, engine.PollUntilTerminal(cctx, "proxy3", time.Hour))
	})
}

func TestEngine_RemoveJobSwallowsErrors(t *testing.T) {
	platform := newFakePlatform()
	platform.deleteErr = errors.New("gone already")
	engine := newTestEngine(platform)

	assert.NotPanics(t, func() { engine.RemoveJob(context.Background(), "proxy1") })
	assert.Equal(t, []string{"proxy1"}, platform.deletedJobs())
}
