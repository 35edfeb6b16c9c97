package jobs_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/jobs"
	"github.com/tendant/simple-media/pkg/simplemedia/objectkey"
	redisstore "github.com/tendant/simple-media/pkg/simplemedia/store/redis"
)

func newTestStore(t *testing.T) *redisstore.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redisstore.New(client)
}

func newTestPipeline(platform *fakePlatform, store jobs.AssetUpdater) *jobs.Pipeline {
	return jobs.NewPipeline(newTestEngine(platform), store, objectkey.New("t1"),
		jobs.WithMaxWait(200*time.Millisecond, 200*time.Millisecond),
		jobs.WithCredentials(simplemedia.Credentials{Bucket: "media"}),
	)
}

func createVideo(t *testing.T, store *redisstore.Store) *simplemedia.Asset {
	t.Helper()
	a, err := store.CreateAsset(context.Background(), simplemedia.NewAsset{
		FileName:   "bbb.mp4",
		MimeType:   "video/mp4",
		Title:      "Big Buck Bunny",
		StorageKey: objectkey.New("t1").Original("ignored", "bbb.mp4"),
	})
	require.NoError(t, err)
	require.Equal(t, simplemedia.ProxyStatusPending, a.ProxyStatus)
	return a
}

func TestPipeline_NonVideo(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	platform := newFakePlatform()
	pipeline := newTestPipeline(platform, store)

	a, err := store.CreateAsset(ctx, simplemedia.NewAsset{MimeType: "image/png", ProxyStatus: simplemedia.ProxyStatusPending})
	require.NoError(t, err)

	assert.Equal(t, simplemedia.ProxyStatusNone, pipeline.Run(ctx, a))
	got, err := store.GetAsset(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, simplemedia.ProxyStatusNone, got.ProxyStatus)
	assert.Empty(t, platform.jobs)
}

func TestPipeline_ProxyCompleteThumbnailError(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	platform := newFakePlatform()
	platform.scripts["proxy"] = []simplemedia.JobState{simplemedia.JobStateRunning, simplemedia.JobStateComplete}
	platform.scripts["thumb"] = []simplemedia.JobState{simplemedia.JobStateError}
	pipeline := newTestPipeline(platform, store)
	a := createVideo(t, store)

	assert.Equal(t, simplemedia.ProxyStatusReady, pipeline.Run(ctx, a))

	got, err := store.GetAsset(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, simplemedia.ProxyStatusReady, got.ProxyStatus)
	assert.Equal(t, objectkey.New("t1").Proxy(a.ID), got.ProxyKey)
	assert.Empty(t, got.ThumbnailKey)

	proxies, thumbs := platform.jobNames("proxy"), platform.jobNames("thumb")
	require.Len(t, proxies, 1)
	require.Len(t, thumbs, 1)
	assert.ElementsMatch(t, []string{proxies[0], thumbs[0]}, platform.deletedJobs())
	for _, name := range append(proxies, thumbs...) {
		assert.True(t, simplemedia.IsValidJobName(name), name)
	}

	spec := platform.jobs[proxies[0]]
	assert.Equal(t, "media", spec.Credentials.Bucket)
	assert.True(t, strings.Contains(spec.Command, a.StorageKey))
}

func TestPipeline_ThumbnailComplete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	platform := newFakePlatform()
	platform.scripts["proxy"] = []simplemedia.JobState{simplemedia.JobStateComplete}
	platform.scripts["thumb"] = []simplemedia.JobState{simplemedia.JobStateComplete}
	pipeline := newTestPipeline(platform, store)
	a := createVideo(t, store)

	require.Equal(t, simplemedia.ProxyStatusReady, pipeline.Run(ctx, a))

	got, err := store.GetAsset(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, objectkey.New("t1").Thumbnail(a.ID), got.ThumbnailKey)
	// Untouched fields survive the status writes.
	assert.Equal(t, "Big Buck Bunny", got.Title)
}

func TestPipeline_ProxyFailed(t *testing.T) {
	for _, state := range []simplemedia.JobState{simplemedia.JobStateFailed, simplemedia.JobStateError} {
		t.Run(string(state), func(t *testing.T) {
			ctx := context.Background()
			store := newTestStore(t)
			platform := newFakePlatform()
			platform.scripts["proxy"] = []simplemedia.JobState{state}
			pipeline := newTestPipeline(platform, store)
			a := createVideo(t, store)

			assert.Equal(t, simplemedia.ProxyStatusFailed, pipeline.Run(ctx, a))

			got, err := store.GetAsset(ctx, a.ID)
			require.NoError(t, err)
			assert.Equal(t, simplemedia.ProxyStatusFailed, got.ProxyStatus)
			assert.Empty(t, got.ProxyKey)
			assert.Empty(t, got.ThumbnailKey)
			assert.Empty(t, platform.jobNames("thumb"))
		})
	}
}

func TestPipeline_RerunDropsEarlierKeys(t *testing.T) {
	ready := func(t *testing.T) (*redisstore.Store, *fakePlatform, *jobs.Pipeline, *simplemedia.Asset) {
		t.Helper()
		store := newTestStore(t)
		platform := newFakePlatform()
		platform.scripts["proxy"] = []simplemedia.JobState{simplemedia.JobStateComplete}
		platform.scripts["thumb"] = []simplemedia.JobState{simplemedia.JobStateComplete}
		pipeline := newTestPipeline(platform, store)
		a := createVideo(t, store)
		require.Equal(t, simplemedia.ProxyStatusReady, pipeline.Run(context.Background(), a))
		return store, platform, pipeline, a
	}

	t.Run("proxy fails", func(t *testing.T) {
		ctx := context.Background()
		store, platform, pipeline, a := ready(t)
		platform.mu.Lock()
		platform.scripts["proxy"] = []simplemedia.JobState{simplemedia.JobStateFailed}
		platform.mu.Unlock()

		assert.Equal(t, simplemedia.ProxyStatusFailed, pipeline.Run(ctx, a))
		got, err := store.GetAsset(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, simplemedia.ProxyStatusFailed, got.ProxyStatus)
		assert.Empty(t, got.ProxyKey)
		assert.Empty(t, got.ThumbnailKey)
	})

	t.Run("thumbnail fails", func(t *testing.T) {
		ctx := context.Background()
		store, platform, pipeline, a := ready(t)
		platform.mu.Lock()
		platform.scripts["thumb"] = []simplemedia.JobState{simplemedia.JobStateError}
		platform.mu.Unlock()

		assert.Equal(t, simplemedia.ProxyStatusReady, pipeline.Run(ctx, a))
		got, err := store.GetAsset(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, objectkey.New("t1").Proxy(a.ID), got.ProxyKey)
		assert.Empty(t, got.ThumbnailKey)
	})

	t.Run("job submit fails", func(t *testing.T) {
		ctx := context.Background()
		store, platform, _, a := ready(t)
		platform.mu.Lock()
		platform.createJobErr["proxy"] = errors.New("platform down")
		platform.mu.Unlock()
		pipeline := newTestPipeline(platform, store)

		assert.Equal(t, simplemedia.ProxyStatusFailed, pipeline.Run(ctx, a))
		got, err := store.GetAsset(ctx, a.ID)
		require.NoError(t, err)
		assert.Empty(t, got.ProxyKey)
		assert.Empty(t, got.ThumbnailKey)
	})
}

func TestPipeline_ProxyTimeout(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	platform := newFakePlatform() // jobs stay running
	pipeline := jobs.NewPipeline(newTestEngine(platform), store, objectkey.New("t1"),
		jobs.WithMaxWait(20*time.Millisecond, 20*time.Millisecond))
	a := createVideo(t, store)

	assert.Equal(t, simplemedia.ProxyStatusFailed, pipeline.Run(ctx, a))
	assert.Len(t, platform.deletedJobs(), 1)
}

func TestPipeline_SubmitErrorMarksFailed(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	platform := newFakePlatform()
	platform.createJobErr["proxy"] = errors.New("platform down")
	pipeline := newTestPipeline(platform, store)
	a := createVideo(t, store)

	assert.Equal(t, simplemedia.ProxyStatusFailed, pipeline.Run(ctx, a))
	got, err := store.GetAsset(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, simplemedia.ProxyStatusFailed, got.ProxyStatus)
}

// flakyUpdater fails every write after the first n.
type flakyUpdater struct {
	inner jobs.AssetUpdater
	n     int
	calls int
}

func (f *flakyUpdater) UpdateAsset(ctx context.Context, id string, patch simplemedia.AssetPatch) (*simplemedia.Asset, error) {
	f.calls++
	if f.calls > f.n {
		return nil, errors.New("store unavailable")
	}
	return f.inner.UpdateAsset(ctx, id, patch)
}

func TestPipeline_FinalWriteFailureIsSwallowed(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	platform := newFakePlatform()
	platform.scripts["proxy"] = []simplemedia.JobState{simplemedia.JobStateComplete}
	platform.scripts["thumb"] = []simplemedia.JobState{simplemedia.JobStateComplete}
	updater := &flakyUpdater{inner: store, n: 1}
	pipeline := newTestPipeline(platform, updater)
	a := createVideo(t, store)

	var status simplemedia.ProxyStatus
	require.NotPanics(t, func() { status = pipeline.Run(ctx, a) })
	assert.Equal(t, simplemedia.ProxyStatusFailed, status)
	// processing write, ready write, failed write
	assert.Equal(t, 3, updater.calls)

	got, err := store.GetAsset(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, simplemedia.ProxyStatusProcessing, got.ProxyStatus)
}

func TestPipeline_MissingAsset(t *testing.T) {
	store := newTestStore(t)
	platform := newFakePlatform()
	pipeline := newTestPipeline(platform, store)

	status := pipeline.Run(context.Background(), &simplemedia.Asset{ID: "missing", MimeType: "video/mp4"})
	assert.Equal(t, simplemedia.ProxyStatusFailed, status)
	assert.Empty(t, platform.jobNames("proxy"))
}

func TestFFmpegCommands(t *testing.T) {
	c := jobs.FFmpegCommands{ProxyHeight: 480, ThumbnailAt: 2 * time.Second}
	assert.Contains(t, c.ProxyCommand("in.mov", "out.mp4"), "scale=-2:480")
	assert.Contains(t, c.ProxyCommand("in.mov", "out.mp4"), "s3://in.mov")
	assert.Contains(t, c.ThumbnailCommand("out.mp4", "thumb.jpg"), "-ss 2.000")
	assert.Contains(t, jobs.FFmpegCommands{}.ProxyCommand("a", "b"), "scale=-2:720")
}
