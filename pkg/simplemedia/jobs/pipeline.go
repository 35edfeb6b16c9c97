package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/objectkey"
)

// AssetUpdater is the part of the metadata store the pipeline writes through.
type AssetUpdater interface {
	UpdateAsset(ctx context.Context, id string, patch simplemedia.AssetPatch) (*simplemedia.Asset, error)
}

// CommandBuilder renders the command lines run inside transcoding jobs.
type CommandBuilder interface {
	ProxyCommand(sourceKey, targetKey string) string
	ThumbnailCommand(sourceKey, targetKey string) string
}

// FFmpegCommands renders ffmpeg invocations over object keys. The job
// image resolves keys against the bucket in its credentials.
type FFmpegCommands struct {
	ProxyHeight int
	ThumbnailAt time.Duration
}

func (c FFmpegCommands) ProxyCommand(sourceKey, targetKey string) string {
	height := c.ProxyHeight
	if height <= 0 {
		height = 720
	}
	return fmt.Sprintf("ffmpeg -y -i s3://%s -vf scale=-2:%d -c:v libx264 -preset veryfast -crf 28 -c:a aac -movflags +faststart s3://%s",
		sourceKey, height, targetKey)
}

func (c FFmpegCommands) ThumbnailCommand(sourceKey, targetKey string) string {
	return fmt.Sprintf("ffmpeg -y -ss %.3f -i s3://%s -frames:v 1 -vf scale=480:-2 s3://%s",
		c.ThumbnailAt.Seconds(), sourceKey, targetKey)
}

// Pipeline generates a proxy rendition and a thumbnail for video assets and
// records the outcome in the asset's proxy status.
type Pipeline struct {
	engine      *Engine
	assets      AssetUpdater
	keys        objectkey.Layout
	commands    CommandBuilder
	credentials simplemedia.Credentials
	logger      *slog.Logger

	proxyMaxWait     time.Duration
	thumbnailMaxWait time.Duration
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

func WithCommands(commands CommandBuilder) PipelineOption {
	return func(p *Pipeline) {
		if commands != nil {
			p.commands = commands
		}
	}
}

func WithCredentials(creds simplemedia.Credentials) PipelineOption {
	return func(p *Pipeline) {
		p.credentials = creds
	}
}

// WithMaxWait bounds how long each job is polled.
func WithMaxWait(proxy, thumbnail time.Duration) PipelineOption {
	return func(p *Pipeline) {
		if proxy > 0 {
			p.proxyMaxWait = proxy
		}
		if thumbnail > 0 {
			p.thumbnailMaxWait = thumbnail
		}
	}
}

func WithPipelineLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPipeline creates a pipeline writing results through assets and placing
// artifacts under keys.
func NewPipeline(engine *Engine, assets AssetUpdater, keys objectkey.Layout, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		engine:           engine,
		assets:           assets,
		keys:             keys,
		commands:         FFmpegCommands{ThumbnailAt: time.Second},
		logger:           slog.Default(),
		proxyMaxWait:     30 * time.Minute,
		thumbnailMaxWait: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run drives the asset through the pipeline and returns the proxy status it
// ended with. Non-video assets are marked none. Every failure, including a
// panic, ends in ProxyStatusFailed; nothing is returned to the caller.
func (p *Pipeline) Run(ctx context.Context, asset *simplemedia.Asset) (status simplemedia.ProxyStatus) {
	logger := p.logger.With("asset_id", asset.ID)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Pipeline panicked", "panic", r)
			p.markFailed(ctx, asset.ID)
			status = simplemedia.ProxyStatusFailed
		}
		pipelineRunsTotal.WithLabelValues(string(status)).Inc()
	}()

	if !asset.IsVideo() {
		if err := p.setStatus(ctx, asset.ID, simplemedia.ProxyStatusNone); err != nil {
			logger.Error("Failed to mark non-video asset", "error", err)
		}
		return simplemedia.ProxyStatusNone
	}

	status, err := p.process(ctx, asset, logger)
	if err != nil {
		logger.Error("Derived artifact pipeline failed", "error", err)
		p.markFailed(ctx, asset.ID)
		return simplemedia.ProxyStatusFailed
	}
	return status
}

func (p *Pipeline) process(ctx context.Context, asset *simplemedia.Asset, logger *slog.Logger) (simplemedia.ProxyStatus, error) {
	// Keys from an earlier run are dropped so a failed re-run leaves none behind.
	if _, err := p.assets.UpdateAsset(ctx, asset.ID, resetPatch(simplemedia.ProxyStatusProcessing)); err != nil {
		return "", err
	}

	source := asset.StorageKey
	if source == "" {
		source = p.keys.Original(asset.ID, asset.FileName)
	}
	proxyKey := p.keys.Proxy(asset.ID)
	proxyJob := jobName("proxy")
	if _, err := p.engine.CreateJob(ctx, proxyJob, p.commands.ProxyCommand(source, proxyKey), p.credentials); err != nil {
		return "", err
	}
	if state := p.engine.PollUntilTerminal(ctx, proxyJob, p.proxyMaxWait); state != simplemedia.JobStateComplete {
		logger.Warn("Proxy job did not complete", "job", proxyJob, "state", state)
		p.engine.RemoveJob(ctx, proxyJob)
		if _, err := p.assets.UpdateAsset(ctx, asset.ID, resetPatch(simplemedia.ProxyStatusFailed)); err != nil {
			return "", err
		}
		return simplemedia.ProxyStatusFailed, nil
	}

	var thumbnailKey string
	thumbJob := jobName("thumb")
	target := p.keys.Thumbnail(asset.ID)
	if _, err := p.engine.CreateJob(ctx, thumbJob, p.commands.ThumbnailCommand(proxyKey, target), p.credentials); err != nil {
		logger.Warn("Failed to submit thumbnail job", "job", thumbJob, "error", err)
		thumbJob = ""
	} else if state := p.engine.PollUntilTerminal(ctx, thumbJob, p.thumbnailMaxWait); state == simplemedia.JobStateComplete {
		thumbnailKey = target
	} else {
		logger.Warn("Thumbnail job did not complete", "job", thumbJob, "state", state)
	}

	p.engine.RemoveJob(ctx, proxyJob)
	if thumbJob != "" {
		p.engine.RemoveJob(ctx, thumbJob)
	}

	ready := simplemedia.ProxyStatusReady
	patch := simplemedia.AssetPatch{ProxyStatus: &ready, ProxyKey: &proxyKey}
	if thumbnailKey != "" {
		patch.ThumbnailKey = &thumbnailKey
	}
	if _, err := p.assets.UpdateAsset(ctx, asset.ID, patch); err != nil {
		return "", err
	}
	logger.Info("Derived artifacts ready", "proxy_key", proxyKey, "thumbnail_key", thumbnailKey)
	return ready, nil
}

func (p *Pipeline) setStatus(ctx context.Context, id string, status simplemedia.ProxyStatus) error {
	_, err := p.assets.UpdateAsset(ctx, id, simplemedia.AssetPatch{ProxyStatus: &status})
	return err
}

// resetPatch sets status and clears the proxy and thumbnail keys.
func resetPatch(status simplemedia.ProxyStatus) simplemedia.AssetPatch {
	empty := ""
	return simplemedia.AssetPatch{ProxyStatus: &status, ProxyKey: &empty, ThumbnailKey: &empty}
}

// markFailed records ProxyStatusFailed and clears the derived keys even when
// ctx is already cancelled. A failure of this write is logged only.
func (p *Pipeline) markFailed(ctx context.Context, id string) {
	if _, err := p.assets.UpdateAsset(context.WithoutCancel(ctx), id, resetPatch(simplemedia.ProxyStatusFailed)); err != nil {
		p.logger.Warn("Failed to mark asset failed", "asset_id", id, "error", err)
	}
}

// jobName builds a platform-safe job name: kind followed by a dashless uuid.
func jobName(kind string) string {
	return kind + strings.ReplaceAll(uuid.NewString(), "-", "")
}
