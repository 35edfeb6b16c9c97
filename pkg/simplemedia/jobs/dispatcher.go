package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/tendant/simple-media/pkg/simplemedia"
	"golang.org/x/sync/errgroup"
)

// Task is one asset queued for a tenant's pipeline.
type Task struct {
	Pipeline *Pipeline
	Asset    *simplemedia.Asset
}

// Dispatcher runs pipelines detached from the requests that trigger them. A
// fixed pool of workers drains a bounded queue; callers learn the outcome
// only from the asset's persisted proxy status.
type Dispatcher struct {
	queue   chan Task
	workers int
	logger  *slog.Logger

	mu      sync.RWMutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan Task, n)
		}
	}
}

func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		queue:   make(chan Task, 64),
		workers: 4,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the workers. Pipelines run under ctx, so it should outlive
// individual requests; cancelling it makes in-flight polls time out.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true

	ctx, d.cancel = context.WithCancel(ctx)
	d.group, ctx = errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		d.group.Go(func() error {
			d.work(ctx)
			return nil
		})
	}
	d.logger.Info("Pipeline dispatcher started", "workers", d.workers, "queue_size", cap(d.queue))
}

func (d *Dispatcher) work(ctx context.Context) {
	for task := range d.queue {
		pipelineQueueDepth.Dec()
		task.Pipeline.Run(ctx, task.Asset)
	}
}

// Submit queues the asset without blocking. When the queue is full or the
// dispatcher has stopped, the asset is marked failed and ErrQueueFull is
// returned.
func (d *Dispatcher) Submit(ctx context.Context, task Task) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.stopped {
		select {
		case d.queue <- task:
			pipelineQueueDepth.Inc()
			return nil
		default:
		}
	}
	d.logger.Warn("Pipeline queue rejected asset", "asset_id", task.Asset.ID, "stopped", d.stopped)
	task.Pipeline.markFailed(ctx, task.Asset.ID)
	pipelineRunsTotal.WithLabelValues(string(simplemedia.ProxyStatusFailed)).Inc()
	return simplemedia.ErrQueueFull
}

// Stop closes the queue and waits for queued work to drain. If ctx ends
// first, running pipelines are cancelled and ctx's error is returned.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	close(d.queue)
	group, cancel := d.group, d.cancel
	d.mu.Unlock()

	if group == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- group.Wait() }()
	select {
	case err := <-done:
		cancel()
		return err
	case <-ctx.Done():
		cancel()
		<-done
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			d.logger.Warn("Pipeline dispatcher stopped before queue drained")
		}
		return ctx.Err()
	}
}
