// Package downloader runs queued download tasks on a bounded pool of workers
// and coordinates their cancellation.
package downloader

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/italolelis/auto_ytdlp/internal/apperr"
	"github.com/italolelis/auto_ytdlp/internal/archive"
	"github.com/italolelis/auto_ytdlp/internal/downloader/progress"
	"github.com/italolelis/auto_ytdlp/internal/fetch"
	"github.com/italolelis/auto_ytdlp/internal/logctx"
	"github.com/italolelis/auto_ytdlp/internal/rotation"
	"github.com/italolelis/auto_ytdlp/internal/storage"
	"github.com/italolelis/auto_ytdlp/internal/task"
	"github.com/italolelis/auto_ytdlp/internal/telemetry"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	defaultMaxConcurrent = 1
	defaultStopTimeout   = 10 * time.Second
)

// ProgressPublisher receives the progress samples of running tasks.
type ProgressPublisher interface {
	PublishProgress(s progress.Sample)
}

// RotationRequester starts a network identity rotation.
type RotationRequester interface {
	Request(ctx context.Context, reason rotation.Reason) bool
}

// Options configures a Downloader.
type Options struct {
	MaxConcurrent    int
	StopTimeout      time.Duration
	ProgressInterval time.Duration
	SessionID        string
	Fetch            fetch.Options
}

// Option sets an optional collaborator of the Downloader.
type Option func(*Downloader)

// WithProgressPublisher publishes progress samples to p.
func WithProgressPublisher(p ProgressPublisher) Option {
	return func(d *Downloader) { d.progress = p }
}

// WithRotation evaluates trigger after every Completed or Error task and
// forwards its decisions to requester.
func WithRotation(trigger *rotation.Trigger, requester RotationRequester) Option {
	return func(d *Downloader) {
		d.trigger = trigger
		d.rotator = requester
	}
}

// WithHistory records every terminal task in repo.
func WithHistory(repo storage.DownloadWriteRepository) Option {
	return func(d *Downloader) { d.history = repo }
}

// WithTelemetry records download metrics.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(d *Downloader) { d.telemetry = tel }
}

// Downloader dispatches queued tasks of the registry to at most
// MaxConcurrent concurrent fetches.
type Downloader struct {
	registry   *task.Registry
	ledger     *archive.Ledger
	fetcher    fetch.Fetcher
	opts       Options
	controller *Controller

	progress  ProgressPublisher
	trigger   *rotation.Trigger
	rotator   RotationRequester
	history   storage.DownloadWriteRepository
	telemetry *telemetry.Telemetry
}

func NewDownloader(
	registry *task.Registry,
	ledger *archive.Ledger,
	fetcher fetch.Fetcher,
	opts Options,
	options ...Option,
) *Downloader {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = defaultMaxConcurrent
	}

	if opts.StopTimeout <= 0 {
		opts.StopTimeout = defaultStopTimeout
	}

	d := &Downloader{
		registry:   registry,
		ledger:     ledger,
		fetcher:    fetcher,
		opts:       opts,
		controller: newController(),
	}

	for _, o := range options {
		o(d)
	}

	return d
}

// State returns the lifecycle state of the downloader.
func (d *Downloader) State() State {
	return d.controller.State()
}

// Stopping reports whether Stop was called for the current run.
func (d *Downloader) Stopping() bool {
	return d.controller.Stopping()
}

// Reset clears the Stopped state left by a previous Stop so a new session
// can be stopped again before its Run begins. It has no effect in any other
// state.
func (d *Downloader) Reset() {
	d.controller.reset()
}

// Run claims queued tasks in FIFO order and fetches them until the queue is
// empty and every started task finished, or until Stop is called. It returns
// after all started tasks reached a terminal status.
func (d *Downloader) Run(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done, err := d.controller.begin(cancel)
	if err != nil {
		return err
	}
	defer d.controller.finish(done)

	logger.Info("dispatcher started", "max_concurrent", d.opts.MaxConcurrent, "queued", d.registry.QueueLen())

	var (
		g         errgroup.Group
		sem       = semaphore.NewWeighted(int64(d.opts.MaxConcurrent))
		slotFreed = make(chan struct{}, 1)
		inFlight  atomic.Int64
	)

	for !d.controller.Stopping() {
		if err := sem.Acquire(runCtx, 1); err != nil {
			break
		}

		if d.controller.Stopping() {
			sem.Release(1)

			break
		}

		t, ok := d.registry.ClaimNext()
		if !ok {
			sem.Release(1)

			if inFlight.Load() == 0 {
				break
			}

			select {
			case <-d.registry.Ready():
			case <-slotFreed:
			case <-runCtx.Done():
			}

			continue
		}

		d.telemetry.RecordQueueDepth(d.registry.QueueLen())
		inFlight.Add(1)

		g.Go(func() error {
			defer func() {
				sem.Release(1)
				inFlight.Add(-1)

				select {
				case slotFreed <- struct{}{}:
				default:
				}
			}()

			d.dispatch(runCtx, t)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("dispatcher group failed", "err", err)
	}

	if runCtx.Err() != nil {
		if drained := d.registry.DrainQueued(); len(drained) > 0 {
			logger.Info("cancelled queued tasks", "count", len(drained))
		}
	}

	d.telemetry.RecordQueueDepth(d.registry.QueueLen())
	logger.Info("dispatcher finished", "stopped", d.controller.Stopping())

	return ctx.Err()
}

// dispatch runs a claimed task and turns a panic into a terminal Error.
func (d *Downloader) dispatch(ctx context.Context, t task.Task) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}

		logger := logctx.LoggerFromContext(ctx)
		logger.Error("download task panicked", "task_id", t.ID, "url", t.URL,
			"panic", rec, "stack", string(debug.Stack()))
		d.telemetry.RecordSystemError("downloader", "panic")

		err := apperr.New(apperr.KindUnexpected, "download", fmt.Sprint(rec), nil)
		d.finish(ctx, t, outcome{status: task.StatusError, detail: apperr.Describe(err)})
	}()

	d.runTask(ctx, t)
}

// Stop cancels the current run: running fetches are cancelled and their
// processes killed, queued tasks become Cancelled. It waits for the
// dispatcher to return, at most StopTimeout. Stopping twice is a no-op.
func (d *Downloader) Stop(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	done, running, ok := d.controller.requestStop(ctx)
	if !ok {
		logger.Debug("stop already requested")

		return nil
	}

	logger.Info("stopping downloads")

	if drained := d.registry.DrainQueued(); len(drained) > 0 {
		logger.Info("cancelled queued tasks", "count", len(drained))
	}

	if !running {
		return nil
	}

	timer := time.NewTimer(d.opts.StopTimeout)
	defer timer.Stop()

	select {
	case <-done:
		logger.Info("downloads stopped")
	case <-timer.C:
		logger.Warn("timed out waiting for downloads to stop", "timeout", d.opts.StopTimeout)
	case <-ctx.Done():
		logger.Warn("stop interrupted before downloads finished", "err", ctx.Err())

		return ctx.Err()
	}

	return nil
}
