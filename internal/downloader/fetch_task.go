package downloader

import (
	"context"
	"errors"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/auto_ytdlp/internal/apperr"
	"github.com/italolelis/auto_ytdlp/internal/downloader/progress"
	"github.com/italolelis/auto_ytdlp/internal/fetch"
	"github.com/italolelis/auto_ytdlp/internal/logctx"
	"github.com/italolelis/auto_ytdlp/internal/storage"
	"github.com/italolelis/auto_ytdlp/internal/task"
)

type outcome struct {
	status    task.Status
	detail    string
	retryable bool
	bytes     int64
	speed     float64 // bytes per second
	measured  bool
}

// runTask takes a claimed task to a terminal status.
func (d *Downloader) runTask(ctx context.Context, t task.Task) {
	ctx = logctx.WithTaskID(ctx, t.ID)
	logger := logctx.LoggerFromContext(ctx).With("url", t.URL, "attempt", t.Attempt)
	ctx = logctx.WithLogger(ctx, logger)

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.controller.register(t.ID, cancel)
	defer d.controller.deregister(t.ID)

	var out outcome

	d.telemetry.InstrumentDownload(taskCtx, func(ctx context.Context) string {
		out = d.fetchTask(ctx, t)

		return out.status.String()
	})

	d.finish(ctx, t, out)
}

func (d *Downloader) fetchTask(ctx context.Context, t task.Task) outcome {
	logger := logctx.LoggerFromContext(ctx)
	tracker := progress.NewTracker(t.ID, t.URL, d.opts.ProgressInterval)

	logger.Debug("resolving content")

	info, err := d.fetcher.Resolve(ctx, t.URL, d.opts.Fetch)
	if err != nil {
		return d.failure(ctx, err, tracker)
	}

	d.registry.SetMetadata(t.URL, info.ContentID, info.Title)
	logger = logger.With("content_id", info.ContentID)

	if d.ledger.Contains(info.ContentID) {
		logger.Info("content already archived, skipping", "title", info.Title)

		return outcome{status: task.StatusSkipped}
	}

	logger.Info("downloading", "title", info.Title)

	res, err := d.fetcher.Fetch(ctx, fetch.Request{
		URL:     t.URL,
		Options: d.opts.Fetch,
		OnProgress: func(p fetch.Progress) error {
			if d.controller.Stopping() {
				return fetch.ErrCancelled
			}

			s, publish := tracker.Update(p)
			if publish && d.progress != nil {
				d.progress.PublishProgress(s)
			}

			return nil
		},
		OnStart: func(p fetch.Process) {
			logger.Debug("fetch process started", "pid", p.Pid())
			d.controller.attach(ctx, t.ID, p)
		},
	})

	d.controller.detach(t.ID)

	if err != nil {
		return d.failure(ctx, err, tracker)
	}

	// a stop after a successful fetch must not lose the archive entry
	if err := d.ledger.Add(context.WithoutCancel(ctx), info.ContentID); err != nil {
		logger.Warn("failed to persist archive entry", "err", err)
	}

	speed, measured := tracker.AverageSpeed()
	d.telemetry.RecordDownloadTransfer(res.Bytes, speed)

	logger.Info("download finished",
		"file", res.Filename,
		"size", humanize.Bytes(uint64(max(res.Bytes, 0))),
		"speed", humanize.Bytes(uint64(speed))+"/s",
		"elapsed", res.Elapsed)

	return outcome{
		status:   task.StatusCompleted,
		bytes:    res.Bytes,
		speed:    speed,
		measured: measured,
	}
}

// failure maps a fetch error to Cancelled when the task was stopped and to
// Error otherwise.
func (d *Downloader) failure(ctx context.Context, err error, tracker *progress.Tracker) outcome {
	speed, measured := tracker.AverageSpeed()
	out := outcome{
		bytes:    tracker.Last().BytesTransferred,
		speed:    speed,
		measured: measured,
	}

	if errors.Is(err, fetch.ErrCancelled) ||
		errors.Is(err, context.Canceled) ||
		ctx.Err() != nil ||
		d.controller.Stopping() {
		out.status = task.StatusCancelled

		return out
	}

	kind := apperr.Classify(err)
	logctx.LoggerFromContext(ctx).Error("download failed", "kind", kind, "err", err)

	out.status = task.StatusError
	out.detail = apperr.Describe(err)
	out.retryable = apperr.Retryable(kind)

	return out
}

// finish records the terminal status and runs the follow-ups of a finished
// task: rotation evaluation and the download history.
func (d *Downloader) finish(ctx context.Context, t task.Task, out outcome) {
	logger := logctx.LoggerFromContext(ctx)

	var (
		final task.Task
		err   error
	)

	if out.status == task.StatusError {
		final, err = d.registry.SetFailure(ctx, t.URL, out.detail, out.retryable)
	} else {
		final, err = d.registry.SetTerminal(ctx, t.URL, out.status, out.detail)
	}

	if err != nil {
		return
	}

	switch final.Status {
	case task.StatusCancelled:
		logger.Info("download cancelled")
	case task.StatusSkipped:
		logger.Debug("download skipped")
	case task.StatusCompleted, task.StatusError:
		d.evaluateRotation(ctx, out)
	case task.StatusQueued, task.StatusDownloading:
	}

	d.record(ctx, final, out)
}

func (d *Downloader) evaluateRotation(ctx context.Context, out outcome) {
	if d.trigger == nil {
		return
	}

	decision := d.trigger.Evaluate(out.speed/1024, out.measured)
	if !decision.Rotate {
		return
	}

	logctx.LoggerFromContext(ctx).Info("rotation triggered",
		"reason", decision.Reason,
		"speed", humanize.Bytes(uint64(out.speed))+"/s")

	if d.rotator != nil {
		d.rotator.Request(ctx, decision.Reason)
	}
}

func (d *Downloader) record(ctx context.Context, t task.Task, out outcome) {
	if d.history == nil {
		return
	}

	// the history is written even when the run was cancelled
	ctx = context.WithoutCancel(ctx)

	err := d.history.RecordDownload(ctx, storage.DownloadRecord{
		TaskID:      t.ID,
		SessionID:   d.opts.SessionID,
		URL:         t.URL,
		ContentID:   t.ContentID,
		Title:       t.Title,
		Status:      t.Status.String(),
		ErrorDetail: t.ErrorDetail,
		Attempt:     t.Attempt,
		Bytes:       out.bytes,
		StartedAt:   t.StartedAt,
		FinishedAt:  t.FinishedAt,
	})
	if err != nil {
		logctx.LoggerFromContext(ctx).Warn("failed to record download history", "err", err)
	}
}
