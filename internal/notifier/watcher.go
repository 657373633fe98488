package notifier

import (
	"context"

	"github.com/italolelis/auto_ytdlp/internal/events"
	"github.com/italolelis/auto_ytdlp/internal/logctx"
	"github.com/italolelis/auto_ytdlp/internal/task"
)

// WatchOptions selects the outcomes that are notified.
type WatchOptions struct {
	OnCompletion bool
	OnError      bool
}

// Watch notifies n about Completed and Error status events received on ch
// until the channel is closed or ctx is done. Cancelled and skipped
// tasks are never notified.
func Watch(ctx context.Context, ch <-chan events.Event, n Notifier, opts WatchOptions) {
	logger := logctx.LoggerFromContext(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}

			msg, notify := messageFor(e, opts)
			if !notify {
				continue
			}

			if err := n.Notify(ctx, msg); err != nil {
				logger.Warn("failed to send notification", "task_id", e.TaskID(), "err", err)
			}
		}
	}
}

func messageFor(e events.Event, opts WatchOptions) (Message, bool) {
	if e.Kind != events.KindStatus {
		return Message{}, false
	}

	switch e.Task.Status {
	case task.StatusCompleted:
		return Message{Title: "Download completed", Body: e.Task.DisplayName()}, opts.OnCompletion
	case task.StatusError:
		return Message{
			Title: "Download failed",
			Body:  e.Task.DisplayName() + ": " + e.Task.ErrorDetail,
		}, opts.OnError
	case task.StatusQueued, task.StatusDownloading, task.StatusCancelled, task.StatusSkipped:
	}

	return Message{}, false
}
