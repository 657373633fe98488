package app

import (
	"context"

	"github.com/italolelis/auto_ytdlp/internal/events"
	"github.com/italolelis/auto_ytdlp/internal/links"
	"github.com/italolelis/auto_ytdlp/internal/logctx"
	"github.com/italolelis/auto_ytdlp/internal/notifier"
	"github.com/italolelis/auto_ytdlp/internal/task"
)

// startWatchers subscribes the background observers to the bus. They run
// until stopWatchers closes their subscriptions.
func (a *App) startWatchers(ctx context.Context) {
	if a.notifier != nil {
		sub := a.bus.Subscribe("notifier", events.Options{})
		a.subs = append(a.subs, sub)
		a.watch(func() {
			notifier.Watch(ctx, sub.C(), a.notifier, notifier.WatchOptions{
				OnCompletion: a.cfg.Notifications.OnCompletion,
				OnError:      a.cfg.Notifications.OnError,
			})
		})
	}

	if a.cfg.General.RemoveCompletedLinks {
		sub := a.bus.Subscribe("links", events.Options{})
		a.subs = append(a.subs, sub)
		a.watch(func() { a.removeFinishedLinks(ctx, sub.C()) })
	}
}

func (a *App) watch(fn func()) {
	a.watchers.Add(1)

	go func() {
		defer a.watchers.Done()
		fn()
	}()
}

func (a *App) stopWatchers() {
	for _, sub := range a.subs {
		sub.Close()
	}

	a.subs = nil
	a.watchers.Wait()
}

// removeFinishedLinks drops URLs from the links file once their content is
// downloaded or was already archived.
func (a *App) removeFinishedLinks(ctx context.Context, ch <-chan events.Event) {
	logger := logctx.LoggerFromContext(ctx)

	for e := range ch {
		if e.Kind != events.KindStatus {
			continue
		}

		if e.Task.Status != task.StatusCompleted && e.Task.Status != task.StatusSkipped {
			continue
		}

		if err := links.Remove(a.cfg.General.LinksFile, e.Task.URL); err != nil {
			logger.Warn("failed to remove link", "url", e.Task.URL, "err", err)
		}
	}
}
