package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/italolelis/auto_ytdlp/internal/downloader"
	"github.com/italolelis/auto_ytdlp/internal/links"
	"github.com/italolelis/auto_ytdlp/internal/logctx"
)

// ErrSessionRunning is returned by Start while downloads are in progress.
var ErrSessionRunning = errors.New("a download session is already running")

// Prepare checks the external tools and connects the VPN. It runs once;
// later calls are no-ops.
func (a *App) Prepare(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	a.prepareMu.Lock()
	defer a.prepareMu.Unlock()

	if a.prepared {
		return nil
	}

	if err := a.fetcher.Available(); err != nil {
		return fmt.Errorf("fetcher is not available: %w", err)
	}

	if version, err := a.fetcher.Version(ctx); err != nil {
		logger.Warn("failed to read fetcher version", "err", err)
	} else {
		logger.Info("fetcher found", "version", version)
	}

	if err := a.cfg.EnsureDownloadDir(); err != nil {
		return err
	}

	if a.vpn != nil && a.cfg.VPN.Enabled {
		a.connectVPN(ctx)
	}

	a.prepared = true

	return nil
}

func (a *App) connectVPN(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	if err := a.vpn.Available(); err != nil {
		logger.Warn("vpn client not available, rotation requests will fail", "err", err)

		return
	}

	status, err := a.vpn.Status(ctx)
	if err != nil {
		logger.Warn("failed to read vpn status", "err", err)
	}

	if status.Connected {
		logger.Info("vpn already connected", "location", status.Location)

		return
	}

	if _, err := a.vpn.Connect(ctx); err != nil {
		logger.Error("failed to connect vpn", "err", err)

		return
	}

	logger.Info("vpn connected")
}

// LoadLinks enqueues the URLs of the links file and returns how many new
// tasks were queued.
func (a *App) LoadLinks(ctx context.Context) int {
	added := 0

	for _, u := range links.Load(ctx, a.cfg.General.LinksFile) {
		if _, ok := a.registry.Enqueue(u); ok {
			added++
		}
	}

	logctx.LoggerFromContext(ctx).Info("links queued", "count", added, "links_file", a.cfg.General.LinksFile)

	return added
}

// Run executes a whole session in the foreground: preparation, loading the
// links file, downloading with retry rounds and the final summary.
func (a *App) Run(ctx context.Context) error {
	if err := a.Prepare(ctx); err != nil {
		return err
	}

	if !a.beginSession() {
		return ErrSessionRunning
	}
	defer a.endSession()

	a.LoadLinks(ctx)

	err := a.runRounds(ctx)
	a.logSummary(ctx)

	return err
}

// Start runs a session in the background. It returns ErrSessionRunning when
// one is already in progress.
func (a *App) Start(ctx context.Context) error {
	if err := a.Prepare(ctx); err != nil {
		return err
	}

	if !a.beginSession() {
		return ErrSessionRunning
	}

	a.LoadLinks(ctx)

	go func() {
		defer a.endSession()

		if err := a.runRounds(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logctx.LoggerFromContext(ctx).Error("download session failed", "err", err)
		}

		a.logSummary(ctx)
	}()

	return nil
}

// Running reports whether a session is in progress.
func (a *App) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.session
}

// Stop cancels the running session. A stop that arrives before the session
// reached the engine still ends it: queued tasks are cancelled and no further
// round starts.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.session {
		a.stopRequested = true
	}
	a.mu.Unlock()

	return a.engine.Stop(ctx)
}

func (a *App) sessionStopped() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.stopRequested
}

// Wait blocks until the running session, if any, finished.
func (a *App) Wait() {
	a.sessionWG.Wait()
}

func (a *App) beginSession() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session {
		return false
	}

	a.session = true
	a.stopRequested = false
	a.sessionWG.Add(1)

	// a Stop of the previous session leaves the engine Stopped
	a.engine.Reset()

	return true
}

func (a *App) endSession() {
	a.mu.Lock()
	a.session = false
	a.mu.Unlock()

	a.sessionWG.Done()
}

// runRounds drains the queue, then re-queues retryable failures up to the
// configured number of extra rounds.
func (a *App) runRounds(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	for round := 0; ; round++ {
		if a.sessionStopped() {
			if drained := a.registry.DrainQueued(); len(drained) > 0 {
				logger.Info("cancelled queued tasks", "count", len(drained))
			}

			return nil
		}

		if err := a.engine.Run(ctx); err != nil {
			if errors.Is(err, downloader.ErrAlreadyRunning) {
				return err
			}

			return nil
		}

		if a.engine.Stopping() || a.sessionStopped() || ctx.Err() != nil || round >= a.cfg.Performance.Retries {
			return nil
		}

		n := a.requeueRetryable()
		if n == 0 {
			return nil
		}

		logger.Info("retrying failed downloads", "count", n, "round", round+1)
	}
}

// requeueRetryable enqueues a new attempt for every latest task that failed
// with a retryable error and has attempts left.
func (a *App) requeueRetryable() int {
	maxAttempts := 1 + a.cfg.Performance.Retries
	n := 0

	for _, t := range a.registry.Snapshot() {
		if !t.Retryable || t.Attempt >= maxAttempts {
			continue
		}

		latest, ok := a.registry.Get(t.URL)
		if !ok || latest.ID != t.ID {
			continue
		}

		if _, added := a.registry.Enqueue(t.URL); added {
			n++
		}
	}

	return n
}

func (a *App) logSummary(ctx context.Context) {
	s := a.registry.Stats()

	logctx.LoggerFromContext(ctx).Info("download session finished",
		"completed", s.Completed,
		"skipped", s.Skipped,
		"error", s.Error,
		"cancelled", s.Cancelled,
		"total", s.Total())
}

// Shutdown stops downloads and releases every resource: rotation, VPN,
// status server, observers, database and telemetry.
func (a *App) Shutdown(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	if a.Running() {
		if err := a.Stop(ctx); err != nil {
			logger.Warn("failed to stop downloads", "err", err)
		}
	}

	a.Wait()

	if a.rotator != nil {
		a.rotator.Close()
	}

	a.prepareMu.Lock()
	prepared := a.prepared
	a.prepareMu.Unlock()

	if a.vpn != nil && a.cfg.VPN.Enabled && a.cfg.VPN.DisconnectOnExit && prepared {
		if _, err := a.vpn.Disconnect(ctx); err != nil {
			logger.Warn("failed to disconnect vpn", "err", err)
		} else {
			logger.Info("vpn disconnected")
		}
	}

	if a.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := a.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = a.server.Close(); err != nil {
				logger.Error("could not stop server", "err", err)
			}
		}
	}

	a.stopWatchers()
	a.closeDB(ctx)

	if err := a.telemetry.Shutdown(ctx); err != nil {
		logger.Warn("failed to shutdown telemetry", "err", err)
	}
}
