package rotation

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/italolelis/auto_ytdlp/internal/events"
	"github.com/italolelis/auto_ytdlp/internal/logctx"
	"github.com/italolelis/auto_ytdlp/internal/telemetry"
)

// Switcher performs the actual rotation, e.g. a VPN server switch.
type Switcher interface {
	Switch(ctx context.Context) error
}

// Publisher receives rotation lifecycle events.
type Publisher interface {
	PublishRotation(r events.Rotation)
}

// Rotator runs at most one rotation at a time on its own goroutine. Requests
// arriving while a rotation is in flight are coalesced.
type Rotator struct {
	switcher  Switcher
	publisher Publisher
	telemetry *telemetry.Telemetry

	inFlight atomic.Bool
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRotator creates a rotator. publisher and tel may be nil.
func NewRotator(switcher Switcher, publisher Publisher, tel *telemetry.Telemetry) *Rotator {
	ctx, cancel := context.WithCancel(context.Background())

	return &Rotator{
		switcher:  switcher,
		publisher: publisher,
		telemetry: tel,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Request starts a rotation unless one is already running. It returns false
// when the request was coalesced. The rotation outlives ctx's cancellation but
// keeps its values; Close aborts it.
func (r *Rotator) Request(ctx context.Context, reason Reason) bool {
	logger := logctx.LoggerFromContext(ctx).With("reason", reason)

	if !r.inFlight.CompareAndSwap(false, true) {
		logger.Debug("rotation already in progress, request coalesced")
		r.telemetry.RecordRotation(string(reason), "coalesced")

		return false
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(r.ctx, cancel)

	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		defer r.inFlight.Store(false)
		defer cancel()
		defer stop()

		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("rotation panicked", "panic", rec, "stack", string(debug.Stack()))
			}
		}()

		r.rotate(runCtx, reason)
	}()

	return true
}

func (r *Rotator) rotate(ctx context.Context, reason Reason) {
	logger := logctx.LoggerFromContext(ctx).With("reason", reason)

	logger.Info("rotating vpn server")
	r.publish(events.Rotation{Reason: string(reason), Phase: events.RotationStarted})

	err := r.telemetry.InstrumentRotation(ctx, string(reason), r.switcher.Switch)
	if err != nil {
		logger.Error("vpn rotation failed", "err", err)
		r.publish(events.Rotation{Reason: string(reason), Phase: events.RotationFailed, Error: err.Error()})

		return
	}

	logger.Info("vpn rotation completed")
	r.publish(events.Rotation{Reason: string(reason), Phase: events.RotationSucceeded})
}

func (r *Rotator) publish(e events.Rotation) {
	if r.publisher != nil {
		r.publisher.PublishRotation(e)
	}
}

// InFlight reports whether a rotation is running.
func (r *Rotator) InFlight() bool {
	return r.inFlight.Load()
}

// Wait blocks until the running rotation, if any, finished.
func (r *Rotator) Wait() {
	r.wg.Wait()
}

// Close aborts a running rotation and waits for it.
func (r *Rotator) Close() {
	r.cancel()
	r.wg.Wait()
}
