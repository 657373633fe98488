package rotation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/italolelis/auto_ytdlp/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingSwitcher struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (s *blockingSwitcher) Switch(ctx context.Context) error {
	s.calls.Add(1)

	select {
	case <-s.release:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Rotation
}

func (p *recordingPublisher) PublishRotation(r events.Rotation) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, r)
}

func (p *recordingPublisher) phases() []events.RotationPhase {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]events.RotationPhase, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Phase)
	}

	return out
}

func TestRotator_CoalescesWhileInFlight(t *testing.T) {
	sw := &blockingSwitcher{release: make(chan struct{})}
	pub := &recordingPublisher{}
	r := NewRotator(sw, pub, nil)

	require.True(t, r.Request(context.Background(), ReasonCadence))
	assert.False(t, r.Request(context.Background(), ReasonThreshold))
	assert.True(t, r.InFlight())

	close(sw.release)
	r.Wait()

	assert.False(t, r.InFlight())
	assert.Equal(t, int32(1), sw.calls.Load())
	assert.Equal(t, []events.RotationPhase{events.RotationStarted, events.RotationSucceeded}, pub.phases())

	sw.release = make(chan struct{})
	close(sw.release)

	require.True(t, r.Request(context.Background(), ReasonThreshold), "a new request is accepted once idle")
	r.Wait()
	assert.Equal(t, int32(2), sw.calls.Load())
}

func TestRotator_FailureIsReported(t *testing.T) {
	sw := &blockingSwitcher{release: make(chan struct{}), err: errors.New("expressvpn: not logged in")}
	close(sw.release)

	pub := &recordingPublisher{}
	r := NewRotator(sw, pub, nil)

	require.True(t, r.Request(context.Background(), ReasonCadence))
	r.Wait()

	require.Equal(t, []events.RotationPhase{events.RotationStarted, events.RotationFailed}, pub.phases())
	assert.Equal(t, "expressvpn: not logged in", pub.events[1].Error)
}

func TestRotator_SurvivesRequestContextCancellation(t *testing.T) {
	sw := &blockingSwitcher{release: make(chan struct{})}
	r := NewRotator(sw, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, r.Request(ctx, ReasonCadence))
	cancel()

	time.Sleep(50 * time.Millisecond)
	assert.True(t, r.InFlight(), "rotation keeps running after the task context ends")

	close(sw.release)
	r.Wait()
}

func TestRotator_CloseAbortsRotation(t *testing.T) {
	sw := &blockingSwitcher{release: make(chan struct{})}
	r := NewRotator(sw, nil, nil)

	require.True(t, r.Request(context.Background(), ReasonCadence))

	done := make(chan struct{})

	go func() {
		r.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("close did not abort the rotation")
	}
}
