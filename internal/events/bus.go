package events

import (
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/italolelis/auto_ytdlp/internal/downloader/progress"
	"github.com/italolelis/auto_ytdlp/internal/task"
)

const (
	DefaultProgressBuffer = 64
	DefaultLogBuffer      = 256
)

// Options bound the lossy parts of a subscription's queue. Status and rotation
// events are never dropped.
type Options struct {
	ProgressBuffer int
	LogBuffer      int
}

// Bus delivers every published event to all subscriptions. Publish never
// blocks: each subscription queues events and delivers them from its own
// goroutine.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Publish queues e for every subscription.
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for s := range b.subs {
		s.push(e)
	}
}

// PublishStatus implements task.StatusPublisher.
func (b *Bus) PublishStatus(t task.Task) {
	b.Publish(Event{Kind: KindStatus, Task: t})
}

// PublishProgress publishes a progress sample.
func (b *Bus) PublishProgress(s progress.Sample) {
	b.Publish(Event{Kind: KindProgress, Progress: s})
}

// PublishRotation publishes a rotation lifecycle event.
func (b *Bus) PublishRotation(r Rotation) {
	b.Publish(Event{Kind: KindRotation, Rotation: r})
}

// Subscribe registers a new subscription. name only identifies it in logs.
// Subscribing to a closed bus returns an already closed subscription.
func (b *Bus) Subscribe(name string, opts Options) *Subscription {
	if opts.ProgressBuffer <= 0 {
		opts.ProgressBuffer = DefaultProgressBuffer
	}

	if opts.LogBuffer <= 0 {
		opts.LogBuffer = DefaultLogBuffer
	}

	s := &Subscription{
		name: name,
		bus:  b,
		opts: opts,
		wake: make(chan struct{}, 1),
		out:  make(chan Event),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	closed := b.closed

	if !closed {
		b.subs[s] = struct{}{}
	}
	b.mu.Unlock()

	go s.pump()

	if closed {
		s.Close()
	}

	return s
}

// Close closes every subscription. Later publishes are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	subs := b.subs
	b.subs = make(map[*Subscription]struct{})
	b.mu.Unlock()

	for s := range subs {
		s.close()
	}
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

// Subscription is one observer's view of the bus.
type Subscription struct {
	name string
	bus  *Bus
	opts Options

	mu       sync.Mutex
	pending  []Event
	progress int
	logs     int
	closed   bool

	dropped atomic.Int64

	wake      chan struct{}
	out       chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// C returns the delivery channel. It is closed when the subscription closes.
func (s *Subscription) C() <-chan Event {
	return s.out
}

// Dropped returns how many progress and log events were discarded.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Close detaches the subscription from the bus.
func (s *Subscription) Close() {
	s.bus.remove(s)
	s.close()
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.pending = nil
		s.mu.Unlock()

		close(s.done)
	})
}

func (s *Subscription) push(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	switch e.Kind {
	case KindProgress:
		if s.replaceProgress(e) {
			break
		}

		if s.progress >= s.opts.ProgressBuffer {
			s.dropOldest(KindProgress)
		}

		s.pending = append(s.pending, e)
		s.progress++
	case KindLog:
		if s.logs >= s.opts.LogBuffer {
			s.dropOldest(KindLog)
		}

		s.pending = append(s.pending, e)
		s.logs++
	case KindStatus, KindRotation:
		s.pending = append(s.pending, e)
	}

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// replaceProgress overwrites a queued progress event of the same task.
func (s *Subscription) replaceProgress(e Event) bool {
	for i := len(s.pending) - 1; i >= 0; i-- {
		p := s.pending[i]
		if p.Kind == KindProgress && p.Progress.TaskID == e.Progress.TaskID {
			s.pending[i] = e

			return true
		}
	}

	return false
}

func (s *Subscription) dropOldest(kind Kind) {
	for i, p := range s.pending {
		if p.Kind != kind {
			continue
		}

		s.pending = append(s.pending[:i], s.pending[i+1:]...)
		s.dropped.Add(1)

		if kind == KindProgress {
			s.progress--
		} else {
			s.logs--
		}

		return
	}
}

func (s *Subscription) pop() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return Event{}, false
	}

	e := s.pending[0]
	s.pending[0] = Event{}
	s.pending = s.pending[1:]

	switch e.Kind {
	case KindProgress:
		s.progress--
	case KindLog:
		s.logs--
	case KindStatus, KindRotation:
	}

	return e, true
}

func (s *Subscription) pump() {
	defer close(s.out)

	defer func() {
		if r := recover(); r != nil {
			slog.Error("event subscription panicked", "subscription", s.name, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		for {
			e, ok := s.pop()
			if !ok {
				break
			}

			select {
			case s.out <- e:
			case <-s.done:
				return
			}
		}
	}
}
