package task

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/italolelis/auto_ytdlp/internal/logctx"
)

// StatusPublisher receives a copy of every task whose status changed.
// PublishStatus is called while the registry lock is held so it must not block
// and must not call back into the registry.
type StatusPublisher interface {
	PublishStatus(t Task)
}

// Registry is the single owner of task records. All status transitions go
// through it so they are serialised.
type Registry struct {
	mu       sync.Mutex
	tasks    []*Task
	active   map[string]*Task
	queue    []*Task
	attempts map[string]int

	ready     chan struct{}
	publisher StatusPublisher
}

// NewRegistry creates an empty registry. The publisher may be nil.
func NewRegistry(publisher StatusPublisher) *Registry {
	return &Registry{
		active:    make(map[string]*Task),
		attempts:  make(map[string]int),
		ready:     make(chan struct{}, 1),
		publisher: publisher,
	}
}

// Enqueue appends a new queued task for url. When a non-terminal task for the
// same URL already exists it is returned with added=false and nothing changes.
func (r *Registry) Enqueue(url string) (Task, bool) {
	url = strings.TrimSpace(url)
	if url == "" {
		return Task{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.active[url]; ok {
		return *existing, false
	}

	r.attempts[url]++

	t := &Task{
		ID:       uuid.NewString(),
		URL:      url,
		Status:   StatusQueued,
		Attempt:  r.attempts[url],
		QueuedAt: time.Now(),
	}

	r.tasks = append(r.tasks, t)
	r.active[url] = t
	r.queue = append(r.queue, t)
	r.publish(t)

	// wake the dispatcher; a pending signal is enough
	select {
	case r.ready <- struct{}{}:
	default:
	}

	return *t, true
}

// ClaimNext removes the oldest queued task and marks it as downloading.
func (r *Registry) ClaimNext() (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.queue) == 0 {
		return Task{}, false
	}

	t := r.queue[0]
	r.queue[0] = nil
	r.queue = r.queue[1:]

	t.Status = StatusDownloading
	t.StartedAt = time.Now()
	r.publish(t)

	return *t, true
}

// SetMetadata records the content identifier and title of a downloading task.
func (r *Registry) SetMetadata(url, contentID, title string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.active[url]
	if !ok || t.Status != StatusDownloading {
		return
	}

	t.ContentID = contentID
	t.Title = title
}

// SetTerminal records the outcome of a downloading task. It fails when the task
// is not downloading, which protects against double completion.
func (r *Registry) SetTerminal(ctx context.Context, url string, status Status, detail string) (Task, error) {
	return r.setTerminal(ctx, url, status, detail, false)
}

// SetFailure moves a downloading task to Error. retryable marks failures that
// may succeed on another attempt.
func (r *Registry) SetFailure(ctx context.Context, url, detail string, retryable bool) (Task, error) {
	return r.setTerminal(ctx, url, StatusError, detail, retryable)
}

func (r *Registry) setTerminal(ctx context.Context, url string, status Status, detail string, retryable bool) (Task, error) {
	logger := logctx.LoggerFromContext(ctx).With("url", url, "status", status)

	if !status.IsTerminal() {
		logger.Error("refusing non-terminal status", "err", ErrInvalidTransition)

		return Task{}, fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.active[url]
	if !ok || t.Status != StatusDownloading {
		current := "unknown"
		if ok {
			current = t.Status.String()
		}

		logger.Warn("ignoring terminal status for task that is not downloading", "current", current)

		return Task{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
	}

	t.Status = status
	t.FinishedAt = time.Now()

	if status == StatusError {
		if detail == "" {
			detail = "unknown error"
		}

		t.ErrorDetail = detail
		t.Retryable = retryable
	}

	delete(r.active, url)
	r.publish(t)

	return *t, nil
}

// DrainQueued cancels every task that is still waiting for a slot and returns them.
func (r *Registry) DrainQueued() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	drained := make([]Task, 0, len(r.queue))
	now := time.Now()

	for _, t := range r.queue {
		t.Status = StatusCancelled
		t.FinishedAt = now

		delete(r.active, t.URL)
		r.publish(t)

		drained = append(drained, *t)
	}

	r.queue = nil

	return drained
}

// Snapshot returns a point-in-time copy of all tasks in enqueue order.
func (r *Registry) Snapshot() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Task, len(r.tasks))
	for i, t := range r.tasks {
		out[i] = *t
	}

	return out
}

// Get returns the latest task record for url.
func (r *Registry) Get(url string) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.tasks) - 1; i >= 0; i-- {
		if r.tasks[i].URL == url {
			return *r.tasks[i], true
		}
	}

	return Task{}, false
}

// Stats counts tasks per status.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	var s Stats
	for _, t := range r.tasks {
		s.add(t.Status)
	}

	return s
}

// QueueLen returns the number of queued tasks.
func (r *Registry) QueueLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.queue)
}

// Ready is signalled after an enqueue.
func (r *Registry) Ready() <-chan struct{} {
	return r.ready
}

func (r *Registry) publish(t *Task) {
	if r.publisher != nil {
		r.publisher.PublishStatus(*t)
	}
}
