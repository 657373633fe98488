package task

import (
	"errors"
	"time"
)

// Status represents the lifecycle state of a download task.
type Status string

const (
	// StatusQueued means the task waits for a free worker slot.
	StatusQueued Status = "queued"

	// StatusDownloading means a worker claimed the task and the fetch is in flight.
	StatusDownloading Status = "downloading"

	// StatusCompleted means the media was fetched and recorded in the archive.
	StatusCompleted Status = "completed"

	// StatusError means the fetch failed; ErrorDetail carries the reason.
	StatusError Status = "error"

	// StatusCancelled means the task was stopped before reaching any other outcome.
	StatusCancelled Status = "cancelled"

	// StatusSkipped means the content identifier was already archived.
	StatusSkipped Status = "skipped"
)

var ErrInvalidTransition = errors.New("invalid task status transition")

func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true for statuses from which no further transition occurs.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusCancelled, StatusSkipped:
		return true
	default:
		return false
	}
}

// Task is a copy of one URL's download lifecycle record. The registry owns the
// canonical record; values handed out are snapshots.
type Task struct {
	ID          string
	URL         string
	Status      Status
	ErrorDetail string
	// Retryable is set on Error tasks whose failure may succeed on a new attempt.
	Retryable  bool
	ContentID  string
	Title      string
	Attempt    int
	QueuedAt   time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns how long the task has been (or was) downloading.
func (t Task) Duration() time.Duration {
	if t.StartedAt.IsZero() {
		return 0
	}

	if t.FinishedAt.IsZero() {
		return time.Since(t.StartedAt)
	}

	return t.FinishedAt.Sub(t.StartedAt)
}

// DisplayName returns the title when known and the URL otherwise.
func (t Task) DisplayName() string {
	if t.Title != "" {
		return t.Title
	}

	return t.URL
}

// Stats holds per-status counters of a registry.
type Stats struct {
	Queued      int
	Downloading int
	Completed   int
	Error       int
	Cancelled   int
	Skipped     int
}

func (s Stats) Total() int {
	return s.Queued + s.Downloading + s.Completed + s.Error + s.Cancelled + s.Skipped
}

func (s *Stats) add(status Status) {
	switch status {
	case StatusQueued:
		s.Queued++
	case StatusDownloading:
		s.Downloading++
	case StatusCompleted:
		s.Completed++
	case StatusError:
		s.Error++
	case StatusCancelled:
		s.Cancelled++
	case StatusSkipped:
		s.Skipped++
	}
}
