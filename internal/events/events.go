// Package events fans out task status, progress, log and rotation events from
// the download workers to observers such as the TUI and the notifier.
package events

import (
	"log/slog"
	"time"

	"github.com/italolelis/auto_ytdlp/internal/downloader/progress"
	"github.com/italolelis/auto_ytdlp/internal/task"
)

// Kind identifies the payload of an Event.
type Kind int

const (
	KindStatus Kind = iota
	KindProgress
	KindLog
	KindRotation
)

func (k Kind) String() string {
	switch k {
	case KindStatus:
		return "status"
	case KindProgress:
		return "progress"
	case KindLog:
		return "log"
	case KindRotation:
		return "rotation"
	}

	return "unknown"
}

// RotationPhase tells where a VPN rotation is in its lifecycle.
type RotationPhase string

const (
	RotationStarted   RotationPhase = "started"
	RotationSucceeded RotationPhase = "succeeded"
	RotationFailed    RotationPhase = "failed"
)

// Rotation describes a VPN rotation.
type Rotation struct {
	Reason string
	Phase  RotationPhase
	Error  string
}

// LogLine is one log record rendered for display.
type LogLine struct {
	Level   slog.Level
	Message string
	Attrs   string
}

// Event is a single bus message. Only the field matching Kind is set.
type Event struct {
	Kind     Kind
	Time     time.Time
	Task     task.Task
	Progress progress.Sample
	Log      LogLine
	Rotation Rotation
}

// TaskID returns the id of the task the event is about, if any.
func (e Event) TaskID() string {
	switch e.Kind {
	case KindStatus:
		return e.Task.ID
	case KindProgress:
		return e.Progress.TaskID
	case KindLog, KindRotation:
		return ""
	}

	return ""
}
