// Package fetch defines the capability auto_ytdlp needs from a media fetcher:
// resolving a URL to a stable content identifier and fetching it with progress
// reporting and cooperative cancellation.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/italolelis/auto_ytdlp/internal/apperr"
)

// ErrCancelled is returned by a ProgressFunc to ask the fetcher to stop now.
// Fetchers return it wrapped after terminating the transfer.
var ErrCancelled = errors.New("fetch cancelled")

// Options are the per-run download settings.
type Options struct {
	OutputTemplate string
	DownloadDir    string
	Format         string
	RateLimit      string   // e.g. "5M"; empty means unlimited
	ArchiveFile    string   // native archive of the fetcher; empty disables it
	ExtraArgs      []string // passed verbatim
}

// Info identifies a piece of content before it is fetched.
type Info struct {
	// ContentID has the "<extractor> <id>" form of a yt-dlp archive line.
	ContentID string
	Extractor string
	ID        string
	Title     string
}

// Progress is one raw progress report of a running fetch.
type Progress struct {
	Status     string // "downloading", "finished"
	Downloaded int64
	Total      int64   // zero when unknown
	Speed      float64 // bytes per second, zero when unknown
	ETA        time.Duration
	Fragment   int
	Fragments  int
}

// Percent returns the completion percentage, or zero when the total is unknown.
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return 0
	}

	pct := float64(p.Downloaded) * 100 / float64(p.Total)
	if pct > 100 {
		return 100
	}

	return pct
}

// ProgressFunc receives progress reports. Returning a non-nil error (normally
// ErrCancelled) terminates the fetch.
type ProgressFunc func(Progress) error

// Process is the running external process behind a fetch.
type Process interface {
	Pid() int
	// Kill forcefully terminates the process and its children.
	Kill() error
}

// Request describes a single fetch.
type Request struct {
	URL        string
	Options    Options
	OnProgress ProgressFunc
	// OnStart is called once the external process is running.
	OnStart func(Process)
}

// Result describes a finished fetch.
type Result struct {
	Filename string
	Bytes    int64
	Elapsed  time.Duration
}

// Fetcher resolves and fetches media.
type Fetcher interface {
	Resolve(ctx context.Context, url string, opts Options) (Info, error)
	Fetch(ctx context.Context, req Request) (Result, error)
}

// Error is a classified fetch failure.
type Error struct {
	Kind      apperr.Kind
	FetchKind apperr.FetchKind
	URL       string
	Message   string
	Err       error
}

func (e *Error) Error() string {
	if e.Message == "" && e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}

	return fmt.Sprintf("fetch %s: %s", e.URL, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorKind implements apperr.Kinder.
func (e *Error) ErrorKind() (apperr.Kind, apperr.FetchKind) {
	return e.Kind, e.FetchKind
}
