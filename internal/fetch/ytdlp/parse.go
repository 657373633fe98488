package ytdlp

import (
	"bytes"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/italolelis/auto_ytdlp/internal/apperr"
	"github.com/italolelis/auto_ytdlp/internal/fetch"
)

const (
	progressStart = "|PROGRESS|"
	progressEnd   = "|PROGRESS_END|"
	fileMarker    = "|FILE|"

	// status|downloaded|total|total_estimate|speed|eta|fragment|fragments
	progressTemplate = "download:" + progressStart +
		"%(progress.status)s|%(progress.downloaded_bytes)s|%(progress.total_bytes)s|" +
		"%(progress.total_bytes_estimate)s|%(progress.speed)s|%(progress.eta)s|" +
		"%(progress.fragment_index)s|%(progress.fragment_count)s" + progressEnd

	resolveTemplate = "%(extractor_key)s|%(id)s|%(title)s"

	progressFields = 8

	// stderr lines kept for error reporting
	tailSize = 20
)

func parseProgressLine(line string) (fetch.Progress, bool) {
	start := strings.Index(line, progressStart)
	end := strings.Index(line, progressEnd)

	if start < 0 || end < 0 {
		return fetch.Progress{}, false
	}

	start += len(progressStart)
	if end < start {
		return fetch.Progress{}, false
	}

	parts := strings.Split(line[start:end], "|")
	if len(parts) < progressFields {
		return fetch.Progress{}, false
	}

	total := parseInt(parts[2])
	if total <= 0 {
		total = parseInt(parts[3])
	}

	return fetch.Progress{
		Status:     parts[0],
		Downloaded: parseInt(parts[1]),
		Total:      total,
		Speed:      parseFloat(parts[4]),
		ETA:        time.Duration(parseFloat(parts[5]) * float64(time.Second)),
		Fragment:   int(parseInt(parts[6])),
		Fragments:  int(parseInt(parts[7])),
	}, true
}

func parseFilenameLine(line string) (string, bool) {
	name, ok := strings.CutPrefix(strings.TrimSpace(line), fileMarker)
	if !ok || name == "" {
		return "", false
	}

	return name, true
}

// parseResolveOutput reads the last "<extractor>|<id>|<title>" line.
func parseResolveOutput(out string) (fetch.Info, bool) {
	lines := strings.Split(strings.TrimSpace(out), "\n")

	for i := len(lines) - 1; i >= 0; i-- {
		parts := strings.SplitN(strings.TrimSpace(lines[i]), "|", 3)
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[0] == "NA" || parts[1] == "NA" {
			continue
		}

		extractor := strings.ToLower(parts[0])

		return fetch.Info{
			ContentID: extractor + " " + parts[1],
			Extractor: extractor,
			ID:        parts[1],
			Title:     parts[2],
		}, true
	}

	return fetch.Info{}, false
}

// yt-dlp renders missing template values as "NA" or "None".
func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v < 0 {
		return 0
	}

	return v
}

func parseInt(s string) int64 {
	return int64(parseFloat(s))
}

// classifyFailure turns a failed yt-dlp run into a fetch.Error. message is the
// last ERROR line of stderr, if any.
func classifyFailure(url, message string, err error) *fetch.Error {
	if message == "" {
		var exitErr interface{ ExitCode() int }
		if errors.As(err, &exitErr) {
			message = "yt-dlp exited with code " + strconv.Itoa(exitErr.ExitCode())
		} else {
			message = err.Error()
		}
	}

	kind, fetchKind := classifyMessage(message)

	return &fetch.Error{Kind: kind, FetchKind: fetchKind, URL: url, Message: message, Err: err}
}

func classifyMessage(msg string) (apperr.Kind, apperr.FetchKind) {
	lower := strings.ToLower(msg)

	switch {
	case containsAny(lower, "sign in", "login required", "log in", "members-only", "private video", "cookies"):
		return apperr.KindAuth, apperr.FetchDownload
	case containsAny(lower, "geo", "not available in your country", "blocked it in your country"):
		return apperr.KindFetch, apperr.FetchGeoRestricted
	case strings.Contains(lower, "unsupported url"):
		return apperr.KindFetch, apperr.FetchUnsupported
	case containsAny(lower, "video unavailable", "is not available", "has been removed", "does not exist"):
		return apperr.KindFetch, apperr.FetchUnavailable
	case containsAny(msg, "Unable to download webpage", "HTTP Error", "Connection", "Timeout", "timed out", "Network", "SSL"):
		return apperr.KindNetwork, apperr.FetchDownload
	case containsAny(lower, "unable to extract", "extractorerror"):
		return apperr.KindFetch, apperr.FetchExtraction
	}

	return apperr.KindFetch, apperr.FetchDownload
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}

	return false
}

// outputTail is an io.Writer for yt-dlp stderr. It logs warnings and keeps the
// last lines so a failure can be explained.
type outputTail struct {
	mu      sync.Mutex
	logger  *slog.Logger
	partial []byte
	lines   []string
}

func newOutputTail(logger *slog.Logger) *outputTail {
	return &outputTail{logger: logger}
}

func (o *outputTail) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.partial = append(o.partial, p...)

	for {
		i := bytes.IndexByte(o.partial, '\n')
		if i < 0 {
			break
		}

		o.addLine(string(bytes.TrimRight(o.partial[:i], "\r")))
		o.partial = o.partial[i+1:]
	}

	return len(p), nil
}

func (o *outputTail) addLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	if strings.HasPrefix(line, "WARNING:") {
		o.logger.Debug("yt-dlp warning", "line", line)
	}

	o.lines = append(o.lines, line)
	if len(o.lines) > tailSize {
		o.lines = o.lines[len(o.lines)-tailSize:]
	}
}

// errorLine returns the last "ERROR:" line without its prefix, falling back to
// the last stderr line.
func (o *outputTail) errorLine() string {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.partial) > 0 {
		o.addLine(string(o.partial))
		o.partial = nil
	}

	for i := len(o.lines) - 1; i >= 0; i-- {
		if msg, ok := strings.CutPrefix(o.lines[i], "ERROR:"); ok {
			return strings.TrimSpace(msg)
		}
	}

	if len(o.lines) > 0 {
		return o.lines[len(o.lines)-1]
	}

	return ""
}
