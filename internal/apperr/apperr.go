// Package apperr defines the closed set of failure kinds used across auto_ytdlp
// and the helpers that classify arbitrary errors into them.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"os/exec"
)

// Kind is the top level failure category.
type Kind int

const (
	KindUnexpected Kind = iota
	KindFile
	KindNetwork
	KindFetch
	KindAuth
	KindParse
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindNetwork:
		return "network"
	case KindFetch:
		return "fetch"
	case KindAuth:
		return "auth"
	case KindParse:
		return "parse"
	case KindCancelled:
		return "cancelled"
	case KindUnexpected:
		return "unexpected"
	}

	return "unexpected"
}

// FetchKind refines KindFetch.
type FetchKind int

const (
	FetchDownload FetchKind = iota
	FetchExtraction
	FetchGeoRestricted
	FetchUnavailable
	FetchUnsupported
)

func (k FetchKind) String() string {
	switch k {
	case FetchDownload:
		return "download"
	case FetchExtraction:
		return "extraction"
	case FetchGeoRestricted:
		return "geo_restricted"
	case FetchUnavailable:
		return "unavailable"
	case FetchUnsupported:
		return "unsupported"
	}

	return "download"
}

// Error is a classified application error.
type Error struct {
	Kind      Kind
	FetchKind FetchKind
	Op        string // operation that failed, e.g. "load_links"
	Message   string
	Err       error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}

	if e.Op != "" {
		return fmt.Sprintf("%s error during %s: %s", e.Kind, e.Op, msg)
	}

	return fmt.Sprintf("%s error: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns a classified error.
func New(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// Kinder is implemented by errors of other packages that know their own kind,
// such as fetch errors.
type Kinder interface {
	ErrorKind() (Kind, FetchKind)
}

// Classify maps err to a Kind. Nil maps to KindUnexpected.
func Classify(err error) Kind {
	kind, _ := classify(err)

	return kind
}

// ClassifyFetch returns both the kind and the fetch sub-kind of err.
func ClassifyFetch(err error) (Kind, FetchKind) {
	return classify(err)
}

func classify(err error) (Kind, FetchKind) {
	if err == nil {
		return KindUnexpected, FetchDownload
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind, appErr.FetchKind
	}

	var kinder Kinder
	if errors.As(err, &kinder) {
		return kinder.ErrorKind()
	}

	if errors.Is(err, context.Canceled) {
		return KindCancelled, FetchDownload
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork, FetchDownload
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) || errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
		return KindFile, FetchDownload
	}

	if errors.Is(err, exec.ErrNotFound) {
		return KindFile, FetchDownload
	}

	return KindUnexpected, FetchDownload
}

// Retryable reports whether a failure of the given kind is worth another attempt.
func Retryable(kind Kind) bool {
	switch kind {
	case KindNetwork:
		return true
	case KindFile, KindFetch, KindAuth, KindParse, KindCancelled, KindUnexpected:
		return false
	}

	return false
}

// Describe renders err for humans (TUI, notifications, task error detail).
func Describe(err error) string {
	if err == nil {
		return ""
	}

	kind, fetchKind := classify(err)

	switch kind {
	case KindFile:
		return "File error: " + err.Error()
	case KindNetwork:
		return "Network error: " + err.Error()
	case KindFetch:
		return describeFetch(fetchKind, err)
	case KindAuth:
		return "Authentication required: " + err.Error()
	case KindParse:
		return "Parse error: " + err.Error()
	case KindCancelled:
		return "Cancelled"
	case KindUnexpected:
		return "Unexpected error: " + err.Error()
	}

	return err.Error()
}

func describeFetch(kind FetchKind, err error) string {
	switch kind {
	case FetchDownload:
		return "Download failed: " + err.Error()
	case FetchExtraction:
		return "Could not extract media: " + err.Error()
	case FetchGeoRestricted:
		return "Geo-restricted: " + err.Error()
	case FetchUnavailable:
		return "Unavailable: " + err.Error()
	case FetchUnsupported:
		return "Unsupported URL: " + err.Error()
	}

	return err.Error()
}
