package apperr

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

type kindedErr struct{}

func (kindedErr) Error() string { return "geo blocked" }

func (kindedErr) ErrorKind() (Kind, FetchKind) { return KindFetch, FetchGeoRestricted }

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "with operation",
			err:  &Error{Kind: KindFile, Op: "load_links", Message: "permission denied"},
			want: "file error during load_links: permission denied",
		},
		{
			name: "without operation",
			err:  &Error{Kind: KindParse, Message: "bad toml"},
			want: "parse error: bad toml",
		},
		{
			name: "message falls back to wrapped error",
			err:  &Error{Kind: KindNetwork, Op: "resolve", Err: errors.New("connection reset")},
			want: "network error during resolve: connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	underlying := errors.New("boom")
	err := fmt.Errorf("outer: %w", New(KindFile, "write", "", underlying))

	assert.ErrorIs(t, err, underlying)

	var appErr *Error
	assert.ErrorAs(t, err, &appErr)
	assert.Equal(t, KindFile, appErr.Kind)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnexpected},
		{"app error", New(KindAuth, "fetch", "login required", nil), KindAuth},
		{"kinder", fmt.Errorf("wrapped: %w", kindedErr{}), KindFetch},
		{"context canceled", fmt.Errorf("run: %w", context.Canceled), KindCancelled},
		{"deadline", context.DeadlineExceeded, KindNetwork},
		{"net error", timeoutErr{}, KindNetwork},
		{"path error", &fs.PathError{Op: "open", Path: "links.txt", Err: fs.ErrNotExist}, KindFile},
		{"plain", errors.New("what"), KindUnexpected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestClassifyFetch_SubKind(t *testing.T) {
	kind, sub := ClassifyFetch(kindedErr{})

	assert.Equal(t, KindFetch, kind)
	assert.Equal(t, FetchGeoRestricted, sub)
}

func TestRetryable(t *testing.T) {
	for _, k := range []Kind{KindUnexpected, KindFile, KindFetch, KindAuth, KindParse, KindCancelled} {
		assert.False(t, Retryable(k), k.String())
	}

	assert.True(t, Retryable(KindNetwork))
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "", Describe(nil))
	assert.Equal(t, "Cancelled", Describe(context.Canceled))
	assert.Equal(t, "Geo-restricted: geo blocked", Describe(kindedErr{}))
	assert.Equal(t, "Unexpected error: what", Describe(errors.New("what")))
}
