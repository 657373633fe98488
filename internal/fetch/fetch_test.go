package fetch

import (
	"errors"
	"fmt"
	"testing"

	"github.com/italolelis/auto_ytdlp/internal/apperr"
	"github.com/stretchr/testify/assert"
)

func TestProgress_Percent(t *testing.T) {
	tests := []struct {
		name string
		p    Progress
		want float64
	}{
		{"unknown total", Progress{Downloaded: 10}, 0},
		{"half", Progress{Downloaded: 50, Total: 100}, 50},
		{"clamped", Progress{Downloaded: 120, Total: 100}, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.p.Percent(), 0.001)
		})
	}
}

func TestError_ClassifiedByApperr(t *testing.T) {
	fe := &Error{
		Kind:      apperr.KindFetch,
		FetchKind: apperr.FetchUnavailable,
		URL:       "https://example.com/v",
		Message:   "Video unavailable",
	}
	err := fmt.Errorf("task: %w", fe)

	kind, sub := apperr.ClassifyFetch(err)
	assert.Equal(t, apperr.KindFetch, kind)
	assert.Equal(t, apperr.FetchUnavailable, sub)
	assert.Equal(t, "Unavailable: fetch https://example.com/v: Video unavailable", apperr.Describe(fe))
}

func TestError_UnwrapsCancellation(t *testing.T) {
	err := &Error{Kind: apperr.KindCancelled, URL: "u", Err: ErrCancelled}

	assert.True(t, errors.Is(err, ErrCancelled))
	assert.Equal(t, "fetch u: fetch cancelled", err.Error())
}
