package ytdlp

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/italolelis/auto_ytdlp/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProgressLine(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		wantOK   bool
		wantDown int64
		wantTot  int64
		wantSpd  float64
		wantETA  time.Duration
	}{
		{
			name:     "full line",
			line:     "|PROGRESS|downloading|47368421|104857600|NA|1572864.5|35|NA|NA|PROGRESS_END|",
			wantOK:   true,
			wantDown: 47368421,
			wantTot:  104857600,
			wantSpd:  1572864.5,
			wantETA:  35 * time.Second,
		},
		{
			name:     "estimated total",
			line:     "|PROGRESS|downloading|1024|NA|4096.0|512|NA|3|10|PROGRESS_END|",
			wantOK:   true,
			wantDown: 1024,
			wantTot:  4096,
			wantSpd:  512,
		},
		{
			name:     "unknown speed",
			line:     "|PROGRESS|downloading|10|100|NA|None|None|NA|NA|PROGRESS_END|",
			wantOK:   true,
			wantDown: 10,
			wantTot:  100,
		},
		{
			name: "missing end marker",
			line: "|PROGRESS|downloading|10|100|NA|1|1|NA|NA|",
		},
		{
			name: "too few fields",
			line: "|PROGRESS|downloading|10|100|PROGRESS_END|",
		},
		{
			name: "plain output",
			line: "[download] Destination: video.mp4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := parseProgressLine(tt.line)
			require.Equal(t, tt.wantOK, ok)

			if !ok {
				return
			}

			assert.Equal(t, tt.wantDown, p.Downloaded)
			assert.Equal(t, tt.wantTot, p.Total)
			assert.InDelta(t, tt.wantSpd, p.Speed, 0.01)
			assert.Equal(t, tt.wantETA, p.ETA)
		})
	}
}

func TestParseResolveOutput(t *testing.T) {
	info, ok := parseResolveOutput("[youtube] noise\nYoutube|dQw4w9WgXcQ|Never | Gonna\n")
	require.True(t, ok)

	assert.Equal(t, "youtube dQw4w9WgXcQ", info.ContentID)
	assert.Equal(t, "youtube", info.Extractor)
	assert.Equal(t, "dQw4w9WgXcQ", info.ID)
	assert.Equal(t, "Never | Gonna", info.Title)

	_, ok = parseResolveOutput("NA|NA|NA")
	assert.False(t, ok)

	_, ok = parseResolveOutput("")
	assert.False(t, ok)
}

func TestParseFilenameLine(t *testing.T) {
	name, ok := parseFilenameLine("|FILE|/downloads/video - [abc].mp4")
	require.True(t, ok)
	assert.Equal(t, "/downloads/video - [abc].mp4", name)

	_, ok = parseFilenameLine("[Merger] Merging formats")
	assert.False(t, ok)
}

func TestClassifyMessage(t *testing.T) {
	tests := []struct {
		msg     string
		kind    apperr.Kind
		subKind apperr.FetchKind
	}{
		{"[youtube] abc: Sign in to confirm your age", apperr.KindAuth, apperr.FetchDownload},
		{"[youtube] abc: Private video. Sign in if you've been granted access", apperr.KindAuth, apperr.FetchDownload},
		{"The uploader has not made this video available in your country (geo restriction)", apperr.KindFetch, apperr.FetchGeoRestricted},
		{"Unsupported URL: https://example.com", apperr.KindFetch, apperr.FetchUnsupported},
		{"[youtube] abc: Video unavailable", apperr.KindFetch, apperr.FetchUnavailable},
		{"Unable to download webpage: HTTP Error 503", apperr.KindNetwork, apperr.FetchDownload},
		{"Got HTTP Error 502 Bad Gateway", apperr.KindNetwork, apperr.FetchDownload},
		{"Read timed out", apperr.KindNetwork, apperr.FetchDownload},
		{"[generic] Unable to extract title", apperr.KindFetch, apperr.FetchExtraction},
		{"something odd", apperr.KindFetch, apperr.FetchDownload},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			kind, sub := classifyMessage(tt.msg)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.subKind, sub)
		})
	}
}

func TestClassifyFailure_FallsBackToExitError(t *testing.T) {
	err := classifyFailure("u", "", errors.New("boom"))

	assert.Equal(t, "boom", err.Message)
	assert.Equal(t, apperr.KindFetch, err.Kind)
	assert.ErrorContains(t, err, "fetch u: boom")
}

func TestOutputTail_ErrorLine(t *testing.T) {
	tail := newOutputTail(slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, _ = tail.Write([]byte("WARNING: slow\nERROR: [youtube] abc: Video unavailable\nlast li"))
	_, _ = tail.Write([]byte("ne\n"))

	assert.Equal(t, "[youtube] abc: Video unavailable", tail.errorLine())

	empty := newOutputTail(slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, _ = empty.Write([]byte("partial without newline"))
	assert.Equal(t, "partial without newline", empty.errorLine())
}

func TestByteCounter_AccumulatesStreams(t *testing.T) {
	var c byteCounter

	assert.Equal(t, int64(100), c.observe(100))
	assert.Equal(t, int64(200), c.observe(200))
	// audio stream starts from zero again
	assert.Equal(t, int64(250), c.observe(50))
	assert.Equal(t, int64(300), c.observe(100))
}
