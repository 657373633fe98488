package ytdlp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/italolelis/auto_ytdlp/internal/apperr"
	"github.com/italolelis/auto_ytdlp/internal/fetch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBinary writes an executable shell script standing in for yt-dlp.
func fakeBinary(t *testing.T, body string) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("shell script fakes are not supported on windows")
	}

	path := filepath.Join(t.TempDir(), "yt-dlp")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))

	return path
}

func TestFetcher_Resolve(t *testing.T) {
	bin := fakeBinary(t, `echo "Youtube|abc123|My Title"`)

	info, err := New(bin).Resolve(context.Background(), "https://youtu.be/abc123", fetch.Options{})
	require.NoError(t, err)

	assert.Equal(t, "youtube abc123", info.ContentID)
	assert.Equal(t, "My Title", info.Title)
}

func TestFetcher_Resolve_ClassifiesStderr(t *testing.T) {
	bin := fakeBinary(t, `echo "ERROR: [youtube] abc123: Video unavailable" >&2; exit 1`)

	_, err := New(bin).Resolve(context.Background(), "https://youtu.be/abc123", fetch.Options{})
	require.Error(t, err)

	var fetchErr *fetch.Error
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, apperr.KindFetch, fetchErr.Kind)
	assert.Equal(t, apperr.FetchUnavailable, fetchErr.FetchKind)
	assert.Equal(t, "[youtube] abc123: Video unavailable", fetchErr.Message)
}

func TestFetcher_Resolve_UnparsableOutput(t *testing.T) {
	bin := fakeBinary(t, `echo "garbage"`)

	_, err := New(bin).Resolve(context.Background(), "https://example.com", fetch.Options{})

	assert.Equal(t, apperr.KindParse, apperr.Classify(err))
}

func TestFetcher_Fetch_ReportsProgress(t *testing.T) {
	bin := fakeBinary(t, `
echo "[youtube] abc: Downloading webpage"
echo "|PROGRESS|downloading|1024|4096|NA|512.0|6|NA|NA|PROGRESS_END|"
echo "|PROGRESS|downloading|4096|4096|NA|1024.0|0|NA|NA|PROGRESS_END|"
echo "|FILE|/downloads/My Title - [abc].mp4"`)

	var (
		reports []fetch.Progress
		started atomic.Bool
	)

	res, err := New(bin).Fetch(context.Background(), fetch.Request{
		URL: "https://youtu.be/abc",
		OnProgress: func(p fetch.Progress) error {
			reports = append(reports, p)

			return nil
		},
		OnStart: func(p fetch.Process) {
			started.Store(p.Pid() > 0)
		},
	})
	require.NoError(t, err)

	assert.True(t, started.Load())
	require.Len(t, reports, 2)
	assert.Equal(t, int64(1024), reports[0].Downloaded)
	assert.InDelta(t, 25.0, reports[0].Percent(), 0.01)
	assert.InDelta(t, 1024.0, reports[1].Speed, 0.01)
	assert.Equal(t, int64(4096), res.Bytes)
	assert.Equal(t, "/downloads/My Title - [abc].mp4", res.Filename)
}

func TestFetcher_Fetch_NetworkFailure(t *testing.T) {
	bin := fakeBinary(t, `echo "ERROR: Unable to download webpage: HTTP Error 503" >&2; exit 1`)

	_, err := New(bin).Fetch(context.Background(), fetch.Request{URL: "https://youtu.be/abc"})
	require.Error(t, err)

	assert.Equal(t, apperr.KindNetwork, apperr.Classify(err))
	assert.True(t, apperr.Retryable(apperr.Classify(err)))
}

func TestFetcher_Fetch_CallbackCancellationKillsProcess(t *testing.T) {
	bin := fakeBinary(t, `
echo "|PROGRESS|downloading|1|100|NA|1.0|99|NA|NA|PROGRESS_END|"
sleep 30
echo "|PROGRESS|downloading|100|100|NA|1.0|0|NA|NA|PROGRESS_END|"`)

	start := time.Now()

	_, err := New(bin).Fetch(context.Background(), fetch.Request{
		URL: "https://youtu.be/abc",
		OnProgress: func(fetch.Progress) error {
			return fetch.ErrCancelled
		},
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, fetch.ErrCancelled))
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestFetcher_Fetch_ContextCancellation(t *testing.T) {
	bin := fakeBinary(t, `sleep 30`)

	ctx, cancel := context.WithCancel(context.Background())

	var proc fetch.Process

	done := make(chan error, 1)

	go func() {
		_, err := New(bin).Fetch(ctx, fetch.Request{
			URL:     "https://youtu.be/abc",
			OnStart: func(p fetch.Process) { proc = p },
		})
		done <- err
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotNil(t, proc)
	case <-time.After(10 * time.Second):
		t.Fatal("fetch did not return after cancellation")
	}
}

func TestFetcher_Available(t *testing.T) {
	assert.Error(t, New("definitely-not-a-real-binary-auto-ytdlp").Available())

	bin := fakeBinary(t, `echo 2025.01.01`)
	require.NoError(t, New(bin).Available())

	v, err := New(bin).Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2025.01.01", v)
}

func TestFetchArgs(t *testing.T) {
	args := fetchArgs("https://youtu.be/abc", fetch.Options{
		OutputTemplate: "%(title)s.%(ext)s",
		DownloadDir:    "/dl",
		Format:         "best",
		RateLimit:      "5M",
		ArchiveFile:    "archive.txt",
		ExtraArgs:      []string{"--embed-subs"},
	})

	assert.Subset(t, args, []string{"-f", "best", "-o", "%(title)s.%(ext)s", "-P", "/dl", "--limit-rate", "5M", "--download-archive", "archive.txt", "--embed-subs"})
	assert.Equal(t, []string{"--", "https://youtu.be/abc"}, args[len(args)-2:])

	bare := fetchArgs("u", fetch.Options{})
	assert.NotContains(t, bare, "--limit-rate")
	assert.NotContains(t, bare, "--download-archive")
}
