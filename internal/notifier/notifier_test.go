package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/italolelis/auto_ytdlp/internal/events"
	"github.com/italolelis/auto_ytdlp/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (f *fakeNotifier) Notify(_ context.Context, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.msgs = append(f.msgs, msg)

	return f.err
}

func (f *fakeNotifier) messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]Message(nil), f.msgs...)
}

func TestDiscordNotifier_Notify(t *testing.T) {
	var got map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordNotifier(srv.URL)
	require.NoError(t, d.Notify(context.Background(), Message{Title: "Download completed", Body: "My video"}))

	assert.Equal(t, "**Download completed**\nMy video", got["content"])
}

func TestDiscordNotifier_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordNotifier(srv.URL).Notify(context.Background(), Message{Body: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")

	err = NewDiscordNotifier("").Notify(context.Background(), Message{Body: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook URL is not set")
}

func TestDiscordNotifier_RespectsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewDiscordNotifier(srv.URL).Notify(ctx, Message{Body: "x"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestMulti_JoinsErrors(t *testing.T) {
	ok := &fakeNotifier{}
	failing := &fakeNotifier{err: errors.New("boom")}

	err := Multi{failing, ok}.Notify(context.Background(), Message{Body: "hello"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	assert.Len(t, ok.messages(), 1)
	assert.Len(t, failing.messages(), 1)
}

func TestDesktopNotifier_Command(t *testing.T) {
	tests := []struct {
		name     string
		goos     string
		wantName string
		wantArgs []string
		wantErr  error
	}{
		{
			name:     "linux",
			goos:     "linux",
			wantName: "notify-send",
			wantArgs: []string{"--app-name=auto_ytdlp", "Done", `say "hi"`},
		},
		{
			name:     "darwin escapes quotes",
			goos:     "darwin",
			wantName: "osascript",
			wantArgs: []string{"-e", `display notification "say \"hi\"" with title "Done"`},
		},
		{
			name:    "windows unsupported",
			goos:    "windows",
			wantErr: ErrUnsupportedPlatform,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &DesktopNotifier{goos: tt.goos}

			name, args, err := d.command(Message{Title: "Done", Body: `say "hi"`})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestDesktopNotifier_Notify(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported on windows")
	}

	dir := t.TempDir()
	out := filepath.Join(dir, "args")
	script := "#!/bin/sh\nprintf '%s\\n' \"$@\" > " + out + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notify-send"), []byte(script), 0o755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))

	d := &DesktopNotifier{goos: "linux"}
	require.True(t, d.Available())
	require.NoError(t, d.Notify(context.Background(), Message{Title: "Download completed", Body: "My video"}))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, []string{"--app-name=auto_ytdlp", "Download completed", "My video"},
		strings.Split(strings.TrimSpace(string(data)), "\n"))
}

func TestWatch_NotifiesCompletedAndErrorOnly(t *testing.T) {
	ch := make(chan events.Event, 8)
	n := &fakeNotifier{}

	status := func(url, title string, s task.Status, detail string) events.Event {
		return events.Event{
			Kind: events.KindStatus,
			Task: task.Task{ID: url, URL: url, Title: title, Status: s, ErrorDetail: detail},
		}
	}

	ch <- status("https://e/1", "", task.StatusDownloading, "")
	ch <- status("https://e/1", "First", task.StatusCompleted, "")
	ch <- status("https://e/2", "", task.StatusError, "Network error: reset")
	ch <- status("https://e/3", "", task.StatusCancelled, "")
	ch <- status("https://e/4", "", task.StatusSkipped, "")
	ch <- events.Event{Kind: events.KindLog, Log: events.LogLine{Message: "hello"}}
	close(ch)

	Watch(context.Background(), ch, n, WatchOptions{OnCompletion: true, OnError: true})

	assert.Equal(t, []Message{
		{Title: "Download completed", Body: "First"},
		{Title: "Download failed", Body: "https://e/2: Network error: reset"},
	}, n.messages())
}

func TestWatch_RespectsOptions(t *testing.T) {
	ch := make(chan events.Event, 2)
	n := &fakeNotifier{}

	ch <- events.Event{Kind: events.KindStatus, Task: task.Task{URL: "https://e/1", Status: task.StatusCompleted}}
	ch <- events.Event{Kind: events.KindStatus, Task: task.Task{URL: "https://e/2", Status: task.StatusError, ErrorDetail: "x"}}
	close(ch)

	Watch(context.Background(), ch, n, WatchOptions{OnError: true})

	msgs := n.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Download failed", msgs[0].Title)
}

func TestWatch_StopsOnContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		Watch(ctx, make(chan events.Event), &fakeNotifier{}, WatchOptions{})
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancellation")
	}
}
